package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/BioHazard786/Warpcall/internal/call"
	"github.com/BioHazard786/Warpcall/internal/history"
	"github.com/BioHazard786/Warpcall/internal/utils"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// HistoryTable renders call records, newest first, with missed calls in red.
func HistoryTable(records []history.Record, now time.Time) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Color.Header = text.Colors{text.FgCyan, text.Bold}
	t.AppendHeader(table.Row{"#", "When", "", "Peer", "Kind", "Outcome", "Duration"})

	for i, r := range records {
		row := table.Row{
			i + 1,
			utils.FormatWhen(r.StartedAt, now),
			directionIcon(r),
			utils.TruncateString(r.Peer, 32),
			string(r.Kind),
			outcome(r),
			duration(r),
		}
		t.AppendRow(row)
	}

	t.SetRowPainter(table.RowPainter(func(row table.Row) text.Colors {
		if len(row) > 5 && row[5] == string(call.ReasonMissed) {
			return text.Colors{text.FgRed}
		}
		return nil
	}))
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
	})

	if len(records) == 0 {
		return MutedStyle.Render("No calls yet")
	}
	return t.Render()
}

func RenderHistory(w io.Writer, records []history.Record) {
	fmt.Fprintln(w, HistoryTable(records, time.Now()))
}

func directionIcon(r history.Record) string {
	switch {
	case r.Missed():
		return IconMissed
	case r.Direction == call.Incoming:
		return IconIncoming
	default:
		return IconOutgoing
	}
}

func outcome(r history.Record) string {
	if r.State == call.StateFailed {
		return "failed"
	}
	if r.Missed() {
		return string(call.ReasonMissed)
	}
	if r.Reason == "" {
		return "ended"
	}
	return string(r.Reason)
}

func duration(r history.Record) string {
	if r.ConnectedAt == nil {
		return "-"
	}
	return utils.FormatCallDuration(r.Duration())
}
