package ui

import (
	"fmt"

	"github.com/BioHazard786/Warpcall/internal/call"
	"github.com/BioHazard786/Warpcall/internal/utils"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

func summaryTable(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		}).
		Render()
}

// CallSummaryView renders the outcome of a finished call.
func CallSummaryView(c call.Call) string {
	status := string(c.EndReason)
	if c.State == call.StateFailed {
		status = "failed"
	}
	rows := [][]string{
		{"Peer", c.RemoteParticipantID},
		{"Direction", string(c.Direction)},
		{"Kind", string(c.Kind)},
		{"Outcome", status},
		{"Duration", utils.FormatCallDuration(c.Duration())},
	}
	if c.Err != nil {
		rows = append(rows, []string{"Error", utils.TruncateString(call.UserMessage(c.Err), 48)})
	}
	return summaryTable([]string{"Call", "Value"}, rows)
}

func RenderCallSummary(c call.Call) {
	fmt.Println(CallSummaryView(c))
}

// ParticipantInfo shows the id other people dial to reach this client.
type ParticipantInfo struct {
	ID     string
	Server string
}

func (p ParticipantInfo) View() string {
	content := fmt.Sprintf("%s Ready for calls\n\n%s Your ID:  %s\n%s Relay:    %s",
		IconSuccess,
		IconCopy, BoldStyle.Foreground(Primary).Render(p.ID),
		IconWeb, MutedStyle.Render(p.Server),
	)
	return SuccessBoxStyle.Render(content)
}

func RenderParticipantInfo(id, server string) {
	fmt.Println(ParticipantInfo{ID: id, Server: server}.View())
}
