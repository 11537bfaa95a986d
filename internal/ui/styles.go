package ui

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	Primary    = lipgloss.Color("#22d3ee") // Cyan accent
	Secondary  = lipgloss.Color("#7C3AED") // Violet
	Success    = lipgloss.Color("#10B981") // Emerald
	Warning    = lipgloss.Color("#F59E0B") // Amber
	Error      = lipgloss.Color("#EF4444") // Red
	Muted      = lipgloss.Color("#6B7280") // Gray
	Foreground = lipgloss.Color("#F9FAFB") // Light gray
	Background = lipgloss.Color("#111827") // Dark gray
	Panel      = lipgloss.Color("#1F2937")

	// Ring countdown gradient, drained as the missed-call timer runs out.
	RingStart = "#22d3ee"
	RingEnd   = "#EF4444"
)

// Text styles
var (
	SuccessStyle = lipgloss.NewStyle().
			Foreground(Success).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(Warning)

	MutedStyle = lipgloss.NewStyle().
			Foreground(Muted)

	BoldStyle = lipgloss.NewStyle().
			Bold(true)

	SpinnerStyle = lipgloss.NewStyle().Foreground(Primary)
)

// Participant box shown while listening.
var SuccessBoxStyle = lipgloss.NewStyle().
	Border(lipgloss.DoubleBorder()).
	BorderForeground(Success).
	Padding(1, 2)

// Summary table styles
var (
	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(Primary).
				Align(lipgloss.Center)

	tableCellStyle = lipgloss.NewStyle().Padding(0, 1)

	TableRowStyle = tableCellStyle.Foreground(lipgloss.Color("255"))

	TableRowAltStyle = tableCellStyle.Foreground(lipgloss.Color("245"))
)

// Call view styles
var (
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Primary).
			Background(Panel).
			Padding(0, 2).
			MarginBottom(1)

	PeerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Primary)

	RingLabelStyle = lipgloss.NewStyle().
			Foreground(Muted).
			Width(6).
			Align(lipgloss.Right)

	// Flag pills for mic, camera, speaker and screen share.
	ToggleOnStyle = lipgloss.NewStyle().
			Foreground(Background).
			Background(Success).
			Padding(0, 1)

	ToggleOffStyle = lipgloss.NewStyle().
			Foreground(Foreground).
			Background(Muted).
			Padding(0, 1)

	ChatFromStyle = lipgloss.NewStyle().
			Foreground(Secondary).
			Bold(true)

	ChatSelfStyle = lipgloss.NewStyle().
			Foreground(Success).
			Bold(true)

	KeyStyle = lipgloss.NewStyle().
			Foreground(Primary).
			Bold(true)

	FooterStyle = lipgloss.NewStyle().
			Foreground(Muted).
			MarginTop(1)
)

const (
	IconCall      = "📞"
	IconIncoming  = "📲"
	IconOutgoing  = "📤"
	IconMissed    = "📵"
	IconHangUp    = "🔚"
	IconMic       = "🎙️"
	IconMuted     = "🔇"
	IconVideo     = "📹"
	IconVideoOff  = "🚫"
	IconScreen    = "🖥️"
	IconSpeaker   = "🔊"
	IconChat      = "💬"
	IconReconnect = "🔄"
	IconCopy      = "📋"
	IconWeb       = "🌐"
	IconSuccess   = "✅"
	IconError     = "❌"
	IconWarning   = "⚠️"
	IconInfo      = "ℹ️"
)

// Errors and warnings go to stderr so piped output such as
// "warpcall token" stays clean.

func PrintError(msg string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", ErrorStyle.Render(IconError), ErrorStyle.Render(msg))
}

func PrintWarning(msg string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", WarningStyle.Render(IconWarning), WarningStyle.Render(msg))
}

func PrintWarningf(format string, args ...any) {
	PrintWarning(fmt.Sprintf(format, args...))
}

func PrintSuccess(msg string) {
	fmt.Printf("%s %s\n", SuccessStyle.Render(IconSuccess), msg)
}

func PrintInfo(msg string) {
	fmt.Printf("%s %s\n", IconInfo, msg)
}

func PrintInfof(format string, args ...any) {
	PrintInfo(fmt.Sprintf(format, args...))
}
