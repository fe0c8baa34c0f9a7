package tui

import "github.com/charmbracelet/lipgloss"

var (
	ColorFgPrimary = lipgloss.Color("#ABB2BF")
	ColorFgMuted   = lipgloss.Color("#636B78")
	ColorRed       = lipgloss.Color("#E06C75")
	ColorGreen     = lipgloss.Color("#98C379")
	ColorYellow    = lipgloss.Color("#E5C07B")
	ColorBlue      = lipgloss.Color("#61AFEF")
	ColorMagenta   = lipgloss.Color("#C678DD")
	ColorBorder    = lipgloss.Color("#3F4451")
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Foreground(ColorMagenta).
			Bold(true)

	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 2)

	LabelStyle = lipgloss.NewStyle().
			Foreground(ColorFgMuted).
			Width(12)

	ValueStyle = lipgloss.NewStyle().
			Foreground(ColorFgPrimary)

	ActiveStyle = lipgloss.NewStyle().
			Foreground(ColorGreen).
			Bold(true)

	IdleStyle = lipgloss.NewStyle().
			Foreground(ColorYellow).
			Bold(true)

	CountdownStyle = lipgloss.NewStyle().
			Foreground(ColorRed)

	NoticeStyle = lipgloss.NewStyle().
			Foreground(ColorBlue)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorRed).
			Bold(true)

	HelpStyle = lipgloss.NewStyle().
			Foreground(ColorFgMuted)
)
