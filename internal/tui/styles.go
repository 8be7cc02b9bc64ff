package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	ColorNeonPink   = lipgloss.Color("#ff79c6")
	ColorNeonPurple = lipgloss.Color("#bd93f9")
	ColorNeonCyan   = lipgloss.Color("#8be9fd")
	ColorGray       = lipgloss.Color("#44475a")
	ColorLightGray  = lipgloss.Color("#6272a4")
	ColorText       = lipgloss.Color("#f8f8f2")

	// Download states
	ColorStateDownloading = lipgloss.Color("#50fa7b")
	ColorStateQueued      = lipgloss.Color("#ffb86c")
	ColorStateDone        = lipgloss.Color("#bd93f9")
	ColorStateError       = lipgloss.Color("#ff5555")

	LogoStyle = lipgloss.NewStyle().
			Foreground(ColorNeonPurple).
			Bold(true)

	TabStyle = lipgloss.NewStyle().
			Foreground(ColorLightGray).
			Padding(0, 1)

	ActiveTabStyle = lipgloss.NewStyle().
			Foreground(ColorNeonPink).
			Bold(true).
			Underline(true).
			Padding(0, 1)

	ItemStyle = lipgloss.NewStyle().
			Foreground(ColorText)

	SelectedItemStyle = lipgloss.NewStyle().
				Foreground(ColorNeonPink).
				Bold(true)

	StatsLabelStyle = lipgloss.NewStyle().
			Foreground(ColorLightGray).
			Width(12)

	StatsValueStyle = lipgloss.NewStyle().
			Foreground(ColorText)

	NotificationStyle = lipgloss.NewStyle().
				Foreground(ColorNeonCyan).
				Bold(true)

	ErrorTextStyle = lipgloss.NewStyle().
			Foreground(ColorStateError)
)
