package main

import "github.com/charmbracelet/lipgloss"

// Color palette, grounded on pithecene-io-quarry/quarry/cli/tui's styles.go.
var (
	primaryColor   = lipgloss.Color("#7C3AED")
	successColor   = lipgloss.Color("#10B981")
	warningColor   = lipgloss.Color("#F59E0B")
	errorColor     = lipgloss.Color("#EF4444")
	mutedColor     = lipgloss.Color("#6B7280")
	highlightColor = lipgloss.Color("#3B82F6")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(16)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(1, 2)

	logLineStyle = lipgloss.NewStyle().Foreground(mutedColor)

	errBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(errorColor).
			Padding(1, 2)
)

// frameStyle colors a call frame line by its State.
func frameStyle(state string) lipgloss.Style {
	switch state {
	case "active":
		return lipgloss.NewStyle().Foreground(successColor)
	case "crashed":
		return lipgloss.NewStyle().Foreground(errorColor)
	case "cleanedUp":
		return lipgloss.NewStyle().Foreground(mutedColor)
	default:
		return valueStyle
	}
}

// statusStyle colors an operation's overall Status.
func statusStyle(status string) lipgloss.Style {
	switch status {
	case "running":
		return lipgloss.NewStyle().Bold(true).Foreground(successColor)
	case "cleanup":
		return lipgloss.NewStyle().Bold(true).Foreground(warningColor)
	case "failed":
		return lipgloss.NewStyle().Bold(true).Foreground(errorColor)
	case "completed":
		return lipgloss.NewStyle().Bold(true).Foreground(highlightColor)
	default:
		return valueStyle
	}
}

// stalenessStyle colors a participant's lastSeen label by how long ago it was.
func stalenessStyle(stale bool) lipgloss.Style {
	if stale {
		return lipgloss.NewStyle().Foreground(warningColor)
	}
	return lipgloss.NewStyle().Foreground(successColor)
}
