package tui

import "github.com/charmbracelet/lipgloss"

// Styles contains all lipgloss styles for the watch view.
type Styles struct {
	Title  lipgloss.Style
	Timer  lipgloss.Style
	Target lipgloss.Style

	RunActive  lipgloss.Style
	RunSettled lipgloss.Style
	RunFailed  lipgloss.Style

	Counter lipgloss.Style
	Footer  lipgloss.Style
}

// DefaultStyles returns the default watch view styles.
func DefaultStyles() Styles {
	return Styles{
		Title:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		Timer:  lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		Target: lipgloss.NewStyle().Foreground(lipgloss.Color("250")),

		RunActive:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		RunSettled: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		RunFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),

		Counter: lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		Footer:  lipgloss.NewStyle().Foreground(lipgloss.Color("245")).MarginTop(1),
	}
}

// Icons used in the watch view.
const (
	IconActive  = "●"
	IconSettled = "✓"
	IconFailed  = "✗"
)
