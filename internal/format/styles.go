package format

import "github.com/charmbracelet/lipgloss"

var (
	colorRed    = lipgloss.Color("#FF5555")
	colorYellow = lipgloss.Color("#F1FA8C")
	colorGreen  = lipgloss.Color("#50FA7B")
	colorCyan   = lipgloss.Color("#8BE9FD")
	colorGray   = lipgloss.Color("#6272A4")

	dirStyle    = lipgloss.NewStyle().Foreground(colorCyan)
	branchStyle = lipgloss.NewStyle().Foreground(colorGreen)
	dimStyle    = lipgloss.NewStyle().Foreground(colorGray)
	warnStyle   = lipgloss.NewStyle().Foreground(colorYellow).Bold(true)
	critStyle   = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
)

// contextStyle colors the context block by how close the session is to
// the compaction threshold.
func contextStyle(percentUsed int) lipgloss.Style {
	switch {
	case percentUsed >= 90:
		return critStyle
	case percentUsed >= 70:
		return warnStyle
	default:
		return dimStyle
	}
}
