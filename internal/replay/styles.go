// Package replay renders recorded execution trajectories for the terminal.
package replay

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color scheme - each record kind has a distinct, consistent color.
var (
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")) // Gray - timestamps, metadata

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")) // White - values

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")) // White bold - headers

	thinkingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")) // White

	toolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")) // Blue

	reflectStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("13")) // Magenta

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")) // Green

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")) // Red

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")) // Yellow

	seqStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")).
			Width(5).
			Align(lipgloss.Right)

	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	divider = lipgloss.NewStyle().
		Foreground(lipgloss.Color("8")).
		Render(strings.Repeat("━", 60))
)
