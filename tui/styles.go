// ABOUTME: Defines lipgloss style constants for the run monitor panels and status colors.
// ABOUTME: Provides StyleForState and IconForState to map execution states to display styles.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/2389-research/loom/weft"
)

var (
	// Title styling
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170"))

	// Status colors
	IdleStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	ReadyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	ExecutingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	CompletedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	FailedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	SkippedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	// Event log colors
	LogTimestampStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	LogErrorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	// Status bar
	StatusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)
)

// StyleForState returns the appropriate lipgloss style for an execution state.
func StyleForState(state weft.ExecutionState) lipgloss.Style {
	switch state {
	case weft.StateReady:
		return ReadyStyle
	case weft.StateExecuting:
		return ExecutingStyle
	case weft.StateCompleted:
		return CompletedStyle
	case weft.StateFailed:
		return FailedStyle
	case weft.StateSkipped:
		return SkippedStyle
	default:
		return IdleStyle
	}
}

// IconForState returns a bracket-style status marker for display.
func IconForState(state weft.ExecutionState) string {
	switch state {
	case weft.StateReady:
		return "[.]"
	case weft.StateExecuting:
		return "[~]"
	case weft.StateCompleted:
		return "[*]"
	case weft.StateFailed:
		return "[!]"
	case weft.StateSkipped:
		return "[-]"
	default:
		return "[ ]"
	}
}
