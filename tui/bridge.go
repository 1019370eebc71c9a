// ABOUTME: Bridge connecting a weft run's event stream to the Bubble Tea message loop.
// ABOUTME: Provides tea.Cmd factories for event subscription and run completion.
package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389-research/loom/weft"
)

// StatusChangeMsg wraps one engine status event for the TUI.
type StatusChangeMsg struct {
	Event weft.StatusChange
}

// RunDoneMsg signals that the run settled, carrying the final result.
type RunDoneMsg struct {
	Result *weft.RunResult
	Err    error
}

// WaitForEventCmd blocks on the run's event channel and delivers the next
// status change. The channel closes when the run is over, at which point the
// command chain ends with a RunDoneMsg from WaitForDoneCmd.
func WaitForEventCmd(events <-chan weft.StatusChange) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return StatusChangeMsg{Event: ev}
	}
}

// WaitForDoneCmd blocks until the run settles and reports the result.
func WaitForDoneCmd(run *weft.Run) tea.Cmd {
	return func() tea.Msg {
		result, err := run.Wait()
		return RunDoneMsg{Result: result, Err: err}
	}
}
