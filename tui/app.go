// ABOUTME: Bubble Tea run monitor: live per-node status for one workflow run.
// ABOUTME: Implements tea.Model (Init, Update, View) over the engine's status event stream.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389-research/loom/weft"
)

const logTail = 12

// Model is the Bubble Tea model for watching one run. It renders a status
// line per node plus a tail of recent events; quitting before the run ends
// cancels it.
type Model struct {
	run         *weft.Run
	events      <-chan weft.StatusChange
	unsubscribe func()

	states map[string]weft.ExecutionState
	errs   map[string]string
	order  []string
	log    []string

	spin   spinner.Model
	done   bool
	result *weft.RunResult
	err    error
	width  int
}

// NewModel creates a run monitor for an already-started run.
func NewModel(run *weft.Run) Model {
	events, unsubscribe := run.Events(256)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = ExecutingStyle

	states := make(map[string]weft.ExecutionState)
	for _, id := range run.Graph.NodeIDs() {
		states[id] = weft.StateIdle
	}

	return Model{
		run:         run,
		events:      events,
		unsubscribe: unsubscribe,
		states:      states,
		errs:        make(map[string]string),
		order:       run.Graph.NodeIDs(),
		spin:        sp,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spin.Tick,
		WaitForEventCmd(m.events),
		WaitForDoneCmd(m.run),
	)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case StatusChangeMsg:
		m.applyEvent(msg.Event)
		return m, WaitForEventCmd(m.events)

	case RunDoneMsg:
		m.done = true
		m.result = msg.Result
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if !m.done {
				m.run.Cancel()
				return m, nil
			}
			return m, tea.Quit
		}
	}

	return m, nil
}

func (m *Model) applyEvent(ev weft.StatusChange) {
	m.states[ev.NodeID] = ev.State

	line := fmt.Sprintf("%s %s -> %s",
		LogTimestampStyle.Render(ev.At.Format("15:04:05")),
		ev.NodeID, ev.State)
	if ev.Reason != "" {
		line += " (" + ev.Reason + ")"
	}
	if ev.Err != "" {
		m.errs[ev.NodeID] = ev.Err
		line += " " + LogErrorStyle.Render(ev.Err)
	}
	m.log = append(m.log, line)
	if len(m.log) > logTail {
		m.log = m.log[len(m.log)-logTail:]
	}
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	name := m.run.Graph.Name
	if name == "" {
		name = m.run.ID
	}
	b.WriteString(TitleStyle.Render("loom run: "+name) + "\n\n")

	for _, id := range m.order {
		state := m.states[id]
		marker := IconForState(state)
		if state == weft.StateExecuting {
			marker = "[" + m.spin.View() + "]"
		}
		line := fmt.Sprintf("%s %-24s %s", marker, id, state)
		if errMsg, failed := m.errs[id]; failed && state == weft.StateFailed {
			line += "  " + LogErrorStyle.Render(errMsg)
		}
		b.WriteString(StyleForState(state).Render(line) + "\n")
	}

	if len(m.log) > 0 {
		b.WriteString("\n")
		for _, line := range m.log {
			b.WriteString(line + "\n")
		}
	}

	b.WriteString("\n" + m.statusBar())
	return b.String()
}

func (m Model) statusBar() string {
	if m.done {
		outcome := "unknown"
		if m.result != nil {
			outcome = string(m.result.Outcome)
		}
		return StatusBarStyle.Render(fmt.Sprintf("done: %s -- press q to exit", outcome))
	}
	completed := 0
	for _, state := range m.states {
		if state.Terminal() {
			completed++
		}
	}
	return StatusBarStyle.Render(fmt.Sprintf("%d/%d nodes settled -- q to cancel", completed, len(m.states)))
}
