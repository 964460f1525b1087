// Package tui provides the terminal user interface for watching a run.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pentra-dev/pentra/internal/workflow"
	"github.com/pentra-dev/pentra/pkg/models"
)

// Status icons for phase states.
const (
	iconDone    = "[✓]"
	iconRunning = "[●]"
	iconPending = "[ ]"
	iconBlocked = "[-]"
	iconFailed  = "[✗]"
)

// EventMsg wraps a workflow event for the TUI.
type EventMsg struct {
	Event workflow.Event
}

// RunDoneMsg signals that the run loop has returned.
type RunDoneMsg struct {
	Err error
}

// LogEntry is one line in the event log panel.
type LogEntry struct {
	Timestamp time.Time
	Message   string
}

// phaseState tracks the display state of one phase.
type phaseState int

const (
	phasePending phaseState = iota
	phaseRunning
	phaseDone
	phaseBlocked
	phaseFailed
)

// App is the main bubbletea model for watching a run.
type App struct {
	workspace  string
	runID      string
	controller *workflow.Controller
	events     <-chan workflow.Event

	phases   []models.Phase
	states   map[models.Phase]phaseState
	status   string
	waiting  string
	logs     []LogEntry
	spin     spinner.Model
	width    int
	done     bool
	quitting bool

	titleStyle   lipgloss.Style
	doneStyle    lipgloss.Style
	runningStyle lipgloss.Style
	pendingStyle lipgloss.Style
	failedStyle  lipgloss.Style
	warnStyle    lipgloss.Style
	hintStyle    lipgloss.Style
}

// New creates an App watching the given run.
func New(workspace, runID string, phases []models.Phase, controller *workflow.Controller, events <-chan workflow.Event) *App {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	states := make(map[models.Phase]phaseState, len(phases))
	for _, p := range phases {
		states[p] = phasePending
	}

	return &App{
		workspace:  workspace,
		runID:      runID,
		controller: controller,
		events:     events,
		phases:     phases,
		states:     states,
		status:     "starting",
		spin:       sp,
		width:      80,

		titleStyle:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")),
		doneStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("28")),
		runningStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("34")),
		pendingStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		failedStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		warnStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		hintStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	}
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.spin.Tick, a.waitForEvent())
}

// waitForEvent reads the next workflow event.
func (a *App) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		event, ok := <-a.events
		if !ok {
			return RunDoneMsg{}
		}
		return EventMsg{Event: event}
	}
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			a.quitting = true
			if !a.done {
				a.controller.Cancel()
			}
			return a, tea.Quit
		case "p":
			if !a.done {
				a.controller.Pause()
			}
		case "r":
			if !a.done {
				a.controller.Resume()
			}
		case "c":
			if !a.done {
				a.controller.Cancel()
			}
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width

	case EventMsg:
		a.handleEvent(msg.Event)
		return a, a.waitForEvent()

	case RunDoneMsg:
		a.done = true
		return a, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spin, cmd = a.spin.Update(msg)
		return a, cmd
	}

	return a, nil
}

// handleEvent folds a workflow event into the display state.
func (a *App) handleEvent(event workflow.Event) {
	switch event.Type {
	case workflow.EventRunStarted:
		a.status = "running"
	case workflow.EventPhaseStarted:
		a.states[event.Phase] = phaseRunning
		a.status = "running"
	case workflow.EventPhaseCompleted:
		a.states[event.Phase] = phaseDone
	case workflow.EventPhaseBlocked:
		a.states[event.Phase] = phaseBlocked
	case workflow.EventPhaseInvalidated:
		a.states[event.Phase] = phasePending
	case workflow.EventRunPaused:
		a.status = "paused"
	case workflow.EventRunResumed:
		a.status = "running"
	case workflow.EventWaitingConfig:
		a.status = "waiting for config"
		a.waiting = event.Message
	case workflow.EventConfigUpdated:
		a.status = "running"
		a.waiting = ""
	case workflow.EventRunCompleted:
		a.status = "completed"
		a.done = true
	case workflow.EventRunCanceled:
		a.status = "canceled"
		a.done = true
	case workflow.EventRunFailed:
		if event.Phase != "" {
			a.states[event.Phase] = phaseFailed
		}
		a.status = "failed"
		a.done = true
	}

	a.appendLog(event)
}

func (a *App) appendLog(event workflow.Event) {
	message := string(event.Type)
	if event.Phase != "" {
		message += " " + string(event.Phase)
	}
	if event.Message != "" {
		message += ": " + event.Message
	}
	a.logs = append(a.logs, LogEntry{Timestamp: event.Timestamp, Message: message})
	if len(a.logs) > 200 {
		a.logs = a.logs[len(a.logs)-200:]
	}
}

// View implements tea.Model.
func (a *App) View() string {
	if a.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(a.titleStyle.Render(fmt.Sprintf("pentra %s/%s", a.workspace, a.runID)))
	b.WriteString("  ")
	b.WriteString(a.renderStatus())
	b.WriteString("\n\n")

	for _, p := range a.phases {
		b.WriteString("  ")
		b.WriteString(a.renderPhase(p))
		b.WriteString("\n")
	}

	if a.waiting != "" {
		b.WriteString("\n")
		b.WriteString(a.warnStyle.Render("  " + a.waiting))
		b.WriteString("\n")
		b.WriteString(a.hintStyle.Render("  fix the configuration, then: pentra update-config <path>"))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	for _, entry := range a.tailLogs(5) {
		b.WriteString(a.hintStyle.Render(fmt.Sprintf("  %s %s", entry.Timestamp.Format("15:04:05"), entry.Message)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(a.hintStyle.Render("  p pause · r resume · c cancel · q quit"))
	b.WriteString("\n")
	return b.String()
}

func (a *App) renderStatus() string {
	switch a.status {
	case "completed":
		return a.doneStyle.Render(a.status)
	case "failed", "canceled":
		return a.failedStyle.Render(a.status)
	case "paused", "waiting for config":
		return a.warnStyle.Render(a.status)
	default:
		return a.runningStyle.Render(a.spin.View() + a.status)
	}
}

func (a *App) renderPhase(p models.Phase) string {
	switch a.states[p] {
	case phaseDone:
		return a.doneStyle.Render(iconDone + " " + string(p))
	case phaseRunning:
		return a.runningStyle.Render(iconRunning + " " + string(p))
	case phaseBlocked:
		return a.warnStyle.Render(iconBlocked + " " + string(p) + " (blocked by rule)")
	case phaseFailed:
		return a.failedStyle.Render(iconFailed + " " + string(p))
	default:
		return a.pendingStyle.Render(iconPending + " " + string(p))
	}
}

func (a *App) tailLogs(n int) []LogEntry {
	if len(a.logs) <= n {
		return a.logs
	}
	return a.logs[len(a.logs)-n:]
}
