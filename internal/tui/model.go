// Package tui renders a live board of scheduled tasks fed by the event bus.
package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Antony-Jia/butler/internal/events"
	"github.com/Antony-Jia/butler/internal/scheduler"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneTasks PaneID = iota
	PaneProgress
	paneCount
)

// Canceller withdraws queued tasks. Implemented by *scheduler.Scheduler.
type Canceller interface {
	Cancel(ctx context.Context, taskID string) error
}

// cancelResultMsg reports the outcome of a cancel request.
type cancelResultMsg struct {
	taskID string
	err    error
}

// Model is the root Bubble Tea model for the board.
type Model struct {
	taskPane     TaskPaneModel
	progressPane ProgressPaneModel
	focusedPane  PaneID
	eventSub     <-chan events.Event
	canceller    Canceller
	status       string
	width        int
	height       int
	quitting     bool
}

// New creates a board subscribed to every topic of eventBus. initial seeds
// the task list before the first event arrives; canceller may be nil.
func New(eventBus *events.EventBus, initial []scheduler.Task, canceller Canceller) Model {
	m := Model{
		taskPane:     NewTaskPaneModel(),
		progressPane: NewProgressPaneModel(),
		focusedPane:  PaneTasks,
		eventSub:     eventBus.SubscribeAll(256),
		canceller:    canceller,
	}
	if len(initial) > 0 {
		m.taskPane, _ = m.taskPane.Update(events.TasksChangedEvent{Tasks: initial})
	}
	m.updateFocusStates()
	return m
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

// waitForEvent returns a command that waits for the next event from the event bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case KeyTab:
			m.focusedPane = (m.focusedPane + 1) % paneCount
			m.updateFocusStates()

		case KeyShiftTab:
			m.focusedPane = (m.focusedPane + paneCount - 1) % paneCount
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneTasks
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneProgress
			m.updateFocusStates()

		case KeyCancel:
			if cmd := m.cancelSelected(); cmd != nil {
				cmds = append(cmds, cmd)
			}

		default:
			if m.focusedPane == PaneTasks {
				var cmd tea.Cmd
				m.taskPane, cmd = m.taskPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()

	case cancelResultMsg:
		if msg.err != nil {
			m.status = StyleStatusFailed.Render(fmt.Sprintf("cancel failed: %v", msg.err))
		} else {
			m.status = fmt.Sprintf("cancelled %s", shortID(msg.taskID))
		}

	case events.TasksChangedEvent:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.GraphProgressEvent, events.TaskStartedEvent, events.TaskSettledEvent,
		events.BatchAcceptedEvent, events.BatchRejectedEvent:
		var cmd tea.Cmd
		m.progressPane, cmd = m.progressPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))
	}

	return m, tea.Batch(cmds...)
}

// cancelSelected asks the scheduler to withdraw the selected queued task.
func (m *Model) cancelSelected() tea.Cmd {
	task, ok := m.taskPane.SelectedTask()
	if !ok || m.canceller == nil {
		return nil
	}
	if task.Status != scheduler.TaskQueued {
		m.status = fmt.Sprintf("%s is %s, only queued tasks can be cancelled", shortID(task.ID), task.Status)
		return nil
	}

	canceller := m.canceller
	return func() tea.Msg {
		return cancelResultMsg{taskID: task.ID, err: canceller.Cancel(context.Background(), task.ID)}
	}
}

// View renders the board.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	body := lipgloss.JoinVertical(lipgloss.Left, m.taskPane.View(), m.progressPane.View())

	help := HelpView()
	if m.status != "" {
		help = m.status + "  " + help
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, help)
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	availableHeight := m.height - 1 // help bar
	taskHeight := (availableHeight * 65) / 100

	m.taskPane.SetSize(m.width, taskHeight)
	m.progressPane.SetSize(m.width, availableHeight-taskHeight)

	m.updateFocusStates()
}

// updateFocusStates updates the focus state of all panes.
func (m *Model) updateFocusStates() {
	m.taskPane.SetFocused(m.focusedPane == PaneTasks)
	m.progressPane.SetFocused(m.focusedPane == PaneProgress)
}
