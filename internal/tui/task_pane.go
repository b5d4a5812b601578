package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Antony-Jia/butler/internal/events"
	"github.com/Antony-Jia/butler/internal/scheduler"
)

const listWidth = 34

// TaskPaneModel shows the task list and the selected task's details.
type TaskPaneModel struct {
	tasks       []scheduler.Task // snapshot order, oldest first
	selectedID  string
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
}

// NewTaskPaneModel creates a new task pane model.
func NewTaskPaneModel() TaskPaneModel {
	return TaskPaneModel{
		viewport: viewport.New(0, 0),
	}
}

// Update handles messages for the task pane.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.SetSize(msg.Width, msg.Height)

	case tea.KeyMsg:
		if !m.focused {
			break
		}

		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.tasks)-1 {
				m.selectedIdx++
				m.selectedID = m.tasks[m.selectedIdx].ID
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.selectedID = m.tasks[m.selectedIdx].ID
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.TasksChangedEvent:
		m.tasks = msg.Tasks
		m.reselect()
		m.updateViewportContent()
	}

	return m, cmd
}

// reselect keeps the cursor on the same task across snapshots.
func (m *TaskPaneModel) reselect() {
	for i, task := range m.tasks {
		if task.ID == m.selectedID {
			m.selectedIdx = i
			return
		}
	}
	if len(m.tasks) == 0 {
		m.selectedIdx = 0
		m.selectedID = ""
		return
	}
	m.selectedIdx = min(m.selectedIdx, len(m.tasks)-1)
	m.selectedID = m.tasks[m.selectedIdx].ID
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	detailWidth := m.width - listWidth - 4

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderTaskList(listWidth),
		lipgloss.NewStyle().
			Width(detailWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m TaskPaneModel) renderTaskList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.tasks) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting for tasks..."))
	}
	for i, task := range m.tasks {
		name := fmt.Sprintf("[%s] %s", task.Mode, task.Title)
		if len([]rune(name)) > width-4 {
			name = string([]rune(name)[:width-7]) + "..."
		}

		line := fmt.Sprintf("%s %s", StatusIcon(task.Status), name)
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// SelectedTask returns the task under the cursor.
func (m TaskPaneModel) SelectedTask() (scheduler.Task, bool) {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.tasks) {
		return m.tasks[m.selectedIdx], true
	}
	return scheduler.Task{}, false
}

func (m *TaskPaneModel) updateViewportContent() {
	task, ok := m.SelectedTask()
	if !ok {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}
	m.viewport.SetContent(TaskDetail(task))
	m.viewport.GotoTop()
}

// TaskDetail renders the detail view of one task.
func TaskDetail(task scheduler.Task) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n\n", StyleTitle.Render(task.Title))
	fmt.Fprintf(&b, "Status:    %s %s\n", StatusIcon(task.Status), task.Status)
	fmt.Fprintf(&b, "Mode:      %s\n", task.Mode)
	fmt.Fprintf(&b, "Task:      %s\n", task.ID)
	fmt.Fprintf(&b, "Thread:    %s\n", task.ThreadID)
	fmt.Fprintf(&b, "Group:     %s (%s)\n", task.GroupID, task.TaskKey)
	fmt.Fprintf(&b, "Workspace: %s\n", task.WorkspacePath)
	if len(task.DependsOnTaskIDs) > 0 {
		fmt.Fprintf(&b, "Depends:   %s\n", strings.Join(task.DependsOnTaskIDs, ", "))
	}
	if task.StartedAt != nil {
		end := time.Now()
		if task.CompletedAt != nil {
			end = *task.CompletedAt
		}
		fmt.Fprintf(&b, "Duration:  %s\n", end.Sub(*task.StartedAt).Round(time.Second))
	}

	b.WriteString("\nPrompt:\n")
	b.WriteString(task.Prompt)
	b.WriteString("\n")

	if task.ResultDetail != "" {
		b.WriteString("\nResult:\n")
		b.WriteString(task.ResultDetail)
		b.WriteString("\n")
	}
	return b.String()
}

// StatusIcon returns a styled status indicator.
func StatusIcon(status scheduler.TaskStatus) string {
	switch status {
	case scheduler.TaskRunning:
		return StyleStatusRunning.Render("●")
	case scheduler.TaskCompleted:
		return StyleStatusComplete.Render("✓")
	case scheduler.TaskFailed:
		return StyleStatusFailed.Render("✗")
	case scheduler.TaskCancelled:
		return StyleStatusCancelled.Render("⊘")
	default:
		return StyleStatusPending.Render("○")
	}
}

func (m *TaskPaneModel) resizeViewport() {
	m.viewport.Width = max(m.width-listWidth-4, 10)
	m.viewport.Height = max(m.height-4, 5)
}

// SetSize updates the pane dimensions.
func (m *TaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *TaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
