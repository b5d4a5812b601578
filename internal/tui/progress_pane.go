package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Antony-Jia/butler/internal/events"
	"github.com/Antony-Jia/butler/internal/scheduler"
)

// activityLimit bounds the activity feed.
const activityLimit = 50

// ProgressPaneModel shows task counts, a progress bar and recent activity.
type ProgressPaneModel struct {
	progress events.GraphProgressEvent
	activity []string // newest last
	width    int
	height   int
	focused  bool
}

// NewProgressPaneModel creates a new progress pane model.
func NewProgressPaneModel() ProgressPaneModel {
	return ProgressPaneModel{}
}

// Update handles messages for the progress pane.
func (m ProgressPaneModel) Update(msg tea.Msg) (ProgressPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case events.GraphProgressEvent:
		m.progress = msg

	case events.TaskStartedEvent:
		m.record(msg.Timestamp.Format("15:04:05"), fmt.Sprintf("%s started [%s] %s", StatusIcon(scheduler.TaskRunning), msg.Mode, msg.Title))

	case events.TaskSettledEvent:
		line := fmt.Sprintf("%s %s %s", StatusIcon(msg.Status), msg.Title, msg.Status)
		if msg.Brief != "" {
			line += ": " + msg.Brief
		}
		m.record(msg.Timestamp.Format("15:04:05"), line)

	case events.BatchAcceptedEvent:
		m.record(msg.Timestamp.Format("15:04:05"), fmt.Sprintf("batch %s accepted from %s (%d tasks)", shortID(msg.GroupID), msg.Source, len(msg.TaskIDs)))
		for _, note := range msg.Notes {
			m.record(msg.Timestamp.Format("15:04:05"), "  "+note)
		}

	case events.BatchRejectedEvent:
		m.record(msg.Timestamp.Format("15:04:05"), StyleStatusFailed.Render("batch rejected")+fmt.Sprintf(" from %s: %s", msg.Source, msg.Reason))
	}

	return m, nil
}

func (m *ProgressPaneModel) record(ts, line string) {
	m.activity = append(m.activity, StyleHelp.Render(ts)+" "+line)
	if over := len(m.activity) - activityLimit; over > 0 {
		m.activity = m.activity[over:]
	}
}

// View renders the progress pane.
func (m ProgressPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder
	p := m.progress

	title := StyleTitle.Render("Progress")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n")

	fmt.Fprintf(&b, "Total %d  Queued %s  Running %s  Completed %s  Failed %s  Cancelled %s\n",
		p.Total,
		StyleStatusPending.Render(fmt.Sprint(p.Queued)),
		StyleStatusRunning.Render(fmt.Sprint(p.Running)),
		StyleStatusComplete.Render(fmt.Sprint(p.Completed)),
		StyleStatusFailed.Render(fmt.Sprint(p.Failed)),
		StyleStatusCancelled.Render(fmt.Sprint(p.Cancelled)))

	if p.Total > 0 {
		b.WriteString(ProgressBar(p, min(m.width-4, 60)))
		b.WriteString("\n")
	}

	// Show as much recent activity as fits
	room := m.height - 2 - strings.Count(b.String(), "\n") - 1
	if room > 0 && len(m.activity) > 0 {
		b.WriteString("\n")
		start := max(0, len(m.activity)-room)
		b.WriteString(strings.Join(m.activity[start:], "\n"))
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

// ProgressBar renders settled, running and queued tasks as a bar of barWidth cells.
func ProgressBar(p events.GraphProgressEvent, barWidth int) string {
	if p.Total == 0 || barWidth <= 0 {
		return ""
	}

	completedWidth := (p.Completed * barWidth) / p.Total
	failedWidth := ((p.Failed + p.Cancelled) * barWidth) / p.Total
	runningWidth := (p.Running * barWidth) / p.Total
	pendingWidth := barWidth - completedWidth - failedWidth - runningWidth

	bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, completedWidth)))
	bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
	bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, runningWidth)))
	bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))

	settled := p.Completed + p.Failed + p.Cancelled
	return fmt.Sprintf("[%s]  %d/%d", bar, settled, p.Total)
}

// SetSize updates the pane dimensions.
func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
