package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Antony-Jia/butler/internal/events"
	"github.com/Antony-Jia/butler/internal/scheduler"
)

type fakeCanceller struct {
	calls []string
	err   error
}

func (f *fakeCanceller) Cancel(ctx context.Context, taskID string) error {
	f.calls = append(f.calls, taskID)
	return f.err
}

func keyRune(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func sampleTasks() []scheduler.Task {
	return []scheduler.Task{
		{ID: "task-a", Title: "Collect", Mode: scheduler.ModeDefault, Status: scheduler.TaskRunning, Prompt: "collect"},
		{ID: "task-b", Title: "Report", Mode: scheduler.ModeEmail, Status: scheduler.TaskQueued, Prompt: "report",
			DependsOnTaskIDs: []string{"task-a"}},
	}
}

func newBoard(t *testing.T, canceller Canceller) Model {
	t.Helper()
	bus := events.NewEventBus()
	t.Cleanup(bus.Close)

	m := New(bus, sampleTasks(), canceller)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return updated.(Model)
}

func TestTaskPane_SelectionFollowsTask(t *testing.T) {
	pane := NewTaskPaneModel()
	pane.SetFocused(true)
	pane.SetSize(100, 20)

	pane, _ = pane.Update(events.TasksChangedEvent{Tasks: sampleTasks()})
	pane, _ = pane.Update(keyRune('j'))

	selected, ok := pane.SelectedTask()
	require.True(t, ok)
	assert.Equal(t, "task-b", selected.ID)

	// A new task ahead of the selection must not move the cursor off task-b
	tasks := append([]scheduler.Task{{ID: "task-0", Title: "Earlier", Status: scheduler.TaskCompleted}}, sampleTasks()...)
	pane, _ = pane.Update(events.TasksChangedEvent{Tasks: tasks})

	selected, ok = pane.SelectedTask()
	require.True(t, ok)
	assert.Equal(t, "task-b", selected.ID)

	// Removing the selected task clamps the cursor
	pane, _ = pane.Update(events.TasksChangedEvent{Tasks: tasks[:1]})
	selected, ok = pane.SelectedTask()
	require.True(t, ok)
	assert.Equal(t, "task-0", selected.ID)

	pane, _ = pane.Update(events.TasksChangedEvent{})
	_, ok = pane.SelectedTask()
	assert.False(t, ok)
}

func TestTaskPane_IgnoresKeysWhenUnfocused(t *testing.T) {
	pane := NewTaskPaneModel()
	pane.SetSize(100, 20)
	pane, _ = pane.Update(events.TasksChangedEvent{Tasks: sampleTasks()})
	pane, _ = pane.Update(keyRune('j'))

	selected, _ := pane.SelectedTask()
	assert.Equal(t, "task-a", selected.ID)
}

func TestTaskDetail(t *testing.T) {
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	done := started.Add(90 * time.Second)

	detail := TaskDetail(scheduler.Task{
		ID:               "t1",
		Title:            "Summarize",
		Mode:             scheduler.ModeRalph,
		Status:           scheduler.TaskCompleted,
		ThreadID:         "th1",
		DependsOnTaskIDs: []string{"p1", "p2"},
		StartedAt:        &started,
		CompletedAt:      &done,
		Prompt:           "summarize it",
		ResultDetail:     "all good",
	})

	for _, want := range []string{"Summarize", "Mode:      ralph", "Thread:    th1", "Depends:   p1, p2", "Duration:  1m30s", "summarize it", "Result:\nall good"} {
		assert.Contains(t, detail, want)
	}
}

func TestModel_CancelSelected(t *testing.T) {
	canceller := &fakeCanceller{}
	m := newBoard(t, canceller)

	updated, _ := m.Update(keyRune('j'))
	m = updated.(Model)

	cmd := m.cancelSelected()
	require.NotNil(t, cmd)
	msg := cmd()
	assert.Equal(t, []string{"task-b"}, canceller.calls)

	updated, _ = m.Update(msg)
	m = updated.(Model)
	assert.Contains(t, m.View(), "cancelled task-b")
}

func TestModel_CancelRefusesRunningTask(t *testing.T) {
	canceller := &fakeCanceller{}
	m := newBoard(t, canceller)

	assert.Nil(t, m.cancelSelected())
	assert.Empty(t, canceller.calls)
	assert.Contains(t, m.status, "only queued tasks can be cancelled")
}

func TestModel_CancelError(t *testing.T) {
	m := newBoard(t, &fakeCanceller{err: errors.New("task not queued")})

	updated, _ := m.Update(cancelResultMsg{taskID: "task-b", err: errors.New("task not queued")})
	assert.Contains(t, updated.(Model).View(), "cancel failed: task not queued")
}

func TestModel_FocusCycles(t *testing.T) {
	m := newBoard(t, nil)
	assert.Equal(t, PaneTasks, m.focusedPane)

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = updated.(Model)
	assert.Equal(t, PaneProgress, m.focusedPane)

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = updated.(Model)
	assert.Equal(t, PaneTasks, m.focusedPane)

	updated, _ = m.Update(keyRune('2'))
	assert.Equal(t, PaneProgress, updated.(Model).focusedPane)
}

func TestModel_RendersEvents(t *testing.T) {
	m := newBoard(t, nil)
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for _, ev := range []tea.Msg{
		events.BatchAcceptedEvent{GroupID: "0123456789", TaskIDs: []string{"task-a", "task-b"}, Source: "cli", Timestamp: ts},
		events.TaskStartedEvent{ID: "task-a", Title: "Collect", Mode: scheduler.ModeDefault, Timestamp: ts},
		events.GraphProgressEvent{Total: 2, Running: 1, Queued: 1, Timestamp: ts},
		events.BatchRejectedEvent{Reason: "dependency cycle", Source: "inbox/x.yaml", Timestamp: ts},
	} {
		updated, cmd := m.Update(ev)
		m = updated.(Model)
		assert.NotNil(t, cmd, "event %T should wait for the next event", ev)
	}

	view := m.View()
	assert.Contains(t, view, "batch 01234567 accepted from cli (2 tasks)")
	assert.Contains(t, view, "started [default] Collect")
	assert.Contains(t, view, "dependency cycle")
	assert.Contains(t, view, "Collect")
	assert.Contains(t, view, "Report")
}

func TestProgressBar(t *testing.T) {
	bar := ProgressBar(events.GraphProgressEvent{Total: 4, Completed: 2, Failed: 1, Running: 1}, 8)
	assert.True(t, strings.HasSuffix(bar, "3/4"), bar)
	assert.Empty(t, ProgressBar(events.GraphProgressEvent{}, 8))
}

func TestProgressPane_ActivityLimit(t *testing.T) {
	pane := NewProgressPaneModel()
	for i := 0; i < activityLimit+10; i++ {
		pane, _ = pane.Update(events.TaskStartedEvent{ID: "t", Title: "x"})
	}
	assert.Len(t, pane.activity, activityLimit)
}
