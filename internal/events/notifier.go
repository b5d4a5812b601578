package events

import (
	"sync"
	"time"

	"github.com/Antony-Jia/butler/internal/scheduler"
)

// Notifier adapts an EventBus to scheduler.Notifier. Besides the raw snapshot
// it derives per-task start/settle events and a progress summary by diffing
// each snapshot against the previous one.
type Notifier struct {
	bus *EventBus
	now func() time.Time

	mu   sync.Mutex
	seen map[string]scheduler.TaskStatus
	last GraphProgressEvent
}

var _ scheduler.Notifier = (*Notifier)(nil)

// NewNotifier creates a Notifier publishing to bus.
func NewNotifier(bus *EventBus) *Notifier {
	return &Notifier{
		bus:  bus,
		now:  time.Now,
		seen: make(map[string]scheduler.TaskStatus),
	}
}

// TasksChanged implements scheduler.Notifier. It never blocks.
func (n *Notifier) TasksChanged(tasks []scheduler.Task) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ts := n.now()
	n.bus.Publish(TopicGraph, TasksChangedEvent{Tasks: tasks, Timestamp: ts})

	progress := GraphProgressEvent{Total: len(tasks)}
	current := make(map[string]scheduler.TaskStatus, len(tasks))

	for i := range tasks {
		task := &tasks[i]
		current[task.ID] = task.Status
		countStatus(&progress, task.Status)

		prev, known := n.seen[task.ID]
		if known && prev == task.Status {
			continue
		}

		switch {
		case task.Status == scheduler.TaskRunning:
			n.bus.Publish(TopicTask, TaskStartedEvent{
				ID:        task.ID,
				Title:     task.Title,
				Mode:      task.Mode,
				ThreadID:  task.ThreadID,
				Timestamp: ts,
			})
		case task.Status.Terminal() && known:
			n.bus.Publish(TopicTask, TaskSettledEvent{
				ID:        task.ID,
				Title:     task.Title,
				Status:    task.Status,
				Brief:     task.ResultBrief,
				Duration:  runDuration(task),
				Timestamp: ts,
			})
		}
	}
	n.seen = current

	progress.Timestamp = ts
	if !sameCounts(progress, n.last) {
		n.last = progress
		n.bus.Publish(TopicGraph, progress)
	}
}

// BatchAccepted publishes a BatchAcceptedEvent.
func (n *Notifier) BatchAccepted(res *scheduler.BatchResult, source string) {
	ids := make([]string, 0, len(res.Tasks))
	for _, task := range res.Tasks {
		ids = append(ids, task.ID)
	}
	n.bus.Publish(TopicGraph, BatchAcceptedEvent{
		GroupID:   res.GroupID,
		TaskIDs:   ids,
		Notes:     res.Notes,
		Source:    source,
		Timestamp: n.now(),
	})
}

// BatchRejected publishes a BatchRejectedEvent.
func (n *Notifier) BatchRejected(reason, source string) {
	n.bus.Publish(TopicGraph, BatchRejectedEvent{
		Reason:    reason,
		Source:    source,
		Timestamp: n.now(),
	})
}

func countStatus(p *GraphProgressEvent, status scheduler.TaskStatus) {
	switch status {
	case scheduler.TaskQueued:
		p.Queued++
	case scheduler.TaskRunning:
		p.Running++
	case scheduler.TaskCompleted:
		p.Completed++
	case scheduler.TaskFailed:
		p.Failed++
	case scheduler.TaskCancelled:
		p.Cancelled++
	}
}

func sameCounts(a, b GraphProgressEvent) bool {
	a.Timestamp, b.Timestamp = time.Time{}, time.Time{}
	return a == b
}

func runDuration(task *scheduler.Task) time.Duration {
	if task.StartedAt == nil || task.CompletedAt == nil {
		return 0
	}
	return task.CompletedAt.Sub(*task.StartedAt)
}
