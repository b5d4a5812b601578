package events

import (
	"time"

	"github.com/Antony-Jia/butler/internal/scheduler"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask  = "task"
	TopicGraph = "graph"
)

// Event type constants
const (
	EventTypeTaskStarted   = "task.started"
	EventTypeTaskSettled   = "task.settled"
	EventTypeTasksChanged  = "graph.changed"
	EventTypeGraphProgress = "graph.progress"
	EventTypeBatchAccepted = "graph.batch_accepted"
	EventTypeBatchRejected = "graph.batch_rejected"
)

// TaskStartedEvent is published when a task is handed to the executor.
type TaskStartedEvent struct {
	ID        string
	Title     string
	Mode      scheduler.Mode
	ThreadID  string
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) TaskID() string    { return e.ID }

// TaskSettledEvent is published when a task reaches a terminal status.
type TaskSettledEvent struct {
	ID        string
	Title     string
	Status    scheduler.TaskStatus
	Brief     string
	Duration  time.Duration // Zero for tasks that never ran
	Timestamp time.Time
}

func (e TaskSettledEvent) EventType() string { return EventTypeTaskSettled }
func (e TaskSettledEvent) TaskID() string    { return e.ID }

// TasksChangedEvent carries the full task snapshot after a graph mutation.
type TasksChangedEvent struct {
	Tasks     []scheduler.Task
	Timestamp time.Time
}

func (e TasksChangedEvent) EventType() string { return EventTypeTasksChanged }
func (e TasksChangedEvent) TaskID() string    { return "" }

// GraphProgressEvent is published when task counts change.
type GraphProgressEvent struct {
	Total     int
	Queued    int
	Running   int
	Completed int
	Failed    int
	Cancelled int
	Timestamp time.Time
}

func (e GraphProgressEvent) EventType() string { return EventTypeGraphProgress }
func (e GraphProgressEvent) TaskID() string    { return "" }

// BatchAcceptedEvent is published when a batch becomes tasks.
type BatchAcceptedEvent struct {
	GroupID   string
	TaskIDs   []string
	Notes     []string
	Source    string // Inbox file or "cli"
	Timestamp time.Time
}

func (e BatchAcceptedEvent) EventType() string { return EventTypeBatchAccepted }
func (e BatchAcceptedEvent) TaskID() string    { return "" }

// BatchRejectedEvent is published when a batch fails decoding or validation.
type BatchRejectedEvent struct {
	Reason    string
	Source    string
	Timestamp time.Time
}

func (e BatchRejectedEvent) EventType() string { return EventTypeBatchRejected }
func (e BatchRejectedEvent) TaskID() string    { return "" }
