package scheduler

import (
	"time"
)

// TaskStatus represents the current lifecycle state of a task.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"    // Created, waiting for dependencies or a free slot
	TaskRunning   TaskStatus = "running"   // Handed to the executor
	TaskCompleted TaskStatus = "completed" // Executor returned a result
	TaskFailed    TaskStatus = "failed"    // Executor error, dependency failure or restart
	TaskCancelled TaskStatus = "cancelled" // Withdrawn before it ran
)

// Terminal reports whether no further transition is possible from s.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskQueued, TaskRunning, TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// Mode selects how a task is executed.
type Mode string

const (
	ModeDefault Mode = "default"
	ModeRalph   Mode = "ralph"
	ModeEmail   Mode = "email"
	ModeLoop    Mode = "loop"
)

// Valid reports whether m is a mode tasks may be dispatched in.
func (m Mode) Valid() bool {
	switch m {
	case ModeDefault, ModeRalph, ModeEmail, ModeLoop:
		return true
	}
	return false
}

// ThreadStrategy decides whether a task gets a fresh execution thread.
type ThreadStrategy string

const (
	NewThread       ThreadStrategy = "new_thread"
	ReuseLastThread ThreadStrategy = "reuse_last_thread"
)

// HandoffMethod controls how upstream results reach a dependent task.
type HandoffMethod string

const (
	HandoffContext    HandoffMethod = "context"    // Prepend upstream results to the prompt
	HandoffFilesystem HandoffMethod = "filesystem" // Write .butler_handoff.json into the workspace
	HandoffBoth       HandoffMethod = "both"
)

// IncludesContext reports whether upstream results go into the prompt.
func (m HandoffMethod) IncludesContext() bool {
	return m == HandoffContext || m == HandoffBoth
}

// IncludesFilesystem reports whether the handoff artifact is written.
func (m HandoffMethod) IncludesFilesystem() bool {
	return m == HandoffFilesystem || m == HandoffBoth
}

// Handoff describes what a dependent task receives from its parents.
type Handoff struct {
	Method            HandoffMethod `json:"method" yaml:"method"`
	Note              string        `json:"note,omitempty" yaml:"note,omitempty"`
	RequiredArtifacts []string      `json:"requiredArtifacts,omitempty" yaml:"requiredArtifacts,omitempty"`
}

// LoopTrigger fires a loop task. Only the fields of the chosen Type are used.
type LoopTrigger struct {
	Type string `json:"type" yaml:"type"` // "schedule", "api" or "file"
	Cron string `json:"cron,omitempty" yaml:"cron,omitempty"`
	URL  string `json:"url,omitempty" yaml:"url,omitempty"`
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// LoopQueue controls how loop triggers that arrive close together are merged.
type LoopQueue struct {
	Policy         string `json:"policy" yaml:"policy"`
	MergeWindowSec int    `json:"mergeWindowSec" yaml:"mergeWindowSec"`
}

// LoopConfig configures a recurring task in loop mode.
type LoopConfig struct {
	Enabled         bool        `json:"enabled" yaml:"enabled"`
	ContentTemplate string      `json:"contentTemplate" yaml:"contentTemplate"`
	Trigger         LoopTrigger `json:"trigger" yaml:"trigger"`
	Queue           LoopQueue   `json:"queue" yaml:"queue"`
}

// DefaultLoopConfig is used for loop tasks proposed without a configuration.
func DefaultLoopConfig(prompt string) LoopConfig {
	return LoopConfig{
		Enabled:         true,
		ContentTemplate: prompt,
		Trigger:         LoopTrigger{Type: "schedule", Cron: "*/5 * * * *"},
		Queue:           LoopQueue{Policy: "strict", MergeWindowSec: 300},
	}
}

// Descriptor is one proposed task in a batch. Keys and dependencies only have
// meaning inside the batch they arrived in.
type Descriptor struct {
	TaskKey        string         `json:"taskKey" yaml:"taskKey"`
	DependsOn      []string       `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
	Mode           Mode           `json:"mode" yaml:"mode"`
	Title          string         `json:"title" yaml:"title"`
	Prompt         string         `json:"prompt" yaml:"prompt"`
	ThreadStrategy ThreadStrategy `json:"threadStrategy,omitempty" yaml:"threadStrategy,omitempty"`
	LoopConfig     *LoopConfig    `json:"loopConfig,omitempty" yaml:"loopConfig,omitempty"`
	Handoff        *Handoff       `json:"handoff,omitempty" yaml:"handoff,omitempty"`
}

// Task is a durable unit of scheduled work bound to one execution thread.
type Task struct {
	ID               string
	ThreadID         string
	Mode             Mode
	Title            string
	Prompt           string
	WorkspacePath    string
	Status           TaskStatus
	DependsOnTaskIDs []string
	GroupID          string
	TaskKey          string
	Handoff          *Handoff
	LoopConfig       *LoopConfig
	CreatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
	ResultBrief      string
	ResultDetail     string
}

// HandoffMethod returns the effective handoff method, defaulting to both.
func (t *Task) HandoffMethod() HandoffMethod {
	if t.Handoff == nil || t.Handoff.Method == "" {
		return HandoffBoth
	}
	return t.Handoff.Method
}

// Clone returns a deep copy safe to hand outside the scheduler.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}

	cp := *t
	if t.DependsOnTaskIDs != nil {
		cp.DependsOnTaskIDs = append([]string(nil), t.DependsOnTaskIDs...)
	}
	if t.Handoff != nil {
		h := *t.Handoff
		if t.Handoff.RequiredArtifacts != nil {
			h.RequiredArtifacts = append([]string(nil), t.Handoff.RequiredArtifacts...)
		}
		cp.Handoff = &h
	}
	if t.LoopConfig != nil {
		lc := *t.LoopConfig
		cp.LoopConfig = &lc
	}
	if t.StartedAt != nil {
		ts := *t.StartedAt
		cp.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		cp.CompletedAt = &ts
	}
	return &cp
}
