package scheduler

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// HandoffFileName is the artifact written into a dependent task's workspace.
const HandoffFileName = ".butler_handoff.json"

// HandoffArtifact is the JSON document written for filesystem handoff.
type HandoffArtifact struct {
	TaskID      string            `json:"taskId"`
	TaskKey     string            `json:"taskKey,omitempty"`
	GeneratedAt time.Time         `json:"generatedAt"`
	Handoff     Handoff           `json:"handoff"`
	Upstream    []UpstreamSummary `json:"upstream"`
}

// UpstreamSummary describes one completed parent in a handoff artifact.
type UpstreamSummary struct {
	TaskID        string     `json:"taskId"`
	TaskKey       string     `json:"taskKey,omitempty"`
	Title         string     `json:"title"`
	Mode          Mode       `json:"mode"`
	ThreadID      string     `json:"threadId"`
	WorkspacePath string     `json:"workspacePath"`
	ResultBrief   string     `json:"resultBrief"`
	ResultDetail  string     `json:"resultDetail"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

// HandoffAssembler passes upstream results to a task that is about to run.
type HandoffAssembler struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewHandoffAssembler creates a HandoffAssembler. A nil logger discards output.
func NewHandoffAssembler(logger *slog.Logger) *HandoffAssembler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &HandoffAssembler{logger: logger, now: time.Now}
}

// Prompt returns the prompt the executor should receive for task. Tasks
// without parents get their own prompt back unchanged.
func (h *HandoffAssembler) Prompt(task *Task, parents []*Task) string {
	if len(task.DependsOnTaskIDs) == 0 || !task.HandoffMethod().IncludesContext() {
		return task.Prompt
	}
	return h.ContextBlock(task, parents) + "\n\n" + task.Prompt
}

// Stage writes the filesystem artifact when the task's handoff method asks
// for one. A write failure is logged and the task still runs.
func (h *HandoffAssembler) Stage(task *Task, parents []*Task) {
	if len(task.DependsOnTaskIDs) == 0 || !task.HandoffMethod().IncludesFilesystem() {
		return
	}
	if err := h.WriteArtifact(task, parents); err != nil {
		h.logger.Warn("failed to write handoff artifact", "taskID", task.ID, "error", err)
	}
}

// ContextBlock renders the upstream results block prepended to the prompt.
func (h *HandoffAssembler) ContextBlock(task *Task, parents []*Task) string {
	var b strings.Builder
	b.WriteString("[Butler Upstream Context]")

	for i, p := range parents {
		fmt.Fprintf(&b, "\n%d. %s", i+1, p.Title)
		fmt.Fprintf(&b, "\nmode=%s", p.Mode)
		fmt.Fprintf(&b, "\nthread=%s", p.ThreadID)
		fmt.Fprintf(&b, "\nresult_brief=%s", p.ResultBrief)
		fmt.Fprintf(&b, "\nresult_detail=%s", p.ResultDetail)
	}

	if task.Handoff != nil && task.Handoff.Note != "" {
		b.WriteString("\n\n[Handoff Note]\n")
		b.WriteString(task.Handoff.Note)
	}

	return b.String()
}

// WriteArtifact writes HandoffFileName into the task's workspace.
func (h *HandoffAssembler) WriteArtifact(task *Task, parents []*Task) error {
	if task.WorkspacePath == "" {
		return fmt.Errorf("task %s has no workspace", task.ID)
	}

	artifact := HandoffArtifact{
		TaskID:      task.ID,
		TaskKey:     task.TaskKey,
		GeneratedAt: h.now().UTC(),
		Handoff:     Handoff{Method: task.HandoffMethod()},
		Upstream:    make([]UpstreamSummary, 0, len(parents)),
	}
	if task.Handoff != nil {
		artifact.Handoff.Note = task.Handoff.Note
		artifact.Handoff.RequiredArtifacts = task.Handoff.RequiredArtifacts
	}

	for _, p := range parents {
		artifact.Upstream = append(artifact.Upstream, UpstreamSummary{
			TaskID:        p.ID,
			TaskKey:       p.TaskKey,
			Title:         p.Title,
			Mode:          p.Mode,
			ThreadID:      p.ThreadID,
			WorkspacePath: p.WorkspacePath,
			ResultBrief:   p.ResultBrief,
			ResultDetail:  p.ResultDetail,
			CompletedAt:   p.CompletedAt,
		})
	}

	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal handoff artifact: %w", err)
	}

	if err := os.MkdirAll(task.WorkspacePath, 0755); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}

	path := filepath.Join(task.WorkspacePath, HandoffFileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}
