// Package proposal turns untrusted batch documents into validated task
// descriptors and feeds batch files dropped into an inbox to a submitter.
package proposal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/Antony-Jia/butler/internal/scheduler"
	"gopkg.in/yaml.v3"
)

// ErrInvalidProposal is wrapped by every decode and field validation error.
var ErrInvalidProposal = errors.New("invalid task proposal")

var taskKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// taskSpec is the wire shape of one proposed task. initialPrompt is accepted
// as an alias of prompt.
type taskSpec struct {
	TaskKey        string                `json:"taskKey" yaml:"taskKey"`
	Mode           string                `json:"mode" yaml:"mode"`
	Title          string                `json:"title" yaml:"title"`
	Prompt         string                `json:"prompt" yaml:"prompt"`
	InitialPrompt  string                `json:"initialPrompt" yaml:"initialPrompt"`
	ThreadStrategy string                `json:"threadStrategy" yaml:"threadStrategy"`
	DependsOn      []string              `json:"dependsOn" yaml:"dependsOn"`
	Handoff        *scheduler.Handoff    `json:"handoff" yaml:"handoff"`
	LoopConfig     *scheduler.LoopConfig `json:"loopConfig" yaml:"loopConfig"`
}

type envelope struct {
	Tasks []taskSpec `json:"tasks" yaml:"tasks"`
}

// Decode parses a batch and validates each task's fields. Accepted shapes are
// a list of tasks or an object with a "tasks" list, in JSON or YAML.
// Graph-level checks (duplicate keys, unknown dependencies, cycles) are left
// to scheduler.ValidateBatch.
func Decode(data []byte) ([]scheduler.Descriptor, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: document is empty", ErrInvalidProposal)
	}

	var (
		specs []taskSpec
		err   error
	)
	switch trimmed[0] {
	case '[', '{':
		specs, err = decodeJSON(trimmed)
	default:
		specs, err = decodeYAML(trimmed)
	}
	if err != nil {
		return nil, err
	}

	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: no tasks", ErrInvalidProposal)
	}

	descs := make([]scheduler.Descriptor, 0, len(specs))
	for i, spec := range specs {
		desc, err := normalize(spec)
		if err != nil {
			return nil, fmt.Errorf("%w: task %d: %v", ErrInvalidProposal, i+1, err)
		}
		descs = append(descs, desc)
	}
	return descs, nil
}

func decodeJSON(data []byte) ([]taskSpec, error) {
	if data[0] == '[' {
		var specs []taskSpec
		if err := json.Unmarshal(data, &specs); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidProposal, err)
		}
		return specs, nil
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProposal, err)
	}
	return env.Tasks, nil
}

func decodeYAML(data []byte) ([]taskSpec, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProposal, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("%w: document is empty", ErrInvalidProposal)
	}

	root := doc.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		var specs []taskSpec
		if err := root.Decode(&specs); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidProposal, err)
		}
		return specs, nil
	case yaml.MappingNode:
		var env envelope
		if err := root.Decode(&env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidProposal, err)
		}
		return env.Tasks, nil
	default:
		return nil, fmt.Errorf("%w: expected a task list or an object with tasks", ErrInvalidProposal)
	}
}

// normalize checks required fields and fills defaults.
func normalize(spec taskSpec) (scheduler.Descriptor, error) {
	d := scheduler.Descriptor{
		TaskKey: strings.TrimSpace(spec.TaskKey),
		Title:   strings.TrimSpace(spec.Title),
		Prompt:  strings.TrimSpace(spec.Prompt),
	}
	if d.Prompt == "" {
		d.Prompt = strings.TrimSpace(spec.InitialPrompt)
	}

	if d.TaskKey == "" {
		return d, errors.New("taskKey is required")
	}
	if !taskKeyPattern.MatchString(d.TaskKey) {
		return d, fmt.Errorf("taskKey %q must contain only letters, digits, '_' or '-'", d.TaskKey)
	}
	if d.Title == "" {
		return d, fmt.Errorf("task %s: title is required", d.TaskKey)
	}
	if d.Prompt == "" {
		return d, fmt.Errorf("task %s: prompt is required", d.TaskKey)
	}

	d.Mode = scheduler.Mode(strings.TrimSpace(spec.Mode))
	if d.Mode == "" {
		d.Mode = scheduler.ModeDefault
	}
	if !d.Mode.Valid() {
		return d, fmt.Errorf("task %s: unknown mode %q", d.TaskKey, d.Mode)
	}

	d.ThreadStrategy = scheduler.ThreadStrategy(strings.TrimSpace(spec.ThreadStrategy))
	switch d.ThreadStrategy {
	case "":
		d.ThreadStrategy = scheduler.NewThread
	case scheduler.NewThread, scheduler.ReuseLastThread:
	default:
		return d, fmt.Errorf("task %s: unknown threadStrategy %q", d.TaskKey, d.ThreadStrategy)
	}

	deps, err := normalizeDependencies(spec.DependsOn)
	if err != nil {
		return d, fmt.Errorf("task %s: %w", d.TaskKey, err)
	}
	d.DependsOn = deps

	if spec.Handoff != nil {
		h, err := normalizeHandoff(*spec.Handoff)
		if err != nil {
			return d, fmt.Errorf("task %s: %w", d.TaskKey, err)
		}
		d.Handoff = &h
	}

	// Loop settings only mean something in loop mode
	if d.Mode == scheduler.ModeLoop && spec.LoopConfig != nil {
		lc, err := normalizeLoop(*spec.LoopConfig, d.Prompt)
		if err != nil {
			return d, fmt.Errorf("task %s: %w", d.TaskKey, err)
		}
		d.LoopConfig = &lc
	}

	return d, nil
}

// normalizeDependencies trims entries and drops repeats.
func normalizeDependencies(raw []string) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool, len(raw))
	deps := make([]string, 0, len(raw))
	for _, dep := range raw {
		dep = strings.TrimSpace(dep)
		if dep == "" {
			return nil, errors.New("dependsOn entries must not be empty")
		}
		if seen[dep] {
			continue
		}
		seen[dep] = true
		deps = append(deps, dep)
	}
	return deps, nil
}

func normalizeHandoff(h scheduler.Handoff) (scheduler.Handoff, error) {
	out := scheduler.Handoff{
		Method: scheduler.HandoffMethod(strings.TrimSpace(string(h.Method))),
		Note:   strings.TrimSpace(h.Note),
	}

	switch out.Method {
	case "":
		out.Method = scheduler.HandoffBoth
	case scheduler.HandoffContext, scheduler.HandoffFilesystem, scheduler.HandoffBoth:
	default:
		return out, fmt.Errorf("unknown handoff method %q", h.Method)
	}

	for _, artifact := range h.RequiredArtifacts {
		if artifact = strings.TrimSpace(artifact); artifact != "" {
			out.RequiredArtifacts = append(out.RequiredArtifacts, artifact)
		}
	}
	return out, nil
}

func normalizeLoop(lc scheduler.LoopConfig, prompt string) (scheduler.LoopConfig, error) {
	lc.ContentTemplate = strings.TrimSpace(lc.ContentTemplate)
	if lc.ContentTemplate == "" {
		lc.ContentTemplate = prompt
	}

	switch lc.Trigger.Type {
	case "", "schedule":
		lc.Trigger.Type = "schedule"
		if strings.TrimSpace(lc.Trigger.Cron) == "" {
			return lc, errors.New("schedule trigger needs a cron expression")
		}
	case "api":
		if lc.Trigger.URL == "" {
			return lc, errors.New("api trigger needs a url")
		}
	case "file":
		if lc.Trigger.Path == "" {
			return lc, errors.New("file trigger needs a path")
		}
	default:
		return lc, fmt.Errorf("unknown loop trigger %q", lc.Trigger.Type)
	}

	if lc.Queue.Policy == "" {
		lc.Queue.Policy = "strict"
	}
	if lc.Queue.MergeWindowSec <= 0 {
		lc.Queue.MergeWindowSec = 300
	}
	return lc, nil
}
