package scheduler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gammazero/toposort"
)

var (
	ErrInvalidBatch      = errors.New("invalid task batch")
	ErrDuplicateKey      = fmt.Errorf("%w: duplicate taskKey", ErrInvalidBatch)
	ErrUnknownDependency = fmt.Errorf("%w: unknown dependency", ErrInvalidBatch)
	ErrSelfDependency    = fmt.Errorf("%w: self dependency", ErrInvalidBatch)
	ErrCycle             = fmt.Errorf("%w: dependency cycle", ErrInvalidBatch)
)

// BatchError reports the first problem that makes a batch unschedulable.
type BatchError struct {
	Kind error
	Msg  string
}

func (e *BatchError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *BatchError) Unwrap() error { return e.Kind }

func batchErrorf(kind error, format string, args ...any) error {
	return &BatchError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// ValidateBatch proves that descs form a DAG over their task keys. Checks run in
// order and stop at the first failure: duplicate keys, unresolved references,
// self-dependencies, then cycles.
func ValidateBatch(descs []Descriptor) error {
	byKey := make(map[string]*Descriptor, len(descs))
	for i := range descs {
		key := descs[i].TaskKey
		if _, exists := byKey[key]; exists {
			return batchErrorf(ErrDuplicateKey, "%q", key)
		}
		byKey[key] = &descs[i]
	}

	for _, d := range descs {
		for _, dep := range d.DependsOn {
			if _, exists := byKey[dep]; !exists {
				return batchErrorf(ErrUnknownDependency, "task %q depends on %q", d.TaskKey, dep)
			}
			if dep == d.TaskKey {
				return batchErrorf(ErrSelfDependency, "task %q depends on itself", d.TaskKey)
			}
		}
	}

	if path := findCycle(descs, byKey); path != nil {
		return batchErrorf(ErrCycle, "%s", strings.Join(path, " -> "))
	}

	return nil
}

const (
	unvisited = iota
	inProgress
	done
)

// findCycle runs an iterative three-colour DFS along dependsOn edges and returns
// one closed cycle path, or nil. Depth is bounded by the heap, not the stack.
func findCycle(descs []Descriptor, byKey map[string]*Descriptor) []string {
	type frame struct {
		key  string
		next int // index of the next dependency to visit
	}

	color := make(map[string]int, len(descs))

	for _, root := range descs {
		if color[root.TaskKey] != unvisited {
			continue
		}

		stack := []frame{{key: root.TaskKey}}
		color[root.TaskKey] = inProgress

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := byKey[top.key].DependsOn

			if top.next >= len(deps) {
				color[top.key] = done
				stack = stack[:len(stack)-1]
				continue
			}

			dep := deps[top.next]
			top.next++

			switch color[dep] {
			case unvisited:
				color[dep] = inProgress
				stack = append(stack, frame{key: dep})
			case inProgress:
				// The stack holds the in-progress chain; the cycle starts at dep.
				var path []string
				for i := range stack {
					if stack[i].key == dep || path != nil {
						path = append(path, stack[i].key)
					}
				}
				return append(path, dep)
			}
		}
	}

	return nil
}

// TopologicalOrder returns the batch's task keys with every dependency ahead of
// its dependents. The batch must already be valid.
func TopologicalOrder(descs []Descriptor) ([]string, error) {
	if err := ValidateBatch(descs); err != nil {
		return nil, err
	}

	var edges []toposort.Edge
	for _, d := range descs {
		if len(d.DependsOn) == 0 {
			// Anchor roots so isolated tasks are included in the result
			edges = append(edges, toposort.Edge{nil, d.TaskKey})
			continue
		}
		for _, dep := range d.DependsOn {
			edges = append(edges, toposort.Edge{dep, d.TaskKey})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("failed to order batch: %w", err)
	}

	order := make([]string, 0, len(descs))
	for _, key := range sorted {
		if key != nil {
			order = append(order, key.(string))
		}
	}

	if len(order) != len(descs) {
		return nil, fmt.Errorf("topological sort lost %d tasks", len(descs)-len(order))
	}

	return order, nil
}
