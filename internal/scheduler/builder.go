package scheduler

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// build materializes a validated batch. The first pass allocates and persists
// every task so each key has an ID; the second pass resolves dependsOn keys to
// IDs, wires the dependency indexes and collects the ready set. Callers hold mu.
func (s *Scheduler) build(ctx context.Context, descs []Descriptor) (*BatchResult, map[string]*Task, error) {
	res := &BatchResult{GroupID: uuid.NewString()}
	byKey := make(map[string]*Task, len(descs))
	created := make([]*Task, 0, len(descs))

	abort := func(cause error) error {
		s.abortBatch(ctx, created, cause)
		return fmt.Errorf("failed to create batch %s: %w", res.GroupID, cause)
	}

	// Pass 1: allocate
	for _, d := range descs {
		reuse := ""
		if d.ThreadStrategy == ReuseLastThread {
			reuse = s.findReusableThread(d.Mode)
			if reuse == "" {
				res.Notes = append(res.Notes,
					fmt.Sprintf("task %s: no reusable thread found, using new_thread", d.TaskKey))
			}
		}

		alloc, err := s.alloc.Allocate(ctx, AllocateRequest{
			Mode:          d.Mode,
			Title:         d.Title,
			ReuseThreadID: reuse,
		})
		if err != nil {
			return nil, nil, abort(fmt.Errorf("allocate %q: %w", d.TaskKey, err))
		}
		if alloc.TaskID == "" {
			alloc.TaskID = uuid.NewString()
		}

		task := &Task{
			ID:            alloc.TaskID,
			ThreadID:      alloc.ThreadID,
			Mode:          d.Mode,
			Title:         d.Title,
			Prompt:        d.Prompt,
			WorkspacePath: alloc.WorkspacePath,
			Status:        TaskQueued,
			GroupID:       res.GroupID,
			TaskKey:       d.TaskKey,
			CreatedAt:     s.now(),
		}
		if d.Handoff != nil {
			h := *d.Handoff
			if h.Method == "" {
				h.Method = HandoffBoth
			}
			task.Handoff = &h
		}
		if d.LoopConfig != nil {
			lc := *d.LoopConfig
			task.LoopConfig = &lc
		}

		s.tasks[task.ID] = task
		s.order = append(s.order, task.ID)
		created = append(created, task)
		byKey[d.TaskKey] = task

		if err := s.store.Put(ctx, task); err != nil {
			return nil, nil, abort(fmt.Errorf("persist %q: %w", d.TaskKey, err))
		}
	}

	// Pass 2: resolve dependencies
	for _, d := range descs {
		task := byKey[d.TaskKey]
		parentIDs := resolveDependencies(d.DependsOn, byKey)

		if len(parentIDs) == 0 {
			res.ReadyTaskIDs = append(res.ReadyTaskIDs, task.ID)
			continue
		}

		task.DependsOnTaskIDs = parentIDs
		pending := make(map[string]struct{}, len(parentIDs))
		for _, parentID := range parentIDs {
			pending[parentID] = struct{}{}
			s.children[parentID] = append(s.children[parentID], task.ID)
		}
		s.unresolved[task.ID] = pending

		if err := s.store.Put(ctx, task); err != nil {
			return nil, nil, abort(fmt.Errorf("persist dependencies of %q: %w", d.TaskKey, err))
		}
	}

	for _, task := range created {
		res.Tasks = append(res.Tasks, *task.Clone())
	}

	return res, byKey, nil
}

// resolveDependencies maps keys to task IDs, dropping repeats.
func resolveDependencies(keys []string, byKey map[string]*Task) []string {
	if len(keys) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(keys))
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		parent := byKey[key]
		if seen[parent.ID] {
			continue
		}
		seen[parent.ID] = true
		ids = append(ids, parent.ID)
	}
	return ids
}

// findReusableThread picks a thread from the newest task in mode, preferring one
// that did not fail or get cancelled. Returns "" when mode has no tasks.
func (s *Scheduler) findReusableThread(mode Mode) string {
	fallback := ""
	for i := len(s.order) - 1; i >= 0; i-- {
		task, ok := s.tasks[s.order[i]]
		if !ok || task.Mode != mode || task.ThreadID == "" {
			continue
		}
		if task.Status != TaskFailed && task.Status != TaskCancelled {
			return task.ThreadID
		}
		if fallback == "" {
			fallback = task.ThreadID
		}
	}
	return fallback
}

// abortBatch fails every task already created for a batch that could not be
// completed, so no partial graph is left queued.
func (s *Scheduler) abortBatch(ctx context.Context, created []*Task, cause error) {
	reason := fmt.Sprintf("batch creation aborted: %v", cause)

	for _, task := range created {
		delete(s.unresolved, task.ID)
		delete(s.children, task.ID)

		now := s.now()
		task.Status = TaskFailed
		task.CompletedAt = &now
		task.ResultBrief = brief(reason)
		task.ResultDetail = reason
		s.persist(ctx, task)
	}

	s.logger.Error("batch aborted", "created", len(created), "error", cause)
}
