package scheduler

import (
	"context"
	"fmt"
)

// ClearFinished removes every completed, failed or cancelled task from memory
// and the store. Returns the number of tasks removed.
func (s *Scheduler) ClearFinished(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for _, id := range s.order {
		if task, ok := s.tasks[id]; ok && task.Status.Terminal() {
			ids = append(ids, id)
		}
	}

	if err := s.removeLocked(ctx, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// RemoveByThread removes the tasks bound to threadID. A running task is left
// alone so the thread stays exclusive until its executor call returns.
func (s *Scheduler) RemoveByThread(ctx context.Context, threadID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for _, id := range s.order {
		task, ok := s.tasks[id]
		if !ok || task.ThreadID != threadID || task.Status == TaskRunning {
			continue
		}
		ids = append(ids, id)
	}

	if err := s.removeLocked(ctx, ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// removeLocked deletes tasks from the store, then from every in-memory index.
// Queued dependents of a removed task fail with a missing dependency when they
// next come up for dispatch.
func (s *Scheduler) removeLocked(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	if err := s.store.Remove(ctx, ids); err != nil {
		return fmt.Errorf("failed to remove tasks: %w", err)
	}

	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
		delete(s.tasks, id)
		delete(s.unresolved, id)
		delete(s.children, id)
	}

	s.order = filterIDs(s.order, drop)
	s.queue = filterIDs(s.queue, drop)
	for parentID, childIDs := range s.children {
		s.children[parentID] = filterIDs(childIDs, drop)
	}
	for childID, pending := range s.unresolved {
		for id := range pending {
			if drop[id] {
				delete(pending, id)
			}
		}
		if len(pending) == 0 {
			delete(s.unresolved, childID)
			s.enqueue(childID)
		}
	}

	s.logger.Info("tasks removed", "count", len(ids))
	s.notifyLocked()
	s.pump()

	return nil
}

func filterIDs(ids []string, drop map[string]bool) []string {
	kept := ids[:0]
	for _, id := range ids {
		if !drop[id] {
			kept = append(kept, id)
		}
	}
	return kept
}
