package scheduler

import (
	"context"
	"fmt"
	"sort"
)

// Recover loads persisted tasks, removes those whose thread no longer exists
// and fails every task a previous process left queued or running. It is
// idempotent.
func (s *Scheduler) Recover(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recovered {
		return nil
	}

	loaded, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load persisted tasks: %w", err)
	}

	sort.SliceStable(loaded, func(i, j int) bool {
		return loaded[i].CreatedAt.Before(loaded[j].CreatedAt)
	})

	loaded, orphaned, err := s.dropOrphans(ctx, loaded)
	if err != nil {
		return err
	}

	interrupted := 0
	for _, task := range loaded {
		if _, exists := s.tasks[task.ID]; exists {
			continue
		}

		if !task.Status.Terminal() {
			now := s.now()
			task.Status = TaskFailed
			task.CompletedAt = &now
			if task.ResultBrief == "" {
				task.ResultBrief = "interrupted by restart"
			}
			if task.ResultDetail == "" {
				task.ResultDetail = task.ResultBrief
			}
			if err := s.store.Put(ctx, task); err != nil {
				return fmt.Errorf("failed to persist interrupted task %s: %w", task.ID, err)
			}
			interrupted++
		}

		s.tasks[task.ID] = task
		s.order = append(s.order, task.ID)
	}

	s.recovered = true
	s.logger.Info("recovered tasks", "loaded", len(loaded), "interrupted", interrupted, "orphaned", orphaned)
	s.notifyLocked()

	return nil
}

// dropOrphans removes tasks whose thread has been deleted from the store and
// returns the survivors.
func (s *Scheduler) dropOrphans(ctx context.Context, loaded []*Task) ([]*Task, int, error) {
	if s.lookup == nil {
		return loaded, 0, nil
	}

	known := make(map[string]bool)
	kept := loaded[:0]
	var orphans []string
	for _, task := range loaded {
		exists, checked := known[task.ThreadID]
		if !checked {
			var err error
			exists, err = s.lookup.ThreadExists(ctx, task.ThreadID)
			if err != nil {
				return nil, 0, fmt.Errorf("failed to check thread %s: %w", task.ThreadID, err)
			}
			known[task.ThreadID] = exists
		}

		if exists {
			kept = append(kept, task)
			continue
		}
		orphans = append(orphans, task.ID)
	}

	if len(orphans) == 0 {
		return kept, 0, nil
	}

	if err := s.store.Remove(ctx, orphans); err != nil {
		return nil, 0, fmt.Errorf("failed to remove orphaned tasks: %w", err)
	}
	for _, id := range orphans {
		s.logger.Warn("removed task with missing thread", "taskID", id)
	}

	return kept, len(orphans), nil
}
