package scheduler

import (
	"context"
	"fmt"
)

// settle propagates a terminal transition of root to its dependents. A
// completed parent releases children whose last unresolved dependency it was;
// a failed or cancelled parent fails every queued descendant. The walk uses an
// explicit worklist so chain depth is not bounded by the goroutine stack.
func (s *Scheduler) settle(ctx context.Context, root *Task) {
	work := []*Task{root}

	for len(work) > 0 {
		parent := work[len(work)-1]
		work = work[:len(work)-1]

		delete(s.unresolved, parent.ID)
		childIDs := s.children[parent.ID]
		delete(s.children, parent.ID)

		for _, childID := range childIDs {
			child, ok := s.tasks[childID]
			if !ok || child.Status != TaskQueued {
				continue
			}

			if parent.Status == TaskCompleted {
				pending := s.unresolved[childID]
				delete(pending, parent.ID)
				if len(pending) == 0 {
					delete(s.unresolved, childID)
					s.enqueue(childID)
				}
				continue
			}

			if s.failQueued(ctx, child, dependencyFailure(parent)) {
				work = append(work, child)
			}
		}
	}
}

// failDependent fails a queued task whose dependency cannot be satisfied and
// cascades the failure.
func (s *Scheduler) failDependent(task *Task, reason string) {
	ctx := s.baseCtx()
	if s.failQueued(ctx, task, reason) {
		s.settle(ctx, task)
	}
}

// failQueued moves a queued task straight to failed. Returns false if the task
// had already left the queued state.
func (s *Scheduler) failQueued(ctx context.Context, task *Task, reason string) bool {
	if task.Status != TaskQueued {
		return false
	}

	now := s.now()
	task.Status = TaskFailed
	task.CompletedAt = &now
	task.ResultBrief = reason
	task.ResultDetail = reason
	s.persist(ctx, task)

	s.logger.Info("task failed by dependency", "taskID", task.ID, "reason", reason)
	return true
}

func dependencyFailure(parent *Task) string {
	return fmt.Sprintf("dependency failed: %s (%s)", parent.Title, parent.ID)
}
