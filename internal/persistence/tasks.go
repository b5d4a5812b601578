package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Antony-Jia/butler/internal/scheduler"
)

const taskColumns = `id, thread_id, mode, title, prompt, workspace_path, status, group_id, task_key,
	handoff, loop_config, result_brief, result_detail, created_at, started_at, completed_at`

// Put saves or updates a task and its dependency list.
// Uses ON CONFLICT to make saves idempotent.
func (s *SQLiteStore) Put(ctx context.Context, task *scheduler.Task) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	handoff, err := marshalNullable(task.Handoff)
	if err != nil {
		return fmt.Errorf("failed to encode handoff: %w", err)
	}
	loopConfig, err := marshalNullable(task.LoopConfig)
	if err != nil {
		return fmt.Errorf("failed to encode loop config: %w", err)
	}

	// Begin transaction with serializable isolation (BEGIN IMMEDIATE)
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			thread_id = excluded.thread_id,
			mode = excluded.mode,
			title = excluded.title,
			prompt = excluded.prompt,
			workspace_path = excluded.workspace_path,
			status = excluded.status,
			group_id = excluded.group_id,
			task_key = excluded.task_key,
			handoff = excluded.handoff,
			loop_config = excluded.loop_config,
			result_brief = excluded.result_brief,
			result_detail = excluded.result_detail,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			updated_at = CURRENT_TIMESTAMP
	`,
		task.ID, task.ThreadID, string(task.Mode), task.Title, task.Prompt, task.WorkspacePath,
		string(task.Status), task.GroupID, task.TaskKey, handoff, loopConfig,
		task.ResultBrief, task.ResultDetail, formatTime(task.CreatedAt),
		formatTimePtr(task.StartedAt), formatTimePtr(task.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert task: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_dependencies WHERE task_id = ?`, task.ID); err != nil {
		return fmt.Errorf("failed to delete old dependencies: %w", err)
	}

	for i, depID := range task.DependsOnTaskIDs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO task_dependencies (task_id, depends_on_id, position)
			VALUES (?, ?, ?)
		`, task.ID, depID, i)
		if err != nil {
			return fmt.Errorf("failed to insert dependency %s -> %s: %w", task.ID, depID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetTask retrieves a task by ID, including its dependencies.
func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (*scheduler.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, taskID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT depends_on_id
		FROM task_dependencies
		WHERE task_id = ?
		ORDER BY position
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var depID string
		if err := rows.Scan(&depID); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		task.DependsOnTaskIDs = append(task.DependsOnTaskIDs, depID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", err)
	}

	return task, nil
}

// List returns all tasks with their dependencies, oldest first.
func (s *SQLiteStore) List(ctx context.Context) ([]*scheduler.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}

	tasks := []*scheduler.Task{}
	byID := make(map[string]*scheduler.Task)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
		byID[task.ID] = task
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	// Load every dependency edge in one pass
	depRows, err := s.db.QueryContext(ctx, `
		SELECT task_id, depends_on_id
		FROM task_dependencies
		ORDER BY task_id, position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer depRows.Close()

	for depRows.Next() {
		var taskID, depID string
		if err := depRows.Scan(&taskID, &depID); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		if task, ok := byID[taskID]; ok {
			task.DependsOnTaskIDs = append(task.DependsOnTaskIDs, depID)
		}
	}
	if err := depRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", err)
	}

	return tasks, nil
}

// Remove deletes tasks by ID. Their dependency rows go with them.
func (s *SQLiteStore) Remove(ctx context.Context, taskIDs []string) error {
	if len(taskIDs) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range taskIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete task %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*scheduler.Task, error) {
	var (
		task                   scheduler.Task
		mode, status           string
		handoff, loopConfig    sql.NullString
		createdAt              string
		startedAt, completedAt sql.NullString
	)

	err := row.Scan(&task.ID, &task.ThreadID, &mode, &task.Title, &task.Prompt, &task.WorkspacePath,
		&status, &task.GroupID, &task.TaskKey, &handoff, &loopConfig,
		&task.ResultBrief, &task.ResultDetail, &createdAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	task.Mode = scheduler.Mode(mode)
	task.Status = scheduler.TaskStatus(status)
	if !task.Status.Valid() {
		return nil, fmt.Errorf("task %s has unknown status %q", task.ID, status)
	}

	if task.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("task %s: bad created_at: %w", task.ID, err)
	}
	if task.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, fmt.Errorf("task %s: bad started_at: %w", task.ID, err)
	}
	if task.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, fmt.Errorf("task %s: bad completed_at: %w", task.ID, err)
	}

	if handoff.Valid {
		task.Handoff = &scheduler.Handoff{}
		if err := json.Unmarshal([]byte(handoff.String), task.Handoff); err != nil {
			return nil, fmt.Errorf("task %s: bad handoff: %w", task.ID, err)
		}
	}
	if loopConfig.Valid {
		task.LoopConfig = &scheduler.LoopConfig{}
		if err := json.Unmarshal([]byte(loopConfig.String), task.LoopConfig); err != nil {
			return nil, fmt.Errorf("task %s: bad loop config: %w", task.ID, err)
		}
	}

	return &task, nil
}

// marshalNullable encodes v as JSON, or NULL when v is a nil pointer.
func marshalNullable[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
