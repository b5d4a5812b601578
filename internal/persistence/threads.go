package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Antony-Jia/butler/internal/scheduler"
)

// SaveThread records a thread. Re-saving an existing thread refreshes its
// title and workspace but keeps its session and loop state.
func (s *SQLiteStore) SaveThread(ctx context.Context, thread Thread) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO threads (thread_id, mode, title, workspace_path)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			title = excluded.title,
			workspace_path = excluded.workspace_path
	`, thread.ID, string(thread.Mode), thread.Title, thread.WorkspacePath)
	if err != nil {
		return fmt.Errorf("failed to save thread: %w", err)
	}
	return nil
}

// GetThread retrieves a thread. Returns an error wrapping ErrNotFound if it
// does not exist.
func (s *SQLiteStore) GetThread(ctx context.Context, threadID string) (Thread, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT thread_id, mode, title, workspace_path, started, loop_config, loop_started_at, created_at
		FROM threads
		WHERE thread_id = ?
	`, threadID)

	thread, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Thread{}, fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	if err != nil {
		return Thread{}, fmt.Errorf("failed to query thread: %w", err)
	}
	return thread, nil
}

// ThreadExists reports whether a thread record exists.
func (s *SQLiteStore) ThreadExists(ctx context.Context, threadID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM threads WHERE thread_id = ?`, threadID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query thread: %w", err)
	}
	return true, nil
}

// MarkThreadStarted records that an agent session was opened on the thread.
func (s *SQLiteStore) MarkThreadStarted(ctx context.Context, threadID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return s.updateThread(ctx, `UPDATE threads SET started = 1 WHERE thread_id = ?`, threadID)
}

// StartLoop stores a loop configuration on the thread and marks the loop active.
func (s *SQLiteStore) StartLoop(ctx context.Context, threadID string, cfg scheduler.LoopConfig) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	encoded, err := marshalNullable(&cfg)
	if err != nil {
		return fmt.Errorf("failed to encode loop config: %w", err)
	}

	return s.updateThread(ctx, `
		UPDATE threads SET loop_config = ?, loop_started_at = ? WHERE thread_id = ?
	`, encoded, formatTime(time.Now()), threadID)
}

// ListLoops returns every thread with an active loop, oldest first.
func (s *SQLiteStore) ListLoops(ctx context.Context) ([]Thread, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, mode, title, workspace_path, started, loop_config, loop_started_at, created_at
		FROM threads
		WHERE loop_config IS NOT NULL
		ORDER BY loop_started_at, thread_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query loops: %w", err)
	}
	defer rows.Close()

	loops := []Thread{}
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}
		loops = append(loops, thread)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating loops: %w", err)
	}

	return loops, nil
}

func (s *SQLiteStore) updateThread(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update thread: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("thread %v: %w", args[len(args)-1], ErrNotFound)
	}
	return nil
}

func scanThread(row rowScanner) (Thread, error) {
	var (
		thread        Thread
		mode          string
		started       int
		loopConfig    sql.NullString
		loopStartedAt sql.NullString
	)

	err := row.Scan(&thread.ID, &mode, &thread.Title, &thread.WorkspacePath, &started,
		&loopConfig, &loopStartedAt, &thread.CreatedAt)
	if err != nil {
		return Thread{}, err
	}

	thread.Mode = scheduler.Mode(mode)
	thread.Started = started != 0

	if loopConfig.Valid {
		thread.Loop = &scheduler.LoopConfig{}
		if err := json.Unmarshal([]byte(loopConfig.String), thread.Loop); err != nil {
			return Thread{}, fmt.Errorf("thread %s: bad loop config: %w", thread.ID, err)
		}
	}
	if thread.LoopStartedAt, err = parseTimePtr(loopStartedAt); err != nil {
		return Thread{}, fmt.Errorf("thread %s: bad loop_started_at: %w", thread.ID, err)
	}

	return thread, nil
}
