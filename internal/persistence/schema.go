package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		title TEXT NOT NULL,
		prompt TEXT NOT NULL,
		workspace_path TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		group_id TEXT NOT NULL DEFAULT '',
		task_key TEXT NOT NULL DEFAULT '',
		handoff TEXT,
		loop_config TEXT,
		result_brief TEXT NOT NULL DEFAULT '',
		result_detail TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		started_at TEXT,
		completed_at TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_thread_id ON tasks(thread_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at);

	-- depends_on_id has no foreign key: dependents outlive removed parents
	CREATE TABLE IF NOT EXISTS task_dependencies (
		task_id TEXT NOT NULL,
		depends_on_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (task_id, depends_on_id),
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_task_dependencies_task_id ON task_dependencies(task_id);

	CREATE TABLE IF NOT EXISTS threads (
		thread_id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		workspace_path TEXT NOT NULL DEFAULT '',
		started INTEGER NOT NULL DEFAULT 0,
		loop_config TEXT,
		loop_started_at TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS conversation_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_conversation_history_conversation
		ON conversation_history(conversation, timestamp);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
