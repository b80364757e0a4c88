package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
// Timestamps are unix nanoseconds; 0 means "not yet".
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		parent_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		executor TEXT NOT NULL,
		priority TEXT NOT NULL,
		state TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		spawned_at INTEGER NOT NULL,
		started_at INTEGER NOT NULL DEFAULT 0,
		finished_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_parent_id ON tasks(parent_id);

	CREATE TABLE IF NOT EXISTS task_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_task_events_task_at ON task_events(task_id, at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
