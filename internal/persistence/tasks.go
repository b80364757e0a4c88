package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const taskColumns = `id, parent_id, name, executor, priority, state, error, spawned_at, started_at, finished_at`

// SaveTask saves or updates a task record.
// Uses ON CONFLICT to make saves idempotent.
func (s *SQLiteStore) SaveTask(ctx context.Context, rec *TaskRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			parent_id = excluded.parent_id,
			name = excluded.name,
			executor = excluded.executor,
			priority = excluded.priority,
			state = excluded.state,
			error = excluded.error,
			spawned_at = excluded.spawned_at,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`, rec.ID, rec.ParentID, rec.Name, rec.Executor, rec.Priority, rec.State, rec.Error,
		toNanos(rec.SpawnedAt), toNanos(rec.StartedAt), toNanos(rec.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert task: %w", err)
	}
	return nil
}

// MarkStarted records when a task first ran.
func (s *SQLiteStore) MarkStarted(ctx context.Context, taskID string, at time.Time) error {
	return s.update(ctx, taskID, `
		UPDATE tasks
		SET state = 'running', started_at = ?
		WHERE id = ? AND finished_at = 0
	`, toNanos(at), taskID)
}

// UpdateTaskState records a state change. Terminal states also set finished_at.
func (s *SQLiteStore) UpdateTaskState(ctx context.Context, taskID, state string, taskErr error, at time.Time) error {
	errorStr := ""
	if taskErr != nil {
		errorStr = taskErr.Error()
	}

	finished := int64(0)
	switch state {
	case "completed", "cancelled", "failed":
		finished = toNanos(at)
	}

	return s.update(ctx, taskID, `
		UPDATE tasks
		SET state = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, state, errorStr, finished, taskID)
}

func (s *SQLiteStore) update(ctx context.Context, taskID, query string, args ...any) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", taskID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, taskID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, taskID)
		}
		if err != nil {
			return fmt.Errorf("failed to check task existence: %w", err)
		}
		// Late start event for a task that already finished.
		return nil
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (*TaskRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, taskID)
	rec, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}
	return rec, nil
}

// ListTasks returns all tasks in spawn order.
func (s *SQLiteStore) ListTasks(ctx context.Context) ([]*TaskRecord, error) {
	return s.query(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY spawned_at, id`)
}

// ListChildren returns the direct children of a task in spawn order.
func (s *SQLiteStore) ListChildren(ctx context.Context, parentID string) ([]*TaskRecord, error) {
	return s.query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE parent_id = ? ORDER BY spawned_at, id`, parentID)
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]*TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*TaskRecord
	for rows.Next() {
		rec, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*TaskRecord, error) {
	rec := &TaskRecord{}
	var spawned, started, finished int64
	err := row.Scan(&rec.ID, &rec.ParentID, &rec.Name, &rec.Executor, &rec.Priority,
		&rec.State, &rec.Error, &spawned, &started, &finished)
	if err != nil {
		return nil, err
	}
	rec.SpawnedAt = fromNanos(spawned)
	rec.StartedAt = fromNanos(started)
	rec.FinishedAt = fromNanos(finished)
	return rec, nil
}

// AppendEvent adds a lifecycle note to the event log.
func (s *SQLiteStore) AppendEvent(ctx context.Context, ev EventRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_events (task_id, kind, detail, at)
		VALUES (?, ?, ?, ?)
	`, ev.TaskID, ev.Kind, ev.Detail, toNanos(ev.At))
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// ListEvents returns a task's lifecycle notes in order.
func (s *SQLiteStore) ListEvents(ctx context.Context, taskID string) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, kind, detail, at
		FROM task_events
		WHERE task_id = ?
		ORDER BY at, id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var ev EventRecord
		var at int64
		if err := rows.Scan(&ev.TaskID, &ev.Kind, &ev.Detail, &at); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.At = fromNanos(at)
		out = append(out, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return out, nil
}
