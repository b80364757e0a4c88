package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a task is not in the trace.
var ErrNotFound = errors.New("persistence: task not found")

// TaskRecord is one task as it appears in the trace.
type TaskRecord struct {
	ID         string
	ParentID   string
	Name       string
	Executor   string
	Priority   string
	State      string
	Error      string
	SpawnedAt  time.Time
	StartedAt  time.Time // zero until the task first runs
	FinishedAt time.Time // zero until the task is terminal
}

// Duration is the running time of a finished task.
func (r *TaskRecord) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// EventRecord is a lifecycle note that is not a state change.
type EventRecord struct {
	TaskID string
	Kind   string
	Detail string
	At     time.Time
}

// Store defines the persistence interface for task traces.
type Store interface {
	// Task records
	SaveTask(ctx context.Context, rec *TaskRecord) error
	MarkStarted(ctx context.Context, taskID string, at time.Time) error
	UpdateTaskState(ctx context.Context, taskID, state string, taskErr error, at time.Time) error
	GetTask(ctx context.Context, taskID string) (*TaskRecord, error)
	ListTasks(ctx context.Context) ([]*TaskRecord, error)
	ListChildren(ctx context.Context, parentID string) ([]*TaskRecord, error)

	// Event log
	AppendEvent(ctx context.Context, ev EventRecord) error
	ListEvents(ctx context.Context, taskID string) ([]EventRecord, error)

	// Lifecycle
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode and busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", dbPath)
	return open(ctx, connStr)
}

// NewMemoryStore creates an in-memory SQLite store for testing.
// Each store gets its own named database shared by its connections.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:trace-%s?mode=memory&cache=shared", uuid.NewString())
	return open(ctx, connStr)
}

func open(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer at a time; a second connection serves reads during writes.
	db.SetMaxOpenConns(2)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
