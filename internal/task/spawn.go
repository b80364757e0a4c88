package task

import (
	"context"
	"runtime"

	"github.com/aristath/structured/internal/executor"
)

// Work is the body of a task.
type Work[T any] func(ctx context.Context) (T, error)

// Option configures Spawn and Group.Go.
type Option func(*spawnConfig)

type spawnConfig struct {
	parent     *Task
	preference executor.Executor
	priority   *executor.Priority
	name       string
	detached   bool
	onTerminal func(*Task)
}

// WithParent makes the new task a structured child of parent: cancelling the
// parent cancels it, and the parent does not finish before it does.
func WithParent(parent *Task) Option {
	return func(c *spawnConfig) { c.parent = parent }
}

// OnExecutor sets the executor the task's non-isolated code runs on. Children
// inherit the preference. Passing executor.Default() clears an inherited one.
func OnExecutor(ex executor.Executor) Option {
	return func(c *spawnConfig) { c.preference = ex }
}

// WithPriority sets the priority of the task's jobs.
func WithPriority(p executor.Priority) Option {
	return func(c *spawnConfig) { c.priority = &p }
}

// WithName labels the task for events and traces.
func WithName(name string) Option {
	return func(c *spawnConfig) { c.name = name }
}

// Detached spawns a root task that inherits nothing from the spawning code.
func Detached() Option {
	return func(c *spawnConfig) { c.detached = true }
}

func buildConfig(opts []Option) spawnConfig {
	var cfg spawnConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Handle is the client's reference to a spawned task. When the last
// reference to a handle of a live task is dropped, the task is cancelled.
type Handle[T any] struct {
	t *Task
}

// Spawn creates a task running work and schedules its first job.
func Spawn[T any](ctx context.Context, work Work[T], opts ...Option) *Handle[T] {
	t := spawn(ctx, work, buildConfig(opts))
	h := &Handle[T]{t: t}
	runtime.AddCleanup(h, func(t *Task) {
		if !t.State().Terminal() {
			t.Cancel()
		}
	}, t)
	return h
}

func spawn[T any](ctx context.Context, work Work[T], cfg spawnConfig) *Task {
	t := newTask(ctx, cfg)
	t.start(bodyOf(work))
	return t
}

// Task returns the underlying task.
func (h *Handle[T]) Task() *Task { return h.t }

// ID returns the task's id.
func (h *Handle[T]) ID() string { return h.t.id }

// Cancel requests cancellation of the task and its structured children.
func (h *Handle[T]) Cancel() { h.t.Cancel() }

// IsCancelled reports whether cancellation has been requested.
func (h *Handle[T]) IsCancelled() bool { return h.t.IsCancelled() }

// State returns the task's lifecycle state.
func (h *Handle[T]) State() State { return h.t.State() }

// Done is closed once the task is terminal.
func (h *Handle[T]) Done() <-chan struct{} { return h.t.done }

// Await suspends until the task is terminal and returns its result. If the
// awaiting code is itself cancelled first, Await returns ErrCancelled and the
// awaited task keeps running.
func (h *Handle[T]) Await(ctx context.Context) (T, error) {
	defer runtime.KeepAlive(h)

	var zero T
	select {
	case <-h.t.done:
		return h.result()
	default:
	}

	var interrupted error
	frameOf(ctx).suspend(func() {
		select {
		case <-h.t.done:
		case <-ctx.Done():
			interrupted = ctxErr(ctx)
		}
	})
	if interrupted != nil {
		return zero, interrupted
	}
	return h.result()
}

// TryResult returns the result if the task is terminal.
func (h *Handle[T]) TryResult() (T, bool, error) {
	select {
	case <-h.t.done:
		v, err := h.result()
		return v, true, err
	default:
		var zero T
		return zero, false, nil
	}
}

func (h *Handle[T]) result() (T, error) {
	value, err := h.t.outcome()
	v, _ := value.(T)
	return v, err
}
