package task

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/google/uuid"

	"github.com/aristath/structured/internal/events"
	"github.com/aristath/structured/internal/executor"
)

type cancelHandler struct {
	id uint64
	fn func()
}

// Task is one unit of structured, cancellable asynchronous work.
type Task struct {
	id         string
	name       string
	parent     weak.Pointer[Task]
	parentID   string
	exec       executor.Executor // where non-isolated code runs
	preference executor.Executor // explicit preference handed down to children, nil if none
	priority   executor.Priority
	bus        *events.EventBus

	ctx       context.Context
	cancelCtx context.CancelCauseFunc
	stopWatch func() bool

	cancelled atomic.Bool

	mu          sync.Mutex
	state       State
	sealed      bool // joined its children; no new ones accepted
	children    map[string]*Task
	handlers    []cancelHandler
	nextHandler uint64
	onTerminal  []func(*Task)
	value       any
	err         error
	spawnedAt   time.Time
	startedAt   time.Time

	done chan struct{}
}

// ID returns the task's unique id.
func (t *Task) ID() string { return t.id }

// Name returns the name given with WithName, or the id.
func (t *Task) Name() string { return t.name }

// ParentID returns the parent's id, or "" for a root task.
func (t *Task) ParentID() string { return t.parentID }

// Parent returns the parent task while it is still reachable.
func (t *Task) Parent() *Task { return t.parent.Value() }

// Executor returns the executor the task's non-isolated code runs on.
func (t *Task) Executor() executor.Executor { return t.exec }

// Priority returns the priority the task's jobs are submitted with.
func (t *Task) Priority() executor.Priority { return t.priority }

// Done is closed once the task is terminal.
func (t *Task) Done() <-chan struct{} { return t.done }

// IsCancelled reports whether cancellation has been requested.
func (t *Task) IsCancelled() bool { return t.cancelled.Load() }

// State returns the current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Children returns the task's live structured children.
func (t *Task) Children() []*Task {
	t.mu.Lock()
	defer t.mu.Unlock()

	kids := make([]*Task, 0, len(t.children))
	for _, c := range t.children {
		kids = append(kids, c)
	}
	return kids
}

// Cancel requests cancellation. The first call sets the flag, runs the
// registered handlers in registration order, cancels the task's context and
// cancels every live child before returning. Later calls do nothing.
func (t *Task) Cancel() {
	if !t.cancelled.CompareAndSwap(false, true) {
		return
	}

	t.mu.Lock()
	handlers := t.handlers
	t.handlers = nil
	kids := make([]*Task, 0, len(t.children))
	for _, c := range t.children {
		kids = append(kids, c)
	}
	t.mu.Unlock()

	t.cancelCtx(ErrCancelled)
	t.publish(events.TaskCancelRequestedEvent{ID: t.id, Timestamp: time.Now()})

	for _, h := range handlers {
		h.fn()
	}
	for _, c := range kids {
		c.Cancel()
	}
}

// OnCancel registers fn to run synchronously when the task is cancelled.
// If it already is, fn runs before OnCancel returns. The returned function
// unregisters fn.
func (t *Task) OnCancel(fn func()) (remove func()) {
	t.mu.Lock()
	if t.cancelled.Load() {
		t.mu.Unlock()
		fn()
		return func() {}
	}

	t.nextHandler++
	id := t.nextHandler
	t.handlers = append(t.handlers, cancelHandler{id: id, fn: fn})
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, h := range t.handlers {
			if h.id == id {
				t.handlers = append(t.handlers[:i], t.handlers[i+1:]...)
				return
			}
		}
	}
}

func (t *Task) setState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.state.Terminal() {
		t.state = s
	}
}

// addChild registers c as a structured child. A child arriving after the
// task joined its children is cancelled at birth.
func (t *Task) addChild(c *Task) {
	t.mu.Lock()
	if t.sealed {
		t.mu.Unlock()
		log.Printf("WARNING: task %q spawned child %q after finishing; cancelling it", t.id, c.id)
		c.Cancel()
		return
	}
	t.children[c.id] = c
	t.mu.Unlock()

	// Cancel sets the flag before it snapshots children, so either the
	// snapshot holds c or this load sees the flag.
	if t.cancelled.Load() {
		c.Cancel()
	}
}

func (t *Task) isDone() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *Task) removeChild(id string) {
	t.mu.Lock()
	delete(t.children, id)
	t.mu.Unlock()
}

func (t *Task) outcome() (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value, t.err
}

func (t *Task) publish(ev events.Event) {
	if t.bus != nil {
		t.bus.Publish(events.TopicTask, ev)
	}
}

// start queues the task's first turn on the spawning goroutine, then runs
// the body on its own goroutine once the turn is granted.
func (t *Task) start(fn func(context.Context) (any, error)) {
	turn, err := executor.Request(t.exec, t.priority)
	go t.run(fn, turn, err)
}

func (t *Task) run(fn func(context.Context) (any, error), turn *executor.Turn, err error) {
	if err == nil {
		err = turn.Wait(0)
	}
	if err != nil {
		t.joinChildren(nil)
		t.finish(nil, err)
		return
	}

	f := &frame{task: t, exec: t.exec, turn: turn, priority: t.priority}
	ctx := withFrame(t.ctx, f)

	t.mu.Lock()
	t.state = StateRunning
	t.startedAt = time.Now()
	t.mu.Unlock()
	t.publish(events.TaskStartedEvent{ID: t.id, Timestamp: time.Now()})

	value, err := invoke(ctx, fn)

	t.joinChildren(f)
	f.release()
	t.finish(value, err)
}

func invoke(ctx context.Context, fn func(context.Context) (any, error)) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrPanic, r, debug.Stack())
		}
	}()
	return fn(ctx)
}

// joinChildren cancels live children and waits for them, until none are left.
func (t *Task) joinChildren(f *frame) {
	for {
		t.mu.Lock()
		kids := make([]*Task, 0, len(t.children))
		for _, c := range t.children {
			// Terminal children are only waiting to unlink themselves.
			if !c.isDone() {
				kids = append(kids, c)
			}
		}
		if len(kids) == 0 {
			t.sealed = true
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()

		for _, c := range kids {
			c.Cancel()
		}
		f.suspend(func() {
			for _, c := range kids {
				<-c.done
			}
		})
	}
}

func (t *Task) finish(value any, err error) {
	state := StateCompleted
	switch {
	case err == nil:
	case errors.Is(err, ErrCancelled):
		state = StateCancelled
	case t.cancelled.Load() && errors.Is(err, context.Canceled):
		state = StateCancelled
		err = ErrCancelled
	default:
		state = StateFailed
	}

	t.mu.Lock()
	t.state = state
	t.sealed = true
	t.value = value
	t.err = err
	hooks := t.onTerminal
	t.onTerminal = nil
	started := t.startedAt
	t.mu.Unlock()

	if t.stopWatch != nil {
		t.stopWatch()
	}
	t.cancelCtx(context.Canceled)

	// The terminal event goes out before done closes.
	var elapsed time.Duration
	if !started.IsZero() {
		elapsed = time.Since(started)
	}
	now := time.Now()
	switch state {
	case StateCompleted:
		t.publish(events.TaskCompletedEvent{ID: t.id, Duration: elapsed, Timestamp: now})
	case StateCancelled:
		t.publish(events.TaskCancelledEvent{ID: t.id, Duration: elapsed, Timestamp: now})
	default:
		t.publish(events.TaskFailedEvent{ID: t.id, Err: err, Duration: elapsed, Timestamp: now})
	}

	close(t.done)

	if parent := t.parent.Value(); parent != nil {
		parent.removeChild(t.id)
	}
	for _, hook := range hooks {
		hook(t)
	}
}

// newTask builds a task in StateCreated and links it to its parent.
// The caller starts it.
func newTask(ctx context.Context, cfg spawnConfig) *Task {
	spawner := Current(ctx)

	parent := cfg.parent
	inherit := spawner
	if cfg.detached {
		inherit = nil
	}
	if parent != nil {
		inherit = parent
	}

	pref := cfg.preference
	if pref == nil && inherit != nil {
		pref = inherit.preference
	}
	exec := pref
	if exec == nil {
		exec = executor.Default()
	}
	if pref == executor.Default() {
		// Asking for the default executor clears an inherited preference.
		pref = nil
	}

	priority := executor.PriorityMedium
	switch {
	case cfg.priority != nil:
		priority = *cfg.priority
	case inherit != nil:
		priority = inherit.priority
	}

	bus := events.FromContext(ctx)
	if bus == nil && inherit != nil {
		bus = inherit.bus
	}

	base := context.WithoutCancel(ctx)
	base = withFrame(base, nil)
	tctx, cancel := context.WithCancelCause(base)

	id := uuid.NewString()
	name := cfg.name
	if name == "" {
		name = id
	}

	t := &Task{
		id:         id,
		name:       name,
		exec:       exec,
		preference: pref,
		priority:   priority,
		bus:        bus,
		ctx:        tctx,
		cancelCtx:  cancel,
		state:      StateCreated,
		children:   make(map[string]*Task),
		spawnedAt:  time.Now(),
		done:       make(chan struct{}),
	}
	if parent != nil {
		t.parent = weak.Make(parent)
		t.parentID = parent.id
	}
	if cfg.onTerminal != nil {
		t.onTerminal = append(t.onTerminal, cfg.onTerminal)
	}

	t.publish(events.TaskSpawnedEvent{
		ID:        t.id,
		ParentID:  t.parentID,
		Name:      t.name,
		Executor:  executor.Describe(exec),
		Priority:  priority.String(),
		Timestamp: t.spawnedAt,
	})

	if parent != nil {
		parent.addChild(t)
	} else if spawner == nil && !cfg.detached && ctx.Done() != nil {
		// Root task started from plain Go code: follow the caller's context.
		t.stopWatch = context.AfterFunc(ctx, t.Cancel)
	}

	return t
}
