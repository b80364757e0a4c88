package task

import (
	"context"
	"sync"
	"sync/atomic"
)

// Result is one child's outcome as returned by Group.NextResult.
type Result[T any] struct {
	TaskID string
	Value  T
	Err    error
}

// Group is a scope owning a set of sibling child tasks. It is only valid
// inside the body passed to WithGroup.
type Group[T any] struct {
	ctx     context.Context
	owner   *Task
	discard bool

	cancelled atomic.Bool

	mu        sync.Mutex
	closed    bool
	members   map[string]*Task
	completed []Result[T]
	firstErr  *ChildTaskFailedError

	wg     sync.WaitGroup
	signal chan struct{}
}

func newGroup[T any](ctx context.Context, discard bool) *Group[T] {
	return &Group[T]{
		ctx:     ctx,
		owner:   Current(ctx),
		discard: discard,
		members: make(map[string]*Task),
		signal:  make(chan struct{}, 1),
	}
}

// WithGroup runs body with a new group. Whichever way body returns, the
// group cancels its live children and waits for all of them before WithGroup
// returns. The error is body's, or else the first child failure.
func WithGroup[T, R any](ctx context.Context, body func(context.Context, *Group[T]) (R, error)) (R, error) {
	g := newGroup[T](ctx, false)
	if g.owner == nil && ctx.Done() != nil {
		stop := context.AfterFunc(ctx, g.Cancel)
		defer stop()
	}

	r, err := runGroupBody(ctx, g, body)
	if cerr := g.exit(true); err == nil && cerr != nil {
		var zero R
		return zero, cerr
	}
	return r, err
}

func runGroupBody[T, R any](ctx context.Context, g *Group[T], body func(context.Context, *Group[T]) (R, error)) (r R, err error) {
	defer func() {
		if p := recover(); p != nil {
			g.exit(true)
			panic(p)
		}
	}()
	return body(ctx, g)
}

// OwnerID returns the id of the task that opened the group, or "".
func (g *Group[T]) OwnerID() string {
	if g.owner == nil {
		return ""
	}
	return g.owner.id
}

// Go adds a child task running work (addTask). The child is a structured
// child of the group's owner and inherits its executor preference unless
// OnExecutor is given. Go fails with ErrGroupClosed once the scope has exited.
func (g *Group[T]) Go(work Work[T], opts ...Option) error {
	cfg := buildConfig(opts)
	cfg.parent = g.owner
	cfg.detached = false

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrGroupClosed
	}
	g.wg.Add(1)
	g.mu.Unlock()

	cfg.onTerminal = g.childDone
	t := newTask(g.ctx, cfg)

	g.mu.Lock()
	g.members[t.id] = t
	g.mu.Unlock()

	if g.cancelled.Load() {
		t.Cancel()
	}
	t.start(bodyOf(work))
	return nil
}

// GoUnlessCancelled adds a child only if the group is not cancelled.
func (g *Group[T]) GoUnlessCancelled(work Work[T], opts ...Option) bool {
	if g.IsCancelled() {
		return false
	}
	return g.Go(work, opts...) == nil
}

// Cancel cancels every live child. Children added later start cancelled.
func (g *Group[T]) Cancel() {
	g.cancelled.Store(true)

	g.mu.Lock()
	live := make([]*Task, 0, len(g.members))
	for _, t := range g.members {
		live = append(live, t)
	}
	g.mu.Unlock()

	for _, t := range live {
		t.Cancel()
	}
}

// IsCancelled reports whether the group or its owner has been cancelled.
func (g *Group[T]) IsCancelled() bool {
	if g.cancelled.Load() {
		return true
	}
	return g.owner != nil && g.owner.IsCancelled()
}

// Len returns the number of children that are not yet terminal.
func (g *Group[T]) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.members)
}

// Next returns the next child value in completion order. ok is false once
// every child has been consumed. A child error cancels the remaining
// children and is returned as *ChildTaskFailedError.
func (g *Group[T]) Next(ctx context.Context) (value T, ok bool, err error) {
	r, ok, err := g.NextResult(ctx)
	if err != nil || !ok {
		return value, false, err
	}
	if r.Err != nil {
		g.Cancel()
		return value, false, &ChildTaskFailedError{TaskID: r.TaskID, Err: r.Err}
	}
	return r.Value, true, nil
}

// NextResult is Next without the error policy: failed children come back as
// results and nothing is cancelled. err is only set if the caller itself is
// cancelled while waiting.
func (g *Group[T]) NextResult(ctx context.Context) (Result[T], bool, error) {
	for {
		g.mu.Lock()
		if len(g.completed) > 0 {
			r := g.completed[0]
			g.completed = g.completed[1:]
			g.mu.Unlock()
			return r, true, nil
		}
		if len(g.members) == 0 {
			g.mu.Unlock()
			return Result[T]{}, false, nil
		}
		g.mu.Unlock()

		var err error
		frameOf(ctx).suspend(func() {
			select {
			case <-g.signal:
			case <-ctx.Done():
				err = ctxErr(ctx)
			}
		})
		if err != nil {
			return Result[T]{}, false, err
		}
	}
}

// Wait consumes every remaining child, stopping at the first failure.
func (g *Group[T]) Wait(ctx context.Context) error {
	for {
		_, ok, err := g.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
}

// childDone runs once per child, after it is terminal. Completions are
// queued in the order they are observed here.
func (g *Group[T]) childDone(t *Task) {
	value, err := t.outcome()
	v, _ := value.(T)

	g.mu.Lock()
	delete(g.members, t.id)
	failed := false
	if err != nil && !(IsCancellation(err) && g.IsCancelled()) && g.firstErr == nil {
		g.firstErr = &ChildTaskFailedError{TaskID: t.id, Err: err}
		failed = true
	}
	if !g.discard {
		g.completed = append(g.completed, Result[T]{TaskID: t.id, Value: v, Err: err})
	}
	g.mu.Unlock()

	select {
	case g.signal <- struct{}{}:
	default:
	}

	if failed && g.discard {
		g.Cancel()
	}
	g.wg.Done()
}

// exit closes the group, cancels live children if cancel is set, and waits
// until every child is terminal. It returns the first child failure.
func (g *Group[T]) exit(cancel bool) error {
	g.mu.Lock()
	already := g.closed
	g.closed = true
	g.mu.Unlock()

	if !already {
		if cancel {
			g.Cancel()
		}
		frameOf(g.ctx).suspend(g.wg.Wait)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.firstErr == nil {
		return nil
	}
	return g.firstErr
}

func bodyOf[T any](work Work[T]) func(context.Context) (any, error) {
	if work == nil {
		return func(context.Context) (any, error) { return nil, ErrNilWork }
	}
	return func(ctx context.Context) (any, error) {
		return work(ctx)
	}
}

// DiscardingGroup is a group whose children only report success or failure.
// The first failure cancels the other children at once.
type DiscardingGroup struct {
	g *Group[struct{}]
}

// WithDiscardingGroup runs body with a new discarding group. On a normal
// return it waits for all children; if body fails, the children are
// cancelled first. The error is body's, or else the first child failure.
func WithDiscardingGroup(ctx context.Context, body func(context.Context, *DiscardingGroup) error) error {
	g := newGroup[struct{}](ctx, true)
	if g.owner == nil && ctx.Done() != nil {
		stop := context.AfterFunc(ctx, g.Cancel)
		defer stop()
	}

	dg := &DiscardingGroup{g: g}
	_, err := runGroupBody(ctx, g, func(ctx context.Context, _ *Group[struct{}]) (struct{}, error) {
		return struct{}{}, body(ctx, dg)
	})
	if cerr := g.exit(err != nil); err == nil && cerr != nil {
		return cerr
	}
	return err
}

// Go adds a child task running work.
func (d *DiscardingGroup) Go(work func(context.Context) error, opts ...Option) error {
	return d.g.Go(discardWork(work), opts...)
}

// GoUnlessCancelled adds a child only if the group is not cancelled.
func (d *DiscardingGroup) GoUnlessCancelled(work func(context.Context) error, opts ...Option) bool {
	return d.g.GoUnlessCancelled(discardWork(work), opts...)
}

// Cancel cancels every live child.
func (d *DiscardingGroup) Cancel() { d.g.Cancel() }

// IsCancelled reports whether the group or its owner has been cancelled.
func (d *DiscardingGroup) IsCancelled() bool { return d.g.IsCancelled() }

// Len returns the number of children that are not yet terminal.
func (d *DiscardingGroup) Len() int { return d.g.Len() }

func discardWork(work func(context.Context) error) Work[struct{}] {
	if work == nil {
		return nil
	}
	return func(ctx context.Context) (struct{}, error) {
		return struct{}{}, work(ctx)
	}
}
