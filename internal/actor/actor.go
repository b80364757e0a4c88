// Package actor provides isolation domains: state that is only touched while
// running on the domain's serial executor.
//
// Code already running on that executor enters inline. Any other caller
// suspends, waits for a turn on the executor, runs, and hops back. If the
// body itself suspends (Sleep, Await, another hop), other callers may enter
// before it resumes, so invariants must hold at every suspension point.
package actor

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/aristath/structured/internal/executor"
	"github.com/aristath/structured/internal/task"
)

// ErrNotIsolated is returned by Assume when the caller is not running on the
// actor's executor.
var ErrNotIsolated = errors.New("actor: not running on the actor's executor")

// Isolation is anything bound to an executor that code can be isolated to.
type Isolation interface {
	Executor() executor.Executor
}

// Actor guards a value of type S with a serial executor.
type Actor[S any] struct {
	ex       executor.Executor
	patience time.Duration
	state    S
}

// Option configures New.
type Option func(*options)

type options struct {
	patience time.Duration
	label    string
}

// WithDeadlockTimeout makes entering the actor fail with
// executor.ErrDeadlockSuspected when no turn is granted within d.
func WithDeadlockTimeout(d time.Duration) Option {
	return func(o *options) { o.patience = d }
}

// WithLabel names the serial executor New creates when given none.
func WithLabel(label string) Option {
	return func(o *options) { o.label = label }
}

// New creates an actor holding initial. With a nil executor the actor gets a
// serial executor of its own.
func New[S any](ex executor.Executor, initial S, opts ...Option) *Actor[S] {
	o := options{label: "actor"}
	for _, opt := range opts {
		opt(&o)
	}

	if ex == nil {
		ex = executor.NewSerial(o.label)
	} else if ex.Mode() != executor.Serial {
		log.Printf("WARNING: actor bound to %s executor %s; state access will not be serialized",
			ex.Mode(), executor.Describe(ex))
	}

	return &Actor[S]{ex: ex, patience: o.patience, state: initial}
}

// Executor returns the executor the actor's state is bound to.
func (a *Actor[S]) Executor() executor.Executor {
	return a.ex
}

// WithIsolation runs body with exclusive access to the actor's state.
func WithIsolation[S, R any](ctx context.Context, a *Actor[S], body func(context.Context, *S) (R, error)) (R, error) {
	var r R
	err := task.RunOn(ctx, a.ex, a.patience, func(ctx context.Context) error {
		var err error
		r, err = body(ctx, &a.state)
		return err
	})
	return r, err
}

// Do is WithIsolation for bodies without a result.
func Do[S any](ctx context.Context, a *Actor[S], body func(context.Context, *S) error) error {
	return task.RunOn(ctx, a.ex, a.patience, func(ctx context.Context) error {
		return body(ctx, &a.state)
	})
}

// Assume returns the state for code that is already isolated to the actor.
// The pointer must not be used after the caller's next suspension point.
func Assume[S any](ctx context.Context, a *Actor[S]) (*S, error) {
	if task.CurrentExecutor(ctx) != a.ex {
		return nil, ErrNotIsolated
	}
	return &a.state, nil
}

// Run runs body isolated to iso.
func Run[R any](ctx context.Context, iso Isolation, body func(context.Context) (R, error)) (R, error) {
	var r R
	err := task.RunOn(ctx, iso.Executor(), 0, func(ctx context.Context) error {
		var err error
		r, err = body(ctx)
		return err
	})
	return r, err
}

// IsIsolated reports whether code under ctx runs on iso's executor.
func IsIsolated(ctx context.Context, iso Isolation) bool {
	return task.CurrentExecutor(ctx) == iso.Executor()
}
