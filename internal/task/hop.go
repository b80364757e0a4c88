package task

import (
	"context"
	"time"

	"github.com/aristath/structured/internal/executor"
)

// RunOn runs fn while holding a turn on ex. If the code under ctx is already
// running on ex, fn runs inline. Otherwise the caller gives up its own turn,
// waits for one on ex, runs fn, and resumes on its original executor.
//
// A positive patience bounds the wait for ex; running out of it fails with
// executor.ErrDeadlockSuspected.
func RunOn(ctx context.Context, ex executor.Executor, patience time.Duration, fn func(context.Context) error) error {
	outer := frameOf(ctx)
	if outer != nil && outer.exec == ex {
		return fn(ctx)
	}

	inner := &frame{exec: ex, priority: executor.PriorityMedium}
	if outer != nil {
		inner.task = outer.task
		inner.priority = outer.priority
	}

	var err error
	outer.suspend(func() {
		turn, aerr := executor.Acquire(ex, inner.priority, patience)
		if aerr != nil {
			err = aerr
			return
		}
		inner.turn = turn
		defer inner.release()

		if inner.task != nil {
			inner.task.setState(StateRunning)
		}
		err = fn(withFrame(ctx, inner))
	})
	return err
}
