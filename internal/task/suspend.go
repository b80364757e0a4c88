package task

import (
	"context"
	"time"
)

// Sleep suspends for d, giving the executor to other work meanwhile. It
// returns ErrCancelled as soon as the task is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	if err := CheckCancellation(ctx); err != nil {
		return err
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	var err error
	frameOf(ctx).suspend(func() {
		select {
		case <-timer.C:
		case <-ctx.Done():
			err = ctxErr(ctx)
		}
	})
	return err
}

// Yield gives other queued work on the executor a chance to run.
func Yield(ctx context.Context) error {
	frameOf(ctx).suspend(func() {})
	return CheckCancellation(ctx)
}

// WaitFor suspends until ch delivers a value or is closed, returning ok=false
// in the latter case.
func WaitFor[V any](ctx context.Context, ch <-chan V) (v V, ok bool, err error) {
	if err := CheckCancellation(ctx); err != nil {
		return v, false, err
	}

	frameOf(ctx).suspend(func() {
		select {
		case v, ok = <-ch:
		case <-ctx.Done():
			err = ctxErr(ctx)
		}
	})
	return v, ok, err
}
