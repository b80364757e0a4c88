package task

import (
	"context"
	"fmt"
	"time"
)

// WithTimeout runs work as a child of the current task and races it against
// a timer task that cancels it after d. Work that ends in cancellation after
// the timer fired reports an ErrTimeout-wrapped error.
func WithTimeout[T any](ctx context.Context, d time.Duration, work Work[T], opts ...Option) (T, error) {
	cfg := buildConfig(opts)
	if cur := Current(ctx); cur != nil && cfg.parent == nil && !cfg.detached {
		cfg.parent = cur
	}
	target := spawn(ctx, work, cfg)
	h := &Handle[T]{t: target}

	timerCfg := spawnConfig{parent: cfg.parent, name: "timeout:" + target.name}
	var fired bool
	timer := spawn(ctx, func(ctx context.Context) (struct{}, error) {
		if err := Sleep(ctx, d); err != nil {
			return struct{}{}, err
		}
		fired = true
		target.Cancel()
		return struct{}{}, nil
	}, timerCfg)

	v, err := h.Await(ctx)

	timer.Cancel()
	select {
	case <-target.done:
	default:
		target.Cancel()
	}
	frameOf(ctx).suspend(func() {
		<-timer.done
		<-target.done
	})

	if err != nil && fired && IsCancellation(err) {
		return v, fmt.Errorf("%w after %s: %w", ErrTimeout, d, err)
	}
	return v, err
}
