package executor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const (
	turnPending int32 = iota
	turnGranted
	turnAbandoned
)

// Turn is one execution slot of an executor, held by the goroutine that
// acquired it. While a turn on a serial executor is held, no other job on
// that executor runs.
type Turn struct {
	ex       Executor
	state    atomic.Int32
	granted  chan struct{}
	released chan struct{}
	once     sync.Once
}

// Acquire submits a job to ex that parks its worker until the returned Turn
// is released, and blocks until that job starts.
//
// patience bounds the wait; 0 waits forever. When it runs out, the queued job
// is abandoned (it returns immediately once it runs) and Acquire fails with
// ErrDeadlockSuspected.
func Acquire(ex Executor, priority Priority, patience time.Duration) (*Turn, error) {
	t, err := Request(ex, priority)
	if err != nil {
		return nil, err
	}
	if err := t.Wait(patience); err != nil {
		return nil, err
	}
	return t, nil
}

// Request submits the turn's job without waiting for it to start. The job
// takes its place in ex's queue at the moment Request returns, so turns
// requested one after another on a serial executor are granted in that order.
// The caller must Wait on the turn.
func Request(ex Executor, priority Priority) (*Turn, error) {
	t := &Turn{
		ex:       ex,
		granted:  make(chan struct{}),
		released: make(chan struct{}),
	}

	err := ex.Submit(Job{
		Priority: priority,
		Run: func() {
			if !t.state.CompareAndSwap(turnPending, turnGranted) {
				return
			}
			close(t.granted)
			<-t.released
		},
	})
	if err != nil {
		return nil, fmt.Errorf("acquiring turn on %s: %w", Describe(ex), err)
	}
	return t, nil
}

// Wait blocks until the requested turn starts. patience bounds the wait the
// same way it does for Acquire; after a timeout the turn is abandoned and
// must not be used.
func (t *Turn) Wait(patience time.Duration) error {
	if patience <= 0 {
		<-t.granted
		return nil
	}

	timer := time.NewTimer(patience)
	defer timer.Stop()

	select {
	case <-t.granted:
		return nil
	case <-timer.C:
		if t.state.CompareAndSwap(turnPending, turnAbandoned) {
			return fmt.Errorf("%w: no turn on %s after %s", ErrDeadlockSuspected, Describe(t.ex), patience)
		}
		// Granted between the timer firing and the swap.
		<-t.granted
		return nil
	}
}

// Executor returns the executor this turn belongs to.
func (t *Turn) Executor() Executor {
	return t.ex
}

// Release gives the slot back. Safe to call more than once.
func (t *Turn) Release() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		close(t.released)
	})
}
