// Package executor decides where code runs.
//
// An Executor owns a job queue and runs submitted jobs either one at a time
// (Serial, Manual) or in parallel on a bounded worker pool (Concurrent).
// Tasks do not call Submit directly; they Acquire a Turn, which occupies one
// execution slot of the executor for as long as the calling goroutine holds it.
package executor

import (
	"errors"
	"fmt"
)

// Mode describes the execution guarantee an executor gives.
type Mode int

const (
	Serial     Mode = iota // At most one job at any instant, FIFO per priority
	Concurrent             // Jobs may overlap; no mutual exclusion
)

func (m Mode) String() string {
	switch m {
	case Serial:
		return "serial"
	case Concurrent:
		return "concurrent"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

var (
	// ErrExecutorClosed is returned by Submit after Shutdown.
	ErrExecutorClosed = errors.New("executor: closed")

	// ErrDeadlockSuspected is a diagnostic returned when a turn could not be
	// acquired within the caller's patience.
	ErrDeadlockSuspected = errors.New("executor: deadlock suspected")
)

// Executor runs submitted jobs.
type Executor interface {
	// ID is unique per executor instance.
	ID() string
	// Label is the human-readable name given at construction.
	Label() string
	Mode() Mode
	// Submit enqueues a job. It never blocks on the job itself.
	Submit(job Job) error
	// Shutdown rejects further submissions. Jobs already queued still run.
	Shutdown()
}

// Describe renders an executor for logs and events.
func Describe(ex Executor) string {
	if ex == nil {
		return "<none>"
	}
	return fmt.Sprintf("%s(%s)", ex.Label(), ex.Mode())
}
