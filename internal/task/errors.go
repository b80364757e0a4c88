package task

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrCancelled reports cooperative cancellation. It is not an
	// application failure; errors.Is(ErrCancelled, context.Canceled) holds.
	ErrCancelled error = cancelledError{}

	// ErrGroupClosed is returned by Group.Go after the group scope has exited.
	ErrGroupClosed = errors.New("task: group is closed")

	// ErrPanic wraps a panic recovered from a task body.
	ErrPanic = errors.New("task: panic recovered")

	// ErrNilWork is the failure of a task spawned without a body.
	ErrNilWork = errors.New("task: nil work")

	// ErrTimeout wraps the cancellation of work stopped by WithTimeout.
	ErrTimeout = errors.New("task: timed out")
)

type cancelledError struct{}

func (cancelledError) Error() string { return "task: cancelled" }

func (cancelledError) Is(target error) bool { return target == context.Canceled }

// ChildTaskFailedError is how a group reports the error of one of its children.
type ChildTaskFailedError struct {
	TaskID string
	Err    error
}

func (e *ChildTaskFailedError) Error() string {
	return fmt.Sprintf("task: child %s failed: %v", e.TaskID, e.Err)
}

func (e *ChildTaskFailedError) Unwrap() error {
	return e.Err
}

// IsCancellation reports whether err stems from cancellation rather than a failure.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

// ctxErr converts a finished context into the error a suspension point returns.
func ctxErr(ctx context.Context) error {
	cause := context.Cause(ctx)
	if cause == nil {
		return nil
	}
	if errors.Is(cause, context.Canceled) {
		return ErrCancelled
	}
	return cause
}
