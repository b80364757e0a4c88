package task

import "context"

// CheckCancellation returns ErrCancelled if the task running under ctx has
// been cancelled. Outside a task it reports ctx's own cancellation.
func CheckCancellation(ctx context.Context) error {
	if t := Current(ctx); t != nil {
		if t.IsCancelled() {
			return ErrCancelled
		}
		return nil
	}
	return ctxErr(ctx)
}

// IsCancelled reports whether the code running under ctx has been cancelled.
func IsCancelled(ctx context.Context) bool {
	return CheckCancellation(ctx) != nil
}

// WithCancellationHandler runs op with onCancel registered as a cancellation
// handler of the current task. onCancel runs immediately, on the cancelling
// goroutine, if the task is cancelled while op is running, or before op starts
// if the task already is. Outside a task onCancel follows ctx.
func WithCancellationHandler[T any](ctx context.Context, op func(context.Context) (T, error), onCancel func()) (T, error) {
	if t := Current(ctx); t != nil {
		remove := t.OnCancel(onCancel)
		defer remove()
		return op(ctx)
	}

	stop := context.AfterFunc(ctx, onCancel)
	defer stop()
	return op(ctx)
}
