package task

import (
	"context"
	"log"

	"github.com/aristath/structured/internal/executor"
)

// frame is the explicit "where am I running" token carried in a context.
// A frame is owned by one goroutine; turn changes at every suspension.
type frame struct {
	task     *Task // nil for code that is not part of a task
	exec     executor.Executor
	turn     *executor.Turn
	priority executor.Priority
}

type frameKey struct{}

func withFrame(ctx context.Context, f *frame) context.Context {
	return context.WithValue(ctx, frameKey{}, f)
}

func frameOf(ctx context.Context) *frame {
	f, _ := ctx.Value(frameKey{}).(*frame)
	return f
}

// Current returns the task whose code is running under ctx, or nil.
func Current(ctx context.Context) *Task {
	if f := frameOf(ctx); f != nil {
		return f.task
	}
	return nil
}

// CurrentExecutor returns the executor code under ctx is running on, or nil
// when ctx does not belong to code scheduled by this package.
func CurrentExecutor(ctx context.Context) executor.Executor {
	if f := frameOf(ctx); f != nil {
		return f.exec
	}
	return nil
}

// suspend gives the frame's turn back, runs wait, then takes a new turn on
// the same executor. Without a frame or a turn it just waits.
func (f *frame) suspend(wait func()) {
	if f == nil || f.turn == nil {
		wait()
		return
	}

	f.release()
	if f.task != nil {
		f.task.setState(StateSuspended)
	}
	wait()
	f.resume()
}

func (f *frame) release() {
	if f.turn != nil {
		f.turn.Release()
		f.turn = nil
	}
}

// resume takes a turn on the frame's executor. If the executor has been shut
// down meanwhile, the code carries on without one.
func (f *frame) resume() {
	turn, err := executor.Acquire(f.exec, f.priority, 0)
	if err != nil {
		id := ""
		if f.task != nil {
			id = f.task.id
		}
		log.Printf("WARNING: task %q resuming without executor: %v", id, err)
		return
	}
	f.turn = turn
	if f.task != nil {
		f.task.setState(StateRunning)
	}
}
