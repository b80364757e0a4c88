package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/structured/internal/events"
	"github.com/aristath/structured/internal/task"
)

// ErrDependencyFailed is recorded on a step that never ran because one of its
// dependencies failed hard, was skipped, or was cancelled.
var ErrDependencyFailed = errors.New("scheduler: dependency failed")

// ErrNoRun is recorded on a step that has no Run function.
var ErrNoRun = errors.New("scheduler: step has no Run function")

// Run executes the graph. Every step becomes a child task of one discarding
// group, so no step outlives Run and cancelling the caller cancels every step.
// A step suspends until its dependencies are terminal, then takes its
// resources, runs, and records its status.
//
// The returned error joins the failures of FailHard and FailSoft steps. If the
// run was cancelled it also carries task.ErrCancelled.
func (d *DAG) Run(ctx context.Context) error {
	order, err := d.Validate()
	if err != nil {
		return err
	}

	done := make(map[string]chan struct{}, len(order))
	for _, id := range order {
		done[id] = make(chan struct{})
		d.setStatus(id, StepPending, nil)
	}

	bus := events.FromContext(ctx)
	gerr := task.WithDiscardingGroup(ctx, func(ctx context.Context, g *task.DiscardingGroup) error {
		for _, id := range order {
			step, _ := d.Get(id)
			opts := []task.Option{task.WithName("step:" + step.label())}
			if step.Executor != nil {
				opts = append(opts, task.OnExecutor(step.Executor))
			}

			err := g.Go(func(ctx context.Context) error {
				defer close(done[step.ID])
				d.runStep(ctx, step, done, bus)
				return nil
			}, opts...)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if gerr != nil {
		return gerr
	}

	var errs []error
	for _, id := range order {
		status, mode, serr := d.status(id)
		if status == StepFailed && mode != FailSkip {
			errs = append(errs, fmt.Errorf("step %q: %w", id, serr))
		}
	}
	if err := task.CheckCancellation(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (d *DAG) runStep(ctx context.Context, step *Step, done map[string]chan struct{}, bus *events.EventBus) {
	for _, depID := range step.DependsOn {
		if _, _, err := task.WaitFor(ctx, done[depID]); err != nil {
			d.setStatus(step.ID, StepCancelled, err)
			return
		}
		if cause, blocked := d.blocks(depID); blocked {
			d.setStatus(step.ID, StepSkipped, fmt.Errorf("%w: %q %s", ErrDependencyFailed, depID, cause))
			if bus != nil {
				bus.Publish(events.TopicSchedule, events.StepSkippedEvent{
					StepID:    step.ID,
					Cause:     depID,
					Timestamp: time.Now(),
				})
			}
			return
		}
	}

	if err := d.locks.LockAll(ctx, step.Resources); err != nil {
		d.setStatus(step.ID, StepCancelled, err)
		return
	}
	defer d.locks.UnlockAll(step.Resources)

	d.setStatus(step.ID, StepRunning, nil)
	err := invokeStep(ctx, step)
	switch {
	case err == nil:
		d.setStatus(step.ID, StepCompleted, nil)
	case task.IsCancellation(err) && task.IsCancelled(ctx):
		d.setStatus(step.ID, StepCancelled, err)
	default:
		d.setStatus(step.ID, StepFailed, err)
	}
}

// blocks reports whether a terminal dependency prevents its dependents from
// running, and why.
func (d *DAG) blocks(depID string) (StepStatus, bool) {
	status, mode, _ := d.status(depID)
	switch status {
	case StepFailed:
		return status, mode == FailHard
	case StepSkipped, StepCancelled:
		return status, true
	}
	return status, false
}

func invokeStep(ctx context.Context, step *Step) (err error) {
	if step.Run == nil {
		return ErrNoRun
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", task.ErrPanic, r)
		}
	}()
	return step.Run(ctx)
}
