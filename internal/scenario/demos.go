package scenario

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/aristath/structured/internal/actor"
	"github.com/aristath/structured/internal/executor"
	"github.com/aristath/structured/internal/resilience"
	"github.com/aristath/structured/internal/scheduler"
	"github.com/aristath/structured/internal/task"
)

func delayedValue(v int, d time.Duration) task.Work[int] {
	return func(ctx context.Context) (int, error) {
		if err := task.Sleep(ctx, d); err != nil {
			return 0, err
		}
		return v, nil
	}
}

func completionOrder(ctx context.Context, env *Env) error {
	values := []int{10, 20, 30}
	delays := []time.Duration{30 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond}

	order, err := task.WithGroup(ctx, func(ctx context.Context, g *task.Group[int]) ([]int, error) {
		for i, v := range values {
			if err := g.Go(delayedValue(v, delays[i]), task.WithName(fmt.Sprintf("value-%d", v))); err != nil {
				return nil, err
			}
		}

		var got []int
		for {
			v, ok, err := g.Next(ctx)
			if err != nil || !ok {
				return got, err
			}
			env.printf("  next -> %d\n", v)
			got = append(got, v)
		}
	})
	if err != nil {
		return err
	}

	if want := []int{20, 30, 10}; !slices.Equal(order, want) {
		return fmt.Errorf("completion order %v, expected %v", order, want)
	}
	env.printf("  completion order %v\n", order)
	return nil
}

func cancelPropagation(ctx context.Context, env *Env) error {
	kids := make(chan [2]*task.Handle[struct{}], 1)

	parent := task.Spawn(ctx, func(ctx context.Context) (struct{}, error) {
		self := task.Current(ctx)
		sleeper := func(ctx context.Context) (struct{}, error) {
			return struct{}{}, task.Sleep(ctx, time.Hour)
		}
		kids <- [2]*task.Handle[struct{}]{
			task.Spawn(ctx, sleeper, task.WithParent(self), task.WithName("child-1")),
			task.Spawn(ctx, sleeper, task.WithParent(self), task.WithName("child-2")),
		}
		return struct{}{}, task.Sleep(ctx, time.Hour)
	}, task.WithName("parent"))

	children, _, err := task.WaitFor(ctx, kids)
	if err != nil {
		return err
	}

	parent.Cancel()
	for i, c := range children {
		if !c.IsCancelled() {
			return fmt.Errorf("child %d not cancelled when parent.Cancel returned", i+1)
		}
	}
	env.printf("  both children flagged cancelled synchronously\n")

	for i, c := range children {
		if _, err := c.Await(ctx); !errors.Is(err, task.ErrCancelled) {
			return fmt.Errorf("child %d: expected cancellation, got %v", i+1, err)
		}
		env.printf("  child-%d awaited: %v\n", i+1, task.ErrCancelled)
	}
	if _, err := parent.Await(ctx); !errors.Is(err, task.ErrCancelled) {
		return fmt.Errorf("parent: expected cancellation, got %v", err)
	}
	return nil
}

func actorCounter(ctx context.Context, env *Env) error {
	const callers, perCaller = 10, 10

	counter := actor.New[int](nil, 0,
		actor.WithLabel("counter"),
		actor.WithDeadlockTimeout(env.Config.DeadlockTimeout()))
	defer counter.Executor().Shutdown()

	execs := []executor.Executor{env.Main(), env.IO(), env.Executors.Default}
	err := task.WithDiscardingGroup(ctx, func(ctx context.Context, g *task.DiscardingGroup) error {
		for i := 0; i < callers; i++ {
			ex := execs[i%len(execs)]
			err := g.Go(func(ctx context.Context) error {
				for j := 0; j < perCaller; j++ {
					err := actor.Do(ctx, counter, func(ctx context.Context, n *int) error {
						*n++
						return nil
					})
					if err != nil {
						return err
					}
				}
				return nil
			}, task.OnExecutor(ex), task.WithName(fmt.Sprintf("caller-%d@%s", i, ex.Label())))
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	total, err := actor.WithIsolation(ctx, counter, func(ctx context.Context, n *int) (int, error) {
		return *n, nil
	})
	if err != nil {
		return err
	}
	if total != callers*perCaller {
		return fmt.Errorf("counter is %d, expected %d", total, callers*perCaller)
	}
	env.printf("  %d callers across %d executors, counter = %d\n", callers, len(execs), total)
	return nil
}

func executorPreference(ctx context.Context, env *Env) error {
	where := func(ctx context.Context) (string, error) {
		return task.CurrentExecutor(ctx).Label(), nil
	}

	h := task.Spawn(ctx, func(ctx context.Context) ([]string, error) {
		own, _ := where(ctx)

		inherited, err := task.WithGroup(ctx, func(ctx context.Context, g *task.Group[string]) (string, error) {
			if err := g.Go(where); err != nil {
				return "", err
			}
			v, _, err := g.Next(ctx)
			return v, err
		})
		if err != nil {
			return nil, err
		}

		reset, err := task.Spawn(ctx, where, task.OnExecutor(executor.Default())).Await(ctx)
		if err != nil {
			return nil, err
		}
		detached, err := task.Spawn(ctx, where, task.Detached()).Await(ctx)
		if err != nil {
			return nil, err
		}
		return []string{own, inherited, reset, detached}, nil
	}, task.OnExecutor(env.IO()), task.WithName("on-io"))

	got, err := h.Await(ctx)
	if err != nil {
		return err
	}

	def := executor.Default().Label()
	want := []string{env.IO().Label(), env.IO().Label(), def, def}
	labels := []string{"own", "inherited", "reset", "detached"}
	for i := range want {
		env.printf("  %-9s %s\n", labels[i], got[i])
	}
	if !slices.Equal(got, want) {
		return fmt.Errorf("executors %v, expected %v", got, want)
	}
	return nil
}

func timeouts(ctx context.Context, env *Env) error {
	_, err := task.WithTimeout(ctx, 20*time.Millisecond, func(ctx context.Context) (int, error) {
		return 0, task.Sleep(ctx, time.Hour)
	}, task.WithName("too-slow"))
	if !errors.Is(err, task.ErrTimeout) {
		return fmt.Errorf("expected timeout, got %v", err)
	}
	env.printf("  slow work: %v\n", err)

	v, err := task.WithTimeout(ctx, time.Second, delayedValue(42, 5*time.Millisecond), task.WithName("quick"))
	if err != nil {
		return fmt.Errorf("quick work: %w", err)
	}
	env.printf("  quick work: %d\n", v)
	return nil
}

func pipeline(ctx context.Context, env *Env) error {
	var attempts atomic.Int32
	retry := resilience.RetryFromConfig(env.Config.Retry)
	ok := func(context.Context) error { return nil }
	hold := func(ctx context.Context) error { return task.Sleep(ctx, 5*time.Millisecond) }

	steps := []*scheduler.Step{
		{ID: "fetch", Executor: env.IO(), Run: func(ctx context.Context) error {
			_, err := resilience.Retry(ctx, env.Breakers.Get("fetch"), retry, func(ctx context.Context) (struct{}, error) {
				if attempts.Add(1) < 3 {
					return struct{}{}, errors.New("upstream unavailable")
				}
				return struct{}{}, nil
			})
			return err
		}},
		{ID: "parse", DependsOn: []string{"fetch"}, Resources: []string{"db"}, Run: hold},
		{ID: "lint", DependsOn: []string{"fetch"}, FailureMode: scheduler.FailSoft, Run: func(context.Context) error {
			return errors.New("style warnings")
		}},
		{ID: "index", DependsOn: []string{"fetch"}, FailureMode: scheduler.FailHard, Run: func(context.Context) error {
			return errors.New("index corrupt")
		}},
		{ID: "store", DependsOn: []string{"parse", "lint"}, Resources: []string{"db"}, Run: hold},
		{ID: "publish", DependsOn: []string{"index"}, Run: ok},
	}

	dag := scheduler.NewDAG()
	for _, s := range steps {
		if err := dag.AddStep(s); err != nil {
			return err
		}
	}

	runErr := dag.Run(ctx)
	if task.IsCancelled(ctx) {
		return runErr
	}

	want := map[string]scheduler.StepStatus{
		"fetch":   scheduler.StepCompleted,
		"parse":   scheduler.StepCompleted,
		"lint":    scheduler.StepFailed,
		"index":   scheduler.StepFailed,
		"store":   scheduler.StepCompleted,
		"publish": scheduler.StepSkipped,
	}
	for _, s := range dag.Steps() {
		line := fmt.Sprintf("  %-8s %s", s.ID, s.Status)
		if s.Error != nil {
			line += ": " + s.Error.Error()
		}
		env.printf("%s\n", line)
		if s.Status != want[s.ID] {
			return fmt.Errorf("step %s is %s, expected %s", s.ID, s.Status, want[s.ID])
		}
	}
	env.printf("  fetch took %d attempts; run error: %v\n", attempts.Load(), runErr)
	if runErr == nil {
		return errors.New("expected the lint and index failures to be reported")
	}
	return nil
}
