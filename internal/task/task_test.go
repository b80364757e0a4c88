package task

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/aristath/structured/internal/events"
	"github.com/aristath/structured/internal/executor"
)

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for %s", what)
	}
}

func TestSpawnAwait(t *testing.T) {
	h := Spawn(context.Background(), func(ctx context.Context) (int, error) {
		if Current(ctx) == nil {
			return 0, errors.New("no current task")
		}
		return 42, nil
	}, WithName("answer"))

	v, err := h.Await(context.Background())
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if v != 42 {
		t.Errorf("expected 42, got %d", v)
	}
	if h.State() != StateCompleted {
		t.Errorf("expected completed, got %s", h.State())
	}
	if h.Task().Name() != "answer" {
		t.Errorf("expected name answer, got %q", h.Task().Name())
	}
	if _, ok, _ := h.TryResult(); !ok {
		t.Error("TryResult should report a terminal task")
	}
}

func TestAwaitFailure(t *testing.T) {
	boom := errors.New("boom")
	h := Spawn(context.Background(), func(ctx context.Context) (string, error) {
		return "", boom
	})

	if _, err := h.Await(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if h.State() != StateFailed {
		t.Errorf("expected failed, got %s", h.State())
	}
}

func TestNilWorkFails(t *testing.T) {
	h := Spawn[int](context.Background(), nil)
	if _, err := h.Await(context.Background()); !errors.Is(err, ErrNilWork) {
		t.Errorf("expected ErrNilWork, got %v", err)
	}
}

func TestPanicBecomesFailure(t *testing.T) {
	h := Spawn(context.Background(), func(ctx context.Context) (int, error) {
		panic("kaboom")
	})

	_, err := h.Await(context.Background())
	if !errors.Is(err, ErrPanic) {
		t.Fatalf("expected ErrPanic, got %v", err)
	}
	if !strings.Contains(err.Error(), "kaboom") {
		t.Errorf("expected panic value in error, got %v", err)
	}
}

// TestCancelPropagatesToChildren cancels a parent with two running children
// and checks both flags right after Cancel returns.
func TestCancelPropagatesToChildren(t *testing.T) {
	kids := make(chan *Handle[int], 2)

	parent := Spawn(context.Background(), func(ctx context.Context) (int, error) {
		self := Current(ctx)
		for i := 0; i < 2; i++ {
			kids <- Spawn(ctx, func(ctx context.Context) (int, error) {
				if err := Sleep(ctx, time.Hour); err != nil {
					return 0, err
				}
				return 1, nil
			}, WithParent(self))
		}
		return 0, Sleep(ctx, time.Hour)
	})

	c1, c2 := <-kids, <-kids
	parent.Cancel()

	if !c1.IsCancelled() || !c2.IsCancelled() {
		t.Fatal("children must be cancelled as soon as the parent's Cancel returns")
	}

	for i, c := range []*Handle[int]{c1, c2} {
		if _, err := c.Await(context.Background()); !errors.Is(err, ErrCancelled) {
			t.Errorf("child %d: expected ErrCancelled, got %v", i, err)
		}
		if c.State() != StateCancelled {
			t.Errorf("child %d: expected cancelled state, got %s", i, c.State())
		}
	}
	if _, err := parent.Await(context.Background()); !errors.Is(err, ErrCancelled) {
		t.Errorf("parent: expected ErrCancelled, got %v", err)
	}
	if !errors.Is(ErrCancelled, context.Canceled) {
		t.Error("ErrCancelled should match context.Canceled")
	}
}

// TestParentJoinsChildren verifies a parent is not terminal before its children.
func TestParentJoinsChildren(t *testing.T) {
	var child *Handle[int]
	parent := Spawn(context.Background(), func(ctx context.Context) (int, error) {
		child = Spawn(ctx, func(ctx context.Context) (int, error) {
			_ = Sleep(ctx, time.Hour)
			return 0, CheckCancellation(ctx)
		}, WithParent(Current(ctx)))
		return 7, nil
	})

	v, err := parent.Await(context.Background())
	if err != nil || v != 7 {
		t.Fatalf("expected 7, got %d, %v", v, err)
	}
	if !child.State().Terminal() {
		t.Fatal("child still live after its parent finished")
	}
	if !child.IsCancelled() {
		t.Error("child left running at parent exit should have been cancelled")
	}
}

func TestCheckCancellation(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	result := make(chan error, 2)

	h := Spawn(context.Background(), func(ctx context.Context) (int, error) {
		result <- CheckCancellation(ctx)
		close(started)
		<-release
		result <- CheckCancellation(ctx)
		if !IsCancelled(ctx) {
			return 0, errors.New("IsCancelled should be true")
		}
		return 0, nil
	})

	waitClosed(t, started, "task start")
	h.Cancel()
	h.Cancel() // idempotent
	close(release)

	if err := <-result; err != nil {
		t.Errorf("before cancel: expected nil, got %v", err)
	}
	if err := <-result; !errors.Is(err, ErrCancelled) {
		t.Errorf("after cancel: expected ErrCancelled, got %v", err)
	}

	// Code that ignores cancellation runs to completion.
	if _, err := h.Await(context.Background()); err != nil {
		t.Errorf("expected completion, got %v", err)
	}
	if h.State() != StateCompleted {
		t.Errorf("expected completed, got %s", h.State())
	}
}

func TestCheckCancellationOutsideTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	if err := CheckCancellation(ctx); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	cancel()
	if err := CheckCancellation(ctx); !errors.Is(err, ErrCancelled) {
		t.Errorf("expected ErrCancelled, got %v", err)
	}
}

func TestCancellationHandlerRunsImmediately(t *testing.T) {
	registered := make(chan struct{})
	handled := make(chan struct{})
	release := make(chan struct{})

	h := Spawn(context.Background(), func(ctx context.Context) (string, error) {
		return WithCancellationHandler(ctx, func(ctx context.Context) (string, error) {
			close(registered)
			<-release
			return "done", nil
		}, func() { close(handled) })
	})

	waitClosed(t, registered, "handler registration")
	h.Cancel()

	select {
	case <-handled:
	default:
		t.Fatal("handler did not run synchronously with Cancel")
	}
	close(release)

	if v, err := h.Await(context.Background()); err != nil || v != "done" {
		t.Errorf("expected done, got %q, %v", v, err)
	}
}

func TestOnCancelOrderAndRemoval(t *testing.T) {
	var order []int
	ready := make(chan struct{})
	release := make(chan struct{})

	h := Spawn(context.Background(), func(ctx context.Context) (int, error) {
		self := Current(ctx)
		self.OnCancel(func() { order = append(order, 1) })
		remove := self.OnCancel(func() { order = append(order, 2) })
		self.OnCancel(func() { order = append(order, 3) })
		remove()
		close(ready)
		<-release

		// Registering after cancellation runs the handler at once.
		self.OnCancel(func() { order = append(order, 4) })
		return 0, nil
	})

	waitClosed(t, ready, "handlers")
	h.Cancel()
	close(release)
	if _, err := h.Await(context.Background()); err != nil {
		t.Fatalf("await: %v", err)
	}

	want := []int{1, 3, 4}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}

func TestAwaitInterruptedByCaller(t *testing.T) {
	h := Spawn(context.Background(), func(ctx context.Context) (int, error) {
		return 0, Sleep(ctx, time.Hour)
	})
	defer h.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := h.Await(ctx); err == nil {
		t.Fatal("expected Await to give up when its context ends")
	}
	if h.IsCancelled() {
		t.Error("giving up on Await must not cancel the awaited task")
	}
}

func TestRootTaskFollowsCallerContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := Spawn(ctx, func(ctx context.Context) (int, error) {
		return 0, Sleep(ctx, time.Hour)
	})

	cancel()
	if _, err := h.Await(context.Background()); !errors.Is(err, ErrCancelled) {
		t.Errorf("expected ErrCancelled, got %v", err)
	}
}

func TestSleepHonoursCancellation(t *testing.T) {
	h := Spawn(context.Background(), func(ctx context.Context) (time.Duration, error) {
		start := time.Now()
		err := Sleep(ctx, time.Hour)
		return time.Since(start), err
	})

	time.Sleep(10 * time.Millisecond)
	h.Cancel()

	elapsed, err := h.Await(context.Background())
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if elapsed > time.Second {
		t.Errorf("sleep was not interrupted: %s", elapsed)
	}
}

func TestWaitFor(t *testing.T) {
	ch := make(chan string, 2)
	ch <- "a"
	ch <- "b"
	close(ch)

	h := Spawn(context.Background(), func(ctx context.Context) ([]string, error) {
		var got []string
		for {
			v, ok, err := WaitFor(ctx, ch)
			if err != nil {
				return got, err
			}
			if !ok {
				return got, nil
			}
			got = append(got, v)
		}
	})

	got, err := h.Await(context.Background())
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("expected [a b], got %v", got)
	}
}

func TestExecutorPreference(t *testing.T) {
	serial := executor.NewSerial("pref")
	defer serial.Shutdown()

	type where struct {
		own, inherited, detached, reset executor.Executor
	}

	h := Spawn(context.Background(), func(ctx context.Context) (where, error) {
		var w where
		w.own = CurrentExecutor(ctx)

		execOf := func(opts ...Option) executor.Executor {
			c := Spawn(ctx, func(ctx context.Context) (executor.Executor, error) {
				return CurrentExecutor(ctx), nil
			}, opts...)
			ex, _ := c.Await(ctx)
			return ex
		}
		w.inherited = execOf(WithParent(Current(ctx)))
		w.detached = execOf(Detached())
		w.reset = execOf(OnExecutor(executor.Default()))
		return w, nil
	}, OnExecutor(serial))

	w, err := h.Await(context.Background())
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if w.own != serial {
		t.Errorf("task should run on its preferred executor")
	}
	if w.inherited != serial {
		t.Errorf("child should inherit the parent's preference")
	}
	if w.detached != executor.Default() {
		t.Errorf("detached task should use the default executor")
	}
	if w.reset != executor.Default() {
		t.Errorf("OnExecutor(Default()) should reset the preference")
	}
}

func TestSerialExecutorRunsOneTaskAtATime(t *testing.T) {
	serial := executor.NewSerial("exclusive")
	defer serial.Shutdown()

	active := 0
	overlap := false
	var handles []*Handle[int]
	for i := 0; i < 8; i++ {
		handles = append(handles, Spawn(context.Background(), func(ctx context.Context) (int, error) {
			for j := 0; j < 3; j++ {
				active++
				if active != 1 {
					overlap = true
				}
				time.Sleep(time.Millisecond)
				active--
				if err := Yield(ctx); err != nil {
					return 0, err
				}
			}
			return 0, nil
		}, OnExecutor(serial)))
	}

	for _, h := range handles {
		if _, err := h.Await(context.Background()); err != nil {
			t.Fatalf("await: %v", err)
		}
	}
	if overlap {
		t.Error("two tasks ran on a serial executor at once")
	}
}

// TestSpawnOrderOnSerial verifies tasks spawned one after another onto a
// serial executor start in spawn order.
func TestSpawnOrderOnSerial(t *testing.T) {
	for iter := 0; iter < 50; iter++ {
		serial := executor.NewSerial("fifo")

		var order []int
		var handles []*Handle[int]
		for i := 1; i <= 3; i++ {
			handles = append(handles, Spawn(context.Background(), func(ctx context.Context) (int, error) {
				order = append(order, i)
				return i, nil
			}, OnExecutor(serial)))
		}
		for _, h := range handles {
			if _, err := h.Await(context.Background()); err != nil {
				t.Fatalf("await: %v", err)
			}
		}
		serial.Shutdown()

		if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
			t.Fatalf("iteration %d: expected order [1 2 3], got %v", iter, order)
		}
	}
}

// TestSpawnPriorityOnBusySerial verifies a higher priority spawn overtakes
// earlier spawns still waiting for a busy serial executor.
func TestSpawnPriorityOnBusySerial(t *testing.T) {
	serial := executor.NewSerial("busy")
	defer serial.Shutdown()

	holder, err := executor.Acquire(serial, executor.PriorityMedium, 0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	var order []string
	record := func(name string) Work[int] {
		return func(ctx context.Context) (int, error) {
			order = append(order, name)
			return 0, nil
		}
	}
	low := Spawn(context.Background(), record("low"), OnExecutor(serial), WithPriority(executor.PriorityLow))
	high := Spawn(context.Background(), record("high"), OnExecutor(serial), WithPriority(executor.PriorityHigh))
	holder.Release()

	for _, h := range []*Handle[int]{low, high} {
		if _, err := h.Await(context.Background()); err != nil {
			t.Fatalf("await: %v", err)
		}
	}
	if len(order) != 2 || order[0] != "high" || order[1] != "low" {
		t.Errorf("expected [high low], got %v", order)
	}
}

// TestFinishedChildIsNotCancelledAtJoin verifies joining children leaves a
// child that already completed untouched.
func TestFinishedChildIsNotCancelledAtJoin(t *testing.T) {
	for iter := 0; iter < 100; iter++ {
		var child *Handle[int]
		parent := Spawn(context.Background(), func(ctx context.Context) (int, error) {
			child = Spawn(ctx, func(ctx context.Context) (int, error) {
				return 1, nil
			}, WithParent(Current(ctx)))
			return child.Await(ctx)
		})

		if _, err := parent.Await(context.Background()); err != nil {
			t.Fatalf("await: %v", err)
		}
		if child.State() != StateCompleted {
			t.Fatalf("iteration %d: expected completed child, got %s", iter, child.State())
		}
		if child.IsCancelled() {
			t.Fatalf("iteration %d: completed child was cancelled at join", iter)
		}
	}
}

func TestSpawnOnClosedExecutor(t *testing.T) {
	serial := executor.NewSerial("closed")
	serial.Shutdown()

	h := Spawn(context.Background(), func(ctx context.Context) (int, error) {
		return 1, nil
	}, OnExecutor(serial))

	if _, err := h.Await(context.Background()); !errors.Is(err, executor.ErrExecutorClosed) {
		t.Errorf("expected ErrExecutorClosed, got %v", err)
	}
}

func TestRunOnHopsAndInherits(t *testing.T) {
	a := executor.NewSerial("a")
	b := executor.NewSerial("b")
	defer a.Shutdown()
	defer b.Shutdown()

	type seen struct{ inline, hopped, after executor.Executor }

	h := Spawn(context.Background(), func(ctx context.Context) (seen, error) {
		var s seen
		err := RunOn(ctx, a, 0, func(ctx context.Context) error {
			s.inline = CurrentExecutor(ctx)
			return nil
		})
		if err != nil {
			return s, err
		}
		err = RunOn(ctx, b, 0, func(ctx context.Context) error {
			s.hopped = CurrentExecutor(ctx)
			return nil
		})
		s.after = CurrentExecutor(ctx)
		return s, err
	}, OnExecutor(a))

	s, err := h.Await(context.Background())
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if s.inline != a || s.hopped != b || s.after != a {
		t.Errorf("unexpected executors: inline=%v hopped=%v after=%v",
			executor.Describe(s.inline), executor.Describe(s.hopped), executor.Describe(s.after))
	}
}

func TestRunOnDeadlockDiagnostic(t *testing.T) {
	stuck := executor.NewSerial("stuck")
	defer stuck.Shutdown()

	holder, err := executor.Acquire(stuck, executor.PriorityMedium, 0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer holder.Release()

	err = RunOn(context.Background(), stuck, 20*time.Millisecond, func(context.Context) error { return nil })
	if !errors.Is(err, executor.ErrDeadlockSuspected) {
		t.Errorf("expected ErrDeadlockSuspected, got %v", err)
	}
}

func TestWithTimeout(t *testing.T) {
	_, err := WithTimeout(context.Background(), 20*time.Millisecond, func(ctx context.Context) (int, error) {
		return 0, Sleep(ctx, time.Hour)
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("timeout should also read as cancellation, got %v", err)
	}

	v, err := WithTimeout(context.Background(), time.Second, func(ctx context.Context) (int, error) {
		return 5, nil
	})
	if err != nil || v != 5 {
		t.Errorf("expected 5, got %d, %v", v, err)
	}
}

func TestDroppedHandleCancelsTask(t *testing.T) {
	cancelled := make(chan struct{})

	func() {
		Spawn(context.Background(), func(ctx context.Context) (int, error) {
			err := Sleep(ctx, 10*time.Second)
			if errors.Is(err, ErrCancelled) {
				close(cancelled)
			}
			return 0, err
		})
	}()

	deadline := time.After(5 * time.Second)
	for {
		runtime.GC()
		select {
		case <-cancelled:
			return
		case <-deadline:
			t.Fatal("dropping the handle did not cancel the task")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestLifecycleEvents(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Close()
	sub := bus.Subscribe(events.TopicTask, 16)

	ctx := events.WithBus(context.Background(), bus)
	h := Spawn(ctx, func(ctx context.Context) (int, error) { return 1, nil })
	if _, err := h.Await(ctx); err != nil {
		t.Fatalf("await: %v", err)
	}

	var kinds []string
	timeout := time.After(2 * time.Second)
	for len(kinds) < 3 {
		select {
		case ev := <-sub:
			if ev.TaskID() == h.ID() {
				kinds = append(kinds, ev.EventType())
			}
		case <-timeout:
			t.Fatalf("missing events, got %v", kinds)
		}
	}

	want := []string{events.EventTypeTaskSpawned, events.EventTypeTaskStarted, events.EventTypeTaskCompleted}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, kinds)
		}
	}
}
