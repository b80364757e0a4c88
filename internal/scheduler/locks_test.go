package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/structured/internal/executor"
	"github.com/aristath/structured/internal/task"
)

// TestResourceLockManager_BasicLockUnlock verifies basic lock/unlock operations.
func TestResourceLockManager_BasicLockUnlock(t *testing.T) {
	mgr := NewResourceLockManager()
	ctx := context.Background()

	if err := mgr.Lock(ctx, "db"); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	mgr.Unlock("db")

	// Should be able to lock again after unlock
	if err := mgr.Lock(ctx, "db"); err != nil {
		t.Fatalf("Lock again: %v", err)
	}
	mgr.Unlock("db")
}

// TestResourceLockManager_SameResourceBlocks verifies that a held resource
// keeps a second holder out until it is released.
func TestResourceLockManager_SameResourceBlocks(t *testing.T) {
	mgr := NewResourceLockManager()
	ctx := context.Background()
	orderChan := make(chan int, 2)

	if err := mgr.Lock(ctx, "db"); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	go func() {
		mgr.Lock(ctx, "db")
		orderChan <- 2
		mgr.Unlock("db")
	}()

	time.Sleep(20 * time.Millisecond)
	orderChan <- 1
	mgr.Unlock("db")

	if first, second := <-orderChan, <-orderChan; first != 1 || second != 2 {
		t.Errorf("expected order [1, 2], got [%d, %d]", first, second)
	}
}

// TestResourceLockManager_LockAllOrdering verifies that overlapping sets
// requested in opposite orders do not deadlock.
func TestResourceLockManager_LockAllOrdering(t *testing.T) {
	mgr := NewResourceLockManager()
	ctx := context.Background()
	var completed atomic.Int32
	done := make(chan struct{}, 2)

	for _, set := range [][]string{{"a", "b", "c"}, {"c", "b", "a"}} {
		go func() {
			for i := 0; i < 50; i++ {
				if err := mgr.LockAll(ctx, set); err != nil {
					t.Error(err)
					break
				}
				mgr.UnlockAll(set)
			}
			completed.Add(1)
			done <- struct{}{}
		}()
	}

	timeout := time.After(2 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-timeout:
			t.Fatalf("deadlock: only %d goroutines completed", completed.Load())
		}
	}
}

// TestResourceLockManager_EmptySet verifies that an empty set is a no-op.
func TestResourceLockManager_EmptySet(t *testing.T) {
	mgr := NewResourceLockManager()
	if err := mgr.LockAll(context.Background(), nil); err != nil {
		t.Fatalf("LockAll(nil): %v", err)
	}
	mgr.UnlockAll(nil)
}

// TestResourceLockManager_CancelledWaitHoldsNothing verifies that a waiter
// cancelled halfway through LockAll gives back what it already took.
func TestResourceLockManager_CancelledWaitHoldsNothing(t *testing.T) {
	mgr := NewResourceLockManager()
	ctx := context.Background()

	if err := mgr.Lock(ctx, "b"); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	h := task.Spawn(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, mgr.LockAll(ctx, []string{"a", "b"})
	})
	time.Sleep(20 * time.Millisecond)
	h.Cancel()

	if _, err := h.Await(ctx); !errors.Is(err, task.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}

	lockCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := mgr.Lock(lockCtx, "a"); err != nil {
		t.Errorf("resource a still held after cancelled LockAll: %v", err)
	}
}

// TestResourceLockManager_WaitReleasesExecutor verifies that a task waiting for
// a resource does not hold its serial executor.
func TestResourceLockManager_WaitReleasesExecutor(t *testing.T) {
	serial := executor.NewSerial("locks-serial")
	defer serial.Shutdown()

	mgr := NewResourceLockManager()
	ctx := context.Background()
	if err := mgr.Lock(ctx, "db"); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	waiter := task.Spawn(ctx, func(ctx context.Context) (struct{}, error) {
		if err := mgr.Lock(ctx, "db"); err != nil {
			return struct{}{}, err
		}
		mgr.Unlock("db")
		return struct{}{}, nil
	}, task.OnExecutor(serial))

	other := task.Spawn(ctx, func(ctx context.Context) (int, error) {
		return 7, nil
	}, task.OnExecutor(serial))

	awaitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if v, err := other.Await(awaitCtx); err != nil || v != 7 {
		t.Fatalf("other task blocked behind the waiter: %v", err)
	}

	mgr.Unlock("db")
	if _, err := waiter.Await(awaitCtx); err != nil {
		t.Errorf("waiter: %v", err)
	}
}

// TestResourceLockManager_DuplicateNames verifies a resource listed twice is
// taken and released once.
func TestResourceLockManager_DuplicateNames(t *testing.T) {
	mgr := NewResourceLockManager()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	names := []string{"db", "cache", "db"}
	if err := mgr.LockAll(ctx, names); err != nil {
		t.Fatalf("LockAll: %v", err)
	}
	mgr.UnlockAll(names)

	for _, name := range []string{"db", "cache"} {
		if err := mgr.Lock(ctx, name); err != nil {
			t.Fatalf("Lock(%s) after UnlockAll: %v", name, err)
		}
		mgr.Unlock(name)
	}
}

// TestResourceLockManager_UnlockFree verifies unlocking a free resource
// returns and leaves it lockable exactly once.
func TestResourceLockManager_UnlockFree(t *testing.T) {
	mgr := NewResourceLockManager()

	done := make(chan struct{})
	go func() {
		mgr.Unlock("db")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Unlock of a free resource blocked")
	}

	if err := mgr.Lock(context.Background(), "db"); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := mgr.Lock(ctx, "db"); err == nil {
		t.Error("second Lock succeeded while db was held")
	}
	mgr.Unlock("db")
}
