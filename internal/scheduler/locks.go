package scheduler

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/aristath/structured/internal/task"
)

// ResourceLockManager provides per-resource mutual exclusion between steps.
// Each resource is a one-token channel: taking the token is a task
// suspension, so a waiting step does not hold its executor and can be
// cancelled while it waits.
type ResourceLockManager struct {
	mu    sync.Mutex               // Guards the locks map itself
	locks map[string]chan struct{} // Per-resource tokens
}

// NewResourceLockManager creates a new ResourceLockManager.
func NewResourceLockManager() *ResourceLockManager {
	return &ResourceLockManager{
		locks: make(map[string]chan struct{}),
	}
}

func (r *ResourceLockManager) token(name string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	tok, exists := r.locks[name]
	if !exists {
		tok = make(chan struct{}, 1)
		tok <- struct{}{}
		r.locks[name] = tok
	}
	return tok
}

// Lock takes the resource, suspending until it is free.
func (r *ResourceLockManager) Lock(ctx context.Context, name string) error {
	_, _, err := task.WaitFor(ctx, r.token(name))
	return err
}

// Unlock gives the resource back. Unlocking a free resource is a no-op.
func (r *ResourceLockManager) Unlock(name string) {
	select {
	case r.token(name) <- struct{}{}:
	default:
		log.Printf("WARNING: unlock of resource %q that is not held", name)
	}
}

// LockAll takes every named resource in sorted order, so two steps asking
// for overlapping sets cannot deadlock. A name listed twice is taken once.
// On error nothing is held.
func (r *ResourceLockManager) LockAll(ctx context.Context, names []string) error {
	sorted := sortedCopy(names)
	for i, name := range sorted {
		if err := r.Lock(ctx, name); err != nil {
			for j := i - 1; j >= 0; j-- {
				r.Unlock(sorted[j])
			}
			return err
		}
	}
	return nil
}

// UnlockAll releases resources in reverse sorted order.
func (r *ResourceLockManager) UnlockAll(names []string) {
	sorted := sortedCopy(names)
	for i := len(sorted) - 1; i >= 0; i-- {
		r.Unlock(sorted[i])
	}
}

// sortedCopy returns the distinct names in sorted order.
func sortedCopy(names []string) []string {
	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.Strings(sorted)

	out := sorted[:0]
	for i, name := range sorted {
		if i > 0 && name == sorted[i-1] {
			continue
		}
		out = append(out, name)
	}
	return out
}
