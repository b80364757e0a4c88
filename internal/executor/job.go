package executor

import (
	"fmt"
	"log"
	"runtime/debug"
)

// Priority orders jobs waiting in the same queue. Higher runs first.
type Priority int

const (
	PriorityBackground Priority = iota // Deferrable housekeeping
	PriorityLow                        // Work nobody is waiting on
	PriorityMedium                     // Default for tasks and jobs
	PriorityHigh                       // Work a caller is blocked on
)

// String returns the lowercase priority name.
func (p Priority) String() string {
	switch p {
	case PriorityBackground:
		return "background"
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority maps a priority name back to its value.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "background":
		return PriorityBackground, nil
	case "low":
		return PriorityLow, nil
	case "", "medium":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	}
	return PriorityMedium, fmt.Errorf("unknown priority %q", s)
}

// Job is one runnable unit of work submitted to an Executor.
// A job is consumed once: the executor calls Run exactly one time.
type Job struct {
	Run      func()
	Priority Priority
	seq      uint64 // submission order, assigned by the executor
}

func (j Job) less(other Job) bool {
	if j.Priority != other.Priority {
		return j.Priority > other.Priority
	}
	return j.seq < other.seq
}

// runJob runs a job and keeps a panicking job from taking the worker down.
func runJob(label string, j Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: executor %q: job panicked: %v\n%s", label, r, debug.Stack())
		}
	}()
	j.Run()
}
