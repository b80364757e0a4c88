package task

import "fmt"

// State is where a task is in its lifecycle.
type State int

const (
	StateCreated   State = iota // Spawned, first job not yet run
	StateRunning                // Holding a turn on an executor
	StateSuspended              // Waiting at a suspension point
	StateCompleted              // Finished with a value
	StateCancelled              // Finished by cancellation
	StateFailed                 // Finished with an error
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}
