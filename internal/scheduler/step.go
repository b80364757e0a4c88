package scheduler

import (
	"context"
	"fmt"

	"github.com/aristath/structured/internal/executor"
)

// StepStatus represents the current state of a step.
type StepStatus int

const (
	StepPending   StepStatus = iota // Waiting for dependencies
	StepRunning                     // Currently executing
	StepCompleted                   // Finished successfully
	StepFailed                      // Finished with error
	StepSkipped                     // Never ran: a dependency failed hard
	StepCancelled                   // Stopped by cancellation
)

func (s StepStatus) String() string {
	switch s {
	case StepPending:
		return "pending"
	case StepRunning:
		return "running"
	case StepCompleted:
		return "completed"
	case StepFailed:
		return "failed"
	case StepSkipped:
		return "skipped"
	case StepCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// FailureMode determines how a step's failure affects dependents.
type FailureMode int

const (
	FailHard FailureMode = iota // Skip ALL dependents
	FailSoft                    // Dependents still run; the run reports the failure
	FailSkip                    // Treat as success
)

// Step is one node of a task graph. Each step runs as its own child task.
type Step struct {
	ID          string            // Unique identifier
	Name        string            // Human-readable name
	DependsOn   []string          // Step IDs this step waits for
	Resources   []string          // Named resources held exclusively while running
	FailureMode FailureMode
	Executor    executor.Executor // Optional executor preference for the step's task
	Run         func(ctx context.Context) error

	Status StepStatus
	Error  error // Error if failed or skipped
}

func (s *Step) label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}
