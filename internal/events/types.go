package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask     = "task"
	TopicSchedule = "schedule"
)

// Event type constants
const (
	EventTypeTaskSpawned         = "task.spawned"
	EventTypeTaskStarted         = "task.started"
	EventTypeTaskCancelRequested = "task.cancel_requested"
	EventTypeTaskCompleted       = "task.completed"
	EventTypeTaskFailed          = "task.failed"
	EventTypeTaskCancelled       = "task.cancelled"
	EventTypeStepSkipped         = "schedule.step_skipped"
)

// TaskSpawnedEvent is published when a task is created, before it first runs.
type TaskSpawnedEvent struct {
	ID        string
	ParentID  string // empty for root tasks
	Name      string
	Executor  string
	Priority  string
	Timestamp time.Time
}

func (e TaskSpawnedEvent) EventType() string { return EventTypeTaskSpawned }
func (e TaskSpawnedEvent) TaskID() string    { return e.ID }

// TaskStartedEvent is published when a task's first job runs.
type TaskStartedEvent struct {
	ID        string
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) TaskID() string    { return e.ID }

// TaskCancelRequestedEvent is published when a task's cancellation flag is set.
type TaskCancelRequestedEvent struct {
	ID        string
	Timestamp time.Time
}

func (e TaskCancelRequestedEvent) EventType() string { return EventTypeTaskCancelRequested }
func (e TaskCancelRequestedEvent) TaskID() string    { return e.ID }

// TaskCompletedEvent is published when a task finishes with a value.
type TaskCompletedEvent struct {
	ID        string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskID() string    { return e.ID }

// TaskFailedEvent is published when a task finishes with an error.
type TaskFailedEvent struct {
	ID        string
	Err       error
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskID() string    { return e.ID }

// TaskCancelledEvent is published when a task finishes by cancellation.
type TaskCancelledEvent struct {
	ID        string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCancelledEvent) EventType() string { return EventTypeTaskCancelled }
func (e TaskCancelledEvent) TaskID() string    { return e.ID }

// StepSkippedEvent is published when a scheduled step never runs because a
// dependency failed hard.
type StepSkippedEvent struct {
	StepID    string
	Cause     string // ID of the failed dependency
	Timestamp time.Time
}

func (e StepSkippedEvent) EventType() string { return EventTypeStepSkipped }
func (e StepSkippedEvent) TaskID() string    { return "" }
