package events

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestPublishSubscribe verifies basic publish/subscribe functionality.
func TestPublishSubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 10)

	bus.Publish(TopicTask, TaskSpawnedEvent{
		ID:        "task-1",
		Name:      "fetch",
		Executor:  "default(concurrent)",
		Timestamp: time.Now(),
	})

	select {
	case received := <-ch:
		if received.TaskID() != "task-1" {
			t.Errorf("expected task ID 'task-1', got '%s'", received.TaskID())
		}
		if received.EventType() != EventTypeTaskSpawned {
			t.Errorf("expected event type '%s', got '%s'", EventTypeTaskSpawned, received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

// TestMultipleSubscribers verifies multiple subscribers receive the same event.
func TestMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch1 := bus.Subscribe(TopicTask, 10)
	ch2 := bus.Subscribe(TopicTask, 10)

	bus.Publish(TopicTask, TaskCompletedEvent{
		ID:        "task-2",
		Duration:  100 * time.Millisecond,
		Timestamp: time.Now(),
	})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.TaskID() != "task-2" {
				t.Errorf("subscriber %d: expected task ID 'task-2', got '%s'", i+1, received.TaskID())
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d: timeout waiting for event", i+1)
		}
	}
}

// TestNonBlockingSend verifies that publishing doesn't block when channels are full
// and that lost deliveries are counted.
func TestNonBlockingSend(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(TopicTask, TaskStartedEvent{ID: "task", Timestamp: time.Now()})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publisher blocked (expected non-blocking behavior)")
	}

	select {
	case received := <-ch:
		if received == nil {
			t.Error("received nil event")
		}
	default:
		t.Error("expected at least one event in buffer")
	}

	if got := bus.Dropped(TopicTask); got != 9 {
		t.Errorf("expected 9 dropped deliveries, got %d", got)
	}
}

// TestCloseSignalsSubscribers verifies that closing the bus closes subscriber channels.
func TestCloseSignalsSubscribers(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe(TopicTask, 10)
	all := bus.SubscribeAll(10)

	bus.Close()
	bus.Close() // idempotent

	for range ch {
		t.Error("unexpected event on closed topic channel")
	}
	for range all {
		t.Error("unexpected event on closed all-topics channel")
	}

	late := bus.Subscribe(TopicTask, 1)
	if _, ok := <-late; ok {
		t.Error("subscription after close should be closed")
	}
}

// TestPublishAfterClose verifies publishing after close doesn't panic.
func TestPublishAfterClose(t *testing.T) {
	bus := NewEventBus()
	bus.Close()

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("publishing after close caused panic: %v", r)
		}
	}()

	bus.Publish(TopicTask, TaskFailedEvent{ID: "task-1", Err: errors.New("boom")})
}

// TestTopicIsolationAndSubscribeAll verifies topic subscribers only see their topic
// while SubscribeAll sees everything.
func TestTopicIsolationAndSubscribeAll(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	taskCh := bus.Subscribe(TopicTask, 10)
	scheduleCh := bus.Subscribe(TopicSchedule, 10)
	allCh := bus.SubscribeAll(10)

	bus.Publish(TopicTask, TaskCancelledEvent{ID: "task-1", Timestamp: time.Now()})
	bus.Publish(TopicSchedule, StepSkippedEvent{StepID: "report", Cause: "fetch", Timestamp: time.Now()})

	select {
	case received := <-taskCh:
		if received.EventType() != EventTypeTaskCancelled {
			t.Errorf("task channel: expected cancelled event, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("task channel: timeout waiting for event")
	}

	select {
	case received := <-scheduleCh:
		if received.EventType() != EventTypeStepSkipped {
			t.Errorf("schedule channel: expected skipped event, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("schedule channel: timeout waiting for event")
	}

	select {
	case <-taskCh:
		t.Error("task channel received unexpected event")
	case <-time.After(10 * time.Millisecond):
	}

	seen := make(map[string]bool)
	for i := 0; i < 2; i++ {
		select {
		case received := <-allCh:
			seen[received.EventType()] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatal("all channel: timeout waiting for event")
		}
	}
	if !seen[EventTypeTaskCancelled] || !seen[EventTypeStepSkipped] {
		t.Errorf("SubscribeAll missed events: %v", seen)
	}
}

func TestBusInContext(t *testing.T) {
	if FromContext(context.Background()) != nil {
		t.Error("expected no bus in a bare context")
	}

	bus := NewEventBus()
	defer bus.Close()

	ctx := WithBus(context.Background(), bus)
	if FromContext(ctx) != bus {
		t.Error("expected the bus stored in the context")
	}
}
