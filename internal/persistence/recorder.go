package persistence

import (
	"context"
	"log"
	"sync"

	"github.com/aristath/structured/internal/events"
)

// Recorder writes task lifecycle events from a bus into a Store.
type Recorder struct {
	store Store
	sub   <-chan events.Event

	mu      sync.Mutex
	written int
	failed  int

	done chan struct{}
}

// NewRecorder subscribes to every topic of bus. Call Start to begin writing.
func NewRecorder(store Store, bus *events.EventBus, bufSize int) *Recorder {
	return &Recorder{
		store: store,
		sub:   bus.SubscribeAll(bufSize),
		done:  make(chan struct{}),
	}
}

// Start consumes events until the bus is closed or ctx ends.
func (r *Recorder) Start(ctx context.Context) {
	go r.run(ctx)
}

// Wait blocks until the recorder has stopped.
func (r *Recorder) Wait() {
	<-r.done
}

// Stats returns how many events were written and how many writes failed.
func (r *Recorder) Stats() (written, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written, r.failed
}

func (r *Recorder) run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case ev, ok := <-r.sub:
			if !ok {
				return
			}
			r.record(ctx, ev)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Recorder) record(ctx context.Context, ev events.Event) {
	var err error
	switch e := ev.(type) {
	case events.TaskSpawnedEvent:
		err = r.store.SaveTask(ctx, &TaskRecord{
			ID:        e.ID,
			ParentID:  e.ParentID,
			Name:      e.Name,
			Executor:  e.Executor,
			Priority:  e.Priority,
			State:     "created",
			SpawnedAt: e.Timestamp,
		})
	case events.TaskStartedEvent:
		err = r.store.MarkStarted(ctx, e.ID, e.Timestamp)
	case events.TaskCancelRequestedEvent:
		err = r.store.AppendEvent(ctx, EventRecord{TaskID: e.ID, Kind: "cancel_requested", At: e.Timestamp})
	case events.TaskCompletedEvent:
		err = r.store.UpdateTaskState(ctx, e.ID, "completed", nil, e.Timestamp)
	case events.TaskCancelledEvent:
		err = r.store.UpdateTaskState(ctx, e.ID, "cancelled", nil, e.Timestamp)
	case events.TaskFailedEvent:
		err = r.store.UpdateTaskState(ctx, e.ID, "failed", e.Err, e.Timestamp)
	case events.StepSkippedEvent:
		err = r.store.AppendEvent(ctx, EventRecord{TaskID: e.StepID, Kind: "step_skipped", Detail: e.Cause, At: e.Timestamp})
	default:
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.failed++
		log.Printf("WARNING: trace: recording %s for %q: %v", ev.EventType(), ev.TaskID(), err)
		return
	}
	r.written++
}
