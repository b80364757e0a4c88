package executor

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// SerialExecutor runs jobs one at a time in priority-then-FIFO order.
//
// In automatic mode (NewSerial) a drain goroutine is started whenever a job
// arrives on an idle executor and exits once the queue is empty; there is
// never more than one drainer. In manual mode (NewManual) nothing runs until
// the owner calls RunPending or RunLoop.
type SerialExecutor struct {
	id     string
	label  string
	manual bool

	mu      sync.Mutex
	queue   jobQueue
	seq     uint64
	running bool
	closed  bool
	wake    chan struct{}
}

// NewSerial creates a serial executor that drains itself.
func NewSerial(label string) *SerialExecutor {
	return &SerialExecutor{
		id:    uuid.NewString(),
		label: label,
		wake:  make(chan struct{}, 1),
	}
}

// NewManual creates a serial executor driven by RunPending or RunLoop.
// It is deterministic: jobs run on the goroutine that drives it.
func NewManual(label string) *SerialExecutor {
	s := NewSerial(label)
	s.manual = true
	return s
}

func (s *SerialExecutor) ID() string    { return s.id }
func (s *SerialExecutor) Label() string { return s.label }
func (s *SerialExecutor) Mode() Mode    { return Serial }

// Submit enqueues a job.
func (s *SerialExecutor) Submit(job Job) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrExecutorClosed
	}

	s.seq++
	job.seq = s.seq
	s.queue.Push(job)

	startDrain := false
	if !s.manual && !s.running {
		s.running = true
		startDrain = true
	}
	s.mu.Unlock()

	if startDrain {
		go s.drain()
	}
	if s.manual {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

// drain runs queued jobs until the queue is empty.
// Only called with s.running already claimed by the caller.
func (s *SerialExecutor) drain() {
	for {
		s.mu.Lock()
		if s.queue.Empty() {
			s.running = false
			s.mu.Unlock()
			return
		}
		job := s.queue.Pop()
		s.mu.Unlock()

		runJob(s.label, job)
	}
}

// RunPending runs every queued job on the calling goroutine, including jobs
// submitted while it runs, and returns how many ran. It returns 0 without
// running anything if another goroutine is already draining.
func (s *SerialExecutor) RunPending() int {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return 0
	}
	s.running = true
	s.mu.Unlock()

	n := 0
	for {
		s.mu.Lock()
		if s.queue.Empty() {
			s.running = false
			s.mu.Unlock()
			return n
		}
		job := s.queue.Pop()
		s.mu.Unlock()

		runJob(s.label, job)
		n++
	}
}

// RunLoop drives a manual executor until ctx ends, or until it is shut down
// and its queue is empty.
func (s *SerialExecutor) RunLoop(ctx context.Context) error {
	for {
		s.RunPending()

		s.mu.Lock()
		done := s.closed && s.queue.Empty()
		s.mu.Unlock()
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		}
	}
}

// Pending returns the number of queued jobs.
func (s *SerialExecutor) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Shutdown rejects new jobs. Safe to call multiple times.
func (s *SerialExecutor) Shutdown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}
