package executor

import (
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ConcurrentExecutor runs jobs in parallel on at most `workers` goroutines.
// A single dispatcher pops a job only once a worker is free, so the queue
// keeps ordering every job that has not started yet.
type ConcurrentExecutor struct {
	id      string
	label   string
	workers int

	mu     sync.Mutex
	cond   *sync.Cond
	queue  jobQueue
	seq    uint64
	busy   int
	closed bool

	pool errgroup.Group
	done chan struct{}
}

// NewConcurrent creates a concurrent executor and starts its dispatcher.
// workers <= 0 is treated as 1.
func NewConcurrent(label string, workers int) *ConcurrentExecutor {
	if workers <= 0 {
		workers = 1
	}

	c := &ConcurrentExecutor{
		id:      uuid.NewString(),
		label:   label,
		workers: workers,
		done:    make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	c.pool.SetLimit(workers)

	go c.dispatch()
	return c
}

func (c *ConcurrentExecutor) ID() string    { return c.id }
func (c *ConcurrentExecutor) Label() string { return c.label }
func (c *ConcurrentExecutor) Mode() Mode    { return Concurrent }

// Workers returns the size of the worker pool.
func (c *ConcurrentExecutor) Workers() int { return c.workers }

// Submit enqueues a job.
func (c *ConcurrentExecutor) Submit(job Job) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrExecutorClosed
	}

	c.seq++
	job.seq = c.seq
	c.queue.Push(job)
	c.cond.Signal()
	return nil
}

func (c *ConcurrentExecutor) dispatch() {
	defer close(c.done)

	for {
		c.mu.Lock()
		for !c.ready() && !(c.closed && c.queue.Empty()) {
			c.cond.Wait()
		}
		if c.queue.Empty() {
			c.mu.Unlock()
			break
		}
		job := c.queue.Pop()
		c.busy++
		c.mu.Unlock()

		// The errgroup limit matches workers; Go can only wait for a
		// finishing worker to return its slot.
		c.pool.Go(func() error {
			runJob(c.label, job)
			c.mu.Lock()
			c.busy--
			c.cond.Signal()
			c.mu.Unlock()
			return nil
		})
	}

	_ = c.pool.Wait()
}

// ready reports whether a queued job can start. Callers hold c.mu.
func (c *ConcurrentExecutor) ready() bool {
	return !c.queue.Empty() && c.busy < c.workers
}

// Shutdown rejects new jobs; queued jobs still run.
func (c *ConcurrentExecutor) Shutdown() {
	c.mu.Lock()
	c.closed = true
	c.cond.Broadcast()
	c.mu.Unlock()
}

// Done is closed once the executor is shut down and every job has finished.
func (c *ConcurrentExecutor) Done() <-chan struct{} {
	return c.done
}
