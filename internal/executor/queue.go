package executor

import "sort"

// jobQueue keeps jobs sorted by priority, then by submission order.
// Not safe for concurrent use; executors guard it with their own mutex.
type jobQueue struct {
	jobs []Job
}

func (q *jobQueue) Len() int {
	return len(q.jobs)
}

func (q *jobQueue) Empty() bool {
	return len(q.jobs) == 0
}

// Push inserts j after every queued job that should run before it.
// Sequence numbers only grow, so equal priorities stay FIFO.
func (q *jobQueue) Push(j Job) {
	i := sort.Search(len(q.jobs), func(i int) bool {
		return j.less(q.jobs[i])
	})

	q.jobs = append(q.jobs, Job{})
	copy(q.jobs[i+1:], q.jobs[i:])
	q.jobs[i] = j
}

// Pop removes and returns the first job. The queue must not be empty.
func (q *jobQueue) Pop() Job {
	j := q.jobs[0]
	q.jobs[0] = Job{}
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.jobs = nil
	}
	return j
}
