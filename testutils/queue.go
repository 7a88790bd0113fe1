package testutils

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/ironscout/harvester/internal/queue"
)

// MemQueue is an in-memory queue.Queue with the same admission rules as the
// Redis queue: dedup by job id, global capacity, per-adapter pending cap.
type MemQueue struct {
	mu         sync.Mutex
	capacity   int
	maxPending int
	retryAfter time.Duration
	jobs       map[string]queue.Job
	order      []string
	pending    map[string]int

	// RejectFn, when set, forces a rejection for matching jobs.
	RejectFn func(queue.Job) bool
	// StatsErr is returned by Stats when set.
	StatsErr error
	// EnqueueErr is returned by Enqueue when set.
	EnqueueErr error

	accepted []queue.Job
}

var _ queue.Queue = (*MemQueue)(nil)

// NewMemQueue creates a queue with the given capacity and per-adapter cap.
func NewMemQueue(capacity, maxPending int, retryAfter time.Duration) *MemQueue {
	return &MemQueue{
		capacity:   capacity,
		maxPending: maxPending,
		retryAfter: retryAfter,
		jobs:       map[string]queue.Job{},
		pending:    map[string]int{},
	}
}

func (q *MemQueue) Enqueue(_ context.Context, job queue.Job) (queue.EnqueueResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.EnqueueErr != nil {
		return queue.EnqueueResult{}, q.EnqueueErr
	}
	if _, ok := q.jobs[job.ID()]; ok {
		return queue.EnqueueResult{Status: queue.EnqueueDeduplicated}, nil
	}
	if q.RejectFn != nil && q.RejectFn(job) {
		return q.rejected(queue.ReasonQueueFull), nil
	}
	if len(q.jobs) >= q.capacity {
		return q.rejected(queue.ReasonQueueFull), nil
	}
	if q.pending[job.AdapterID] >= q.maxPending {
		return q.rejected(queue.ReasonAdapterPendingLimit), nil
	}

	job.State = queue.JobStateWaiting
	q.jobs[job.ID()] = job
	q.order = append(q.order, job.ID())
	q.pending[job.AdapterID]++
	q.accepted = append(q.accepted, job)
	return queue.EnqueueResult{Status: queue.EnqueueAccepted}, nil
}

func (q *MemQueue) rejected(reason string) queue.EnqueueResult {
	return queue.EnqueueResult{Status: queue.EnqueueRejected, Reason: reason, RetryAfter: q.retryAfter}
}

func (q *MemQueue) Jobs(_ context.Context, states []queue.JobState) ([]queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []queue.Job
	for _, id := range q.order {
		if j, ok := q.jobs[id]; ok && slices.Contains(states, j.State) {
			out = append(out, j)
		}
	}
	return out, nil
}

func (q *MemQueue) Stats(context.Context) (queue.Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.StatsErr != nil {
		return queue.Stats{}, q.StatsErr
	}
	var waiting, active int
	for _, j := range q.jobs {
		if j.State == queue.JobStateActive {
			active++
		} else {
			waiting++
		}
	}
	total := waiting + active
	return queue.Stats{
		Waiting:            waiting,
		Active:             active,
		Total:              total,
		Capacity:           q.capacity,
		UtilizationPercent: queue.Utilization(total, q.capacity),
	}, nil
}

func (q *MemQueue) DecrementAdapterPending(_ context.Context, adapterID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending[adapterID] > 0 {
		q.pending[adapterID]--
	}
	return nil
}

func (q *MemQueue) Remove(_ context.Context, job queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.remove(job.ID())
	return nil
}

func (q *MemQueue) remove(id string) {
	delete(q.jobs, id)
	q.order = slices.DeleteFunc(q.order, func(o string) bool { return o == id })
}

// Drain completes every queued job as a worker would and returns them.
func (q *MemQueue) Drain() []queue.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []queue.Job
	for _, id := range q.order {
		j := q.jobs[id]
		out = append(out, j)
		if q.pending[j.AdapterID] > 0 {
			q.pending[j.AdapterID]--
		}
		delete(q.jobs, id)
	}
	q.order = nil
	return out
}

// Put inserts a job directly, bypassing admission. Used to seed stale entries.
func (q *MemQueue) Put(job queue.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job.State == "" {
		job.State = queue.JobStateWaiting
	}
	if _, ok := q.jobs[job.ID()]; !ok {
		q.order = append(q.order, job.ID())
		q.pending[job.AdapterID]++
	}
	q.jobs[job.ID()] = job
}

// Accepted returns every job accepted so far, in order.
func (q *MemQueue) Accepted() []queue.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.accepted)
}

// Len returns the number of queued jobs.
func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Pending returns the adapter's pending count.
func (q *MemQueue) Pending(adapterID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending[adapterID]
}
