// Package queue defines the shared, capacity-limited scrape job queue.
package queue

//go:generate mockgen -destination=mocks/mock_queue.go -package=mocks github.com/ironscout/harvester/internal/queue Queue

import (
	"context"
	"time"

	"github.com/ironscout/harvester/internal/domain"
)

// JobState is where a job sits in the queue.
type JobState string

const (
	JobStateWaiting JobState = "waiting"
	JobStateActive  JobState = "active"
)

// Job is one scrape request for a single target URL.
type Job struct {
	TargetID   string         `json:"target_id"`
	URL        string         `json:"url"`
	SourceID   string         `json:"source_id"`
	RetailerID string         `json:"retailer_id"`
	AdapterID  string         `json:"adapter_id"`
	RunID      string         `json:"run_id"`
	Priority   int            `json:"priority"`
	Trigger    domain.Trigger `json:"trigger"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
	State      JobState       `json:"-"`
}

// ID is the deduplication key. A target has at most one job in the queue.
func (j Job) ID() string {
	return "target:" + j.TargetID
}

// EnqueueStatus classifies the queue's answer to an enqueue.
type EnqueueStatus string

const (
	EnqueueAccepted     EnqueueStatus = "accepted"
	EnqueueRejected     EnqueueStatus = "rejected"
	EnqueueDeduplicated EnqueueStatus = "deduplicated"
)

// Reject reasons.
const (
	ReasonQueueFull           = "queue_full"
	ReasonAdapterPendingLimit = "adapter_pending_limit"
)

// EnqueueResult is the outcome of one enqueue. RetryAfter is set on rejection.
type EnqueueResult struct {
	Status     EnqueueStatus
	Reason     string
	RetryAfter time.Duration
}

// Stats summarizes queue occupancy.
type Stats struct {
	Waiting            int     `json:"waiting"`
	Active             int     `json:"active"`
	Total              int     `json:"total"`
	Capacity           int     `json:"capacity"`
	UtilizationPercent float64 `json:"utilization_percent"`
}

// Queue is the scheduler's view of the job queue.
type Queue interface {
	Enqueue(ctx context.Context, job Job) (EnqueueResult, error)
	Jobs(ctx context.Context, states []JobState) ([]Job, error)
	Stats(ctx context.Context) (Stats, error)
	DecrementAdapterPending(ctx context.Context, adapterID string) error
	Remove(ctx context.Context, job Job) error
}

// Worker is the consumer side of the queue. The scheduler never calls it; the
// external scrape workers claim and acknowledge jobs through it.
type Worker interface {
	Claim(ctx context.Context) (*Job, error)
	Ack(ctx context.Context, job Job) error
	AdapterPending(ctx context.Context, adapterID string) (int, error)
}

// Utilization returns used/capacity as a percentage. A zero capacity reports full.
func Utilization(total, capacity int) float64 {
	if capacity <= 0 {
		return 100
	}
	return float64(total) * 100 / float64(capacity)
}
