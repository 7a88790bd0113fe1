// Package dispatch turns eligible targets into queue jobs: it finds or opens
// the scrape run for the target's source and enqueues under per-adapter backoff.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ironscout/harvester/infrastructure/logger"
	"github.com/ironscout/harvester/internal/backpressure"
	"github.com/ironscout/harvester/internal/database"
	"github.com/ironscout/harvester/internal/domain"
	"github.com/ironscout/harvester/internal/observability"
	"github.com/ironscout/harvester/internal/queue"
	"github.com/ironscout/harvester/internal/registry"
)

const unknownAdapterVersion = "unknown"

// Outcome is the result of one enqueue attempt.
type Outcome string

const (
	OutcomeAccepted     Outcome = "accepted"
	OutcomeRejected     Outcome = "rejected"
	OutcomeDeduplicated Outcome = "deduplicated"
	// OutcomeBackedOff means the adapter was in backoff and the queue was not called.
	OutcomeBackedOff Outcome = "backed_off"
)

// Owner identifies who wants a run: a cycle, or a trigger without a cycle.
type Owner struct {
	CycleID *string
	Trigger domain.Trigger
}

// CycleOwner returns the owner for scheduled work inside cycleID.
func CycleOwner(cycleID string) Owner {
	return Owner{CycleID: &cycleID, Trigger: domain.TriggerScheduled}
}

// SourceRef carries what a new run needs to know about its source.
type SourceRef struct {
	SourceID   string
	RetailerID string
	AdapterID  string
}

// SourceOf returns the source reference of t.
func SourceOf(t domain.Target) SourceRef {
	return SourceRef{SourceID: t.SourceID, RetailerID: t.RetailerID, AdapterID: t.AdapterID}
}

// Resolution is the run to attach jobs to. When Blocked is set another
// owner's run is RUNNING for the source and Run is nil.
type Resolution struct {
	Run       *domain.ScrapeRun
	Created   bool
	Blocked   bool
	BlockedBy *domain.ScrapeRun
}

// Dispatcher resolves runs and enqueues jobs.
type Dispatcher struct {
	runs     database.RunStore
	queue    queue.Queue
	backoff  *backpressure.Tracker
	registry *registry.Registry
	sink     observability.Sink
	metrics  *observability.Metrics
	logger   logger.Logger
	now      func() time.Time
	newID    func() string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// WithIDGenerator overrides run id generation.
func WithIDGenerator(newID func() string) Option {
	return func(d *Dispatcher) {
		d.newID = newID
	}
}

// WithMetrics counts accepted jobs in m.
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// New creates a Dispatcher.
func New(
	runs database.RunStore,
	q queue.Queue,
	backoff *backpressure.Tracker,
	reg *registry.Registry,
	sink observability.Sink,
	log logger.Logger,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		runs:     runs,
		queue:    q,
		backoff:  backoff,
		registry: reg,
		sink:     sink,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ResolveRun reuses the source's RUNNING run when it belongs to owner, opens a
// new run when the source has none, and reports Blocked otherwise.
func (d *Dispatcher) ResolveRun(ctx context.Context, src SourceRef, owner Owner) (Resolution, error) {
	existing, err := d.runs.FindRunningBySource(ctx, src.SourceID)
	switch {
	case err == nil:
		if existing.BelongsTo(owner.CycleID, owner.Trigger) {
			return Resolution{Run: existing}, nil
		}
		return Resolution{Blocked: true, BlockedBy: existing}, nil
	case !errors.Is(err, database.ErrNotFound):
		return Resolution{}, fmt.Errorf("resolve run for source %s: %w", src.SourceID, err)
	}

	version := unknownAdapterVersion
	if a, ok := d.registry.Get(src.AdapterID); ok && a.Version != "" {
		version = a.Version
	}

	run := &domain.ScrapeRun{
		ID:             d.newID(),
		SourceID:       src.SourceID,
		RetailerID:     src.RetailerID,
		AdapterID:      src.AdapterID,
		AdapterVersion: version,
		CycleID:        owner.CycleID,
		Trigger:        owner.Trigger,
		Status:         domain.RunStatusRunning,
		StartedAt:      d.now(),
	}
	if createErr := d.runs.Create(ctx, run); createErr != nil {
		return Resolution{}, fmt.Errorf("open run for source %s: %w", src.SourceID, createErr)
	}

	d.logger.Debug("Opened scrape run",
		logger.RunID(run.ID),
		logger.SourceID(src.SourceID),
		logger.AdapterID(src.AdapterID),
		logger.String("trigger", string(owner.Trigger)),
	)
	return Resolution{Run: run, Created: true}, nil
}

// Enqueue submits one target under run. An adapter in backoff is not sent to
// the queue. A rejection extends the adapter's backoff; an acceptance clears it.
func (d *Dispatcher) Enqueue(ctx context.Context, t domain.Target, run *domain.ScrapeRun, trigger domain.Trigger) (Outcome, error) {
	if d.backoff.IsInBackoff(t.AdapterID) {
		return OutcomeBackedOff, nil
	}

	job := queue.Job{
		TargetID:   t.ID,
		URL:        t.URL,
		SourceID:   t.SourceID,
		RetailerID: t.RetailerID,
		AdapterID:  t.AdapterID,
		RunID:      run.ID,
		Priority:   t.Priority,
		Trigger:    trigger,
		EnqueuedAt: d.now(),
	}

	res, err := d.queue.Enqueue(ctx, job)
	if err != nil {
		return "", fmt.Errorf("enqueue target %s: %w", t.ID, err)
	}

	switch res.Status {
	case queue.EnqueueAccepted:
		d.backoff.ClearBackoff(t.AdapterID)
		if d.metrics != nil {
			d.metrics.TargetsEnqueued.WithLabelValues(t.AdapterID, string(trigger)).Inc()
		}
		return OutcomeAccepted, nil
	case queue.EnqueueDeduplicated:
		return OutcomeDeduplicated, nil
	case queue.EnqueueRejected:
		window := d.backoff.RecordBackoff(t.AdapterID, res.RetryAfter)
		d.sink.QueueRejected(ctx, observability.QueueRejectedEvent{
			AdapterID:  t.AdapterID,
			Reason:     res.Reason,
			RetryAfter: window,
		})
		return OutcomeRejected, nil
	default:
		return "", fmt.Errorf("enqueue target %s: unknown queue status %q", t.ID, res.Status)
	}
}
