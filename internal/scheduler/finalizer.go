package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ironscout/harvester/infrastructure/logger"
	"github.com/ironscout/harvester/internal/database"
	"github.com/ironscout/harvester/internal/domain"
	"github.com/ironscout/harvester/internal/drift"
	"github.com/ironscout/harvester/internal/observability"
	"github.com/ironscout/harvester/internal/queue"
)

// DefaultStaleRunAfter is how long a run may sit idle before it is closed.
const DefaultStaleRunAfter = 30 * time.Minute

// Finalizer closes RUNNING runs that have no queued work left and feeds their
// metrics to drift detection.
type Finalizer struct {
	runs     database.RunStore
	adapters database.AdapterStatusStore
	cycles   database.CycleStore
	queue    queue.Queue
	sink     observability.Sink
	logger   logger.Logger

	now        func() time.Time
	staleAfter time.Duration
}

// NewFinalizer creates a run finalizer.
func NewFinalizer(
	store *database.Store,
	q queue.Queue,
	sink observability.Sink,
	log logger.Logger,
	opts ...FinalizerOption,
) *Finalizer {
	f := &Finalizer{
		runs:       store.Runs,
		adapters:   store.Adapters,
		cycles:     store.Cycles,
		queue:      q,
		sink:       sink,
		logger:     log,
		now:        func() time.Time { return time.Now().UTC() },
		staleAfter: DefaultStaleRunAfter,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FinalizeStaleRuns closes every RUNNING run without waiting or active jobs
// that is either older than the stale threshold or whose cycle has ended.
// It returns the number of runs closed.
func (f *Finalizer) FinalizeStaleRuns(ctx context.Context) (int, error) {
	running, err := f.runs.ListRunning(ctx)
	if err != nil {
		return 0, fmt.Errorf("list running runs: %w", err)
	}
	if len(running) == 0 {
		return 0, nil
	}

	jobs, err := f.queue.Jobs(ctx, []queue.JobState{queue.JobStateWaiting, queue.JobStateActive})
	if err != nil {
		return 0, fmt.Errorf("list queued jobs: %w", err)
	}
	busy := make(map[string]bool, len(jobs))
	for _, job := range jobs {
		busy[job.RunID] = true
	}

	now := f.now()
	cycleOpen := map[string]bool{}
	finalized := 0
	for i := range running {
		r := &running[i]
		if busy[r.ID] || !f.closable(ctx, r, now, cycleOpen) {
			continue
		}
		if finErr := f.FinalizeRun(ctx, r); finErr != nil {
			f.logger.Error("Failed to finalize run",
				logger.RunID(r.ID),
				logger.AdapterID(r.AdapterID),
				logger.Error(finErr),
			)
			continue
		}
		finalized++
	}
	return finalized, nil
}

// closable reports whether an idle run may be closed. cycleOpen caches cycle
// lookups for the duration of one pass.
func (f *Finalizer) closable(ctx context.Context, r *domain.ScrapeRun, now time.Time, cycleOpen map[string]bool) bool {
	if now.Sub(r.StartedAt) > f.staleAfter {
		return true
	}
	if r.CycleID == nil {
		return false
	}

	open, cached := cycleOpen[*r.CycleID]
	if !cached {
		c, err := f.cycles.Get(ctx, *r.CycleID)
		switch {
		case errors.Is(err, database.ErrNotFound):
			open = false
		case err != nil:
			f.logger.Warn("Failed to load run's cycle",
				logger.RunID(r.ID),
				logger.CycleID(*r.CycleID),
				logger.Error(err),
			)
			return false
		default:
			open = c.Status == domain.CycleStatusRunning
		}
		cycleOpen[*r.CycleID] = open
	}
	return !open
}

// FinalizeRun derives the run's rates and final status, persists them and
// applies drift detection to its adapter.
func (f *Finalizer) FinalizeRun(ctx context.Context, r *domain.ScrapeRun) error {
	now := f.now()
	rates := drift.ComputeDerivedMetrics(r.RunMetrics)
	status := drift.ClassifyRun(r.RunMetrics, rates)
	duration := now.Sub(r.StartedAt)
	durationMs := duration.Milliseconds()

	r.Status = status
	r.RunRates = rates
	r.CompletedAt = &now
	r.DurationMs = &durationMs

	if err := f.runs.Finalize(ctx, r); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			f.logger.Debug("Run already finalized", logger.RunID(r.ID))
			return nil
		}
		return fmt.Errorf("finalize run %s: %w", r.ID, err)
	}

	f.sink.RunCompleted(ctx, observability.RunCompletedEvent{
		RunID:     r.ID,
		AdapterID: r.AdapterID,
		SourceID:  r.SourceID,
		Status:    status,
		Rates:     rates,
		Duration:  duration,
	})

	f.evaluateAdapter(ctx, r, now)
	return nil
}

// evaluateAdapter runs both drift checks, persists the drift counters,
// disables the adapter on a disable decision and refreshes its baseline
// after a successful run.
func (f *Finalizer) evaluateAdapter(ctx context.Context, r *domain.ScrapeRun, now time.Time) {
	a, err := f.adapters.Get(ctx, r.AdapterID)
	if err != nil {
		f.logger.Warn("Skipping drift checks, adapter not loaded",
			logger.AdapterID(r.AdapterID),
			logger.RunID(r.ID),
			logger.Error(err),
		)
		return
	}

	auto, autoOK := drift.CheckAutoDisable(r.RunMetrics, drift.FromDomain(a.Baseline), a.ConsecutiveFailedBatches)
	zero, zeroOK := drift.CheckZeroPriceDisable(r.RunMetrics, a.LastRunHadZeroPrice)

	failedBatches := a.ConsecutiveFailedBatches
	if autoOK {
		failedBatches = auto.ConsecutiveFailedBatches
	}
	zeroPrice := a.LastRunHadZeroPrice
	if zeroOK {
		zeroPrice = zero.LastRunHadZeroPrice
	}
	if failedBatches != a.ConsecutiveFailedBatches || zeroPrice != a.LastRunHadZeroPrice {
		if updErr := f.adapters.UpdateDriftState(ctx, a.AdapterID, failedBatches, zeroPrice); updErr != nil {
			f.logger.Error("Failed to save drift state", logger.AdapterID(a.AdapterID), logger.Error(updErr))
		}
	}

	switch {
	case autoOK && auto.ShouldDisable:
		f.disableAdapter(ctx, a, auto, failedBatches, now)
	case zeroOK && zero.ShouldDisable:
		f.disableAdapter(ctx, a, zero, failedBatches, now)
	}

	if r.Status == domain.RunStatusSuccess {
		f.refreshBaseline(ctx, a, now)
	}
}

func (f *Finalizer) disableAdapter(
	ctx context.Context, a *domain.AdapterStatus, d drift.Decision, failedBatches int, now time.Time,
) {
	if !a.Enabled {
		return
	}
	if err := f.adapters.Disable(ctx, a.AdapterID, d.Reason, now); err != nil {
		f.logger.Error("Failed to disable adapter",
			logger.AdapterID(a.AdapterID),
			logger.String("reason", d.Reason),
			logger.Error(err),
		)
		return
	}

	if a.CurrentCycleID != nil {
		cycleID := *a.CurrentCycleID
		if err := f.cycles.Finalize(ctx, cycleID, domain.CycleStatusCancelled, now); err != nil &&
			!errors.Is(err, database.ErrNotFound) {
			f.logger.Error("Failed to cancel cycle of disabled adapter",
				logger.AdapterID(a.AdapterID),
				logger.CycleID(cycleID),
				logger.Error(err),
			)
		}
		if err := f.adapters.ClearCurrentCycle(ctx, a.AdapterID, cycleID); err != nil {
			f.logger.Error("Failed to release cycle of disabled adapter",
				logger.AdapterID(a.AdapterID),
				logger.CycleID(cycleID),
				logger.Error(err),
			)
		}
	}

	f.logger.Warn("Adapter disabled",
		logger.AdapterID(a.AdapterID),
		logger.String("reason", d.Reason),
		logger.Strings("triggers", d.Triggers),
	)
	f.sink.AdapterDisabled(ctx, observability.AdapterDisabledEvent{
		AdapterID:                a.AdapterID,
		Reason:                   d.Reason,
		ConsecutiveFailedBatches: failedBatches,
		At:                       now,
	})
}

func (f *Finalizer) refreshBaseline(ctx context.Context, a *domain.AdapterStatus, now time.Time) {
	samples, err := f.runs.ListBaselineSamples(ctx, a.AdapterID, now.Add(-drift.BaselineWindow), drift.BaselineMaxSamples)
	if err != nil {
		f.logger.Error("Failed to load baseline samples", logger.AdapterID(a.AdapterID), logger.Error(err))
		return
	}

	b, ok := drift.UpdateBaseline(drift.FromDomain(a.Baseline), domain.RunStatusSuccess, samples, now)
	if !ok {
		return
	}
	updated := domain.Baseline{
		FailureRate: b.MedianFailureRate,
		YieldRate:   b.MedianYieldRate,
		SampleSize:  b.SampleSize,
		UpdatedAt:   &now,
	}
	if updErr := f.adapters.UpdateBaseline(ctx, a.AdapterID, updated); updErr != nil {
		f.logger.Error("Failed to save baseline", logger.AdapterID(a.AdapterID), logger.Error(updErr))
	}
}
