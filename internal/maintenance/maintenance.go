// Package maintenance runs the scheduler's periodic housekeeping jobs.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/ironscout/harvester/infrastructure/logger"
	"github.com/ironscout/harvester/internal/config"
	"github.com/ironscout/harvester/internal/database"
	"github.com/ironscout/harvester/internal/domain"
	"github.com/ironscout/harvester/internal/observability"
	"github.com/ironscout/harvester/internal/queue"
)

// Job names used in logs and the maintenance_rows_total metric.
const (
	JobStaleMarking    = "stale_marking"
	JobBrokenDeletion  = "broken_deletion"
	JobBrokenRecheck   = "broken_recheck"
	JobQueueEviction   = "queue_eviction"
	JobStaleTargetScan = "stale_target_scan"
)

// Report summarizes one maintenance pass.
type Report struct {
	StaleMarked   int64 `json:"stale_marked"`
	BrokenDeleted int64 `json:"broken_deleted"`
	RecheckRan    bool  `json:"recheck_ran"`
	Rechecked     int64 `json:"rechecked"`
	QueueEvicted  int   `json:"queue_evicted"`
	StaleTargets  int   `json:"stale_targets"`
	Errors        int   `json:"errors"`
}

// Runner executes the housekeeping jobs. Each job is independent: a failure is
// logged and the remaining jobs still run.
type Runner struct {
	targets database.TargetStore
	queue   queue.Queue
	cfg     config.MaintenanceConfig
	sink    observability.Sink
	metrics *observability.Metrics
	logger  logger.Logger
	now     func() time.Time

	lastRecheck time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// WithMetrics counts affected rows per job.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// NewRunner creates a maintenance runner.
func NewRunner(
	targets database.TargetStore,
	q queue.Queue,
	cfg config.MaintenanceConfig,
	sink observability.Sink,
	log logger.Logger,
	opts ...Option,
) *Runner {
	r := &Runner{
		targets: targets,
		queue:   q,
		cfg:     cfg,
		sink:    sink,
		logger:  log,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes every job once. The broken recheck only runs when
// RecheckInterval has passed since the previous recheck.
func (r *Runner) Run(ctx context.Context) Report {
	var report Report

	if n, err := r.MarkStaleTargets(ctx); r.check(JobStaleMarking, err, &report) {
		report.StaleMarked = n
	}
	if n, err := r.DeleteBrokenTargets(ctx); r.check(JobBrokenDeletion, err, &report) {
		report.BrokenDeleted = n
	}
	if r.recheckDue() {
		report.RecheckRan = true
		if n, err := r.RecheckBrokenTargets(ctx); r.check(JobBrokenRecheck, err, &report) {
			report.Rechecked = n
		}
	}
	if n, err := r.EvictStaleQueueEntries(ctx); r.check(JobQueueEviction, err, &report) {
		report.QueueEvicted = n
	}
	if n, err := r.CheckStaleBacklog(ctx); r.check(JobStaleTargetScan, err, &report) {
		report.StaleTargets = n
	}

	r.logger.Info("Maintenance completed",
		logger.Int64("stale_marked", report.StaleMarked),
		logger.Int64("broken_deleted", report.BrokenDeleted),
		logger.Bool("recheck_ran", report.RecheckRan),
		logger.Int64("rechecked", report.Rechecked),
		logger.Int("queue_evicted", report.QueueEvicted),
		logger.Int("stale_targets", report.StaleTargets),
		logger.Int("errors", report.Errors),
	)
	return report
}

func (r *Runner) check(job string, err error, report *Report) bool {
	if err == nil {
		return true
	}
	report.Errors++
	r.logger.Error("Maintenance job failed", logger.String("job", job), logger.Error(err))
	return false
}

func (r *Runner) recheckDue() bool {
	return r.lastRecheck.IsZero() || r.now().Sub(r.lastRecheck) >= r.cfg.RecheckInterval
}

func (r *Runner) count(job string, n int64) {
	if r.metrics != nil && n > 0 {
		r.metrics.MaintenanceRows.WithLabelValues(job).Add(float64(n))
	}
}

// MarkStaleTargets marks targets STALE whose PENDING tag is older than StaleTargetAfter.
func (r *Runner) MarkStaleTargets(ctx context.Context) (int64, error) {
	n, err := r.targets.MarkStalePending(ctx, r.now().Add(-r.cfg.StaleTargetAfter))
	if err != nil {
		return 0, fmt.Errorf("mark stale targets: %w", err)
	}
	r.count(JobStaleMarking, n)
	return n, nil
}

// DeleteBrokenTargets removes BROKEN targets untouched for BrokenRetention.
func (r *Runner) DeleteBrokenTargets(ctx context.Context) (int64, error) {
	n, err := r.targets.DeleteBroken(ctx, r.now().Add(-r.cfg.BrokenRetention))
	if err != nil {
		return 0, fmt.Errorf("delete broken targets: %w", err)
	}
	r.count(JobBrokenDeletion, n)
	return n, nil
}

// RecheckBrokenTargets gives up to RecheckBatchSize BROKEN targets another
// chance: ACTIVE again, half their failure count, tagged RECHECK_PENDING.
func (r *Runner) RecheckBrokenTargets(ctx context.Context) (int64, error) {
	broken, err := r.targets.ListBrokenForRecheck(ctx, r.cfg.RecheckBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list broken targets: %w", err)
	}
	r.lastRecheck = r.now()
	if len(broken) == 0 {
		return 0, nil
	}

	ids := make([]string, len(broken))
	for i, t := range broken {
		ids[i] = t.ID
	}
	n, err := r.targets.ResetForRecheck(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("reset broken targets: %w", err)
	}
	r.count(JobBrokenRecheck, n)
	return n, nil
}

// EvictStaleQueueEntries drops queue entries older than StaleQueueEntryAge and
// returns their slots to the adapter's pending count.
func (r *Runner) EvictStaleQueueEntries(ctx context.Context) (int, error) {
	jobs, err := r.queue.Jobs(ctx, []queue.JobState{queue.JobStateWaiting, queue.JobStateActive})
	if err != nil {
		return 0, fmt.Errorf("list queue jobs: %w", err)
	}

	cutoff := r.now().Add(-r.cfg.StaleQueueEntryAge)
	evicted := 0
	for _, job := range jobs {
		if !job.EnqueuedAt.Before(cutoff) {
			continue
		}
		if removeErr := r.queue.Remove(ctx, job); removeErr != nil {
			r.logger.Warn("Failed to evict queue entry",
				logger.TargetID(job.TargetID),
				logger.AdapterID(job.AdapterID),
				logger.Error(removeErr),
			)
			continue
		}
		if decErr := r.queue.DecrementAdapterPending(ctx, job.AdapterID); decErr != nil {
			r.logger.Warn("Failed to decrement adapter pending count",
				logger.AdapterID(job.AdapterID),
				logger.Error(decErr),
			)
		}
		evicted++
	}
	r.count(JobQueueEviction, int64(evicted))
	return evicted, nil
}

// CheckStaleBacklog reports the STALE target count and alerts at StaleTargetAlertSize.
func (r *Runner) CheckStaleBacklog(ctx context.Context) (int, error) {
	n, err := r.targets.CountByStatus(ctx, domain.TargetStatusStale)
	if err != nil {
		return 0, fmt.Errorf("count stale targets: %w", err)
	}
	if r.metrics != nil {
		r.metrics.StaleTargets.Set(float64(n))
	}
	if r.cfg.StaleTargetAlertSize > 0 && n >= r.cfg.StaleTargetAlertSize {
		r.sink.StaleTargets(ctx, observability.StaleTargetsEvent{Count: n, Threshold: r.cfg.StaleTargetAlertSize})
	}
	return n, nil
}
