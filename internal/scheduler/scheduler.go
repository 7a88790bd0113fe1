// Package scheduler runs the harvester tick loop: it gates on queue capacity,
// closes finished runs, runs maintenance, serves manual triggers and advances
// adapter cycles, then adjusts global backoff.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ironscout/harvester/infrastructure/logger"
	"github.com/ironscout/harvester/internal/backpressure"
	"github.com/ironscout/harvester/internal/config"
	"github.com/ironscout/harvester/internal/cycle"
	"github.com/ironscout/harvester/internal/database"
	"github.com/ironscout/harvester/internal/dispatch"
	"github.com/ironscout/harvester/internal/maintenance"
	"github.com/ironscout/harvester/internal/observability"
	"github.com/ironscout/harvester/internal/queue"
	"github.com/ironscout/harvester/internal/registry"
	"github.com/ironscout/harvester/internal/schedule"
)

const (
	// HardCapacityPercent skips all new work for the tick.
	HardCapacityPercent = 90.0
	// SoftCapacityPercent halves the batch size for the tick.
	SoftCapacityPercent = 50.0
)

// ErrAlreadyStarted is returned by Start when the loop is running.
var ErrAlreadyStarted = errors.New("scheduler already started")

// Deps holds the collaborators of a Scheduler.
type Deps struct {
	Store       *database.Store
	Queue       queue.Queue
	Cycles      *cycle.Manager
	Dispatcher  *dispatch.Dispatcher
	Backoff     *backpressure.Tracker
	Registry    *registry.Registry
	Finalizer   *Finalizer
	Maintenance *maintenance.Runner
	Sink        observability.Sink
	Logger      logger.Logger
}

// TickReport describes one tick.
type TickReport struct {
	StartedAt        time.Time           `json:"started_at"`
	DurationMs       int64               `json:"duration_ms"`
	Outcome          string              `json:"outcome"`
	QueueUtilization float64             `json:"queue_utilization_percent"`
	BatchSize        int                 `json:"batch_size"`
	RunsFinalized    int                 `json:"runs_finalized"`
	Maintenance      *maintenance.Report `json:"maintenance,omitempty"`
	ManualEnqueued   int                 `json:"manual_enqueued"`
	AdaptersAdvanced int                 `json:"adapters_advanced"`
	CyclesStarted    int                 `json:"cycles_started"`
	CyclesFinalized  int                 `json:"cycles_finalized"`
	Enqueued         int                 `json:"enqueued"`
	Rejected         int                 `json:"rejected"`
	// Aborted is set when rejections outnumbered acceptances mid-tick and the
	// remaining adapters were left for the next tick.
	Aborted          bool       `json:"aborted"`
	GlobalPauseUntil *time.Time `json:"global_pause_until,omitempty"`
	Errors           int        `json:"errors"`
}

// Status is a point-in-time view of the scheduler for operators.
type Status struct {
	Started           bool                  `json:"started"`
	TickInProgress    bool                  `json:"tick_in_progress"`
	Mode              string                `json:"mode"`
	TickInterval      string                `json:"tick_interval"`
	LastTick          *TickReport           `json:"last_tick,omitempty"`
	LastMaintenanceAt *time.Time            `json:"last_maintenance_at,omitempty"`
	Backoff           backpressure.Snapshot `json:"backoff"`
}

// published is the state copied out at the end of each tick so Status never
// touches the tracker while a tick is running.
type published struct {
	report          TickReport
	backoff         backpressure.Snapshot
	lastMaintenance time.Time
}

// Scheduler owns the tick loop. All scheduling state lives on the instance.
type Scheduler struct {
	cfg         config.SchedulerConfig
	store       *database.Store
	queue       queue.Queue
	cycles      *cycle.Manager
	dispatcher  *dispatch.Dispatcher
	backoff     *backpressure.Tracker
	registry    *registry.Registry
	finalizer   *Finalizer
	maintenance *maintenance.Runner
	due         *schedule.DueCalculator
	sink        observability.Sink
	metrics     *observability.Metrics
	tracer      *observability.Tracer
	logger      logger.Logger
	now         func() time.Time

	running         atomic.Bool
	lastMaintenance time.Time
	status          atomic.Pointer[published]

	// Loop control
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler.
func New(cfg config.SchedulerConfig, deps Deps, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:         cfg,
		store:       deps.Store,
		queue:       deps.Queue,
		cycles:      deps.Cycles,
		dispatcher:  deps.Dispatcher,
		backoff:     deps.Backoff,
		registry:    deps.Registry,
		finalizer:   deps.Finalizer,
		maintenance: deps.Maintenance,
		due:         schedule.NewDueCalculator(deps.Logger),
		sink:        deps.Sink,
		logger:      deps.Logger,
		tracer:      observability.NewTracer(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start ticks once immediately and then every TickInterval until Stop is
// called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrAlreadyStarted
	}
	if s.cfg.TickInterval <= 0 {
		return fmt.Errorf("invalid tick interval %s", s.cfg.TickInterval)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.loop(loopCtx)

	s.logger.Info("Scheduler started",
		logger.String("mode", s.cfg.Mode),
		logger.Duration("tick_interval", s.cfg.TickInterval),
		logger.Int("max_targets_per_tick", s.cfg.MaxTargetsPerTick),
	)
	return nil
}

// Stop ends the loop and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	s.logger.Info("Stopping scheduler")
	cancel()
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.safeTick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.safeTick(ctx)
		}
	}
}

// safeTick runs a tick to completion even if ctx is cancelled meanwhile, and
// keeps the loop alive across panics.
func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Scheduler tick panicked", logger.Any("panic", r))
		}
	}()
	s.Tick(context.WithoutCancel(ctx))
}

// Status reports loop state and the outcome of the most recent tick.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	started := s.cancel != nil
	s.mu.Unlock()

	st := Status{
		Started:        started,
		TickInProgress: s.running.Load(),
		Mode:           s.cfg.Mode,
		TickInterval:   s.cfg.TickInterval.String(),
	}
	if p := s.status.Load(); p != nil {
		report := p.report
		st.LastTick = &report
		st.Backoff = p.backoff
		if !p.lastMaintenance.IsZero() {
			at := p.lastMaintenance
			st.LastMaintenanceAt = &at
		}
	}
	return st
}

// Tick performs one scheduling pass. A tick requested while another is
// running is dropped and reported as skipped_busy.
func (s *Scheduler) Tick(ctx context.Context) (report TickReport) {
	report.StartedAt = s.now()

	if !s.running.CompareAndSwap(false, true) {
		report.Outcome = observability.TickSkippedBusy
		s.logger.Debug("Previous tick still running, skipping")
		if s.metrics != nil {
			s.metrics.TicksTotal.WithLabelValues(report.Outcome).Inc()
		}
		return report
	}
	defer s.running.Store(false)

	ctx, span := s.tracer.TickSpan(ctx, s.cfg.Mode)
	defer span.End()

	defer func() {
		report.DurationMs = s.now().Sub(report.StartedAt).Milliseconds()
		observability.AddTickAttributes(span, report.Enqueued, report.Rejected, report.Outcome != observability.TickCompleted)
		s.record(report)
	}()

	if s.backoff.IsGloballyPaused() {
		report.Outcome = observability.TickSkippedPaused
		s.logger.Debug("Scheduler globally paused, skipping tick")
		return report
	}

	batchSize, full := s.checkCapacity(ctx, &report)
	s.finalizeRuns(ctx, &report)
	s.runMaintenance(ctx, &report)
	if full {
		report.Outcome = observability.TickSkippedQueueFull
		return report
	}

	s.processManualTriggers(ctx, &report)
	if s.cfg.Mode == config.ModeTarget {
		s.processTargets(ctx, batchSize, &report)
	} else {
		s.processAdapters(ctx, batchSize, &report)
	}
	s.applyGlobalBackoff(ctx, &report)

	report.Outcome = observability.TickCompleted
	s.logger.Info("Scheduler tick completed",
		logger.Int("enqueued", report.Enqueued),
		logger.Int("rejected", report.Rejected),
		logger.Int("manual_enqueued", report.ManualEnqueued),
		logger.Int("adapters_advanced", report.AdaptersAdvanced),
		logger.Int("runs_finalized", report.RunsFinalized),
		logger.Int("batch_size", report.BatchSize),
		logger.Int("errors", report.Errors),
	)
	return report
}

func (s *Scheduler) record(report TickReport) {
	if s.metrics != nil {
		s.metrics.TicksTotal.WithLabelValues(report.Outcome).Inc()
		s.metrics.TickDurationSeconds.Observe((time.Duration(report.DurationMs) * time.Millisecond).Seconds())
	}
	s.status.Store(&published{
		report:          report,
		backoff:         s.backoff.Snapshot(),
		lastMaintenance: s.lastMaintenance,
	})
}

// checkCapacity reads queue utilization and returns the batch size for this
// tick, or full=true when no new work may be scheduled. A stats failure
// counts as a full queue.
func (s *Scheduler) checkCapacity(ctx context.Context, report *TickReport) (batchSize int, full bool) {
	batchSize = s.cfg.MaxTargetsPerTick
	report.BatchSize = batchSize

	stats, err := s.queue.Stats(ctx)
	if err != nil {
		report.Errors++
		s.logger.Error("Failed to read queue stats, skipping new work", logger.Error(err))
		return batchSize, true
	}

	report.QueueUtilization = stats.UtilizationPercent
	if s.metrics != nil {
		s.metrics.QueueUtilization.Set(stats.UtilizationPercent)
	}

	switch {
	case stats.UtilizationPercent >= HardCapacityPercent:
		s.sink.CapacityAlert(ctx, observability.CapacityAlertEvent{
			Total:              stats.Total,
			Capacity:           stats.Capacity,
			UtilizationPercent: stats.UtilizationPercent,
		})
		return batchSize, true
	case stats.UtilizationPercent >= SoftCapacityPercent:
		batchSize = max(batchSize/2, 1)
		s.logger.Info("Queue above half capacity, halving batch size",
			logger.Float64("utilization_percent", stats.UtilizationPercent),
			logger.Int("batch_size", batchSize),
		)
	}
	report.BatchSize = batchSize
	return batchSize, false
}

func (s *Scheduler) finalizeRuns(ctx context.Context, report *TickReport) {
	n, err := s.finalizer.FinalizeStaleRuns(ctx)
	if err != nil {
		report.Errors++
		s.logger.Error("Failed to finalize stale runs", logger.Error(err))
	}
	report.RunsFinalized = n
}

func (s *Scheduler) runMaintenance(ctx context.Context, report *TickReport) {
	now := s.now()
	if !s.lastMaintenance.IsZero() && now.Sub(s.lastMaintenance) < s.cfg.MaintenanceInterval {
		return
	}
	m := s.maintenance.Run(ctx)
	s.lastMaintenance = now
	report.Maintenance = &m
	report.Errors += m.Errors
}

// processAdapters advances every due adapter by one batch. The loop stops
// once the tick has seen more rejections than acceptances.
func (s *Scheduler) processAdapters(ctx context.Context, batchSize int, report *TickReport) {
	due, err := s.cycles.GetDueAdapters(ctx)
	if err != nil {
		report.Errors++
		s.logger.Error("Failed to compute due adapters", logger.Error(err))
		return
	}

	for _, d := range due {
		if report.Rejected > report.Enqueued {
			report.Aborted = true
			s.logger.Warn("Queue rejecting more than it accepts, deferring remaining adapters",
				logger.Int("enqueued", report.Enqueued),
				logger.Int("rejected", report.Rejected),
			)
			return
		}
		s.advanceAdapter(ctx, d, batchSize, report)
	}
}

func (s *Scheduler) advanceAdapter(ctx context.Context, d cycle.DueAdapter, batchSize int, report *TickReport) {
	ctx, span := s.tracer.AdapterSpan(ctx, d.Adapter.AdapterID, string(d.Reason))
	defer span.End()

	res, err := s.cycles.Advance(ctx, d, batchSize)
	report.AdaptersAdvanced++
	report.Enqueued += res.Batch.Enqueued
	report.Rejected += res.Batch.Rejected
	if res.Started {
		report.CyclesStarted++
	}
	if res.Finalized != "" {
		report.CyclesFinalized++
	}

	if err != nil {
		observability.RecordError(span, err)
		report.Errors++
		s.logger.Error("Failed to advance adapter",
			logger.AdapterID(d.Adapter.AdapterID),
			logger.CycleID(res.CycleID),
			logger.String("reason", string(d.Reason)),
			logger.Error(err),
		)
		return
	}

	s.logger.Debug("Adapter advanced",
		logger.AdapterID(d.Adapter.AdapterID),
		logger.CycleID(res.CycleID),
		logger.String("reason", string(d.Reason)),
		logger.Int("enqueued", res.Batch.Enqueued),
		logger.Int("rejected", res.Batch.Rejected),
		logger.Bool("has_more", res.Batch.HasMore),
	)
}

// applyGlobalBackoff pauses the scheduler after a tick whose rejections
// outnumbered its acceptances, and clears the pause otherwise.
func (s *Scheduler) applyGlobalBackoff(ctx context.Context, report *TickReport) {
	if report.Rejected <= report.Enqueued {
		s.backoff.ClearGlobal()
		if s.metrics != nil {
			s.metrics.GlobalPauseSeconds.Set(0)
		}
		return
	}

	pause := s.backoff.RecordGlobalRejection()
	report.GlobalPauseUntil = &pause.Until
	if s.metrics != nil {
		s.metrics.GlobalPauseSeconds.Set(pause.Duration.Seconds())
	}
	s.sink.QueueRejected(ctx, observability.QueueRejectedEvent{
		Reason:                "net_rejection",
		RetryAfter:            pause.Duration,
		Global:                true,
		Persistent:            pause.Persistent,
		ConsecutiveRejections: pause.ConsecutiveRejections,
	})
}
