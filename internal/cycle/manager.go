// Package cycle drives resumable, multi-batch passes of an adapter over its
// eligible targets.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ironscout/harvester/infrastructure/logger"
	"github.com/ironscout/harvester/internal/backpressure"
	"github.com/ironscout/harvester/internal/database"
	"github.com/ironscout/harvester/internal/dispatch"
	"github.com/ironscout/harvester/internal/domain"
	"github.com/ironscout/harvester/internal/observability"
	"github.com/ironscout/harvester/internal/registry"
	"github.com/ironscout/harvester/internal/schedule"
)

// DefaultMaxConsecutiveDefers is how many no-progress ticks a cycle tolerates
// behind a busy source before it skips that source's targets.
const DefaultMaxConsecutiveDefers = 30

// ErrCycleActive is returned when an adapter already has a RUNNING cycle.
var ErrCycleActive = errors.New("adapter already has an active cycle")

// DueReason explains why an adapter needs work this tick.
type DueReason string

const (
	ReasonStuck    DueReason = "stuck"
	ReasonContinue DueReason = "continue"
	ReasonCron     DueReason = "cron"
)

// DueAdapter is an adapter that needs work. Cycle is set for stuck and continue.
type DueAdapter struct {
	Adapter domain.AdapterStatus
	Reason  DueReason
	Cycle   *domain.ScrapeCycle
}

// Manager owns cycle state transitions.
type Manager struct {
	targets  database.TargetStore
	adapters database.AdapterStatusStore
	cycles   database.CycleStore

	dispatcher *dispatch.Dispatcher
	backoff    *backpressure.Tracker
	registry   *registry.Registry
	due        *schedule.DueCalculator
	sink       observability.Sink
	metrics    *observability.Metrics
	logger     logger.Logger

	now                  func() time.Time
	newID                func() string
	maxConsecutiveDefers int
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithIDGenerator overrides cycle id generation.
func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) {
		m.newID = newID
	}
}

// WithMetrics records cycle starts and finalizations in metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithMaxConsecutiveDefers sets the escalation threshold for blocked cycles.
// Default: 30
func WithMaxConsecutiveDefers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxConsecutiveDefers = n
		}
	}
}

// NewManager creates a cycle manager.
func NewManager(
	store *database.Store,
	dispatcher *dispatch.Dispatcher,
	backoff *backpressure.Tracker,
	reg *registry.Registry,
	sink observability.Sink,
	log logger.Logger,
	opts ...Option,
) *Manager {
	m := &Manager{
		targets:              store.Targets,
		adapters:             store.Adapters,
		cycles:               store.Cycles,
		dispatcher:           dispatcher,
		backoff:              backoff,
		registry:             reg,
		due:                  schedule.NewDueCalculator(log),
		sink:                 sink,
		logger:               log,
		now:                  func() time.Time { return time.Now().UTC() },
		newID:                uuid.NewString,
		maxConsecutiveDefers: DefaultMaxConsecutiveDefers,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetDueAdapters returns enabled, unpaused, registered adapters outside
// backoff that have a stuck or active cycle, or whose schedule is due.
func (m *Manager) GetDueAdapters(ctx context.Context) ([]DueAdapter, error) {
	adapters, err := m.adapters.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list adapters: %w", err)
	}

	now := m.now()
	var due []DueAdapter
	for _, a := range adapters {
		if !a.Schedulable() || m.backoff.IsInBackoff(a.AdapterID) {
			continue
		}
		if _, ok := m.registry.Get(a.AdapterID); !ok {
			m.logger.Debug("Skipping unregistered adapter", logger.AdapterID(a.AdapterID))
			continue
		}

		active, activeErr := m.activeCycle(ctx, a)
		if activeErr != nil {
			m.logger.Error("Failed to load active cycle",
				logger.AdapterID(a.AdapterID),
				logger.Error(activeErr),
			)
			continue
		}

		switch {
		case active != nil && now.Sub(active.StartedAt) > a.CycleTimeout():
			due = append(due, DueAdapter{Adapter: a, Reason: ReasonStuck, Cycle: active})
		case active != nil:
			due = append(due, DueAdapter{Adapter: a, Reason: ReasonContinue, Cycle: active})
		case m.due.IsDue(a.Schedule, a.LastCycleStartedAt, now):
			due = append(due, DueAdapter{Adapter: a, Reason: ReasonCron})
		}
	}
	return due, nil
}

// activeCycle returns the RUNNING cycle the adapter points at. A pointer to a
// missing or finished cycle is cleared and reported as no active cycle.
func (m *Manager) activeCycle(ctx context.Context, a domain.AdapterStatus) (*domain.ScrapeCycle, error) {
	if a.CurrentCycleID == nil {
		return nil, nil
	}

	c, err := m.cycles.Get(ctx, *a.CurrentCycleID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}
	if err == nil && c.Status == domain.CycleStatusRunning {
		return c, nil
	}

	m.logger.Warn("Clearing dangling cycle pointer",
		logger.AdapterID(a.AdapterID),
		logger.CycleID(*a.CurrentCycleID),
	)
	if clearErr := m.adapters.ClearCurrentCycle(ctx, a.AdapterID, *a.CurrentCycleID); clearErr != nil {
		return nil, fmt.Errorf("clear dangling cycle: %w", clearErr)
	}
	return nil, nil
}

// StartNewCycle snapshots the eligible target count and opens a RUNNING cycle.
// A cycle with nothing to do is finalized COMPLETED before it is returned.
func (m *Manager) StartNewCycle(ctx context.Context, adapterID string, trigger domain.Trigger) (*domain.ScrapeCycle, error) {
	a, err := m.adapters.Get(ctx, adapterID)
	if err != nil {
		return nil, fmt.Errorf("load adapter %s: %w", adapterID, err)
	}
	active, err := m.activeCycle(ctx, *a)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, fmt.Errorf("start cycle for %s: %w", adapterID, ErrCycleActive)
	}

	total, err := m.targets.CountEligibleByAdapter(ctx, adapterID)
	if err != nil {
		return nil, fmt.Errorf("count targets for %s: %w", adapterID, err)
	}

	now := m.now()
	c := &domain.ScrapeCycle{
		ID:           m.newID(),
		AdapterID:    adapterID,
		Status:       domain.CycleStatusRunning,
		Trigger:      trigger,
		StartedAt:    now,
		TotalTargets: total,
	}
	if createErr := m.cycles.Create(ctx, c); createErr != nil {
		return nil, fmt.Errorf("create cycle for %s: %w", adapterID, createErr)
	}
	if setErr := m.adapters.SetCurrentCycle(ctx, adapterID, c.ID, now); setErr != nil {
		return nil, fmt.Errorf("point %s at cycle: %w", adapterID, setErr)
	}

	if m.metrics != nil {
		m.metrics.CyclesStarted.WithLabelValues(adapterID, string(trigger)).Inc()
	}
	m.logger.Info("Cycle started",
		logger.AdapterID(adapterID),
		logger.CycleID(c.ID),
		logger.Int("total_targets", total),
		logger.String("trigger", string(trigger)),
	)

	if total == 0 {
		if finErr := m.FinalizeCycle(ctx, c, domain.CycleStatusCompleted); finErr != nil {
			return nil, finErr
		}
	}
	return c, nil
}

// FinalizeCycle moves c to status and releases the adapter's pointer.
func (m *Manager) FinalizeCycle(ctx context.Context, c *domain.ScrapeCycle, status domain.CycleStatus) error {
	now := m.now()
	err := m.cycles.Finalize(ctx, c.ID, status, now)
	switch {
	case errors.Is(err, database.ErrNotFound):
		m.logger.Warn("Cycle already finalized", logger.AdapterID(c.AdapterID), logger.CycleID(c.ID))
	case err != nil:
		return fmt.Errorf("finalize cycle %s: %w", c.ID, err)
	default:
		c.Status = status
		c.CompletedAt = &now
	}

	if clearErr := m.adapters.ClearCurrentCycle(ctx, c.AdapterID, c.ID); clearErr != nil {
		return fmt.Errorf("release cycle %s: %w", c.ID, clearErr)
	}

	if m.metrics != nil {
		m.metrics.CyclesFinalized.WithLabelValues(c.AdapterID, string(status)).Inc()
	}
	m.logger.Info("Cycle finalized",
		logger.AdapterID(c.AdapterID),
		logger.CycleID(c.ID),
		logger.String("status", string(status)),
		logger.Int("targets_completed", c.TargetsCompleted),
		logger.Int("targets_failed", c.TargetsFailed),
		logger.Int("targets_skipped", c.TargetsSkipped),
	)
	return nil
}

// HandleStuckCycle fails a cycle that outlived its adapter's timeout.
func (m *Manager) HandleStuckCycle(ctx context.Context, c *domain.ScrapeCycle) error {
	m.logger.Warn("Cycle exceeded timeout, failing it",
		logger.AdapterID(c.AdapterID),
		logger.CycleID(c.ID),
		logger.Time("started_at", c.StartedAt),
	)
	return m.FinalizeCycle(ctx, c, domain.CycleStatusFailed)
}

// ExhaustedStatus is the final status of a cycle that ran out of targets.
func ExhaustedStatus(c *domain.ScrapeCycle) domain.CycleStatus {
	if c.TargetsFailed <= c.TargetsCompleted {
		return domain.CycleStatusCompleted
	}
	return domain.CycleStatusFailed
}

// AdvanceResult summarizes what Advance did for one adapter.
type AdvanceResult struct {
	CycleID   string
	Started   bool
	Finalized domain.CycleStatus
	Batch     BatchResult
}

// Advance performs one tick of work for a due adapter: it fails a stuck cycle,
// or starts or continues a cycle, processes one batch and finalizes the cycle
// once its targets are exhausted.
func (m *Manager) Advance(ctx context.Context, d DueAdapter, batchSize int) (AdvanceResult, error) {
	var c *domain.ScrapeCycle
	var result AdvanceResult

	switch d.Reason {
	case ReasonStuck:
		result.CycleID = d.Cycle.ID
		if err := m.HandleStuckCycle(ctx, d.Cycle); err != nil {
			return result, err
		}
		result.Finalized = domain.CycleStatusFailed
		return result, nil
	case ReasonContinue:
		c = d.Cycle
	case ReasonCron:
		started, err := m.StartNewCycle(ctx, d.Adapter.AdapterID, domain.TriggerScheduled)
		if err != nil {
			return result, err
		}
		c = started
		result.Started = true
	default:
		return result, fmt.Errorf("unknown due reason %q", d.Reason)
	}

	result.CycleID = c.ID
	if c.Status.IsTerminal() {
		result.Finalized = c.Status
		return result, nil
	}

	batch, err := m.ProcessCycleBatch(ctx, c, batchSize)
	result.Batch = batch
	if err != nil {
		return result, err
	}
	if batch.HasMore {
		return result, nil
	}

	latest, err := m.cycles.Get(ctx, c.ID)
	if err != nil {
		return result, fmt.Errorf("reload cycle %s: %w", c.ID, err)
	}
	status := ExhaustedStatus(latest)
	if finErr := m.FinalizeCycle(ctx, latest, status); finErr != nil {
		return result, finErr
	}
	result.Finalized = status
	return result, nil
}
