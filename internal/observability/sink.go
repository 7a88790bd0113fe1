package observability

import (
	"context"
	"strconv"
	"time"

	"github.com/ironscout/harvester/infrastructure/logger"
	"github.com/ironscout/harvester/internal/domain"
)

// AdapterDisabledEvent is emitted when drift or zero-price detection turns an adapter off.
type AdapterDisabledEvent struct {
	AdapterID                string
	Reason                   string
	ConsecutiveFailedBatches int
	At                       time.Time
}

// QueueRejectedEvent is emitted on an enqueue rejection. Global is set when the
// whole tick was rejected more than it enqueued.
type QueueRejectedEvent struct {
	AdapterID             string
	Reason                string
	RetryAfter            time.Duration
	Global                bool
	Persistent            bool
	ConsecutiveRejections int
}

// RunCompletedEvent is emitted when a run is finalized.
type RunCompletedEvent struct {
	RunID     string
	AdapterID string
	SourceID  string
	Status    domain.RunStatus
	Rates     domain.RunRates
	Duration  time.Duration
}

// StaleTargetsEvent is emitted when the STALE backlog reaches the alert threshold.
type StaleTargetsEvent struct {
	Count     int
	Threshold int
}

// CapacityAlertEvent is emitted when a tick is skipped because the queue is nearly full.
type CapacityAlertEvent struct {
	Total              int
	Capacity           int
	UtilizationPercent float64
}

// CycleDeferredEvent is emitted when a cycle could not progress past a busy source.
type CycleDeferredEvent struct {
	AdapterID       string
	CycleID         string
	BlockedSourceID string
	DeferCount      int
	Escalated       bool
}

// Sink receives scheduler events. Implementations must not block or fail the caller.
type Sink interface {
	AdapterDisabled(ctx context.Context, e AdapterDisabledEvent)
	QueueRejected(ctx context.Context, e QueueRejectedEvent)
	RunCompleted(ctx context.Context, e RunCompletedEvent)
	StaleTargets(ctx context.Context, e StaleTargetsEvent)
	CapacityAlert(ctx context.Context, e CapacityAlertEvent)
	CycleDeferred(ctx context.Context, e CycleDeferredEvent)
}

// AlertSink logs events and counts them in Prometheus.
type AlertSink struct {
	logger  logger.Logger
	metrics *Metrics
}

var _ Sink = (*AlertSink)(nil)

// NewAlertSink creates a sink writing to log and m.
func NewAlertSink(log logger.Logger, m *Metrics) *AlertSink {
	return &AlertSink{logger: log, metrics: m}
}

func (s *AlertSink) AdapterDisabled(_ context.Context, e AdapterDisabledEvent) {
	s.metrics.AdaptersDisabled.WithLabelValues(e.AdapterID, e.Reason).Inc()
	s.logger.Error("Adapter disabled automatically",
		logger.AdapterID(e.AdapterID),
		logger.String("reason", e.Reason),
		logger.Int("consecutive_failed_batches", e.ConsecutiveFailedBatches),
		logger.Time("disabled_at", e.At),
	)
}

func (s *AlertSink) QueueRejected(_ context.Context, e QueueRejectedEvent) {
	if !e.Global {
		s.metrics.EnqueueRejections.WithLabelValues(e.AdapterID, e.Reason).Inc()
		s.logger.Warn("Queue rejected enqueue",
			logger.AdapterID(e.AdapterID),
			logger.String("reason", e.Reason),
			logger.Duration("retry_after", e.RetryAfter),
		)
		return
	}

	s.metrics.GlobalRejections.Inc()
	fields := []logger.Field{
		logger.Duration("pause", e.RetryAfter),
		logger.Int("consecutive_rejections", e.ConsecutiveRejections),
	}
	if e.Persistent {
		s.logger.Error("Persistent queue rejection, scheduler paused", fields...)
		return
	}
	s.logger.Warn("Queue rejected more than it accepted, scheduler paused", fields...)
}

func (s *AlertSink) RunCompleted(_ context.Context, e RunCompletedEvent) {
	s.metrics.RunsCompleted.WithLabelValues(e.AdapterID, string(e.Status)).Inc()
	s.logger.Info("Run finalized",
		logger.RunID(e.RunID),
		logger.AdapterID(e.AdapterID),
		logger.SourceID(e.SourceID),
		logger.String("status", string(e.Status)),
		logger.Float64("failure_rate", e.Rates.FailureRate),
		logger.Float64("yield_rate", e.Rates.YieldRate),
		logger.Duration("duration", e.Duration),
	)
}

func (s *AlertSink) StaleTargets(_ context.Context, e StaleTargetsEvent) {
	s.logger.Error("Stale target backlog over threshold",
		logger.Int("stale_targets", e.Count),
		logger.Int("threshold", e.Threshold),
	)
}

func (s *AlertSink) CapacityAlert(_ context.Context, e CapacityAlertEvent) {
	s.metrics.CapacityAlerts.Inc()
	s.logger.Warn("Queue near capacity, skipping new work",
		logger.Int("queue_total", e.Total),
		logger.Int("queue_capacity", e.Capacity),
		logger.Float64("utilization_percent", e.UtilizationPercent),
	)
}

func (s *AlertSink) CycleDeferred(_ context.Context, e CycleDeferredEvent) {
	s.metrics.CycleDeferrals.WithLabelValues(e.AdapterID, strconv.FormatBool(e.Escalated)).Inc()
	fields := []logger.Field{
		logger.AdapterID(e.AdapterID),
		logger.CycleID(e.CycleID),
		logger.SourceID(e.BlockedSourceID),
		logger.Int("defer_count", e.DeferCount),
	}
	if e.Escalated {
		s.logger.Error("Cycle blocked too long, skipping busy source", fields...)
		return
	}
	s.logger.Info("Cycle deferred, source has a foreign run", fields...)
}

// NopSink drops every event.
type NopSink struct{}

var _ Sink = NopSink{}

func (NopSink) AdapterDisabled(context.Context, AdapterDisabledEvent) {}
func (NopSink) QueueRejected(context.Context, QueueRejectedEvent)     {}
func (NopSink) RunCompleted(context.Context, RunCompletedEvent)       {}
func (NopSink) StaleTargets(context.Context, StaleTargetsEvent)       {}
func (NopSink) CapacityAlert(context.Context, CapacityAlertEvent)     {}
func (NopSink) CycleDeferred(context.Context, CycleDeferredEvent)     {}
