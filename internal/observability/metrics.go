// Package observability provides metrics, tracing and alerting for the harvester scheduler.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// MetricsNamespace is the namespace for all harvester metrics.
	MetricsNamespace = "harvester"

	// MetricsSubsystem is the subsystem for scheduler metrics.
	MetricsSubsystem = "scheduler"
)

// Tick outcomes recorded in TicksTotal.
const (
	TickCompleted        = "completed"
	TickSkippedPaused    = "skipped_paused"
	TickSkippedBusy      = "skipped_busy"
	TickSkippedQueueFull = "skipped_queue_full"
)

// Metrics holds all Prometheus metrics for the scheduler.
type Metrics struct {
	// Tick metrics
	TicksTotal          *prometheus.CounterVec
	TickDurationSeconds prometheus.Histogram

	// Enqueue metrics
	TargetsEnqueued   *prometheus.CounterVec
	EnqueueRejections *prometheus.CounterVec
	QueueUtilization  prometheus.Gauge
	CapacityAlerts    prometheus.Counter

	// Backpressure metrics
	GlobalPauseSeconds prometheus.Gauge
	GlobalRejections   prometheus.Counter

	// Cycle and run metrics
	CyclesStarted   *prometheus.CounterVec
	CyclesFinalized *prometheus.CounterVec
	CycleDeferrals  *prometheus.CounterVec
	RunsCompleted   *prometheus.CounterVec

	// Drift metrics
	AdaptersDisabled *prometheus.CounterVec

	// Maintenance metrics
	MaintenanceRows *prometheus.CounterVec
	StaleTargets    prometheus.Gauge
}

// NewMetrics creates and registers all scheduler metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	m := &Metrics{}

	m.initTickMetrics(factory)
	m.initEnqueueMetrics(factory)
	m.initCycleMetrics(factory)
	m.initMaintenanceMetrics(factory)

	return m
}

func (m *Metrics) initTickMetrics(factory promauto.Factory) {
	m.TicksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "ticks_total",
			Help:      "Total number of scheduler ticks by outcome",
		},
		[]string{"outcome"},
	)

	m.TickDurationSeconds = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "tick_duration_seconds",
			Help:      "Duration of scheduler ticks in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)
}

func (m *Metrics) initEnqueueMetrics(factory promauto.Factory) {
	m.TargetsEnqueued = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "targets_enqueued_total",
			Help:      "Total number of targets accepted by the queue",
		},
		[]string{"adapter_id", "trigger"},
	)

	m.EnqueueRejections = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "enqueue_rejections_total",
			Help:      "Total number of enqueues rejected by the queue",
		},
		[]string{"adapter_id", "reason"},
	)

	m.QueueUtilization = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "queue_utilization_percent",
			Help:      "Queue occupancy as a percentage of capacity at the last tick",
		},
	)

	m.CapacityAlerts = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "capacity_alerts_total",
			Help:      "Total number of ticks skipped because the queue was near capacity",
		},
	)

	m.GlobalPauseSeconds = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "global_pause_seconds",
			Help:      "Length of the current global backoff pause, zero when not paused",
		},
	)

	m.GlobalRejections = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "global_rejections_total",
			Help:      "Total number of ticks that ended in a global backoff",
		},
	)
}

func (m *Metrics) initCycleMetrics(factory promauto.Factory) {
	m.CyclesStarted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "cycles_started_total",
			Help:      "Total number of scrape cycles started",
		},
		[]string{"adapter_id", "trigger"},
	)

	m.CyclesFinalized = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "cycles_finalized_total",
			Help:      "Total number of scrape cycles finalized by status",
		},
		[]string{"adapter_id", "status"},
	)

	m.CycleDeferrals = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "cycle_deferrals_total",
			Help:      "Total number of ticks a cycle made no progress because a source was busy",
		},
		[]string{"adapter_id", "escalated"},
	)

	m.RunsCompleted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "runs_completed_total",
			Help:      "Total number of scrape runs finalized by status",
		},
		[]string{"adapter_id", "status"},
	)

	m.AdaptersDisabled = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "adapters_disabled_total",
			Help:      "Total number of automatic adapter disables by reason",
		},
		[]string{"adapter_id", "reason"},
	)
}

func (m *Metrics) initMaintenanceMetrics(factory promauto.Factory) {
	m.MaintenanceRows = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "maintenance_rows_total",
			Help:      "Total number of rows or queue entries touched by maintenance jobs",
		},
		[]string{"job"},
	)

	m.StaleTargets = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "stale_targets",
			Help:      "Number of STALE targets at the last maintenance pass",
		},
	)
}
