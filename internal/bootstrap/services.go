package bootstrap

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ironscout/harvester/infrastructure/logger"
	"github.com/ironscout/harvester/internal/backpressure"
	"github.com/ironscout/harvester/internal/cycle"
	"github.com/ironscout/harvester/internal/database"
	"github.com/ironscout/harvester/internal/dispatch"
	"github.com/ironscout/harvester/internal/maintenance"
	"github.com/ironscout/harvester/internal/observability"
	"github.com/ironscout/harvester/internal/registry"
	"github.com/ironscout/harvester/internal/scheduler"
)

// ServiceComponents holds the wired scheduler and what the HTTP layer reads.
type ServiceComponents struct {
	Scheduler       *scheduler.Scheduler
	Registry        *registry.Registry
	MetricsRegistry *prometheus.Registry
	// Enabled is the persisted scheduler flag, or the config value when unset.
	Enabled bool
}

// TickResult is what the single-tick command prints.
type TickResult struct {
	Enabled bool                 `json:"scheduler_enabled"`
	Report  scheduler.TickReport `json:"report"`
}

// SetupServices registers adapters and wires the scheduler's components.
func SetupServices(
	ctx context.Context,
	deps *CommandDeps,
	db *DatabaseComponents,
	q *QueueComponents,
) (*ServiceComponents, error) {
	cfg := deps.Config
	log := deps.Logger

	reg := registry.New(cfg.Adapters)
	if err := ensureAdapters(ctx, db.Store, reg, log); err != nil {
		return nil, err
	}

	enabled, err := schedulerEnabled(ctx, db.Store.Settings, cfg.Scheduler.Enabled, log)
	if err != nil {
		return nil, err
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(promRegistry)
	sink := observability.NewAlertSink(log, metrics)

	tracker := backpressure.NewTracker()
	dispatcher := dispatch.New(db.Store.Runs, q.Queue, tracker, reg, sink, log,
		dispatch.WithMetrics(metrics),
	)
	cycles := cycle.NewManager(db.Store, dispatcher, tracker, reg, sink, log,
		cycle.WithMetrics(metrics),
		cycle.WithMaxConsecutiveDefers(cfg.Scheduler.MaxConsecutiveDefers),
	)
	finalizer := scheduler.NewFinalizer(db.Store, q.Queue, sink, log,
		scheduler.WithStaleRunAfter(cfg.Scheduler.StaleRunAfter),
	)
	runner := maintenance.NewRunner(db.Store.Targets, q.Queue, cfg.Maintenance, sink, log,
		maintenance.WithMetrics(metrics),
	)

	sched := scheduler.New(cfg.Scheduler, scheduler.Deps{
		Store:       db.Store,
		Queue:       q.Queue,
		Cycles:      cycles,
		Dispatcher:  dispatcher,
		Backoff:     tracker,
		Registry:    reg,
		Finalizer:   finalizer,
		Maintenance: runner,
		Sink:        sink,
		Logger:      log,
	},
		scheduler.WithMetrics(metrics),
		scheduler.WithTracer(observability.NewTracer()),
	)

	log.Info("Scheduler wired",
		logger.Bool("enabled", enabled),
		logger.String("mode", cfg.Scheduler.Mode),
		logger.Duration("tick_interval", cfg.Scheduler.TickInterval),
		logger.Strings("adapters", reg.IDs()),
	)

	return &ServiceComponents{
		Scheduler:       sched,
		Registry:        reg,
		MetricsRegistry: promRegistry,
		Enabled:         enabled,
	}, nil
}

// ensureAdapters creates a status row for every registered adapter.
func ensureAdapters(ctx context.Context, store *database.Store, reg *registry.Registry, log logger.Logger) error {
	for _, id := range reg.IDs() {
		status, err := store.Adapters.Ensure(ctx, id)
		if err != nil {
			return fmt.Errorf("register adapter %s: %w", id, err)
		}
		log.Debug("Adapter registered",
			logger.AdapterID(id),
			logger.Bool("enabled", status.Enabled),
		)
	}
	return nil
}

// schedulerEnabled reads the persisted flag once. The config value applies
// only when the flag was never written.
func schedulerEnabled(ctx context.Context, settings database.SettingsStore, fallback bool, log logger.Logger) (bool, error) {
	value, found, err := settings.GetBool(ctx, database.SettingSchedulerEnabled)
	if err != nil {
		return false, fmt.Errorf("read scheduler flag: %w", err)
	}
	if !found {
		log.Info("Scheduler flag not set, using config value", logger.Bool("enabled", fallback))
		return fallback, nil
	}
	return value, nil
}
