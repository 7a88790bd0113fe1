package database

import (
	"context"
	"time"

	"github.com/ironscout/harvester/internal/domain"
	"github.com/ironscout/harvester/internal/drift"
	"github.com/ironscout/harvester/internal/keyset"
)

// TargetStore is the data access contract for targets. Every "eligible" query
// applies the target and source gate: enabled, ACTIVE, not robots-blocked,
// and a source that is scrape-enabled and robots-compliant.
type TargetStore interface {
	GetByID(ctx context.Context, id string) (*domain.Target, error)

	// Cycle pagination
	CountEligibleByAdapter(ctx context.Context, adapterID string) (int, error)
	ListEligibleByAdapter(ctx context.Context, adapterID string, after keyset.Cursor, limit int) ([]domain.Target, error)

	// Legacy per-target scheduling: eligible targets not already pending, by priority.
	ListSchedulable(ctx context.Context, limit int) ([]domain.Target, error)

	// Manual triggers
	RequestManual(ctx context.Context, id string) error
	ListManualPending(ctx context.Context, limit int) ([]domain.Target, error)

	MarkEnqueued(ctx context.Context, ids []string, at time.Time) error
	SetLastStatus(ctx context.Context, id string, lastStatus *string) error

	// Maintenance
	MarkStalePending(ctx context.Context, enqueuedBefore time.Time) (int64, error)
	DeleteBroken(ctx context.Context, untouchedSince time.Time) (int64, error)
	ListBrokenForRecheck(ctx context.Context, limit int) ([]domain.Target, error)
	ResetForRecheck(ctx context.Context, ids []string) (int64, error)
	CountByStatus(ctx context.Context, status domain.TargetStatus) (int, error)
}

// AdapterStatusStore is the data access contract for per-adapter state.
type AdapterStatusStore interface {
	List(ctx context.Context) ([]domain.AdapterStatus, error)
	Get(ctx context.Context, adapterID string) (*domain.AdapterStatus, error)
	// Ensure returns the adapter row, creating a default one when absent.
	Ensure(ctx context.Context, adapterID string) (*domain.AdapterStatus, error)
	SetCurrentCycle(ctx context.Context, adapterID, cycleID string, startedAt time.Time) error
	// ClearCurrentCycle clears the pointer only while it still references cycleID.
	ClearCurrentCycle(ctx context.Context, adapterID, cycleID string) error
	UpdateDriftState(ctx context.Context, adapterID string, consecutiveFailedBatches int, lastRunHadZeroPrice bool) error
	Disable(ctx context.Context, adapterID, reason string, at time.Time) error
	UpdateBaseline(ctx context.Context, adapterID string, baseline domain.Baseline) error
}

// CycleStore is the data access contract for scrape cycles.
type CycleStore interface {
	Create(ctx context.Context, cycle *domain.ScrapeCycle) error
	Get(ctx context.Context, id string) (*domain.ScrapeCycle, error)
	// UpdateProgress adds the counters, moves the cursor when one is given and
	// sets the defer count.
	UpdateProgress(ctx context.Context, id string, progress domain.CycleProgress) error
	Finalize(ctx context.Context, id string, status domain.CycleStatus, completedAt time.Time) error
}

// RunStore is the data access contract for scrape runs.
type RunStore interface {
	Create(ctx context.Context, run *domain.ScrapeRun) error
	FindRunningBySource(ctx context.Context, sourceID string) (*domain.ScrapeRun, error)
	ListRunning(ctx context.Context) ([]domain.ScrapeRun, error)
	Finalize(ctx context.Context, run *domain.ScrapeRun) error
	ListBaselineSamples(ctx context.Context, adapterID string, since time.Time, limit int) ([]drift.Sample, error)
}

// SettingsStore reads and writes persisted admin flags.
type SettingsStore interface {
	GetBool(ctx context.Context, key string) (value, found bool, err error)
	SetBool(ctx context.Context, key string, value bool) error
}

// SettingSchedulerEnabled is the admin flag that turns the scheduler on.
const SettingSchedulerEnabled = "scheduler_enabled"

// Store bundles every repository the scheduler uses.
type Store struct {
	Targets  TargetStore
	Adapters AdapterStatusStore
	Cycles   CycleStore
	Runs     RunStore
	Settings SettingsStore
}
