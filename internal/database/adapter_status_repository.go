package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ironscout/harvester/internal/domain"
)

const adapterStatusColumns = `adapter_id, enabled, ingestion_paused, schedule, current_cycle_id,
	last_cycle_started_at, cycle_timeout_minutes, consecutive_failed_batches, last_run_had_zero_price,
	disabled_at, disabled_reason, baseline_failure_rate, baseline_yield_rate, baseline_sample_size,
	baseline_updated_at`

// AdapterStatusRepository handles database operations for adapter_status.
type AdapterStatusRepository struct {
	db *sqlx.DB
}

// NewAdapterStatusRepository creates a new adapter status repository.
func NewAdapterStatusRepository(db *sqlx.DB) *AdapterStatusRepository {
	return &AdapterStatusRepository{db: db}
}

var _ AdapterStatusStore = (*AdapterStatusRepository)(nil)

// List returns every adapter row ordered by id.
func (r *AdapterStatusRepository) List(ctx context.Context) ([]domain.AdapterStatus, error) {
	adapters := []domain.AdapterStatus{}
	query := `SELECT ` + adapterStatusColumns + ` FROM adapter_status ORDER BY adapter_id`
	if err := r.db.SelectContext(ctx, &adapters, query); err != nil {
		return nil, fmt.Errorf("list adapter status: %w", err)
	}
	return adapters, nil
}

// Get returns one adapter row or ErrNotFound.
func (r *AdapterStatusRepository) Get(ctx context.Context, adapterID string) (*domain.AdapterStatus, error) {
	var a domain.AdapterStatus
	query := `SELECT ` + adapterStatusColumns + ` FROM adapter_status WHERE adapter_id = $1`
	err := r.db.GetContext(ctx, &a, query, adapterID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("adapter", adapterID)
	}
	if err != nil {
		return nil, fmt.Errorf("get adapter status %s: %w", adapterID, err)
	}
	return &a, nil
}

// Ensure inserts a default row when none exists and returns the current row.
func (r *AdapterStatusRepository) Ensure(ctx context.Context, adapterID string) (*domain.AdapterStatus, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO adapter_status (adapter_id) VALUES ($1) ON CONFLICT (adapter_id) DO NOTHING`,
		adapterID,
	)
	if err != nil {
		return nil, fmt.Errorf("ensure adapter status %s: %w", adapterID, err)
	}
	return r.Get(ctx, adapterID)
}

// SetCurrentCycle points the adapter at a newly started cycle.
func (r *AdapterStatusRepository) SetCurrentCycle(ctx context.Context, adapterID, cycleID string, startedAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE adapter_status
		SET current_cycle_id = $2, last_cycle_started_at = $3, updated_at = NOW()
		WHERE adapter_id = $1`,
		adapterID, cycleID, startedAt,
	)
	if reqErr := execRequireRows(result, err, notFound("adapter", adapterID)); reqErr != nil {
		return fmt.Errorf("set current cycle: %w", reqErr)
	}
	return nil
}

// ClearCurrentCycle clears the pointer if it still references cycleID. A
// pointer that already moved on is left alone.
func (r *AdapterStatusRepository) ClearCurrentCycle(ctx context.Context, adapterID, cycleID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE adapter_status
		SET current_cycle_id = NULL, updated_at = NOW()
		WHERE adapter_id = $1 AND current_cycle_id = $2`,
		adapterID, cycleID,
	)
	if err != nil {
		return fmt.Errorf("clear current cycle for %s: %w", adapterID, err)
	}
	return nil
}

// UpdateDriftState persists the drift counters after a run is finalized.
func (r *AdapterStatusRepository) UpdateDriftState(
	ctx context.Context, adapterID string, consecutiveFailedBatches int, lastRunHadZeroPrice bool,
) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE adapter_status
		SET consecutive_failed_batches = $2, last_run_had_zero_price = $3, updated_at = NOW()
		WHERE adapter_id = $1`,
		adapterID, consecutiveFailedBatches, lastRunHadZeroPrice,
	)
	if reqErr := execRequireRows(result, err, notFound("adapter", adapterID)); reqErr != nil {
		return fmt.Errorf("update drift state: %w", reqErr)
	}
	return nil
}

// Disable turns the adapter off and records why.
func (r *AdapterStatusRepository) Disable(ctx context.Context, adapterID, reason string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE adapter_status
		SET enabled = FALSE, disabled_at = $2, disabled_reason = $3, updated_at = NOW()
		WHERE adapter_id = $1`,
		adapterID, at, reason,
	)
	if reqErr := execRequireRows(result, err, notFound("adapter", adapterID)); reqErr != nil {
		return fmt.Errorf("disable adapter: %w", reqErr)
	}
	return nil
}

// UpdateBaseline stores a recomputed baseline.
func (r *AdapterStatusRepository) UpdateBaseline(ctx context.Context, adapterID string, b domain.Baseline) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE adapter_status
		SET baseline_failure_rate = $2, baseline_yield_rate = $3, baseline_sample_size = $4,
			baseline_updated_at = $5, updated_at = NOW()
		WHERE adapter_id = $1`,
		adapterID, b.FailureRate, b.YieldRate, b.SampleSize, b.UpdatedAt,
	)
	if reqErr := execRequireRows(result, err, notFound("adapter", adapterID)); reqErr != nil {
		return fmt.Errorf("update baseline: %w", reqErr)
	}
	return nil
}
