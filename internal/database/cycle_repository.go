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

const cycleColumns = `id, adapter_id, status, trigger, started_at, completed_at, duration_ms,
	total_targets, targets_completed, targets_failed, targets_skipped, last_processed_target_id,
	last_processed_priority, defer_count, offers_found, offers_valid`

// CycleRepository handles database operations for scrape cycles.
type CycleRepository struct {
	db *sqlx.DB
}

// NewCycleRepository creates a new cycle repository.
func NewCycleRepository(db *sqlx.DB) *CycleRepository {
	return &CycleRepository{db: db}
}

var _ CycleStore = (*CycleRepository)(nil)

// Create inserts a new cycle.
func (r *CycleRepository) Create(ctx context.Context, c *domain.ScrapeCycle) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO scrape_cycles (id, adapter_id, status, trigger, started_at, total_targets)
		VALUES (:id, :adapter_id, :status, :trigger, :started_at, :total_targets)`,
		c,
	)
	if err != nil {
		return fmt.Errorf("create cycle for %s: %w", c.AdapterID, err)
	}
	return nil
}

// Get returns one cycle or ErrNotFound.
func (r *CycleRepository) Get(ctx context.Context, id string) (*domain.ScrapeCycle, error) {
	var c domain.ScrapeCycle
	err := r.db.GetContext(ctx, &c, `SELECT `+cycleColumns+` FROM scrape_cycles WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("cycle", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get cycle %s: %w", id, err)
	}
	return &c, nil
}

// UpdateProgress adds batch counters to a running cycle.
func (r *CycleRepository) UpdateProgress(ctx context.Context, id string, p domain.CycleProgress) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE scrape_cycles SET
			targets_completed = targets_completed + $2,
			targets_failed = targets_failed + $3,
			targets_skipped = targets_skipped + $4,
			last_processed_target_id = COALESCE($5, last_processed_target_id),
			last_processed_priority = COALESCE($6, last_processed_priority),
			defer_count = $7
		WHERE id = $1 AND status = 'RUNNING'`,
		id, p.Completed, p.Failed, p.Skipped, p.LastTargetID, p.LastPriority, p.DeferCount,
	)
	if reqErr := execRequireRows(result, err, notFound("running cycle", id)); reqErr != nil {
		return fmt.Errorf("update cycle progress: %w", reqErr)
	}
	return nil
}

// Finalize moves a running cycle to a terminal status and stamps its duration.
func (r *CycleRepository) Finalize(ctx context.Context, id string, status domain.CycleStatus, completedAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE scrape_cycles SET
			status = $2,
			completed_at = $3,
			duration_ms = (EXTRACT(EPOCH FROM ($3 - started_at)) * 1000)::BIGINT
		WHERE id = $1 AND status = 'RUNNING'`,
		id, status, completedAt,
	)
	if reqErr := execRequireRows(result, err, notFound("running cycle", id)); reqErr != nil {
		return fmt.Errorf("finalize cycle: %w", reqErr)
	}
	return nil
}
