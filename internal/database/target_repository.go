package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ironscout/harvester/internal/domain"
	"github.com/ironscout/harvester/internal/keyset"
)

const (
	// targetSelectColumns lists target columns plus the owning retailer.
	targetSelectColumns = `t.id, t.url, t.source_id, s.retailer_id, t.adapter_id, t.enabled, t.status,
		t.priority, t.schedule, t.last_scraped_at, t.consecutive_failures, t.last_status,
		t.last_enqueued_at, t.robots_path_blocked, t.created_at, t.updated_at`

	targetFrom = ` FROM targets t JOIN sources s ON s.id = t.source_id `

	sourceGate   = `s.scrape_enabled AND s.robots_compliant`
	eligibleGate = `t.enabled AND t.status = 'ACTIVE' AND NOT t.robots_path_blocked AND ` + sourceGate

	// schedulableWindowFactor widens the legacy candidate query since cron
	// filtering happens after the fetch.
	schedulableWindowFactor = 5
)

// TargetRepository handles database operations for targets.
type TargetRepository struct {
	db *sqlx.DB
}

// NewTargetRepository creates a new target repository.
func NewTargetRepository(db *sqlx.DB) *TargetRepository {
	return &TargetRepository{db: db}
}

var _ TargetStore = (*TargetRepository)(nil)

// GetByID returns the target with the given id.
func (r *TargetRepository) GetByID(ctx context.Context, id string) (*domain.Target, error) {
	var t domain.Target
	err := r.db.GetContext(ctx, &t, `SELECT `+targetSelectColumns+targetFrom+`WHERE t.id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("target", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get target %s: %w", id, err)
	}
	return &t, nil
}

// CountEligibleByAdapter counts the targets a new cycle would cover.
func (r *TargetRepository) CountEligibleByAdapter(ctx context.Context, adapterID string) (int, error) {
	var n int
	query := `SELECT COUNT(*)` + targetFrom + `WHERE t.adapter_id = $1 AND ` + eligibleGate
	if err := r.db.GetContext(ctx, &n, query, adapterID); err != nil {
		return 0, fmt.Errorf("count eligible targets for %s: %w", adapterID, err)
	}
	return n, nil
}

// ListEligibleByAdapter returns the next page of eligible targets after the cursor,
// ordered by priority descending then id ascending.
func (r *TargetRepository) ListEligibleByAdapter(
	ctx context.Context, adapterID string, after keyset.Cursor, limit int,
) ([]domain.Target, error) {
	query := `SELECT ` + targetSelectColumns + targetFrom + `WHERE t.adapter_id = $1 AND ` + eligibleGate
	args := []any{adapterID}

	if clause, cursorArgs := after.Predicate("t.priority", "t.id", len(args)+1); clause != "" {
		query += ` AND ` + clause
		args = append(args, cursorArgs...)
	}

	args = append(args, limit)
	query += ` ORDER BY ` + keyset.OrderBy("t.priority", "t.id") + fmt.Sprintf(` LIMIT $%d`, len(args))

	targets := []domain.Target{}
	if err := r.db.SelectContext(ctx, &targets, query, args...); err != nil {
		return nil, fmt.Errorf("list eligible targets for %s: %w", adapterID, err)
	}
	return targets, nil
}

// ListSchedulable returns eligible targets that are not already waiting in the
// queue, least recently scraped first within each priority.
func (r *TargetRepository) ListSchedulable(ctx context.Context, limit int) ([]domain.Target, error) {
	query := `SELECT ` + targetSelectColumns + targetFrom + `WHERE ` + eligibleGate + `
		AND (t.last_status IS NULL OR t.last_status NOT IN ('PENDING', 'MANUAL_PENDING'))
		ORDER BY t.priority DESC, t.last_scraped_at ASC NULLS FIRST
		LIMIT $1`

	targets := []domain.Target{}
	if err := r.db.SelectContext(ctx, &targets, query, limit*schedulableWindowFactor); err != nil {
		return nil, fmt.Errorf("list schedulable targets: %w", err)
	}
	return targets, nil
}

// RequestManual flags a target for a manual scrape on the next tick.
func (r *TargetRepository) RequestManual(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE targets SET last_status = $2, updated_at = NOW() WHERE id = $1`,
		id, domain.LastStatusManualPending,
	)
	if reqErr := execRequireRows(result, err, notFound("target", id)); reqErr != nil {
		return fmt.Errorf("request manual scrape: %w", reqErr)
	}
	return nil
}

// ListManualPending returns eligible targets of schedulable adapters awaiting a
// manual scrape, oldest request first.
func (r *TargetRepository) ListManualPending(ctx context.Context, limit int) ([]domain.Target, error) {
	query := `SELECT ` + targetSelectColumns + targetFrom + `JOIN adapter_status a ON a.adapter_id = t.adapter_id
		WHERE t.last_status = $1 AND ` + eligibleGate + ` AND a.enabled AND NOT a.ingestion_paused
		ORDER BY t.updated_at ASC
		LIMIT $2`

	targets := []domain.Target{}
	if err := r.db.SelectContext(ctx, &targets, query, domain.LastStatusManualPending, limit); err != nil {
		return nil, fmt.Errorf("list manual pending targets: %w", err)
	}
	return targets, nil
}

// MarkEnqueued tags targets as PENDING and records the enqueue time.
func (r *TargetRepository) MarkEnqueued(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE targets SET last_status = $2, last_enqueued_at = $3, updated_at = NOW() WHERE id = ANY($1)`,
		pq.Array(ids), domain.LastStatusPending, at,
	)
	if err != nil {
		return fmt.Errorf("mark %d targets enqueued: %w", len(ids), err)
	}
	return nil
}

// SetLastStatus replaces the transient status marker; nil clears it.
func (r *TargetRepository) SetLastStatus(ctx context.Context, id string, lastStatus *string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE targets SET last_status = $2, updated_at = NOW() WHERE id = $1`,
		id, lastStatus,
	)
	if reqErr := execRequireRows(result, err, notFound("target", id)); reqErr != nil {
		return fmt.Errorf("set last status: %w", reqErr)
	}
	return nil
}

// MarkStalePending moves ACTIVE targets that were enqueued before the cutoff
// and never completed to STALE.
func (r *TargetRepository) MarkStalePending(ctx context.Context, enqueuedBefore time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE targets SET status = 'STALE', updated_at = NOW()
		WHERE status = 'ACTIVE' AND last_status = $1 AND last_enqueued_at < $2`,
		domain.LastStatusPending, enqueuedBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("mark stale targets: %w", err)
	}
	return result.RowsAffected()
}

// DeleteBroken permanently removes BROKEN targets untouched since the cutoff.
func (r *TargetRepository) DeleteBroken(ctx context.Context, untouchedSince time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM targets WHERE status = 'BROKEN' AND updated_at < $1`, untouchedSince,
	)
	if err != nil {
		return 0, fmt.Errorf("delete broken targets: %w", err)
	}
	return result.RowsAffected()
}

// ListBrokenForRecheck returns BROKEN targets under an open source, least
// recently checked first.
func (r *TargetRepository) ListBrokenForRecheck(ctx context.Context, limit int) ([]domain.Target, error) {
	query := `SELECT ` + targetSelectColumns + targetFrom + `WHERE t.status = 'BROKEN' AND ` + sourceGate + `
		ORDER BY t.last_scraped_at ASC NULLS FIRST, t.updated_at ASC
		LIMIT $1`

	targets := []domain.Target{}
	if err := r.db.SelectContext(ctx, &targets, query, limit); err != nil {
		return nil, fmt.Errorf("list broken targets: %w", err)
	}
	return targets, nil
}

// ResetForRecheck reactivates BROKEN targets with half their failure count.
func (r *TargetRepository) ResetForRecheck(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE targets
		SET status = 'ACTIVE', consecutive_failures = consecutive_failures / 2,
			last_status = $2, updated_at = NOW()
		WHERE id = ANY($1) AND status = 'BROKEN'`,
		pq.Array(ids), domain.LastStatusRecheckPending,
	)
	if err != nil {
		return 0, fmt.Errorf("reset broken targets: %w", err)
	}
	return result.RowsAffected()
}

// CountByStatus counts targets in the given lifecycle state.
func (r *TargetRepository) CountByStatus(ctx context.Context, status domain.TargetStatus) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM targets WHERE status = $1`, status); err != nil {
		return 0, fmt.Errorf("count %s targets: %w", status, err)
	}
	return n, nil
}
