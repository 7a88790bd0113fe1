package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ironscout/harvester/internal/domain"
	"github.com/ironscout/harvester/internal/drift"
)

const runColumns = `id, source_id, retailer_id, adapter_id, adapter_version, cycle_id, trigger, status,
	started_at, completed_at, duration_ms, urls_attempted, urls_succeeded, urls_failed,
	offers_extracted, offers_valid, offers_dropped, offers_quarantined, oos_no_price_count,
	zero_price_count, failure_rate, yield_rate, drop_rate`

// RunRepository handles database operations for scrape runs.
type RunRepository struct {
	db *sqlx.DB
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *sqlx.DB) *RunRepository {
	return &RunRepository{db: db}
}

var _ RunStore = (*RunRepository)(nil)

// Create inserts a RUNNING run.
func (r *RunRepository) Create(ctx context.Context, run *domain.ScrapeRun) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO scrape_runs (id, source_id, retailer_id, adapter_id, adapter_version, cycle_id, trigger, status, started_at)
		VALUES (:id, :source_id, :retailer_id, :adapter_id, :adapter_version, :cycle_id, :trigger, :status, :started_at)`,
		run,
	)
	if err != nil {
		return fmt.Errorf("create run for source %s: %w", run.SourceID, err)
	}
	return nil
}

// FindRunningBySource returns the source's RUNNING run or ErrNotFound.
func (r *RunRepository) FindRunningBySource(ctx context.Context, sourceID string) (*domain.ScrapeRun, error) {
	var run domain.ScrapeRun
	err := r.db.GetContext(ctx, &run, `
		SELECT `+runColumns+` FROM scrape_runs
		WHERE source_id = $1 AND status = 'RUNNING'
		ORDER BY started_at DESC
		LIMIT 1`,
		sourceID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("running run for source", sourceID)
	}
	if err != nil {
		return nil, fmt.Errorf("find running run for source %s: %w", sourceID, err)
	}
	return &run, nil
}

// ListRunning returns every RUNNING run, oldest first.
func (r *RunRepository) ListRunning(ctx context.Context) ([]domain.ScrapeRun, error) {
	runs := []domain.ScrapeRun{}
	query := `SELECT ` + runColumns + ` FROM scrape_runs WHERE status = 'RUNNING' ORDER BY started_at ASC`
	if err := r.db.SelectContext(ctx, &runs, query); err != nil {
		return nil, fmt.Errorf("list running runs: %w", err)
	}
	return runs, nil
}

// Finalize stores the final status, rates and completion time of a RUNNING run.
func (r *RunRepository) Finalize(ctx context.Context, run *domain.ScrapeRun) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE scrape_runs SET
			status = $2, failure_rate = $3, yield_rate = $4, drop_rate = $5,
			completed_at = $6, duration_ms = $7
		WHERE id = $1 AND status = 'RUNNING'`,
		run.ID, run.Status, run.FailureRate, run.YieldRate, run.DropRate, run.CompletedAt, run.DurationMs,
	)
	if reqErr := execRequireRows(result, err, notFound("running run", run.ID)); reqErr != nil {
		return fmt.Errorf("finalize run: %w", reqErr)
	}
	return nil
}

// ListBaselineSamples returns the adapter's successful runs completed since
// the cutoff, newest first.
func (r *RunRepository) ListBaselineSamples(
	ctx context.Context, adapterID string, since time.Time, limit int,
) ([]drift.Sample, error) {
	rows := []struct {
		URLsAttempted int       `db:"urls_attempted"`
		FailureRate   float64   `db:"failure_rate"`
		YieldRate     float64   `db:"yield_rate"`
		CompletedAt   time.Time `db:"completed_at"`
	}{}

	err := r.db.SelectContext(ctx, &rows, `
		SELECT urls_attempted, failure_rate, yield_rate, completed_at
		FROM scrape_runs
		WHERE adapter_id = $1 AND status = 'SUCCESS' AND completed_at >= $2 AND urls_attempted >= $3
		ORDER BY completed_at DESC
		LIMIT $4`,
		adapterID, since, drift.BaselineMinURLs, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list baseline samples for %s: %w", adapterID, err)
	}

	samples := make([]drift.Sample, len(rows))
	for i, row := range rows {
		samples[i] = drift.Sample{
			URLsAttempted: row.URLsAttempted,
			FailureRate:   row.FailureRate,
			YieldRate:     row.YieldRate,
			CompletedAt:   row.CompletedAt,
		}
	}
	return samples, nil
}
