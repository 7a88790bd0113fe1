package domain

import "time"

// Reasons recorded when an adapter is disabled automatically.
const (
	DisableReasonDrift     = "DRIFT_DETECTED"
	DisableReasonZeroPrice = "ZERO_PRICE_EXTRACTION"
)

// DefaultCycleTimeoutMinutes applies when an adapter row leaves the timeout unset.
const DefaultCycleTimeoutMinutes = 120

// Baseline is the rolling median health of an adapter.
type Baseline struct {
	FailureRate float64    `db:"baseline_failure_rate" json:"failure_rate"`
	YieldRate   float64    `db:"baseline_yield_rate"   json:"yield_rate"`
	SampleSize  int        `db:"baseline_sample_size"  json:"sample_size"`
	UpdatedAt   *time.Time `db:"baseline_updated_at"   json:"updated_at,omitempty"`
}

// AdapterStatus is the scheduling state of one adapter.
type AdapterStatus struct {
	AdapterID                string     `db:"adapter_id"                 json:"adapter_id"`
	Enabled                  bool       `db:"enabled"                    json:"enabled"`
	IngestionPaused          bool       `db:"ingestion_paused"           json:"ingestion_paused"`
	Schedule                 *string    `db:"schedule"                   json:"schedule,omitempty"`
	CurrentCycleID           *string    `db:"current_cycle_id"           json:"current_cycle_id,omitempty"`
	LastCycleStartedAt       *time.Time `db:"last_cycle_started_at"      json:"last_cycle_started_at,omitempty"`
	CycleTimeoutMinutes      int        `db:"cycle_timeout_minutes"      json:"cycle_timeout_minutes"`
	ConsecutiveFailedBatches int        `db:"consecutive_failed_batches" json:"consecutive_failed_batches"`
	LastRunHadZeroPrice      bool       `db:"last_run_had_zero_price"    json:"last_run_had_zero_price"`
	DisabledAt               *time.Time `db:"disabled_at"                json:"disabled_at,omitempty"`
	DisabledReason           *string    `db:"disabled_reason"            json:"disabled_reason,omitempty"`
	Baseline
}

// CycleTimeout returns the configured timeout, falling back to the default.
func (a AdapterStatus) CycleTimeout() time.Duration {
	minutes := a.CycleTimeoutMinutes
	if minutes <= 0 {
		minutes = DefaultCycleTimeoutMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// Schedulable reports whether the adapter accepts new work.
func (a AdapterStatus) Schedulable() bool {
	return a.Enabled && !a.IngestionPaused
}
