package domain

import "time"

// CycleStatus is the state of a scrape cycle.
type CycleStatus string

const (
	CycleStatusRunning   CycleStatus = "RUNNING"
	CycleStatusCompleted CycleStatus = "COMPLETED"
	CycleStatusFailed    CycleStatus = "FAILED"
	CycleStatusCancelled CycleStatus = "CANCELLED"
)

// IsTerminal reports whether no further work will happen in the cycle.
func (s CycleStatus) IsTerminal() bool {
	return s != CycleStatusRunning
}

// Trigger identifies what started a cycle or run.
type Trigger string

const (
	TriggerScheduled Trigger = "SCHEDULED"
	TriggerManual    Trigger = "MANUAL"
)

// ScrapeCycle is one pass of an adapter over its eligible targets.
type ScrapeCycle struct {
	ID                    string      `db:"id"                        json:"id"`
	AdapterID             string      `db:"adapter_id"                json:"adapter_id"`
	Status                CycleStatus `db:"status"                    json:"status"`
	Trigger               Trigger     `db:"trigger"                   json:"trigger"`
	StartedAt             time.Time   `db:"started_at"                json:"started_at"`
	CompletedAt           *time.Time  `db:"completed_at"              json:"completed_at,omitempty"`
	DurationMs            *int64      `db:"duration_ms"               json:"duration_ms,omitempty"`
	TotalTargets          int         `db:"total_targets"             json:"total_targets"`
	TargetsCompleted      int         `db:"targets_completed"         json:"targets_completed"`
	TargetsFailed         int         `db:"targets_failed"            json:"targets_failed"`
	TargetsSkipped        int         `db:"targets_skipped"           json:"targets_skipped"`
	LastProcessedTargetID *string     `db:"last_processed_target_id"  json:"last_processed_target_id,omitempty"`
	LastProcessedPriority *int        `db:"last_processed_priority"   json:"last_processed_priority,omitempty"`
	DeferCount            int         `db:"defer_count"               json:"defer_count"`
	OffersFound           int         `db:"offers_found"              json:"offers_found"`
	OffersValid           int         `db:"offers_valid"              json:"offers_valid"`
}

// CycleProgress is the delta applied to a cycle after a batch.
type CycleProgress struct {
	Completed    int
	Failed       int
	Skipped      int
	LastTargetID *string
	LastPriority *int
	DeferCount   int
}
