package domain

import "time"

// RunStatus is the state of a scrape run.
type RunStatus string

const (
	RunStatusRunning     RunStatus = "RUNNING"
	RunStatusSuccess     RunStatus = "SUCCESS"
	RunStatusFailed      RunStatus = "FAILED"
	RunStatusQuarantined RunStatus = "QUARANTINED"
)

// RunMetrics are the raw counters accumulated by workers while a run is open.
type RunMetrics struct {
	URLsAttempted     int `db:"urls_attempted"     json:"urls_attempted"`
	URLsSucceeded     int `db:"urls_succeeded"     json:"urls_succeeded"`
	URLsFailed        int `db:"urls_failed"        json:"urls_failed"`
	OffersExtracted   int `db:"offers_extracted"   json:"offers_extracted"`
	OffersValid       int `db:"offers_valid"       json:"offers_valid"`
	OffersDropped     int `db:"offers_dropped"     json:"offers_dropped"`
	OffersQuarantined int `db:"offers_quarantined" json:"offers_quarantined"`
	OOSNoPriceCount   int `db:"oos_no_price_count" json:"oos_no_price_count"`
	ZeroPriceCount    int `db:"zero_price_count"   json:"zero_price_count"`
}

// RunRates are the rates derived from RunMetrics when a run is finalized.
type RunRates struct {
	FailureRate float64 `db:"failure_rate" json:"failure_rate"`
	YieldRate   float64 `db:"yield_rate"   json:"yield_rate"`
	DropRate    float64 `db:"drop_rate"    json:"drop_rate"`
}

// ScrapeRun is the work issued for one source, optionally within a cycle.
type ScrapeRun struct {
	ID             string     `db:"id"              json:"id"`
	SourceID       string     `db:"source_id"       json:"source_id"`
	RetailerID     string     `db:"retailer_id"     json:"retailer_id"`
	AdapterID      string     `db:"adapter_id"      json:"adapter_id"`
	AdapterVersion string     `db:"adapter_version" json:"adapter_version"`
	CycleID        *string    `db:"cycle_id"        json:"cycle_id,omitempty"`
	Trigger        Trigger    `db:"trigger"         json:"trigger"`
	Status         RunStatus  `db:"status"          json:"status"`
	StartedAt      time.Time  `db:"started_at"      json:"started_at"`
	CompletedAt    *time.Time `db:"completed_at"    json:"completed_at,omitempty"`
	DurationMs     *int64     `db:"duration_ms"     json:"duration_ms,omitempty"`
	RunMetrics
	RunRates
}

// BelongsTo reports whether the run was opened by the given cycle and trigger.
// Runs outside a cycle match on trigger alone.
func (r ScrapeRun) BelongsTo(cycleID *string, trigger Trigger) bool {
	if r.Trigger != trigger {
		return false
	}
	if cycleID == nil || r.CycleID == nil {
		return cycleID == nil && r.CycleID == nil
	}
	return *cycleID == *r.CycleID
}
