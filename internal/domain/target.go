// Package domain defines the harvester's persisted entities and their status values.
package domain

import "time"

// TargetStatus is the lifecycle state of a target.
type TargetStatus string

const (
	TargetStatusActive TargetStatus = "ACTIVE"
	TargetStatusStale  TargetStatus = "STALE"
	TargetStatusBroken TargetStatus = "BROKEN"
)

// Transient markers stored in Target.LastStatus.
const (
	LastStatusPending         = "PENDING"
	LastStatusManualPending   = "MANUAL_PENDING"
	LastStatusFailedToEnqueue = "FAILED_TO_ENQUEUE"
	LastStatusRecheckPending  = "RECHECK_PENDING"
)

// Target is one schedulable URL owned by a source and an adapter.
type Target struct {
	ID                  string       `db:"id"                   json:"id"`
	URL                 string       `db:"url"                  json:"url"`
	SourceID            string       `db:"source_id"            json:"source_id"`
	RetailerID          string       `db:"retailer_id"          json:"retailer_id"`
	AdapterID           string       `db:"adapter_id"           json:"adapter_id"`
	Enabled             bool         `db:"enabled"              json:"enabled"`
	Status              TargetStatus `db:"status"               json:"status"`
	Priority            int          `db:"priority"             json:"priority"`
	Schedule            *string      `db:"schedule"             json:"schedule,omitempty"`
	LastScrapedAt       *time.Time   `db:"last_scraped_at"      json:"last_scraped_at,omitempty"`
	ConsecutiveFailures int          `db:"consecutive_failures" json:"consecutive_failures"`
	LastStatus          *string      `db:"last_status"          json:"last_status,omitempty"`
	LastEnqueuedAt      *time.Time   `db:"last_enqueued_at"     json:"last_enqueued_at,omitempty"`
	RobotsPathBlocked   bool         `db:"robots_path_blocked"  json:"robots_path_blocked"`
	CreatedAt           time.Time    `db:"created_at"           json:"created_at"`
	UpdatedAt           time.Time    `db:"updated_at"           json:"updated_at"`
}

// Source groups the targets of one retailer. Both flags must be true before
// any of its targets may be scheduled.
type Source struct {
	ID              string `db:"id"               json:"id"`
	Name            string `db:"name"             json:"name"`
	RetailerID      string `db:"retailer_id"      json:"retailer_id"`
	ScrapeEnabled   bool   `db:"scrape_enabled"   json:"scrape_enabled"`
	RobotsCompliant bool   `db:"robots_compliant" json:"robots_compliant"`
}

// Schedulable reports whether the source passes the scrape gate.
func (s Source) Schedulable() bool {
	return s.ScrapeEnabled && s.RobotsCompliant
}

// Eligible reports whether t may be scheduled given its source.
func (t Target) Eligible(src Source) bool {
	return t.Enabled &&
		t.Status == TargetStatusActive &&
		!t.RobotsPathBlocked &&
		src.Schedulable()
}
