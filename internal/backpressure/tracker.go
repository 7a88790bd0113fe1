// Package backpressure tracks queue rejections and computes exponential
// backoff windows per adapter and for the scheduler as a whole.
//
// A Tracker is owned by the scheduler goroutine and is not safe for concurrent
// use. State lives in memory only and resets when the process restarts.
package backpressure

import (
	"cmp"
	"slices"
	"time"
)

const (
	// MaxAdapterBackoff caps a single adapter's backoff window.
	MaxAdapterBackoff = 5 * time.Minute
	// maxAdapterExponent caps the doubling at 2^4 before the cap applies.
	maxAdapterExponent = 4

	// GlobalBackoffBase is the first global pause after a net-negative tick.
	GlobalBackoffBase = 60 * time.Second
	// MaxGlobalBackoff caps the global pause.
	MaxGlobalBackoff = time.Hour
	// PersistentCapacityThreshold marks a global pause worth paging an operator.
	PersistentCapacityThreshold = 30 * time.Minute
)

type adapterState struct {
	backoffUntil          time.Time
	consecutiveRejections int
}

// Tracker holds per-adapter and global backoff state.
type Tracker struct {
	now      func() time.Time
	adapters map[string]*adapterState

	pauseUntil        time.Time
	globalConsecutive int
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		now:      time.Now,
		adapters: make(map[string]*adapterState),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// IsInBackoff reports whether the adapter's window is still open.
// Expired entries are removed.
func (t *Tracker) IsInBackoff(adapterID string) bool {
	st, ok := t.adapters[adapterID]
	if !ok {
		return false
	}
	if t.now().Before(st.backoffUntil) {
		return true
	}
	delete(t.adapters, adapterID)
	return false
}

// RecordBackoff registers a rejection and returns the new window, which is
// baseRetryAfter doubled per consecutive rejection, up to MaxAdapterBackoff.
func (t *Tracker) RecordBackoff(adapterID string, baseRetryAfter time.Duration) time.Duration {
	st, ok := t.adapters[adapterID]
	if !ok {
		st = &adapterState{}
		t.adapters[adapterID] = st
	}
	st.consecutiveRejections++

	window := AdapterWindow(baseRetryAfter, st.consecutiveRejections)
	st.backoffUntil = t.now().Add(window)
	return window
}

// ClearBackoff resets the adapter after an accepted enqueue.
func (t *Tracker) ClearBackoff(adapterID string) {
	delete(t.adapters, adapterID)
}

// AdapterWindow computes min(base * 2^min(n-1, 4), MaxAdapterBackoff).
func AdapterWindow(base time.Duration, consecutive int) time.Duration {
	if consecutive < 1 {
		consecutive = 1
	}
	exp := min(consecutive-1, maxAdapterExponent)
	return min(base*time.Duration(1<<exp), MaxAdapterBackoff)
}

// GlobalPause describes a pause set by RecordGlobalRejection.
type GlobalPause struct {
	Duration              time.Duration
	Until                 time.Time
	ConsecutiveRejections int
	// Persistent is set once the pause exceeds PersistentCapacityThreshold.
	Persistent bool
}

// RecordGlobalRejection registers a tick whose rejections outnumbered
// acceptances and pauses the scheduler.
func (t *Tracker) RecordGlobalRejection() GlobalPause {
	t.globalConsecutive++

	d := GlobalWindow(t.globalConsecutive)
	t.pauseUntil = t.now().Add(d)

	return GlobalPause{
		Duration:              d,
		Until:                 t.pauseUntil,
		ConsecutiveRejections: t.globalConsecutive,
		Persistent:            d > PersistentCapacityThreshold,
	}
}

// GlobalWindow computes min(60s * 2^(n-1), MaxGlobalBackoff).
func GlobalWindow(consecutive int) time.Duration {
	if consecutive < 1 {
		consecutive = 1
	}
	// 2^6 minutes already exceeds the cap.
	if consecutive > 7 {
		return MaxGlobalBackoff
	}
	return min(GlobalBackoffBase*time.Duration(1<<(consecutive-1)), MaxGlobalBackoff)
}

// IsGloballyPaused reports whether a global pause is in effect.
func (t *Tracker) IsGloballyPaused() bool {
	return !t.pauseUntil.IsZero() && t.now().Before(t.pauseUntil)
}

// ClearGlobal resets the global counter after a healthy tick.
func (t *Tracker) ClearGlobal() {
	t.globalConsecutive = 0
	t.pauseUntil = time.Time{}
}

// AdapterSnapshot is a copy of one adapter's backoff state.
type AdapterSnapshot struct {
	AdapterID             string    `json:"adapter_id"`
	BackoffUntil          time.Time `json:"backoff_until"`
	ConsecutiveRejections int       `json:"consecutive_rejections"`
}

// Snapshot is a point-in-time copy of the tracker.
type Snapshot struct {
	Adapters                    []AdapterSnapshot `json:"adapters"`
	GlobalPauseUntil            *time.Time        `json:"global_pause_until,omitempty"`
	GlobalConsecutiveRejections int               `json:"global_consecutive_rejections"`
}

// Snapshot copies the current state for reporting.
func (t *Tracker) Snapshot() Snapshot {
	snap := Snapshot{
		Adapters:                    make([]AdapterSnapshot, 0, len(t.adapters)),
		GlobalConsecutiveRejections: t.globalConsecutive,
	}
	for id, st := range t.adapters {
		snap.Adapters = append(snap.Adapters, AdapterSnapshot{
			AdapterID:             id,
			BackoffUntil:          st.backoffUntil,
			ConsecutiveRejections: st.consecutiveRejections,
		})
	}
	slices.SortFunc(snap.Adapters, func(a, b AdapterSnapshot) int {
		return cmp.Compare(a.AdapterID, b.AdapterID)
	})
	if !t.pauseUntil.IsZero() {
		until := t.pauseUntil
		snap.GlobalPauseUntil = &until
	}
	return snap
}
