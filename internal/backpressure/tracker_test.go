package backpressure_test

import (
	"testing"
	"time"

	"github.com/ironscout/harvester/internal/backpressure"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTracker() (*backpressure.Tracker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return backpressure.NewTracker(backpressure.WithClock(clock.Now)), clock
}

func TestRecordBackoff_GrowthAndCap(t *testing.T) {
	t.Parallel()

	tracker, _ := newTracker()
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		16 * time.Second,
	}

	for i, w := range want {
		if got := tracker.RecordBackoff("acme", time.Second); got != w {
			t.Errorf("call %d: window = %v, want %v", i+1, got, w)
		}
	}
}

func TestRecordBackoff_CapsAtFiveMinutes(t *testing.T) {
	t.Parallel()

	tracker, _ := newTracker()
	var got time.Duration
	for range 8 {
		got = tracker.RecordBackoff("acme", time.Minute)
	}
	if got != backpressure.MaxAdapterBackoff {
		t.Errorf("window = %v, want %v", got, backpressure.MaxAdapterBackoff)
	}
}

func TestIsInBackoff_ExpiresAndClears(t *testing.T) {
	t.Parallel()

	tracker, clock := newTracker()
	tracker.RecordBackoff("acme", 10*time.Second)

	if !tracker.IsInBackoff("acme") {
		t.Fatal("expected adapter in backoff")
	}
	if tracker.IsInBackoff("other") {
		t.Error("unrelated adapter should not be in backoff")
	}

	clock.Advance(10 * time.Second)
	if tracker.IsInBackoff("acme") {
		t.Error("expected backoff to expire")
	}
	// Expiry deletes the entry, so the next rejection starts from the base again.
	if got := tracker.RecordBackoff("acme", 10*time.Second); got != 10*time.Second {
		t.Errorf("window after expiry = %v, want 10s", got)
	}
}

func TestClearBackoff_ResetsCounter(t *testing.T) {
	t.Parallel()

	tracker, _ := newTracker()
	tracker.RecordBackoff("acme", time.Second)
	tracker.RecordBackoff("acme", time.Second)
	tracker.ClearBackoff("acme")

	if tracker.IsInBackoff("acme") {
		t.Error("expected cleared adapter to be out of backoff")
	}
	if got := tracker.RecordBackoff("acme", time.Second); got != time.Second {
		t.Errorf("window after clear = %v, want 1s", got)
	}
}

func TestRecordGlobalRejection_Growth(t *testing.T) {
	t.Parallel()

	tracker, clock := newTracker()
	want := []struct {
		d          time.Duration
		persistent bool
	}{
		{time.Minute, false},
		{2 * time.Minute, false},
		{4 * time.Minute, false},
		{8 * time.Minute, false},
		{16 * time.Minute, false},
		{32 * time.Minute, true},
		{time.Hour, true},
		{time.Hour, true},
	}

	for i, w := range want {
		p := tracker.RecordGlobalRejection()
		if p.Duration != w.d || p.Persistent != w.persistent {
			t.Errorf("call %d: got (%v, %v), want (%v, %v)", i+1, p.Duration, p.Persistent, w.d, w.persistent)
		}
		if !p.Until.Equal(clock.Now().Add(w.d)) {
			t.Errorf("call %d: until = %v", i+1, p.Until)
		}
	}
}

func TestGlobalPause_ClearAndExpire(t *testing.T) {
	t.Parallel()

	tracker, clock := newTracker()
	if tracker.IsGloballyPaused() {
		t.Fatal("new tracker should not be paused")
	}

	tracker.RecordGlobalRejection()
	if !tracker.IsGloballyPaused() {
		t.Fatal("expected global pause")
	}

	clock.Advance(time.Minute)
	if tracker.IsGloballyPaused() {
		t.Error("expected pause to lapse")
	}

	tracker.RecordGlobalRejection()
	tracker.ClearGlobal()
	if tracker.IsGloballyPaused() {
		t.Error("expected clear to lift the pause")
	}
	if p := tracker.RecordGlobalRejection(); p.Duration != time.Minute {
		t.Errorf("pause after clear = %v, want 1m", p.Duration)
	}
}

func TestSnapshot(t *testing.T) {
	t.Parallel()

	tracker, _ := newTracker()
	tracker.RecordBackoff("acme", time.Second)
	tracker.RecordGlobalRejection()

	snap := tracker.Snapshot()
	if len(snap.Adapters) != 1 || snap.Adapters[0].AdapterID != "acme" {
		t.Errorf("adapters = %+v", snap.Adapters)
	}
	if snap.GlobalPauseUntil == nil || snap.GlobalConsecutiveRejections != 1 {
		t.Errorf("global = %v / %d", snap.GlobalPauseUntil, snap.GlobalConsecutiveRejections)
	}
}
