package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironscout/harvester/internal/domain"
	"github.com/ironscout/harvester/internal/queue"
)

func runningRun(id, sourceID string, started time.Time, cycleID *string, m domain.RunMetrics) domain.ScrapeRun {
	return domain.ScrapeRun{
		ID: id, SourceID: sourceID, AdapterID: "acme", CycleID: cycleID,
		Trigger: domain.TriggerScheduled, Status: domain.RunStatusRunning,
		StartedAt: started, RunMetrics: m,
	}
}

func healthyMetrics() domain.RunMetrics {
	return domain.RunMetrics{URLsAttempted: 40, URLsSucceeded: 38, URLsFailed: 2, OffersExtracted: 38, OffersValid: 36}
}

func failingMetrics() domain.RunMetrics {
	return domain.RunMetrics{URLsAttempted: 40, URLsSucceeded: 10, URLsFailed: 30, OffersValid: 10}
}

func runStatus(t *testing.T, h *harness, id string) domain.RunStatus {
	t.Helper()
	for _, r := range h.mem.Runs() {
		if r.ID == id {
			return r.Status
		}
	}
	t.Fatalf("run %s not found", id)
	return ""
}

func TestFinalizeStaleRuns_Eligibility(t *testing.T) {
	h := newHarness(t)
	h.adapter("acme")
	open, done := "cycle-open", "cycle-done"
	h.mem.PutCycle(domain.ScrapeCycle{ID: open, AdapterID: "acme", Status: domain.CycleStatusRunning, StartedAt: epoch})
	h.mem.PutCycle(domain.ScrapeCycle{ID: done, AdapterID: "acme", Status: domain.CycleStatusCompleted, StartedAt: epoch})

	h.mem.PutRun(runningRun("old-idle", "s1", epoch.Add(-time.Hour), nil, healthyMetrics()))
	h.mem.PutRun(runningRun("old-busy", "s2", epoch.Add(-time.Hour), nil, healthyMetrics()))
	h.mem.PutRun(runningRun("young-open-cycle", "s3", epoch.Add(-time.Minute), &open, healthyMetrics()))
	h.mem.PutRun(runningRun("young-done-cycle", "s4", epoch.Add(-time.Minute), &done, healthyMetrics()))
	h.mem.PutRun(runningRun("young-no-cycle", "s5", epoch.Add(-time.Minute), nil, healthyMetrics()))
	h.mq.Put(queue.Job{TargetID: "t-busy", AdapterID: "acme", RunID: "old-busy", EnqueuedAt: epoch})

	n, err := h.finalizer.FinalizeStaleRuns(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, domain.RunStatusSuccess, runStatus(t, h, "old-idle"))
	assert.Equal(t, domain.RunStatusSuccess, runStatus(t, h, "young-done-cycle"))
	assert.Equal(t, domain.RunStatusRunning, runStatus(t, h, "old-busy"))
	assert.Equal(t, domain.RunStatusRunning, runStatus(t, h, "young-open-cycle"))
	assert.Equal(t, domain.RunStatusRunning, runStatus(t, h, "young-no-cycle"))

	require.Len(t, h.sink.Completed, 2)
	assert.Equal(t, time.Hour, h.sink.Completed[0].Duration)
}

func TestFinalizeRun_StatusAndRates(t *testing.T) {
	tests := []struct {
		name    string
		metrics domain.RunMetrics
		want    domain.RunStatus
	}{
		{name: "nothing attempted", metrics: domain.RunMetrics{}, want: domain.RunStatusFailed},
		{name: "mostly failed", metrics: failingMetrics(), want: domain.RunStatusFailed},
		{name: "quarantined", metrics: domain.RunMetrics{URLsAttempted: 10, OffersValid: 1, OffersQuarantined: 4}, want: domain.RunStatusQuarantined},
		{name: "healthy", metrics: healthyMetrics(), want: domain.RunStatusSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.adapter("acme")
			r := runningRun("run-1", "s1", epoch.Add(-time.Hour), nil, tt.metrics)
			h.mem.PutRun(r)

			require.NoError(t, h.finalizer.FinalizeRun(context.Background(), &r))
			assert.Equal(t, tt.want, r.Status)
			assert.Equal(t, tt.want, runStatus(t, h, "run-1"))
			require.NotNil(t, r.DurationMs)
			assert.Equal(t, time.Hour.Milliseconds(), *r.DurationMs)
		})
	}
}

func TestFinalizeRun_DriftDisablesAdapterAndCancelsCycle(t *testing.T) {
	h := newHarness(t)
	cycleID := "cycle-live"
	h.mem.PutCycle(domain.ScrapeCycle{ID: cycleID, AdapterID: "acme", Status: domain.CycleStatusRunning, StartedAt: epoch})
	h.adapter("acme", func(a *domain.AdapterStatus) { a.CurrentCycleID = &cycleID })
	ctx := context.Background()

	for i, id := range []string{"r-1", "r-2", "r-3"} {
		r := runningRun(id, "s1", epoch.Add(-time.Hour), nil, failingMetrics())
		h.mem.PutRun(r)
		require.NoError(t, h.finalizer.FinalizeRun(ctx, &r))

		a, _ := h.mem.Adapter("acme")
		assert.Equal(t, i+1, a.ConsecutiveFailedBatches)
		if i < 2 {
			assert.True(t, a.Enabled, "disabled after %d failing runs", i+1)
		}
	}

	a, _ := h.mem.Adapter("acme")
	assert.False(t, a.Enabled)
	require.NotNil(t, a.DisabledReason)
	assert.Equal(t, domain.DisableReasonDrift, *a.DisabledReason)
	assert.Nil(t, a.CurrentCycleID)

	c, _ := h.mem.Cycle(cycleID)
	assert.Equal(t, domain.CycleStatusCancelled, c.Status)

	require.Len(t, h.sink.Disabled, 1)
	assert.Equal(t, "acme", h.sink.Disabled[0].AdapterID)
	assert.Equal(t, 3, h.sink.Disabled[0].ConsecutiveFailedBatches)
}

func TestFinalizeRun_HealthyRunResetsCounter(t *testing.T) {
	h := newHarness(t)
	h.adapter("acme", func(a *domain.AdapterStatus) { a.ConsecutiveFailedBatches = 2 })

	r := runningRun("r-1", "s1", epoch.Add(-time.Hour), nil, healthyMetrics())
	h.mem.PutRun(r)
	require.NoError(t, h.finalizer.FinalizeRun(context.Background(), &r))

	a, _ := h.mem.Adapter("acme")
	assert.Zero(t, a.ConsecutiveFailedBatches)
	assert.True(t, a.Enabled)
}

func TestFinalizeRun_ZeroPriceTwoStrikes(t *testing.T) {
	h := newHarness(t)
	h.adapter("acme")
	ctx := context.Background()
	zeroPrice := domain.RunMetrics{URLsAttempted: 25, URLsSucceeded: 25, OffersExtracted: 25, OffersDropped: 25}

	first := runningRun("r-1", "s1", epoch.Add(-time.Hour), nil, zeroPrice)
	h.mem.PutRun(first)
	require.NoError(t, h.finalizer.FinalizeRun(ctx, &first))

	a, _ := h.mem.Adapter("acme")
	assert.True(t, a.LastRunHadZeroPrice)
	assert.True(t, a.Enabled)

	second := runningRun("r-2", "s1", epoch.Add(-time.Hour), nil, zeroPrice)
	h.mem.PutRun(second)
	require.NoError(t, h.finalizer.FinalizeRun(ctx, &second))

	a, _ = h.mem.Adapter("acme")
	assert.False(t, a.Enabled)
	assert.Equal(t, domain.DisableReasonZeroPrice, *a.DisabledReason)
	require.Len(t, h.sink.Disabled, 1)
	assert.Equal(t, domain.DisableReasonZeroPrice, h.sink.Disabled[0].Reason)
}

func TestFinalizeRun_RefreshesBaselineAfterSuccess(t *testing.T) {
	h := newHarness(t)
	h.adapter("acme")

	r := runningRun("r-1", "s1", epoch.Add(-time.Hour), nil, healthyMetrics())
	h.mem.PutRun(r)
	require.NoError(t, h.finalizer.FinalizeRun(context.Background(), &r))

	a, _ := h.mem.Adapter("acme")
	assert.Equal(t, 1, a.SampleSize)
	assert.InDelta(t, 0.05, a.Baseline.FailureRate, 1e-9)
	assert.InDelta(t, 0.9, a.Baseline.YieldRate, 1e-9)
	require.NotNil(t, a.Baseline.UpdatedAt)
	assert.Equal(t, epoch, *a.Baseline.UpdatedAt)
}

func TestFinalizeRun_AlreadyFinalizedIsNoop(t *testing.T) {
	h := newHarness(t)
	h.adapter("acme")
	r := runningRun("r-1", "s1", epoch.Add(-time.Hour), nil, healthyMetrics())
	r.Status = domain.RunStatusSuccess
	h.mem.PutRun(r)

	require.NoError(t, h.finalizer.FinalizeRun(context.Background(), &r))
	assert.Empty(t, h.sink.Completed)
}
