package maintenance_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironscout/harvester/infrastructure/logger"
	"github.com/ironscout/harvester/internal/config"
	"github.com/ironscout/harvester/internal/domain"
	"github.com/ironscout/harvester/internal/maintenance"
	"github.com/ironscout/harvester/internal/observability"
	"github.com/ironscout/harvester/internal/queue"
	"github.com/ironscout/harvester/testutils"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func cfg() config.MaintenanceConfig {
	return config.MaintenanceConfig{
		StaleTargetAfter:     24 * time.Hour,
		BrokenRetention:      90 * 24 * time.Hour,
		RecheckInterval:      7 * 24 * time.Hour,
		RecheckBatchSize:     2,
		StaleQueueEntryAge:   24 * time.Hour,
		StaleTargetAlertSize: 2,
	}
}

type fixture struct {
	clock   time.Time
	mem     *testutils.MemStore
	queue   *testutils.MemQueue
	sink    *testutils.RecordingSink
	metrics *observability.Metrics
	runner  *maintenance.Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{clock: now}
	nowFn := func() time.Time { return f.clock }
	f.mem = testutils.NewMemStore(nowFn)
	f.queue = testutils.NewMemQueue(100, 100, time.Second)
	f.sink = &testutils.RecordingSink{}
	f.metrics = observability.NewMetrics(prometheus.NewRegistry())
	f.runner = maintenance.NewRunner(f.mem.Store().Targets, f.queue, cfg(), f.sink, logger.NewNop(),
		maintenance.WithClock(nowFn),
		maintenance.WithMetrics(f.metrics),
	)
	f.mem.AddSource(domain.Source{ID: "open", ScrapeEnabled: true, RobotsCompliant: true})
	f.mem.AddSource(domain.Source{ID: "closed", ScrapeEnabled: false, RobotsCompliant: true})
	return f
}

func ptr[T any](v T) *T { return &v }

func TestMarkStaleTargets(t *testing.T) {
	f := newFixture(t)
	f.mem.AddTarget(domain.Target{ID: "old", SourceID: "open", Status: domain.TargetStatusActive,
		LastStatus: ptr(domain.LastStatusPending), LastEnqueuedAt: ptr(now.Add(-25 * time.Hour))})
	f.mem.AddTarget(domain.Target{ID: "fresh", SourceID: "open", Status: domain.TargetStatusActive,
		LastStatus: ptr(domain.LastStatusPending), LastEnqueuedAt: ptr(now.Add(-time.Hour))})
	f.mem.AddTarget(domain.Target{ID: "manual", SourceID: "open", Status: domain.TargetStatusActive,
		LastStatus: ptr(domain.LastStatusManualPending), LastEnqueuedAt: ptr(now.Add(-48 * time.Hour))})

	n, err := f.runner.MarkStaleTargets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	old, _ := f.mem.Target("old")
	assert.Equal(t, domain.TargetStatusStale, old.Status)
	fresh, _ := f.mem.Target("fresh")
	assert.Equal(t, domain.TargetStatusActive, fresh.Status)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.MaintenanceRows.WithLabelValues(maintenance.JobStaleMarking)), 0)
}

func TestDeleteBrokenTargets(t *testing.T) {
	f := newFixture(t)
	f.mem.AddTarget(domain.Target{ID: "ancient", SourceID: "open", Status: domain.TargetStatusBroken, UpdatedAt: now.Add(-91 * 24 * time.Hour)})
	f.mem.AddTarget(domain.Target{ID: "recent", SourceID: "open", Status: domain.TargetStatusBroken, UpdatedAt: now.Add(-10 * 24 * time.Hour)})
	f.mem.AddTarget(domain.Target{ID: "active", SourceID: "open", Status: domain.TargetStatusActive, UpdatedAt: now.Add(-200 * 24 * time.Hour)})

	n, err := f.runner.DeleteBrokenTargets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, ok := f.mem.Target("ancient")
	assert.False(t, ok)
	_, ok = f.mem.Target("recent")
	assert.True(t, ok)
	_, ok = f.mem.Target("active")
	assert.True(t, ok)
}

func TestRecheckBrokenTargets(t *testing.T) {
	f := newFixture(t)
	for i := range 3 {
		f.mem.AddTarget(domain.Target{
			ID: fmt.Sprintf("b-%d", i), SourceID: "open", Status: domain.TargetStatusBroken,
			ConsecutiveFailures: 7, UpdatedAt: now.Add(-time.Duration(10-i) * time.Hour),
		})
	}
	f.mem.AddTarget(domain.Target{ID: "gated", SourceID: "closed", Status: domain.TargetStatusBroken, UpdatedAt: now.Add(-100 * time.Hour)})

	n, err := f.runner.RecheckBrokenTargets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, id := range []string{"b-0", "b-1"} {
		tg, _ := f.mem.Target(id)
		assert.Equal(t, domain.TargetStatusActive, tg.Status, id)
		assert.Equal(t, 3, tg.ConsecutiveFailures, id)
		require.NotNil(t, tg.LastStatus)
		assert.Equal(t, domain.LastStatusRecheckPending, *tg.LastStatus)
	}
	untouched, _ := f.mem.Target("b-2")
	assert.Equal(t, domain.TargetStatusBroken, untouched.Status)
	gated, _ := f.mem.Target("gated")
	assert.Equal(t, domain.TargetStatusBroken, gated.Status)
}

func TestRun_RecheckAtMostWeekly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.True(t, f.runner.Run(ctx).RecheckRan)

	f.clock = f.clock.Add(time.Hour)
	assert.False(t, f.runner.Run(ctx).RecheckRan)

	f.clock = f.clock.Add(7 * 24 * time.Hour)
	assert.True(t, f.runner.Run(ctx).RecheckRan)
}

func TestEvictStaleQueueEntries(t *testing.T) {
	f := newFixture(t)
	f.queue.Put(queue.Job{TargetID: "old", AdapterID: "acme", EnqueuedAt: now.Add(-30 * time.Hour)})
	f.queue.Put(queue.Job{TargetID: "stuck", AdapterID: "acme", EnqueuedAt: now.Add(-26 * time.Hour), State: queue.JobStateActive})
	f.queue.Put(queue.Job{TargetID: "new", AdapterID: "acme", EnqueuedAt: now.Add(-time.Hour)})
	require.Equal(t, 3, f.queue.Pending("acme"))

	n, err := f.runner.EvictStaleQueueEntries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, f.queue.Len())
	assert.Equal(t, 1, f.queue.Pending("acme"))
}

func TestCheckStaleBacklog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mem.AddTarget(domain.Target{ID: "s-1", SourceID: "open", Status: domain.TargetStatusStale})

	n, err := f.runner.CheckStaleBacklog(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, f.sink.Stale)

	f.mem.AddTarget(domain.Target{ID: "s-2", SourceID: "open", Status: domain.TargetStatusStale})
	_, err = f.runner.CheckStaleBacklog(ctx)
	require.NoError(t, err)
	require.Len(t, f.sink.Stale, 1)
	assert.Equal(t, observability.StaleTargetsEvent{Count: 2, Threshold: 2}, f.sink.Stale[0])
	assert.InDelta(t, 2, testutil.ToFloat64(f.metrics.StaleTargets), 0)
}

func TestRun_JobFailuresAreIsolated(t *testing.T) {
	f := newFixture(t)
	f.mem.FailOn("Targets.MarkStalePending", errors.New("db down"))
	f.mem.AddTarget(domain.Target{ID: "ancient", SourceID: "open", Status: domain.TargetStatusBroken, UpdatedAt: now.Add(-100 * 24 * time.Hour)})

	report := f.runner.Run(context.Background())
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, int64(1), report.BrokenDeleted)
	assert.True(t, report.RecheckRan)
}
