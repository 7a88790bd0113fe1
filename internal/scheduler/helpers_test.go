package scheduler_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ironscout/harvester/infrastructure/logger"
	"github.com/ironscout/harvester/internal/backpressure"
	"github.com/ironscout/harvester/internal/config"
	"github.com/ironscout/harvester/internal/cycle"
	"github.com/ironscout/harvester/internal/dispatch"
	"github.com/ironscout/harvester/internal/domain"
	"github.com/ironscout/harvester/internal/maintenance"
	"github.com/ironscout/harvester/internal/observability"
	"github.com/ironscout/harvester/internal/queue"
	"github.com/ironscout/harvester/internal/registry"
	"github.com/ironscout/harvester/internal/scheduler"
	"github.com/ironscout/harvester/testutils"
)

var epoch = time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type harness struct {
	clock     *clock
	mem       *testutils.MemStore
	queue     queue.Queue
	mq        *testutils.MemQueue
	tracker   *backpressure.Tracker
	sink      *testutils.RecordingSink
	metrics   *observability.Metrics
	finalizer *scheduler.Finalizer
	sched     *scheduler.Scheduler
}

type harnessOption func(*config.SchedulerConfig, *harnessQueue)

type harnessQueue struct {
	capacity int
	wrap     func(*testutils.MemQueue) queue.Queue
}

func withMode(mode string) harnessOption {
	return func(c *config.SchedulerConfig, _ *harnessQueue) { c.Mode = mode }
}

func withCapacity(n int) harnessOption {
	return func(_ *config.SchedulerConfig, q *harnessQueue) { q.capacity = n }
}

func withQueueWrapper(wrap func(*testutils.MemQueue) queue.Queue) harnessOption {
	return func(_ *config.SchedulerConfig, q *harnessQueue) { q.wrap = wrap }
}

func schedulerConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		Enabled:               true,
		Mode:                  config.ModeAdapter,
		TickInterval:          time.Minute,
		MaxTargetsPerTick:     100,
		ManualTriggersPerTick: 20,
		StaleRunAfter:         30 * time.Minute,
		MaintenanceInterval:   time.Hour,
		MaxConsecutiveDefers:  30,
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	cfg := schedulerConfig()
	hq := &harnessQueue{capacity: 10000}
	for _, opt := range opts {
		opt(&cfg, hq)
	}

	h := &harness{clock: &clock{now: epoch}}
	now := h.clock.Now
	log := logger.NewNop()

	h.mem = testutils.NewMemStore(now)
	h.mq = testutils.NewMemQueue(hq.capacity, 5000, 5*time.Second)
	h.queue = h.mq
	if hq.wrap != nil {
		h.queue = hq.wrap(h.mq)
	}
	h.tracker = backpressure.NewTracker(backpressure.WithClock(now))
	h.sink = &testutils.RecordingSink{}
	h.metrics = observability.NewMetrics(prometheus.NewRegistry())

	reg := registry.New([]config.AdapterConfig{{ID: "acme", Version: "1.2.0"}, {ID: "zeta", Version: "0.1.0"}})
	store := h.mem.Store()

	runSeq, cycleSeq := 0, 0
	d := dispatch.New(store.Runs, h.queue, h.tracker, reg, h.sink, log,
		dispatch.WithClock(now),
		dispatch.WithIDGenerator(func() string { runSeq++; return fmt.Sprintf("run-%03d", runSeq) }),
		dispatch.WithMetrics(h.metrics),
	)
	mgr := cycle.NewManager(store, d, h.tracker, reg, h.sink, log,
		cycle.WithClock(now),
		cycle.WithIDGenerator(func() string { cycleSeq++; return fmt.Sprintf("cycle-%03d", cycleSeq) }),
		cycle.WithMetrics(h.metrics),
		cycle.WithMaxConsecutiveDefers(cfg.MaxConsecutiveDefers),
	)
	h.finalizer = scheduler.NewFinalizer(store, h.queue, h.sink, log,
		scheduler.WithFinalizerClock(now),
		scheduler.WithStaleRunAfter(cfg.StaleRunAfter),
	)
	maint := maintenance.NewRunner(store.Targets, h.queue, config.MaintenanceConfig{
		StaleTargetAfter:     24 * time.Hour,
		BrokenRetention:      90 * 24 * time.Hour,
		RecheckInterval:      7 * 24 * time.Hour,
		RecheckBatchSize:     50,
		StaleQueueEntryAge:   24 * time.Hour,
		StaleTargetAlertSize: 100,
	}, h.sink, log, maintenance.WithClock(now))

	h.sched = scheduler.New(cfg, scheduler.Deps{
		Store:       store,
		Queue:       h.queue,
		Cycles:      mgr,
		Dispatcher:  d,
		Backoff:     h.tracker,
		Registry:    reg,
		Finalizer:   h.finalizer,
		Maintenance: maint,
		Sink:        h.sink,
		Logger:      log,
	}, scheduler.WithClock(now), scheduler.WithMetrics(h.metrics))
	return h
}

func (h *harness) adapter(id string, mutate ...func(*domain.AdapterStatus)) {
	a := domain.AdapterStatus{AdapterID: id, Enabled: true, CycleTimeoutMinutes: 120}
	for _, m := range mutate {
		m(&a)
	}
	h.mem.PutAdapter(a)
}

func (h *harness) source(id string) {
	h.mem.AddSource(domain.Source{ID: id, RetailerID: "ret-" + id, ScrapeEnabled: true, RobotsCompliant: true})
}

func (h *harness) target(id, sourceID, adapterID string, priority int, mutate ...func(*domain.Target)) {
	t := domain.Target{
		ID: id, URL: "https://shop.example/p/" + id, SourceID: sourceID, AdapterID: adapterID,
		Enabled: true, Status: domain.TargetStatusActive, Priority: priority,
	}
	for _, m := range mutate {
		m(&t)
	}
	h.mem.AddTarget(t)
}

func (h *harness) fill(n int) {
	for i := range n {
		h.mq.Put(queue.Job{TargetID: fmt.Sprintf("filler-%d", i), AdapterID: "filler", RunID: "run-filler", EnqueuedAt: epoch})
	}
}

// notDue keeps an adapter's cron from firing for the rest of the day.
func notDue(a *domain.AdapterStatus) {
	daily := "0 0 * * *"
	started := epoch.Add(-time.Minute)
	a.Schedule = &daily
	a.LastCycleStartedAt = &started
}

func ptr[T any](v T) *T { return &v }

// blockingQueue parks Stats until released, holding a tick open.
type blockingQueue struct {
	*testutils.MemQueue
	entered chan struct{}
	release chan struct{}
}

func (q *blockingQueue) Stats(ctx context.Context) (queue.Stats, error) {
	close(q.entered)
	<-q.release
	return q.MemQueue.Stats(ctx)
}
