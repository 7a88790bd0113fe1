package testutils

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ironscout/harvester/internal/database"
	"github.com/ironscout/harvester/internal/domain"
	"github.com/ironscout/harvester/internal/drift"
	"github.com/ironscout/harvester/internal/keyset"
)

// MemStore is an in-memory implementation of every store interface. Its
// queries mirror the SQL in internal/database, including the eligibility gate.
type MemStore struct {
	mu       sync.Mutex
	now      func() time.Time
	sources  map[string]domain.Source
	targets  map[string]*domain.Target
	adapters map[string]*domain.AdapterStatus
	cycles   map[string]*domain.ScrapeCycle
	runs     map[string]*domain.ScrapeRun
	settings map[string]bool
	failures map[string]error
}

// NewMemStore creates an empty store whose timestamps come from now.
func NewMemStore(now func() time.Time) *MemStore {
	if now == nil {
		now = time.Now
	}
	return &MemStore{
		now:      now,
		sources:  map[string]domain.Source{},
		targets:  map[string]*domain.Target{},
		adapters: map[string]*domain.AdapterStatus{},
		cycles:   map[string]*domain.ScrapeCycle{},
		runs:     map[string]*domain.ScrapeRun{},
		settings: map[string]bool{},
		failures: map[string]error{},
	}
}

// Store exposes the fake through the repository bundle.
func (m *MemStore) Store() *database.Store {
	return &database.Store{
		Targets:  &memTargets{m},
		Adapters: &memAdapters{m},
		Cycles:   &memCycles{m},
		Runs:     &memRuns{m},
		Settings: &memSettings{m},
	}
}

// FailOn makes the named operation (e.g. "Targets.ListEligibleByAdapter")
// return err until cleared with a nil err.
func (m *MemStore) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

func (m *MemStore) fail(op string) error {
	return m.failures[op]
}

// AddSource stores src.
func (m *MemStore) AddSource(src domain.Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[src.ID] = src
}

// AddTarget stores a copy of t. RetailerID is filled from the source.
func (m *MemStore) AddTarget(t domain.Target) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if src, ok := m.sources[t.SourceID]; ok && t.RetailerID == "" {
		t.RetailerID = src.RetailerID
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = m.now()
	}
	m.targets[t.ID] = &t
}

// PutAdapter stores a copy of a.
func (m *MemStore) PutAdapter(a domain.AdapterStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adapters[a.AdapterID] = &a
}

// PutCycle stores a copy of c.
func (m *MemStore) PutCycle(c domain.ScrapeCycle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles[c.ID] = &c
}

// PutRun stores a copy of r.
func (m *MemStore) PutRun(r domain.ScrapeRun) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[r.ID] = &r
}

// UpdateTarget applies fn to the stored target.
func (m *MemStore) UpdateTarget(id string, fn func(*domain.Target)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.targets[id]; ok {
		fn(t)
	}
}

// UpdateRun applies fn to the stored run, e.g. to simulate worker counters.
func (m *MemStore) UpdateRun(id string, fn func(*domain.ScrapeRun)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.runs[id]; ok {
		fn(r)
	}
}

// Target returns a copy of the stored target.
func (m *MemStore) Target(id string) (domain.Target, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.targets[id]
	if !ok {
		return domain.Target{}, false
	}
	return *t, true
}

// Adapter returns a copy of the stored adapter row.
func (m *MemStore) Adapter(id string) (domain.AdapterStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.adapters[id]
	if !ok {
		return domain.AdapterStatus{}, false
	}
	return *a, true
}

// Cycle returns a copy of the stored cycle.
func (m *MemStore) Cycle(id string) (domain.ScrapeCycle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cycles[id]
	if !ok {
		return domain.ScrapeCycle{}, false
	}
	return *c, true
}

// Cycles returns copies of every cycle of the adapter, oldest first.
func (m *MemStore) Cycles(adapterID string) []domain.ScrapeCycle {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ScrapeCycle
	for _, c := range m.cycles {
		if c.AdapterID == adapterID {
			out = append(out, *c)
		}
	}
	slices.SortFunc(out, func(a, b domain.ScrapeCycle) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}

// Runs returns copies of every run, oldest first.
func (m *MemStore) Runs() []domain.ScrapeRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ScrapeRun, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, *r)
	}
	slices.SortFunc(out, func(a, b domain.ScrapeRun) int {
		return cmp.Or(a.StartedAt.Compare(b.StartedAt), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// TargetsWithLastStatus counts targets carrying the marker.
func (m *MemStore) TargetsWithLastStatus(status string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.targets {
		if t.LastStatus != nil && *t.LastStatus == status {
			n++
		}
	}
	return n
}

func (m *MemStore) eligible(t *domain.Target) bool {
	return t.Eligible(m.sources[t.SourceID])
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, database.ErrNotFound)
}

func copyTargets(in []*domain.Target) []domain.Target {
	out := make([]domain.Target, len(in))
	for i, t := range in {
		out[i] = *t
	}
	return out
}

func strPtr(s string) *string { return &s }

// byLeastRecentlyScraped orders nil timestamps first.
func byLeastRecentlyScraped(a, b *domain.Target) int {
	switch {
	case a.LastScrapedAt == nil && b.LastScrapedAt == nil:
		return 0
	case a.LastScrapedAt == nil:
		return -1
	case b.LastScrapedAt == nil:
		return 1
	default:
		return a.LastScrapedAt.Compare(*b.LastScrapedAt)
	}
}

type memTargets struct{ m *MemStore }

var _ database.TargetStore = (*memTargets)(nil)

func (s *memTargets) GetByID(_ context.Context, id string) (*domain.Target, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.fail("Targets.GetByID"); err != nil {
		return nil, err
	}
	t, ok := s.m.targets[id]
	if !ok {
		return nil, notFound("target", id)
	}
	cp := *t
	return &cp, nil
}

func (s *memTargets) CountEligibleByAdapter(_ context.Context, adapterID string) (int, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.fail("Targets.CountEligibleByAdapter"); err != nil {
		return 0, err
	}
	n := 0
	for _, t := range s.m.targets {
		if t.AdapterID == adapterID && s.m.eligible(t) {
			n++
		}
	}
	return n, nil
}

func (s *memTargets) ListEligibleByAdapter(
	_ context.Context, adapterID string, after keyset.Cursor, limit int,
) ([]domain.Target, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.fail("Targets.ListEligibleByAdapter"); err != nil {
		return nil, err
	}
	var candidates []domain.Target
	for _, t := range s.m.targets {
		if t.AdapterID == adapterID && s.m.eligible(t) {
			candidates = append(candidates, *t)
		}
	}
	page, _ := keyset.Page(candidates, after, limit, func(t domain.Target) keyset.Key {
		return keyset.Key{Priority: t.Priority, ID: t.ID}
	})
	return page, nil
}

func (s *memTargets) ListSchedulable(_ context.Context, limit int) ([]domain.Target, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.fail("Targets.ListSchedulable"); err != nil {
		return nil, err
	}
	var out []*domain.Target
	for _, t := range s.m.targets {
		if !s.m.eligible(t) {
			continue
		}
		if t.LastStatus != nil &&
			(*t.LastStatus == domain.LastStatusPending || *t.LastStatus == domain.LastStatusManualPending) {
			continue
		}
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b *domain.Target) int {
		return cmp.Or(cmp.Compare(b.Priority, a.Priority), byLeastRecentlyScraped(a, b), cmp.Compare(a.ID, b.ID))
	})
	const windowFactor = 5
	if len(out) > limit*windowFactor {
		out = out[:limit*windowFactor]
	}
	return copyTargets(out), nil
}

func (s *memTargets) RequestManual(_ context.Context, id string) error {
	return s.setLastStatus("Targets.RequestManual", id, strPtr(domain.LastStatusManualPending))
}

func (s *memTargets) ListManualPending(_ context.Context, limit int) ([]domain.Target, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.fail("Targets.ListManualPending"); err != nil {
		return nil, err
	}
	var out []*domain.Target
	for _, t := range s.m.targets {
		a, ok := s.m.adapters[t.AdapterID]
		if !ok || !a.Schedulable() {
			continue
		}
		if t.LastStatus != nil && *t.LastStatus == domain.LastStatusManualPending && s.m.eligible(t) {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b *domain.Target) int {
		return cmp.Or(a.UpdatedAt.Compare(b.UpdatedAt), cmp.Compare(a.ID, b.ID))
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return copyTargets(out), nil
}

func (s *memTargets) MarkEnqueued(_ context.Context, ids []string, at time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.fail("Targets.MarkEnqueued"); err != nil {
		return err
	}
	for _, id := range ids {
		if t, ok := s.m.targets[id]; ok {
			t.LastStatus = strPtr(domain.LastStatusPending)
			enqueued := at
			t.LastEnqueuedAt = &enqueued
			t.UpdatedAt = s.m.now()
		}
	}
	return nil
}

func (s *memTargets) SetLastStatus(_ context.Context, id string, lastStatus *string) error {
	return s.setLastStatus("Targets.SetLastStatus", id, lastStatus)
}

func (s *memTargets) setLastStatus(op, id string, lastStatus *string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.fail(op); err != nil {
		return err
	}
	t, ok := s.m.targets[id]
	if !ok {
		return notFound("target", id)
	}
	t.LastStatus = lastStatus
	t.UpdatedAt = s.m.now()
	return nil
}

func (s *memTargets) MarkStalePending(_ context.Context, enqueuedBefore time.Time) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.fail("Targets.MarkStalePending"); err != nil {
		return 0, err
	}
	var n int64
	for _, t := range s.m.targets {
		if t.Status == domain.TargetStatusActive &&
			t.LastStatus != nil && *t.LastStatus == domain.LastStatusPending &&
			t.LastEnqueuedAt != nil && t.LastEnqueuedAt.Before(enqueuedBefore) {
			t.Status = domain.TargetStatusStale
			t.UpdatedAt = s.m.now()
			n++
		}
	}
	return n, nil
}

func (s *memTargets) DeleteBroken(_ context.Context, untouchedSince time.Time) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.fail("Targets.DeleteBroken"); err != nil {
		return 0, err
	}
	var n int64
	for id, t := range s.m.targets {
		if t.Status == domain.TargetStatusBroken && t.UpdatedAt.Before(untouchedSince) {
			delete(s.m.targets, id)
			n++
		}
	}
	return n, nil
}

func (s *memTargets) ListBrokenForRecheck(_ context.Context, limit int) ([]domain.Target, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.fail("Targets.ListBrokenForRecheck"); err != nil {
		return nil, err
	}
	var out []*domain.Target
	for _, t := range s.m.targets {
		if t.Status == domain.TargetStatusBroken && s.m.sources[t.SourceID].Schedulable() {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b *domain.Target) int {
		return cmp.Or(byLeastRecentlyScraped(a, b), a.UpdatedAt.Compare(b.UpdatedAt), cmp.Compare(a.ID, b.ID))
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return copyTargets(out), nil
}

func (s *memTargets) ResetForRecheck(_ context.Context, ids []string) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.fail("Targets.ResetForRecheck"); err != nil {
		return 0, err
	}
	var n int64
	for _, id := range ids {
		t, ok := s.m.targets[id]
		if !ok || t.Status != domain.TargetStatusBroken {
			continue
		}
		t.Status = domain.TargetStatusActive
		t.ConsecutiveFailures /= 2
		t.LastStatus = strPtr(domain.LastStatusRecheckPending)
		t.UpdatedAt = s.m.now()
		n++
	}
	return n, nil
}

func (s *memTargets) CountByStatus(_ context.Context, status domain.TargetStatus) (int, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.fail("Targets.CountByStatus"); err != nil {
		return 0, err
	}
	n := 0
	for _, t := range s.m.targets {
		if t.Status == status {
			n++
		}
	}
	return n, nil
}

type memAdapters struct{ m *MemStore }

var _ database.AdapterStatusStore = (*memAdapters)(nil)

func (s *memAdapters) List(context.Context) ([]domain.AdapterStatus, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.fail("Adapters.List"); err != nil {
		return nil, err
	}
	out := make([]domain.AdapterStatus, 0, len(s.m.adapters))
	for _, a := range s.m.adapters {
		out = append(out, *a)
	}
	slices.SortFunc(out, func(a, b domain.AdapterStatus) int { return cmp.Compare(a.AdapterID, b.AdapterID) })
	return out, nil
}

func (s *memAdapters) Get(_ context.Context, adapterID string) (*domain.AdapterStatus, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.fail("Adapters.Get"); err != nil {
		return nil, err
	}
	a, ok := s.m.adapters[adapterID]
	if !ok {
		return nil, notFound("adapter", adapterID)
	}
	cp := *a
	return &cp, nil
}

func (s *memAdapters) Ensure(ctx context.Context, adapterID string) (*domain.AdapterStatus, error) {
	s.m.mu.Lock()
	if _, ok := s.m.adapters[adapterID]; !ok {
		s.m.adapters[adapterID] = &domain.AdapterStatus{
			AdapterID:           adapterID,
			Enabled:             true,
			CycleTimeoutMinutes: domain.DefaultCycleTimeoutMinutes,
		}
	}
	s.m.mu.Unlock()
	return s.Get(ctx, adapterID)
}

func (s *memAdapters) update(op, adapterID string, fn func(*domain.AdapterStatus)) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.fail(op); err != nil {
		return err
	}
	a, ok := s.m.adapters[adapterID]
	if !ok {
		return notFound("adapter", adapterID)
	}
	fn(a)
	return nil
}

func (s *memAdapters) SetCurrentCycle(_ context.Context, adapterID, cycleID string, startedAt time.Time) error {
	return s.update("Adapters.SetCurrentCycle", adapterID, func(a *domain.AdapterStatus) {
		a.CurrentCycleID = strPtr(cycleID)
		started := startedAt
		a.LastCycleStartedAt = &started
	})
}

func (s *memAdapters) ClearCurrentCycle(_ context.Context, adapterID, cycleID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.fail("Adapters.ClearCurrentCycle"); err != nil {
		return err
	}
	if a, ok := s.m.adapters[adapterID]; ok && a.CurrentCycleID != nil && *a.CurrentCycleID == cycleID {
		a.CurrentCycleID = nil
	}
	return nil
}

func (s *memAdapters) UpdateDriftState(
	_ context.Context, adapterID string, consecutiveFailedBatches int, lastRunHadZeroPrice bool,
) error {
	return s.update("Adapters.UpdateDriftState", adapterID, func(a *domain.AdapterStatus) {
		a.ConsecutiveFailedBatches = consecutiveFailedBatches
		a.LastRunHadZeroPrice = lastRunHadZeroPrice
	})
}

func (s *memAdapters) Disable(_ context.Context, adapterID, reason string, at time.Time) error {
	return s.update("Adapters.Disable", adapterID, func(a *domain.AdapterStatus) {
		a.Enabled = false
		disabledAt := at
		a.DisabledAt = &disabledAt
		a.DisabledReason = strPtr(reason)
	})
}

func (s *memAdapters) UpdateBaseline(_ context.Context, adapterID string, b domain.Baseline) error {
	return s.update("Adapters.UpdateBaseline", adapterID, func(a *domain.AdapterStatus) {
		a.Baseline = b
	})
}

type memCycles struct{ m *MemStore }

var _ database.CycleStore = (*memCycles)(nil)

func (s *memCycles) Create(_ context.Context, c *domain.ScrapeCycle) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.fail("Cycles.Create"); err != nil {
		return err
	}
	cp := *c
	s.m.cycles[c.ID] = &cp
	return nil
}

func (s *memCycles) Get(_ context.Context, id string) (*domain.ScrapeCycle, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.fail("Cycles.Get"); err != nil {
		return nil, err
	}
	c, ok := s.m.cycles[id]
	if !ok {
		return nil, notFound("cycle", id)
	}
	cp := *c
	return &cp, nil
}

func (s *memCycles) UpdateProgress(_ context.Context, id string, p domain.CycleProgress) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.fail("Cycles.UpdateProgress"); err != nil {
		return err
	}
	c, ok := s.m.cycles[id]
	if !ok || c.Status != domain.CycleStatusRunning {
		return notFound("running cycle", id)
	}
	c.TargetsCompleted += p.Completed
	c.TargetsFailed += p.Failed
	c.TargetsSkipped += p.Skipped
	if p.LastTargetID != nil {
		c.LastProcessedTargetID = strPtr(*p.LastTargetID)
	}
	if p.LastPriority != nil {
		prio := *p.LastPriority
		c.LastProcessedPriority = &prio
	}
	c.DeferCount = p.DeferCount
	return nil
}

func (s *memCycles) Finalize(_ context.Context, id string, status domain.CycleStatus, completedAt time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.fail("Cycles.Finalize"); err != nil {
		return err
	}
	c, ok := s.m.cycles[id]
	if !ok || c.Status != domain.CycleStatusRunning {
		return notFound("running cycle", id)
	}
	c.Status = status
	done := completedAt
	c.CompletedAt = &done
	ms := completedAt.Sub(c.StartedAt).Milliseconds()
	c.DurationMs = &ms
	return nil
}

type memRuns struct{ m *MemStore }

var _ database.RunStore = (*memRuns)(nil)

func (s *memRuns) Create(_ context.Context, r *domain.ScrapeRun) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.fail("Runs.Create"); err != nil {
		return err
	}
	cp := *r
	s.m.runs[r.ID] = &cp
	return nil
}

func (s *memRuns) FindRunningBySource(_ context.Context, sourceID string) (*domain.ScrapeRun, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.fail("Runs.FindRunningBySource"); err != nil {
		return nil, err
	}
	var latest *domain.ScrapeRun
	for _, r := range s.m.runs {
		if r.SourceID != sourceID || r.Status != domain.RunStatusRunning {
			continue
		}
		if latest == nil || r.StartedAt.After(latest.StartedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, notFound("running run for source", sourceID)
	}
	cp := *latest
	return &cp, nil
}

func (s *memRuns) ListRunning(context.Context) ([]domain.ScrapeRun, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.fail("Runs.ListRunning"); err != nil {
		return nil, err
	}
	var out []domain.ScrapeRun
	for _, r := range s.m.runs {
		if r.Status == domain.RunStatusRunning {
			out = append(out, *r)
		}
	}
	slices.SortFunc(out, func(a, b domain.ScrapeRun) int {
		return cmp.Or(a.StartedAt.Compare(b.StartedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (s *memRuns) Finalize(_ context.Context, r *domain.ScrapeRun) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.fail("Runs.Finalize"); err != nil {
		return err
	}
	stored, ok := s.m.runs[r.ID]
	if !ok || stored.Status != domain.RunStatusRunning {
		return notFound("running run", r.ID)
	}
	stored.Status = r.Status
	stored.RunRates = r.RunRates
	stored.CompletedAt = r.CompletedAt
	stored.DurationMs = r.DurationMs
	return nil
}

func (s *memRuns) ListBaselineSamples(
	_ context.Context, adapterID string, since time.Time, limit int,
) ([]drift.Sample, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.fail("Runs.ListBaselineSamples"); err != nil {
		return nil, err
	}
	var out []drift.Sample
	for _, r := range s.m.runs {
		if r.AdapterID != adapterID || r.Status != domain.RunStatusSuccess || r.CompletedAt == nil {
			continue
		}
		if r.CompletedAt.Before(since) || r.URLsAttempted < drift.BaselineMinURLs {
			continue
		}
		out = append(out, drift.Sample{
			URLsAttempted: r.URLsAttempted,
			FailureRate:   r.FailureRate,
			YieldRate:     r.YieldRate,
			CompletedAt:   *r.CompletedAt,
		})
	}
	slices.SortFunc(out, func(a, b drift.Sample) int { return b.CompletedAt.Compare(a.CompletedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memSettings struct{ m *MemStore }

var _ database.SettingsStore = (*memSettings)(nil)

func (s *memSettings) GetBool(_ context.Context, key string) (value, found bool, err error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if failErr := s.m.fail("Settings.GetBool"); failErr != nil {
		return false, false, failErr
	}
	value, found = s.m.settings[key]
	return value, found, nil
}

func (s *memSettings) SetBool(_ context.Context, key string, value bool) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.fail("Settings.SetBool"); err != nil {
		return err
	}
	s.m.settings[key] = value
	return nil
}
