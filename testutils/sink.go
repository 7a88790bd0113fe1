package testutils

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/ironscout/harvester/internal/observability"
)

// RecordingSink keeps every event it receives.
type RecordingSink struct {
	mu             sync.Mutex
	Disabled       []observability.AdapterDisabledEvent
	Rejected       []observability.QueueRejectedEvent
	Completed      []observability.RunCompletedEvent
	Stale          []observability.StaleTargetsEvent
	CapacityAlerts []observability.CapacityAlertEvent
	Deferred       []observability.CycleDeferredEvent
}

var _ observability.Sink = (*RecordingSink)(nil)

func (s *RecordingSink) AdapterDisabled(_ context.Context, e observability.AdapterDisabledEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Disabled = append(s.Disabled, e)
}

func (s *RecordingSink) QueueRejected(_ context.Context, e observability.QueueRejectedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Rejected = append(s.Rejected, e)
}

func (s *RecordingSink) RunCompleted(_ context.Context, e observability.RunCompletedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Completed = append(s.Completed, e)
}

func (s *RecordingSink) StaleTargets(_ context.Context, e observability.StaleTargetsEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Stale = append(s.Stale, e)
}

func (s *RecordingSink) CapacityAlert(_ context.Context, e observability.CapacityAlertEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CapacityAlerts = append(s.CapacityAlerts, e)
}

func (s *RecordingSink) CycleDeferred(_ context.Context, e observability.CycleDeferredEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Deferred = append(s.Deferred, e)
}

// MockSink is a testify mock of observability.Sink.
type MockSink struct {
	mock.Mock
}

var _ observability.Sink = (*MockSink)(nil)

func (m *MockSink) AdapterDisabled(ctx context.Context, e observability.AdapterDisabledEvent) {
	m.Called(ctx, e)
}

func (m *MockSink) QueueRejected(ctx context.Context, e observability.QueueRejectedEvent) {
	m.Called(ctx, e)
}

func (m *MockSink) RunCompleted(ctx context.Context, e observability.RunCompletedEvent) {
	m.Called(ctx, e)
}

func (m *MockSink) StaleTargets(ctx context.Context, e observability.StaleTargetsEvent) {
	m.Called(ctx, e)
}

func (m *MockSink) CapacityAlert(ctx context.Context, e observability.CapacityAlertEvent) {
	m.Called(ctx, e)
}

func (m *MockSink) CycleDeferred(ctx context.Context, e observability.CycleDeferredEvent) {
	m.Called(ctx, e)
}
