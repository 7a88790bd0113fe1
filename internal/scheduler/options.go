package scheduler

import (
	"time"

	"github.com/ironscout/harvester/internal/observability"
)

// Option is a functional option for configuring the Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithMetrics records tick outcomes, durations and capacity in metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithTracer replaces the default tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(s *Scheduler) {
		s.tracer = t
	}
}

// FinalizerOption is a functional option for configuring the Finalizer.
type FinalizerOption func(*Finalizer)

// WithFinalizerClock overrides the finalizer's time source.
func WithFinalizerClock(now func() time.Time) FinalizerOption {
	return func(f *Finalizer) {
		f.now = now
	}
}

// WithStaleRunAfter sets the age after which an idle run is closed even while
// its cycle is still running.
// Default: 30 minutes
func WithStaleRunAfter(d time.Duration) FinalizerOption {
	return func(f *Finalizer) {
		if d > 0 {
			f.staleAfter = d
		}
	}
}
