package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name for scheduler spans.
const TracerName = "github.com/ironscout/harvester/scheduler"

// Tracer starts scheduler spans on the global tracer provider.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new tracer.
func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(TracerName)}
}

// TickSpan starts a span covering one scheduler tick.
// Caller is responsible for calling span.End().
//
//nolint:spancheck // span is returned to caller who manages its lifecycle
func (t *Tracer) TickSpan(ctx context.Context, mode string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "scheduler.tick",
		trace.WithAttributes(attribute.String("scheduler.mode", mode)),
	)
}

// AdapterSpan starts a span for advancing one adapter's cycle.
// Caller is responsible for calling span.End().
//
//nolint:spancheck // span is returned to caller who manages its lifecycle
func (t *Tracer) AdapterSpan(ctx context.Context, adapterID, reason string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "scheduler.advance_adapter",
		trace.WithAttributes(
			attribute.String("adapter.id", adapterID),
			attribute.String("adapter.due_reason", reason),
		),
	)
}

// AddTickAttributes records a tick's tallies on its span.
func AddTickAttributes(span trace.Span, enqueued, rejected int, skipped bool) {
	span.SetAttributes(
		attribute.Int("tick.enqueued", enqueued),
		attribute.Int("tick.rejected", rejected),
		attribute.Bool("tick.skipped", skipped),
	)
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
