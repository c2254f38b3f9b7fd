package observability

import (
	"context"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	flux "github.com/nodelift/flux"
)

// Tracer is the distributed tracing service computations read from the
// environment. Trace/span id propagation rides along on context.Context,
// per [trace.Tracer].
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Span is a single traced operation, ended exactly once.
type Span interface {
	End(err error)
}

// TracerTag is the service tag [Instrument] and user code look up.
var TracerTag = flux.NewTag[Tracer]("observability.Tracer")

// OTelTracer implements [Tracer] on top of a trace.Tracer.
type OTelTracer struct {
	tracer trace.Tracer
}

// NewOTelTracer wraps tracer.
func NewOTelTracer(tracer trace.Tracer) *OTelTracer {
	return &OTelTracer{tracer: tracer}
}

type otelSpan struct {
	span trace.Span
}

// End records err (if any) on the span and closes it. A nil err marks
// the span OK.
func (s otelSpan) End(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}

// StartSpan starts a new span named name as a child of any span already
// active in ctx, returning the span-carrying context and the span.
func (t *OTelTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	spanCtx, span := t.tracer.Start(ctx, name)
	return spanCtx, otelSpan{span: span}
}

// TracerLayer registers an OTelTracer built from tracer under
// [TracerTag].
func TracerLayer(tracer trace.Tracer) flux.Layer[flux.Never] {
	return flux.LayerFromComputation(flux.Sync[any, flux.Never, *flux.Context](func() *flux.Context {
		return flux.ContextAdd(flux.NewContext(), TracerTag, Tracer(NewOTelTracer(tracer)))
	}))
}
