// Package trace implements the runtime's observability hooks: per-event callbacks
// invoked synchronously around invocations and stream lifecycle events, and
// trace-context propagation backed by real go.opentelemetry.io/otel/trace
// values rather than a hand-rolled (traceID, spanID) pair, so the dispatch
// path is traced the same way the grpc transport edge is.
package trace

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"github.com/webitel/actorbridge/wire"
)

// FromSpanContext renders an otel SpanContext into the wire's opaque
// TraceContext tuple. Returns nil if sc is invalid (no trace is
// in progress).
func FromSpanContext(sc trace.SpanContext) *wire.TraceContext {
	if !sc.IsValid() {
		return nil
	}
	tc := &wire.TraceContext{
		TraceID: sc.TraceID().String(),
		SpanID:  sc.SpanID().String(),
	}
	return tc
}

// ToSpanContext parses a wire TraceContext back into an otel remote
// SpanContext, usable as the parent of a newly started span. Returns an
// invalid (zero) SpanContext if tc is nil or malformed: an absent trace
// context means none.
func ToSpanContext(tc *wire.TraceContext) trace.SpanContext {
	if tc == nil {
		return trace.SpanContext{}
	}
	traceID, err := trace.TraceIDFromHex(tc.TraceID)
	if err != nil {
		return trace.SpanContext{}
	}
	spanID, err := trace.SpanIDFromHex(tc.SpanID)
	if err != nil {
		return trace.SpanContext{}
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
}

// ContextFromEnvelope returns ctx with the incoming invocation's trace
// context installed as the remote parent span, so a span started from this
// ctx is a child of the caller's span.
func ContextFromEnvelope(ctx context.Context, tc *wire.TraceContext) context.Context {
	sc := ToSpanContext(tc)
	if !sc.IsValid() {
		return ctx
	}
	return trace.ContextWithRemoteSpanContext(ctx, sc)
}

// ChildTraceContext builds the TraceContext a handler must attach to a
// nested outbound invocation: the child's trace ID equals the parent's and
// its parent span ID equals the parent's span ID. childSpan is the span already
// started for the outbound call (e.g. via a Tracer.Start call keyed to the
// target method); its own SpanID becomes the envelope's SpanID.
func ChildTraceContext(ctx context.Context, childSpan trace.Span) *wire.TraceContext {
	parent := trace.SpanContextFromContext(ctx)
	child := childSpan.SpanContext()
	if !child.IsValid() {
		return FromSpanContext(parent)
	}
	tc := &wire.TraceContext{
		TraceID: child.TraceID().String(),
		SpanID:  child.SpanID().String(),
	}
	if parent.IsValid() {
		tc.ParentSpanID = parent.SpanID().String()
	}
	return tc
}
