package trace

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/webitel/actorbridge/wire"
)

func newTestTracer(t *testing.T) (trace.Tracer, func()) {
	t.Helper()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	return tp.Tracer("actorbridge/trace_test"), func() { _ = tp.Shutdown(context.Background()) }
}

func TestFromSpanContextRoundTrip(t *testing.T) {
	tracer, shutdown := newTestTracer(t)
	defer shutdown()

	_, span := tracer.Start(context.Background(), "root")
	defer span.End()

	tc := FromSpanContext(span.SpanContext())
	if tc == nil {
		t.Fatal("expected a non-nil trace context for a valid span")
	}
	if tc.TraceID != span.SpanContext().TraceID().String() {
		t.Errorf("traceID = %s, want %s", tc.TraceID, span.SpanContext().TraceID())
	}
	if tc.SpanID != span.SpanContext().SpanID().String() {
		t.Errorf("spanID = %s, want %s", tc.SpanID, span.SpanContext().SpanID())
	}

	sc := ToSpanContext(tc)
	if sc.TraceID() != span.SpanContext().TraceID() {
		t.Errorf("round-tripped traceID mismatch")
	}
	if sc.SpanID() != span.SpanContext().SpanID() {
		t.Errorf("round-tripped spanID mismatch")
	}
}

func TestFromSpanContextInvalid(t *testing.T) {
	if tc := FromSpanContext(trace.SpanContext{}); tc != nil {
		t.Errorf("expected nil trace context for an invalid span, got %+v", tc)
	}
}

func TestToSpanContextNilOrMalformed(t *testing.T) {
	if sc := ToSpanContext(nil); sc.IsValid() {
		t.Error("nil TraceContext must yield an invalid SpanContext")
	}
	if sc := ToSpanContext(&wire.TraceContext{TraceID: "not-hex", SpanID: "also-not-hex"}); sc.IsValid() {
		t.Error("malformed hex must yield an invalid SpanContext")
	}
}

// A child call's envelope must carry a trace context whose trace ID equals
// the parent's and whose parent span ID equals the parent's span ID.
func TestChildTraceContextCarriesParentLineage(t *testing.T) {
	tracer, shutdown := newTestTracer(t)
	defer shutdown()

	parentCtx, parentSpan := tracer.Start(context.Background(), "parent-invocation")
	defer parentSpan.End()

	childCtx, childSpan := tracer.Start(parentCtx, "child-invocation")
	defer childSpan.End()

	tc := ChildTraceContext(parentCtx, childSpan)
	if tc.TraceID != parentSpan.SpanContext().TraceID().String() {
		t.Errorf("child traceID = %s, want parent's %s", tc.TraceID, parentSpan.SpanContext().TraceID())
	}
	if tc.ParentSpanID != parentSpan.SpanContext().SpanID().String() {
		t.Errorf("child parentSpanID = %s, want parent's spanID %s", tc.ParentSpanID, parentSpan.SpanContext().SpanID())
	}
	if tc.SpanID != childSpan.SpanContext().SpanID().String() {
		t.Errorf("child spanID = %s, want the child span's own id %s", tc.SpanID, childSpan.SpanContext().SpanID())
	}
	_ = childCtx
}

func TestContextFromEnvelopeInstallsRemoteParent(t *testing.T) {
	tracer, shutdown := newTestTracer(t)
	defer shutdown()

	_, rootSpan := tracer.Start(context.Background(), "caller-side")
	defer rootSpan.End()

	tc := FromSpanContext(rootSpan.SpanContext())
	ctx := ContextFromEnvelope(context.Background(), tc)

	_, childSpan := tracer.Start(ctx, "callee-side")
	defer childSpan.End()

	if childSpan.SpanContext().TraceID() != rootSpan.SpanContext().TraceID() {
		t.Error("span started from the reconstructed context should share the caller's trace ID")
	}
}
