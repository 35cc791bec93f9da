package trace

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"github.com/webitel/actorbridge/dispatch"
	"github.com/webitel/actorbridge/wire"
)

func TestMiddlewareStartsSpanAndPropagatesTraceID(t *testing.T) {
	tracer, shutdown := newTestTracer(t)
	defer shutdown()

	_, callerSpan := tracer.Start(context.Background(), "caller")
	defer callerSpan.End()
	callerTC := FromSpanContext(callerSpan.SpanContext())

	var observedSpanCtx = trace.SpanContextFromContext
	_ = observedSpanCtx

	var sawTraceID string
	handler := Middleware(tracer)(func(ctx context.Context, inv *wire.Invocation) (*wire.Response, error) {
		sawTraceID = trace.SpanContextFromContext(ctx).TraceID().String()
		return &wire.Response{CallID: inv.CallID}, nil
	})

	inv := &wire.Invocation{
		CallID:       wire.NewCallID(),
		ActorID:      wire.Local("counter-1"),
		Method:       "increment",
		TraceContext: callerTC,
	}

	_, err := handler(context.Background(), inv)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if sawTraceID != callerTC.TraceID {
		t.Errorf("handler observed traceID %s, want %s", sawTraceID, callerTC.TraceID)
	}
}

func TestMiddlewareRecordsHandlerError(t *testing.T) {
	tracer, shutdown := newTestTracer(t)
	defer shutdown()

	wantErr := errors.New("boom")
	handler := Middleware(tracer)(func(ctx context.Context, inv *wire.Invocation) (*wire.Response, error) {
		return nil, wantErr
	})

	_, err := handler(context.Background(), &wire.Invocation{ActorID: wire.Local("a"), Method: "m"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected handler error to propagate, got %v", err)
	}
}

func TestHooksMiddlewareFiresOnInvocation(t *testing.T) {
	var firedActor wire.ActorID
	var firedMethod string
	h := Hooks{OnInvocation: func(actorID wire.ActorID, method string) {
		firedActor = actorID
		firedMethod = method
	}}

	chain := dispatch.Chain(HooksMiddleware(h))
	handler := chain(func(ctx context.Context, inv *wire.Invocation) (*wire.Response, error) {
		return &wire.Response{CallID: inv.CallID}, nil
	})

	actorID := wire.Local("echo-1")
	_, err := handler(context.Background(), &wire.Invocation{ActorID: actorID, Method: "echo"})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !firedActor.Equal(actorID) || firedMethod != "echo" {
		t.Errorf("OnInvocation fired with (%v, %s), want (%v, echo)", firedActor, firedMethod, actorID)
	}
}

func TestHooksMiddlewareNilHooksIsNoop(t *testing.T) {
	chain := dispatch.Chain(HooksMiddleware(Hooks{}))
	handler := chain(func(ctx context.Context, inv *wire.Invocation) (*wire.Response, error) {
		return &wire.Response{CallID: inv.CallID}, nil
	})
	if _, err := handler(context.Background(), &wire.Invocation{ActorID: wire.Local("a"), Method: "m"}); err != nil {
		t.Fatalf("handler: %v", err)
	}
}
