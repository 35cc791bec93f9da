package trace

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/webitel/actorbridge/dispatch"
	"github.com/webitel/actorbridge/wire"
)

// Middleware returns a dispatch.Middleware that installs the incoming
// invocation's trace context as the span parent, starts a server span named
// after the invoked method, and records the outcome. It belongs at the
// front of the chain so every other middleware's work is captured inside
// the span.
func Middleware(tracer trace.Tracer) dispatch.Middleware {
	return func(next dispatch.HandlerFunc) dispatch.HandlerFunc {
		return func(ctx context.Context, inv *wire.Invocation) (*wire.Response, error) {
			ctx = ContextFromEnvelope(ctx, inv.TraceContext)
			ctx, span := tracer.Start(ctx, inv.Method,
				trace.WithAttributes(
					attribute.String("actorbridge.actor_id", inv.ActorID.String()),
					attribute.String("actorbridge.method", inv.Method),
				),
			)
			defer span.End()

			resp, err := next(ctx, inv)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else if resp != nil && resp.IsError() {
				span.SetStatus(codes.Error, resp.Error)
			}
			return resp, err
		}
	}
}
