package dispatch

import (
	"context"
	"fmt"

	"github.com/webitel/actorbridge/wire"
)

// HandlerFunc dispatches one decoded invocation to its eventual target,
// local or remote. It is the unit middleware wraps.
type HandlerFunc func(ctx context.Context, inv *wire.Invocation) (*wire.Response, error)

// Middleware wraps a HandlerFunc with cross-cutting behavior (tracing,
// logging, panic recovery, ...), the same chain-of-responsibility shape
// go-grpc-middleware/v2 uses for grpc interceptors, generalized here to
// actorbridge's own invocation handler type since invocations cross ws and
// grpc transports alike.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middleware in call order: Chain(a, b, c)(h) runs a, then
// b, then c, then h.
func Chain(mws ...Middleware) Middleware {
	return func(final HandlerFunc) HandlerFunc {
		h := final
		for i := len(mws) - 1; i >= 0; i-- {
			h = mws[i](h)
		}
		return h
	}
}

// KeyFunc extracts a throttling key from an invocation (actor ID,
// principal, ...) for rate-limiting middleware layered on top of the
// dispatcher. The default keys by target actor.
type KeyFunc func(inv *wire.Invocation) string

// ActorKey keys invocations by their target actor's textual form.
func ActorKey(inv *wire.Invocation) string { return inv.ActorID.String() }

// Reject builds a middleware that consults verdict before dispatch and, on
// a non-nil error, answers with an error Response on the same call ID
// without executing the handler. This is the chain position between "frame
// decoded" and "dispatch handler" that admission and rate-limiting
// middleware plug into; key tells the verdict what it is throttling on.
func Reject(key KeyFunc, verdict func(ctx context.Context, key string, inv *wire.Invocation) error) Middleware {
	if key == nil {
		key = ActorKey
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, inv *wire.Invocation) (*wire.Response, error) {
			if err := verdict(ctx, key(inv), inv); err != nil {
				return &wire.Response{CallID: inv.CallID, Error: err.Error()}, nil
			}
			return next(ctx, inv)
		}
	}
}

// Recover guards against a panicking handler taking down the dispatcher's
// goroutine.
func Recover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, inv *wire.Invocation) (resp *wire.Response, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("actorbridge: handler panic for %s.%s: %v", inv.ActorID, inv.Method, r)
				}
			}()
			return next(ctx, inv)
		}
	}
}
