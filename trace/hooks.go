package trace

import (
	"context"

	"github.com/webitel/actorbridge/dispatch"
	"github.com/webitel/actorbridge/wire"
)

// Hooks is the server's observability callback surface: called
// synchronously before the associated work starts. A nil field means no
// callback is registered for that event. Implementations must not block
// long; they run inline on the calling goroutine.
type Hooks struct {
	OnInvocation  func(actorID wire.ActorID, method string)
	OnStreamStart func(actorID wire.ActorID, method string)
	OnStreamEnd   func(actorID wire.ActorID, method string)
}

func (h Hooks) FireInvocation(actorID wire.ActorID, method string) {
	if h.OnInvocation != nil {
		h.OnInvocation(actorID, method)
	}
}

func (h Hooks) FireStreamStart(actorID wire.ActorID, method string) {
	if h.OnStreamStart != nil {
		h.OnStreamStart(actorID, method)
	}
}

func (h Hooks) FireStreamEnd(actorID wire.ActorID, method string) {
	if h.OnStreamEnd != nil {
		h.OnStreamEnd(actorID, method)
	}
}

// HooksMiddleware fires OnInvocation synchronously before delegating to
// next, the invocation half of the callback surface. Stream start/end
// hooks have no dispatch.Middleware equivalent (streams aren't
// request/response); the stream engine calls FireStreamStart/FireStreamEnd
// directly at subscription open/close.
func HooksMiddleware(h Hooks) dispatch.Middleware {
	return func(next dispatch.HandlerFunc) dispatch.HandlerFunc {
		return func(ctx context.Context, inv *wire.Invocation) (*wire.Response, error) {
			h.FireInvocation(inv.ActorID, inv.Method)
			return next(ctx, inv)
		}
	}
}
