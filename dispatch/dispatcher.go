package dispatch

import (
	"context"
	"log/slog"

	"github.com/webitel/actorbridge/errs"
	"github.com/webitel/actorbridge/wire"
)

// LocalInvoker resolves and invokes a method on a locally-hosted actor. The
// actor registry implements this; dispatch depends on the interface
// rather than the registry package directly to keep the two components
// decoupled.
type LocalInvoker interface {
	InvokeLocal(ctx context.Context, actorID wire.ActorID, method string, args [][]byte) ([]byte, error)
}

// Dispatcher is the invocation dispatcher: it decides whether an
// invocation short-circuits to a local actor or crosses the wire to a
// remote one, and runs every invocation through the configured middleware
// chain first.
type Dispatcher struct {
	local    LocalInvoker
	resolver *ConnResolver
	pending  *pendingCalls
	chain    Middleware
}

// Option configures a Dispatcher at construction.
type Option func(*Dispatcher)

// WithMiddleware installs the middleware chain invocations pass through
// before reaching the local/remote routing decision.
func WithMiddleware(mws ...Middleware) Option {
	return func(d *Dispatcher) { d.chain = Chain(mws...) }
}

// New builds a Dispatcher. resolver may be nil if this process never
// originates outbound remote calls (pure server role).
func New(local LocalInvoker, resolver *ConnResolver, opts ...Option) *Dispatcher {
	d := &Dispatcher{local: local, resolver: resolver, pending: newPendingCalls(), chain: Chain()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Invoke runs inv through the middleware chain and routes it to its target.
// This is the entry point used both for calls originated by this process
// and for invocations just decoded off an inbound connection.
func (d *Dispatcher) Invoke(ctx context.Context, inv *wire.Invocation) (*wire.Response, error) {
	return d.chain(d.route)(ctx, inv)
}

func (d *Dispatcher) route(ctx context.Context, inv *wire.Invocation) (*wire.Response, error) {
	if err := wire.CheckProtocolVersion(inv.EffectiveProtocolVersion()); err != nil {
		return nil, err
	}

	if inv.ActorID.IsLocal() {
		result, err := d.local.InvokeLocal(ctx, inv.ActorID, inv.Method, inv.Args)
		if err != nil {
			return &wire.Response{CallID: inv.CallID, Error: err.Error()}, nil
		}
		return &wire.Response{CallID: inv.CallID, Result: result}, nil
	}

	return d.invokeRemote(ctx, inv)
}

func (d *Dispatcher) invokeRemote(ctx context.Context, inv *wire.Invocation) (*wire.Response, error) {
	if d.resolver == nil {
		return nil, errs.New(errs.KindSystemNotRunning, "no outbound connection resolver configured")
	}

	conn, err := d.resolver.Resolve(ctx, inv.ActorID)
	if err != nil {
		d.resolver.Invalidate(inv.ActorID)
		return nil, errs.ConnectionFailed(inv.ActorID.Host, inv.ActorID.Port, err)
	}

	waitCh, forget := d.pending.register(inv.CallID)
	defer forget()

	if err := conn.Send(ctx, wire.WrapInvocation(inv)); err != nil {
		d.resolver.Invalidate(inv.ActorID)
		return nil, errs.ConnectionFailed(inv.ActorID.Host, inv.ActorID.Port, err)
	}

	select {
	case <-ctx.Done():
		return nil, errs.Cancelled()
	case resp := <-waitCh:
		if resp.CallID != inv.CallID {
			// cancelAll's reply carries no call ID: the connection was lost.
			return nil, errs.ConnectionClosed()
		}
		return resp, nil
	}
}

// HandleInbound is called once per envelope read off a connection. It
// dispatches Invocations (replying on the same conn) and delivers Responses
// to their waiting caller.
func (d *Dispatcher) HandleInbound(ctx context.Context, conn interface {
	Send(context.Context, wire.Envelope) error
}, env wire.Envelope) error {
	switch env.Type {
	case wire.TypeInvocation:
		resp, err := d.Invoke(ctx, env.Invocation)
		if err != nil {
			resp = &wire.Response{CallID: env.Invocation.CallID, Error: err.Error()}
		}
		return conn.Send(ctx, wire.WrapResponse(resp))
	case wire.TypeResponse:
		if !d.pending.deliver(env.Response) {
			slog.Warn("RESPONSE_DISCARDED", slog.String("callId", env.Response.CallID.String()))
		}
		return nil
	default:
		return errs.New(errs.KindMalformedEnvelope, "dispatcher received a non-invocation, non-response envelope")
	}
}

// ConnectionLost fails every call still waiting on a reply, whatever
// connection it was sent on, with connection-closed.
func (d *Dispatcher) ConnectionLost() {
	d.pending.cancelAll(errs.ConnectionClosed())
}

// PendingCount reports in-flight outbound calls, used by health reporting.
func (d *Dispatcher) PendingCount() int { return d.pending.count() }
