// Package client is the dialing role of actorbridge: it resolves remote
// actor references, invokes methods against them, and subscribes to
// push-based state streams that survive transient disconnects.
package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/webitel/actorbridge/clientconn"
	"github.com/webitel/actorbridge/config"
	"github.com/webitel/actorbridge/dispatch"
	"github.com/webitel/actorbridge/errs"
	"github.com/webitel/actorbridge/registry"
	"github.com/webitel/actorbridge/stream"
	"github.com/webitel/actorbridge/trace"
	"github.com/webitel/actorbridge/transport"
	"github.com/webitel/actorbridge/transport/grpcwire"
	"github.com/webitel/actorbridge/transport/ws"
	"github.com/webitel/actorbridge/wire"
)

// Client owns one logical connection to a server plus the local machinery
// around it: the pending-call table (via its dispatcher), the stream
// registry, and the checkpoint store that drives resumption.
type Client struct {
	cfg    config.Client
	logger *slog.Logger

	registry    *registry.Registry
	disp        *dispatch.Dispatcher
	resolver    *dispatch.ConnResolver
	streams     *stream.ClientRegistry
	checkpoints *stream.CheckpointStore
	mgr         *clientconn.Manager

	readCtx context.Context
	cancel  context.CancelFunc

	mu         sync.Mutex
	subsByCall map[wire.CallID]*Subscription
	subsByID   map[wire.StreamID]*Subscription
	started    bool
}

// Option configures a Client at construction.
type Option func(*clientOptions)

type clientOptions struct {
	logger           *slog.Logger
	registry         *registry.Registry
	dialer           transport.Dialer
	checkpointMaxAge time.Duration
}

// WithLogger sets the structured logger; defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

// WithRegistry hosts local actors inside the client process; calls whose
// target is registered locally short-circuit without touching the wire.
func WithRegistry(r *registry.Registry) Option {
	return func(o *clientOptions) { o.registry = r }
}

// WithDialer overrides the transport backend chosen by cfg.Transport.
func WithDialer(d transport.Dialer) Option {
	return func(o *clientOptions) { o.dialer = d }
}

// WithCheckpointMaxAge overrides the checkpoint expiry window.
func WithCheckpointMaxAge(d time.Duration) Option {
	return func(o *clientOptions) { o.checkpointMaxAge = d }
}

// New builds a Client for cfg. Call Connect before invoking remote methods.
func New(cfg config.Client, opts ...Option) *Client {
	o := &clientOptions{
		logger:           slog.Default(),
		checkpointMaxAge: stream.DefaultCheckpointMaxAge,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = registry.New(nil)
	}
	if o.dialer == nil {
		switch cfg.Transport {
		case "grpc":
			o.dialer = grpcwire.NewDialer()
		default:
			o.dialer = ws.NewDialer("ws", "/actorbridge/v1")
		}
	}

	checkpoints := stream.NewCheckpointStore(o.checkpointMaxAge)
	policy := clientconn.BackoffPolicy{
		Enabled:     cfg.Reconnect.Enabled,
		MaxAttempts: cfg.Reconnect.MaxAttempts,
		Initial:     cfg.Reconnect.InitialDelay,
		Max:         cfg.Reconnect.MaxDelay,
		Multiplier:  cfg.Reconnect.Multiplier,
	}
	mgr := clientconn.NewManager(o.dialer, cfg.Host, cfg.Port, policy, checkpoints, o.logger)

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:         cfg,
		logger:      o.logger,
		registry:    o.registry,
		streams:     stream.NewClientRegistry(),
		checkpoints: checkpoints,
		mgr:         mgr,
		readCtx:     ctx,
		cancel:      cancel,
		subsByCall:  make(map[wire.CallID]*Subscription),
		subsByID:    make(map[wire.StreamID]*Subscription),
	}

	resolver, err := dispatch.NewConnResolver(managerDialer{c}, 8)
	if err != nil {
		// Only reachable if the LRU cache cannot be built; a positive size
		// such as 8 never fails.
		panic(err)
	}
	c.resolver = resolver
	c.disp = dispatch.New(o.registry, resolver, dispatch.WithMiddleware(dispatch.Recover()))
	return c
}

// managerDialer routes every dispatcher resolve through the connection
// manager so there is exactly one logical connection regardless of how
// many remote actor IDs point at it.
type managerDialer struct{ c *Client }

func (d managerDialer) Dial(ctx context.Context, host string, port int) (transport.Conn, error) {
	if conn, ok := d.c.mgr.Conn(); ok {
		return conn, nil
	}
	return nil, errs.New(errs.KindSystemNotRunning, "client is not connected")
}

// Observe registers a connection lifecycle observer.
func (c *Client) Observe(o clientconn.Observer) { c.mgr.AddObserver(o) }

// State reports the connection manager's current state.
func (c *Client) State() clientconn.State { return c.mgr.State() }

// Connect dials the configured server and starts the read pump. The pump
// survives transient disconnects by re-entering the manager's reconnect
// state machine; it gives up when the reconnect policy does.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	conn, err := c.mgr.Dial(ctx)
	if err != nil {
		return err
	}
	go c.readPump(conn)
	return nil
}

// Close tears the client down: pending calls fail with connection-closed
// and stream consumers terminate.
func (c *Client) Close() error {
	c.cancel()
	c.disp.ConnectionLost()
	c.streams.EndAll()
	if conn, ok := c.mgr.Conn(); ok {
		return conn.Close()
	}
	return nil
}

func (c *Client) readPump(conn transport.Conn) {
	for {
		env, err := conn.Recv(c.readCtx)
		if err != nil {
			if c.readCtx.Err() != nil {
				return
			}
			c.logger.Warn("CLIENT_CONN_LOST", slog.Any("err", err))
			c.disp.ConnectionLost()
			c.resolver.Purge()
			c.mgr.OnDisconnect()

			next, dialErr := c.mgr.Dial(c.readCtx)
			if dialErr != nil {
				c.logger.Error("CLIENT_RECONNECT_GAVE_UP", slog.Any("err", dialErr))
				c.streams.EndAll()
				return
			}
			conn = next
			continue
		}
		c.route(conn, env)
	}
}

func (c *Client) route(conn transport.Conn, env wire.Envelope) {
	switch env.Type {
	case wire.TypeResponse, wire.TypeInvocation:
		// Responses complete pending calls; inbound invocations (a server
		// calling back into actors this client hosts) execute and reply.
		if err := c.disp.HandleInbound(c.readCtx, conn, env); err != nil {
			c.logger.Warn("CLIENT_DISPATCH_FAILED", slog.Any("err", err))
		}

	case wire.TypeStreamStart:
		ss := env.StreamStart
		if !c.streams.Rekey(ss.CallID, ss.StreamID) {
			c.logger.Warn("STREAM_START_UNMATCHED", slog.String("callId", ss.CallID.String()))
			return
		}
		c.mu.Lock()
		if sub, ok := c.subsByCall[ss.CallID]; ok {
			delete(c.subsByID, sub.streamID)
			sub.streamID = ss.StreamID
			c.subsByID[ss.StreamID] = sub
		}
		c.mu.Unlock()

	case wire.TypeStreamData:
		sd := env.StreamData
		c.streams.OnData(sd.StreamID, sd.Sequence, sd.Payload, sd.Timestamp)
		// Checkpoint at the accepted high-water mark, not the raw frame
		// sequence, so duplicates and out-of-order frames never move the
		// checkpoint backwards.
		if last, ok := c.streams.LastSequence(sd.StreamID); ok {
			c.mu.Lock()
			sub := c.subsByID[sd.StreamID]
			c.mu.Unlock()
			if sub != nil {
				c.checkpoints.Put(sd.StreamID, last, sub.actorID, sub.method, time.Now())
			}
		}

	case wire.TypeStreamEnd:
		se := env.StreamEnd
		c.streams.OnEnd(se.StreamID, se.Reason)
		c.checkpoints.Clear(se.StreamID)
		c.dropSub(se.StreamID)

	case wire.TypeStreamError:
		se := env.StreamError
		c.streams.OnError(se.StreamID, se.Message)
		c.checkpoints.Clear(se.StreamID)
		c.dropSub(se.StreamID)

	default:
		c.logger.Warn("FRAME_DROPPED", slog.String("type", string(env.Type)))
	}
}

func (c *Client) dropSub(streamID wire.StreamID) {
	c.mu.Lock()
	if sub, ok := c.subsByID[streamID]; ok {
		delete(c.subsByID, streamID)
		delete(c.subsByCall, sub.callID)
	}
	c.mu.Unlock()
}

// Call invokes method on actorID and returns the decoded result payload.
// Local targets short-circuit through the in-process registry without any
// transport traffic; remote targets cross the wire and block until the
// response arrives or ctx is cancelled.
func (c *Client) Call(ctx context.Context, actorID wire.ActorID, method string, args ...[]byte) ([]byte, error) {
	inv := &wire.Invocation{
		CallID:          wire.NewCallID(),
		ActorID:         actorID,
		Method:          method,
		ProtocolVersion: wire.MaxProtocolVersion,
		Args:            args,
		TraceContext:    trace.FromSpanContext(oteltrace.SpanContextFromContext(ctx)),
	}

	resp, err := c.disp.Invoke(ctx, inv)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, errs.RemoteInvocationFailed(resp.Error)
	}
	return resp.Result, nil
}

// CallVoid invokes a method whose success carries no payload.
func (c *Client) CallVoid(ctx context.Context, actorID wire.ActorID, method string, args ...[]byte) error {
	_, err := c.Call(ctx, actorID, method, args...)
	return err
}

// Subscribe opens a streaming subscription to method on actorID. The
// returned Subscription's consumer structure exists before the subscribe
// envelope leaves the process, so frames can never arrive ahead of it
//.
func (c *Client) Subscribe(ctx context.Context, actorID wire.ActorID, method string, filter *wire.StreamFilter) (*Subscription, error) {
	conn, ok := c.mgr.Conn()
	if !ok {
		return nil, errs.New(errs.KindSystemNotRunning, "client is not connected")
	}

	callID := wire.NewCallID()
	provisional := wire.NewStreamID()
	now := time.Now()

	c.streams.PreRegister(callID, provisional, actorID, method, now)
	sub := newSubscription(c, callID, provisional, actorID, method)
	c.streams.Attach(provisional, sub)

	c.mu.Lock()
	c.subsByCall[callID] = sub
	c.subsByID[provisional] = sub
	c.mu.Unlock()

	env := wire.WrapStreamStart(&wire.StreamStart{
		StreamID: provisional,
		CallID:   callID,
		ActorID:  actorID,
		Method:   method,
		Filter:   filter,
	})
	if err := conn.Send(ctx, env); err != nil {
		c.streams.OnError(provisional, "subscribe failed")
		c.dropSub(provisional)
		return nil, errs.Wrap(errs.KindConnectionClosed, "subscribe", err)
	}
	return sub, nil
}

// unsubscribe sends the out-of-band close for sub's stream.
func (c *Client) unsubscribe(sub *Subscription) {
	conn, ok := c.mgr.Conn()
	if ok {
		conn.Send(c.readCtx, wire.WrapStreamEnd(&wire.StreamEnd{
			StreamID: sub.streamID,
			Reason:   wire.ReasonClientUnsubscribed,
		}))
	}
	c.streams.OnEnd(sub.streamID, wire.ReasonClientUnsubscribed)
	c.checkpoints.Clear(sub.streamID)
	c.dropSub(sub.streamID)
}

// SweepCheckpoints evicts expired checkpoints and reaps provisional stream
// entries whose canonical StreamStart never arrived. Wired to the cron
// janitor by the client module.
func (c *Client) SweepCheckpoints(grace time.Duration) {
	now := time.Now()
	evicted := c.checkpoints.Sweep(now)
	reaped := c.streams.ReapExpired(grace, now)
	if evicted > 0 || reaped > 0 {
		c.logger.Debug("CHECKPOINT_SWEEP",
			slog.Int("evicted", evicted),
			slog.Int("reaped", reaped))
	}
}
