// Package server assembles the hosting role of actorbridge: transport
// listeners, the per-connection envelope loop, server-side stream sessions,
// graceful drain, and the cross-replica state-change fan-out.
package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/webitel/actorbridge/config"
	"github.com/webitel/actorbridge/dispatch"
	"github.com/webitel/actorbridge/errs"
	"github.com/webitel/actorbridge/registry"
	"github.com/webitel/actorbridge/store"
	"github.com/webitel/actorbridge/store/notify"
	"github.com/webitel/actorbridge/trace"
	"github.com/webitel/actorbridge/transport"
	"github.com/webitel/actorbridge/wire"
)

// Server hosts actors behind one or more transport listeners. One Server
// instance serves any number of connections; each connection gets its own
// read loop, and each stream subscription its own session goroutine.
type Server struct {
	cfg    config.Server
	logger *slog.Logger

	registry *registry.Registry
	life     *registry.Lifecycle
	disp     *dispatch.Dispatcher
	hooks    trace.Hooks

	// store/notifier back the state-change fan-out; both optional.
	store    store.Store
	notifier notify.Notifier

	mu       sync.Mutex
	sessions map[wire.StreamID]*session
	byActor  map[string]map[wire.StreamID]*session

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Server at construction.
type Option func(*Server)

// WithLogger sets the structured logger; defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithHooks installs the observability callbacks.
func WithHooks(h trace.Hooks) Option {
	return func(s *Server) { s.hooks = h }
}

// WithStateStore wires a state store and, optionally, the cross-replica
// notifier used to announce successful writes to other replicas. notifier
// may be nil for single-replica deployments.
func WithStateStore(st store.Store, n notify.Notifier) Option {
	return func(s *Server) { s.store = st; s.notifier = n }
}

// New builds a Server over the given registry, lifecycle, and dispatcher.
func New(cfg config.Server, reg *registry.Registry, life *registry.Lifecycle, disp *dispatch.Dispatcher, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		logger:   slog.Default(),
		registry: reg,
		life:     life,
		disp:     disp,
		sessions: make(map[wire.StreamID]*session),
		byActor:  make(map[string]map[wire.StreamID]*session),
		baseCtx:  ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve accepts connections from l until l is closed or the server shuts
// down, running one envelope loop per connection.
func (s *Server) Serve(l transport.Listener) error {
	s.logger.Info("SERVER_LISTENING", slog.String("addr", l.Addr()))
	for {
		conn, err := l.Accept(s.baseCtx)
		if err != nil {
			if s.baseCtx.Err() != nil {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
		}()
	}
}

// serveConn is the per-connection read loop: it decodes envelopes off conn
// and routes each to the dispatcher or the stream engine. A decode failure
// drops the offending frame and keeps the connection alive;
// a transport failure ends the loop and the peer's sessions.
func (s *Server) serveConn(conn transport.Conn) {
	remote := conn.RemoteAddr()
	s.logger.Info("CONN_ACCEPTED", slog.String("remote", remote))
	defer func() {
		s.dropConnSessions(conn)
		conn.Close()
		s.logger.Info("CONN_CLOSED", slog.String("remote", remote))
	}()

	for {
		env, err := conn.Recv(s.baseCtx)
		if err != nil {
			if errors.Is(err, errs.KindErr(errs.KindMalformedEnvelope)) {
				s.logger.Warn("FRAME_DROPPED",
					slog.String("remote", remote),
					slog.Any("err", err))
				continue
			}
			if s.baseCtx.Err() == nil {
				s.logger.Warn("CONN_RECV_FAILED", slog.String("remote", remote), slog.Any("err", err))
			}
			return
		}

		switch env.Type {
		case wire.TypeInvocation:
			inv := env.Invocation
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handleInvocation(conn, inv)
			}()

		case wire.TypeResponse:
			// A reply to a call this server originated (actor-to-actor).
			s.disp.HandleInbound(s.baseCtx, conn, env)

		case wire.TypeStreamStart:
			s.handleStreamStart(conn, env.StreamStart)

		case wire.TypeStreamResume:
			s.handleStreamResume(conn, env.StreamResume)

		case wire.TypeStreamEnd:
			// Out-of-band unsubscribe from the client side.
			s.unsubscribe(env.StreamEnd.StreamID)

		default:
			s.logger.Warn("FRAME_DROPPED",
				slog.String("remote", remote),
				slog.String("type", string(env.Type)))
		}
	}
}

func (s *Server) handleInvocation(conn transport.Conn, inv *wire.Invocation) {
	end, ok := s.life.BeginInvocation()
	if !ok {
		resp := &wire.Response{CallID: inv.CallID, Error: "server is draining"}
		conn.Send(s.baseCtx, wire.WrapResponse(resp))
		return
	}
	defer end()

	// The invocation callback fires inside the dispatcher's middleware
	// chain; the server only owns the stream start/end callbacks.
	if err := s.disp.HandleInbound(s.baseCtx, conn, wire.WrapInvocation(inv)); err != nil {
		s.logger.Warn("INVOCATION_REPLY_FAILED",
			slog.String("callId", inv.CallID.String()),
			slog.Any("err", err))
	}
}

// unsubscribe ends one session with reason client-unsubscribed.
func (s *Server) unsubscribe(streamID wire.StreamID) {
	s.mu.Lock()
	sess, ok := s.sessions[streamID]
	s.mu.Unlock()
	if !ok {
		return
	}
	sess.stop(wire.ReasonClientUnsubscribed)
}

// dropConnSessions removes every session bound to conn without sending
// further frames: the peer detects closure itself.
func (s *Server) dropConnSessions(conn transport.Conn) {
	s.mu.Lock()
	var dropped []*session
	for _, sess := range s.sessions {
		if sess.conn == conn {
			dropped = append(dropped, sess)
		}
	}
	s.mu.Unlock()
	for _, sess := range dropped {
		sess.drop()
	}
}

func (s *Server) addSession(sess *session) {
	key := sess.actorID.String()
	s.mu.Lock()
	s.sessions[sess.id] = sess
	if s.byActor[key] == nil {
		s.byActor[key] = make(map[wire.StreamID]*session)
	}
	s.byActor[key][sess.id] = sess
	s.mu.Unlock()
}

func (s *Server) removeSession(sess *session) {
	key := sess.actorID.String()
	s.mu.Lock()
	delete(s.sessions, sess.id)
	if m := s.byActor[key]; m != nil {
		delete(m, sess.id)
		if len(m) == 0 {
			delete(s.byActor, key)
		}
	}
	s.mu.Unlock()
}

// SessionCount reports the number of live stream sessions (debug endpoint).
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// OnStateChange is the notify.Handler this server registers on the
// cross-replica channel: another replica wrote actorID's state, so reload
// it and re-broadcast to every local stream session watching that actor.
func (s *Server) OnStateChange(n notify.Notification) {
	if s.store == nil {
		return
	}

	key := n.ActorID.String()
	s.mu.Lock()
	var watchers []*session
	for _, sess := range s.byActor[key] {
		watchers = append(watchers, sess)
	}
	s.mu.Unlock()
	if len(watchers) == 0 {
		return
	}

	ctx, cancelLoad := context.WithTimeout(s.baseCtx, 5*time.Second)
	defer cancelLoad()
	rec, ok, err := s.store.Load(ctx, n.ActorID)
	if err != nil || !ok {
		s.logger.Warn("STATE_RELOAD_FAILED",
			slog.String("actorId", key),
			slog.Any("err", err))
		return
	}

	for _, sess := range watchers {
		if err := sess.pub.Publish(s.baseCtx, rec.State); err != nil {
			s.logger.Warn("STATE_REBROADCAST_FAILED",
				slog.String("streamId", sess.id.String()),
				slog.Any("err", err))
		}
	}
}

// SaveState writes an actor's state through the configured store and, on
// success, announces the change on the cross-replica channel. Handlers that
// persist state call this rather than the store directly so the fan-out
// configuration's "must emit" rule holds.
func (s *Server) SaveState(ctx context.Context, actorID wire.ActorID, state []byte) (uint64, error) {
	if s.store == nil {
		return 0, nil
	}
	version, err := s.store.Save(ctx, actorID, state)
	if err != nil {
		return 0, err
	}
	if s.notifier != nil {
		n := notify.Notification{
			ActorID:          actorID,
			Sequence:         version,
			TimestampSeconds: time.Now().Unix(),
		}
		if err := s.notifier.Publish(ctx, n); err != nil {
			s.logger.Warn("STATE_NOTIFY_FAILED",
				slog.String("actorId", actorID.String()),
				slog.Any("err", err))
		}
	}
	return version, nil
}

// Shutdown drains the server: health flips to draining immediately,
// listeners stop accepting (the caller closes them via stopAccepting),
// in-flight work gets until the configured drain timeout, and whatever is
// left is cancelled.
func (s *Server) Shutdown(ctx context.Context, stopAccepting func()) error {
	s.logger.Info("SERVER_DRAINING", slog.Int64("inflight", s.life.InFlight()))

	err := s.life.Shutdown(ctx, s.cfg.DrainTimeout, stopAccepting)
	if err != nil {
		s.logger.Warn("DRAIN_TIMED_OUT", slog.Int64("inflight", s.life.InFlight()))
	}

	// Drained (or gave up): end remaining stream sessions and cut every
	// connection loop loose.
	s.mu.Lock()
	var open []*session
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()
	for _, sess := range open {
		sess.stop(wire.ReasonConnectionClosed)
	}

	s.cancel()
	s.wg.Wait()
	s.logger.Info("SERVER_STOPPED")
	return err
}
