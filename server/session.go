package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/webitel/actorbridge/errs"
	"github.com/webitel/actorbridge/stream"
	"github.com/webitel/actorbridge/transport"
	"github.com/webitel/actorbridge/wire"
)

// session is one server-side stream subscription: the publisher plus the
// goroutine pumping the actor's yielded values through it. Termination is
// exactly-once: whichever of pump-exhaustion / stop / drop wins sends the
// single terminal frame (or, for drop, suppresses it).
type session struct {
	id      wire.StreamID
	actorID wire.ActorID
	method  string
	conn    transport.Conn
	pub     *stream.Publisher

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once

	// reason holds the termination reason chosen by stop; pump reads it
	// after its source channel drains.
	mu     sync.Mutex
	reason wire.StreamEndReason
	silent bool
}

// stop cancels the session's producer and records the terminal reason the
// pump should send.
func (sess *session) stop(reason wire.StreamEndReason) {
	sess.stopOnce.Do(func() {
		sess.mu.Lock()
		sess.reason = reason
		sess.mu.Unlock()
		sess.cancel()
	})
}

// drop cancels the session without sending a terminal frame: the
// connection is gone, the peer detects closure itself.
func (sess *session) drop() {
	sess.stopOnce.Do(func() {
		sess.mu.Lock()
		sess.silent = true
		sess.mu.Unlock()
		sess.cancel()
	})
}

func (sess *session) terminalReason() (wire.StreamEndReason, bool) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.silent {
		return "", false
	}
	if sess.reason == "" {
		return wire.ReasonCompleted, true
	}
	return sess.reason, true
}

// handleStreamStart opens a subscription: allocate the canonical stream ID,
// acknowledge with a StreamStart reply, open the actor's streaming method,
// and pump its values through a sequencing, filtering publisher.
func (s *Server) handleStreamStart(conn transport.Conn, ss *wire.StreamStart) {
	s.hooks.FireStreamStart(ss.ActorID, ss.Method)

	filter, err := stream.NewFilter(ss.Filter)
	if err != nil {
		// Unusable filter parameters fail open.
		s.logger.Warn("FILTER_REJECTED",
			slog.String("callId", ss.CallID.String()),
			slog.Any("err", err))
		filter = nil
	}

	canonical := wire.NewStreamID()
	ctx, cancel := context.WithCancel(s.baseCtx)
	sess := &session{
		id:      canonical,
		actorID: ss.ActorID,
		method:  ss.Method,
		conn:    conn,
		pub:     stream.NewPublisher(canonical, conn, filter),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.addSession(sess)

	ack := &wire.StreamStart{
		StreamID: canonical,
		CallID:   ss.CallID,
		ActorID:  ss.ActorID,
		Method:   ss.Method,
		Filter:   ss.Filter,
	}
	if err := conn.Send(s.baseCtx, wire.WrapStreamStart(ack)); err != nil {
		s.removeSession(sess)
		cancel()
		return
	}

	s.logger.Info("STREAM_ESTABLISHED",
		slog.String("streamId", canonical.String()),
		slog.String("actorId", ss.ActorID.String()),
		slog.String("method", ss.Method))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pump(sess)
	}()
}

// handleStreamResume restarts a subscription from the client's checkpoint.
// The original publisher died with its connection, so there is no retained
// buffer to replay; the restarted publisher continues numbering past
// lastSequence and the client's seq > lastSequence rule suppresses any
// overlap.
func (s *Server) handleStreamResume(conn transport.Conn, sr *wire.StreamResume) {
	s.hooks.FireStreamStart(sr.ActorID, sr.Method)

	ctx, cancel := context.WithCancel(s.baseCtx)
	sess := &session{
		id:      sr.StreamID,
		actorID: sr.ActorID,
		method:  sr.Method,
		conn:    conn,
		pub:     stream.NewResumedPublisher(sr.StreamID, conn, nil, sr.LastSequence),
		ctx:     ctx,
		cancel:  cancel,
	}

	// Resuming the same stream twice replaces the first session, keeping
	// the continuation identical to a single resume.
	s.mu.Lock()
	prior := s.sessions[sr.StreamID]
	s.mu.Unlock()
	if prior != nil {
		prior.drop()
		s.removeSession(prior)
	}
	s.addSession(sess)

	s.logger.Info("STREAM_RESUMED",
		slog.String("streamId", sr.StreamID.String()),
		slog.String("actorId", sr.ActorID.String()),
		slog.Uint64("lastSequence", sr.LastSequence))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pump(sess)
	}()
}

// pump drives one subscription to its single terminal frame.
func (s *Server) pump(sess *session) {
	defer s.removeSession(sess)
	defer s.hooks.FireStreamEnd(sess.actorID, sess.method)
	defer sess.cancel()

	ch, err := s.registry.OpenStream(sess.ctx, sess.actorID, sess.method)
	if err != nil {
		sess.pub.Error(s.baseCtx, err.Error())
		return
	}

	for {
		select {
		case <-sess.ctx.Done():
			if reason, send := sess.terminalReason(); send {
				if reason == wire.ReasonCompleted {
					reason = wire.ReasonClientUnsubscribed
				}
				sess.pub.End(s.baseCtx, reason)
			}
			return

		case item, ok := <-ch:
			if !ok {
				if reason, send := sess.terminalReason(); send {
					sess.pub.End(s.baseCtx, reason)
				}
				return
			}
			if item.Err != nil {
				sess.pub.Error(s.baseCtx, item.Err.Error())
				return
			}
			// Transport send is the back-pressure signal: a slow peer
			// blocks the producer here rather than growing a queue.
			if err := sess.pub.Publish(sess.ctx, item.Payload); err != nil {
				if errors.Is(err, errs.KindErr(errs.KindSerializationFailed)) {
					sess.pub.Error(s.baseCtx, err.Error())
					return
				}
				sess.drop()
				return
			}
		}
	}
}
