package client

import (
	"context"
	"io"
	"sync"

	"github.com/webitel/actorbridge/errs"
	"github.com/webitel/actorbridge/stream"
	"github.com/webitel/actorbridge/wire"
)

// subscriptionBuffer bounds how many undelivered payloads a Subscription
// holds before the read pump blocks on it. This is consumer-side pacing,
// not the resume cache.
const subscriptionBuffer = 64

// Subscription is the application-facing consumer of one stream: an
// ordered sequence of payloads ending in exactly one of normal completion
// or a surfaced error.
type Subscription struct {
	client  *Client
	callID  wire.CallID
	actorID wire.ActorID
	method  string

	// streamID starts provisional and is swapped to the canonical ID when
	// the server's StreamStart reply arrives. Guarded by client.mu.
	streamID wire.StreamID

	ch        chan []byte
	closeOnce sync.Once
	applier   *stream.DeltaApplier

	mu     sync.Mutex
	reason wire.StreamEndReason
	errMsg string
}

var _ stream.Consumer = (*Subscription)(nil)

func newSubscription(c *Client, callID wire.CallID, provisional wire.StreamID, actorID wire.ActorID, method string) *Subscription {
	return &Subscription{
		client:   c,
		callID:   callID,
		actorID:  actorID,
		method:   method,
		streamID: provisional,
		ch:       make(chan []byte, subscriptionBuffer),
	}
}

// DecodeDeltas opts the consumer into delta decoding: each delivered frame
// is unwrapped through applier-managed base state. Must be called before
// the first frame arrives (right after Subscribe).
func (s *Subscription) DecodeDeltas(codec stream.DeltaCodec) {
	s.mu.Lock()
	s.applier = stream.NewDeltaApplier(codec)
	s.mu.Unlock()
}

// Deliver implements stream.Consumer. Called from the read pump in
// sequence order.
func (s *Subscription) Deliver(payload []byte) {
	s.mu.Lock()
	applier := s.applier
	s.mu.Unlock()
	if applier != nil {
		decoded, err := applier.Decode(payload)
		if err != nil {
			s.Error(err.Error())
			return
		}
		payload = decoded
	}

	defer func() {
		// The channel may close concurrently with a late delivery when the
		// consumer unsubscribes; dropping that payload matches the
		// terminated-stream contract.
		recover()
	}()
	s.ch <- payload
}

// End implements stream.Consumer: normal termination.
func (s *Subscription) End(reason wire.StreamEndReason) {
	s.mu.Lock()
	s.reason = reason
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.ch) })
}

// Error implements stream.Consumer: termination with a surfaced error.
func (s *Subscription) Error(message string) {
	s.mu.Lock()
	s.errMsg = message
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.ch) })
}

// Next blocks for the next payload. It returns io.EOF after the stream
// completed normally, a remote-invocation-failed error if the server sent
// StreamError, connection-closed if reconnection failed definitively, and
// a cancelled error once ctx is done.
func (s *Subscription) Next(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, errs.Cancelled()
	case payload, ok := <-s.ch:
		if ok {
			return payload, nil
		}
		return nil, s.terminalError()
	}
}

func (s *Subscription) terminalError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.errMsg != "":
		return errs.RemoteInvocationFailed(s.errMsg)
	case s.reason == wire.ReasonConnectionClosed:
		return errs.ConnectionClosed()
	default:
		return io.EOF
	}
}

// Unsubscribe drops the consumer handle: the server is told to stop, the
// checkpoint is cleared, and Next returns io.EOF once buffered payloads
// drain.
func (s *Subscription) Unsubscribe() {
	s.client.unsubscribe(s)
}
