package stream

import (
	"sync"
	"time"

	"github.com/webitel/actorbridge/wire"
)

// DefaultProvisionalGracePeriod bounds how long a provisional stream entry
// may wait for its canonical StreamStart before being reaped.
const DefaultProvisionalGracePeriod = 10 * time.Second

// Consumer is the application-facing side of a client-side stream
// subscription: the thing payloads, termination, and errors are delivered
// to once it attaches.
type Consumer interface {
	Deliver(payload []byte)
	End(reason wire.StreamEndReason)
	Error(message string)
}

// entry is the per-subscription state the client keeps: a subscriber
// handle, the highest sequence seen, a bounded resume-cache ring, and a
// holding queue for payloads that arrive before the consumer attaches.
type entry struct {
	streamID     wire.StreamID
	callID       wire.CallID
	actorID      wire.ActorID
	method       string
	lastSequence uint64
	cache        ring
	holding      [][]byte
	consumer     Consumer
	attached     bool
	rekeyed      bool
	createdAt    time.Time
}

// ClientRegistry is the client side of the stream engine: ordered
// delivery, pre-attach buffering, duplicate rejection, and provisional ID
// rekeying. It is per-connection and internally synchronized.
type ClientRegistry struct {
	mu         sync.Mutex
	byStreamID map[wire.StreamID]*entry
	byCallID   map[wire.CallID]wire.StreamID
}

func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		byStreamID: make(map[wire.StreamID]*entry),
		byCallID:   make(map[wire.CallID]wire.StreamID),
	}
}

// PreRegister installs a provisional entry keyed by a client-generated
// StreamID *before* the subscribe envelope is sent, closing the race where
// server frames could otherwise arrive before any consumer structure exists
//.
func (r *ClientRegistry) PreRegister(callID wire.CallID, provisional wire.StreamID, actorID wire.ActorID, method string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byStreamID[provisional] = &entry{
		streamID:  provisional,
		callID:    callID,
		actorID:   actorID,
		method:    method,
		createdAt: now,
	}
	r.byCallID[callID] = provisional
}

// Rekey moves the provisional entry registered for callID to the canonical
// StreamID the server assigned in its StreamStart reply.
func (r *ClientRegistry) Rekey(callID wire.CallID, canonical wire.StreamID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	provisional, ok := r.byCallID[callID]
	if !ok {
		return false
	}
	delete(r.byCallID, callID)

	e, ok := r.byStreamID[provisional]
	if !ok {
		return false
	}
	delete(r.byStreamID, provisional)

	e.streamID = canonical
	e.rekeyed = true
	r.byStreamID[canonical] = e
	return true
}

// Attach connects consumer to streamID's entry, flushing any payloads that
// arrived before attachment in order. The ring buffer is never flushed on
// attach — it is strictly a resume cache.
func (r *ClientRegistry) Attach(streamID wire.StreamID, consumer Consumer) bool {
	r.mu.Lock()
	e, ok := r.byStreamID[streamID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	e.consumer = consumer
	e.attached = true
	holding := e.holding
	e.holding = nil
	r.mu.Unlock()

	for _, payload := range holding {
		consumer.Deliver(payload)
	}
	return true
}

// OnData drops duplicate and out-of-order frames, then either delivers
// immediately or buffers in the holding queue.
func (r *ClientRegistry) OnData(streamID wire.StreamID, seq uint64, payload []byte, ts time.Time) {
	r.mu.Lock()
	e, ok := r.byStreamID[streamID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if seq <= e.lastSequence {
		r.mu.Unlock()
		return
	}
	e.lastSequence = seq
	e.cache.push(&wire.StreamData{StreamID: streamID, Sequence: seq, Payload: payload, Timestamp: ts})

	if !e.attached {
		e.holding = append(e.holding, payload)
		r.mu.Unlock()
		return
	}
	consumer := e.consumer
	r.mu.Unlock()
	consumer.Deliver(payload)
}

// OnEnd terminates and removes streamID's entry normally.
func (r *ClientRegistry) OnEnd(streamID wire.StreamID, reason wire.StreamEndReason) {
	e := r.remove(streamID)
	if e != nil && e.consumer != nil {
		e.consumer.End(reason)
	}
}

// OnError terminates and removes streamID's entry with an error.
func (r *ClientRegistry) OnError(streamID wire.StreamID, message string) {
	e := r.remove(streamID)
	if e != nil && e.consumer != nil {
		e.consumer.Error(message)
	}
}

func (r *ClientRegistry) remove(streamID wire.StreamID) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byStreamID[streamID]
	if !ok {
		return nil
	}
	delete(r.byStreamID, streamID)
	return e
}

// LastSequence reports the highest sequence number delivered for streamID,
// used to build StreamResume requests after reconnect.
func (r *ClientRegistry) LastSequence(streamID wire.StreamID) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byStreamID[streamID]
	if !ok {
		return 0, false
	}
	return e.lastSequence, true
}

// ReapExpired terminates and removes every provisional (never rekeyed)
// entry older than grace, failing its consumer with connection-closed: a
// provisional entry whose canonical rebind never arrives must not linger.
func (r *ClientRegistry) ReapExpired(grace time.Duration, now time.Time) int {
	r.mu.Lock()
	var stale []*entry
	for id, e := range r.byStreamID {
		if !e.rekeyed && now.Sub(e.createdAt) > grace {
			delete(r.byStreamID, id)
			delete(r.byCallID, e.callID)
			stale = append(stale, e)
		}
	}
	r.mu.Unlock()

	for _, e := range stale {
		if e.consumer != nil {
			e.consumer.Error("connection-closed")
		}
	}
	return len(stale)
}

// EndAll terminates every live entry with connection-closed, used when the
// underlying transport connection drops.
func (r *ClientRegistry) EndAll() {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.byStreamID))
	for _, e := range r.byStreamID {
		entries = append(entries, e)
	}
	r.byStreamID = make(map[wire.StreamID]*entry)
	r.byCallID = make(map[wire.CallID]wire.StreamID)
	r.mu.Unlock()

	for _, e := range entries {
		if e.consumer != nil {
			e.consumer.End(wire.ReasonConnectionClosed)
		}
	}
}
