package stream

import (
	"context"
	"sync"
	"time"

	"github.com/webitel/actorbridge/wire"
)

// Sender is the minimal transport capability a Publisher needs: writing one
// envelope to the subscriber's connection.
type Sender interface {
	Send(ctx context.Context, env wire.Envelope) error
}

// Publisher is the server side of one streaming subscription: it assigns
// monotonically increasing sequence numbers, applies the subscriber's
// filter, and keeps a bounded resume cache.
type Publisher struct {
	streamID wire.StreamID
	conn     Sender
	filter   Filter

	mu    sync.Mutex
	seq   uint64
	cache ring
	delta *DeltaManager
	ended bool
}

// NewPublisher starts a publisher for streamID, sending frames to conn and
// filtering each value through filter before emitting it.
func NewPublisher(streamID wire.StreamID, conn Sender, filter Filter) *Publisher {
	if filter == nil {
		filter = allFilter{}
	}
	return &Publisher{streamID: streamID, conn: conn, filter: filter}
}

// NewResumedPublisher starts a publisher whose sequence counter continues
// from lastSequence instead of zero. Used when a StreamResume arrives after
// the original publisher died with its connection: the restarted
// subscription keeps numbering past the client's checkpoint so the client's
// seq > lastSequence rule admits the new frames.
func NewResumedPublisher(streamID wire.StreamID, conn Sender, filter Filter, lastSequence uint64) *Publisher {
	p := NewPublisher(streamID, conn, filter)
	p.seq = lastSequence
	return p
}

// UseDelta opts the stream into delta encoding: each accepted value is
// wrapped as a delta-or-full frame before transmission. Must be called
// before the first Publish.
func (p *Publisher) UseDelta(codec DeltaCodec) {
	p.mu.Lock()
	p.delta = NewDeltaManager(codec)
	p.mu.Unlock()
}

// Publish offers one value to the stream. It is dropped silently if the
// filter rejects it or the stream has already ended. The filter always
// sees the raw value; delta wrapping happens after acceptance.
func (p *Publisher) Publish(ctx context.Context, value []byte) error {
	p.mu.Lock()
	if p.ended {
		p.mu.Unlock()
		return nil
	}
	if !p.filter.Accept(value) {
		p.mu.Unlock()
		return nil
	}
	payload := value
	if p.delta != nil {
		var err error
		payload, err = p.delta.Encode(value)
		if err != nil {
			p.mu.Unlock()
			return err
		}
	}
	p.seq++
	frame := &wire.StreamData{
		StreamID:  p.streamID,
		Sequence:  p.seq,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	p.cache.push(frame)
	p.mu.Unlock()

	return p.conn.Send(ctx, wire.WrapStreamData(frame))
}

// ResumeFrom replays cached frames newer than lastSequence. If the client's
// checkpoint predates what the resume cache still holds, the stream ends
// with an error instead of silently skipping missed data.
func (p *Publisher) ResumeFrom(ctx context.Context, lastSequence uint64) error {
	p.mu.Lock()
	frames, gap := p.cache.since(lastSequence)
	p.mu.Unlock()

	if gap {
		return p.Error(ctx, "resume point is older than the retained history")
	}
	for _, f := range frames {
		if err := p.conn.Send(ctx, wire.WrapStreamData(f)); err != nil {
			return err
		}
	}
	return nil
}

// End terminates the stream normally.
func (p *Publisher) End(ctx context.Context, reason wire.StreamEndReason) error {
	p.mu.Lock()
	if p.ended {
		p.mu.Unlock()
		return nil
	}
	p.ended = true
	p.mu.Unlock()
	return p.conn.Send(ctx, wire.WrapStreamEnd(&wire.StreamEnd{StreamID: p.streamID, Reason: reason}))
}

// Error terminates the stream with an error.
func (p *Publisher) Error(ctx context.Context, message string) error {
	p.mu.Lock()
	if p.ended {
		p.mu.Unlock()
		return nil
	}
	p.ended = true
	p.mu.Unlock()
	return p.conn.Send(ctx, wire.WrapStreamError(&wire.StreamError{StreamID: p.streamID, Message: message}))
}

func (p *Publisher) Ended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ended
}
