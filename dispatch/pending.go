// Package dispatch implements the invocation dispatcher: a pending-call
// correlation table, local/remote call routing, and a middleware chain
// invocations pass through between being decoded off the wire and reaching
// the target actor's handler.
package dispatch

import (
	"context"
	"sync"

	"github.com/webitel/actorbridge/errs"
	"github.com/webitel/actorbridge/wire"
)

// pendingCalls correlates outbound CallIDs with the single-use waiter
// expecting their Response, the same shape as a json-rpc client's
// requestOp table: one channel per in-flight call, delivered to exactly
// once and then removed.
type pendingCalls struct {
	mu      sync.Mutex
	waiters map[wire.CallID]chan *wire.Response
}

func newPendingCalls() *pendingCalls {
	return &pendingCalls{waiters: make(map[wire.CallID]chan *wire.Response)}
}

// register installs a waiter for callID and returns a function to remove it
// again (called on timeout/cancellation so a late Response doesn't leak).
func (p *pendingCalls) register(callID wire.CallID) (wait chan *wire.Response, forget func()) {
	ch := make(chan *wire.Response, 1)
	p.mu.Lock()
	p.waiters[callID] = ch
	p.mu.Unlock()
	return ch, func() {
		p.mu.Lock()
		delete(p.waiters, callID)
		p.mu.Unlock()
	}
}

// deliver routes an inbound Response to its waiter, if any is still
// registered. Returns false if the call already timed out / was cancelled,
// in which case the response is simply dropped.
func (p *pendingCalls) deliver(resp *wire.Response) bool {
	p.mu.Lock()
	ch, ok := p.waiters[resp.CallID]
	if ok {
		delete(p.waiters, resp.CallID)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- resp
	return true
}

// wait blocks until resp arrives (cancelAll's reply included, when the
// connection drops) or ctx is cancelled.
func (p *pendingCalls) wait(ctx context.Context, callID wire.CallID) (*wire.Response, error) {
	ch, forget := p.register(callID)
	select {
	case <-ctx.Done():
		forget()
		return nil, errs.Cancelled()
	case resp := <-ch:
		return resp, nil
	}
}

// cancelAll fails every outstanding waiter, used when a connection to the
// owning peer is lost: in-flight calls on a dead connection fail with
// connection-closed rather than hanging forever.
func (p *pendingCalls) cancelAll(err *errs.Error) {
	p.mu.Lock()
	waiters := p.waiters
	p.waiters = make(map[wire.CallID]chan *wire.Response)
	p.mu.Unlock()

	for _, ch := range waiters {
		ch <- &wire.Response{Error: err.Error()}
	}
}

func (p *pendingCalls) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}
