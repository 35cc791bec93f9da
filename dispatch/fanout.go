package dispatch

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/webitel/actorbridge/wire"
)

// Call names one invocation target for InvokeAll.
type Call struct {
	ActorID wire.ActorID
	Method  string
	Args    [][]byte
}

// InvokeAll runs calls concurrently and waits for all of them. The first
// failing call cancels the rest via the shared errgroup context.
func (d *Dispatcher) InvokeAll(ctx context.Context, calls []Call) ([]*wire.Response, error) {
	responses := make([]*wire.Response, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			inv := &wire.Invocation{
				CallID:  wire.NewCallID(),
				ActorID: call.ActorID,
				Method:  call.Method,
				Args:    call.Args,
			}
			resp, err := d.Invoke(gctx, inv)
			if err != nil {
				return err
			}
			responses[i] = resp
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return responses, nil
}
