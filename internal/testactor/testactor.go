// Package testactor holds the small actors the integration tests and the
// dial smoke-test command exercise the runtime with: a unary echo and a
// stateful counter with a streaming ticks method.
package testactor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/webitel/actorbridge/registry"
	"github.com/webitel/actorbridge/store"
	"github.com/webitel/actorbridge/wire"
)

// NewEcho returns the canonical echo actor: echo(s) -> "Echo: " + s.
func NewEcho() registry.Actor {
	return registry.NewUnaryActor(func(ctx context.Context, method string, args [][]byte) ([]byte, error) {
		if method != "echo" {
			return nil, fmt.Errorf("unknown method %q", method)
		}
		if len(args) != 1 {
			return nil, fmt.Errorf("echo takes exactly one argument")
		}
		return append([]byte("Echo: "), args[0]...), nil
	})
}

// CounterState is the counter actor's persisted shape.
type CounterState struct {
	Count int64 `json:"count"`
}

// Counter is a stateful actor: increment goes through the optimistic
// update loop, get reads the latest record, and ticks streams one value
// per interval until the subscriber goes away.
type Counter struct {
	ID           wire.ActorID
	Store        store.Store
	TickInterval time.Duration
}

var _ registry.Actor = (*Counter)(nil)

func (c *Counter) Invoke(ctx context.Context, method string, args [][]byte) ([]byte, error) {
	switch method {
	case "increment":
		next, _, err := store.Update(ctx, c.Store, c.ID, func(current []byte) ([]byte, error) {
			var s CounterState
			if len(current) > 0 {
				if err := json.Unmarshal(current, &s); err != nil {
					return nil, err
				}
			}
			s.Count++
			return json.Marshal(s)
		}, store.DefaultMaxRetries)
		return next, err

	case "get":
		rec, ok, err := c.Store.Load(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return json.Marshal(CounterState{})
		}
		return rec.State, nil

	default:
		return nil, fmt.Errorf("unknown method %q", method)
	}
}

func (c *Counter) Stream(ctx context.Context, method string) (<-chan registry.StreamItem, error) {
	if method != "ticks" {
		return nil, fmt.Errorf("unknown streaming method %q", method)
	}

	interval := c.TickInterval
	if interval <= 0 {
		interval = time.Second
	}

	out := make(chan registry.StreamItem)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				state, err := c.Invoke(ctx, "get", nil)
				if err != nil {
					select {
					case out <- registry.StreamItem{Err: err}:
					case <-ctx.Done():
					}
					return
				}
				select {
				case out <- registry.StreamItem{Payload: state}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
