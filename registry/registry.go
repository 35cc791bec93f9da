package registry

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/webitel/actorbridge/errs"
	"github.com/webitel/actorbridge/wire"
)

func errUnsupportedStream(method string) error {
	return fmt.Errorf("actorbridge: actor does not implement a streaming method %q", method)
}

// MaterializeFunc is the on-demand materialization hook, called when an
// incoming invocation's target isn't registered yet. Nil means the
// registry never materializes actors on demand.
type MaterializeFunc func(ctx context.Context, actorID wire.ActorID) (Actor, error)

// Registry is the concurrent actor directory. Reads heavily outnumber
// writes, so lookups never take a lock; the materialization path collapses
// concurrent requests for the same not-yet-registered actor ID into a
// single call via singleflight.
type Registry struct {
	actors      actorMap
	materialize MaterializeFunc
	inflight    singleflight.Group
	turns       turnLocks
}

// New builds a Registry. materialize may be nil (no on-demand creation;
// unresolved targets always fail actor-not-found).
func New(materialize MaterializeFunc) *Registry {
	return &Registry{materialize: materialize}
}

// Register installs (or replaces) the handle for actorID.
func (r *Registry) Register(actorID wire.ActorID, a Actor) {
	r.actors.store(actorID, a)
}

// Unregister removes actorID's handle, if any.
func (r *Registry) Unregister(actorID wire.ActorID) {
	r.actors.delete(actorID)
}

// LookupAny returns the handle registered for actorID without invoking
// on-demand materialization.
func (r *Registry) LookupAny(actorID wire.ActorID) (Actor, bool) {
	return r.actors.load(actorID)
}

// LookupTyped returns the handle registered for actorID if it is a T,
// giving callers back their concrete actor type instead of the Actor
// interface. A generic function rather than a method since Go methods
// cannot introduce type parameters.
func LookupTyped[T Actor](r *Registry, actorID wire.ActorID) (T, bool) {
	a, ok := r.actors.load(actorID)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := a.(T)
	if !ok {
		var zero T
		return zero, false
	}
	return t, true
}

// Count reports how many actors are currently registered (used by Stats).
func (r *Registry) Count() int { return r.actors.count() }

// resolve looks up actorID, materializing it on demand if the registry was
// configured with a MaterializeFunc and the actor isn't registered yet.
func (r *Registry) resolve(ctx context.Context, actorID wire.ActorID) (Actor, error) {
	if a, ok := r.actors.load(actorID); ok {
		return a, nil
	}
	if r.materialize == nil {
		return nil, errs.ActorNotFound(actorID.String())
	}

	v, err, _ := r.inflight.Do(actorID.String(), func() (any, error) {
		// Re-check under the singleflight key: another goroutine may have
		// materialized and registered actorID while we waited to enter.
		if a, ok := r.actors.load(actorID); ok {
			return a, nil
		}
		a, err := r.materialize(ctx, actorID)
		if err != nil {
			return nil, err
		}
		r.actors.store(actorID, a)
		return a, nil
	})
	if err != nil {
		return nil, errs.ActorNotFound(actorID.String())
	}
	return v.(Actor), nil
}

// InvokeLocal implements dispatch.LocalInvoker: resolve actorID (materializing
// it on demand if configured) and execute method on it. Invocations on the
// same actor take its turn lock, so each actor executes one invocation at a
// time while distinct actors run concurrently.
func (r *Registry) InvokeLocal(ctx context.Context, actorID wire.ActorID, method string, args [][]byte) ([]byte, error) {
	a, err := r.resolve(ctx, actorID)
	if err != nil {
		return nil, err
	}
	unlock := r.turns.lock(actorID)
	defer unlock()
	return a.Invoke(ctx, method, args)
}

// OpenStream resolves actorID and opens method as a streaming subscription,
// the entry point the server-side stream engine calls on StreamStart.
func (r *Registry) OpenStream(ctx context.Context, actorID wire.ActorID, method string) (<-chan StreamItem, error) {
	a, err := r.resolve(ctx, actorID)
	if err != nil {
		return nil, err
	}
	return a.Stream(ctx, method)
}
