package registry

import (
	"sync"

	"github.com/webitel/actorbridge/wire"
)

// turnLocks serializes invocations per actor: each actor is a serial
// domain, so two invocations on the same ID never overlap while distinct
// actors run concurrently. Lock values are never evicted; the set of hosted
// actor IDs is small and stable compared to invocation volume.
type turnLocks struct {
	m sync.Map // actorID.String() -> *sync.Mutex
}

func (t *turnLocks) lock(id wire.ActorID) func() {
	v, _ := t.m.LoadOrStore(id.String(), &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
