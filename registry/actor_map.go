package registry

import (
	"sync"

	"github.com/webitel/actorbridge/wire"
)

// actorMap is a sync.Map keyed by wire.ActorID: lock-free reads for the
// lookup-heavy access pattern.
type actorMap struct {
	m sync.Map
}

func (a *actorMap) load(id wire.ActorID) (Actor, bool) {
	v, ok := a.m.Load(id)
	if !ok {
		return nil, false
	}
	return v.(Actor), true
}

func (a *actorMap) store(id wire.ActorID, actor Actor) { a.m.Store(id, actor) }

func (a *actorMap) delete(id wire.ActorID) { a.m.Delete(id) }

func (a *actorMap) count() int {
	n := 0
	a.m.Range(func(_, _ any) bool { n++; return true })
	return n
}
