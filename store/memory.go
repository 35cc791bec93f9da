package store

import (
	"context"
	"sync"
	"time"

	"github.com/webitel/actorbridge/errs"
	"github.com/webitel/actorbridge/wire"
)

// Memory is the in-memory reference Store, keyed by actor ID the same way
// the registry keys its actor directory: a sync.Map for lock-free reads,
// guarded per-key by the entry's own mutex for the compare-and-swap path.
type Memory struct {
	records sync.Map // wire.ActorID -> *memoryEntry
}

type memoryEntry struct {
	mu  sync.Mutex
	rec Record
}

func NewMemory() *Memory { return &Memory{} }

var _ Store = (*Memory)(nil)

func (m *Memory) entry(actorID wire.ActorID) *memoryEntry {
	val, _ := m.records.LoadOrStore(actorID, &memoryEntry{})
	return val.(*memoryEntry)
}

func (m *Memory) Load(ctx context.Context, actorID wire.ActorID) (Record, bool, error) {
	val, ok := m.records.Load(actorID)
	if !ok {
		return Record{}, false, nil
	}
	e := val.(*memoryEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec.Version == 0 {
		return Record{}, false, nil
	}
	return e.rec, true, nil
}

func (m *Memory) Save(ctx context.Context, actorID wire.ActorID, state []byte) (uint64, error) {
	e := m.entry(actorID)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	if e.rec.Version == 0 {
		e.rec.CreatedAt = now
	}
	e.rec.ActorID = actorID
	e.rec.State = append([]byte(nil), state...)
	e.rec.Version++
	e.rec.UpdatedAt = now
	return e.rec.Version, nil
}

func (m *Memory) SaveIfVersion(ctx context.Context, actorID wire.ActorID, state []byte, expectedVersion uint64) (uint64, error) {
	e := m.entry(actorID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rec.Version != expectedVersion {
		return 0, errs.VersionConflict(expectedVersion, e.rec.Version)
	}

	now := time.Now()
	if e.rec.Version == 0 {
		e.rec.CreatedAt = now
	}
	e.rec.ActorID = actorID
	e.rec.State = append([]byte(nil), state...)
	e.rec.Version++
	e.rec.UpdatedAt = now
	return e.rec.Version, nil
}

func (m *Memory) GetVersion(ctx context.Context, actorID wire.ActorID) (uint64, bool, error) {
	val, ok := m.records.Load(actorID)
	if !ok {
		return 0, false, nil
	}
	e := val.(*memoryEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec.Version == 0 {
		return 0, false, nil
	}
	return e.rec.Version, true, nil
}
