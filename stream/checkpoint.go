package stream

import (
	"sync"
	"time"

	"github.com/webitel/actorbridge/wire"
)

// DefaultCheckpointMaxAge bounds checkpoint age: older checkpoints are
// dropped instead of replayed on reconnect.
const DefaultCheckpointMaxAge = 300 * time.Second

// Checkpoint is the client-side record of how far a stream got, enough to
// rebuild a StreamResume request after reconnecting.
type Checkpoint struct {
	StreamID     wire.StreamID
	LastSequence uint64
	ActorID      wire.ActorID
	Method       string
	CreatedAt    time.Time
}

func (c Checkpoint) expired(maxAge time.Duration, now time.Time) bool {
	return now.Sub(c.CreatedAt) > maxAge
}

// CheckpointStore is the shared, mutation-atomic table of per-stream
// checkpoints the client connection manager replays after a successful
// reconnect. Mutations must be atomic across concurrent reconnect attempts
//.
type CheckpointStore struct {
	maxAge time.Duration

	mu      sync.Mutex
	entries map[wire.StreamID]Checkpoint
}

func NewCheckpointStore(maxAge time.Duration) *CheckpointStore {
	if maxAge <= 0 {
		maxAge = DefaultCheckpointMaxAge
	}
	return &CheckpointStore{maxAge: maxAge, entries: make(map[wire.StreamID]Checkpoint)}
}

// Put records (or updates) the checkpoint for a stream, timestamped now.
func (s *CheckpointStore) Put(streamID wire.StreamID, lastSequence uint64, actorID wire.ActorID, method string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[streamID] = Checkpoint{
		StreamID:     streamID,
		LastSequence: lastSequence,
		ActorID:      actorID,
		Method:       method,
		CreatedAt:    now,
	}
}

// Clear drops a stream's checkpoint, e.g. on StreamEnd/StreamError.
func (s *CheckpointStore) Clear(streamID wire.StreamID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, streamID)
}

// NonExpired returns every checkpoint that hasn't aged out as of now, used
// to build the StreamResume batch sent right after a reconnect.
func (s *CheckpointStore) NonExpired(now time.Time) []Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Checkpoint, 0, len(s.entries))
	for id, cp := range s.entries {
		if cp.expired(s.maxAge, now) {
			delete(s.entries, id)
			continue
		}
		out = append(out, cp)
	}
	return out
}

// Sweep removes every expired checkpoint without returning them, the
// periodic half of the janitor the cron-backed housekeeping job drives.
func (s *CheckpointStore) Sweep(now time.Time) (evicted int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cp := range s.entries {
		if cp.expired(s.maxAge, now) {
			delete(s.entries, id)
			evicted++
		}
	}
	return evicted
}

// Get reports whether a non-expired checkpoint exists for streamID.
func (s *CheckpointStore) Get(streamID wire.StreamID, now time.Time) (Checkpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.entries[streamID]
	if !ok || cp.expired(s.maxAge, now) {
		return Checkpoint{}, false
	}
	return cp, true
}
