// Package store defines the state store contract: the interface every
// backing store must satisfy, and the retry-with-rebase update loop built
// on top of it. The core never implements a production backend itself
//; Memory below is the
// reference in-memory implementation the rest of the module tests against.
package store

import (
	"context"
	"time"

	"github.com/webitel/actorbridge/errs"
	"github.com/webitel/actorbridge/wire"
)

// Record is one actor's persisted state plus its optimistic-concurrency
// bookkeeping.
type Record struct {
	ActorID   wire.ActorID
	State     []byte
	Version   uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is the contract every backing store implements. State bytes are
// opaque to the core.
type Store interface {
	// Load returns the latest record for actorID, or ok=false if none
	// exists yet.
	Load(ctx context.Context, actorID wire.ActorID) (rec Record, ok bool, err error)

	// Save writes state unconditionally, incrementing the version.
	Save(ctx context.Context, actorID wire.ActorID, state []byte) (version uint64, err error)

	// SaveIfVersion writes state only if the stored version equals
	// expectedVersion; otherwise it fails with errs.KindVersionConflict.
	SaveIfVersion(ctx context.Context, actorID wire.ActorID, state []byte, expectedVersion uint64) (version uint64, err error)

	// GetVersion returns the current version, or ok=false if absent.
	GetVersion(ctx context.Context, actorID wire.ActorID) (version uint64, ok bool, err error)
}

// retryBackoff is the 200ms * 2^(attempt-1) schedule:
// 200, 400, 800ms for attempts 1, 2, 3.
func retryBackoff(attempt int) time.Duration {
	return 200 * time.Millisecond * time.Duration(1<<uint(attempt-1))
}

// Transform computes the next state from the current one. It must be a
// pure function: the update loop may invoke it more than once per call if
// it loses the compare-and-swap race.
type Transform func(current []byte) ([]byte, error)

// DefaultMaxRetries is Update's default retry budget.
const DefaultMaxRetries = 3

// Update runs the optimistic update loop: load, transform,
// compare-and-swap save; on a version conflict, back off and rebase from
// the version that won the race, up to maxRetries attempts.
func Update(ctx context.Context, s Store, actorID wire.ActorID, transform Transform, maxRetries int) ([]byte, uint64, error) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	for attempt := 1; attempt <= maxRetries; attempt++ {
		rec, ok, err := s.Load(ctx, actorID)
		if err != nil {
			return nil, 0, err
		}
		current, expected := []byte(nil), uint64(0)
		if ok {
			current, expected = rec.State, rec.Version
		}

		next, err := transform(current)
		if err != nil {
			return nil, 0, err
		}

		newVersion, err := s.SaveIfVersion(ctx, actorID, next, expected)
		if err == nil {
			return next, newVersion, nil
		}

		conflict, isConflict := err.(*errs.Error)
		if !isConflict || conflict.Kind != errs.KindVersionConflict {
			return nil, 0, err
		}

		if attempt == maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return nil, 0, errs.Cancelled()
		case <-time.After(retryBackoff(attempt)):
		}
	}

	return nil, 0, errs.MaxRetriesExceeded(maxRetries)
}
