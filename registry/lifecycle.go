package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/webitel/actorbridge/errs"
)

// Health is the tri-state value the server's health endpoint reports.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthDraining  Health = "draining"
	HealthUnhealthy Health = "unhealthy"
)

// Lifecycle owns the server's in-flight invocation counter and graceful
// drain sequencing. It is independent of the actor directory so
// a server that never hosts local actors (a pure relay) can still drain.
type Lifecycle struct {
	inflight  atomic.Int64
	draining  atomic.Bool
	unhealthy atomic.Bool

	drained   chan struct{}
	closeOnce sync.Once
}

func NewLifecycle() *Lifecycle {
	return &Lifecycle{drained: make(chan struct{})}
}

// BeginInvocation increments the in-flight counter and returns the function
// to call when the invocation completes. ok is false once draining has
// started: the server should reject new work rather than let it race the
// drain's zero-crossing.
func (l *Lifecycle) BeginInvocation() (end func(), ok bool) {
	if l.draining.Load() {
		return func() {}, false
	}
	l.inflight.Add(1)
	return func() {
		if l.inflight.Add(-1) == 0 && l.draining.Load() {
			l.closeOnce.Do(func() { close(l.drained) })
		}
	}, true
}

// InFlight reports the current in-flight invocation count.
func (l *Lifecycle) InFlight() int64 { return l.inflight.Load() }

// MarkUnhealthy flips the health endpoint to "unhealthy" regardless of
// drain state, for readiness probes driven by something external to the
// invocation path (e.g. a failed dependency check).
func (l *Lifecycle) MarkUnhealthy() { l.unhealthy.Store(true) }

// Health reports the server's current health state.
func (l *Lifecycle) Health() Health {
	switch {
	case l.unhealthy.Load():
		return HealthUnhealthy
	case l.draining.Load():
		return HealthDraining
	default:
		return HealthHealthy
	}
}

// Shutdown drains the server: mark draining (health
// flips immediately), stop accepting new invocations, and wait for the
// in-flight counter to reach zero or timeout to elapse. stopAccepting is
// called synchronously before waiting so the caller closes its listener in
// the same step that flips the health state.
func (l *Lifecycle) Shutdown(ctx context.Context, timeout time.Duration, stopAccepting func()) error {
	l.draining.Store(true)
	if stopAccepting != nil {
		stopAccepting()
	}
	if l.inflight.Load() == 0 {
		l.closeOnce.Do(func() { close(l.drained) })
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-l.drained:
		return nil
	case <-timer.C:
		return errs.Timeout(timeout)
	case <-ctx.Done():
		return errs.Cancelled()
	}
}
