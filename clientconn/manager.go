// Package clientconn implements the client connection manager: a
// single logical connection, its reconnection state machine with capped
// exponential backoff, and checkpoint replay after a successful reconnect.
//
// Dial attempts run through a github.com/sony/gobreaker circuit breaker:
// repeated connection-failed outcomes open the breaker so Dial fails fast
// instead of hammering a dead server, cooperating with (not replacing) the
// backoff policy.
package clientconn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/webitel/actorbridge/errs"
	"github.com/webitel/actorbridge/stream"
	"github.com/webitel/actorbridge/transport"
	"github.com/webitel/actorbridge/wire"
)

// Manager owns one logical connection: dialing, the reconnect state machine,
// and checkpoint replay. It does not own a read pump; the owner (client
// package) drives Recv on the Conn it returns and calls OnDisconnect when
// Recv reports the connection is gone.
type Manager struct {
	dialer transport.Dialer
	host   string
	port   int
	policy BackoffPolicy

	breaker     *gobreaker.CircuitBreaker
	checkpoints *stream.CheckpointStore
	logger      *slog.Logger

	sleep func(time.Duration)

	mu    sync.Mutex
	state State
	conn  transport.Conn

	obsMu     sync.Mutex
	observers []Observer
}

// NewManager builds a Manager. logger may be nil (defaults to slog.Default()).
func NewManager(dialer transport.Dialer, host string, port int, policy BackoffPolicy, checkpoints *stream.CheckpointStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	name := fmt.Sprintf("clientconn:%s:%d", host, port)
	return &Manager{
		dialer:      dialer,
		host:        host,
		port:        port,
		policy:      policy,
		checkpoints: checkpoints,
		logger:      logger.With(slog.String("target", name)),
		sleep:       time.Sleep,
		state:       StateDisconnected,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: policy.Max,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// AddObserver registers o to receive future lifecycle events.
func (m *Manager) AddObserver(o Observer) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.observers = append(m.observers, o)
}

// State reports the manager's current state machine position.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Conn returns the active connection, if currently connected.
func (m *Manager) Conn() (transport.Conn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected || m.conn == nil {
		return nil, false
	}
	return m.conn, true
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) forEachObserver(fn func(Observer)) {
	m.obsMu.Lock()
	obs := append([]Observer(nil), m.observers...)
	m.obsMu.Unlock()
	for _, o := range obs {
		fn(o)
	}
}

// OnDisconnect transitions a connected manager to reconnecting(1) after the
// owner observes the transport close. The owner must call Dial again to
// resume.
func (m *Manager) OnDisconnect() {
	m.mu.Lock()
	m.conn = nil
	m.state = StateReconnecting
	m.mu.Unlock()

	m.logger.Warn("CLIENTCONN_DISCONNECTED")
	m.forEachObserver(func(o Observer) { o.DidDisconnect() })
}

// Dial runs the full connect/reconnect state machine to completion: it
// returns a connected Conn on success, or an error once the policy gives up
// (policy disabled, max attempts exhausted, or ctx cancelled).
//
// On a reconnect success (attempt > 0), Dial replays every non-expired
// stream checkpoint as a StreamResume envelope before returning.
func (m *Manager) Dial(ctx context.Context) (transport.Conn, error) {
	// A Dial entered after OnDisconnect is a reconnect even on its first
	// attempt: checkpoints must replay on the very next successful connect.
	wasDisconnected := m.State() == StateReconnecting

	attempt := 0
	for {
		m.setState(StateConnecting)

		result, err := m.breaker.Execute(func() (any, error) {
			return m.dialer.Dial(ctx, m.host, m.port)
		})
		if err == nil {
			conn := result.(transport.Conn)
			wasReconnect := attempt > 0 || wasDisconnected

			m.mu.Lock()
			m.conn = conn
			m.state = StateConnected
			m.mu.Unlock()

			m.logger.Info("CLIENTCONN_CONNECTED", slog.Bool("reconnect", wasReconnect))
			m.forEachObserver(func(o Observer) { o.DidConnect() })

			if wasReconnect {
				m.replayCheckpoints(ctx, conn)
			}
			return conn, nil
		}

		attempt++
		m.logger.Warn("CLIENTCONN_DIAL_FAILED", slog.Int("attempt", attempt), slog.Any("err", err))
		m.forEachObserver(func(o Observer) { o.DidFailWithError(err) })

		if attempt == 1 && !m.policy.Enabled {
			m.setState(StateFailed)
			return nil, fmt.Errorf("clientconn: connect to %s:%d failed: %w", m.host, m.port, err)
		}
		if m.policy.MaxAttempts > 0 && attempt >= m.policy.MaxAttempts {
			m.setState(StateFailed)
			return nil, fmt.Errorf("clientconn: connect to %s:%d failed after %d attempts: %w", m.host, m.port, attempt, err)
		}

		delay := m.policy.Delay(attempt)
		m.setState(StateReconnecting)
		m.logger.Info("CLIENTCONN_RECONNECTING", slog.Int("attempt", attempt), slog.Duration("delay", delay))
		m.forEachObserver(func(o Observer) { o.WillReconnect(attempt, delay) })

		select {
		case <-ctx.Done():
			m.setState(StateFailed)
			return nil, errs.Cancelled()
		default:
		}
		if delay > 0 {
			m.sleep(delay)
		}
	}
}

func (m *Manager) replayCheckpoints(ctx context.Context, conn transport.Conn) {
	if m.checkpoints == nil {
		return
	}
	for _, cp := range m.checkpoints.NonExpired(timeNow()) {
		env := wire.WrapStreamResume(&wire.StreamResume{
			StreamID:     cp.StreamID,
			LastSequence: cp.LastSequence,
			ActorID:      cp.ActorID,
			Method:       cp.Method,
		})
		if err := conn.Send(ctx, env); err != nil {
			m.logger.Error("CHECKPOINT_REPLAY_FAILED",
				slog.String("streamId", cp.StreamID.String()),
				slog.Any("err", err))
			continue
		}
		m.logger.Info("CHECKPOINT_REPLAYED",
			slog.String("streamId", cp.StreamID.String()),
			slog.Uint64("lastSequence", cp.LastSequence))
	}
}

// timeNow is a var, not a call to time.Now directly, purely so tests can
// observe replayCheckpoints without depending on wall-clock checkpoint ages.
var timeNow = time.Now
