package clientconn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/webitel/actorbridge/stream"
	"github.com/webitel/actorbridge/transport"
	"github.com/webitel/actorbridge/wire"
)

type fakeConn struct {
	mu   sync.Mutex
	sent []wire.Envelope
}

func (c *fakeConn) Send(ctx context.Context, env wire.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, env)
	return nil
}
func (c *fakeConn) Recv(ctx context.Context) (wire.Envelope, error) {
	return wire.Envelope{}, errors.New("not implemented")
}
func (c *fakeConn) Close() error        { return nil }
func (c *fakeConn) RemoteAddr() string { return "fake" }

func (c *fakeConn) sentEnvelopes() []wire.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]wire.Envelope(nil), c.sent...)
}

type scriptedDialer struct {
	mu      sync.Mutex
	results []error
	calls   int
	conn    *fakeConn
}

func (d *scriptedDialer) Dial(ctx context.Context, host string, port int) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := d.calls
	d.calls++
	if idx < len(d.results) && d.results[idx] != nil {
		return nil, d.results[idx]
	}
	return d.conn, nil
}

func noSleep(time.Duration) {}

func TestDialSucceedsFirstAttempt(t *testing.T) {
	d := &scriptedDialer{conn: &fakeConn{}}
	m := NewManager(d, "localhost", 9000, DefaultBackoffPolicy(), nil, nil)
	m.sleep = noSleep

	conn, err := m.Dial(context.Background())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if conn == nil {
		t.Fatal("expected a connection")
	}
	if m.State() != StateConnected {
		t.Errorf("state = %s, want connected", m.State())
	}
}

func TestDialRetriesWithBackoffThenSucceeds(t *testing.T) {
	d := &scriptedDialer{
		results: []error{errors.New("refused"), errors.New("refused")},
		conn:    &fakeConn{},
	}
	var delays []time.Duration
	m := NewManager(d, "localhost", 9000, BackoffPolicy{Enabled: true, Initial: time.Millisecond, Max: time.Second, Multiplier: 2}, nil, nil)
	m.sleep = func(dur time.Duration) { delays = append(delays, dur) }

	var reconnectAttempts []int
	m.AddObserver(ObserverFuncs{
		OnReconnect: func(attempt int, delay time.Duration) { reconnectAttempts = append(reconnectAttempts, attempt) },
	})

	conn, err := m.Dial(context.Background())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if conn == nil {
		t.Fatal("expected eventual connection")
	}
	if len(delays) != 2 {
		t.Fatalf("expected 2 backoff sleeps, got %d", len(delays))
	}
	if len(reconnectAttempts) != 2 || reconnectAttempts[0] != 1 || reconnectAttempts[1] != 2 {
		t.Errorf("unexpected reconnect attempts observed: %v", reconnectAttempts)
	}
}

func TestDialFailsImmediatelyWhenPolicyDisabled(t *testing.T) {
	d := &scriptedDialer{results: []error{errors.New("refused")}, conn: &fakeConn{}}
	m := NewManager(d, "localhost", 9000, BackoffPolicy{Enabled: false}, nil, nil)
	m.sleep = noSleep

	_, err := m.Dial(context.Background())
	if err == nil {
		t.Fatal("expected failure with reconnection disabled")
	}
	if m.State() != StateFailed {
		t.Errorf("state = %s, want failed", m.State())
	}
}

func TestDialFailsAfterMaxAttempts(t *testing.T) {
	d := &scriptedDialer{results: []error{
		errors.New("1"), errors.New("2"), errors.New("3"),
	}, conn: &fakeConn{}}
	m := NewManager(d, "localhost", 9000, BackoffPolicy{Enabled: true, Initial: time.Millisecond, Max: time.Millisecond, Multiplier: 2, MaxAttempts: 3}, nil, nil)
	m.sleep = noSleep

	_, err := m.Dial(context.Background())
	if err == nil {
		t.Fatal("expected failure after exhausting max attempts")
	}
	if m.State() != StateFailed {
		t.Errorf("state = %s, want failed", m.State())
	}
}

// After a reconnect, the manager emits StreamResume for every non-expired
// checkpoint.
func TestReconnectReplaysCheckpoints(t *testing.T) {
	conn := &fakeConn{}
	d := &scriptedDialer{results: []error{errors.New("closed")}, conn: conn}
	store := stream.NewCheckpointStore(time.Minute)
	actorID := wire.Local("counter-1")
	streamID := wire.NewStreamID()
	store.Put(streamID, 10, actorID, "tick", time.Now())

	m := NewManager(d, "localhost", 9000, BackoffPolicy{Enabled: true, Initial: time.Millisecond, Max: time.Millisecond, Multiplier: 2}, store, nil)
	m.sleep = noSleep

	_, err := m.Dial(context.Background())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	sent := conn.sentEnvelopes()
	if len(sent) != 1 {
		t.Fatalf("expected 1 replayed checkpoint, got %d", len(sent))
	}
	if sent[0].Type != wire.TypeStreamResume {
		t.Errorf("unexpected envelope type %s", sent[0].Type)
	}
	if sent[0].StreamResume.LastSequence != 10 {
		t.Errorf("lastSequence = %d, want 10", sent[0].StreamResume.LastSequence)
	}
	if !sent[0].StreamResume.ActorID.Equal(actorID) {
		t.Errorf("actorID = %v, want %v", sent[0].StreamResume.ActorID, actorID)
	}
}

func TestFirstConnectDoesNotReplayCheckpoints(t *testing.T) {
	conn := &fakeConn{}
	d := &scriptedDialer{conn: conn}
	store := stream.NewCheckpointStore(time.Minute)
	store.Put(wire.NewStreamID(), 5, wire.Local("a"), "m", time.Now())

	m := NewManager(d, "localhost", 9000, DefaultBackoffPolicy(), store, nil)
	m.sleep = noSleep

	if _, err := m.Dial(context.Background()); err != nil {
		t.Fatalf("dial: %v", err)
	}
	if len(conn.sentEnvelopes()) != 0 {
		t.Error("first-time connect must not replay checkpoints")
	}
}

func TestOnDisconnectTransitionsToReconnecting(t *testing.T) {
	d := &scriptedDialer{conn: &fakeConn{}}
	m := NewManager(d, "localhost", 9000, DefaultBackoffPolicy(), nil, nil)
	m.sleep = noSleep

	if _, err := m.Dial(context.Background()); err != nil {
		t.Fatalf("dial: %v", err)
	}

	var disconnected bool
	m.AddObserver(ObserverFuncs{OnDisconnected: func() { disconnected = true }})

	m.OnDisconnect()

	if m.State() != StateReconnecting {
		t.Errorf("state = %s, want reconnecting", m.State())
	}
	if _, ok := m.Conn(); ok {
		t.Error("Conn() should report false once disconnected")
	}
	if !disconnected {
		t.Error("DidDisconnect observer was not invoked")
	}
}

func TestDialContextCancelledDuringBackoff(t *testing.T) {
	d := &scriptedDialer{results: []error{errors.New("refused")}, conn: &fakeConn{}}
	m := NewManager(d, "localhost", 9000, BackoffPolicy{Enabled: true, Initial: time.Hour, Max: time.Hour, Multiplier: 2}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Dial(ctx)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	d := &scriptedDialer{results: []error{
		errors.New("1"), errors.New("2"), errors.New("3"), errors.New("4"), errors.New("5"),
	}, conn: &fakeConn{}}
	m := NewManager(d, "localhost", 9000, BackoffPolicy{Enabled: true, Initial: time.Millisecond, Max: time.Millisecond, Multiplier: 2, MaxAttempts: 5}, nil, nil)
	m.sleep = noSleep

	_, err := m.Dial(context.Background())
	if err == nil {
		t.Fatal("expected failure after exhausting max attempts")
	}
	// The 5th consecutive failure should have tripped gobreaker; a further
	// attempt fails fast via the breaker rather than reaching the dialer.
	callsBefore := d.calls
	_, breakerErr := m.breaker.Execute(func() (any, error) {
		return d.Dial(context.Background(), "localhost", 9000)
	})
	if breakerErr == nil {
		t.Error("expected the breaker to be open after 5 consecutive failures")
	}
	if d.calls != callsBefore {
		t.Error("breaker should short-circuit without calling the dialer")
	}
}
