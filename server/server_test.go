package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/webitel/actorbridge/config"
	"github.com/webitel/actorbridge/registry"
	"github.com/webitel/actorbridge/store"
	"github.com/webitel/actorbridge/store/notify"
	"github.com/webitel/actorbridge/trace"
	"github.com/webitel/actorbridge/wire"
)

// fakeConn is an in-memory transport.Conn that records sent envelopes and
// feeds Recv from a channel.
type fakeConn struct {
	mu   sync.Mutex
	sent []wire.Envelope
	in   chan wire.Envelope
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan wire.Envelope, 16)}
}

func (c *fakeConn) Send(ctx context.Context, env wire.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, env)
	return nil
}

func (c *fakeConn) Recv(ctx context.Context) (wire.Envelope, error) {
	select {
	case <-ctx.Done():
		return wire.Envelope{}, ctx.Err()
	case env, ok := <-c.in:
		if !ok {
			return wire.Envelope{}, fmt.Errorf("connection closed")
		}
		return env, nil
	}
}

func (c *fakeConn) Close() error       { return nil }
func (c *fakeConn) RemoteAddr() string { return "fake:0" }

func (c *fakeConn) snapshot() []wire.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]wire.Envelope(nil), c.sent...)
}

func (c *fakeConn) waitFor(t *testing.T, pred func([]wire.Envelope) bool) []wire.Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		got := c.snapshot()
		if pred(got) {
			return got
		}
		select {
		case <-deadline:
			t.Fatalf("condition not reached; sent: %d envelopes", len(got))
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// streamActor yields the configured payloads from its streaming method.
type streamActor struct {
	payloads [][]byte
}

func (a *streamActor) Invoke(ctx context.Context, method string, args [][]byte) ([]byte, error) {
	return nil, fmt.Errorf("not a unary actor")
}

func (a *streamActor) Stream(ctx context.Context, method string) (<-chan registry.StreamItem, error) {
	ch := make(chan registry.StreamItem, len(a.payloads))
	for _, p := range a.payloads {
		ch <- registry.StreamItem{Payload: p}
	}
	close(ch)
	return ch, nil
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *registry.Registry, *registry.Lifecycle) {
	t.Helper()
	reg := registry.New(nil)
	life := registry.NewLifecycle()
	disp := NewDispatcher(reg, trace.Hooks{}, nil)
	cfg := config.Server{DrainTimeout: 2 * time.Second}
	srv := New(cfg, reg, life, disp, opts...)
	t.Cleanup(func() { srv.cancel() })
	return srv, reg, life
}

func TestInvocationRoundTrip(t *testing.T) {
	srv, reg, _ := newTestServer(t)

	reg.Register(wire.Local("echo"), registry.NewUnaryActor(
		func(ctx context.Context, method string, args [][]byte) ([]byte, error) {
			return append([]byte("Echo: "), args[0]...), nil
		}))

	conn := newFakeConn()
	go srv.serveConn(conn)

	callID := wire.NewCallID()
	conn.in <- wire.WrapInvocation(&wire.Invocation{
		CallID:  callID,
		ActorID: wire.Local("echo"),
		Method:  "echo",
		Args:    [][]byte{[]byte("Hello")},
	})

	sent := conn.waitFor(t, func(envs []wire.Envelope) bool { return len(envs) >= 1 })
	resp := sent[0].Response
	if resp == nil || resp.CallID != callID {
		t.Fatalf("expected response for %s, got %+v", callID, sent[0])
	}
	if string(resp.Result) != "Echo: Hello" {
		t.Errorf("result = %q", resp.Result)
	}
}

func TestStreamStartPumpsAndCompletes(t *testing.T) {
	srv, reg, _ := newTestServer(t)

	reg.Register(wire.Local("ticker"), &streamActor{
		payloads: [][]byte{[]byte("a"), []byte("b"), []byte("c")},
	})

	conn := newFakeConn()
	go srv.serveConn(conn)

	callID := wire.NewCallID()
	conn.in <- wire.WrapStreamStart(&wire.StreamStart{
		StreamID: wire.NewStreamID(),
		CallID:   callID,
		ActorID:  wire.Local("ticker"),
		Method:   "ticks",
	})

	sent := conn.waitFor(t, func(envs []wire.Envelope) bool {
		return len(envs) > 0 && envs[len(envs)-1].Type == wire.TypeStreamEnd
	})

	if sent[0].Type != wire.TypeStreamStart {
		t.Fatalf("first frame = %s, want streamStart ack", sent[0].Type)
	}
	canonical := sent[0].StreamStart.StreamID
	if sent[0].StreamStart.CallID != callID {
		t.Errorf("ack callId = %s", sent[0].StreamStart.CallID)
	}

	var seqs []uint64
	var payloads []string
	for _, env := range sent[1 : len(sent)-1] {
		if env.Type != wire.TypeStreamData {
			t.Fatalf("unexpected frame %s mid-stream", env.Type)
		}
		if env.StreamData.StreamID != canonical {
			t.Errorf("frame streamId = %s, want %s", env.StreamData.StreamID, canonical)
		}
		seqs = append(seqs, env.StreamData.Sequence)
		payloads = append(payloads, string(env.StreamData.Payload))
	}
	if fmt.Sprint(seqs) != "[1 2 3]" {
		t.Errorf("sequences = %v", seqs)
	}
	if fmt.Sprint(payloads) != "[a b c]" {
		t.Errorf("payloads = %v", payloads)
	}

	last := sent[len(sent)-1]
	if last.StreamEnd.Reason != wire.ReasonCompleted {
		t.Errorf("end reason = %s", last.StreamEnd.Reason)
	}
}

func TestStreamStartUnknownActorSendsError(t *testing.T) {
	srv, _, _ := newTestServer(t)

	conn := newFakeConn()
	go srv.serveConn(conn)

	conn.in <- wire.WrapStreamStart(&wire.StreamStart{
		StreamID: wire.NewStreamID(),
		CallID:   wire.NewCallID(),
		ActorID:  wire.Local("ghost"),
		Method:   "ticks",
	})

	sent := conn.waitFor(t, func(envs []wire.Envelope) bool {
		return len(envs) >= 2
	})
	if sent[1].Type != wire.TypeStreamError {
		t.Fatalf("second frame = %s, want streamError", sent[1].Type)
	}
}

func TestGracefulDrain(t *testing.T) {
	srv, reg, life := newTestServer(t)

	// Three distinct actors so the naps run concurrently, one per turn lock.
	for i := 0; i < 3; i++ {
		reg.Register(wire.Local("sleepy"+fmt.Sprint(i)), registry.NewUnaryActor(
			func(ctx context.Context, method string, args [][]byte) ([]byte, error) {
				time.Sleep(500 * time.Millisecond)
				return []byte("done"), nil
			}))
	}

	conn := newFakeConn()
	go srv.serveConn(conn)

	for i := 0; i < 3; i++ {
		conn.in <- wire.WrapInvocation(&wire.Invocation{
			CallID:  wire.NewCallID(),
			ActorID: wire.Local("sleepy" + fmt.Sprint(i)),
			Method:  "nap",
		})
	}

	// Let the three invocations start.
	deadline := time.After(time.Second)
	for life.InFlight() < 3 {
		select {
		case <-deadline:
			t.Fatalf("in-flight = %d, want 3", life.InFlight())
		case <-time.After(5 * time.Millisecond):
		}
	}

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- srv.Shutdown(context.Background(), nil) }()

	// Health flips to draining immediately.
	time.Sleep(20 * time.Millisecond)
	if h := life.Health(); h != registry.HealthDraining {
		t.Errorf("health during drain = %s", h)
	}

	if err := <-done; err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 1500*time.Millisecond {
		t.Errorf("drain took %v, want < 1.5s", elapsed)
	}
	if n := life.InFlight(); n != 0 {
		t.Errorf("in-flight after drain = %d", n)
	}
}

func TestDrainingRejectsNewInvocations(t *testing.T) {
	srv, reg, _ := newTestServer(t)
	reg.Register(wire.Local("echo"), registry.NewUnaryActor(
		func(ctx context.Context, method string, args [][]byte) ([]byte, error) {
			return args[0], nil
		}))

	go srv.Shutdown(context.Background(), nil)
	time.Sleep(20 * time.Millisecond)

	conn := newFakeConn()
	srv.handleInvocation(conn, &wire.Invocation{
		CallID:  wire.NewCallID(),
		ActorID: wire.Local("echo"),
		Method:  "echo",
		Args:    [][]byte{[]byte("x")},
	})

	sent := conn.snapshot()
	if len(sent) != 1 || sent[0].Response == nil || !sent[0].Response.IsError() {
		t.Fatalf("expected error response while draining, got %+v", sent)
	}
}

func TestOnStateChangeRebroadcasts(t *testing.T) {
	mem := store.NewMemory()
	srv, reg, _ := newTestServer(t, WithStateStore(mem, nil))

	blocker := make(chan registry.StreamItem)
	reg.Register(wire.Local("counter"), &blockingStreamActor{ch: blocker})

	conn := newFakeConn()
	go srv.serveConn(conn)
	conn.in <- wire.WrapStreamStart(&wire.StreamStart{
		StreamID: wire.NewStreamID(),
		CallID:   wire.NewCallID(),
		ActorID:  wire.Local("counter"),
		Method:   "watch",
	})
	conn.waitFor(t, func(envs []wire.Envelope) bool { return len(envs) >= 1 })

	if _, err := mem.Save(context.Background(), wire.Local("counter"), []byte(`{"count":7}`)); err != nil {
		t.Fatal(err)
	}
	srv.OnStateChange(notify.Notification{ActorID: wire.Local("counter"), Sequence: 1})

	sent := conn.waitFor(t, func(envs []wire.Envelope) bool {
		return len(envs) >= 2 && envs[len(envs)-1].Type == wire.TypeStreamData
	})
	data := sent[len(sent)-1].StreamData
	if string(data.Payload) != `{"count":7}` {
		t.Errorf("rebroadcast payload = %s", data.Payload)
	}
	close(blocker)
}

type blockingStreamActor struct{ ch chan registry.StreamItem }

func (a *blockingStreamActor) Invoke(ctx context.Context, method string, args [][]byte) ([]byte, error) {
	return nil, fmt.Errorf("streaming only")
}

func (a *blockingStreamActor) Stream(ctx context.Context, method string) (<-chan registry.StreamItem, error) {
	return a.ch, nil
}

// Hooks wired through NewFromConfig must fire for the stream lifecycle,
// not just the invocation path.
func TestHooksFireThroughConfigConstruction(t *testing.T) {
	var (
		hookMu      sync.Mutex
		invocations []string
		started     []string
		ended       []string
	)
	hooks := trace.Hooks{
		OnInvocation: func(actorID wire.ActorID, method string) {
			hookMu.Lock()
			invocations = append(invocations, actorID.String()+"."+method)
			hookMu.Unlock()
		},
		OnStreamStart: func(actorID wire.ActorID, method string) {
			hookMu.Lock()
			started = append(started, actorID.String()+"."+method)
			hookMu.Unlock()
		},
		OnStreamEnd: func(actorID wire.ActorID, method string) {
			hookMu.Lock()
			ended = append(ended, actorID.String()+"."+method)
			hookMu.Unlock()
		},
	}

	reg := registry.New(nil)
	life := registry.NewLifecycle()
	disp := NewDispatcher(reg, hooks, nil)
	cfg := &config.Config{Server: config.Server{DrainTimeout: 2 * time.Second}}
	srv := NewFromConfig(cfg, reg, life, disp, hooks, nil, nil, nil)
	t.Cleanup(func() { srv.cancel() })

	reg.Register(wire.Local("ticker"), &streamActor{payloads: [][]byte{[]byte("a")}})
	reg.Register(wire.Local("echo"), registry.NewUnaryActor(
		func(ctx context.Context, method string, args [][]byte) ([]byte, error) {
			return args[0], nil
		}))

	conn := newFakeConn()
	go srv.serveConn(conn)

	conn.in <- wire.WrapInvocation(&wire.Invocation{
		CallID:  wire.NewCallID(),
		ActorID: wire.Local("echo"),
		Method:  "echo",
		Args:    [][]byte{[]byte("x")},
	})
	conn.in <- wire.WrapStreamStart(&wire.StreamStart{
		StreamID: wire.NewStreamID(),
		CallID:   wire.NewCallID(),
		ActorID:  wire.Local("ticker"),
		Method:   "ticks",
	})

	conn.waitFor(t, func(envs []wire.Envelope) bool {
		hookMu.Lock()
		defer hookMu.Unlock()
		return len(invocations) >= 1 && len(started) >= 1 && len(ended) >= 1
	})

	hookMu.Lock()
	defer hookMu.Unlock()
	if len(invocations) != 1 || invocations[0] != "echo.echo" {
		t.Errorf("invocation hook fired %v, want exactly [echo.echo]", invocations)
	}
	if started[0] != "ticker.ticks" {
		t.Errorf("stream-start hook fired %v", started)
	}
	if ended[0] != "ticker.ticks" {
		t.Errorf("stream-end hook fired %v", ended)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, life := newTestServer(t)

	h := HealthHandler(srv)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var payload struct {
		Status        string `json:"status"`
		InflightCount int64  `json:"inflightCount"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Status != "healthy" {
		t.Errorf("status = %s", payload.Status)
	}

	life.Shutdown(context.Background(), time.Millisecond, nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("draining status code = %d", rr.Code)
	}
}
