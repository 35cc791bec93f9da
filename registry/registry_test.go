package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/webitel/actorbridge/errs"
	"github.com/webitel/actorbridge/wire"
)

func echoActor() Actor {
	return NewUnaryActor(func(ctx context.Context, method string, args [][]byte) ([]byte, error) {
		return []byte("Echo: " + string(args[0])), nil
	})
}

func TestRegisterAndInvokeLocal(t *testing.T) {
	r := New(nil)
	r.Register(wire.Local("echo-1"), echoActor())

	out, err := r.InvokeLocal(context.Background(), wire.Local("echo-1"), "echo", [][]byte{[]byte("Hello")})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if string(out) != "Echo: Hello" {
		t.Errorf("got %q", out)
	}
}

type countingActor struct {
	calls atomic.Int64
}

func (c *countingActor) Invoke(ctx context.Context, method string, args [][]byte) ([]byte, error) {
	c.calls.Add(1)
	return nil, nil
}

func (c *countingActor) Stream(ctx context.Context, method string) (<-chan StreamItem, error) {
	ch := make(chan StreamItem)
	close(ch)
	return ch, nil
}

func TestLookupTypedReturnsConcreteType(t *testing.T) {
	r := New(nil)
	counting := &countingActor{}
	r.Register(wire.Local("counter"), counting)
	r.Register(wire.Local("echo"), echoActor())

	got, ok := LookupTyped[*countingActor](r, wire.Local("counter"))
	if !ok {
		t.Fatal("typed lookup missed a registered actor")
	}
	if got != counting {
		t.Error("typed lookup returned a different handle")
	}

	// Registered under a different concrete type: no match.
	if _, ok := LookupTyped[*countingActor](r, wire.Local("echo")); ok {
		t.Error("typed lookup must reject a mismatched concrete type")
	}

	// Not registered at all: no match, and no on-demand materialization.
	if _, ok := LookupTyped[*countingActor](r, wire.Local("ghost")); ok {
		t.Error("typed lookup must miss an unregistered actor")
	}
}

func TestInvokeLocalUnregisteredWithoutMaterializeFails(t *testing.T) {
	r := New(nil)
	_, err := r.InvokeLocal(context.Background(), wire.Local("ghost"), "echo", nil)
	if err == nil {
		t.Fatal("expected actor-not-found")
	}
	ae, ok := err.(*errs.Error)
	if !ok || ae.Kind != errs.KindActorNotFound {
		t.Errorf("got %v, want KindActorNotFound", err)
	}
}

func TestOnDemandMaterializationCollapsesConcurrentCalls(t *testing.T) {
	var materializeCalls int32
	r := New(func(ctx context.Context, actorID wire.ActorID) (Actor, error) {
		atomic.AddInt32(&materializeCalls, 1)
		time.Sleep(20 * time.Millisecond)
		return echoActor(), nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.InvokeLocal(context.Background(), wire.Local("lazy-1"), "echo", [][]byte{[]byte("x")})
			if err != nil {
				t.Errorf("invoke: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&materializeCalls); got != 1 {
		t.Errorf("materialize called %d times, want 1", got)
	}
	if r.Count() != 1 {
		t.Errorf("registry count = %d, want 1", r.Count())
	}
}

func TestMaterializeHookReturningNothingFailsActorNotFound(t *testing.T) {
	r := New(func(ctx context.Context, actorID wire.ActorID) (Actor, error) {
		return nil, errs.ActorNotFound(actorID.String())
	})
	_, err := r.InvokeLocal(context.Background(), wire.Local("nope"), "echo", nil)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestUnregisterRemovesActor(t *testing.T) {
	r := New(nil)
	r.Register(wire.Local("a"), echoActor())
	r.Unregister(wire.Local("a"))
	if _, ok := r.LookupAny(wire.Local("a")); ok {
		t.Error("expected actor to be gone after Unregister")
	}
}

// Three in-flight invocations each sleeping 500ms; Shutdown(timeout=2s)
// reports draining immediately and completes cleanly before the timeout.
func TestGracefulDrain(t *testing.T) {
	l := NewLifecycle()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		end, ok := l.BeginInvocation()
		if !ok {
			t.Fatal("BeginInvocation should succeed before draining starts")
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(500 * time.Millisecond)
			end()
		}()
	}

	stopped := false
	start := time.Now()
	err := l.Shutdown(context.Background(), 2*time.Second, func() { stopped = true })
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !stopped {
		t.Error("stopAccepting callback should have been invoked")
	}
	if elapsed >= 1500*time.Millisecond {
		t.Errorf("shutdown took %v, want well under 1.5s", elapsed)
	}
	if l.Health() != HealthDraining {
		t.Errorf("health = %s, want draining", l.Health())
	}
	wg.Wait()
}

func TestShutdownTimesOutWithStillInFlightWork(t *testing.T) {
	l := NewLifecycle()
	end, _ := l.BeginInvocation()
	defer end()

	err := l.Shutdown(context.Background(), 50*time.Millisecond, nil)
	if err == nil {
		t.Fatal("expected a timeout error since the invocation never completes")
	}
}

func TestBeginInvocationRejectedAfterDrainStarts(t *testing.T) {
	l := NewLifecycle()
	l.Shutdown(context.Background(), time.Second, nil)

	_, ok := l.BeginInvocation()
	if ok {
		t.Error("new invocations must be rejected once draining has started")
	}
}
