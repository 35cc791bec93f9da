package dispatch

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/webitel/actorbridge/errs"
	"github.com/webitel/actorbridge/wire"
)

type echoInvoker struct{}

func (echoInvoker) InvokeLocal(ctx context.Context, actorID wire.ActorID, method string, args [][]byte) ([]byte, error) {
	if method != "echo" {
		return nil, errs.New(errs.KindActorNotFound, method)
	}
	return []byte("Echo: " + string(args[0])), nil
}

func TestDispatcherLocalInvokeEcho(t *testing.T) {
	d := New(echoInvoker{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	inv := &wire.Invocation{
		CallID:  wire.NewCallID(),
		ActorID: wire.Local("echo-1"),
		Method:  "echo",
		Args:    [][]byte{[]byte("hello")},
	}

	resp, err := d.Invoke(ctx, inv)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if resp.Error != "" {
		t.Fatalf("unexpected error response: %s", resp.Error)
	}
	if got := string(resp.Result); got != "Echo: hello" {
		t.Errorf("result = %q, want %q", got, "Echo: hello")
	}
}

func TestDispatcherRemoteInvokeWithoutResolverFails(t *testing.T) {
	d := New(echoInvoker{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	inv := &wire.Invocation{
		CallID:  wire.NewCallID(),
		ActorID: wire.Remote("echo-1", "example.invalid", 9090),
		Method:  "echo",
	}
	if _, err := d.Invoke(ctx, inv); err == nil {
		t.Fatal("expected error without a configured resolver")
	}
}

func TestDispatcherMiddlewareRunsInOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, inv *wire.Invocation) (*wire.Response, error) {
				order = append(order, name)
				return next(ctx, inv)
			}
		}
	}

	d := New(echoInvoker{}, nil, WithMiddleware(mark("a"), mark("b"), Recover()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := d.Invoke(ctx, &wire.Invocation{
		CallID:  wire.NewCallID(),
		ActorID: wire.Local("echo-1"),
		Method:  "echo",
		Args:    [][]byte{[]byte("x")},
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if strings.Join(order, ",") != "a,b" {
		t.Errorf("middleware order = %v, want [a b]", order)
	}
}

type panickingInvoker struct{}

func (panickingInvoker) InvokeLocal(ctx context.Context, actorID wire.ActorID, method string, args [][]byte) ([]byte, error) {
	panic("boom")
}

func TestDispatcherRecoverMiddlewareCatchesPanic(t *testing.T) {
	d := New(panickingInvoker{}, nil, WithMiddleware(Recover()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := d.Invoke(ctx, &wire.Invocation{
		CallID:  wire.NewCallID(),
		ActorID: wire.Local("bad-actor"),
		Method:  "echo",
	})
	if err == nil {
		t.Fatal("expected recovered panic to surface as an error")
	}
}

func TestDispatcherUnsupportedProtocolVersionRejected(t *testing.T) {
	d := New(echoInvoker{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := d.Invoke(ctx, &wire.Invocation{
		CallID:          wire.NewCallID(),
		ActorID:         wire.Local("echo-1"),
		Method:          "echo",
		ProtocolVersion: 99,
	})
	if err == nil {
		t.Fatal("expected unsupported protocol version to be rejected")
	}
}
