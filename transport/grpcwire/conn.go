package grpcwire

import (
	"context"
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"

	"github.com/webitel/actorbridge/transport"
	"github.com/webitel/actorbridge/wire"
)

// recoveryInterceptor turns a panicking stream handler into a grpc error
// instead of crashing the listener.
func recoveryInterceptor() grpc.StreamServerInterceptor {
	return recovery.StreamServerInterceptor()
}

// streamLike is satisfied by both grpc.ServerStream and grpc.ClientStream.
type streamLike interface {
	SendMsg(m any) error
	RecvMsg(m any) error
	Context() context.Context
}

// Conn adapts one grpc stream (client- or server-side) to transport.Conn.
type Conn struct {
	stream   streamLike
	remote   string
	sendMu   sync.Mutex
	closeFn  func() error
	closeOne sync.Once
}

var _ transport.Conn = (*Conn)(nil)

func newConn(stream streamLike, remote string, closeFn func() error) *Conn {
	if closeFn == nil {
		closeFn = func() error { return nil }
	}
	return &Conn{stream: stream, remote: remote, closeFn: closeFn}
}

func (c *Conn) Send(ctx context.Context, env wire.Envelope) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return sendEnvelope(c.stream, env)
}

func (c *Conn) Recv(ctx context.Context) (wire.Envelope, error) {
	type result struct {
		env wire.Envelope
		err error
	}
	out := make(chan result, 1)
	go func() {
		env, err := recvEnvelope(c.stream)
		out <- result{env: env, err: err}
	}()
	select {
	case <-ctx.Done():
		return wire.Envelope{}, ctx.Err()
	case r := <-out:
		return r.env, r.err
	}
}

func (c *Conn) Close() error {
	var err error
	c.closeOne.Do(func() { err = c.closeFn() })
	return err
}

func (c *Conn) RemoteAddr() string { return c.remote }

// serverBridge implements bridgeServer and hands each accepted stream to
// Listener.Accept.
type serverBridge struct {
	accept chan *Conn
}

func (s *serverBridge) handle(stream grpc.ServerStream) error {
	remote := "unknown"
	if p, ok := peerAddr(stream.Context()); ok {
		remote = p
	}
	done := make(chan struct{})
	conn := newConn(stream, remote, func() error { close(done); return nil })
	select {
	case s.accept <- conn:
	case <-stream.Context().Done():
		return stream.Context().Err()
	}
	select {
	case <-done:
	case <-stream.Context().Done():
	}
	return nil
}

// Listener wraps a *grpc.Server exposing the Bridge service.
type Listener struct {
	addr    string
	lis     net.Listener
	gs      *grpc.Server
	bridge  *serverBridge
	started sync.Once
}

var _ transport.Listener = (*Listener)(nil)

// NewListener binds addr and registers the Bridge service on a fresh
// *grpc.Server instrumented with otelgrpc for span creation.
func NewListener(addr string) (*Listener, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("actorbridge: grpcwire listen %s: %w", addr, err)
	}
	gs := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.StreamInterceptor(recoveryInterceptor()),
	)
	bridge := &serverBridge{accept: make(chan *Conn)}
	gs.RegisterService(&ServiceDesc, bridge)
	l := &Listener{addr: addr, lis: lis, gs: gs, bridge: bridge}
	return l, nil
}

func (l *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	l.started.Do(func() { go l.gs.Serve(l.lis) })
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case c := <-l.bridge.accept:
		return c, nil
	}
}

func (l *Listener) Addr() string { return l.addr }

func (l *Listener) Close() error {
	l.gs.GracefulStop()
	return nil
}

// Dialer opens outbound grpc Bridge streams.
type Dialer struct{}

var _ transport.Dialer = (*Dialer)(nil)

func NewDialer() *Dialer { return &Dialer{} }

func (d *Dialer) Dial(ctx context.Context, host string, port int) (transport.Conn, error) {
	target := fmt.Sprintf("%s:%d", host, port)
	cc, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, fmt.Errorf("actorbridge: grpcwire dial %s: %w", target, err)
	}

	client := &bridgeClient{cc: cc}
	stream, err := client.open(ctx)
	if err != nil {
		cc.Close()
		return nil, err
	}
	return newConn(stream, target, cc.Close), nil
}

func peerAddr(ctx context.Context) (string, bool) {
	p, ok := peerFromContext(ctx)
	if !ok {
		return "", false
	}
	return p, true
}
