// Package transport defines the transport boundary: a pluggable
// full-duplex, message-framed connection abstraction that the dispatcher,
// stream engine, and client connection manager all speak through without
// knowing whether the underlying wire is a websocket or a grpc stream.
package transport

import (
	"context"
	"io"

	"github.com/webitel/actorbridge/wire"
)

// Conn is one full-duplex, message-framed connection. Implementations
// (ws.Conn, grpcwire.Conn) guarantee that Send/Recv preserve message
// boundaries and that concurrent Send calls are safe.
type Conn interface {
	// Send writes one envelope as a single wire message. Safe for concurrent
	// use by multiple goroutines.
	Send(ctx context.Context, env wire.Envelope) error

	// Recv blocks for the next inbound envelope. Not safe for concurrent
	// calls; the transport boundary expects a single reader goroutine per
	// connection.
	Recv(ctx context.Context) (wire.Envelope, error)

	// Close tears down the connection. Idempotent.
	Close() error

	// RemoteAddr identifies the peer for logging/diagnostics.
	RemoteAddr() string
}

// Dialer opens an outbound Conn to a remote endpoint (used by the
// reconnection state machine and by the dispatcher when short-circuiting
// is not possible).
type Dialer interface {
	Dial(ctx context.Context, host string, port int) (Conn, error)
}

// Listener accepts inbound Conns (used by the server's accept loop).
type Listener interface {
	io.Closer
	Accept(ctx context.Context) (Conn, error)
	Addr() string
}

// Handler is invoked once per accepted connection. The server runs one
// Handler per Conn in its own goroutine and treats Handler's return as the
// connection's terminal state.
type Handler func(ctx context.Context, conn Conn)
