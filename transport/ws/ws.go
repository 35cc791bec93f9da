// Package ws is the websocket-backed Transport Boundary implementation,
// built on gorilla/websocket: an upgrader, a write mutex guarding
// concurrent sends, and ping/pong keepalive.
package ws

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/webitel/actorbridge/transport"
	"github.com/webitel/actorbridge/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Conn adapts a *websocket.Conn to transport.Conn.
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex
	closed  chan struct{}
	once    sync.Once
}

var _ transport.Conn = (*Conn)(nil)

func newConn(ws *websocket.Conn) *Conn {
	c := &Conn{ws: ws, closed: make(chan struct{})}
	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.keepalive()
	return c
}

func (c *Conn) keepalive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.ws.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Conn) Send(ctx context.Context, env wire.Envelope) error {
	b, err := wire.Encode(env)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

func (c *Conn) Recv(ctx context.Context) (wire.Envelope, error) {
	type result struct {
		env wire.Envelope
		err error
	}
	out := make(chan result, 1)
	go func() {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			out <- result{err: err}
			return
		}
		env, err := wire.Decode(data)
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
	c.once.Do(func() {
		close(c.closed)
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) RemoteAddr() string { return c.ws.RemoteAddr().String() }

// Listener accepts websocket upgrades on an *http.Server's handler.
type Listener struct {
	addr   string
	accept chan *Conn
	closed chan struct{}
	once   sync.Once
}

var _ transport.Listener = (*Listener)(nil)

// NewListener builds a Listener whose ServeHTTP upgrades incoming requests
// and feeds them to Accept. Wire it into a mux at the desired path.
func NewListener(addr string) *Listener {
	return &Listener{addr: addr, accept: make(chan *Conn), closed: make(chan struct{})}
}

func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	select {
	case l.accept <- newConn(wsConn):
	case <-l.closed:
		wsConn.Close()
	case <-r.Context().Done():
		wsConn.Close()
	}
}

func (l *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closed:
		return nil, net.ErrClosed
	case c := <-l.accept:
		return c, nil
	}
}

func (l *Listener) Addr() string { return l.addr }

func (l *Listener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

// Dialer opens outbound websocket connections.
type Dialer struct {
	dialer *websocket.Dialer
	scheme string
	path   string
}

var _ transport.Dialer = (*Dialer)(nil)

// NewDialer builds a Dialer. scheme is "ws" or "wss"; path is the upgrade
// endpoint (e.g. "/actorbridge/v1").
func NewDialer(scheme, path string) *Dialer {
	return &Dialer{
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		scheme: scheme,
		path:   path,
	}
}

func (d *Dialer) Dial(ctx context.Context, host string, port int) (transport.Conn, error) {
	url := fmt.Sprintf("%s://%s:%d%s", d.scheme, host, port, d.path)
	wsConn, _, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return newConn(wsConn), nil
}
