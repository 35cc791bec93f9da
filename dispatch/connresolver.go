package dispatch

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/webitel/actorbridge/transport"
	"github.com/webitel/actorbridge/wire"
)

// defaultRemoteConnCacheSize caps how many resolved host:port connections
// dispatch keeps warm.
const defaultRemoteConnCacheSize = 256

// ConnResolver resolves a remote ActorID to a live transport.Conn, dialing
// and caching the underlying connection per host:port.
type ConnResolver struct {
	dialer transport.Dialer
	cache  *lru.Cache[string, *cachedConn]
	mu     sync.Mutex
}

type cachedConn struct {
	conn transport.Conn
	mu   sync.Mutex
}

// NewConnResolver builds a resolver dialing through d, keeping up to size
// connections warm (0 uses the default).
func NewConnResolver(d transport.Dialer, size int) (*ConnResolver, error) {
	if size <= 0 {
		size = defaultRemoteConnCacheSize
	}
	cache, err := lru.NewWithEvict[string, *cachedConn](size, func(_ string, cc *cachedConn) {
		cc.conn.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("actorbridge: building connection cache: %w", err)
	}
	return &ConnResolver{dialer: d, cache: cache}, nil
}

// Resolve returns a cached or freshly dialed Conn to actorID's host:port.
func (r *ConnResolver) Resolve(ctx context.Context, actorID wire.ActorID) (transport.Conn, error) {
	key := fmt.Sprintf("%s:%d", actorID.Host, actorID.Port)

	r.mu.Lock()
	cc, ok := r.cache.Get(key)
	if !ok {
		cc = &cachedConn{}
		r.cache.Add(key, cc)
	}
	r.mu.Unlock()

	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.conn != nil {
		return cc.conn, nil
	}

	conn, err := r.dialer.Dial(ctx, actorID.Host, actorID.Port)
	if err != nil {
		return nil, err
	}
	cc.conn = conn
	return conn, nil
}

// Purge drops every cached connection, used after the underlying transport
// session is replaced wholesale (client reconnect).
func (r *ConnResolver) Purge() {
	r.mu.Lock()
	r.cache.Purge()
	r.mu.Unlock()
}

// Invalidate drops a cached connection, e.g. after a Send fails, forcing
// the next Resolve to redial.
func (r *ConnResolver) Invalidate(actorID wire.ActorID) {
	key := fmt.Sprintf("%s:%d", actorID.Host, actorID.Port)
	r.mu.Lock()
	r.cache.Remove(key)
	r.mu.Unlock()
}
