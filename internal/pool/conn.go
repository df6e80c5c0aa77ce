package pool

import (
	"context"
	"sync"
	"time"

	"github.com/nzconn/nzgo/internal/client"
)

// ConnState represents the state of a pooled connection.
type ConnState int

const (
	ConnStateIdle ConnState = iota
	ConnStateActive
	ConnStateClosed
)

// sessionConn is the subset of *client.Conn a PooledConn needs. Pulling it
// out as an interface lets tests inject a fake session without running a
// real handshake over a net.Pipe.
type sessionConn interface {
	Close() error
	Ping(ctx context.Context) error
}

// PooledConn wraps an authenticated client.Conn with pooling metadata. The
// handshake has already run by the time a PooledConn exists; there is no
// separate session-mode/transaction-mode split here, since an NPS session
// is always fully authenticated before it becomes usable.
type PooledConn struct {
	mu        sync.Mutex
	conn      sessionConn
	state     ConnState
	createdAt time.Time
	lastUsed  time.Time
	profile   string
	pool      *ProfilePool // back-reference for returning to pool
}

// NewPooledConn wraps an established client.Conn for pool management.
func NewPooledConn(conn *client.Conn, profile string, p *ProfilePool) *PooledConn {
	now := time.Now()
	return &PooledConn{
		conn:      conn,
		state:     ConnStateIdle,
		createdAt: now,
		lastUsed:  now,
		profile:   profile,
		pool:      p,
	}
}

// Conn returns the underlying session. Callers that need more than
// Close/Ping (e.g. the result metadata recorded at handshake time) should
// type-assert to *client.Conn; pooled test fakes do not support this.
func (pc *PooledConn) Conn() sessionConn {
	return pc.conn
}

// Profile returns the connection profile this connection belongs to.
func (pc *PooledConn) Profile() string {
	return pc.profile
}

// MarkActive marks this connection as in-use.
func (pc *PooledConn) MarkActive() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.state = ConnStateActive
	pc.lastUsed = time.Now()
}

// MarkIdle marks this connection as idle (returned to pool).
func (pc *PooledConn) MarkIdle() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.state = ConnStateIdle
	pc.lastUsed = time.Now()
}

// State returns the current connection state.
func (pc *PooledConn) State() ConnState {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.state
}

// CreatedAt returns when this connection was established.
func (pc *PooledConn) CreatedAt() time.Time {
	return pc.createdAt
}

// LastUsed returns when this connection was last used.
func (pc *PooledConn) LastUsed() time.Time {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.lastUsed
}

// IsExpired checks if the connection has exceeded its max lifetime.
func (pc *PooledConn) IsExpired(maxLifetime time.Duration) bool {
	if maxLifetime <= 0 {
		return false
	}
	return time.Since(pc.createdAt) > maxLifetime
}

// IsIdle checks if the connection has been idle longer than the timeout.
func (pc *PooledConn) IsIdle(idleTimeout time.Duration) bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if idleTimeout <= 0 {
		return false
	}
	return pc.state == ConnStateIdle && time.Since(pc.lastUsed) > idleTimeout
}

// Close closes the underlying connection and marks it as closed.
func (pc *PooledConn) Close() error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.state = ConnStateClosed
	return pc.conn.Close()
}

// Ping performs a lightweight liveness check by issuing the connection's
// trivial post-handshake query and waiting for it to complete.
func (pc *PooledConn) Ping(ctx context.Context) error {
	return pc.conn.Ping(ctx)
}

// Return releases this connection back to its pool.
func (pc *PooledConn) Return() {
	if pc.pool != nil {
		pc.pool.Return(pc)
	}
}
