// Package pool keeps a warm set of authenticated connections per profile,
// so callers don't pay the handshake's round-trip cost on every query. It
// uses a sync.Cond wait/signal acquire loop, an idle reaper, and an
// exhaustion callback, dialing and authenticating through the handshake
// package instead of relaying a backend's own auth exchange.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nzconn/nzgo/internal/client"
	"github.com/nzconn/nzgo/internal/config"
)

// Stats holds connection pool statistics for a profile.
type Stats struct {
	Profile   string `json:"profile"`
	Active    int    `json:"active"`
	Idle      int    `json:"idle"`
	Total     int    `json:"total"`
	Waiting   int    `json:"waiting"`
	MaxConns  int    `json:"max_connections"`
	MinConns  int    `json:"min_connections"`
	Exhausted int64  `json:"pool_exhausted_total"`
}

// OnPoolExhausted is called when a pool reaches max connections and a goroutine must wait.
type OnPoolExhausted func(profile string)

// OnHandshakeComplete is called after every dial attempt, successful or not,
// so callers can feed handshake outcome metrics without the pool package
// importing the metrics package directly. protocol2 and authMethod are zero
// value when err is non-nil.
type OnHandshakeComplete func(profile string, protocol2 int, authMethod string, d time.Duration, err error)

// ProfilePool manages authenticated connections for a single profile.
type ProfilePool struct {
	mu   sync.Mutex
	cond *sync.Cond // signalled when a connection is returned; broadcast on Close and acquire timeouts

	profile        string
	connectCfg     client.Config
	minConns       int
	maxConns       int
	idleTimeout    time.Duration
	maxLifetime    time.Duration
	acquireTimeout time.Duration

	idle      []*PooledConn
	active    map[*PooledConn]struct{}
	total     int
	waiting   int
	exhausted int64

	closed          bool
	stopCh          chan struct{}
	onPoolExhausted OnPoolExhausted
	onHandshake     OnHandshakeComplete
}

// NewProfilePool creates a new connection pool for a profile.
func NewProfilePool(profile string, p config.ProfileConfig, defaults config.PoolDefaults) *ProfilePool {
	securityLevel, err := p.ResolveSecurityLevel()
	if err != nil {
		// validate() in the config package should have already rejected
		// this; fall back to the safest default rather than panic.
		securityLevel = handshakeDefaultSecurityLevel()
	}

	pp := &ProfilePool{
		profile: profile,
		connectCfg: client.Config{
			Host:          p.Host,
			Port:          p.Port,
			Database:      p.Database,
			User:          p.Username,
			Password:      p.Password,
			Options:       p.Options,
			SecurityLevel: securityLevel,
			TLS:           buildTLSConfig(p),
			AppName:       p.AppName,
			DialTimeout:   p.EffectiveDialTimeout(defaults),
			ReadTimeout:   p.EffectiveReadTimeout(defaults),
		},
		minConns:       p.EffectiveMinConnections(defaults),
		maxConns:       p.EffectiveMaxConnections(defaults),
		idleTimeout:    p.EffectiveIdleTimeout(defaults),
		maxLifetime:    p.EffectiveMaxLifetime(defaults),
		acquireTimeout: p.EffectiveAcquireTimeout(defaults),
		idle:           make([]*PooledConn, 0),
		active:         make(map[*PooledConn]struct{}),
		stopCh:         make(chan struct{}),
	}
	pp.cond = sync.NewCond(&pp.mu)

	go pp.reapLoop()

	if pp.minConns > 0 {
		go pp.warmUp()
	}

	return pp
}

// warmUp pre-creates minConns idle connections so the pool is ready for traffic.
func (pp *ProfilePool) warmUp() {
	for i := 0; i < pp.minConns; i++ {
		pp.mu.Lock()
		if pp.closed || pp.total >= pp.minConns {
			pp.mu.Unlock()
			return
		}
		pp.total++
		pp.mu.Unlock()

		pc, err := pp.dial(context.Background())
		if err != nil {
			pp.mu.Lock()
			pp.total--
			pp.mu.Unlock()
			slog.Warn("warm-up connection failed", "index", i+1, "total", pp.minConns, "profile", pp.profile, "err", err)
			return
		}

		pp.mu.Lock()
		if pp.closed {
			pp.mu.Unlock()
			pc.Close()
			return
		}
		pc.MarkIdle()
		pp.idle = append(pp.idle, pc)
		pp.mu.Unlock()
	}
	slog.Info("pre-warmed connections", "count", pp.minConns, "profile", pp.profile)
}

// Acquire gets a connection from the pool, creating one if needed.
// The context is used for cancellation and deadline propagation.
func (pp *ProfilePool) Acquire(ctx context.Context) (*PooledConn, error) {
	deadlineAt := time.Now().Add(pp.acquireTimeout)

	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadlineAt) {
		deadlineAt = ctxDeadline
	}

	pp.mu.Lock()
	for {
		select {
		case <-ctx.Done():
			pp.mu.Unlock()
			return nil, ctx.Err()
		default:
		}

		if pp.closed {
			pp.mu.Unlock()
			return nil, fmt.Errorf("pool closed for profile %s", pp.profile)
		}

		for len(pp.idle) > 0 {
			pc := pp.idle[len(pp.idle)-1]
			pp.idle = pp.idle[:len(pp.idle)-1]

			if pc.IsExpired(pp.maxLifetime) {
				pc.Close()
				pp.total--
				continue
			}

			if err := pc.Ping(ctx); err != nil {
				pc.Close()
				pp.total--
				continue
			}

			pc.MarkActive()
			pp.active[pc] = struct{}{}
			pp.mu.Unlock()
			return pc, nil
		}

		if pp.total < pp.maxConns {
			pp.total++
			pp.mu.Unlock()

			pc, err := pp.dial(ctx)
			if err != nil {
				pp.mu.Lock()
				pp.total--
				pp.mu.Unlock()
				return nil, fmt.Errorf("connecting to %s:%d for profile %s: %w",
					pp.connectCfg.Host, pp.connectCfg.Port, pp.profile, err)
			}

			pc.MarkActive()
			pp.mu.Lock()
			pp.active[pc] = struct{}{}
			pp.mu.Unlock()
			return pc, nil
		}

		pp.waiting++
		pp.exhausted++
		cb := pp.onPoolExhausted
		pp.mu.Unlock()

		if cb != nil {
			cb(pp.profile)
		}

		pp.mu.Lock()
		remaining := time.Until(deadlineAt)
		if remaining <= 0 {
			pp.waiting--
			pp.mu.Unlock()
			return nil, fmt.Errorf("acquire timeout (%s) for profile %s: pool exhausted", pp.acquireTimeout, pp.profile)
		}

		timer := time.AfterFunc(remaining, func() {
			pp.cond.Broadcast()
		})
		pp.cond.Wait() // releases mu, waits for signal, reacquires mu
		timer.Stop()

		pp.waiting--

		if pp.closed {
			pp.mu.Unlock()
			return nil, fmt.Errorf("pool closing for profile %s", pp.profile)
		}

		if time.Now().After(deadlineAt) {
			pp.mu.Unlock()
			return nil, fmt.Errorf("acquire timeout (%s) for profile %s: pool exhausted", pp.acquireTimeout, pp.profile)
		}

		// Retry from the top of the loop (mu is held)
	}
}

// InjectTestConn adds a pre-built PooledConn directly into the pool's idle
// list. Only intended for testing — it bypasses dial() and the handshake.
func (pp *ProfilePool) InjectTestConn(pc *PooledConn) {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	pc.MarkIdle()
	pp.idle = append(pp.idle, pc)
	pp.total++
	pp.cond.Signal()
}

// Return releases a connection back to the pool.
func (pp *ProfilePool) Return(pc *PooledConn) {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	delete(pp.active, pc)

	if pp.closed || pc.IsExpired(pp.maxLifetime) {
		pc.Close()
		pp.total--
		pp.cond.Signal()
		return
	}

	pc.MarkIdle()
	pp.idle = append(pp.idle, pc)

	// Signal() avoids the thundering herd problem where Broadcast() would
	// wake all waiters only for N-1 to go back to sleep. Broadcast() is
	// reserved for Close() and timeout wakeups.
	pp.cond.Signal()
}

// Stats returns current pool statistics.
func (pp *ProfilePool) Stats() Stats {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	return Stats{
		Profile:   pp.profile,
		Active:    len(pp.active),
		Idle:      len(pp.idle),
		Total:     pp.total,
		Waiting:   pp.waiting,
		MaxConns:  pp.maxConns,
		MinConns:  pp.minConns,
		Exhausted: pp.exhausted,
	}
}

// Drain closes all idle connections and waits for active ones to be returned.
func (pp *ProfilePool) Drain() {
	pp.mu.Lock()

	for _, pc := range pp.idle {
		pc.Close()
		pp.total--
	}
	pp.idle = pp.idle[:0]

	activeCount := len(pp.active)
	pp.mu.Unlock()

	if activeCount > 0 {
		slog.Info("draining active connections", "count", activeCount, "profile", pp.profile)
		timeout := time.After(30 * time.Second)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				pp.mu.Lock()
				if len(pp.active) == 0 {
					pp.mu.Unlock()
					return
				}
				pp.mu.Unlock()
			case <-timeout:
				pp.mu.Lock()
				for pc := range pp.active {
					pc.Close()
					pp.total--
				}
				pp.active = make(map[*PooledConn]struct{})
				pp.mu.Unlock()
				slog.Warn("force-closed active connections after drain timeout", "profile", pp.profile)
				return
			}
		}
	}
}

// Close shuts down the pool.
func (pp *ProfilePool) Close() {
	pp.mu.Lock()
	if pp.closed {
		pp.mu.Unlock()
		return
	}
	pp.closed = true
	close(pp.stopCh)
	pp.cond.Broadcast() // wake any goroutines waiting in Acquire
	pp.mu.Unlock()

	pp.Drain()
}

func (pp *ProfilePool) dial(ctx context.Context) (*PooledConn, error) {
	start := time.Now()
	conn, err := client.Connect(ctx, pp.connectCfg)
	if pp.onHandshake != nil {
		if err != nil {
			pp.onHandshake(pp.profile, 0, "", time.Since(start), err)
		} else {
			result := conn.Result()
			pp.onHandshake(pp.profile, result.Protocol2, result.AuthMethod, time.Since(start), nil)
		}
	}
	if err != nil {
		return nil, err
	}
	return NewPooledConn(conn, pp.profile, pp), nil
}

func (pp *ProfilePool) reapLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pp.reapIdle()
		case <-pp.stopCh:
			return
		}
	}
}

func (pp *ProfilePool) reapIdle() {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	if len(pp.idle) <= pp.minConns {
		return
	}

	kept := make([]*PooledConn, 0, len(pp.idle))
	excess := len(pp.idle) - pp.minConns
	for i, pc := range pp.idle {
		if i < excess && (pc.IsIdle(pp.idleTimeout) || pc.IsExpired(pp.maxLifetime)) {
			pc.Close()
			pp.total--
		} else {
			kept = append(kept, pc)
		}
	}
	pp.idle = kept
}

// StatsCallback is called periodically with pool stats for each profile.
type StatsCallback func(stats Stats)

// Manager manages connection pools for all profiles.
type Manager struct {
	mu              sync.RWMutex
	pools           map[string]*ProfilePool
	defaults        config.PoolDefaults
	onPoolExhausted OnPoolExhausted
	onHandshake     OnHandshakeComplete
	statsCallback   StatsCallback
	statsStopCh     chan struct{}
	closeOnce       sync.Once
}

// NewManager creates a new pool manager.
func NewManager(defaults config.PoolDefaults) *Manager {
	return &Manager{
		pools:       make(map[string]*ProfilePool),
		defaults:    defaults,
		statsStopCh: make(chan struct{}),
	}
}

// SetOnPoolExhausted sets the callback for pool exhaustion events.
// Must be called before any pools are created.
func (m *Manager) SetOnPoolExhausted(cb OnPoolExhausted) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPoolExhausted = cb
}

// SetOnHandshakeComplete sets the callback invoked after every dial attempt.
// Must be called before any pools are created.
func (m *Manager) SetOnHandshakeComplete(cb OnHandshakeComplete) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onHandshake = cb
}

// StartStatsLoop starts a periodic goroutine that calls the stats callback for each pool.
func (m *Manager) StartStatsLoop(interval time.Duration, cb StatsCallback) {
	m.statsCallback = cb
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, s := range m.AllStats() {
					cb(s)
				}
			case <-m.statsStopCh:
				return
			}
		}
	}()
}

// GetOrCreate returns the pool for a profile, creating it lazily if needed.
func (m *Manager) GetOrCreate(profile string, p config.ProfileConfig) *ProfilePool {
	m.mu.RLock()
	if pp, ok := m.pools[profile]; ok {
		m.mu.RUnlock()
		return pp
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if pp, ok := m.pools[profile]; ok {
		return pp
	}

	pp := NewProfilePool(profile, p, m.defaults)
	pp.onPoolExhausted = m.onPoolExhausted
	pp.onHandshake = m.onHandshake
	m.pools[profile] = pp
	slog.Info("created pool", "profile", profile, "host", p.Host, "port", p.Port)
	return pp
}

// Get returns the pool for a profile if it exists.
func (m *Manager) Get(profile string) (*ProfilePool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pp, ok := m.pools[profile]
	return pp, ok
}

// Remove closes and removes the pool for a profile.
func (m *Manager) Remove(profile string) bool {
	m.mu.Lock()
	pp, ok := m.pools[profile]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.pools, profile)
	m.mu.Unlock()

	pp.Close()
	slog.Info("removed pool", "profile", profile)
	return true
}

// DrainProfile drains connections for a specific profile.
func (m *Manager) DrainProfile(profile string) bool {
	m.mu.RLock()
	pp, ok := m.pools[profile]
	m.mu.RUnlock()

	if !ok {
		return false
	}
	pp.Drain()
	return true
}

// AllStats returns stats for all profile pools.
func (m *Manager) AllStats() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make([]Stats, 0, len(m.pools))
	for _, pp := range m.pools {
		stats = append(stats, pp.Stats())
	}
	return stats
}

// ProfileStats returns stats for a specific profile pool.
func (m *Manager) ProfileStats(profile string) (Stats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pp, ok := m.pools[profile]
	if !ok {
		return Stats{}, false
	}
	return pp.Stats(), true
}

// UpdateDefaults updates the default pool settings.
func (m *Manager) UpdateDefaults(defaults config.PoolDefaults) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaults = defaults
}

// Close shuts down all pools and stops the stats loop. Safe to call multiple times.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.statsStopCh)
	})

	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[string]*ProfilePool)
	m.mu.Unlock()

	for _, pp := range pools {
		pp.Close()
	}
}
