package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/nzconn/nzgo/internal/config"
	"github.com/nzconn/nzgo/internal/handshake"
	"github.com/nzconn/nzgo/internal/metrics"
	"github.com/nzconn/nzgo/internal/router"
)

// Status represents the health status of a connection profile.
type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// ProfileHealth holds health information for a connection profile.
type ProfileHealth struct {
	Status              Status    `json:"status"`
	LastCheck           time.Time `json:"last_check"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

// Checker performs periodic health checks against connection profiles. Each
// probe runs only phase 1 of the handshake (the version walk): enough to
// prove the server is alive and speaking the protocol without paying for a
// full authenticated session on every tick.
type Checker struct {
	mu       sync.RWMutex
	profiles map[string]*ProfileHealth
	router   *router.Router
	metrics  *metrics.Collector

	interval          time.Duration
	failureThreshold  int
	connectionTimeout time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewChecker creates a new health checker with configurable parameters.
func NewChecker(r *router.Router, m *metrics.Collector, defaults config.PoolDefaults) *Checker {
	interval := defaults.HealthInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	timeout := defaults.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		profiles:          make(map[string]*ProfileHealth),
		router:            r,
		metrics:           m,
		interval:          interval,
		failureThreshold:  3,
		connectionTimeout: timeout,
		stopCh:            make(chan struct{}),
	}
}

// Start begins periodic health checking.
func (c *Checker) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run()
	}()
	slog.Info("health checker started", "interval", c.interval, "threshold", c.failureThreshold)
}

// Stop stops the health checker. Safe to call multiple times.
func (c *Checker) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
	slog.Info("health checker stopped")
}

func (c *Checker) run() {
	c.checkAll()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.checkAll()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Checker) checkAll() {
	profiles := c.router.List()

	const maxWorkers = 10
	sem := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup

	for name, p := range profiles {
		if c.router.IsPaused(name) {
			continue
		}
		name, p := name, p
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			start := time.Now()
			healthy := c.probeProfile(name, p)
			elapsed := time.Since(start)
			if c.metrics != nil {
				c.metrics.HealthCheckCompleted(name, elapsed, healthy)
			}
			c.updateStatus(name, healthy)
		}()
	}
	wg.Wait()
}

// probeProfile opens a fresh TCP connection and runs only the handshake's
// version-negotiation phase, then discards the connection. A healthy server
// accepts CLIENT_BEGIN and either acknowledges or counter-offers; anything
// else (refused connect, timeout, protocol error) counts as a failed probe;
// updateStatus marks the profile unhealthy after failureThreshold in a row.
func (c *Checker) probeProfile(name string, p config.ProfileConfig) bool {
	addr := net.JoinHostPort(p.Host, fmt.Sprintf("%d", p.Port))
	conn, err := net.DialTimeout("tcp", addr, c.connectionTimeout)
	if err != nil {
		if c.metrics != nil {
			c.metrics.HealthCheckError(name, "connection_refused")
		}
		c.setLastError(name, err.Error())
		return false
	}
	defer conn.Close()

	driver := handshake.NewDriver(conn, nil, handshake.Options{
		ReadTimeout: c.connectionTimeout,
		AppName:     "nzgo-healthcheck",
	})

	if _, err := driver.ProbeVersion(); err != nil {
		if c.metrics != nil {
			c.metrics.HealthCheckError(name, errorKind(err))
		}
		c.setLastError(name, err.Error())
		return false
	}

	c.setLastError(name, "")
	return true
}

func errorKind(err error) string {
	if he, ok := err.(*handshake.Error); ok {
		return he.Kind.String()
	}
	return "unknown"
}

func (c *Checker) setLastError(name, errMsg string) {
	c.mu.Lock()
	ph := c.getOrCreate(name)
	if errMsg != "" {
		ph.LastError = errMsg
	}
	c.mu.Unlock()
}

func (c *Checker) updateStatus(name string, healthy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ph := c.getOrCreate(name)
	ph.LastCheck = time.Now()

	if healthy {
		if ph.ConsecutiveFailures > 0 {
			slog.Info("profile recovered", "profile", name, "failures", ph.ConsecutiveFailures)
		}
		ph.Status = StatusHealthy
		ph.ConsecutiveFailures = 0
		ph.LastError = ""
	} else {
		ph.ConsecutiveFailures++
		if ph.ConsecutiveFailures >= c.failureThreshold {
			if ph.Status != StatusUnhealthy {
				slog.Warn("profile marked unhealthy", "profile", name, "failures", ph.ConsecutiveFailures, "error", ph.LastError)
			}
			ph.Status = StatusUnhealthy
		}
	}

	if c.metrics != nil {
		c.metrics.SetProfileHealth(name, ph.Status == StatusHealthy)
	}
}

func (c *Checker) getOrCreate(name string) *ProfileHealth {
	ph, ok := c.profiles[name]
	if !ok {
		ph = &ProfileHealth{Status: StatusUnknown}
		c.profiles[name] = ph
	}
	return ph
}

// IsHealthy returns whether a profile is healthy (or unknown, which is treated as healthy).
func (c *Checker) IsHealthy(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ph, ok := c.profiles[name]
	if !ok {
		return true // unknown = allow through
	}
	return ph.Status != StatusUnhealthy
}

// GetStatus returns the health status for a profile.
func (c *Checker) GetStatus(name string) ProfileHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ph, ok := c.profiles[name]
	if !ok {
		return ProfileHealth{Status: StatusUnknown}
	}
	return *ph
}

// GetAllStatuses returns health statuses for all known profiles.
func (c *Checker) GetAllStatuses() map[string]ProfileHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]ProfileHealth, len(c.profiles))
	for name, ph := range c.profiles {
		result[name] = *ph
	}
	return result
}

// OverallHealthy returns true if all known profiles are healthy.
func (c *Checker) OverallHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, ph := range c.profiles {
		if ph.Status == StatusUnhealthy {
			return false
		}
	}
	return true
}

// RemoveProfile removes health state for a profile that has been deleted.
func (c *Checker) RemoveProfile(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.profiles, name)
	if c.metrics != nil {
		c.metrics.RemoveProfile(name)
	}
	slog.Info("removed health state", "profile", name)
}

// Probe runs one handshake version probe against name immediately,
// bypassing the periodic schedule. It returns nil on success, or an error if
// the profile is unknown or the probe failed.
func (c *Checker) Probe(ctx context.Context, name string) error {
	p, err := c.router.Resolve(name)
	if err != nil {
		return err
	}
	healthy := c.probeProfile(name, p)
	if !healthy {
		return fmt.Errorf("profile %q failed handshake probe", name)
	}
	return nil
}
