package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics for the driver process.
type Collector struct {
	Registry *prometheus.Registry

	connectionsActive  *prometheus.GaugeVec
	connectionsIdle    *prometheus.GaugeVec
	connectionsTotal   *prometheus.GaugeVec
	connectionsWaiting *prometheus.GaugeVec
	poolExhausted      *prometheus.CounterVec

	handshakeDuration *prometheus.HistogramVec
	handshakeTotal    *prometheus.CounterVec
	protocolVersion   *prometheus.CounterVec
	authMethodTotal   *prometheus.CounterVec

	profileHealth       *prometheus.GaugeVec
	healthCheckDuration *prometheus.HistogramVec
	healthCheckErrors   *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics using a custom registry.
// Safe to call multiple times (e.g., in tests or on config reload) — each call
// creates an independent registry that doesn't conflict with others.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		connectionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nzgo_connections_active",
				Help: "Number of active connections per profile",
			},
			[]string{"profile"},
		),
		connectionsIdle: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nzgo_connections_idle",
				Help: "Number of idle connections per profile",
			},
			[]string{"profile"},
		),
		connectionsTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nzgo_connections_total",
				Help: "Total number of pooled connections per profile",
			},
			[]string{"profile"},
		),
		connectionsWaiting: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nzgo_connections_waiting",
				Help: "Number of goroutines waiting for a connection per profile",
			},
			[]string{"profile"},
		),
		poolExhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nzgo_pool_exhausted_total",
				Help: "Total number of times a profile's pool was exhausted",
			},
			[]string{"profile"},
		),

		handshakeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nzgo_handshake_duration_seconds",
				Help:    "Duration of the connection handshake by outcome",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{"profile", "result"},
		),
		handshakeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nzgo_handshake_total",
				Help: "Total handshake attempts by outcome kind",
			},
			[]string{"profile", "result"},
		),
		protocolVersion: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nzgo_handshake_protocol_total",
				Help: "Negotiated sub-protocol version by connection",
			},
			[]string{"profile", "protocol"},
		),
		authMethodTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nzgo_handshake_auth_method_total",
				Help: "Authentication method demanded by the server",
			},
			[]string{"profile", "method"},
		),

		profileHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nzgo_profile_health",
				Help: "Health status of a connection profile (1=healthy, 0=unhealthy)",
			},
			[]string{"profile"},
		),
		healthCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nzgo_health_check_duration_seconds",
				Help:    "Duration of health check probes",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"profile", "status"},
		),
		healthCheckErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nzgo_health_check_errors_total",
				Help: "Health check errors by type",
			},
			[]string{"profile", "error_type"},
		),
	}

	reg.MustRegister(
		c.connectionsActive,
		c.connectionsIdle,
		c.connectionsTotal,
		c.connectionsWaiting,
		c.poolExhausted,
		c.handshakeDuration,
		c.handshakeTotal,
		c.protocolVersion,
		c.authMethodTotal,
		c.profileHealth,
		c.healthCheckDuration,
		c.healthCheckErrors,
	)

	return c
}

// HandshakeCompleted records a handshake attempt's duration and outcome.
// result is "ok" on success or a handshake.Kind string on failure.
func (c *Collector) HandshakeCompleted(profile, result string, d time.Duration) {
	c.handshakeDuration.WithLabelValues(profile, result).Observe(d.Seconds())
	c.handshakeTotal.WithLabelValues(profile, result).Inc()
}

// ProtocolNegotiated records the sub-protocol version agreed on for a session.
func (c *Collector) ProtocolNegotiated(profile string, protocol int) {
	c.protocolVersion.WithLabelValues(profile, protocolLabel(protocol)).Inc()
}

// AuthMethodUsed records which authentication method the server demanded.
func (c *Collector) AuthMethodUsed(profile, method string) {
	if method == "" {
		return
	}
	c.authMethodTotal.WithLabelValues(profile, method).Inc()
}

// SetProfileHealth sets the health gauge for a profile.
func (c *Collector) SetProfileHealth(profile string, healthy bool) {
	val := 0.0
	if healthy {
		val = 1.0
	}
	c.profileHealth.WithLabelValues(profile).Set(val)
}

// PoolExhausted increments the pool exhausted counter.
func (c *Collector) PoolExhausted(profile string) {
	c.poolExhausted.WithLabelValues(profile).Inc()
}

// UpdatePoolStats updates the pool gauge metrics from stats.
func (c *Collector) UpdatePoolStats(profile string, active, idle, total, waiting int) {
	c.connectionsActive.WithLabelValues(profile).Set(float64(active))
	c.connectionsIdle.WithLabelValues(profile).Set(float64(idle))
	c.connectionsTotal.WithLabelValues(profile).Set(float64(total))
	c.connectionsWaiting.WithLabelValues(profile).Set(float64(waiting))
}

// HealthCheckCompleted records a health check probe duration and result.
func (c *Collector) HealthCheckCompleted(profile string, d time.Duration, healthy bool) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	c.healthCheckDuration.WithLabelValues(profile, status).Observe(d.Seconds())
}

// HealthCheckError records a health check error by type.
func (c *Collector) HealthCheckError(profile, errorType string) {
	c.healthCheckErrors.WithLabelValues(profile, errorType).Inc()
}

// RemoveProfile removes all metrics series for a profile that no longer exists.
func (c *Collector) RemoveProfile(profile string) {
	c.connectionsActive.DeleteLabelValues(profile)
	c.connectionsIdle.DeleteLabelValues(profile)
	c.connectionsTotal.DeleteLabelValues(profile)
	c.connectionsWaiting.DeleteLabelValues(profile)
	c.poolExhausted.DeleteLabelValues(profile)
	c.handshakeDuration.DeletePartialMatch(prometheus.Labels{"profile": profile})
	c.handshakeTotal.DeletePartialMatch(prometheus.Labels{"profile": profile})
	c.protocolVersion.DeletePartialMatch(prometheus.Labels{"profile": profile})
	c.authMethodTotal.DeletePartialMatch(prometheus.Labels{"profile": profile})
	c.profileHealth.DeleteLabelValues(profile)
	c.healthCheckDuration.DeletePartialMatch(prometheus.Labels{"profile": profile})
	c.healthCheckErrors.DeletePartialMatch(prometheus.Labels{"profile": profile})
}

func protocolLabel(protocol int) string {
	if protocol == 0 {
		return "none"
	}
	return strconv.Itoa(protocol)
}
