package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// newTestCollector creates a Collector registered with a fresh registry
// so tests don't conflict with each other or with the default registry.
func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	c := New()
	return c, c.Registry
}

func getGaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	g.Write(m)
	return m.GetGauge().GetValue()
}

func getCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	c.Write(m)
	return m.GetCounter().GetValue()
}

func TestUpdatePoolStatsAuthority(t *testing.T) {
	c, _ := newTestCollector(t)

	// UpdatePoolStats is the sole authority for connection gauges.
	c.UpdatePoolStats("profile1", 3, 5, 8, 1)

	val := getGaugeValue(c.connectionsActive.WithLabelValues("profile1"))
	if val != 3 {
		t.Errorf("expected active=3, got %v", val)
	}

	// A second call replaces (not increments) the value
	c.UpdatePoolStats("profile1", 2, 4, 6, 0)
	val = getGaugeValue(c.connectionsActive.WithLabelValues("profile1"))
	if val != 2 {
		t.Errorf("expected active=2 after update, got %v", val)
	}
}

func TestHandshakeCompleted(t *testing.T) {
	c, reg := newTestCollector(t)

	c.HandshakeCompleted("profile1", "ok", 10*time.Millisecond)
	c.HandshakeCompleted("profile1", "ok", 20*time.Millisecond)
	c.HandshakeCompleted("profile1", "TlsRejected", 5*time.Millisecond)

	if v := getCounterValue(c.handshakeTotal.WithLabelValues("profile1", "ok")); v != 2 {
		t.Errorf("expected ok total=2, got %v", v)
	}
	if v := getCounterValue(c.handshakeTotal.WithLabelValues("profile1", "TlsRejected")); v != 1 {
		t.Errorf("expected TlsRejected total=1, got %v", v)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, f := range families {
		if f.GetName() == "nzgo_handshake_duration_seconds" {
			found = true
			m := f.GetMetric()
			if len(m) == 0 {
				t.Fatal("no metric samples")
			}
		}
	}
	if !found {
		t.Error("handshake duration metric not found")
	}
}

func TestProtocolNegotiated(t *testing.T) {
	c, _ := newTestCollector(t)

	c.ProtocolNegotiated("profile1", 5)
	c.ProtocolNegotiated("profile1", 5)
	c.ProtocolNegotiated("profile1", 4)

	if v := getCounterValue(c.protocolVersion.WithLabelValues("profile1", "5")); v != 2 {
		t.Errorf("expected protocol 5 count=2, got %v", v)
	}
	if v := getCounterValue(c.protocolVersion.WithLabelValues("profile1", "4")); v != 1 {
		t.Errorf("expected protocol 4 count=1, got %v", v)
	}
}

func TestAuthMethodUsed(t *testing.T) {
	c, _ := newTestCollector(t)

	c.AuthMethodUsed("profile1", "salted_sha256")
	c.AuthMethodUsed("profile1", "salted_sha256")
	c.AuthMethodUsed("profile1", "plain")
	c.AuthMethodUsed("profile1", "") // no-op, auth never reached

	if v := getCounterValue(c.authMethodTotal.WithLabelValues("profile1", "salted_sha256")); v != 2 {
		t.Errorf("expected salted_sha256=2, got %v", v)
	}
	if v := getCounterValue(c.authMethodTotal.WithLabelValues("profile1", "plain")); v != 1 {
		t.Errorf("expected plain=1, got %v", v)
	}
}

func TestSetProfileHealth(t *testing.T) {
	c, _ := newTestCollector(t)

	c.SetProfileHealth("profile1", true)
	val := getGaugeValue(c.profileHealth.WithLabelValues("profile1"))
	if val != 1 {
		t.Errorf("expected health=1 (healthy), got %v", val)
	}

	c.SetProfileHealth("profile1", false)
	val = getGaugeValue(c.profileHealth.WithLabelValues("profile1"))
	if val != 0 {
		t.Errorf("expected health=0 (unhealthy), got %v", val)
	}
}

func TestPoolExhausted(t *testing.T) {
	c, _ := newTestCollector(t)

	c.PoolExhausted("profile1")
	c.PoolExhausted("profile1")
	c.PoolExhausted("profile1")

	val := getCounterValue(c.poolExhausted.WithLabelValues("profile1"))
	if val != 3 {
		t.Errorf("expected exhausted=3, got %v", val)
	}
}

func TestUpdatePoolStats(t *testing.T) {
	c, _ := newTestCollector(t)

	c.UpdatePoolStats("profile1", 5, 10, 15, 2)

	if v := getGaugeValue(c.connectionsActive.WithLabelValues("profile1")); v != 5 {
		t.Errorf("expected active=5, got %v", v)
	}
	if v := getGaugeValue(c.connectionsIdle.WithLabelValues("profile1")); v != 10 {
		t.Errorf("expected idle=10, got %v", v)
	}
	if v := getGaugeValue(c.connectionsTotal.WithLabelValues("profile1")); v != 15 {
		t.Errorf("expected total=15, got %v", v)
	}
	if v := getGaugeValue(c.connectionsWaiting.WithLabelValues("profile1")); v != 2 {
		t.Errorf("expected waiting=2, got %v", v)
	}
}

func TestHealthCheckCompletedAndError(t *testing.T) {
	c, _ := newTestCollector(t)

	c.HealthCheckCompleted("profile1", 3*time.Millisecond, true)
	c.HealthCheckError("profile1", "connection_refused")
	c.HealthCheckError("profile1", "connection_refused")

	if v := getCounterValue(c.healthCheckErrors.WithLabelValues("profile1", "connection_refused")); v != 2 {
		t.Errorf("expected connection_refused errors=2, got %v", v)
	}
}

func TestRemoveProfile(t *testing.T) {
	c, reg := newTestCollector(t)

	c.UpdatePoolStats("profile1", 1, 2, 3, 0)
	c.SetProfileHealth("profile1", true)
	c.PoolExhausted("profile1")
	c.AuthMethodUsed("profile1", "salted_sha256")

	c.RemoveProfile("profile1")

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}

	for _, f := range families {
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "profile" && l.GetValue() == "profile1" {
					t.Errorf("metric %s still has profile1 label after removal", f.GetName())
				}
			}
		}
	}
}

func TestMultipleProfiles(t *testing.T) {
	c, _ := newTestCollector(t)

	c.UpdatePoolStats("p1", 1, 0, 1, 0)
	c.UpdatePoolStats("p2", 2, 1, 3, 0)

	v1 := getGaugeValue(c.connectionsActive.WithLabelValues("p1"))
	v2 := getGaugeValue(c.connectionsActive.WithLabelValues("p2"))

	if v1 != 1 {
		t.Errorf("expected p1 active=1, got %v", v1)
	}
	if v2 != 2 {
		t.Errorf("expected p2 active=2, got %v", v2)
	}
}

func TestNewDoesNotPanicOnMultipleCalls(t *testing.T) {
	// Calling New() multiple times should not panic because each creates
	// its own registry instead of using the global default.
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("New() panicked on repeated calls: %v", r)
		}
	}()

	c1 := New()
	c2 := New()

	c1.UpdatePoolStats("p1", 1, 0, 1, 0)
	c2.UpdatePoolStats("p1", 2, 0, 2, 0)

	v1 := getGaugeValue(c1.connectionsActive.WithLabelValues("p1"))
	v2 := getGaugeValue(c2.connectionsActive.WithLabelValues("p1"))

	if v1 != 1 {
		t.Errorf("c1 expected active=1, got %v", v1)
	}
	if v2 != 2 {
		t.Errorf("c2 expected active=2, got %v", v2)
	}
}
