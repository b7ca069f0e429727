package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics for mysqlbouncer.
type Collector struct {
	Registry *prometheus.Registry

	sessionsActive      prometheus.Gauge
	sessionsTotal       prometheus.Counter
	sessionDuration     prometheus.Histogram
	backendHealth       *prometheus.GaugeVec
	backendClients      *prometheus.GaugeVec
	backendStateChanges *prometheus.CounterVec
	idleCacheSize       *prometheus.GaugeVec
	idleCacheHits       prometheus.Counter
	idleCacheMisses     prometheus.Counter
	authFailures        prometheus.Counter
	protocolErrors      *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics using a custom registry.
// Safe to call multiple times (e.g., in tests or on config reload) — each
// call creates an independent registry that doesn't conflict with others.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mysqlbouncer_sessions_active",
			Help: "Number of client connections currently being proxied",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mysqlbouncer_sessions_total",
			Help: "Total client connections accepted",
		}),
		sessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mysqlbouncer_session_duration_seconds",
			Help:    "Duration of a proxied client connection, accept to close",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 18),
		}),
		backendHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mysqlbouncer_backend_health",
				Help: "Backend health as last observed by self-check (1=up, 0=down/unknown)",
			},
			[]string{"backend", "role"},
		),
		backendClients: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mysqlbouncer_backend_connected_clients",
				Help: "Connections currently checked out against a backend",
			},
			[]string{"backend", "role"},
		),
		backendStateChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mysqlbouncer_backend_state_changes_total",
				Help: "Backend health-state transitions, by the state transitioned to",
			},
			[]string{"backend", "state"},
		),
		idleCacheSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mysqlbouncer_idle_cache_size",
				Help: "Idle authenticated server connections currently cached per backend",
			},
			[]string{"backend"},
		),
		idleCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mysqlbouncer_idle_cache_hits_total",
			Help: "CONNECT_SERVER attempts satisfied from the idle-connection cache",
		}),
		idleCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mysqlbouncer_idle_cache_misses_total",
			Help: "CONNECT_SERVER attempts that required a fresh backend dial",
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mysqlbouncer_auth_failures_total",
			Help: "Client authentication attempts rejected (bad scramble, protocol mismatch, refused plugin)",
		}),
		protocolErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mysqlbouncer_protocol_errors_total",
				Help: "Malformed or unsupported wire-protocol packets observed, by phase",
			},
			[]string{"phase"},
		),
	}

	reg.MustRegister(
		c.sessionsActive,
		c.sessionsTotal,
		c.sessionDuration,
		c.backendHealth,
		c.backendClients,
		c.backendStateChanges,
		c.idleCacheSize,
		c.idleCacheHits,
		c.idleCacheMisses,
		c.authFailures,
		c.protocolErrors,
	)

	return c
}

// SessionOpened records a newly accepted client connection.
func (c *Collector) SessionOpened() {
	c.sessionsActive.Inc()
	c.sessionsTotal.Inc()
}

// SessionClosed decrements the active-session gauge. Callers that know the
// session's lifetime should also call SessionDuration.
func (c *Collector) SessionClosed() {
	c.sessionsActive.Dec()
}

// SessionDuration observes how long a session lived, accept to close.
func (c *Collector) SessionDuration(d time.Duration) {
	c.sessionDuration.Observe(d.Seconds())
}

// SetBackendHealth sets the health gauge for a backend (1=up, 0=otherwise).
func (c *Collector) SetBackendHealth(addr, role string, up bool) {
	val := 0.0
	if up {
		val = 1.0
	}
	c.backendHealth.WithLabelValues(addr, role).Set(val)
}

// SetBackendClients sets the connected-clients gauge for a backend.
func (c *Collector) SetBackendClients(addr, role string, n int64) {
	c.backendClients.WithLabelValues(addr, role).Set(float64(n))
}

// BackendStateChanged increments the transition counter for a backend
// entering newState ("up", "down", "unknown").
func (c *Collector) BackendStateChanged(addr, newState string) {
	c.backendStateChanges.WithLabelValues(addr, newState).Inc()
}

// SetIdleCacheSize sets the idle-connection gauge for a backend.
func (c *Collector) SetIdleCacheSize(addr string, n int) {
	c.idleCacheSize.WithLabelValues(addr).Set(float64(n))
}

// IdleCacheHit and IdleCacheMiss record whether CONNECT_SERVER's
// Cache.Borrow found a reusable connection.
func (c *Collector) IdleCacheHit()  { c.idleCacheHits.Inc() }
func (c *Collector) IdleCacheMiss() { c.idleCacheMisses.Inc() }

// AuthFailure increments the auth-failure counter.
func (c *Collector) AuthFailure() { c.authFailures.Inc() }

// ProtocolError increments the protocol-error counter for a phase
// ("handshake", "auth", "query", "frame").
func (c *Collector) ProtocolError(phase string) {
	c.protocolErrors.WithLabelValues(phase).Inc()
}

// RemoveBackend drops every per-backend series for addr, used when a
// backend is unregistered via the admin API.
func (c *Collector) RemoveBackend(addr string) {
	c.backendHealth.DeletePartialMatch(prometheus.Labels{"backend": addr})
	c.backendClients.DeletePartialMatch(prometheus.Labels{"backend": addr})
	c.backendStateChanges.DeletePartialMatch(prometheus.Labels{"backend": addr})
	c.idleCacheSize.DeleteLabelValues(addr)
}
