// Package metrics exposes the Prometheus counters and gauges that back the
// optional /metrics endpoint: requests, redirects, errors, and the session
// registry's size.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter and gauge this service reports.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RedirectsTotal   prometheus.Counter
	ErrorsTotal      *prometheus.CounterVec
	SessionsActive   prometheus.Gauge
	SessionsCreated  prometheus.Counter
	SessionsEvicted  prometheus.Counter
	Uptime           prometheus.Gauge
	startTime        time.Time
}

// New registers and returns the service's metric set against the default
// Prometheus registry.
func New() *Metrics {
	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "httpcloakproxy_requests_total",
				Help: "Total number of proxied requests by method and final status.",
			},
			[]string{"method", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "httpcloakproxy_request_duration_seconds",
				Help:    "Elapsed time of a proxied request, orchestrator entry to response materialization.",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method"},
		),
		RedirectsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "httpcloakproxy_redirects_total",
				Help: "Total number of redirect hops followed across all requests.",
			},
		),
		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "httpcloakproxy_errors_total",
				Help: "Total number of requests that failed, by error kind.",
			},
			[]string{"kind"},
		),
		SessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "httpcloakproxy_sessions_active",
				Help: "Number of sessions currently held in the registry.",
			},
		),
		SessionsCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "httpcloakproxy_sessions_created_total",
				Help: "Total number of sessions created.",
			},
		),
		SessionsEvicted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "httpcloakproxy_sessions_evicted_total",
				Help: "Total number of sessions evicted by the TTL sweep.",
			},
		),
		Uptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "httpcloakproxy_uptime_seconds",
				Help: "Seconds since the process started.",
			},
		),
	}

	go m.updateUptime()

	return m
}

func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordRequest records one completed proxy request.
func (m *Metrics) RecordRequest(method, status string, duration time.Duration, redirectHops int) {
	m.RequestsTotal.WithLabelValues(method, status).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(duration.Seconds())
	if redirectHops > 0 {
		m.RedirectsTotal.Add(float64(redirectHops))
	}
}

// RecordError records one failed proxy request by the apierrors.Kind it
// carried.
func (m *Metrics) RecordError(kind string) {
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}

// SetSessionsActive reports the registry's current size.
func (m *Metrics) SetSessionsActive(count int) {
	m.SessionsActive.Set(float64(count))
}

// IncSessionsCreated increments the sessions-created counter.
func (m *Metrics) IncSessionsCreated() {
	m.SessionsCreated.Inc()
}

// IncSessionsEvicted increments the sessions-evicted counter.
func (m *Metrics) IncSessionsEvicted() {
	m.SessionsEvicted.Inc()
}
