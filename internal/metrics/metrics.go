// Package metrics exposes the platform core's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Core holds the counters and histograms for the identity and tenancy
// pipeline. All observation methods are nil-safe so components can run
// without metrics wired.
type Core struct {
	registry *prometheus.Registry

	authTotal        *prometheus.CounterVec
	authDuration     prometheus.Histogram
	tenantsCreated   prometheus.Counter
	rateLimitTotal   *prometheus.CounterVec
	auditDropped     prometheus.Counter
	requestsInFlight prometheus.Gauge
}

// New creates a Core metrics set on a private registry.
func New(namespace string) *Core {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c := &Core{
		registry: registry,
		authTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "requests_total",
				Help:      "Authentication attempts by outcome",
			},
			[]string{"outcome"},
		),
		authDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "duration_seconds",
				Help:      "Authentication latency",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
		),
		tenantsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tenant",
				Name:      "handles_created_total",
				Help:      "Tenant scope handles created since startup",
			},
		),
		rateLimitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "decisions_total",
				Help:      "Rate limit decisions by result",
			},
			[]string{"result"},
		),
		auditDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "events_dropped_total",
				Help:      "Audit events dropped under backpressure",
			},
		),
		requestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Requests currently being served",
			},
		),
	}

	registry.MustRegister(
		c.authTotal,
		c.authDuration,
		c.tenantsCreated,
		c.rateLimitTotal,
		c.auditDropped,
		c.requestsInFlight,
	)
	return c
}

// Handler returns the scrape endpoint for this registry.
func (c *Core) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveAuth records one authentication attempt.
func (c *Core) ObserveAuth(outcome string, took time.Duration) {
	if c == nil {
		return
	}
	c.authTotal.WithLabelValues(outcome).Inc()
	c.authDuration.Observe(took.Seconds())
}

// TenantHandleCreated records a tenant scope creation.
func (c *Core) TenantHandleCreated() {
	if c == nil {
		return
	}
	c.tenantsCreated.Inc()
}

// RateLimitDecision records a limiter result: allowed, blocked or degraded.
func (c *Core) RateLimitDecision(result string) {
	if c == nil {
		return
	}
	c.rateLimitTotal.WithLabelValues(result).Inc()
}

// AuditEventDropped records an audit event lost to backpressure.
func (c *Core) AuditEventDropped() {
	if c == nil {
		return
	}
	c.auditDropped.Inc()
}

// RequestStarted increments the in-flight gauge.
func (c *Core) RequestStarted() {
	if c == nil {
		return
	}
	c.requestsInFlight.Inc()
}

// RequestFinished decrements the in-flight gauge.
func (c *Core) RequestFinished() {
	if c == nil {
		return
	}
	c.requestsInFlight.Dec()
}
