// Package metrics defines the Prometheus collectors shared by the gateway
// and the domain services and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	UpstreamRequests     *prometheus.CounterVec
	UpstreamLatency      *prometheus.HistogramVec
	RateLimitDecisions   *prometheus.CounterVec
	EventsPublished      *prometheus.CounterVec
	EventsConsumed       *prometheus.CounterVec
	SearchQueriesTotal   *prometheus.CounterVec
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. A nil reg
// registers with the global default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		UpstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_upstream_requests_total",
				Help: "Proxied requests by route prefix and outcome (status code or error kind).",
			},
			[]string{"route", "outcome"},
		),
		UpstreamLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_upstream_latency_seconds",
				Help:    "Upstream round-trip latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		RateLimitDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_decisions_total",
				Help: "Rate limiter decisions by policy and result (allowed, rejected, error).",
			},
			[]string{"policy", "result"},
		),
		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "events_published_total",
				Help: "Events published by routing key and status.",
			},
			[]string{"topic", "status"},
		),
		EventsConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "events_consumed_total",
				Help: "Events consumed by routing key, group, and outcome (ack, poison, requeue).",
			},
			[]string{"topic", "group", "outcome"},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by result type (hit, miss, zero_result, error).",
			},
			[]string{"result_type"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of search cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of search cache misses.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.UpstreamRequests,
		m.UpstreamLatency,
		m.RateLimitDecisions,
		m.EventsPublished,
		m.EventsConsumed,
		m.SearchQueriesTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CircuitBreakerState,
	)

	return m
}

// NewUnregistered returns collectors attached to a throwaway registry,
// for tests and tools that must not touch the global one.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
