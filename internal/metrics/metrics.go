// Package metrics provides the centralized Prometheus registry for the
// betting core.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry
	once     sync.Once
)

// Counter metrics
var (
	BetsProposedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tablestakes",
		Name:      "bets_proposed_total",
		Help:      "Total number of bet proposals committed",
	})
	BetsResolvedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tablestakes",
		Name:      "bets_resolved_total",
		Help:      "Total number of bets resolved with a winning choice",
	})
	BetsWashedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tablestakes",
		Name:      "bets_washed_total",
		Help:      "Total number of bets washed",
	})
	RateLimitDeniedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tablestakes",
		Name:      "rate_limit_denied_total",
		Help:      "Total number of rate-limited requests",
	}, []string{"kind"})
	QueueJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tablestakes",
		Name:      "queue_jobs_total",
		Help:      "Resolution queue job outcomes",
	}, []string{"type", "outcome"})
	IngestTicksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tablestakes",
		Name:      "ingest_ticks_total",
		Help:      "Live data ingest tick outcomes",
	}, []string{"league", "outcome"})
	ProviderRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tablestakes",
		Name:      "provider_requests_total",
		Help:      "Outbound sports provider request outcomes",
	}, []string{"endpoint", "outcome"})
)

// Gauge metrics
var (
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tablestakes",
		Name:      "resolution_queue_depth",
		Help:      "Jobs currently waiting in the resolution queue",
	})
	ProviderBreakerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tablestakes",
		Name:      "provider_breaker_state",
		Help:      "Sports provider circuit breaker state (0 closed, 1 half-open, 2 open)",
	})
	ActiveBetsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tablestakes",
		Name:      "active_bets",
		Help:      "Bets currently in the active or pending state",
	})
)

// Histogram metrics
var (
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tablestakes",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
	QueueJobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tablestakes",
		Name:      "queue_job_duration_seconds",
		Help:      "Resolution queue job processing time",
		Buckets:   prometheus.DefBuckets,
	}, []string{"type"})
	IngestTickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tablestakes",
		Name:      "ingest_tick_duration_seconds",
		Help:      "Duration of a live data ingest tick",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
	})
)

// Registry returns the process-wide registry, building it on first use.
func Registry() *prometheus.Registry {
	once.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			BetsProposedTotal,
			BetsResolvedTotal,
			BetsWashedTotal,
			RateLimitDeniedTotal,
			QueueJobsTotal,
			IngestTicksTotal,
			ProviderRequestsTotal,
			QueueDepth,
			ProviderBreakerState,
			ActiveBetsGauge,
			HTTPRequestDuration,
			QueueJobDuration,
			IngestTickDuration,
		)
	})
	return registry
}

// Handler returns the /metrics HTTP handler in Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry(), promhttp.HandlerOpts{})
}
