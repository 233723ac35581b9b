// Package metrics holds the Prometheus collectors for the gateway. All
// collectors are registered on the default registry and exposed by the
// GET /metrics handler of the HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "HTTP requests handled, by method, route template and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_http_request_duration_seconds",
			Help:    "HTTP request latency, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)
)

var (
	// AuthFailuresTotal is labelled by the internal failure reason. The reason
	// is never exposed to the caller.
	AuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_auth_failures_total",
			Help: "Rejected credentials, by internal reason.",
		},
		[]string{"reason"},
	)

	RateLimitDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_rate_limit_decisions_total",
			Help: "Admission decisions, by outcome and reported window.",
		},
		[]string{"outcome", "window"},
	)

	QuotaStoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_quota_store_errors_total",
			Help: "Failed quota store operations, by operation.",
		},
		[]string{"operation"},
	)

	QuotaBreakerOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_quota_breaker_open",
			Help: "1 while the quota store circuit breaker is open, 0 otherwise.",
		},
	)
)

var (
	IdentityCacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_identity_cache_lookups_total",
			Help: "Identity cache lookups, by result (hit, miss).",
		},
		[]string{"result"},
	)

	IdentityCacheInvalidationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_identity_cache_invalidations_total",
			Help: "Identity cache entries evicted by revocation.",
		},
	)
)

var (
	UsageRecordsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_usage_records_dropped_total",
			Help: "Usage records dropped because the queue was full.",
		},
	)

	UsageWriteErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_usage_write_errors_total",
			Help: "Usage records that failed to persist.",
		},
	)
)
