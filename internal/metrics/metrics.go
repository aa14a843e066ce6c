// Package metrics provides Prometheus metrics for the acquisition engine.
//
// Every Metrics value owns a private registry so tests and multiple engines
// in one process never collide. All recording methods are safe on a nil
// receiver, which lets packages accept an optional *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "arvscout"

// Metrics holds all Prometheus metrics.
type Metrics struct {
	registry *prometheus.Registry

	cacheLookups     *prometheus.CounterVec
	quotaUsed        *prometheus.GaugeVec
	quotaSkips       *prometheus.CounterVec
	quotaFailures    *prometheus.CounterVec
	providerCalls    *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	waterfallRuns    *prometheus.CounterVec
	breakerState     *prometheus.GaugeVec
	validations      *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New creates and registers all metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		cacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Result cache lookups by data type and outcome (hit, miss, expired, corrupt)",
			},
			[]string{"data_type", "result"},
		),
		quotaUsed: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "quota_used",
				Help:      "Requests recorded against the provider quota in the current period",
			},
			[]string{"provider", "period"},
		),
		quotaSkips: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quota_skips_total",
				Help:      "Tiers skipped because the provider quota was at its threshold",
			},
			[]string{"provider"},
		),
		quotaFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quota_failed_requests_total",
				Help:      "Failed provider requests recorded in the ledger",
			},
			[]string{"provider"},
		),
		providerCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Provider adapter calls by capability and outcome",
			},
			[]string{"provider", "capability", "outcome"},
		),
		providerDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_call_duration_seconds",
				Help:      "Provider adapter call duration including retries",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider", "capability"},
		),
		waterfallRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "waterfall_runs_total",
				Help:      "Comparables waterfall runs by final state",
			},
			[]string{"outcome", "source"},
		),
		breakerState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Per-tier circuit breaker state (0 = closed, 1 = half-open, 2 = open)",
			},
			[]string{"provider"},
		),
		validations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "historical_validations_total",
				Help:      "Historical validations by result (valid, flagged, error)",
			},
			[]string{"result"},
		),
		httpRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of inbound HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Inbound HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// Registry exposes the underlying registry (for tests and custom handlers).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CacheLookup counts one cache read.
func (m *Metrics) CacheLookup(dataType, result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(dataType, result).Inc()
}

// QuotaUsed publishes the latest counter value for a provider.
func (m *Metrics) QuotaUsed(provider, period string, used int64) {
	if m == nil {
		return
	}
	m.quotaUsed.WithLabelValues(provider, period).Set(float64(used))
}

// QuotaSkip counts a tier skipped for quota.
func (m *Metrics) QuotaSkip(provider string) {
	if m == nil {
		return
	}
	m.quotaSkips.WithLabelValues(provider).Inc()
}

// QuotaFailure counts a failed request recorded in the ledger.
func (m *Metrics) QuotaFailure(provider string) {
	if m == nil {
		return
	}
	m.quotaFailures.WithLabelValues(provider).Inc()
}

// ProviderCall records one adapter call.
func (m *Metrics) ProviderCall(provider, capability, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(provider, capability, outcome).Inc()
	m.providerDuration.WithLabelValues(provider, capability).Observe(d.Seconds())
}

// WaterfallRun counts a finished comparables run.
func (m *Metrics) WaterfallRun(outcome, source string) {
	if m == nil {
		return
	}
	m.waterfallRuns.WithLabelValues(outcome, source).Inc()
}

// BreakerState publishes a breaker transition.
func (m *Metrics) BreakerState(provider string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(provider).Set(float64(state))
}

// Validation counts one historical validation.
func (m *Metrics) Validation(result string) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records metrics for an inbound HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route string, statusCode int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
