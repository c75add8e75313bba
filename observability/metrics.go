package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type lendingMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	lendingMetricsOnce sync.Once
	lendingRegistry    *lendingMetrics
)

// LendingMetrics returns the lazily-initialised metrics registry used to
// record lending API activity.
func LendingMetrics() *lendingMetrics {
	lendingMetricsOnce.Do(func() {
		lendingRegistry = &lendingMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lending",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lending",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by operation and status code.",
			}, []string{"operation", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lending",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lending",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by throttling policies.",
			}, []string{"operation", "reason"}),
		}
		prometheus.MustRegister(
			lendingRegistry.requests,
			lendingRegistry.errors,
			lendingRegistry.latency,
			lendingRegistry.throttles,
		)
	})
	return lendingRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *lendingMetrics) Observe(operation string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(operation, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(operation, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied operation
// and reason. Reasons should be stable strings such as "rate_limit" so
// dashboards and alerts remain consistent.
func (m *lendingMetrics) RecordThrottle(operation, reason string) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(operation, reason).Inc()
}
