package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type httpMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	httpMetricsOnce sync.Once
	httpRegistry    *httpMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics
)

// HTTP returns the lazily-initialised registry used to record API activity.
func HTTP() *httpMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &httpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendoracle",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendoracle",
				Subsystem: "http",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lendoracle",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendoracle",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by the rate limiter.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(
			httpRegistry.requests,
			httpRegistry.errors,
			httpRegistry.latency,
			httpRegistry.throttles,
		)
	})
	return httpRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *httpMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

func (m *httpMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.throttles.WithLabelValues(route).Inc()
}

// OracleMetrics captures adapter level activity.
type OracleMetrics struct {
	queries     *prometheus.CounterVec
	configs     *prometheus.CounterVec
	twapUpdates *prometheus.CounterVec
	pruned      *prometheus.CounterVec
	windowSize  *prometheus.GaugeVec
	feedAge     *prometheus.GaugeVec
}

// Oracle returns the lazily-initialised adapter metrics registry.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			queries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendoracle",
				Subsystem: "oracle",
				Name:      "price_queries_total",
				Help:      "Count of price queries segmented by adapter and outcome.",
			}, []string{"oracle", "outcome"}),
			configs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendoracle",
				Subsystem: "oracle",
				Name:      "token_configs_total",
				Help:      "Count of accepted token configurations per adapter.",
			}, []string{"oracle"}),
			twapUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendoracle",
				Subsystem: "twap",
				Name:      "updates_total",
				Help:      "Count of TWAP updates segmented by outcome (updated, noop, error).",
			}, []string{"asset", "outcome"}),
			pruned: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendoracle",
				Subsystem: "twap",
				Name:      "observations_pruned_total",
				Help:      "Count of observations discarded after the window start advanced.",
			}, []string{"asset"}),
			windowSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "lendoracle",
				Subsystem: "twap",
				Name:      "window_observations",
				Help:      "Number of observations retained for the asset.",
			}, []string{"asset"}),
			feedAge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "lendoracle",
				Subsystem: "feed",
				Name:      "age_seconds",
				Help:      "Age of the latest feed round when it was read.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			oracleRegistry.queries,
			oracleRegistry.configs,
			oracleRegistry.twapUpdates,
			oracleRegistry.pruned,
			oracleRegistry.windowSize,
			oracleRegistry.feedAge,
		)
	})
	return oracleRegistry
}

// RecordQuery records a GetPrice outcome.
func (m *OracleMetrics) RecordQuery(oracle string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.queries.WithLabelValues(labelOracle(oracle), outcome).Inc()
}

func (m *OracleMetrics) RecordConfig(oracle string) {
	if m == nil {
		return
	}
	m.configs.WithLabelValues(labelOracle(oracle)).Inc()
}

// RecordTwapUpdate records the outcome of a TWAP update for asset.
func (m *OracleMetrics) RecordTwapUpdate(asset, outcome string) {
	if m == nil {
		return
	}
	m.twapUpdates.WithLabelValues(labelAsset(asset), outcome).Inc()
}

// RecordWindow tracks pruning and the retained window size for asset.
func (m *OracleMetrics) RecordWindow(asset string, pruned, retained int) {
	if m == nil {
		return
	}
	label := labelAsset(asset)
	if pruned > 0 {
		m.pruned.WithLabelValues(label).Add(float64(pruned))
	}
	m.windowSize.WithLabelValues(label).Set(float64(retained))
}

func (m *OracleMetrics) RecordFeedAge(asset string, age time.Duration) {
	if m == nil {
		return
	}
	m.feedAge.WithLabelValues(labelAsset(asset)).Set(age.Seconds())
}

func labelOracle(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "unknown"
	}
	return strings.ToLower(trimmed)
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToLower(trimmed)
}
