package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	emitted  *prometheus.CounterVec
	lastSeen *prometheus.GaugeVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking events emitted by the oracle
// adapters. Series are keyed by adapter name and event type so a silent
// adapter shows up as a stale last_emitted timestamp.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendoracle",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of oracle events segmented by adapter and type.",
			}, []string{"oracle", "type"}),
			lastSeen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "lendoracle",
				Subsystem: "events",
				Name:      "last_emitted_timestamp_seconds",
				Help:      "Unix time of the most recent event per adapter and type.",
			}, []string{"oracle", "type"}),
		}
		prometheus.MustRegister(eventRegistry.emitted, eventRegistry.lastSeen)
	})
	return eventRegistry
}

// RecordEvent counts one event of eventType emitted by the named adapter at
// the given time. Blank labels are reported as "unknown".
func (m *eventMetrics) RecordEvent(oracleName, eventType string, at time.Time) {
	if m == nil {
		return
	}
	name := labelOrUnknown(oracleName)
	kind := labelOrUnknown(eventType)
	m.emitted.WithLabelValues(name, kind).Inc()
	m.lastSeen.WithLabelValues(name, kind).Set(float64(at.Unix()))
}

func labelOrUnknown(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}
