package observability

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestHTTPObserve(t *testing.T) {
	m := HTTP()
	route := "/v1/test/observe"
	m.Observe(route, http.MethodGet, http.StatusOK, 20*time.Millisecond)
	m.Observe(route, http.MethodGet, http.StatusServiceUnavailable, 40*time.Millisecond)

	if got := testutil.ToFloat64(m.requests.WithLabelValues(route, http.MethodGet, "success")); got != 1 {
		t.Fatalf("unexpected success count %v", got)
	}
	if got := testutil.ToFloat64(m.errors.WithLabelValues(route, http.MethodGet, "503")); got != 1 {
		t.Fatalf("unexpected error count %v", got)
	}

	metric := &dto.Metric{}
	if err := m.latency.WithLabelValues(route, http.MethodGet).(prometheus.Metric).Write(metric); err != nil {
		t.Fatalf("write histogram: %v", err)
	}
	if got := metric.GetHistogram().GetSampleCount(); got != 2 {
		t.Fatalf("unexpected sample count %d", got)
	}

	m.RecordThrottle("")
	if got := testutil.ToFloat64(m.throttles.WithLabelValues("unknown")); got < 1 {
		t.Fatalf("throttle not recorded")
	}
}

func TestOracleMetrics(t *testing.T) {
	m := Oracle()
	m.RecordQuery(" ChainlinkTest ", nil)
	m.RecordQuery("chainlinktest", errors.New("boom"))
	if got := testutil.ToFloat64(m.queries.WithLabelValues("chainlinktest", "success")); got != 1 {
		t.Fatalf("unexpected success count %v", got)
	}
	if got := testutil.ToFloat64(m.queries.WithLabelValues("chainlinktest", "error")); got != 1 {
		t.Fatalf("unexpected error count %v", got)
	}

	asset := "0x00000000000000000000000000000000000000AB"
	m.RecordWindow(asset, 3, 4)
	m.RecordWindow(asset, 0, 2)
	if got := testutil.ToFloat64(m.pruned.WithLabelValues("0x00000000000000000000000000000000000000ab")); got != 3 {
		t.Fatalf("unexpected pruned count %v", got)
	}
	if got := testutil.ToFloat64(m.windowSize.WithLabelValues("0x00000000000000000000000000000000000000ab")); got != 2 {
		t.Fatalf("unexpected window size %v", got)
	}

	m.RecordFeedAge(asset, 90*time.Second)
	if got := testutil.ToFloat64(m.feedAge.WithLabelValues("0x00000000000000000000000000000000000000ab")); got != 90 {
		t.Fatalf("unexpected feed age %v", got)
	}
}

func TestEventMetrics(t *testing.T) {
	m := Events()
	at := time.Unix(1_700_000_000, 0)

	before := testutil.ToFloat64(m.emitted.WithLabelValues("twap", "oracle.anchor_price_updated"))
	m.RecordEvent("twap", "oracle.anchor_price_updated", at)
	m.RecordEvent(" twap ", "oracle.anchor_price_updated", at.Add(time.Minute))
	if got := testutil.ToFloat64(m.emitted.WithLabelValues("twap", "oracle.anchor_price_updated")); got != before+2 {
		t.Fatalf("expected two twap events, got %v", got)
	}
	if got := testutil.ToFloat64(m.lastSeen.WithLabelValues("twap", "oracle.anchor_price_updated")); got != float64(at.Add(time.Minute).Unix()) {
		t.Fatalf("unexpected last emitted time %v", got)
	}

	// Same type from another adapter is a separate series.
	chainlink := testutil.ToFloat64(m.emitted.WithLabelValues("chainlink", "oracle.anchor_price_updated"))
	if chainlink != 0 {
		t.Fatalf("chainlink series touched by twap events: %v", chainlink)
	}

	blank := testutil.ToFloat64(m.emitted.WithLabelValues("unknown", "unknown"))
	m.RecordEvent("", "  ", at)
	if got := testutil.ToFloat64(m.emitted.WithLabelValues("unknown", "unknown")); got != blank+1 {
		t.Fatalf("expected blank labels to count as unknown, got %v", got)
	}
}
