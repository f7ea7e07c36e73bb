package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordHelpers(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordStart("offline", "created")
	m.RecordStart("offline", "created")
	m.RecordChunkDropped("out_of_order")
	m.RecordProviderError("cloud", "throttled")

	if got := testutil.ToFloat64(m.SessionStarts.WithLabelValues("offline", "created")); got != 2 {
		t.Fatalf("expected 2 starts, got %v", got)
	}
	if got := testutil.ToFloat64(m.ChunksDropped.WithLabelValues("out_of_order")); got != 1 {
		t.Fatalf("expected 1 dropped chunk, got %v", got)
	}
	if got := testutil.ToFloat64(m.ProviderErrors.WithLabelValues("cloud", "throttled")); got != 1 {
		t.Fatalf("expected 1 provider error, got %v", got)
	}
}

func TestNew_IndependentRegistries(t *testing.T) {
	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
}

func TestRecordSinkDelivery_NilSafe(t *testing.T) {
	var nilMetrics *Metrics
	nilMetrics.RecordSinkDelivery("kafka", "ok")

	m := New(prometheus.NewRegistry())
	m.RecordSinkDelivery("kafka", "ok")
	m.RecordSinkDelivery("kafka", "error")
	m.RecordSinkDelivery("kafka", "ok")
	if got := testutil.ToFloat64(m.SinkDeliveries.WithLabelValues("kafka", "ok")); got != 2 {
		t.Fatalf("expected 2 deliveries, got %v", got)
	}
}
