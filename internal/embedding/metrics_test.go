package embedding

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetrics_SnapshotComputesPercentilesPerTaskType(t *testing.T) {
	m := newMetrics(prometheus.NewRegistry())

	latencies := []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		30 * time.Millisecond,
		40 * time.Millisecond,
		50 * time.Millisecond,
	}
	for _, d := range latencies {
		m.observeLatency("RETRIEVAL_QUERY", d)
	}
	m.recordError("RETRIEVAL_QUERY")

	report := m.snapshot()
	byType, ok := report.ByTaskType["RETRIEVAL_QUERY"]
	if !ok {
		t.Fatal("snapshot() missing RETRIEVAL_QUERY breakdown")
	}
	if byType.Requests != 5 {
		t.Errorf("Requests = %d, want 5", byType.Requests)
	}
	if byType.Errors != 1 {
		t.Errorf("Errors = %d, want 1", byType.Errors)
	}
	if report.ErrorRate <= 0 || report.ErrorRate >= 1 {
		t.Errorf("ErrorRate = %v, want in (0,1)", report.ErrorRate)
	}
	if report.P50Ms <= 0 {
		t.Errorf("P50Ms = %v, want > 0", report.P50Ms)
	}
}

func TestMetrics_SnapshotEmptyIsZeroValue(t *testing.T) {
	m := newMetrics(prometheus.NewRegistry())
	report := m.snapshot()

	if report.P50Ms != 0 || report.P95Ms != 0 || report.P99Ms != 0 {
		t.Errorf("empty snapshot percentiles = %+v, want all zero", report)
	}
	if report.ErrorRate != 0 {
		t.Errorf("empty ErrorRate = %v, want 0", report.ErrorRate)
	}
}

func TestMetrics_IndependentRegistererPerInstance(t *testing.T) {
	// Constructing two Metrics against separate registries must not panic
	// from duplicate registration, unlike using prometheus.DefaultRegisterer
	// for both.
	newMetrics(prometheus.NewRegistry())
	newMetrics(prometheus.NewRegistry())
}

func TestPercentile_BoundsAndEmpty(t *testing.T) {
	if got := percentile(nil, 0.5); got != 0 {
		t.Errorf("percentile(nil) = %v, want 0", got)
	}
	samples := []float64{1, 2, 3, 4, 5}
	if got := percentile(samples, 0); got != 1 {
		t.Errorf("percentile(p=0) = %v, want 1", got)
	}
	if got := percentile(samples, 1); got != 5 {
		t.Errorf("percentile(p=1) = %v, want 5", got)
	}
}
