package embedding

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// maxSamplesPerTaskType bounds the in-process latency window used to compute
// the periodic p50/p95/p99 report; Prometheus-side export is unbounded via
// the histogram below.
const maxSamplesPerTaskType = 2000

// Metrics records embedding latency and error counts, both for Prometheus
// scraping and for the in-process periodic performance report spec.md §4.G
// requires. Grounded on the teacher's LLMRequestDuration/LLMRequestCounter
// pair in internal/observability/metrics.go.
type Metrics struct {
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	errorTotal      *prometheus.CounterVec

	mu        sync.Mutex
	samples   map[string][]float64 // task type -> recent latencies in ms
	successes map[string]int
	failures  map[string]int
}

// newMetrics registers the embedding metrics against reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction within one test binary
// doesn't collide on the default registerer.
func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "adk_embedding_request_duration_seconds",
				Help:    "Duration of embedding backend requests in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"task_type"},
		),
		requestTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adk_embedding_requests_total",
				Help: "Total embedding backend requests by task type",
			},
			[]string{"task_type"},
		),
		errorTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adk_embedding_errors_total",
				Help: "Total embedding backend errors by task type",
			},
			[]string{"task_type"},
		),
		samples:   make(map[string][]float64),
		successes: make(map[string]int),
		failures:  make(map[string]int),
	}
}

func (m *Metrics) observeLatency(taskType string, d time.Duration) {
	m.requestDuration.WithLabelValues(taskType).Observe(d.Seconds())
	m.requestTotal.WithLabelValues(taskType).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.successes[taskType]++
	samples := append(m.samples[taskType], float64(d.Milliseconds()))
	if len(samples) > maxSamplesPerTaskType {
		samples = samples[len(samples)-maxSamplesPerTaskType:]
	}
	m.samples[taskType] = samples
}

func (m *Metrics) recordError(taskType string) {
	m.errorTotal.WithLabelValues(taskType).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[taskType]++
}

// Report summarizes embedding performance, per spec.md §4.G. Request and
// error counts are cumulative since the Service was created (a report does
// not reset them); latency percentiles cover the most recent
// maxSamplesPerTaskType samples of each task type.
type Report struct {
	P50Ms      float64
	P95Ms      float64
	P99Ms      float64
	ErrorRate  float64
	ByTaskType map[string]TaskTypeReport
}

// TaskTypeReport is the per-task-type breakdown within a Report.
type TaskTypeReport struct {
	Requests int
	Errors   int
	P50Ms    float64
	P95Ms    float64
}

func (m *Metrics) snapshot() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []float64
	byType := make(map[string]TaskTypeReport, len(m.samples))
	var totalRequests, totalErrors int

	for taskType, samples := range m.samples {
		all = append(all, samples...)
		totalRequests += m.successes[taskType]
		totalErrors += m.failures[taskType]
		byType[taskType] = TaskTypeReport{
			Requests: m.successes[taskType],
			Errors:   m.failures[taskType],
			P50Ms:    percentile(samples, 0.50),
			P95Ms:    percentile(samples, 0.95),
		}
	}

	errorRate := 0.0
	if totalRequests+totalErrors > 0 {
		errorRate = float64(totalErrors) / float64(totalRequests+totalErrors)
	}

	return Report{
		P50Ms:      percentile(all, 0.50),
		P95Ms:      percentile(all, 0.95),
		P99Ms:      percentile(all, 0.99),
		ErrorRate:  errorRate,
		ByTaskType: byType,
	}
}

func percentile(samples []float64, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
