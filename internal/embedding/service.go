// Package embedding implements spec.md §4.G's EmbeddingService: a cached,
// metrics-instrumented wrapper around a remote embedding backend.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/loomkit/adk/pkg/models"
)

// TaskType selects how the backend should optimize the embedding.
type TaskType string

const (
	TaskRetrievalQuery      TaskType = "RETRIEVAL_QUERY"
	TaskRetrievalDocument   TaskType = "RETRIEVAL_DOCUMENT"
	TaskSemanticSimilarity  TaskType = "SEMANTIC_SIMILARITY"
)

// Backend is the remote embedding provider the Service wraps. A concrete
// implementation calls out over HTTP to a model host.
type Backend interface {
	EmbedBatch(ctx context.Context, texts []string, taskType TaskType) ([][]float32, error)
}

// Service implements Embed/EmbedBatch with normalization, an LRU+TTL cache,
// single-flight deduplication of concurrent identical requests, latency
// metrics, and a periodic performance report.
type Service struct {
	backend Backend
	cache   *lruCache
	group   singleflight.Group
	metrics *Metrics
	logger  *slog.Logger

	reportInterval time.Duration
	stopReport     chan struct{}
	reportOnce     sync.Once
}

// Config configures a Service.
type Config struct {
	Backend        Backend
	CacheSize      int
	CacheTTL       time.Duration
	ReportInterval time.Duration
	Logger         *slog.Logger

	// Registerer receives the Prometheus metrics this Service creates.
	// Defaults to prometheus.DefaultRegisterer; tests pass a fresh
	// prometheus.NewRegistry() to avoid cross-test collisions.
	Registerer prometheus.Registerer
}

// NewService constructs a Service with sane defaults: a 1000-entry cache, a
// 1-hour TTL, and an hourly performance report per spec.md §4.G.
func NewService(cfg Config) *Service {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1000
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.DefaultRegisterer
	}

	return &Service{
		backend:        cfg.Backend,
		cache:          newLRUCache(cfg.CacheSize, cfg.CacheTTL),
		metrics:        newMetrics(cfg.Registerer),
		logger:         cfg.Logger.With("component", "embedding"),
		reportInterval: cfg.ReportInterval,
		stopReport:     make(chan struct{}),
	}
}

// Embed returns the embedding for a single text, per spec.md §4.G.
func (s *Service) Embed(ctx context.Context, text string, taskType TaskType) ([]float32, error) {
	vectors, err := s.EmbedBatch(ctx, []string{text}, taskType)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns embeddings for texts, normalizing for cache keying,
// deduplicating identical in-flight requests via singleflight, and recording
// per-task-type latency. A backend failure surfaces as ERR_EMBED_UNAVAILABLE.
func (s *Service) EmbedBatch(ctx context.Context, texts []string, taskType TaskType) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		key := cacheKey(taskType, text)
		if vec, ok := s.cache.Get(key); ok {
			results[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) > 0 {
		vectors, err := s.embedWithSingleFlight(ctx, missTexts, taskType)
		if err != nil {
			s.metrics.recordError(string(taskType))
			return nil, models.WrapCoreError(models.ErrEmbedUnavailable, "embedding backend unavailable", err)
		}
		for i, idx := range missIdx {
			results[idx] = vectors[i]
			s.cache.Set(cacheKey(taskType, missTexts[i]), vectors[i])
		}
	}

	return results, nil
}

// embedWithSingleFlight issues exactly one backend call per distinct
// normalized-text-set key, so N concurrent identical requests (testable
// property 6) produce a single provider call.
func (s *Service) embedWithSingleFlight(ctx context.Context, texts []string, taskType TaskType) ([][]float32, error) {
	key := batchKey(taskType, texts)

	start := time.Now()
	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.backend.EmbedBatch(ctx, texts, taskType)
	})
	s.metrics.observeLatency(string(taskType), time.Since(start))

	if err != nil {
		return nil, err
	}
	return v.([][]float32), nil
}

// StartReporting launches the periodic performance report goroutine. Callers
// should arrange a single call per Service instance; Stop cancels it.
func (s *Service) StartReporting(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.reportInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopReport:
				return
			case <-ticker.C:
				s.logReport()
			}
		}
	}()
}

// Stop halts the performance-report goroutine. Safe to call multiple times.
func (s *Service) Stop() {
	s.reportOnce.Do(func() { close(s.stopReport) })
}

func (s *Service) logReport() {
	report := s.metrics.snapshot()
	s.logger.Info("embedding performance report",
		"p50_ms", report.P50Ms,
		"p95_ms", report.P95Ms,
		"p99_ms", report.P99Ms,
		"error_rate", report.ErrorRate,
		"by_task_type", report.ByTaskType,
		"cache_size", s.cache.Len(),
	)
}

// normalize trims and lowercases text for cache keying, per spec.md §4.G.
func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

func cacheKey(taskType TaskType, text string) string {
	payload := string(taskType) + "\x00" + normalize(text)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func batchKey(taskType TaskType, texts []string) string {
	h := sha256.New()
	h.Write([]byte(taskType))
	for _, t := range texts {
		h.Write([]byte{0})
		h.Write([]byte(normalize(t)))
	}
	return hex.EncodeToString(h.Sum(nil))
}
