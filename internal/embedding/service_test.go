package embedding

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loomkit/adk/pkg/models"
)

type fakeBackend struct {
	mu       sync.Mutex
	calls    int32
	delay    time.Duration
	err      error
	vecByLen map[int][]float32
}

func (f *fakeBackend) EmbedBatch(ctx context.Context, texts []string, taskType TaskType) ([][]float32, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1, 2}
	}
	return out, nil
}

func newTestService(t *testing.T, backend Backend) *Service {
	t.Helper()
	return NewService(Config{
		Backend:    backend,
		Registerer: prometheus.NewRegistry(),
	})
}

func TestService_Embed_CachesResults(t *testing.T) {
	backend := &fakeBackend{}
	svc := newTestService(t, backend)

	ctx := context.Background()
	v1, err := svc.Embed(ctx, "hello world", TaskRetrievalQuery)
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	v2, err := svc.Embed(ctx, "hello world", TaskRetrievalQuery)
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	if atomic.LoadInt32(&backend.calls) != 1 {
		t.Errorf("backend calls = %d, want 1 (second Embed should hit cache)", backend.calls)
	}
	if len(v1) != len(v2) || v1[0] != v2[0] {
		t.Errorf("cached vector mismatch: %v vs %v", v1, v2)
	}
}

func TestService_Embed_NormalizesCacheKey(t *testing.T) {
	backend := &fakeBackend{}
	svc := newTestService(t, backend)

	ctx := context.Background()
	if _, err := svc.Embed(ctx, "  Hello World  ", TaskRetrievalQuery); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if _, err := svc.Embed(ctx, "hello world", TaskRetrievalQuery); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	if atomic.LoadInt32(&backend.calls) != 1 {
		t.Errorf("backend calls = %d, want 1 (normalization should collapse to same cache key)", backend.calls)
	}
}

func TestService_EmbedBatch_WrapsBackendErrorAsCoreError(t *testing.T) {
	backend := &fakeBackend{err: errors.New("upstream unavailable")}
	svc := newTestService(t, backend)

	_, err := svc.Embed(context.Background(), "anything", TaskRetrievalQuery)
	if err == nil {
		t.Fatal("Embed() error = nil, want error")
	}

	var coreErr *models.CoreError
	if !errors.As(err, &coreErr) {
		t.Fatalf("Embed() error = %v, want *models.CoreError", err)
	}
	if coreErr.Kind != models.ErrEmbedUnavailable {
		t.Errorf("CoreError.Kind = %v, want ErrEmbedUnavailable", coreErr.Kind)
	}
}

func TestService_EmbedBatch_SingleFlightCollapsesConcurrentIdenticalCalls(t *testing.T) {
	backend := &fakeBackend{delay: 50 * time.Millisecond}
	svc := newTestService(t, backend)

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, err := svc.Embed(context.Background(), "concurrent text", TaskRetrievalDocument); err != nil {
				t.Errorf("Embed() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&backend.calls); got != 1 {
		t.Errorf("backend calls = %d, want exactly 1 for %d concurrent identical requests", got, n)
	}
}

func TestService_EmbedBatch_DistinctTextsEachCallBackend(t *testing.T) {
	backend := &fakeBackend{}
	svc := newTestService(t, backend)

	vectors, err := svc.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"}, TaskSemanticSimilarity)
	if err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	if len(vectors) != 3 {
		t.Fatalf("len(vectors) = %d, want 3", len(vectors))
	}
	if atomic.LoadInt32(&backend.calls) != 1 {
		t.Errorf("backend calls = %d, want 1 (single batch call for all misses)", backend.calls)
	}
}

func TestService_EmbedBatch_EmptyInputReturnsNil(t *testing.T) {
	backend := &fakeBackend{}
	svc := newTestService(t, backend)

	vectors, err := svc.EmbedBatch(context.Background(), nil, TaskRetrievalQuery)
	if err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	if vectors != nil {
		t.Errorf("EmbedBatch() = %v, want nil", vectors)
	}
	if atomic.LoadInt32(&backend.calls) != 0 {
		t.Errorf("backend calls = %d, want 0", backend.calls)
	}
}

func TestService_StopIsIdempotent(t *testing.T) {
	svc := newTestService(t, &fakeBackend{})
	svc.Stop()
	svc.Stop()
}
