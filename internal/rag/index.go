// Package rag implements spec.md §4.F's SemanticIndex: four logical indexes
// (knowledge, tool descriptors, task templates, reasoning memories) sharing
// one embedding dimension and a common query/ranking shape.
package rag

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/loomkit/adk/internal/embedding"
)

// Embedder is the subset of embedding.Service the index depends on. Defined
// locally so tests can substitute a fake without constructing a real Service.
type Embedder interface {
	Embed(ctx context.Context, text string, taskType embedding.TaskType) ([]float32, error)
}

// Filters restricts a Query/QueryByVector call, per spec.md §4.F.
type Filters struct {
	Category    string
	Tags        []string
	EnabledOnly bool
	MinScore    float64
}

// Result is one ranked hit from Query/QueryByVector.
type Result struct {
	ID       string
	Score    float64
	Metadata any
}

type record struct {
	id        string
	vector    []float32
	priority  int
	updatedAt time.Time
	enabled   bool
	category  string
	tags      []string
	metadata  any
}

// Index is a single logical vector index: one of knowledge, tool
// descriptors, task templates, or reasoning memories. Grounded on the
// teacher's store.DocumentStore query/filter shape (internal/rag/store/store.go),
// narrowed from chunk/document storage to a flat id->vector map since
// spec.md's four indexes hold whole entries, not document chunks.
type Index struct {
	embedder Embedder
	taskType embedding.TaskType

	mu      sync.RWMutex
	records map[string]*record
}

// NewIndex constructs an Index. taskType selects how AddOrUpdate embeds new
// entries (RETRIEVAL_DOCUMENT for indexing); queries always embed with
// RETRIEVAL_QUERY.
func NewIndex(embedder Embedder, taskType embedding.TaskType) *Index {
	return &Index{
		embedder: embedder,
		taskType: taskType,
		records:  make(map[string]*record),
	}
}

// AddOrUpdate computes text's embedding and stores/replaces the entry under
// id, per spec.md §4.F.
func (idx *Index) AddOrUpdate(ctx context.Context, id, text string, priority int, enabled bool, category string, tags []string, metadata any) error {
	vec, err := idx.embedder.Embed(ctx, text, idx.taskType)
	if err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.records[id] = &record{
		id:        id,
		vector:    vec,
		priority:  priority,
		updatedAt: time.Now(),
		enabled:   enabled,
		category:  category,
		tags:      tags,
		metadata:  metadata,
	}
	return nil
}

// Remove deletes the entry under id, if present.
func (idx *Index) Remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.records, id)
}

// Query embeds text with RETRIEVAL_QUERY and returns the top-k matches.
func (idx *Index) Query(ctx context.Context, text string, filters Filters, k int) ([]Result, error) {
	vec, err := idx.embedder.Embed(ctx, text, embedding.TaskRetrievalQuery)
	if err != nil {
		return nil, err
	}
	return idx.QueryByVector(vec, filters, k), nil
}

// QueryByVector ranks stored entries against vec without embedding text,
// for callers (RepairLoop) that already hold an embedding.
func (idx *Index) QueryByVector(vec []float32, filters Filters, k int) []Result {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	type scored struct {
		rec   *record
		score float64
	}

	candidates := make([]scored, 0, len(idx.records))
	for _, rec := range idx.records {
		if filters.EnabledOnly && !rec.enabled {
			continue
		}
		if filters.Category != "" && rec.category != filters.Category {
			continue
		}
		if len(filters.Tags) > 0 && !hasAnyTag(rec.tags, filters.Tags) {
			continue
		}
		score := cosineSimilarity(vec, rec.vector)
		if score < filters.MinScore {
			continue
		}
		candidates = append(candidates, scored{rec: rec, score: score})
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.rec.priority != b.rec.priority {
			return a.rec.priority > b.rec.priority
		}
		return a.rec.updatedAt.After(b.rec.updatedAt)
	})

	if k > 0 && len(candidates) > k {
		candidates = candidates[:k]
	}

	results := make([]Result, len(candidates))
	for i, c := range candidates {
		results[i] = Result{ID: c.rec.id, Score: c.score, Metadata: c.rec.metadata}
	}
	return results
}

// Len returns the number of entries currently indexed.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.records)
}

func hasAnyTag(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; ok {
			return true
		}
	}
	return false
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
