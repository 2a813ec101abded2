package storage

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory KeyValueStore, grounded on the teacher's
// sync.RWMutex-guarded map pattern (internal/storage/memory.go's
// MemoryAgentStore). Paths are "<collection>/<id>"; Query matches documents
// whose path's first segment equals collection.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*Document
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*Document)}
}

func (s *MemoryStore) Get(_ context.Context, path string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[path]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDoc(doc), nil
}

func (s *MemoryStore) Set(_ context.Context, path string, doc *Document) error {
	if path == "" {
		return fmt.Errorf("storage: path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[path] = cloneDoc(doc)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, path string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[path]
	if !ok {
		return ErrNotFound
	}
	updated := cloneDoc(doc)
	for k, v := range patch {
		updated.Fields[k] = v
	}
	s.docs[path] = updated
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[path]; !ok {
		return ErrNotFound
	}
	delete(s.docs, path)
	return nil
}

func (s *MemoryStore) Query(_ context.Context, collection string, opts QueryOptions) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := collection + "/"
	var matches []scoredDoc
	for path, doc := range s.docs {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		if !matchesWhere(doc, opts.Where) {
			continue
		}
		score := 0.0
		if opts.VectorWhere != nil {
			vec, ok := fieldVector(doc, opts.VectorWhere.Field)
			if !ok {
				continue
			}
			score = cosineSimilarity(vec, opts.VectorWhere.Against)
			if score < opts.VectorWhere.MinScore {
				continue
			}
		}
		matches = append(matches, scoredDoc{doc: cloneDoc(doc), score: score})
	}

	if opts.VectorWhere != nil {
		sort.Slice(matches, func(i, j int) bool { return matches[i].score > matches[j].score })
	} else {
		applyOrderBy(matches, opts.OrderBy)
	}

	if opts.Limit > 0 && len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}
	result := make([]*Document, len(matches))
	for i, m := range matches {
		result[i] = m.doc
	}
	return result, nil
}

// Transaction runs fn against this same store: MemoryStore's writes are
// already serialized by mu, so there is no separate snapshot/rollback
// machinery — a returned error simply means the caller should not trust
// partial writes already applied, matching the single-process in-memory
// use case (tests, local development).
func (s *MemoryStore) Transaction(ctx context.Context, fn TxFunc) error {
	return fn(ctx, s)
}

func cloneDoc(doc *Document) *Document {
	if doc == nil {
		return nil
	}
	fields := make(map[string]any, len(doc.Fields))
	for k, v := range doc.Fields {
		fields[k] = v
	}
	return &Document{Fields: fields}
}

func matchesWhere(doc *Document, wheres []Where) bool {
	for _, w := range wheres {
		v, ok := doc.Fields[w.Field]
		if !ok || !compareValues(v, w.Op, w.Value) {
			return false
		}
	}
	return true
}

func compareValues(got any, op string, want any) bool {
	switch op {
	case "", "==":
		return fmt.Sprint(got) == fmt.Sprint(want)
	case "!=":
		return fmt.Sprint(got) != fmt.Sprint(want)
	case "contains":
		s, ok := got.(string)
		return ok && strings.Contains(s, fmt.Sprint(want))
	default:
		gf, gok := toFloat(got)
		wf, wok := toFloat(want)
		if !gok || !wok {
			return false
		}
		switch op {
		case ">":
			return gf > wf
		case ">=":
			return gf >= wf
		case "<":
			return gf < wf
		case "<=":
			return gf <= wf
		}
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func fieldVector(doc *Document, field string) (Vector, bool) {
	v, ok := doc.Fields[field]
	if !ok {
		return nil, false
	}
	vec, ok := v.(Vector)
	if !ok {
		if fs, ok2 := v.([]float32); ok2 {
			return Vector(fs), true
		}
		return nil, false
	}
	return vec, true
}

type scoredDoc struct {
	doc   *Document
	score float64
}

func applyOrderBy(matches []scoredDoc, orderBy []OrderBy) {
	if len(orderBy) == 0 {
		return
	}
	sort.Slice(matches, func(i, j int) bool {
		for _, ob := range orderBy {
			vi, _ := toFloat(matches[i].doc.Fields[ob.Field])
			vj, _ := toFloat(matches[j].doc.Fields[ob.Field])
			if vi == vj {
				continue
			}
			if ob.Desc {
				return vi > vj
			}
			return vi < vj
		}
		return false
	})
}

func cosineSimilarity(a, b Vector) float64 {
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
