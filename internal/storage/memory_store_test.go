package storage

import (
	"context"
	"testing"
)

func TestMemoryStoreGetSetDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.Get(ctx, "knowledge/1"); err != ErrNotFound {
		t.Fatalf("Get on empty store = %v, want ErrNotFound", err)
	}

	doc := &Document{Fields: map[string]any{"title": "Refunds"}}
	if err := s.Set(ctx, "knowledge/1", doc); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := s.Get(ctx, "knowledge/1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Fields["title"] != "Refunds" {
		t.Errorf("title = %v, want Refunds", got.Fields["title"])
	}

	if err := s.Delete(ctx, "knowledge/1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "knowledge/1"); err != ErrNotFound {
		t.Fatalf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreUpdateIsPartial(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Set(ctx, "tasks/1", &Document{Fields: map[string]any{"state": "queued", "repair_count": 0.0}})

	if err := s.Update(ctx, "tasks/1", map[string]any{"state": "running"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ := s.Get(ctx, "tasks/1")
	if got.Fields["state"] != "running" {
		t.Errorf("state = %v, want running", got.Fields["state"])
	}
	if got.Fields["repair_count"] != 0.0 {
		t.Errorf("repair_count should be untouched, got %v", got.Fields["repair_count"])
	}
}

func TestMemoryStoreUpdateMissingReturnsNotFound(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Update(context.Background(), "tasks/missing", map[string]any{"state": "running"}); err != ErrNotFound {
		t.Errorf("Update on missing doc = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreQueryFiltersByCollectionAndWhere(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Set(ctx, "knowledge/1", &Document{Fields: map[string]any{"category": "billing", "enabled": true}})
	_ = s.Set(ctx, "knowledge/2", &Document{Fields: map[string]any{"category": "shipping", "enabled": true}})
	_ = s.Set(ctx, "tools/1", &Document{Fields: map[string]any{"category": "billing", "enabled": true}})

	got, err := s.Query(ctx, "knowledge", QueryOptions{
		Where: []Where{{Field: "category", Op: "==", Value: "billing"}},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1", len(got))
	}
}

func TestMemoryStoreQueryOrdersByCosineSimilarityDescending(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Set(ctx, "memories/a", &Document{Fields: map[string]any{"embedding": Vector{1, 0, 0}}})
	_ = s.Set(ctx, "memories/b", &Document{Fields: map[string]any{"embedding": Vector{0, 1, 0}}})
	_ = s.Set(ctx, "memories/c", &Document{Fields: map[string]any{"embedding": Vector{0.9, 0.1, 0}}})

	got, err := s.Query(ctx, "memories", QueryOptions{
		VectorWhere: &VectorWhere{Field: "embedding", Against: Vector{1, 0, 0}, MinScore: -1},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(got) = %d, want 3", len(got))
	}
	// "a" is an exact match (score 1.0), "c" close, "b" orthogonal (score 0).
	if got[0].Fields["embedding"].(Vector)[0] != 1 {
		t.Errorf("expected exact match first, got %+v", got[0].Fields)
	}
}

func TestMemoryStoreTransactionRunsAgainstSameStore(t *testing.T) {
	s := NewMemoryStore()
	err := s.Transaction(context.Background(), func(ctx context.Context, tx KeyValueStore) error {
		return tx.Set(ctx, "knowledge/1", &Document{Fields: map[string]any{"title": "x"}})
	})
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}
	if _, err := s.Get(context.Background(), "knowledge/1"); err != nil {
		t.Fatalf("Get after Transaction: %v", err)
	}
}
