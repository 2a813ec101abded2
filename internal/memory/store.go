// Package memory persists spec.md §3's ReasoningMemory records and the
// usage counters RepairLoop updates on every outcome (spec.md §4.E step 9).
// Grounded on the teacher's internal/memory/manager.go Manager for its
// config-with-defaults construction and Index/Search/Delete/Count surface,
// narrowed from a pluggable vector-backend (sqlite-vec/pgvector/lancedb)
// plus a pluggable embedding provider (openai/ollama) down to the single
// internal/storage.KeyValueStore and internal/embedding.Service this module
// already builds everything else on — a second configurable vector-store
// abstraction would just be a dead parallel path alongside internal/rag.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/loomkit/adk/internal/storage"
	"github.com/loomkit/adk/pkg/models"
)

// Store is ReasoningMemory's persistence layer. It does not itself embed or
// rank memories — internal/rag.Manager.Memories does that over the vectors
// Store hands it at load time — Store only owns durable storage and the
// counter bookkeeping spec.md §4.E step 9 requires.
type Store struct {
	kv storage.KeyValueStore

	mu sync.Mutex
}

// NewStore constructs a Store backed by kv.
func NewStore(kv storage.KeyValueStore) *Store {
	return &Store{kv: kv}
}

// Save persists mem, creating or overwriting its record under its ID.
func (s *Store) Save(ctx context.Context, mem *models.ReasoningMemory) error {
	return s.persist(ctx, mem)
}

// Load returns the ReasoningMemory stored under id.
func (s *Store) Load(ctx context.Context, id string) (*models.ReasoningMemory, error) {
	doc, err := s.kv.Get(ctx, "memories/"+id)
	if err != nil {
		return nil, err
	}
	return docToMemory(doc)
}

// List returns every stored ReasoningMemory, for loading into
// rag.Manager.Memories at startup.
func (s *Store) List(ctx context.Context) ([]*models.ReasoningMemory, error) {
	docs, err := s.kv.Query(ctx, "memories", storage.QueryOptions{})
	if err != nil {
		return nil, err
	}
	out := make([]*models.ReasoningMemory, 0, len(docs))
	for _, doc := range docs {
		mem, err := docToMemory(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, mem)
	}
	return out, nil
}

// Delete removes the ReasoningMemory stored under id.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.kv.Delete(ctx, "memories/"+id)
}

// IncrementRetrieved bumps TimesRetrieved for every memory ID RepairLoop
// retrieved this cycle (spec.md §4.E step 3), regardless of whether the
// patch derived from it was ultimately used.
func (s *Store) IncrementRetrieved(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		mem, err := s.Load(ctx, id)
		if err != nil {
			return fmt.Errorf("memory: load %s for retrieval count: %w", id, err)
		}
		mem.TimesRetrieved++
		if err := s.persist(ctx, mem); err != nil {
			return err
		}
	}
	return nil
}

// RecordOutcome bumps TimesUsedInSuccess or TimesUsedInFailure for the
// memories that informed a repaired task's patch, once the repaired task
// reaches a terminal state (spec.md §4.E step 9).
func (s *Store) RecordOutcome(ctx context.Context, ids []string, succeeded bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		mem, err := s.Load(ctx, id)
		if err != nil {
			return fmt.Errorf("memory: load %s for outcome recording: %w", id, err)
		}
		if succeeded {
			mem.TimesUsedInSuccess++
		} else {
			mem.TimesUsedInFailure++
		}
		if err := s.persist(ctx, mem); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) persist(ctx context.Context, mem *models.ReasoningMemory) error {
	raw, err := json.Marshal(mem)
	if err != nil {
		return err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	return s.kv.Set(ctx, "memories/"+mem.ID, &storage.Document{Fields: fields})
}

func docToMemory(doc *storage.Document) (*models.ReasoningMemory, error) {
	raw, err := json.Marshal(doc.Fields)
	if err != nil {
		return nil, err
	}
	var mem models.ReasoningMemory
	if err := json.Unmarshal(raw, &mem); err != nil {
		return nil, err
	}
	return &mem, nil
}
