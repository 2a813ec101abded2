package agent

import (
	"context"
	"sync"

	"github.com/loomkit/adk/pkg/models"
)

// ConversationStore loads and appends the bounded recent-turns window
// AgentRuntime.Handle consults (spec.md §4.A step 2, models.ConversationContext).
// Grounded on the teacher's sessions.MemoryStore (internal/sessions/memory.go)
// append/trim pattern, narrowed from full Session/branch/compaction machinery
// — none of which this spec's ~20-turn window needs — to a flat per-conversation
// ring over models.ConversationTurn.
type ConversationStore interface {
	// Window returns the current bounded window for conversationID, oldest
	// turn first.
	Window(ctx context.Context, conversationID string) ([]models.ConversationTurn, error)

	// Append records a new turn, trimming older turns beyond
	// models.MaxConversationTurns.
	Append(ctx context.Context, conversationID string, turn models.ConversationTurn) error
}

// MemoryConversationStore is an in-memory ConversationStore, suitable for a
// single process instance or tests.
type MemoryConversationStore struct {
	mu     sync.RWMutex
	byConv map[string]*models.ConversationContext
}

// NewMemoryConversationStore constructs an empty store.
func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{byConv: make(map[string]*models.ConversationContext)}
}

func (s *MemoryConversationStore) Window(_ context.Context, conversationID string) ([]models.ConversationTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctxVal, ok := s.byConv[conversationID]
	if !ok {
		return nil, nil
	}
	out := make([]models.ConversationTurn, len(ctxVal.Turns))
	copy(out, ctxVal.Turns)
	return out, nil
}

func (s *MemoryConversationStore) Append(_ context.Context, conversationID string, turn models.ConversationTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctxVal, ok := s.byConv[conversationID]
	if !ok {
		ctxVal = &models.ConversationContext{ConversationID: conversationID}
		s.byConv[conversationID] = ctxVal
	}
	ctxVal.Append(turn)
	return nil
}
