package models

import "time"

// MaxConversationTurns is the bound spec.md §3 places on a ConversationContext
// window: "most recent ~20" (role, content) pairs.
const MaxConversationTurns = 20

// ConversationTurn is a single (role, content) pair in a conversation window.
type ConversationTurn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationContext is a bounded window attached to a platform-agnostic
// conversation identifier, used for LLM prompting only — not an authoritative
// transcript store (spec.md §3).
type ConversationContext struct {
	ConversationID string              `json:"conversation_id"`
	Turns          []ConversationTurn  `json:"turns"`
}

// Append adds a turn, trimming the oldest entries once MaxConversationTurns is
// exceeded (last-writer-wins semantics are enforced by the caller's serialization,
// spec.md §4.A concurrency contract).
func (c *ConversationContext) Append(turn ConversationTurn) {
	c.Turns = append(c.Turns, turn)
	if excess := len(c.Turns) - MaxConversationTurns; excess > 0 {
		c.Turns = c.Turns[excess:]
	}
}
