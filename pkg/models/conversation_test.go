package models

import "testing"

func TestConversationContext_Append_TrimsToMax(t *testing.T) {
	c := &ConversationContext{ConversationID: "conv-1"}

	for i := 0; i < MaxConversationTurns+5; i++ {
		c.Append(ConversationTurn{Role: "user", Content: "hi"})
	}

	if len(c.Turns) != MaxConversationTurns {
		t.Errorf("len(Turns) = %d, want %d", len(c.Turns), MaxConversationTurns)
	}
}

func TestConversationContext_Append_PreservesOrder(t *testing.T) {
	c := &ConversationContext{ConversationID: "conv-1"}
	c.Append(ConversationTurn{Role: "user", Content: "first"})
	c.Append(ConversationTurn{Role: "assistant", Content: "second"})

	if c.Turns[0].Content != "first" || c.Turns[1].Content != "second" {
		t.Errorf("turns out of order: %+v", c.Turns)
	}
}
