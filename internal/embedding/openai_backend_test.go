package embedding

import (
	"context"
	"testing"
)

func TestOpenAIBackendEmbedBatchEmpty(t *testing.T) {
	b := NewOpenAIBackend("test-key", "")
	got, err := b.EmbedBatch(context.Background(), nil, TaskSemanticSimilarity)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if got != nil {
		t.Errorf("EmbedBatch(nil) = %v, want nil", got)
	}
}

func TestNewOpenAIBackendDefaultModel(t *testing.T) {
	b := NewOpenAIBackend("test-key", "")
	if b.model != "text-embedding-3-small" {
		t.Errorf("model = %q, want default text-embedding-3-small", b.model)
	}

	b2 := NewOpenAIBackend("test-key", "text-embedding-3-large")
	if b2.model != "text-embedding-3-large" {
		t.Errorf("model = %q, want text-embedding-3-large", b2.model)
	}
}
