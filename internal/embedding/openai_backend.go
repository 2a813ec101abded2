package embedding

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIBackend implements Backend against OpenAI's embeddings API. Grounded
// on the teacher's internal/memory/embeddings/openai provider (same
// go-openai client, same single-request batch shape) and internal/llm's
// OpenAIProvider for this module's own client-construction convention.
type OpenAIBackend struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAIBackend constructs a Backend for the given API key and model. An
// empty model defaults to text-embedding-3-small, matching the teacher's
// default.
func NewOpenAIBackend(apiKey, model string) *OpenAIBackend {
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAIBackend{
		client: openai.NewClient(apiKey),
		model:  openai.EmbeddingModel(model),
	}
}

// EmbedBatch implements Backend. taskType has no OpenAI-side equivalent (the
// API does not distinguish query/document/similarity embeddings), so it only
// affects this module's own cache keying and index selection.
func (b *OpenAIBackend) EmbedBatch(ctx context.Context, texts []string, _ TaskType) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := b.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: b.model,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: openai request failed: %w", err)
	}
	results := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		results[d.Index] = d.Embedding
	}
	return results, nil
}
