package rag

import (
	"context"

	"github.com/loomkit/adk/internal/embedding"
	"github.com/loomkit/adk/pkg/models"
)

// Manager owns the four logical indexes spec.md §4.F requires and exposes
// typed convenience methods over the domain models, rather than making every
// caller hand-assemble (id, text, metadata) tuples. Grounded on the shape of
// the teacher's index.Manager (internal/rag/index/manager.go), narrowed from
// a document-chunking pipeline to direct whole-entry indexing.
type Manager struct {
	Knowledge *Index
	Tools     *Index
	Templates *Index
	Memories  *Index
}

// NewManager constructs a Manager with one Index per logical kind, all
// sharing embedder. Knowledge/Tools/Templates are indexed as documents
// (RETRIEVAL_DOCUMENT); Memories are indexed by failure-context similarity
// (SEMANTIC_SIMILARITY), matching RepairLoop's retrieval mode in spec.md §4.E.
func NewManager(embedder Embedder) *Manager {
	return &Manager{
		Knowledge: NewIndex(embedder, embedding.TaskRetrievalDocument),
		Tools:     NewIndex(embedder, embedding.TaskRetrievalDocument),
		Templates: NewIndex(embedder, embedding.TaskRetrievalDocument),
		Memories:  NewIndex(embedder, embedding.TaskSemanticSimilarity),
	}
}

// IndexKnowledge adds or updates a KnowledgeEntry, embedding title+content.
func (m *Manager) IndexKnowledge(ctx context.Context, k *models.KnowledgeEntry) error {
	text := k.Title + "\n" + k.Content
	return m.Knowledge.AddOrUpdate(ctx, k.ID, text, k.Priority, k.Enabled, k.Category, k.Tags, k)
}

// RemoveKnowledge deletes a KnowledgeEntry from the index.
func (m *Manager) RemoveKnowledge(id string) { m.Knowledge.Remove(id) }

// QueryKnowledge returns the top-k KnowledgeEntry matches for text.
func (m *Manager) QueryKnowledge(ctx context.Context, text string, filters Filters, k int) ([]Result, error) {
	return m.Knowledge.Query(ctx, text, filters, k)
}

// IndexTool adds or updates a ToolDescriptor, embedding its description.
// A disabled tool is still indexed (so re-enabling doesn't require
// re-embedding) but Filters.EnabledOnly excludes it from results.
func (m *Manager) IndexTool(ctx context.Context, t *models.ToolDescriptor) error {
	return m.Tools.AddOrUpdate(ctx, t.Name, t.Description, t.Priority, t.Enabled, t.Category, nil, t)
}

// RemoveTool deletes a ToolDescriptor from the index.
func (m *Manager) RemoveTool(name string) { m.Tools.Remove(name) }

// QueryTools returns the top-k ToolDescriptor matches for text.
func (m *Manager) QueryTools(ctx context.Context, text string, filters Filters, k int) ([]Result, error) {
	return m.Tools.Query(ctx, text, filters, k)
}

// IndexTemplate adds or updates a TaskTemplate, embedding its name and
// keywords together; trigger patterns are not part of the embedded text.
func (m *Manager) IndexTemplate(ctx context.Context, t *models.TaskTemplate) error {
	text := t.Name
	for _, kw := range t.Keywords {
		text += "\n" + kw
	}
	category := ""
	if len(t.Categories) > 0 {
		category = t.Categories[0]
	}
	return m.Templates.AddOrUpdate(ctx, t.TemplateID, text, t.Priority, t.Enabled, category, t.Categories, t)
}

// RemoveTemplate deletes a TaskTemplate from the index.
func (m *Manager) RemoveTemplate(id string) { m.Templates.Remove(id) }

// QueryTemplates returns the top-k TaskTemplate matches for text.
func (m *Manager) QueryTemplates(ctx context.Context, text string, filters Filters, k int) ([]Result, error) {
	return m.Templates.Query(ctx, text, filters, k)
}

// IndexMemory adds or updates a ReasoningMemory, embedding its failure
// description. Every memory is indexed as enabled, under its own Category,
// with no tags: Filters.Category selects memories of one category (as
// RepairLoop does), Filters.EnabledOnly excludes none, and a non-empty
// Filters.Tags excludes every memory.
func (m *Manager) IndexMemory(ctx context.Context, mem *models.ReasoningMemory) error {
	text := mem.Title + "\n" + mem.Description
	return m.Memories.AddOrUpdate(ctx, mem.ID, text, 0, true, string(mem.Category), nil, mem)
}

// RemoveMemory deletes a ReasoningMemory from the index.
func (m *Manager) RemoveMemory(id string) { m.Memories.Remove(id) }

// QueryMemories returns the top-k ReasoningMemory matches for text, embedding
// text itself (used when RepairLoop has only a description, not yet an
// embedding).
func (m *Manager) QueryMemories(ctx context.Context, text string, filters Filters, k int) ([]Result, error) {
	return m.Memories.Query(ctx, text, filters, k)
}

// QueryMemoriesByVector ranks memories against an already-computed failure
// context embedding, per spec.md §4.E step 3/4.
func (m *Manager) QueryMemoriesByVector(vec []float32, filters Filters, k int) []Result {
	return m.Memories.QueryByVector(vec, filters, k)
}
