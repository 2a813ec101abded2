package rag

import (
	"context"
	"testing"

	"github.com/loomkit/adk/pkg/models"
)

func TestManager_IndexAndQueryKnowledge(t *testing.T) {
	m := NewManager(newFakeEmbedder())
	ctx := context.Background()

	entry := &models.KnowledgeEntry{
		ID:       "k1",
		Title:    "Refund policy",
		Content:  "Refunds are processed within 5 business days.",
		Category: "billing",
		Enabled:  true,
		Priority: 1,
	}
	if err := m.IndexKnowledge(ctx, entry); err != nil {
		t.Fatalf("IndexKnowledge() error = %v", err)
	}

	results, err := m.QueryKnowledge(ctx, "refund policy", Filters{EnabledOnly: true}, 5)
	if err != nil {
		t.Fatalf("QueryKnowledge() error = %v", err)
	}
	if len(results) != 1 || results[0].ID != "k1" {
		t.Fatalf("results = %+v, want [k1]", results)
	}
	got, ok := results[0].Metadata.(*models.KnowledgeEntry)
	if !ok || got.ID != "k1" {
		t.Errorf("Metadata = %#v, want *models.KnowledgeEntry with ID k1", results[0].Metadata)
	}
}

func TestManager_RemoveKnowledge(t *testing.T) {
	m := NewManager(newFakeEmbedder())
	ctx := context.Background()
	m.IndexKnowledge(ctx, &models.KnowledgeEntry{ID: "k1", Title: "t", Content: "c", Enabled: true})
	if m.Knowledge.Len() != 1 {
		t.Fatalf("Knowledge.Len() = %d, want 1", m.Knowledge.Len())
	}
	m.RemoveKnowledge("k1")
	if m.Knowledge.Len() != 0 {
		t.Errorf("Knowledge.Len() = %d, want 0 after RemoveKnowledge", m.Knowledge.Len())
	}
}

func TestManager_IndexAndQueryTool(t *testing.T) {
	m := NewManager(newFakeEmbedder())
	ctx := context.Background()

	tool := &models.ToolDescriptor{
		Name:        "send_email",
		Description: "Sends an email to a recipient",
		Category:    "messaging",
		Enabled:     true,
	}
	if err := m.IndexTool(ctx, tool); err != nil {
		t.Fatalf("IndexTool() error = %v", err)
	}

	results, err := m.QueryTools(ctx, "sends an email", Filters{EnabledOnly: true}, 5)
	if err != nil {
		t.Fatalf("QueryTools() error = %v", err)
	}
	if len(results) != 1 || results[0].ID != "send_email" {
		t.Fatalf("results = %+v, want [send_email]", results)
	}
}

func TestManager_IndexAndQueryTemplate(t *testing.T) {
	m := NewManager(newFakeEmbedder())
	ctx := context.Background()

	tmpl := &models.TaskTemplate{
		TemplateID: "tpl1",
		Name:       "Generate weekly report",
		Keywords:   []string{"report", "weekly"},
		Categories: []string{"reporting"},
		Enabled:    true,
	}
	if err := m.IndexTemplate(ctx, tmpl); err != nil {
		t.Fatalf("IndexTemplate() error = %v", err)
	}

	results, err := m.QueryTemplates(ctx, "generate weekly report", Filters{EnabledOnly: true, Category: "reporting"}, 5)
	if err != nil {
		t.Fatalf("QueryTemplates() error = %v", err)
	}
	if len(results) != 1 || results[0].ID != "tpl1" {
		t.Fatalf("results = %+v, want [tpl1]", results)
	}
}

func TestManager_IndexAndQueryMemoryByVector(t *testing.T) {
	fe := newFakeEmbedder()
	m := NewManager(fe)
	ctx := context.Background()

	fe.set("Null pointer\nnil map write", []float32{1, 0, 0})
	mem := &models.ReasoningMemory{
		ID:          "mem1",
		Title:       "Null pointer",
		Description: "nil map write",
		Category:    models.MemoryCategoryRuntime,
	}
	if err := m.IndexMemory(ctx, mem); err != nil {
		t.Fatalf("IndexMemory() error = %v", err)
	}

	results := m.QueryMemoriesByVector([]float32{1, 0, 0}, Filters{}, 5)
	if len(results) != 1 || results[0].ID != "mem1" {
		t.Fatalf("results = %+v, want [mem1]", results)
	}
}

func TestManager_RemoveTemplate(t *testing.T) {
	m := NewManager(newFakeEmbedder())
	ctx := context.Background()
	m.IndexTemplate(ctx, &models.TaskTemplate{TemplateID: "tpl1", Name: "x", Enabled: true})
	m.RemoveTemplate("tpl1")
	if m.Templates.Len() != 0 {
		t.Errorf("Templates.Len() = %d, want 0", m.Templates.Len())
	}
}
