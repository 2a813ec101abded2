package tasks

import (
	"context"
	"testing"

	"github.com/loomkit/adk/pkg/models"
)

func TestStaticTemplateSourceLookup(t *testing.T) {
	src := NewStaticTemplateSource([]*models.TaskTemplate{
		{TemplateID: "csv-export"},
		{TemplateID: "report-summary"},
	})

	got, ok := src.Template(context.Background(), "csv-export")
	if !ok || got.TemplateID != "csv-export" {
		t.Fatalf("Template(csv-export) = (%v, %v), want a match", got, ok)
	}

	if _, ok := src.Template(context.Background(), "missing"); ok {
		t.Fatal("Template(missing) should report not found")
	}
}
