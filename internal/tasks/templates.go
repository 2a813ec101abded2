package tasks

import (
	"context"

	"github.com/loomkit/adk/pkg/models"
)

// StaticTemplateSource is a TemplateSource backed by a compiled-in set of
// TaskTemplates, grounded on internal/agent/registry.go's StaticSource: a
// value-shaped loader rather than imperative registration calls, so callers
// needing a TemplateSource for tests or a fixed deployment never have to
// stand up the full admin-curated storage path.
type StaticTemplateSource struct {
	byID map[string]*models.TaskTemplate
}

// NewStaticTemplateSource indexes templates by TemplateID.
func NewStaticTemplateSource(templates []*models.TaskTemplate) *StaticTemplateSource {
	byID := make(map[string]*models.TaskTemplate, len(templates))
	for _, t := range templates {
		byID[t.TemplateID] = t
	}
	return &StaticTemplateSource{byID: byID}
}

// Template implements TemplateSource.
func (s *StaticTemplateSource) Template(_ context.Context, templateID string) (*models.TaskTemplate, bool) {
	t, ok := s.byID[templateID]
	return t, ok
}
