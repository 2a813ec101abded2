package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loomkit/adk/internal/rag"
	"github.com/loomkit/adk/pkg/models"
)

// Source loads ToolDescriptors and their Tool implementations at startup,
// either from a compiled-in set or a plugin directory (spec.md §4.B
// "scanning a configured source"). Concrete sources are an integration
// concern; Registry depends only on this interface.
type Source interface {
	Load(ctx context.Context) ([]*models.ToolDescriptor, map[string]Tool, error)
}

// StaticSource is a Source backed by a compiled-in descriptor+tool set,
// grounded on the teacher's pattern of registering tools at process startup
// (internal/agent/runtime.go's RegisterTool calls) but surfaced as a value
// instead of imperative calls, so Registry.Load stays the single loading path.
type StaticSource struct {
	Descriptors []*models.ToolDescriptor
	Tools       map[string]Tool
}

func (s StaticSource) Load(context.Context) ([]*models.ToolDescriptor, map[string]Tool, error) {
	return s.Descriptors, s.Tools, nil
}

// Registry is spec.md §4.B's ToolRegistry: the name->descriptor map, the
// enabled set (implicit in ToolDescriptor.Enabled), and the per-tool
// access-control map (ToolDescriptor.AllowedRoles). Grounded on the
// teacher's ToolRegistry (internal/agent/tool_registry.go), replacing its
// bare Tool map with descriptor+tool pairs so RBAC and schema data travel
// with the tool instead of living only in the LLM-facing Tool value.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]*models.ToolDescriptor
	tools       map[string]Tool

	index *rag.Manager // may be nil: embedding backfill is best-effort
	log   *slog.Logger
}

// NewRegistry constructs an empty Registry. index, if non-nil, is used to
// regenerate missing tool embeddings on Load (spec.md §4.B "Regenerates
// missing embeddings via §4.G").
func NewRegistry(index *rag.Manager, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		descriptors: make(map[string]*models.ToolDescriptor),
		tools:       make(map[string]Tool),
		index:       index,
		log:         log,
	}
}

// Load scans src, registering every returned (descriptor, tool) pair. A
// descriptor with no matching Tool implementation, or a Tool with no
// matching descriptor, is logged and skipped rather than silently dropped —
// spec.md §4.B: "logs tools registered-but-not-in-ACL ... and
// tools-in-ACL-but-not-registered".
func (r *Registry) Load(ctx context.Context, src Source) error {
	descriptors, tools, err := src.Load(ctx)
	if err != nil {
		return fmt.Errorf("agent: load tool source: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(descriptors))
	for _, d := range descriptors {
		seen[d.Name] = true
		if _, ok := tools[d.Name]; !ok {
			r.log.Warn("tool descriptor has no registered implementation", "tool", d.Name)
			continue
		}
		if len(d.AllowedRoles) == 0 {
			r.log.Info("tool registered with no ACL entry, defaulting to admin-only", "tool", d.Name)
		}
		r.descriptors[d.Name] = d
		r.tools[d.Name] = tools[d.Name]
	}
	for name := range tools {
		if !seen[name] {
			r.log.Warn("tool implementation registered but missing from descriptor set", "tool", name)
		}
	}

	if r.index != nil {
		for _, d := range descriptors {
			if len(d.Embedding) > 0 {
				continue
			}
			if err := r.index.IndexTool(ctx, d); err != nil {
				r.log.Warn("failed to backfill tool embedding", "tool", d.Name, "error", err)
			}
		}
	}
	return nil
}

// Descriptor returns the descriptor for name, if registered.
func (r *Registry) Descriptor(name string) (*models.ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[name]
	return d, ok
}

// Tool returns the executable implementation for name, if registered.
func (r *Registry) Tool(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Selectable returns the descriptors visible to role: enabled and
// role-permitted (spec.md §4.B selection gate). Feature-flag groups are not
// part of this spec's scope; every enabled, role-permitted tool is
// selectable.
func (r *Registry) Selectable(role models.AccessRole) []*models.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.ToolDescriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		if d.Selectable(role) {
			out = append(out, d)
		}
	}
	return out
}

// SetACL replaces the allowed roles for an already-registered tool, going
// through the registry so every ACL change is centrally observable (spec.md
// §9 design note: "replace with an access-control value owned by the
// registry; changes go through Registry.SetACL(...) so auditing is
// centralized").
func (r *Registry) SetACL(name string, roles []models.AccessRole) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.descriptors[name]
	if !ok {
		return fmt.Errorf("agent: tool %q not registered", name)
	}
	d.AllowedRoles = roles
	r.log.Info("tool ACL updated", "tool", name, "roles", roles)
	return nil
}
