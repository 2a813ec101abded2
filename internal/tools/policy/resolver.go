package policy

import "github.com/loomkit/adk/pkg/models"

// Resolver decides tool visibility and invocability for a given role,
// producing an audit-friendly Decision rather than a bare bool. Grounded on
// the teacher's policy.Resolver (internal/tools/policy/resolver.go), stripped
// of profile/group/MCP/edge-server resolution — spec.md §4.B's model has no
// analogous concept: a tool's allowed roles are a flat, explicit list on
// ToolDescriptor itself (models.ToolDescriptor.AllowedRoles), so there is
// nothing left for a group-expansion or policy-merge layer to do.
type Resolver struct{}

// NewResolver constructs a Resolver. It carries no state: all policy data
// lives on the ToolDescriptor being evaluated.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Decide reports whether role may see/invoke tool, applying spec.md §3's
// fail-secure default (no AllowedRoles set behaves as admin-only) and §4.B's
// additional requirement that a disabled tool is never selectable regardless
// of role.
func (r *Resolver) Decide(tool *models.ToolDescriptor, role models.AccessRole) Decision {
	if tool == nil {
		return Decision{Allowed: false, Reason: "no such tool"}
	}
	if !tool.Enabled {
		return Decision{Allowed: false, Tool: tool.Name, Reason: "tool disabled"}
	}
	if !tool.AllowsRole(role) {
		return Decision{Allowed: false, Tool: tool.Name, Reason: "role " + string(role) + " not permitted"}
	}
	return Decision{Allowed: true, Tool: tool.Name, Reason: "role " + string(role) + " permitted"}
}

// IsAllowed is Decide's boolean-only form, for call sites that don't need
// the reason (e.g. a hot-path selection filter).
func (r *Resolver) IsAllowed(tool *models.ToolDescriptor, role models.AccessRole) bool {
	return r.Decide(tool, role).Allowed
}

// FilterSelectable returns the subset of tools role may see, preserving
// input order. The planner-facing tool list (spec.md §4.A step 3) and the
// Dispatcher's pre-invocation gate (§4.B) in internal/agent call IsAllowed
// and Decide per tool rather than this function.
func (r *Resolver) FilterSelectable(tools []*models.ToolDescriptor, role models.AccessRole) []*models.ToolDescriptor {
	result := make([]*models.ToolDescriptor, 0, len(tools))
	for _, t := range tools {
		if r.IsAllowed(t, role) {
			result = append(result, t)
		}
	}
	return result
}
