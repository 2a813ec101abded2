package models

import "encoding/json"

// AccessRole is a user's access level. spec.md §3 fixes the role set to {user, admin}.
type AccessRole string

const (
	AccessRoleUser  AccessRole = "user"
	AccessRoleAdmin AccessRole = "admin"
)

// ToolDescriptor is the registry's record of a tool: its LLM-facing metadata plus
// the access-control and execution knobs the Dispatcher enforces. See spec.md §3
// "ToolDescriptor" and §4.B.
type ToolDescriptor struct {
	// Name is the globally unique, LLM-facing identifier (not a display label).
	Name string `json:"name"`

	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
	Priority    int    `json:"priority"`
	Enabled     bool   `json:"enabled"`

	// ParameterSchema is a JSON Schema describing the tool's input shape.
	ParameterSchema json.RawMessage `json:"parameter_schema,omitempty"`

	// AllowedRoles defaults to {admin} when unset — fail-secure per spec.md §3.
	AllowedRoles []AccessRole `json:"allowed_roles,omitempty"`

	Embedding []float32 `json:"embedding,omitempty"`

	// TimeoutMs bounds a single Dispatcher.Invoke call. Zero means "use the
	// configured default" (spec.md §6 tool.defaultTimeoutMs, 30000).
	TimeoutMs int `json:"timeout_ms,omitempty"`
}

// AllowsRole reports whether r may see/invoke this tool, applying the fail-secure
// default: a descriptor with no AllowedRoles set behaves as admin-only.
func (t *ToolDescriptor) AllowsRole(r AccessRole) bool {
	roles := t.AllowedRoles
	if len(roles) == 0 {
		roles = []AccessRole{AccessRoleAdmin}
	}
	for _, allowed := range roles {
		if allowed == r {
			return true
		}
	}
	return false
}

// Selectable reports whether the tool may be offered to the planner or invoked at
// all: it must be enabled and the role must be permitted (spec.md §4.B selection gate).
func (t *ToolDescriptor) Selectable(r AccessRole) bool {
	return t.Enabled && t.AllowsRole(r)
}
