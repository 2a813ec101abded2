package agent

import (
	"context"
	"encoding/json"
)

// Tool is a named, role-gated, synchronous unit of work invoked during a
// single request turn (spec.md GLOSSARY "Tool"). Grounded on the teacher's
// Tool interface (internal/agent/runtime.go, internal/agent/provider_types.go),
// kept verbatim: the call surface (name, description, schema, execute) needs
// no change, only the caller (Dispatcher instead of a bare registry) does.
type Tool interface {
	// Name returns the tool's LLM-facing identifier. Must match the
	// corresponding models.ToolDescriptor.Name exactly.
	Name() string

	// Description returns a natural-language description shown to the LLM.
	Description() string

	// Schema returns the JSON Schema the Dispatcher validates args against.
	Schema() json.RawMessage

	// Execute runs the tool body. params has already passed schema
	// validation and a role check by the time Execute is called.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult is the output of a single tool execution.
type ToolResult struct {
	Content string
	IsError bool
}
