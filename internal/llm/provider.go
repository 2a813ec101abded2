// Package llm abstracts over LLM backends (Anthropic, OpenAI) behind a single
// streaming interface, used by AgentRuntime for planning turns and by the
// RepairLoop for patch generation.
package llm

import (
	"context"
	"encoding/json"

	"github.com/loomkit/adk/pkg/models"
)

// Provider is the interface AgentRuntime and RepairLoop depend on. Concrete
// backends (AnthropicProvider, OpenAIProvider) implement the wire-format
// conversion, retries, and streaming.
type Provider interface {
	// Complete sends a prompt and returns a channel of streamed chunks. The
	// channel is closed once the response (or a terminal error) has been
	// delivered.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider identifier used in logging and metrics.
	Name() string

	// Models returns the models this provider can serve.
	Models() []Model

	// SupportsTools reports whether this provider can accept ToolSpecs.
	SupportsTools() bool
}

// CompletionRequest is a single planning or repair-patch request.
type CompletionRequest struct {
	Model     string               `json:"model"`
	System    string               `json:"system,omitempty"`
	Messages  []CompletionMessage  `json:"messages"`
	Tools     []ToolSpec           `json:"tools,omitempty"`
	MaxTokens int                  `json:"max_tokens,omitempty"`
}

// CompletionMessage is one turn of conversation history sent to the provider.
type CompletionMessage struct {
	Role        string              `json:"role"` // "user", "assistant", "tool"
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// ToolSpec describes one tool the provider may call, derived from a
// models.ToolDescriptor the planner is allowed to see.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// CompletionChunk is one piece of a streamed response. A chunk carries either
// partial text, a completed tool call, or a terminal error; Done marks stream
// completion.
type CompletionChunk struct {
	Text     string          `json:"text,omitempty"`
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`
	Done     bool            `json:"done,omitempty"`
	Error    error           `json:"-"`

	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Model describes a model a Provider can serve.
type Model struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ContextSize    int    `json:"context_size"`
	SupportsVision bool   `json:"supports_vision"`
}
