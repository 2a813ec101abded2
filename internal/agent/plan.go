package agent

import (
	"encoding/json"
	"fmt"
)

// PlanType tags the shape of a Plan (spec.md §4.A step 4). Grounded on
// spec.md §9 design note "model as a tagged variant ... with a hand-rolled
// validating parser; reject unknown shapes rather than coerce".
type PlanType string

const (
	PlanAnswer            PlanType = "answer"
	PlanToolCalls          PlanType = "tool_calls"
	PlanComplexTask       PlanType = "complex_task"
	PlanComplexTaskAdhoc  PlanType = "complex_task_adhoc"
)

// ToolCallPlan is one entry of a PlanToolCalls plan, in planner-returned
// order (spec.md §4.B "Ordering": calls execute strictly in this order).
type ToolCallPlan struct {
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args"`
}

// Plan is the LLM's per-turn decision record (spec.md GLOSSARY "Plan").
// Exactly one of the fields below is populated, selected by Type.
type Plan struct {
	Type PlanType

	AnswerText string

	ToolCalls []ToolCallPlan

	TemplateID string
	Parameters json.RawMessage

	NaturalLanguageSpec string
}

// rawPlan is the wire shape the planning LLM is instructed to return.
type rawPlan struct {
	Type                 string          `json:"type"`
	Text                 string          `json:"text,omitempty"`
	Calls                []ToolCallPlan  `json:"calls,omitempty"`
	TemplateID           string          `json:"templateId,omitempty"`
	Parameters           json.RawMessage `json:"parameters,omitempty"`
	NaturalLanguageSpec  string          `json:"naturalLanguageSpec,omitempty"`
}

// ParsePlan validates and decodes the planner's raw JSON response into a
// Plan. Unknown or malformed shapes are rejected rather than coerced
// (spec.md §9 design note); callers surface the error as
// models.ErrLLMUnparseablePlan per spec.md §7.
func ParsePlan(raw []byte) (*Plan, error) {
	var rp rawPlan
	if err := json.Unmarshal(raw, &rp); err != nil {
		return nil, fmt.Errorf("agent: plan is not valid JSON: %w", err)
	}

	switch PlanType(rp.Type) {
	case PlanAnswer:
		if rp.Text == "" {
			return nil, fmt.Errorf("agent: answer plan has empty text")
		}
		return &Plan{Type: PlanAnswer, AnswerText: rp.Text}, nil

	case PlanToolCalls:
		if len(rp.Calls) == 0 {
			return nil, fmt.Errorf("agent: tool_calls plan has no calls")
		}
		for i, c := range rp.Calls {
			if c.Tool == "" {
				return nil, fmt.Errorf("agent: tool_calls[%d] has no tool name", i)
			}
		}
		return &Plan{Type: PlanToolCalls, ToolCalls: rp.Calls}, nil

	case PlanComplexTask:
		if rp.TemplateID == "" {
			return nil, fmt.Errorf("agent: complex_task plan has no templateId")
		}
		return &Plan{Type: PlanComplexTask, TemplateID: rp.TemplateID, Parameters: rp.Parameters}, nil

	case PlanComplexTaskAdhoc:
		if rp.NaturalLanguageSpec == "" {
			return nil, fmt.Errorf("agent: complex_task_adhoc plan has no naturalLanguageSpec")
		}
		return &Plan{Type: PlanComplexTaskAdhoc, NaturalLanguageSpec: rp.NaturalLanguageSpec}, nil

	default:
		return nil, fmt.Errorf("agent: unknown plan type %q", rp.Type)
	}
}
