package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskState is a TaskRequest's lifecycle state. spec.md §3 fixes the ordering:
// queued → running → {succeeded, failed, cancelled, timedOut}, with running able to
// cycle through repairing and back to running.
type TaskState string

const (
	TaskStateQueued    TaskState = "queued"
	TaskStateRunning   TaskState = "running"
	TaskStateRepairing TaskState = "repairing"
	TaskStateSucceeded TaskState = "succeeded"
	TaskStateFailed    TaskState = "failed"
	TaskStateCancelled TaskState = "cancelled"
	TaskStateTimedOut  TaskState = "timed_out"
)

// Terminal reports whether s is one of the immutable terminal states
// (spec.md §3 invariant, testable property 4).
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateSucceeded, TaskStateFailed, TaskStateCancelled, TaskStateTimedOut:
		return true
	default:
		return false
	}
}

// TaskTemplate is a reusable, admin-curated recipe for a complex task.
// See spec.md §3 "TaskTemplate".
type TaskTemplate struct {
	TemplateID string   `json:"template_id"`
	Name       string   `json:"name"`
	Categories []string `json:"categories"`

	// Triggers combine regex patterns and keywords used for candidate surfacing;
	// spec.md §9 Open Question 1 fixes these as planner inputs only, never a gate.
	TriggerPatterns []string `json:"trigger_patterns,omitempty"`
	Keywords        []string `json:"keywords,omitempty"`

	Embedding []float32 `json:"embedding,omitempty"`

	Definition TaskDefinition `json:"definition"`

	// ExecutionScriptTemplate is the source of the program the sandbox executes,
	// before parameter substitution.
	ExecutionScriptTemplate string          `json:"execution_script_template"`
	ParameterSchema         json.RawMessage `json:"parameter_schema,omitempty"`

	Priority int  `json:"priority"`
	Enabled  bool `json:"enabled"`
}

// TaskDefinition declares what a template needs in order to be selectable.
type TaskDefinition struct {
	RequiredServices []string      `json:"required_services,omitempty"`
	EstimatedSteps   int           `json:"estimated_steps,omitempty"`
	EstimatedDur     time.Duration `json:"estimated_duration,omitempty"`
}

// Selectable reports whether the template may be offered to the planner, given the
// set of services the current deployment has available (spec.md §3 invariant: a
// template referencing an unavailable required service MUST NOT be selectable).
func (t *TaskTemplate) Selectable(availableServices map[string]bool) bool {
	if !t.Enabled {
		return false
	}
	for _, svc := range t.Definition.RequiredServices {
		if !availableServices[svc] {
			return false
		}
	}
	return true
}

// FailureRecord captures one classified failure of a task's execution script.
// See spec.md §4.D "Failure taxonomy" and §4.E.
type FailureRecord struct {
	Category      FailureCategory `json:"category"`
	Detail        string          `json:"detail"`
	ScriptSnapshot string         `json:"script_snapshot,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// FailureCategory is the worker's classification of why a script failed.
type FailureCategory string

const (
	FailureValidation    FailureCategory = "validation_error"
	FailureSecurity      FailureCategory = "security_violation"
	FailureRuntime       FailureCategory = "runtime_error"
	FailureTimeout       FailureCategory = "timeout"
	FailureResourceLimit FailureCategory = "resource_limit"
)

// Repairable reports whether this category is ever a candidate for RepairLoop,
// per spec.md §4.D: only the first three are unconditionally repairable; timeout
// and resource_limit are conditionally repairable (decided by the caller using
// remaining budget and the classifier's "reduces work" signal).
func (c FailureCategory) Repairable() bool {
	switch c {
	case FailureValidation, FailureSecurity, FailureRuntime, FailureTimeout, FailureResourceLimit:
		return true
	default:
		return false
	}
}

// TaskRequest is the in-flight record of a submitted complex task.
// See spec.md §3 "TaskRequest".
type TaskRequest struct {
	TaskID     string    `json:"task_id"`
	TemplateID string    `json:"template_id"`
	UserID     string    `json:"user_id"`
	Role       AccessRole `json:"role"`
	Parameters json.RawMessage `json:"parameters,omitempty"`

	State TaskState `json:"state"`

	// ScriptCurrent is the actual code to run, a snapshot taken at submission time
	// (see spec.md §9 Open Question 3: decoupled from later template edits) and
	// possibly replaced by RepairLoop patches.
	ScriptCurrent string `json:"script_current"`

	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`

	ResultArtifact json.RawMessage `json:"result_artifact,omitempty"`
	Errors         []FailureRecord `json:"errors,omitempty"`

	RepairCount int    `json:"repair_count"`
	WorkerID    string `json:"worker_id,omitempty"`
}

// CanTransition reports whether moving from r.State to next is legal: terminal
// states are immutable (testable property 4).
func (r *TaskRequest) CanTransition(next TaskState) error {
	if r.State.Terminal() {
		return fmt.Errorf("task %s is in terminal state %s, cannot transition to %s", r.TaskID, r.State, next)
	}
	return nil
}
