package models

import "time"

// CoreEventType enumerates the observable events spec.md §6 EventSink and §7's
// propagation policy require: every error and every state transition must be an
// observable event, never a silent mutation into success.
type CoreEventType string

const (
	EventToolInvocation CoreEventType = "tool_invocation"
	EventTaskQueued     CoreEventType = "task_queued"
	EventTaskRepaired   CoreEventType = "task_repaired"
	EventTaskSucceeded  CoreEventType = "task_succeeded"
	EventTaskFailed     CoreEventType = "task_failed"
)

// ToolOutcome classifies how a Dispatcher.Invoke call ended.
type ToolOutcome string

const (
	ToolOutcomeSuccess   ToolOutcome = "success"
	ToolOutcomeForbidden ToolOutcome = "forbidden"
	ToolOutcomeUnknown   ToolOutcome = "unknown"
	ToolOutcomeBadArgs   ToolOutcome = "bad_args"
	ToolOutcomeTimeout   ToolOutcome = "timeout"
	ToolOutcomeError     ToolOutcome = "error"
)

// ToolInvocationEvent is emitted by the Dispatcher for every Invoke call
// (spec.md §4.B).
type ToolInvocationEvent struct {
	ToolName   string      `json:"tool_name"`
	UserID     string      `json:"user_id"`
	Role       AccessRole  `json:"role"`
	DurationMs int64       `json:"duration_ms"`
	Outcome    ToolOutcome `json:"outcome"`
}

// TaskQueuedEvent is emitted when TaskOrchestrator.Submit persists a new
// TaskRequest (spec.md §4.C).
type TaskQueuedEvent struct {
	TaskID     string `json:"task_id"`
	TemplateID string `json:"template_id"`
	UserID     string `json:"user_id"`
}

// TaskRepairedEvent is emitted once per successful RepairLoop cycle
// (spec.md §4.E step 7, S4/S5 scenarios).
type TaskRepairedEvent struct {
	TaskID      string   `json:"task_id"`
	RepairCount int      `json:"repair_count"`
	MemoryIDs   []string `json:"memory_ids,omitempty"`
}

// TaskSucceededEvent is emitted when a task reaches the succeeded terminal state.
type TaskSucceededEvent struct {
	TaskID string `json:"task_id"`
}

// TaskFailedEvent is emitted when a task reaches the failed terminal state.
type TaskFailedEvent struct {
	TaskID string `json:"task_id"`
	Cause  string `json:"cause"`
}

// CoreEvent is the envelope EventSink.Emit receives: exactly one payload field is
// set, matching Type.
type CoreEvent struct {
	Type CoreEventType `json:"type"`
	Time time.Time     `json:"time"`

	ToolInvocation *ToolInvocationEvent `json:"tool_invocation,omitempty"`
	TaskQueued     *TaskQueuedEvent     `json:"task_queued,omitempty"`
	TaskRepaired   *TaskRepairedEvent   `json:"task_repaired,omitempty"`
	TaskSucceeded  *TaskSucceededEvent  `json:"task_succeeded,omitempty"`
	TaskFailed     *TaskFailedEvent     `json:"task_failed,omitempty"`
}
