package models

import "testing"

func TestTaskState_Terminal(t *testing.T) {
	tests := []struct {
		state TaskState
		want  bool
	}{
		{TaskStateQueued, false},
		{TaskStateRunning, false},
		{TaskStateRepairing, false},
		{TaskStateSucceeded, true},
		{TaskStateFailed, true},
		{TaskStateCancelled, true},
		{TaskStateTimedOut, true},
	}

	for _, tt := range tests {
		if got := tt.state.Terminal(); got != tt.want {
			t.Errorf("TaskState(%s).Terminal() = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestTaskRequest_CanTransition_TerminalIsImmutable(t *testing.T) {
	req := &TaskRequest{TaskID: "t1", State: TaskStateSucceeded}

	if err := req.CanTransition(TaskStateRunning); err == nil {
		t.Error("CanTransition from a terminal state returned nil error, want an error")
	}
}

func TestTaskRequest_CanTransition_NonTerminalAllowed(t *testing.T) {
	req := &TaskRequest{TaskID: "t1", State: TaskStateRunning}

	if err := req.CanTransition(TaskStateRepairing); err != nil {
		t.Errorf("CanTransition from running returned error: %v", err)
	}
}

func TestTaskTemplate_Selectable(t *testing.T) {
	tmpl := &TaskTemplate{
		Enabled: true,
		Definition: TaskDefinition{
			RequiredServices: []string{"sandbox", "llm"},
		},
	}

	if !tmpl.Selectable(map[string]bool{"sandbox": true, "llm": true}) {
		t.Error("Selectable() = false, want true when all required services are available")
	}
	if tmpl.Selectable(map[string]bool{"sandbox": true}) {
		t.Error("Selectable() = true, want false when a required service is unavailable")
	}
	tmpl.Enabled = false
	if tmpl.Selectable(map[string]bool{"sandbox": true, "llm": true}) {
		t.Error("Selectable() = true, want false when the template is disabled")
	}
}

func TestFailureCategory_Repairable(t *testing.T) {
	repairable := []FailureCategory{
		FailureValidation, FailureSecurity, FailureRuntime, FailureTimeout, FailureResourceLimit,
	}
	for _, c := range repairable {
		if !c.Repairable() {
			t.Errorf("FailureCategory(%s).Repairable() = false, want true", c)
		}
	}
	if FailureCategory("bogus").Repairable() {
		t.Error("unknown category reported as repairable")
	}
}
