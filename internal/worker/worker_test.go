package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/loomkit/adk/internal/tools/sandbox"
	"github.com/loomkit/adk/pkg/models"
)

type completion struct {
	taskID         string
	state          models.TaskState
	resultArtifact json.RawMessage
	failure        *models.FailureRecord
}

type fakeTaskSource struct {
	mu          sync.Mutex
	leaseQueue  []*models.TaskRequest
	heartbeats  int
	completions []completion
}

func (f *fakeTaskSource) Lease(context.Context, string) (*models.TaskRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.leaseQueue) == 0 {
		return nil, ErrNoTaskAvailable
	}
	task := f.leaseQueue[0]
	f.leaseQueue = f.leaseQueue[1:]
	return task, nil
}

func (f *fakeTaskSource) Heartbeat(context.Context, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
}

func (f *fakeTaskSource) Complete(_ context.Context, taskID string, state models.TaskState, resultArtifact json.RawMessage, failure *models.FailureRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completions = append(f.completions, completion{taskID: taskID, state: state, resultArtifact: resultArtifact, failure: failure})
	return nil
}

func (f *fakeTaskSource) lastCompletion() completion {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.completions) == 0 {
		return completion{}
	}
	return f.completions[len(f.completions)-1]
}

type fakeSandbox struct {
	validateErr error
	results     []sandbox.Result
	runErr      error
	runCalls    int
}

func (f *fakeSandbox) StaticValidate(string, sandbox.Budget) error { return f.validateErr }

func (f *fakeSandbox) Run(context.Context, string, sandbox.Params, sandbox.Budget) (sandbox.Result, error) {
	idx := f.runCalls
	f.runCalls++
	if idx < len(f.results) {
		return f.results[idx], f.runErr
	}
	return sandbox.Result{}, f.runErr
}

type fakeRepairer struct {
	patched string
	ok      bool
	err     error
	calls   int

	outcomes []bool
}

func (f *fakeRepairer) Repair(context.Context, *models.TaskRequest, models.FailureRecord) (string, bool, error) {
	f.calls++
	return f.patched, f.ok, f.err
}

func (f *fakeRepairer) RecordOutcome(_ context.Context, _ string, succeeded bool) {
	f.outcomes = append(f.outcomes, succeeded)
}

func newTestPool(source TaskSource, sb sandbox.Sandbox, repairer Repairer) *Pool {
	return NewPool("w", source, sb, repairer, nil, Config{
		HeartbeatInterval: time.Millisecond,
		PollInterval:      time.Millisecond,
	}, nil)
}

func TestPoolRunSucceeds(t *testing.T) {
	source := &fakeTaskSource{}
	sb := &fakeSandbox{results: []sandbox.Result{{OK: true, ResultArtifact: json.RawMessage(`{"rows":5}`)}}}
	p := newTestPool(source, sb, nil)

	task := &models.TaskRequest{TaskID: "t1", ScriptCurrent: "run()"}
	p.run(context.Background(), "w-0", task)

	got := source.lastCompletion()
	if got.state != models.TaskStateSucceeded {
		t.Fatalf("state = %q, want succeeded", got.state)
	}
	if string(got.resultArtifact) != `{"rows":5}` {
		t.Errorf("resultArtifact = %s, want the sandbox's artifact", got.resultArtifact)
	}
}

func TestPoolRunFailsWithoutRepairer(t *testing.T) {
	source := &fakeTaskSource{}
	sb := &fakeSandbox{results: []sandbox.Result{{OK: false, Classification: sandbox.ClassificationRuntimeError, Err: errors.New("boom")}}}
	p := newTestPool(source, sb, nil)

	task := &models.TaskRequest{TaskID: "t1", ScriptCurrent: "run()"}
	p.run(context.Background(), "w-0", task)

	got := source.lastCompletion()
	if got.state != models.TaskStateFailed {
		t.Fatalf("state = %q, want failed", got.state)
	}
	if got.failure == nil || got.failure.Category != models.FailureRuntime {
		t.Errorf("failure = %+v, want category runtime_error", got.failure)
	}
}

func TestPoolRunTimeoutCompletesAsTimedOut(t *testing.T) {
	source := &fakeTaskSource{}
	sb := &fakeSandbox{results: []sandbox.Result{{OK: false, Classification: sandbox.ClassificationTimeout}}}
	p := newTestPool(source, sb, nil)

	task := &models.TaskRequest{TaskID: "t1", ScriptCurrent: "run()"}
	p.run(context.Background(), "w-0", task)

	got := source.lastCompletion()
	if got.state != models.TaskStateTimedOut {
		t.Fatalf("state = %q, want timed_out", got.state)
	}
}

func TestPoolRunRepairsAndRetries(t *testing.T) {
	source := &fakeTaskSource{}
	sb := &countingSandbox{inner: &fakeSandbox{
		validateErr: errors.New("blocked pattern"),
		results:     []sandbox.Result{{OK: true}},
	}}
	repairer := &fakeRepairer{patched: "fixed()", ok: true}
	p := newTestPool(source, sb, repairer)

	task := &models.TaskRequest{TaskID: "t1", ScriptCurrent: "broken()"}
	p.run(context.Background(), "w-0", task)

	if repairer.calls != 1 {
		t.Fatalf("repairer called %d times, want 1", repairer.calls)
	}
	if task.RepairCount != 1 {
		t.Errorf("task.RepairCount = %d, want 1", task.RepairCount)
	}
	if task.ScriptCurrent != "fixed()" {
		t.Errorf("task.ScriptCurrent = %q, want the repaired script", task.ScriptCurrent)
	}
	got := source.lastCompletion()
	if got.state != models.TaskStateSucceeded {
		t.Fatalf("state = %q, want succeeded after repair", got.state)
	}
	if len(repairer.outcomes) != 1 || !repairer.outcomes[0] {
		t.Errorf("repairer.outcomes = %v, want a single successful outcome", repairer.outcomes)
	}
}

// countingSandbox only rejects the first StaticValidate call, simulating a
// script that becomes valid once RepairLoop has patched it.
type countingSandbox struct {
	inner *fakeSandbox
	calls int
}

func (c *countingSandbox) StaticValidate(script string, budget sandbox.Budget) error {
	c.calls++
	if c.calls == 1 {
		return c.inner.validateErr
	}
	return nil
}

func (c *countingSandbox) Run(ctx context.Context, script string, params sandbox.Params, budget sandbox.Budget) (sandbox.Result, error) {
	return c.inner.Run(ctx, script, params, budget)
}

func TestPoolRunGivesUpAfterMaxRepairs(t *testing.T) {
	source := &fakeTaskSource{}
	sb := &fakeSandbox{validateErr: errors.New("always invalid")}
	repairer := &fakeRepairer{patched: "still-broken()", ok: true}
	p := NewPool("w", source, sb, repairer, nil, Config{MaxRepairs: 2, HeartbeatInterval: time.Millisecond}, nil)

	task := &models.TaskRequest{TaskID: "t1", ScriptCurrent: "broken()"}
	p.run(context.Background(), "w-0", task)

	if repairer.calls != 2 {
		t.Fatalf("repairer called %d times, want 2 (bounded by MaxRepairs)", repairer.calls)
	}
	got := source.lastCompletion()
	if got.state != models.TaskStateFailed {
		t.Fatalf("state = %q, want failed once repair budget is exhausted", got.state)
	}
	if len(repairer.outcomes) != 1 || repairer.outcomes[0] {
		t.Errorf("repairer.outcomes = %v, want a single failed outcome", repairer.outcomes)
	}
}

func TestPoolStartStopDrainsQueue(t *testing.T) {
	task := &models.TaskRequest{TaskID: "t1", ScriptCurrent: "run()"}
	source := &fakeTaskSource{leaseQueue: []*models.TaskRequest{task}}
	sb := &fakeSandbox{results: []sandbox.Result{{OK: true}}}
	p := NewPool("w", source, sb, nil, nil, Config{NumWorkers: 1, PollInterval: time.Millisecond, HeartbeatInterval: time.Millisecond}, nil)

	p.Start(context.Background())
	deadline := time.After(time.Second)
	for {
		if source.lastCompletion().taskID == "t1" {
			break
		}
		select {
		case <-deadline:
			p.Stop()
			t.Fatal("task was never completed")
		case <-time.After(time.Millisecond):
		}
	}
	p.Stop()
}
