// Package sandbox implements spec.md §6's Sandbox interface and §4.D's
// static-validation/execution contract for TaskWorker. Per spec.md §9, the
// core must never "eval the template string" directly: execution happens in
// a separate executor (here, an out-of-process subprocess with a restricted
// interface) behind the Sandbox interface, so swapping in a stronger
// isolation backend (Firecracker microVM, WASM) never touches caller code.
// Grounded on the teacher's internal/tools/sandbox/executor.go (Executor,
// ExecuteParams/ExecuteResult shape, pool-backed subprocess execution),
// narrowed to the single Run contract spec.md §6 names.
package sandbox

import (
	"context"
	"encoding/json"
	"time"
)

// Classification mirrors spec.md §4.D's failure taxonomy, the input to §4.E's
// RepairLoop.
type Classification string

const (
	ClassificationNone            Classification = ""
	ClassificationValidationError Classification = "validation_error"
	ClassificationSecurity        Classification = "security_violation"
	ClassificationRuntimeError    Classification = "runtime_error"
	ClassificationTimeout         Classification = "timeout"
	ClassificationResourceLimit   Classification = "resource_limit"
)

// Budget bounds one Run call, per spec.md §4.D step 4 and §6 task.* keys.
type Budget struct {
	WallClock     time.Duration
	HeapBytes     int64
	ScriptSizeCap int
}

// Params carries the rendered script's inputs: substituted parameters and
// read-only handles to the services the worker has decided to permit
// (spec.md §4.D step 2 — "no environment-variable access, no filesystem
// access outside a task-private temp area").
type Params struct {
	Parameters json.RawMessage
	WorkDir    string
	Env        map[string]string // explicit allowlist only; never the process env
}

// Diagnostics carries execution telemetry useful for RepairLoop prompting and
// operator debugging, without exposing the script itself to non-admins
// (spec.md §7 "the underlying script is never shown to non-admins").
type Diagnostics struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	StepCount int
}

// Result is Run's outcome.
type Result struct {
	OK             bool
	ResultArtifact json.RawMessage
	Err            error
	Classification Classification
	Diagnostics    Diagnostics
}

// Sandbox is the single isolation boundary spec.md §6 names. A script that
// passes StaticValidate is handed to Run, which enforces the wall-clock and
// heap budget and returns a classified outcome rather than letting a panic or
// OS-level kill propagate as an opaque error.
type Sandbox interface {
	// StaticValidate rejects scripts that are empty, exceed the size cap,
	// reference blocked patterns, or contain an unbounded loop without a
	// cancellation check (spec.md §4.D step 3). Returns a *models.CoreError of
	// kind ERR_SCRIPT_INVALID on rejection.
	StaticValidate(scriptSource string, budget Budget) error

	// Run executes scriptSource under budget, substituting params. Run never
	// panics on a sandboxed failure: all script-side errors surface through
	// Result.Classification, reserving the returned error for infrastructure
	// failure (e.g. the subprocess could not be started at all).
	Run(ctx context.Context, scriptSource string, params Params, budget Budget) (Result, error)
}
