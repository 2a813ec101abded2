package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/loomkit/adk/pkg/models"
)

// ProcessSandbox runs a script as a restricted subprocess: a fresh
// task-private temp directory, an explicit environment allowlist (never the
// parent process's environment), and a wall-clock timeout enforced via
// context cancellation. It is the reference Sandbox implementation; a
// production deployment swaps this for a stronger isolation backend
// (Firecracker microVM, WASM runtime) behind the same interface, per
// spec.md §9. Grounded on the teacher's sandbox.Executor/Pool subprocess
// lifecycle (internal/tools/sandbox/executor.go, pool.go), narrowed from a
// Docker/Firecracker/Daytona multi-backend pool to one direct subprocess
// path per Run call.
type ProcessSandbox struct {
	// Interpreter is the command used to run scriptSource, e.g.
	// []string{"python3", "-I"} (isolated mode: ignores PYTHONPATH/user site).
	Interpreter []string
}

// NewProcessSandbox constructs a ProcessSandbox defaulting to an isolated
// Python interpreter, matching the teacher's "python" language default in
// ExecuteParams.
func NewProcessSandbox(interpreter ...string) *ProcessSandbox {
	if len(interpreter) == 0 {
		interpreter = []string{"python3", "-I"}
	}
	return &ProcessSandbox{Interpreter: interpreter}
}

func (s *ProcessSandbox) StaticValidate(scriptSource string, budget Budget) error {
	return DefaultStaticValidate(scriptSource, budget)
}

// Run writes scriptSource to a task-private temp file under params.WorkDir
// (created fresh if empty) and executes it with the configured interpreter,
// an explicit environment allowlist, and the budget's wall-clock timeout.
// budget.HeapBytes is not applied: the subprocess runs without a memory cap,
// so Run never returns ClassificationResourceLimit. Cooperative cancellation (spec.md §4.D step 4) is the caller's
// responsibility between Run calls; a single Run call is not itself
// resumable once started.
func (s *ProcessSandbox) Run(ctx context.Context, scriptSource string, params Params, budget Budget) (Result, error) {
	wallClock := budget.WallClock
	if wallClock <= 0 {
		wallClock = 10 * time.Minute
	}

	runCtx, cancel := context.WithTimeout(ctx, wallClock)
	defer cancel()

	workDir := params.WorkDir
	if workDir == "" {
		dir, err := os.MkdirTemp("", "adk-task-*")
		if err != nil {
			return Result{}, fmt.Errorf("create task workdir: %w", err)
		}
		workDir = dir
		defer os.RemoveAll(workDir)
	}

	scriptPath := filepath.Join(workDir, "script.py")
	if err := os.WriteFile(scriptPath, []byte(scriptSource), 0o600); err != nil {
		return Result{}, fmt.Errorf("write script: %w", err)
	}

	args := append(append([]string{}, s.Interpreter[1:]...), scriptPath)
	cmd := exec.CommandContext(runCtx, s.Interpreter[0], args...)
	cmd.Dir = workDir
	cmd.Env = allowlistEnv(params.Env)
	if len(params.Parameters) > 0 {
		cmd.Stdin = bytes.NewReader(params.Parameters)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	diag := Diagnostics{Stdout: stdout.String(), Stderr: stderr.String()}

	if runCtx.Err() == context.DeadlineExceeded {
		diag.ExitCode = -1
		return Result{
			OK:             false,
			Err:            models.NewCoreError(models.ErrScriptTimeout, "script exceeded wall-clock budget"),
			Classification: ClassificationTimeout,
			Diagnostics:    diag,
		}, nil
	}

	if err == nil {
		diag.ExitCode = 0
		var artifact json.RawMessage
		if stdout.Len() > 0 {
			artifact = json.RawMessage(stdout.Bytes())
		}
		return Result{OK: true, ResultArtifact: artifact, Diagnostics: diag}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		diag.ExitCode = exitErr.ExitCode()
		return Result{
			OK:             false,
			Err:            models.NewCoreError(models.ErrScriptRuntime, fmt.Sprintf("script exited %d: %s", diag.ExitCode, lastLine(diag.Stderr))),
			Classification: ClassificationRuntimeError,
			Diagnostics:    diag,
		}, nil
	}

	// The subprocess could not be started at all; this is an infrastructure
	// failure, not a script classification.
	return Result{}, fmt.Errorf("run sandboxed script: %w", err)
}

// allowlistEnv builds an explicit environment for the subprocess, never
// inheriting the worker process's own environment (spec.md §4.D step 2).
func allowlistEnv(allowed map[string]string) []string {
	env := make([]string, 0, len(allowed))
	for k, v := range allowed {
		env = append(env, k+"="+v)
	}
	return env
}

func lastLine(s string) string {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '\n' && i != len(s)-1 {
			return s[i+1:]
		}
	}
	return s
}
