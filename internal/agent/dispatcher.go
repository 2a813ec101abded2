package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/loomkit/adk/internal/tools/policy"
	"github.com/loomkit/adk/pkg/models"
)

// EventSink is spec.md §6's append-only event collaborator. AgentRuntime,
// Dispatcher, TaskOrchestrator, TaskWorker, and RepairLoop all emit through
// it; errors never mutate into silent success (spec.md §7 propagation policy).
type EventSink interface {
	Emit(ctx context.Context, e models.CoreEvent)
}

// Dispatcher is spec.md §4.B's Dispatcher: it gates, validates, times out,
// and records every tool invocation. Grounded on the teacher's ToolExecutor
// (internal/agent/tool_exec.go) for the per-call timeout pattern, narrowed
// from concurrent/retrying execution to the spec's single-attempt,
// sequential-within-a-turn contract (§4.B "No parallel tool execution
// inside one turn").
type Dispatcher struct {
	registry       *Registry
	resolver       *policy.Resolver
	sink           EventSink
	defaultTimeout time.Duration

	schemaCacheMu sync.Mutex
	schemaCache   map[string]*jsonschema.Schema
}

// NewDispatcher constructs a Dispatcher. defaultTimeout is used for any tool
// whose descriptor does not set TimeoutMs (spec.md §6 tool.defaultTimeoutMs).
func NewDispatcher(registry *Registry, resolver *policy.Resolver, sink EventSink, defaultTimeout time.Duration) *Dispatcher {
	if resolver == nil {
		resolver = policy.NewResolver()
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &Dispatcher{
		registry:       registry,
		resolver:       resolver,
		sink:           sink,
		defaultTimeout: defaultTimeout,
		schemaCache:    make(map[string]*jsonschema.Schema),
	}
}

// Invoke runs one tool call end to end per spec.md §4.B: existence/role
// gate, schema validation, timeout-bound execution, event emission. Gate,
// validation and timeout failures are returned as a *models.CoreError so
// callers can switch on Kind; an error returned by the tool body itself is
// passed back wrapped with fmt.Errorf, not as a CoreError.
func (d *Dispatcher) Invoke(ctx context.Context, userID string, role models.AccessRole, toolName string, args json.RawMessage) (*ToolResult, error) {
	start := time.Now()

	desc, ok := d.registry.Descriptor(toolName)
	if !ok {
		d.emit(ctx, toolName, userID, role, start, models.ToolOutcomeUnknown)
		return nil, models.NewCoreError(models.ErrToolUnknown, fmt.Sprintf("tool %q is not registered", toolName))
	}
	decision := d.resolver.Decide(desc, role)
	if !decision.Allowed {
		d.emit(ctx, toolName, userID, role, start, models.ToolOutcomeForbidden)
		return nil, models.NewCoreError(models.ErrToolForbidden, decision.Reason)
	}

	tool, ok := d.registry.Tool(toolName)
	if !ok {
		d.emit(ctx, toolName, userID, role, start, models.ToolOutcomeUnknown)
		return nil, models.NewCoreError(models.ErrToolUnknown, fmt.Sprintf("tool %q has no implementation", toolName))
	}

	if err := d.validateArgs(desc, args); err != nil {
		d.emit(ctx, toolName, userID, role, start, models.ToolOutcomeBadArgs)
		return nil, models.NewCoreError(models.ErrToolBadArgs, err.Error())
	}

	timeout := d.defaultTimeout
	if desc.TimeoutMs > 0 {
		timeout = time.Duration(desc.TimeoutMs) * time.Millisecond
	}
	result, timedOut, err := d.runWithTimeout(ctx, tool, args, timeout)

	switch {
	case timedOut:
		d.emit(ctx, toolName, userID, role, start, models.ToolOutcomeTimeout)
		return nil, models.NewCoreError(models.ErrToolTimeout, fmt.Sprintf("tool %q exceeded %s", toolName, timeout))
	case err != nil:
		d.emit(ctx, toolName, userID, role, start, models.ToolOutcomeError)
		return nil, fmt.Errorf("agent: tool %q execution failed: %w", toolName, err)
	case result != nil && result.IsError:
		d.emit(ctx, toolName, userID, role, start, models.ToolOutcomeError)
		return result, nil
	default:
		d.emit(ctx, toolName, userID, role, start, models.ToolOutcomeSuccess)
		return result, nil
	}
}

// runWithTimeout executes tool.Execute under a context deadline. Cancellation
// is cooperative: the tool is expected to observe ctx, but a hung tool that
// ignores it still causes Invoke to return ERR_TOOL_TIMEOUT to the caller
// (the goroutine itself leaks until the tool eventually returns, matching
// the teacher's executeWithTimeout tradeoff in internal/agent/tool_exec.go).
func (d *Dispatcher) runWithTimeout(ctx context.Context, tool Tool, args json.RawMessage, timeout time.Duration) (*ToolResult, bool, error) {
	toolCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result *ToolResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := tool.Execute(toolCtx, args)
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-toolCtx.Done():
		return nil, true, nil
	case o := <-done:
		return o.result, false, o.err
	}
}

func (d *Dispatcher) validateArgs(desc *models.ToolDescriptor, args json.RawMessage) error {
	if len(desc.ParameterSchema) == 0 {
		return nil
	}
	schema, err := d.compileSchema(desc.Name, desc.ParameterSchema)
	if err != nil {
		return fmt.Errorf("tool %q has an invalid parameter schema: %w", desc.Name, err)
	}
	var decoded any
	if len(args) == 0 {
		decoded = map[string]any{}
	} else if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("arguments do not match schema: %w", err)
	}
	return nil
}

func (d *Dispatcher) compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	d.schemaCacheMu.Lock()
	defer d.schemaCacheMu.Unlock()
	if s, ok := d.schemaCache[name]; ok {
		return s, nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name+".schema.json", io.Reader(bytes.NewReader(raw))); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile(name + ".schema.json")
	if err != nil {
		return nil, err
	}
	d.schemaCache[name] = schema
	return schema, nil
}

func (d *Dispatcher) emit(ctx context.Context, toolName, userID string, role models.AccessRole, start time.Time, outcome models.ToolOutcome) {
	if d.sink == nil {
		return
	}
	d.sink.Emit(ctx, models.CoreEvent{
		Type: models.EventToolInvocation,
		Time: time.Now(),
		ToolInvocation: &models.ToolInvocationEvent{
			ToolName:   toolName,
			UserID:     userID,
			Role:       role,
			DurationMs: time.Since(start).Milliseconds(),
			Outcome:    outcome,
		},
	})
}
