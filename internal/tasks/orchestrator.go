// Package tasks implements spec.md §4.C's TaskOrchestrator: submission,
// persistence, a bounded per-user-fair queue, and lifecycle tracking for
// complex tasks. Grounded on the teacher's internal/tasks package — its
// Store interface (store.go) for the persistence shape and its Scheduler
// (scheduler.go) for the WorkerID/concurrency-cap/config-with-defaults
// pattern — narrowed from a cron-driven poll loop to a Submit-driven queue
// with FIFO-per-user ordering and round-robin fairness across users
// (spec.md §4.C "Ordering guarantee").
package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/loomkit/adk/internal/llm"
	"github.com/loomkit/adk/internal/observability"
	"github.com/loomkit/adk/internal/storage"
	"github.com/loomkit/adk/internal/tools/sandbox"
	"github.com/loomkit/adk/pkg/models"
)

// ErrNoTaskAvailable is returned by Lease when no task is currently eligible
// for pickup — a normal "nothing to do yet" condition for a polling worker,
// not a CoreError.
var ErrNoTaskAvailable = errors.New("tasks: no task available")

// EventSink is the append-only event collaborator (spec.md §6), declared
// locally so this package need not import internal/agent: any type whose
// Emit method matches this shape (including internal/agent's Dispatcher
// sink) satisfies it.
type EventSink interface {
	Emit(ctx context.Context, e models.CoreEvent)
}

// TemplateSource resolves a stable templateId to its TaskTemplate. Submit
// uses it to validate parameters and snapshot ExecutionScriptTemplate into
// TaskRequest.ScriptCurrent (spec.md §9 Open Question 3: scriptCurrent is
// decoupled from later template edits).
type TemplateSource interface {
	Template(ctx context.Context, templateID string) (*models.TaskTemplate, bool)
}

// Config bounds Orchestrator behavior (spec.md §6 task.* keys).
type Config struct {
	QueueDepth        int
	PerUserCapUser    int
	PerUserCapAdmin   int // 0 means unlimited
	HeartbeatInterval time.Duration
	ScriptSizeCap     int
}

func (c *Config) normalize() {
	if c.QueueDepth <= 0 {
		c.QueueDepth = 1024
	}
	if c.PerUserCapUser <= 0 {
		c.PerUserCapUser = 5
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
	if c.ScriptSizeCap <= 0 {
		c.ScriptSizeCap = 200 * 1024
	}
}

// userLane is one user's FIFO lane of queued task IDs plus the role used to
// resolve their concurrency cap.
type userLane struct {
	role    models.AccessRole
	pending []string
	running int
}

// Orchestrator is spec.md §4.C's TaskOrchestrator. Grounded on the teacher's
// Scheduler (internal/tasks/scheduler.go) for its semaphore/WorkerID shape,
// replacing the poll-driven due-task scan with an explicit Submit/Lease pair
// since this spec's tasks are triggered by AgentRuntime, not cron.
type Orchestrator struct {
	store     storage.KeyValueStore
	templates TemplateSource
	provider  llm.Provider
	sandbox   sandbox.Sandbox
	sink      EventSink
	log       *slog.Logger
	cfg       Config
	tracer    *observability.Tracer

	mu          sync.Mutex
	lanes       map[string]*userLane
	order       []string // round-robin rotation of userIDs with pending or running work
	orderPos    int
	queuedCount int
	heartbeats  map[string]time.Time
	requeued    map[string]bool

	schemaCacheMu sync.Mutex
	schemaCache   map[string]*jsonschema.Schema
}

// NewOrchestrator constructs an Orchestrator. store persists every
// TaskRequest under path "tasks/<taskID>"; templates resolves templateIds;
// provider and sb back ad-hoc template synthesis (spec.md §4.C "Ad-hoc
// template synthesis"). tracer may be nil, in which case Submit runs
// unspanned (every Tracer method tolerates a nil receiver).
func NewOrchestrator(store storage.KeyValueStore, templates TemplateSource, provider llm.Provider, sb sandbox.Sandbox, sink EventSink, cfg Config, log *slog.Logger, tracer *observability.Tracer) *Orchestrator {
	cfg.normalize()
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		store:       store,
		templates:   templates,
		provider:    provider,
		sandbox:     sb,
		sink:        sink,
		log:         log,
		cfg:         cfg,
		tracer:      tracer,
		lanes:       make(map[string]*userLane),
		heartbeats:  make(map[string]time.Time),
		requeued:    make(map[string]bool),
		schemaCache: make(map[string]*jsonschema.Schema),
	}
}

// Submit is spec.md §4.C's Submit(req) → taskHandle. Exactly one of
// templateID or naturalLanguageSpec should be set; templateID takes
// precedence when both are (mirroring AgentRuntime's PlanComplexTask vs.
// PlanComplexTaskAdhoc distinction at the call site).
// Submit's parameter type matches internal/agent.TaskSubmitFunc exactly
// (plain []byte, not json.RawMessage) so an *Orchestrator method value can
// be assigned directly as a TaskSubmitFunc without a wrapping closure.
func (o *Orchestrator) Submit(ctx context.Context, userID string, role models.AccessRole, templateID string, parameters []byte, naturalLanguageSpec string) (*models.TaskRequest, error) {
	ctx, span := o.tracer.TraceSubmit(ctx, templateID)
	defer span.End()

	var script string
	resolvedTemplateID := templateID

	if templateID != "" {
		tmpl, ok := o.templates.Template(ctx, templateID)
		if !ok {
			err := fmt.Errorf("tasks: template %q not found", templateID)
			o.tracer.RecordError(span, err)
			return nil, err
		}
		if len(tmpl.ParameterSchema) > 0 {
			if err := o.validateParameters(templateID, tmpl.ParameterSchema, parameters); err != nil {
				err = fmt.Errorf("tasks: parameters do not match template %q schema: %w", templateID, err)
				o.tracer.RecordError(span, err)
				return nil, err
			}
		}
		script = tmpl.ExecutionScriptTemplate
	} else {
		synthesized, err := o.synthesizeAdhocTemplate(ctx, naturalLanguageSpec)
		if err != nil {
			o.tracer.RecordError(span, err)
			return nil, err
		}
		resolvedTemplateID = "adhoc-" + uuid.NewString()
		script = synthesized
	}

	task := &models.TaskRequest{
		TaskID:        uuid.NewString(),
		TemplateID:    resolvedTemplateID,
		UserID:        userID,
		Role:          role,
		Parameters:    parameters,
		State:         models.TaskStateQueued,
		ScriptCurrent: script,
		SubmittedAt:   time.Now(),
	}

	o.mu.Lock()
	if o.queuedCount >= o.cfg.QueueDepth {
		o.mu.Unlock()
		err := models.NewCoreError(models.ErrQueueFull, fmt.Sprintf("queue at capacity (%d)", o.cfg.QueueDepth))
		o.tracer.RecordError(span, err)
		return nil, err
	}
	lane, ok := o.lanes[userID]
	if !ok {
		lane = &userLane{role: role}
		o.lanes[userID] = lane
		o.order = append(o.order, userID)
	}
	lane.pending = append(lane.pending, task.TaskID)
	o.queuedCount++
	o.mu.Unlock()

	if err := o.persist(ctx, task); err != nil {
		err = fmt.Errorf("tasks: persist task %s: %w", task.TaskID, err)
		o.tracer.RecordError(span, err)
		return nil, err
	}

	o.emit(ctx, models.CoreEvent{
		Type: models.EventTaskQueued,
		Time: time.Now(),
		TaskQueued: &models.TaskQueuedEvent{
			TaskID:     task.TaskID,
			TemplateID: task.TemplateID,
			UserID:     task.UserID,
		},
	})
	return task, nil
}

// synthesizeAdhocTemplate is spec.md §4.C's ad-hoc path: prompt the LLM for
// an execution script, then run it through the same static checks §4.D
// applies before ever persisting it as scriptCurrent.
func (o *Orchestrator) synthesizeAdhocTemplate(ctx context.Context, naturalLanguageSpec string) (string, error) {
	if o.provider == nil {
		return "", fmt.Errorf("tasks: no LLM provider configured for ad-hoc task synthesis")
	}
	chunks, err := o.provider.Complete(ctx, &llm.CompletionRequest{
		System: "You design sandboxed execution scripts for a task-automation platform. " +
			"Given a user's natural-language request, respond with ONLY the script source, " +
			"no commentary, no markdown fences.",
		Messages: []llm.CompletionMessage{{Role: "user", Content: naturalLanguageSpec}},
	})
	if err != nil {
		return "", fmt.Errorf("tasks: ad-hoc synthesis request failed: %w", err)
	}
	var script strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", fmt.Errorf("tasks: ad-hoc synthesis stream failed: %w", chunk.Error)
		}
		script.WriteString(chunk.Text)
	}
	source := script.String()

	if o.sandbox != nil {
		budget := sandbox.Budget{ScriptSizeCap: o.cfg.ScriptSizeCap}
		if err := o.sandbox.StaticValidate(source, budget); err != nil {
			return "", models.WrapCoreError(models.ErrScriptInvalid, "ad-hoc synthesized script failed static validation", err)
		}
	}
	return source, nil
}

func (o *Orchestrator) validateParameters(templateID string, schemaRaw json.RawMessage, params json.RawMessage) error {
	schema, err := o.compileSchema(templateID, schemaRaw)
	if err != nil {
		return fmt.Errorf("invalid parameter schema: %w", err)
	}
	var decoded any
	if len(params) == 0 {
		decoded = map[string]any{}
	} else if err := json.Unmarshal(params, &decoded); err != nil {
		return fmt.Errorf("parameters are not valid JSON: %w", err)
	}
	return schema.Validate(decoded)
}

func (o *Orchestrator) compileSchema(key string, raw json.RawMessage) (*jsonschema.Schema, error) {
	o.schemaCacheMu.Lock()
	defer o.schemaCacheMu.Unlock()
	if s, ok := o.schemaCache[key]; ok {
		return s, nil
	}
	compiler := jsonschema.NewCompiler()
	name := key + ".schema.json"
	if err := compiler.AddResource(name, io.Reader(bytes.NewReader(raw))); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, err
	}
	o.schemaCache[key] = schema
	return schema, nil
}

// Lease picks up the next eligible queued task for workerID, respecting
// per-user concurrency caps and round-robin fairness across users with
// pending work (spec.md §4.C "Ordering guarantee", §4.D step 1).
func (o *Orchestrator) Lease(ctx context.Context, workerID string) (*models.TaskRequest, error) {
	o.mu.Lock()
	taskID, _, ok := o.pickNext()
	if !ok {
		o.mu.Unlock()
		return nil, ErrNoTaskAvailable
	}
	o.queuedCount--
	o.mu.Unlock()

	task, err := o.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	task.State = models.TaskStateRunning
	task.StartedAt = &now
	task.WorkerID = workerID
	if err := o.persist(ctx, task); err != nil {
		return nil, fmt.Errorf("tasks: persist leased task %s: %w", taskID, err)
	}

	o.mu.Lock()
	o.heartbeats[taskID] = now
	o.mu.Unlock()
	return task, nil
}

// pickNext scans o.order starting at o.orderPos for the first user with a
// pending task and remaining concurrency headroom, rotating orderPos past
// whichever user it serves (or skips) so the next call continues the
// round-robin rather than favoring low-index users.
func (o *Orchestrator) pickNext() (taskID, userID string, ok bool) {
	n := len(o.order)
	for i := 0; i < n; i++ {
		idx := (o.orderPos + i) % n
		uid := o.order[idx]
		lane := o.lanes[uid]
		if lane == nil || len(lane.pending) == 0 {
			continue
		}
		if !o.hasCapacity(lane) {
			continue
		}
		taskID = lane.pending[0]
		lane.pending = lane.pending[1:]
		lane.running++
		o.orderPos = (idx + 1) % n
		return taskID, uid, true
	}
	return "", "", false
}

func (o *Orchestrator) hasCapacity(lane *userLane) bool {
	capLimit := o.cfg.PerUserCapUser
	if lane.role == models.AccessRoleAdmin {
		capLimit = o.cfg.PerUserCapAdmin
	}
	if capLimit <= 0 {
		return true // unlimited
	}
	return lane.running < capLimit
}

// Heartbeat records that taskID's worker is still alive (spec.md §4.D step
// 6). A task whose heartbeat goes stale for 3×HeartbeatInterval becomes
// eligible for CheckOrphans to re-queue, exactly once.
func (o *Orchestrator) Heartbeat(_ context.Context, taskID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.heartbeats[taskID] = time.Now()
}

// CheckOrphans scans for tasks whose heartbeat has gone stale and re-queues
// each exactly once (spec.md §4.D step 6). Intended to be called
// periodically by the process that owns the Orchestrator (e.g. from a
// ticker in cmd/adk). Returns the task IDs re-queued this call.
func (o *Orchestrator) CheckOrphans(ctx context.Context) ([]string, error) {
	staleAfter := 3 * o.cfg.HeartbeatInterval

	o.mu.Lock()
	var stale []string
	now := time.Now()
	for taskID, last := range o.heartbeats {
		if now.Sub(last) > staleAfter && !o.requeued[taskID] {
			stale = append(stale, taskID)
		}
	}
	o.mu.Unlock()

	var requeuedIDs []string
	for _, taskID := range stale {
		task, err := o.load(ctx, taskID)
		if err != nil || task.State.Terminal() {
			continue
		}
		task.State = models.TaskStateQueued
		task.WorkerID = ""
		if err := o.persist(ctx, task); err != nil {
			o.log.Warn("failed to persist orphan requeue", "task", taskID, "error", err)
			continue
		}

		o.mu.Lock()
		o.requeued[taskID] = true
		delete(o.heartbeats, taskID)
		lane, ok := o.lanes[task.UserID]
		if !ok {
			lane = &userLane{role: task.Role}
			o.lanes[task.UserID] = lane
			o.order = append(o.order, task.UserID)
		}
		if lane.running > 0 {
			lane.running--
		}
		lane.pending = append(lane.pending, taskID)
		o.queuedCount++
		o.mu.Unlock()

		requeuedIDs = append(requeuedIDs, taskID)
		o.log.Warn("re-queued orphaned task", "task", taskID, "worker", task.WorkerID)
	}
	return requeuedIDs, nil
}

// Complete transitions taskID to a terminal state and releases its
// concurrency slot (spec.md §4.D step 5, §4.E step 7's eventual outcome).
func (o *Orchestrator) Complete(ctx context.Context, taskID string, state models.TaskState, resultArtifact json.RawMessage, failure *models.FailureRecord) error {
	task, err := o.load(ctx, taskID)
	if err != nil {
		return err
	}
	if err := task.CanTransition(state); err != nil {
		return err
	}
	now := time.Now()
	task.State = state
	task.FinishedAt = &now
	if resultArtifact != nil {
		task.ResultArtifact = resultArtifact
	}
	if failure != nil {
		task.Errors = append(task.Errors, *failure)
	}
	if err := o.persist(ctx, task); err != nil {
		return fmt.Errorf("tasks: persist completed task %s: %w", taskID, err)
	}

	o.mu.Lock()
	delete(o.heartbeats, taskID)
	if lane, ok := o.lanes[task.UserID]; ok && lane.running > 0 {
		lane.running--
	}
	o.mu.Unlock()

	switch state {
	case models.TaskStateSucceeded:
		o.emit(ctx, models.CoreEvent{Type: models.EventTaskSucceeded, Time: now, TaskSucceeded: &models.TaskSucceededEvent{TaskID: taskID}})
	case models.TaskStateFailed, models.TaskStateTimedOut:
		cause := ""
		if failure != nil {
			cause = failure.Detail
		}
		o.emit(ctx, models.CoreEvent{Type: models.EventTaskFailed, Time: now, TaskFailed: &models.TaskFailedEvent{TaskID: taskID, Cause: cause}})
	}
	return nil
}

// Status is spec.md §4.C's Status(taskId) → TaskRequest.
func (o *Orchestrator) Status(ctx context.Context, taskID string) (*models.TaskRequest, error) {
	return o.load(ctx, taskID)
}

// Cancel moves a non-terminal task straight to the cancelled state through
// Complete (spec.md §4.C). Terminal tasks are left untouched. No flag is set
// for the worker: a worker already running the task is not signalled, and
// its script keeps running.
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) error {
	task, err := o.load(ctx, taskID)
	if err != nil {
		return err
	}
	if task.State.Terminal() {
		return nil
	}
	return o.Complete(ctx, taskID, models.TaskStateCancelled, nil, nil)
}

// ListFilter narrows List to a user and/or state.
type ListFilter struct {
	UserID string
	State  models.TaskState
	Limit  int
}

// List is spec.md §4.C's List(filter).
func (o *Orchestrator) List(ctx context.Context, filter ListFilter) ([]*models.TaskRequest, error) {
	var where []storage.Where
	if filter.UserID != "" {
		where = append(where, storage.Where{Field: "user_id", Value: filter.UserID})
	}
	if filter.State != "" {
		where = append(where, storage.Where{Field: "state", Value: string(filter.State)})
	}
	docs, err := o.store.Query(ctx, "tasks", storage.QueryOptions{Where: where, Limit: filter.Limit})
	if err != nil {
		return nil, err
	}
	out := make([]*models.TaskRequest, 0, len(docs))
	for _, doc := range docs {
		task, err := docToTask(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, nil
}

func (o *Orchestrator) persist(ctx context.Context, task *models.TaskRequest) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	return o.store.Set(ctx, "tasks/"+task.TaskID, &storage.Document{Fields: fields})
}

func (o *Orchestrator) load(ctx context.Context, taskID string) (*models.TaskRequest, error) {
	doc, err := o.store.Get(ctx, "tasks/"+taskID)
	if err != nil {
		return nil, err
	}
	return docToTask(doc)
}

func docToTask(doc *storage.Document) (*models.TaskRequest, error) {
	raw, err := json.Marshal(doc.Fields)
	if err != nil {
		return nil, err
	}
	var task models.TaskRequest
	if err := json.Unmarshal(raw, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (o *Orchestrator) emit(ctx context.Context, e models.CoreEvent) {
	if o.sink == nil {
		return
	}
	o.sink.Emit(ctx, e)
}
