// Package agent implements spec.md §4.A's AgentRuntime and §4.B's
// ToolRegistry/Dispatcher: the single entry point for "user said X,
// respond", and the role-gated, timeout-bound tool invocation path it
// drives. Grounded on the teacher's internal/agent package
// (internal/agent/runtime.go's Process pipeline, tool_registry.go,
// tool_exec.go), replacing its session/branch/plugin/provider-routing
// machinery with the narrower sanitize->retrieve->plan->act pipeline this
// spec defines.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/loomkit/adk/internal/llm"
	"github.com/loomkit/adk/internal/observability"
	"github.com/loomkit/adk/internal/rag"
	"github.com/loomkit/adk/internal/tools/policy"
	"github.com/loomkit/adk/pkg/models"
)

// Config carries the tunables spec.md §6 lists for AgentRuntime, with safe
// defaults applied by internal/config.Runtime.Default before construction.
type Config struct {
	LoopCap      int
	RetrievalK   int
	RetrievalN   int
	RetrievalM   int
	SimThreshold float64
}

// Request is AgentRuntime.Handle's input (spec.md §4.A).
type Request struct {
	UserID         string
	Role           models.AccessRole
	ConversationID string
	Message        string
	PlatformHint   string
}

// Response is Handle's observable outcome: either a direct answer or a
// submitted task handle, never both.
type Response struct {
	Text            string
	Task            *models.TaskRequest
	ToolInvocations int
}

// TaskSubmitFunc submits a complex task on the caller's behalf (spec.md
// §4.A step 5, §4.C Submit). Declared as a function type rather than an
// interface with a dedicated request struct so internal/tasks need not
// import this package to satisfy it.
type TaskSubmitFunc func(ctx context.Context, userID string, role models.AccessRole, templateID string, parameters []byte, naturalLanguageSpec string) (*models.TaskRequest, error)

// Runtime is spec.md §4.A's AgentRuntime: a pure orchestrator over its
// collaborators, carrying no business logic of its own.
type Runtime struct {
	cfg Config

	provider     llm.Provider
	index        *rag.Manager
	registry     *Registry
	dispatcher   *Dispatcher
	resolver     *policy.Resolver
	conversation ConversationStore
	submitTask   TaskSubmitFunc
	tracer       *observability.Tracer

	systemPersona string
	model         string
}

// NewRuntime wires an AgentRuntime from its collaborators. systemPersona is
// the fixed planning-prompt preamble; model selects which of provider's
// Models() to target. tracer may be nil, in which case Handle's pipeline
// runs unspanned (every Tracer method tolerates a nil receiver).
func NewRuntime(cfg Config, provider llm.Provider, index *rag.Manager, registry *Registry, dispatcher *Dispatcher, conversation ConversationStore, submitTask TaskSubmitFunc, systemPersona, model string, tracer *observability.Tracer) *Runtime {
	if cfg.LoopCap <= 0 {
		cfg.LoopCap = 5
	}
	if cfg.RetrievalK <= 0 {
		cfg.RetrievalK = 5
	}
	if cfg.RetrievalN <= 0 {
		cfg.RetrievalN = 10
	}
	if cfg.RetrievalM <= 0 {
		cfg.RetrievalM = 3
	}
	if cfg.SimThreshold <= 0 {
		cfg.SimThreshold = 0.65
	}
	return &Runtime{
		cfg:           cfg,
		provider:      provider,
		index:         index,
		registry:      registry,
		dispatcher:    dispatcher,
		resolver:      policy.NewResolver(),
		conversation:  conversation,
		submitTask:    submitTask,
		tracer:        tracer,
		systemPersona: systemPersona,
		model:         model,
	}
}

// Handle runs the full spec.md §4.A pipeline: sanitize, load window,
// retrieve, plan, act. The whole call is one span (SPEC_FULL.md §11), with
// child spans around retrieve, each plan iteration, and dispatch.
func (r *Runtime) Handle(ctx context.Context, req Request) (*Response, error) {
	ctx, span := r.tracer.TraceHandle(ctx, req.ConversationID)
	defer span.End()

	clean := Sanitize(req.Message, ContextTypeChat)

	window, err := r.conversation.Window(ctx, req.ConversationID)
	if err != nil {
		r.tracer.RecordError(span, err)
		return nil, fmt.Errorf("agent: load conversation window: %w", err)
	}

	knowledge, tools, templates := r.retrieve(ctx, clean, req.Role)

	resp, err := r.planAndAct(ctx, req, clean, window, knowledge, tools, templates)
	if err != nil {
		r.tracer.RecordError(span, err)
		return nil, err
	}

	_ = r.conversation.Append(ctx, req.ConversationID, models.ConversationTurn{Role: "user", Content: clean, CreatedAt: time.Now()})
	if resp.Text != "" {
		_ = r.conversation.Append(ctx, req.ConversationID, models.ConversationTurn{Role: "assistant", Content: resp.Text, CreatedAt: time.Now()})
	}
	return resp, nil
}

// retrieve is spec.md §4.A step 3. A retrieval failure (ERR_EMBED_UNAVAILABLE
// surfacing from the embedding service through the index) degrades to an
// empty result for that slice rather than failing the whole turn (spec.md
// §4.G "Failure mode").
func (r *Runtime) retrieve(ctx context.Context, message string, role models.AccessRole) (knowledge, toolCandidates, templates []rag.Result) {
	ctx, span := r.tracer.TraceRetrieve(ctx)
	defer span.End()

	if r.index == nil {
		return nil, nil, nil
	}
	if res, err := r.index.QueryKnowledge(ctx, message, rag.Filters{EnabledOnly: true}, r.cfg.RetrievalK); err == nil {
		knowledge = res
	}
	if res, err := r.index.QueryTools(ctx, message, rag.Filters{EnabledOnly: true, MinScore: r.cfg.SimThreshold}, r.cfg.RetrievalN); err == nil {
		toolCandidates = filterToolResultsByRole(res, role, r.registry, r.resolver)
	}
	if res, err := r.index.QueryTemplates(ctx, message, rag.Filters{EnabledOnly: true}, r.cfg.RetrievalM); err == nil {
		templates = res
	}
	return knowledge, toolCandidates, templates
}

func filterToolResultsByRole(results []rag.Result, role models.AccessRole, registry *Registry, resolver *policy.Resolver) []rag.Result {
	if registry == nil {
		return results
	}
	out := make([]rag.Result, 0, len(results))
	for _, res := range results {
		desc, ok := registry.Descriptor(res.ID)
		if !ok || !resolver.IsAllowed(desc, role) {
			continue
		}
		out = append(out, res)
	}
	return out
}

// planAndAct runs spec.md §4.A steps 4-5: ask the planner for one turn, then
// act on it, looping through tool_calls turns until an answer or loopCap.
func (r *Runtime) planAndAct(ctx context.Context, req Request, message string, window []models.ConversationTurn, knowledge, toolCandidates, templates []rag.Result) (*Response, error) {
	history := make([]llm.CompletionMessage, 0, len(window)+1)
	for _, t := range window {
		history = append(history, llm.CompletionMessage{Role: t.Role, Content: t.Content})
	}
	history = append(history, llm.CompletionMessage{Role: "user", Content: message})

	toolInvocations := 0
	for iteration := 0; iteration < r.cfg.LoopCap; iteration++ {
		planCtx, planSpan := r.tracer.TracePlan(ctx, iteration)
		planText, err := r.completeForPlan(planCtx, req.Role, history, knowledge, toolCandidates, templates)
		if err != nil {
			r.tracer.RecordError(planSpan, err)
			planSpan.End()
			return nil, err
		}
		planSpan.End()

		plan, err := ParsePlan([]byte(planText))
		if err != nil {
			// Ask once for reformatting (spec.md §7 ERR_LLM_UNPARSEABLE_PLAN recovery).
			retryText, retryErr := r.completeForPlan(ctx, req.Role, append(history, llm.CompletionMessage{
				Role:    "user",
				Content: "Your previous response was not valid JSON matching the required plan shape. Reply again with only the JSON plan.",
			}), knowledge, toolCandidates, templates)
			if retryErr != nil {
				return unparseablePlanResponse(toolInvocations), nil
			}
			plan, err = ParsePlan([]byte(retryText))
			if err != nil {
				return unparseablePlanResponse(toolInvocations), nil
			}
		}

		switch plan.Type {
		case PlanAnswer:
			return &Response{Text: plan.AnswerText, ToolInvocations: toolInvocations}, nil

		case PlanComplexTask:
			task, err := r.submitTask(ctx, req.UserID, req.Role, plan.TemplateID, plan.Parameters, "")
			if err != nil {
				return nil, err
			}
			return &Response{Text: "Your request has been queued as task " + task.TaskID + ".", Task: task, ToolInvocations: toolInvocations}, nil

		case PlanComplexTaskAdhoc:
			task, err := r.submitTask(ctx, req.UserID, req.Role, "", nil, plan.NaturalLanguageSpec)
			if err != nil {
				return nil, err
			}
			return &Response{Text: "Your request has been queued as task " + task.TaskID + ".", Task: task, ToolInvocations: toolInvocations}, nil

		case PlanToolCalls:
			dispatchCtx, dispatchSpan := r.tracer.TraceDispatch(ctx, len(plan.ToolCalls))
			var transcript strings.Builder
			for _, call := range plan.ToolCalls {
				result, err := r.dispatcher.Invoke(dispatchCtx, req.UserID, req.Role, call.Tool, call.Args)
				toolInvocations++
				if err != nil {
					r.tracer.RecordError(dispatchSpan, err)
					fmt.Fprintf(&transcript, "tool %s failed: %s\n", call.Tool, errMessage(err))
					continue
				}
				fmt.Fprintf(&transcript, "tool %s returned: %s\n", call.Tool, result.Content)
			}
			dispatchSpan.End()
			history = append(history, llm.CompletionMessage{Role: "assistant", Content: planText})
			history = append(history, llm.CompletionMessage{Role: "tool", Content: transcript.String()})
		}
	}

	return nil, models.NewCoreError(models.ErrPlanLoopExhausted, fmt.Sprintf("exceeded %d planning iterations without an answer", r.cfg.LoopCap))
}

// unparseablePlanApology is the safe, user-visible text spec.md §4.A step 5
// requires once a second consecutive planner response is still unparseable:
// a successful answer rather than an error propagating out of Handle.
const unparseablePlanApology = "Sorry, I wasn't able to work out a response to that. Could you try rephrasing your request?"

// unparseablePlanResponse builds Handle's fallback Response for spec.md §7's
// "ask once for reformatting; then fall back" recovery policy. The caller
// still has a well-formed turn to record, not a CoreError.
func unparseablePlanResponse(toolInvocations int) *Response {
	return &Response{Text: unparseablePlanApology, ToolInvocations: toolInvocations}
}

func errMessage(err error) string {
	if coreErr, ok := err.(*models.CoreError); ok {
		return string(coreErr.Kind) + ": " + coreErr.Message
	}
	return err.Error()
}

// completeForPlan builds the planning prompt (spec.md §4.A step 4) and
// collects the provider's streamed response into one string.
func (r *Runtime) completeForPlan(ctx context.Context, role models.AccessRole, history []llm.CompletionMessage, knowledge, toolCandidates, templates []rag.Result) (string, error) {
	system := buildSystemPrompt(r.systemPersona, role, knowledge, toolCandidates, templates)
	chunks, err := r.provider.Complete(ctx, &llm.CompletionRequest{
		Model:    r.model,
		System:   system,
		Messages: history,
	})
	if err != nil {
		return "", fmt.Errorf("agent: planner request failed: %w", err)
	}
	var text strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", fmt.Errorf("agent: planner stream failed: %w", chunk.Error)
		}
		text.WriteString(chunk.Text)
	}
	return text.String(), nil
}

func buildSystemPrompt(persona string, role models.AccessRole, knowledge, toolCandidates, templates []rag.Result) string {
	var b strings.Builder
	b.WriteString(persona)
	b.WriteString("\n\nRespond with exactly one JSON object: {\"type\": \"answer\"|\"tool_calls\"|\"complex_task\"|\"complex_task_adhoc\", ...}.\n")
	fmt.Fprintf(&b, "Caller role: %s\n", role)

	if len(knowledge) > 0 {
		b.WriteString("\nRelevant knowledge:\n")
		for _, k := range knowledge {
			fmt.Fprintf(&b, "- %v\n", k.Metadata)
		}
	}
	if len(toolCandidates) > 0 {
		b.WriteString("\nAvailable tools:\n")
		for _, t := range toolCandidates {
			fmt.Fprintf(&b, "- %v\n", t.Metadata)
		}
	}
	if len(templates) > 0 {
		b.WriteString("\nCandidate task templates:\n")
		for _, t := range templates {
			fmt.Fprintf(&b, "- %v\n", t.Metadata)
		}
	}
	return b.String()
}
