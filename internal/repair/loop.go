// Package repair implements spec.md §4.E's RepairLoop: given a failed task
// and its classified failure, retrieve similar past fixes from
// ReasoningMemory, prompt the LLM for a patched script, and re-validate it
// before handing it back to TaskWorker. No single teacher file covers this
// workflow; the LLM patch-and-revalidate shape is grounded on
// internal/tasks/executor.go's render/run step, and the memory lookup on
// internal/tools/vectormemory/search.go's ranking call shape.
package repair

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/loomkit/adk/internal/embedding"
	"github.com/loomkit/adk/internal/llm"
	"github.com/loomkit/adk/internal/memory"
	"github.com/loomkit/adk/internal/rag"
	"github.com/loomkit/adk/internal/tools/sandbox"
	"github.com/loomkit/adk/pkg/models"
)

// Embedder is the subset of embedding.Service Loop depends on, declared
// locally so tests can substitute a fake.
type Embedder interface {
	Embed(ctx context.Context, text string, taskType embedding.TaskType) ([]float32, error)
}

// Config bounds one Loop's behavior (spec.md §4.E, §6 task.* keys).
type Config struct {
	// MaxRepairs mirrors task.max_repairs; a task already at this count is
	// unrepairable (spec.md §4.E step 1's "budget_exhausted").
	MaxRepairs int
	// TopK is how many ReasoningMemory records to retrieve per attempt
	// (spec.md §4.E step 3, default 5).
	TopK int
	// ScriptExcerptLen caps how much of the offending script is embedded and
	// shown to the LLM, to keep prompts bounded.
	ScriptExcerptLen int
	// ScriptSizeCap mirrors task.script_size_cap; re-validation (step 6) uses
	// the same cap TaskWorker enforces, so a patch is never accepted under a
	// looser budget than the one it will actually run under.
	ScriptSizeCap int
	// Model selects which of Provider's models serves the patch prompt.
	Model string
}

func (c *Config) normalize() {
	if c.MaxRepairs <= 0 {
		c.MaxRepairs = 3
	}
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.ScriptExcerptLen <= 0 {
		c.ScriptExcerptLen = 4000
	}
	if c.ScriptSizeCap <= 0 {
		c.ScriptSizeCap = 200 * 1024
	}
}

// Loop implements spec.md §4.E's RepairLoop and satisfies internal/worker's
// Repairer interface structurally.
type Loop struct {
	memories *rag.Manager
	store    *memory.Store
	embedder Embedder
	provider llm.Provider
	sandbox  sandbox.Sandbox
	log      *slog.Logger
	cfg      Config

	mu      sync.Mutex
	lastMem map[string][]string // taskID -> memory IDs used in the ranking that produced its current patch
}

// NewLoop constructs a Loop. memories supplies ReasoningMemory candidates
// (via Manager.Memories), store persists their counters, embedder computes
// failure-context embeddings, provider generates patches, and sb re-validates
// them (same Sandbox the worker runs scripts under).
func NewLoop(memories *rag.Manager, store *memory.Store, embedder Embedder, provider llm.Provider, sb sandbox.Sandbox, cfg Config, log *slog.Logger) *Loop {
	cfg.normalize()
	if log == nil {
		log = slog.Default()
	}
	return &Loop{
		memories: memories,
		store:    store,
		embedder: embedder,
		provider: provider,
		sandbox:  sb,
		log:      log,
		cfg:      cfg,
		lastMem:  make(map[string][]string),
	}
}

// Repair is spec.md §4.E's algorithm, steps 1-7. It loops internally over
// steps 2-6 for as long as budget remains: a patch that still fails
// re-validation counts as a spent repair attempt (step 6's "accumulate a
// failure record, loop to step 1") rather than an immediate unrepairable
// verdict, so a single bad LLM patch never fails a task that still has
// repair budget left. ok is false (with err nil) only once MaxRepairs is
// actually exhausted or the failure category is never repairable, and the
// caller (TaskWorker) should then complete the task as failed.
func (l *Loop) Repair(ctx context.Context, task *models.TaskRequest, failure models.FailureRecord) (string, bool, error) {
	if !failure.Category.Repairable() {
		return "", false, nil
	}

	budget := sandbox.Budget{ScriptSizeCap: l.cfg.ScriptSizeCap}

	for {
		// Step 1: budget check.
		if task.RepairCount >= l.cfg.MaxRepairs {
			l.log.Info("repair budget exhausted", "task", task.TaskID, "repair_count", task.RepairCount)
			return "", false, nil
		}

		// Step 2: embed the failure context.
		excerpt := task.ScriptCurrent
		if len(excerpt) > l.cfg.ScriptExcerptLen {
			excerpt = excerpt[:l.cfg.ScriptExcerptLen]
		}
		contextText := strings.Join([]string{
			string(failure.Category),
			failure.Detail,
			excerpt,
		}, "\n---\n")
		vec, err := l.embedder.Embed(ctx, contextText, embedding.TaskSemanticSimilarity)
		if err != nil {
			return "", false, fmt.Errorf("repair: embed failure context for task %s: %w", task.TaskID, err)
		}

		// Step 3: retrieve top-k memories, filtered to a compatible category.
		var candidates []rag.Result
		for _, category := range models.CompatibleCategories(toMemoryCategory(failure.Category)) {
			hits := l.memories.QueryMemoriesByVector(vec, rag.Filters{Category: string(category)}, l.cfg.TopK)
			candidates = append(candidates, hits...)
		}

		// Step 4: rank by 0.7*cosineSim + 0.3*successRate, ties broken by
		// timesUsedInSuccess descending.
		top := make([]rankedMemory, 0, len(candidates))
		for _, c := range candidates {
			mem, ok := c.Metadata.(*models.ReasoningMemory)
			if !ok {
				continue
			}
			top = append(top, rankedMemory{mem: mem, score: mem.RankScore(c.Score)})
		}
		sort.Slice(top, func(i, j int) bool {
			if top[i].score != top[j].score {
				return top[i].score > top[j].score
			}
			return top[i].mem.TimesUsedInSuccess > top[j].mem.TimesUsedInSuccess
		})
		if len(top) > l.cfg.TopK {
			top = top[:l.cfg.TopK]
		}

		memIDs := make([]string, 0, len(top))
		for _, r := range top {
			memIDs = append(memIDs, r.mem.ID)
		}
		if l.store != nil && len(memIDs) > 0 {
			if err := l.store.IncrementRetrieved(ctx, memIDs); err != nil {
				l.log.Warn("failed to record memory retrieval", "task", task.TaskID, "error", err)
			}
		}

		// Step 5: prompt the LLM for a patch.
		patched, err := l.promptForPatch(ctx, task, failure, top)
		if err != nil {
			return "", false, fmt.Errorf("repair: patch prompt for task %s: %w", task.TaskID, err)
		}

		// Step 6: re-validate. An invalid patch spends a repair attempt and
		// loops back to step 1 rather than failing the task outright: the
		// budget check at the top of the next iteration is what actually
		// stops this, once task.RepairCount reaches MaxRepairs.
		if err := l.sandbox.StaticValidate(patched, budget); err != nil {
			task.RepairCount++
			task.Errors = append(task.Errors, models.FailureRecord{
				Category:       models.FailureValidation,
				Detail:         fmt.Sprintf("repaired script failed re-validation: %s", err),
				ScriptSnapshot: patched,
				OccurredAt:     time.Now(),
			})
			l.log.Info("repaired script failed re-validation, retrying", "task", task.TaskID, "repair_count", task.RepairCount, "error", err)
			continue
		}

		// Step 7: the caller persists scriptCurrent/repairCount atomically
		// (worker.Pool.attemptRepair mutates the in-memory task it loops on);
		// Loop remembers which memories informed this patch so RecordOutcome
		// can update their counters once the task's eventual outcome is known.
		l.mu.Lock()
		l.lastMem[task.TaskID] = memIDs
		l.mu.Unlock()
		return patched, true, nil
	}
}

// rankedMemory pairs a retrieved ReasoningMemory with its spec.md §4.E step 4
// rank score.
type rankedMemory struct {
	mem   *models.ReasoningMemory
	score float64
}

func (l *Loop) promptForPatch(ctx context.Context, task *models.TaskRequest, failure models.FailureRecord, top []rankedMemory) (string, error) {
	var sketches strings.Builder
	for _, r := range top {
		fmt.Fprintf(&sketches, "- %s (rank %.2f): %s\n", r.mem.Title, r.score, r.mem.PatchSketch)
	}

	system := "You repair a failing script for an automated task. Return only the corrected script source, " +
		"followed on a new line by a single-sentence rationale prefixed with \"RATIONALE: \". " +
		"Do not explain further, do not wrap the script in markdown fences."
	user := fmt.Sprintf(
		"Failing script:\n%s\n\nFailure category: %s\nFailure detail: %s\n\nPrior fixes that may help:\n%s",
		task.ScriptCurrent, failure.Category, failure.Detail, sketches.String(),
	)

	chunks, err := l.provider.Complete(ctx, &llm.CompletionRequest{
		Model:  l.cfg.Model,
		System: system,
		Messages: []llm.CompletionMessage{
			{Role: "user", Content: user},
		},
		MaxTokens: 4096,
	})
	if err != nil {
		return "", err
	}
	var out strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", chunk.Error
		}
		out.WriteString(chunk.Text)
	}
	return splitPatchFromRationale(out.String()), nil
}

// splitPatchFromRationale strips the trailing "RATIONALE: ..." line the patch
// prompt asks for, since only the script itself becomes scriptCurrent.
func splitPatchFromRationale(text string) string {
	idx := strings.LastIndex(text, "RATIONALE:")
	if idx == -1 {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(text[:idx])
}

// RecordOutcome is spec.md §4.E step 8: once a repaired task reaches a
// terminal state, every memory that informed its last patch has its
// TimesUsedInSuccess/TimesUsedInFailure counter bumped.
func (l *Loop) RecordOutcome(ctx context.Context, taskID string, succeeded bool) {
	l.mu.Lock()
	ids, ok := l.lastMem[taskID]
	delete(l.lastMem, taskID)
	l.mu.Unlock()
	if !ok || len(ids) == 0 {
		return
	}
	if l.store == nil {
		return
	}
	if err := l.store.RecordOutcome(ctx, ids, succeeded); err != nil {
		l.log.Warn("failed to record memory outcome", "task", taskID, "error", err)
	}
}

// RecordUserCorrection implements spec.md §4.E step 9: AgentRuntime calls
// this when a user reports a wrong result, creating a new ReasoningMemory
// with source=user_correction. patchSketch is the LLM's summary of the
// before/after script difference, generated by the caller.
func (l *Loop) RecordUserCorrection(ctx context.Context, id, title, category, patchSketch string) error {
	mem := &models.ReasoningMemory{
		ID:          id,
		Title:       title,
		Description: fmt.Sprintf("user correction: %s", title),
		Category:    models.MemoryCategory(category),
		Source:      models.MemorySourceUser,
		PatchSketch: patchSketch,
		CreatedAt:   time.Now(),
	}
	vec, err := l.embedder.Embed(ctx, mem.Title+"\n"+mem.Description, embedding.TaskSemanticSimilarity)
	if err != nil {
		return fmt.Errorf("repair: embed user correction %s: %w", id, err)
	}
	mem.ContextEmbedding = vec
	if l.store != nil {
		if err := l.store.Save(ctx, mem); err != nil {
			return err
		}
	}
	return l.memories.IndexMemory(ctx, mem)
}

func toMemoryCategory(c models.FailureCategory) models.MemoryCategory {
	switch c {
	case models.FailureValidation:
		return models.MemoryCategoryValidation
	case models.FailureSecurity:
		return models.MemoryCategorySecurity
	default:
		return models.MemoryCategoryRuntime
	}
}
