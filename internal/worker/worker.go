// Package worker implements spec.md §4.D's TaskWorker: picking up queued
// tasks, rendering and statically validating their script, running it under
// a Sandbox budget, classifying the outcome, and handing repairable failures
// to a RepairLoop before the task reaches a terminal state. Grounded on the
// teacher's internal/tasks/executor.go (AgentExecutor.Execute's
// render-then-run-then-collect shape) and its scheduler.go's
// semaphore-bounded worker pool (NewScheduler/Start), narrowed from
// prompting an LLM to running a sandboxed script and from a cron poll loop
// to a Lease-driven pull loop.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loomkit/adk/internal/tools/sandbox"
	"github.com/loomkit/adk/pkg/models"
)

// ErrNoTaskAvailable mirrors tasks.ErrNoTaskAvailable so this package never
// needs to import internal/tasks directly — TaskSource implementations
// (e.g. *tasks.Orchestrator) return their own sentinel, and Pool compares it
// by value via errors.Is against whatever TaskSource documents. Callers
// that wire *tasks.Orchestrator as a TaskSource should pass its own
// ErrNoTaskAvailable here; Config.NoTaskErr defaults to this one.
var ErrNoTaskAvailable = errors.New("worker: no task available")

// TaskSource is the pull side of TaskOrchestrator that TaskWorker depends on
// (spec.md §4.D step 1 "pick up"). Declared locally so this package has no
// import-time dependency on internal/tasks; *tasks.Orchestrator satisfies it
// structurally.
type TaskSource interface {
	Lease(ctx context.Context, workerID string) (*models.TaskRequest, error)
	Heartbeat(ctx context.Context, taskID string)
	Complete(ctx context.Context, taskID string, state models.TaskState, resultArtifact json.RawMessage, failure *models.FailureRecord) error
}

// Repairer is the RepairLoop collaborator (spec.md §4.E). On a repairable
// failure, TaskWorker hands the task and its FailureRecord to Repair, which
// owns the budget check, memory retrieval, and LLM patch prompt; it returns
// the patched script if one was produced. *repair.Loop satisfies this.
type Repairer interface {
	Repair(ctx context.Context, task *models.TaskRequest, failure models.FailureRecord) (patchedScript string, ok bool, err error)

	// RecordOutcome reports a repaired task's eventual terminal outcome
	// (spec.md §4.E step 8), once known — which may be several run()
	// iterations after the repair attempt that produced the patch, since a
	// patched script can itself fail and trigger another repair. Pool calls
	// this only for tasks that underwent at least one repair.
	RecordOutcome(ctx context.Context, taskID string, succeeded bool)
}

// EventSink is spec.md §6's append-only event collaborator, declared locally
// for the same reason as TaskSource.
type EventSink interface {
	Emit(ctx context.Context, e models.CoreEvent)
}

// Config bounds one Pool's execution behavior (spec.md §6 task.* keys).
type Config struct {
	NumWorkers        int
	WallClock         time.Duration
	HeapBytes         int64
	ScriptSizeCap     int
	HeartbeatInterval time.Duration
	// HungGrace is the additional time allowed past WallClock before the
	// worker forcibly cancels a script that ignored cooperative
	// cancellation (spec.md §4.D step 4 "hung-script force-termination
	// after 30s").
	HungGrace  time.Duration
	MaxRepairs int
	// PollInterval is how long an idle worker waits after a Lease finds no
	// eligible task before retrying.
	PollInterval time.Duration
	// NoTaskErr is compared via errors.Is against TaskSource.Lease's error
	// to distinguish "nothing to do" from a real failure. Defaults to
	// ErrNoTaskAvailable; set this to the TaskSource's own sentinel if it
	// differs (e.g. tasks.ErrNoTaskAvailable).
	NoTaskErr error
}

func (c *Config) normalize() {
	if c.NumWorkers <= 0 {
		c.NumWorkers = 3
	}
	if c.WallClock <= 0 {
		c.WallClock = 10 * time.Minute
	}
	if c.HeapBytes <= 0 {
		c.HeapBytes = 256 * 1024 * 1024
	}
	if c.ScriptSizeCap <= 0 {
		c.ScriptSizeCap = 200 * 1024
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
	if c.HungGrace <= 0 {
		c.HungGrace = 30 * time.Second
	}
	if c.MaxRepairs <= 0 {
		c.MaxRepairs = 3
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.NoTaskErr == nil {
		c.NoTaskErr = ErrNoTaskAvailable
	}
}

// classificationToCategory maps a Sandbox outcome onto the FailureRecord
// taxonomy spec.md §4.D names (both enumerate the same five categories
// under different names, sandbox.Classification being the Sandbox package's
// own vocabulary so it need not import pkg/models).
func classificationToCategory(c sandbox.Classification) models.FailureCategory {
	switch c {
	case sandbox.ClassificationValidationError:
		return models.FailureValidation
	case sandbox.ClassificationSecurity:
		return models.FailureSecurity
	case sandbox.ClassificationTimeout:
		return models.FailureTimeout
	case sandbox.ClassificationResourceLimit:
		return models.FailureResourceLimit
	default:
		return models.FailureRuntime
	}
}

// Pool runs Config.NumWorkers concurrent pull loops against a single
// TaskSource, each leasing one task at a time end to end (spec.md §4.D).
// Grounded on the teacher's Scheduler, whose MaxConcurrency-sized semaphore
// becomes a fixed-size goroutine pool here since Lease itself already
// enforces per-user fairness and caps — no separate semaphore is needed.
type Pool struct {
	id       string
	source   TaskSource
	sandbox  sandbox.Sandbox
	repairer Repairer
	sink     EventSink
	log      *slog.Logger
	cfg      Config

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewPool constructs a Pool. id identifies this pool's workers to the
// TaskSource (each goroutine suffixes id with its own index as its
// workerID). repairer may be nil, in which case repairable failures are
// failed outright instead of entering RepairLoop.
func NewPool(id string, source TaskSource, sb sandbox.Sandbox, repairer Repairer, sink EventSink, cfg Config, log *slog.Logger) *Pool {
	cfg.normalize()
	if log == nil {
		log = slog.Default()
	}
	return &Pool{id: id, source: source, sandbox: sb, repairer: repairer, sink: sink, log: log, cfg: cfg}
}

// Start launches Config.NumWorkers pull loops. Call Stop (or cancel ctx) to
// shut them down; Start returns immediately.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := 0; i < p.cfg.NumWorkers; i++ {
		workerID := fmt.Sprintf("%s-%d", p.id, i)
		p.wg.Add(1)
		go p.loop(ctx, workerID)
	}
}

// Stop cancels every running pull loop and blocks until each has returned.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pool) loop(ctx context.Context, workerID string) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := p.source.Lease(ctx, workerID)
		if err != nil {
			if errors.Is(err, p.cfg.NoTaskErr) {
				select {
				case <-ctx.Done():
					return
				case <-time.After(p.cfg.PollInterval):
				}
				continue
			}
			p.log.Error("lease failed", "worker", workerID, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.PollInterval):
			}
			continue
		}

		p.run(ctx, workerID, task)
	}
}

// run drives one task through spec.md §4.D steps 2-5: render (already done
// at Submit/repair time — ScriptCurrent is the rendered script),
// static-validate, execute under budget with a live heartbeat, classify, and
// either repair or complete.
func (p *Pool) run(ctx context.Context, workerID string, task *models.TaskRequest) {
	budget := sandbox.Budget{
		WallClock:     p.cfg.WallClock,
		HeapBytes:     p.cfg.HeapBytes,
		ScriptSizeCap: p.cfg.ScriptSizeCap,
	}

	// A repaired script is retried in place by this same worker rather than
	// being re-queued through Lease (spec.md §4.E step 7's "re-validate" is
	// this loop's next iteration), bounded by cfg.MaxRepairs via
	// attemptRepair's own check.
	for {
		if err := p.sandbox.StaticValidate(task.ScriptCurrent, budget); err != nil {
			if p.attemptRepair(ctx, task, models.FailureRecord{
				Category:   models.FailureValidation,
				Detail:     err.Error(),
				OccurredAt: time.Now(),
			}) {
				continue
			}
			return
		}

		heartbeatDone := make(chan struct{})
		go p.heartbeatLoop(ctx, task.TaskID, heartbeatDone)

		// HungGrace extends the context past budget.WallClock: the sandbox is
		// expected to honor budget.WallClock on its own for a clean stop, but a
		// script that ignores cooperative cancellation still has its process
		// killed once the outer deadline fires (spec.md §4.D step 4).
		runCtx, cancel := context.WithTimeout(ctx, p.cfg.WallClock+p.cfg.HungGrace)
		result, runErr := p.sandbox.Run(runCtx, task.ScriptCurrent, sandbox.Params{
			Parameters: task.Parameters,
		}, budget)
		cancel()
		close(heartbeatDone)

		if runErr != nil {
			if p.attemptRepair(ctx, task, models.FailureRecord{
				Category:   models.FailureRuntime,
				Detail:     runErr.Error(),
				OccurredAt: time.Now(),
			}) {
				continue
			}
			return
		}

		if !result.OK {
			detail := result.Diagnostics.Stderr
			if result.Err != nil {
				detail = result.Err.Error()
			}
			if p.attemptRepair(ctx, task, models.FailureRecord{
				Category:       classificationToCategory(result.Classification),
				Detail:         detail,
				ScriptSnapshot: task.ScriptCurrent,
				OccurredAt:     time.Now(),
			}) {
				continue
			}
			return
		}

		if err := p.source.Complete(ctx, task.TaskID, models.TaskStateSucceeded, result.ResultArtifact, nil); err != nil {
			p.log.Error("failed to mark task succeeded", "task", task.TaskID, "worker", workerID, "error", err)
		}
		if p.repairer != nil && task.RepairCount > 0 {
			p.repairer.RecordOutcome(ctx, task.TaskID, true)
		}
		return
	}
}

// attemptRepair is spec.md §4.D's failure branch into §4.E's RepairLoop. It
// returns true when the Repairer produced a patched script the task should
// retry with, false when the task was instead completed as a terminal
// failure. Repair itself bumps RepairCount for every re-validation failure
// it absorbs internally (spec.md §4.E step 6); attemptRepair bumps it once
// more on top, for the successful patch Repair finally returns.
func (p *Pool) attemptRepair(ctx context.Context, task *models.TaskRequest, failure models.FailureRecord) bool {
	if p.repairer != nil && failure.Category.Repairable() && task.RepairCount < p.cfg.MaxRepairs {
		patched, ok, err := p.repairer.Repair(ctx, task, failure)
		if err != nil {
			p.log.Warn("repair attempt errored", "task", task.TaskID, "error", err)
		} else if ok {
			task.ScriptCurrent = patched
			task.RepairCount++
			p.log.Info("task repaired, retrying execution", "task", task.TaskID, "repair_count", task.RepairCount)
			if p.sink != nil {
				p.sink.Emit(ctx, models.CoreEvent{
					Type: models.EventTaskRepaired,
					Time: time.Now(),
					TaskRepaired: &models.TaskRepairedEvent{
						TaskID:      task.TaskID,
						RepairCount: task.RepairCount,
					},
				})
			}
			return true
		}
	}

	terminal := models.TaskStateFailed
	if failure.Category == models.FailureTimeout {
		terminal = models.TaskStateTimedOut
	}
	if err := p.source.Complete(ctx, task.TaskID, terminal, nil, &failure); err != nil {
		p.log.Error("failed to mark task failed", "task", task.TaskID, "error", err)
	}
	if p.repairer != nil && task.RepairCount > 0 {
		p.repairer.RecordOutcome(ctx, task.TaskID, false)
	}
	return false
}

func (p *Pool) heartbeatLoop(ctx context.Context, taskID string, done <-chan struct{}) {
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.source.Heartbeat(ctx, taskID)
		}
	}
}
