// Package main provides the CLI entry point for the ADK core: the LLM-backed
// agent runtime, its tool dispatcher, and the task queue/worker/repair loop
// that runs long-lived scripted tasks to completion.
//
// # Basic Usage
//
// Start the server:
//
//	adk serve --config adk.yaml
//
// # Environment Variables
//
//   - ADK_CONFIG: path to configuration file; unset uses built-in defaults
//   - ADK_DATABASE_URL: Postgres DSN; unset runs against an in-memory store
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key, used for both completions and embeddings
//   - ADK_EMBEDDING_MODEL: OpenAI embedding model (default: text-embedding-3-small)
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loomkit/adk/internal/agent"
	"github.com/loomkit/adk/internal/config"
	"github.com/loomkit/adk/internal/embedding"
	"github.com/loomkit/adk/internal/llm"
	"github.com/loomkit/adk/internal/memory"
	"github.com/loomkit/adk/internal/observability"
	"github.com/loomkit/adk/internal/rag"
	"github.com/loomkit/adk/internal/repair"
	"github.com/loomkit/adk/internal/storage"
	"github.com/loomkit/adk/internal/tasks"
	"github.com/loomkit/adk/internal/tools/policy"
	"github.com/loomkit/adk/internal/tools/sandbox"
	"github.com/loomkit/adk/internal/tools/websearch"
	"github.com/loomkit/adk/internal/worker"
	"github.com/loomkit/adk/pkg/models"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "adk",
		Short:        "ADK - LLM-backed Agent Development Kit core",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd())
	return root
}

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ADK runtime: agent requests, task workers, and the repair loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = os.Getenv("ADK_CONFIG")
			}
			return runServe(cmd.Context(), configPath, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (default: $ADK_CONFIG or built-in defaults)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Info("configuration loaded",
		"config", configPath,
		"task_workers", cfg.Task.Workers,
		"plan_loop_cap", cfg.Plan.LoopCap,
	)

	kv, closeStore, err := buildStore(cfg)
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}
	defer closeStore()

	var tracer *observability.Tracer
	if cfg.Observability.Enabled {
		var shutdownTracer func(context.Context) error
		tracer, shutdownTracer = observability.NewTracer(observability.TraceConfig{
			ServiceName:    cfg.Observability.ServiceName,
			ServiceVersion: version,
			Environment:    cfg.Observability.Environment,
			SamplingRate:   cfg.Observability.SamplingRate,
			Attributes:     cfg.Observability.Attributes,
		})
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracer(shutdownCtx); err != nil {
				logger.Warn("tracer shutdown failed", "error", err)
			}
		}()
		logger.Info("tracing enabled", "service_name", cfg.Observability.ServiceName, "sampling_rate", cfg.Observability.SamplingRate)
	}

	provider, err := buildLLMProvider()
	if err != nil {
		return fmt.Errorf("build llm provider: %w", err)
	}
	logger.Info("llm provider ready", "provider", provider.Name())

	embedSvc := embedding.NewService(embedding.Config{
		Backend:        embedding.NewOpenAIBackend(os.Getenv("OPENAI_API_KEY"), os.Getenv("ADK_EMBEDDING_MODEL")),
		CacheSize:      cfg.Embedding.CacheCapacity,
		CacheTTL:       cfg.Embedding.CacheTTL,
		ReportInterval: cfg.Embedding.MetricsReportInterval,
		Logger:         logger,
	})

	ragManager := rag.NewManager(embedSvc)
	memStore := memory.NewStore(kv)
	if err := preloadMemories(ctx, memStore, ragManager); err != nil {
		return fmt.Errorf("preload memories: %w", err)
	}

	events := agent.NewMultiSink(agent.NewCallbackSink(func(_ context.Context, e models.CoreEvent) {
		logger.Info("core event", "type", e.Type, "time", e.Time)
	}))

	registry := agent.NewRegistry(ragManager, logger)
	if err := registry.Load(ctx, builtinTools()); err != nil {
		return fmt.Errorf("load tool registry: %w", err)
	}
	for _, d := range registry.Selectable(models.AccessRoleAdmin) {
		if err := ragManager.IndexTool(ctx, d); err != nil {
			return fmt.Errorf("index tool %s: %w", d.Name, err)
		}
	}

	dispatcher := agent.NewDispatcher(registry, policy.NewResolver(), events, cfg.Tool.DefaultTimeout)

	sb := sandbox.NewProcessSandbox()

	templates := tasks.NewStaticTemplateSource(nil)
	orchestrator := tasks.NewOrchestrator(kv, templates, provider, sb, events, tasks.Config{
		QueueDepth:        cfg.Task.QueueDepth,
		PerUserCapUser:    cfg.Task.PerUserCapUser,
		PerUserCapAdmin:   cfg.Task.PerUserCapAdmin,
		HeartbeatInterval: cfg.Task.HeartbeatInterval,
		ScriptSizeCap:     cfg.Task.ScriptSizeCap,
	}, logger, tracer)

	repairLoop := repair.NewLoop(ragManager, memStore, embedSvc, provider, sb, repair.Config{
		MaxRepairs:    cfg.Task.MaxRepairs,
		ScriptSizeCap: cfg.Task.ScriptSizeCap,
	}, logger)

	runtime := agent.NewRuntime(agent.Config{
		LoopCap:      cfg.Plan.LoopCap,
		RetrievalK:   cfg.Retrieval.K,
		RetrievalN:   cfg.Retrieval.N,
		RetrievalM:   cfg.Retrieval.M,
		SimThreshold: cfg.Retrieval.SimThreshold,
	}, provider, ragManager, registry, dispatcher, agent.NewMemoryConversationStore(), orchestrator.Submit, "", "", tracer)
	_ = runtime // exercised via an RPC/HTTP front end outside this core's scope

	pool := worker.NewPool("worker", orchestrator, sb, repairLoop, events, worker.Config{
		NumWorkers:        cfg.Task.Workers,
		WallClock:         cfg.Task.WallClock,
		HeapBytes:         cfg.Task.HeapBytes,
		ScriptSizeCap:     cfg.Task.ScriptSizeCap,
		HeartbeatInterval: cfg.Task.HeartbeatInterval,
		HungGrace:         cfg.Task.HungGrace,
		MaxRepairs:        cfg.Task.MaxRepairs,
		NoTaskErr:         tasks.ErrNoTaskAvailable,
	}, logger)
	pool.Start(ctx)

	orphanCtx, stopOrphans := context.WithCancel(ctx)
	go orphanSweepLoop(orphanCtx, orchestrator, cfg.Task.HeartbeatInterval, logger)

	logger.Info("adk runtime started", "workers", cfg.Task.Workers)
	<-ctx.Done()
	logger.Info("shutdown signal received, draining workers")

	stopOrphans()

	drained := make(chan struct{})
	go func() {
		pool.Stop()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(30 * time.Second):
		logger.Warn("worker drain timed out after 30s; exiting with workers still running")
		return nil
	}

	logger.Info("adk runtime stopped gracefully")
	return nil
}

// buildStore opens the configured KeyValueStore. ADK_DATABASE_URL unset
// falls back to an in-memory store, useful for local development and tests
// of the serve command itself.
func buildStore(_ *config.Runtime) (storage.KeyValueStore, func(), error) {
	dsn := os.Getenv("ADK_DATABASE_URL")
	if dsn == "" {
		return storage.NewMemoryStore(), func() {}, nil
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	return storage.NewPostgresStore(db), func() { db.Close() }, nil
}

// buildLLMProvider prefers Anthropic (this core's primary target per the
// teacher's own default-provider convention) and falls back to OpenAI when
// only an OpenAI key is configured.
func buildLLMProvider() (llm.Provider, error) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return llm.NewAnthropicProvider(llm.AnthropicConfig{APIKey: key})
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return llm.NewOpenAIProvider(key), nil
	}
	return nil, fmt.Errorf("no LLM provider configured: set ANTHROPIC_API_KEY or OPENAI_API_KEY")
}

// builtinTools returns the Source of tools compiled into this binary.
// Additional tools register the same way, as internal/tools/* packages are
// adapted to the agent.Tool interface.
func builtinTools() agent.StaticSource {
	search := websearch.NewWebSearchTool(&websearch.Config{})
	return agent.StaticSource{
		Descriptors: []*models.ToolDescriptor{
			{
				Name:         search.Name(),
				Description:  search.Description(),
				Category:     "research",
				Priority:     1,
				Enabled:      true,
				AllowedRoles: []models.AccessRole{models.AccessRoleUser, models.AccessRoleAdmin},
			},
		},
		Tools: map[string]agent.Tool{
			search.Name(): search,
		},
	}
}

// preloadMemories re-indexes every persisted ReasoningMemory into Memories
// at startup, since the vector index itself is in-process state rebuilt on
// every restart.
func preloadMemories(ctx context.Context, store *memory.Store, ragManager *rag.Manager) error {
	memories, err := store.List(ctx)
	if err != nil {
		return err
	}
	for _, m := range memories {
		if err := ragManager.IndexMemory(ctx, m); err != nil {
			return fmt.Errorf("index memory %s: %w", m.ID, err)
		}
	}
	return nil
}

// orphanSweepLoop periodically reclaims tasks whose worker stopped
// heartbeating without completing them (spec.md §4.C orphan recovery).
func orphanSweepLoop(ctx context.Context, orchestrator *tasks.Orchestrator, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			orphans, err := orchestrator.CheckOrphans(ctx)
			if err != nil {
				logger.Warn("orphan sweep failed", "error", err)
				continue
			}
			if len(orphans) > 0 {
				logger.Info("reclaimed orphaned tasks", "count", len(orphans), "task_ids", orphans)
			}
		}
	}
}
