// Package config provides the typed configuration tree for the core's
// tunables, covering exactly the keys spec.md §6 enumerates. Each field
// carries the documented default, applied by Default()/normalize() in the
// style of the teacher's DefaultSchedulerConfig-style functions
// (internal/tasks/scheduler.go).
package config

import "time"

// Runtime is the core's full configuration tree. Every field maps to one
// spec.md §6 key; nested structs group keys by the component that owns them.
type Runtime struct {
	Plan          PlanConfig          `yaml:"plan"`
	Retrieval     RetrievalConfig     `yaml:"retrieval"`
	Task          TaskConfig          `yaml:"task"`
	Tool          ToolConfig          `yaml:"tool"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// PlanConfig bounds AgentRuntime's planning loop (spec.md §4.A).
type PlanConfig struct {
	// LoopCap is the maximum number of acting_tool visits per request
	// before ERR_PLAN_LOOP_EXHAUSTED (spec.md §4.A state machine).
	LoopCap int `yaml:"loop_cap"`
}

// RetrievalConfig bounds SemanticIndex queries issued from AgentRuntime.Handle
// step 3 (spec.md §4.A, §4.F).
type RetrievalConfig struct {
	K            int     `yaml:"k"` // knowledge entries
	N            int     `yaml:"n"` // candidate tools
	M            int     `yaml:"m"` // candidate templates
	SimThreshold float64 `yaml:"sim_threshold"`
}

// TaskConfig configures TaskOrchestrator and TaskWorker (spec.md §4.C, §4.D).
type TaskConfig struct {
	Workers           int           `yaml:"workers"`
	QueueDepth        int           `yaml:"queue_depth"`
	PerUserCapUser    int           `yaml:"per_user_cap_user"`
	PerUserCapAdmin   int           `yaml:"per_user_cap_admin"` // 0 means unlimited
	MaxRepairs        int           `yaml:"max_repairs"`
	WallClock         time.Duration `yaml:"wall_clock"`
	HeapBytes         int64         `yaml:"heap_bytes"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ScriptSizeCap     int           `yaml:"script_size_cap"`
	HungGrace         time.Duration `yaml:"hung_grace"`
}

// ToolConfig configures the Dispatcher (spec.md §4.B).
type ToolConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// EmbeddingConfig configures the EmbeddingService's cache and reporting
// (spec.md §4.G).
type EmbeddingConfig struct {
	CacheCapacity         int           `yaml:"cache_capacity"`
	CacheTTL              time.Duration `yaml:"cache_ttl"`
	MetricsReportInterval time.Duration `yaml:"metrics_report_interval"`
}

// ObservabilityConfig configures OpenTelemetry span export for the
// AgentRuntime/TaskOrchestrator pipeline (SPEC_FULL.md §11), grounded on the
// teacher's internal/config/config_observability.go TracingConfig shape and
// narrowed to this core's process-local Tracer (no OTLP endpoint/Insecure
// fields, since this core has no exporter wired in).
type ObservabilityConfig struct {
	Enabled        bool              `yaml:"enabled"`
	ServiceName    string            `yaml:"service_name"`
	ServiceVersion string            `yaml:"service_version"`
	Environment    string            `yaml:"environment"`
	SamplingRate   float64           `yaml:"sampling_rate"`
	Attributes     map[string]string `yaml:"attributes"`
}

// Default returns a Runtime populated with every default spec.md §6 lists.
func Default() *Runtime {
	r := &Runtime{}
	r.normalize()
	return r
}

// normalize fills any zero-valued field with its spec.md §6 default. Safe to
// call on a partially-populated Runtime loaded from YAML/env, mirroring the
// teacher's DefaultSchedulerConfig pattern of "defaults applied post-load".
func (r *Runtime) normalize() {
	if r.Plan.LoopCap <= 0 {
		r.Plan.LoopCap = 5
	}
	if r.Retrieval.K <= 0 {
		r.Retrieval.K = 5
	}
	if r.Retrieval.N <= 0 {
		r.Retrieval.N = 10
	}
	if r.Retrieval.M <= 0 {
		r.Retrieval.M = 3
	}
	if r.Retrieval.SimThreshold <= 0 {
		r.Retrieval.SimThreshold = 0.65
	}
	if r.Task.Workers <= 0 {
		r.Task.Workers = 3
	}
	if r.Task.QueueDepth <= 0 {
		r.Task.QueueDepth = 1024
	}
	if r.Task.PerUserCapUser <= 0 {
		r.Task.PerUserCapUser = 5
	}
	// PerUserCapAdmin stays 0 (unlimited) unless explicitly set.
	if r.Task.MaxRepairs <= 0 {
		r.Task.MaxRepairs = 3
	}
	if r.Task.WallClock <= 0 {
		r.Task.WallClock = 10 * time.Minute
	}
	if r.Task.HeapBytes <= 0 {
		r.Task.HeapBytes = 256 * 1024 * 1024
	}
	if r.Task.HeartbeatInterval <= 0 {
		r.Task.HeartbeatInterval = 5 * time.Second
	}
	if r.Task.ScriptSizeCap <= 0 {
		r.Task.ScriptSizeCap = 200 * 1024
	}
	if r.Task.HungGrace <= 0 {
		r.Task.HungGrace = 30 * time.Second
	}
	if r.Tool.DefaultTimeout <= 0 {
		r.Tool.DefaultTimeout = 30 * time.Second
	}
	if r.Embedding.CacheCapacity <= 0 {
		r.Embedding.CacheCapacity = 1000
	}
	if r.Embedding.CacheTTL <= 0 {
		r.Embedding.CacheTTL = time.Hour
	}
	if r.Embedding.MetricsReportInterval <= 0 {
		r.Embedding.MetricsReportInterval = time.Hour
	}
	if r.Observability.ServiceName == "" {
		r.Observability.ServiceName = "adk"
	}
	if r.Observability.SamplingRate <= 0 {
		r.Observability.SamplingRate = 1.0
	}
}
