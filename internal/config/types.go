package config

// Config is the planner host configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Scheduler controls when plans fire.
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine controls how fired plans run. If omitted, the engine follows
	// scheduler.enabled with default settings.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	// Storage is optional; nil disables fire history and anchor persistence.
	Storage *StorageConfig `json:"storage,omitempty"`

	// Status is the optional read-only HTTP status server.
	Status StatusConfig `json:"status"`

	Plans []PlanConfig `json:"plans,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
	Format  string `json:"format,omitempty"` // json (default) | console
}

type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Timezone is an IANA name; empty means the host's local zone.
	Timezone string `json:"timezone,omitempty"`
	// Jitter is the max random delay added to each timing firing.
	Jitter string `json:"jitter,omitempty"`
}

// TaskEngineConfig controls the task execution engine.
//
// Enabled is a pointer so we can distinguish "omitted" (default to
// scheduler.enabled) from an explicit false.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
//   - retry_max: 3 (-1 disables retries)
type TaskEngineConfig struct {
	Enabled   *bool `json:"enabled,omitempty"`
	Workers   int   `json:"workers,omitempty"`
	QueueSize int   `json:"queue_size,omitempty"`

	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
	RetryMax    int `json:"retry_max,omitempty"`

	// CircuitTripFailures < 0 disables the breaker.
	CircuitTripFailures int    `json:"circuit_trip_failures,omitempty"`
	CircuitBaseDelay    string `json:"circuit_base_delay,omitempty"`
	CircuitMaxDelay     string `json:"circuit_max_delay,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./planner.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	KeepFires   int    `json:"keep_fires,omitempty"`   // per plan
}

// StatusConfig controls the optional HTTP status server.
//
// Prefer a loopback addr. A non-loopback addr needs a token or an explicit
// allow_insecure.
type StatusConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:6061"
	Token         string `json:"token,omitempty"` // bearer token (never logged)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	// Pprof mounts net/http/pprof under /debug/pprof/.
	Pprof bool `json:"pprof,omitempty"`

	// WriteTimeout defaults to 0 so /debug/pprof/profile can run its full 30s.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// PlanConfig declares one plan: when it fires and what it runs.
type PlanConfig struct {
	Name     string        `json:"name"`
	Disabled bool          `json:"disabled,omitempty"`
	Trigger  TriggerConfig `json:"trigger"`
	Action   ActionConfig  `json:"action"`

	Timeout string `json:"timeout,omitempty"`
	// Overlap is "skip" (default) or "allow".
	Overlap  string `json:"overlap,omitempty"`
	RetryMax int    `json:"retry_max,omitempty"`
}

// TriggerConfig is the config form of a plan trigger.
//
//	{ "kind": "start" }
//	{ "schedule": "@daily" }
//	{ "schedule": "15m", "repeat": 4, "anchor": "2026-01-02T03:00:00Z" }
type TriggerConfig struct {
	Kind     string `json:"kind,omitempty"` // timing (default) | start
	Schedule string `json:"schedule,omitempty"`
	Repeat   *int   `json:"repeat,omitempty"`
	// Anchor is RFC 3339. Bounded triggers without one are anchored when
	// first scheduled.
	Anchor string `json:"anchor,omitempty"`
}

// ActionConfig is what a plan runs when it fires.
type ActionConfig struct {
	Type string `json:"type"` // log | exec | systemd

	// log
	Message string `json:"message,omitempty"`
	Level   string `json:"level,omitempty"`

	// exec
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Dir     string   `json:"dir,omitempty"`
	Env     []string `json:"env,omitempty"`

	// systemd
	Unit string `json:"unit,omitempty"`
	Op   string `json:"op,omitempty"` // start | stop | restart
}

const (
	ActionLog     = "log"
	ActionExec    = "exec"
	ActionSystemd = "systemd"
)
