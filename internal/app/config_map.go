package app

import (
	"fmt"
	"strings"
	"time"

	"planner/internal/config"
	"planner/internal/observability/status"
	"planner/internal/plan"
	"planner/internal/storage"
	"planner/internal/task/engine"
	"planner/internal/task/scheduler"
	logx "planner/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
			Format:  cfg.Logging.File.Format,
		},
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	jitter, err := config.ParseDurationField("scheduler.jitter", cfg.Scheduler.Jitter)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: strings.TrimSpace(cfg.Scheduler.Timezone),
		Jitter:   jitter,
	}, nil
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{Enabled: cfg.Scheduler.Enabled}
	te := cfg.TaskEngine
	if te == nil {
		return out, nil
	}
	// Safety: avoid a config where scheduler triggers run but engine is explicitly disabled.
	if cfg.Scheduler.Enabled && te.Enabled != nil && !*te.Enabled {
		return engine.Config{}, fmt.Errorf("task_engine.enabled cannot be false while scheduler.enabled is true")
	}
	if te.Enabled != nil {
		out.Enabled = *te.Enabled
	}
	out.Workers = te.Workers
	out.QueueSize = te.QueueSize
	out.HistorySize = te.HistorySize
	out.RetryMax = te.RetryMax
	out.CircuitTripFailures = te.CircuitTripFailures

	var err error
	if out.DefaultTimeout, err = config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout); err != nil {
		return engine.Config{}, err
	}
	if out.MaxQueueDelay, err = config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
		return engine.Config{}, err
	}
	if out.CircuitBaseDelay, err = config.ParseDurationField("task_engine.circuit_base_delay", te.CircuitBaseDelay); err != nil {
		return engine.Config{}, err
	}
	if out.CircuitMaxDelay, err = config.ParseDurationField("task_engine.circuit_max_delay", te.CircuitMaxDelay); err != nil {
		return engine.Config{}, err
	}
	return out, nil
}

// mapStorageConfig reports enabled=false when storage is omitted or "none".
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
		KeepFires:   sc.KeepFires,
	}, true, nil
}

// mapStatusConfig applies defaults; it never starts the server.
func mapStatusConfig(cfg *config.Config) (status.Config, error) {
	sc := cfg.Status
	out := status.Config{
		Enabled:       sc.Enabled,
		Addr:          strings.TrimSpace(sc.Addr),
		Token:         strings.TrimSpace(sc.Token),
		AllowInsecure: sc.AllowInsecure,
		Pprof:         sc.Pprof,
	}
	if out.Addr == "" {
		out.Addr = status.DefaultAddr
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("status.read_timeout", sc.ReadTimeout, 5*time.Second); err != nil {
		return status.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationField("status.write_timeout", sc.WriteTimeout); err != nil {
		return status.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("status.idle_timeout", sc.IdleTimeout, 2*time.Minute); err != nil {
		return status.Config{}, err
	}
	return out, nil
}

// planSpec is a config plan resolved to scheduler inputs.
type planSpec struct {
	name    string
	desc    plan.Descriptor
	timeout time.Duration
	opt     engine.TaskOptions
}

func mapPlan(path string, p config.PlanConfig) (planSpec, error) {
	desc, err := p.Trigger.Descriptor(path + ".trigger")
	if err != nil {
		return planSpec{}, err
	}
	timeout, err := config.ParseDurationField(path+".timeout", p.Timeout)
	if err != nil {
		return planSpec{}, err
	}
	overlap, ok := engine.ParseOverlap(strings.ToLower(strings.TrimSpace(p.Overlap)))
	if !ok {
		return planSpec{}, fmt.Errorf("%s.overlap: must be skip or allow, got %q", path, p.Overlap)
	}
	return planSpec{
		name:    strings.TrimSpace(p.Name),
		desc:    desc,
		timeout: timeout,
		opt:     engine.TaskOptions{Overlap: overlap, RetryMax: p.RetryMax},
	}, nil
}
