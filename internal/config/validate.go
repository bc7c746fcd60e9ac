package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"planner/internal/plan"
	logx "planner/pkg/logx"
)

// Descriptor converts the trigger to its plan form. path prefixes errors.
func (t TriggerConfig) Descriptor(path string) (plan.Descriptor, error) {
	d := plan.Descriptor{Kind: strings.TrimSpace(t.Kind), Schedule: t.Schedule, Repeat: t.Repeat}
	if s := strings.TrimSpace(t.Anchor); s != "" {
		at, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return plan.Descriptor{}, fmt.Errorf("%s.anchor: %w", path, err)
		}
		d.Anchor = at
	}
	return d, nil
}

// Validate checks cfg as a whole and reports every problem it finds, each
// prefixed with its config path.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		add(fmt.Errorf("logging.level: unknown level %q", lvl))
	}
	if f := strings.ToLower(strings.TrimSpace(cfg.Logging.File.Format)); f != "" && f != "json" && f != "console" {
		add(fmt.Errorf("logging.file.format: must be json or console, got %q", f))
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err))
		}
	}
	add(checkDurations(durationField{"scheduler.jitter", cfg.Scheduler.Jitter}))

	if te := cfg.TaskEngine; te != nil {
		if te.Workers < 0 {
			add(errors.New("task_engine.workers must be >= 0"))
		}
		if te.QueueSize < 0 {
			add(errors.New("task_engine.queue_size must be >= 0"))
		}
		if te.HistorySize < 0 {
			add(errors.New("task_engine.history_size must be >= 0"))
		}
		if te.RetryMax < -1 {
			add(errors.New("task_engine.retry_max must be >= -1"))
		}
		add(checkDurations(
			durationField{"task_engine.default_timeout", te.DefaultTimeout},
			durationField{"task_engine.max_queue_delay", te.MaxQueueDelay},
			durationField{"task_engine.circuit_base_delay", te.CircuitBaseDelay},
			durationField{"task_engine.circuit_max_delay", te.CircuitMaxDelay},
		))
		if cfg.Scheduler.Enabled && te.Enabled != nil && !*te.Enabled {
			add(errors.New("task_engine.enabled cannot be false while scheduler.enabled is true"))
		}
	}

	if st := cfg.Storage; st != nil {
		switch d := strings.ToLower(strings.TrimSpace(st.Driver)); d {
		case "", "none", "memory", "mem":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(st.Path) == "" {
				add(fmt.Errorf("storage.path is required when storage.driver=%s", d))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
		if st.KeepFires < 0 {
			add(errors.New("storage.keep_fires must be >= 0"))
		}
		add(checkDurations(durationField{"storage.busy_timeout", st.BusyTimeout}))
	}

	if sc := cfg.Status; sc.Enabled {
		if addr := strings.TrimSpace(sc.Addr); addr != "" {
			if _, _, err := net.SplitHostPort(addr); err != nil {
				add(fmt.Errorf("status.addr: %w", err))
			}
		}
		add(checkDurations(
			durationField{"status.read_timeout", sc.ReadTimeout},
			durationField{"status.write_timeout", sc.WriteTimeout},
			durationField{"status.idle_timeout", sc.IdleTimeout},
		))
	}

	seen := map[string]int{}
	for i, p := range cfg.Plans {
		path := fmt.Sprintf("plans[%d]", i)
		name := strings.TrimSpace(p.Name)
		if name == "" {
			add(fmt.Errorf("%s.name: required", path))
		} else if j, dup := seen[name]; dup {
			add(fmt.Errorf("%s.name: %q already declared by plans[%d]", path, name, j))
		} else {
			seen[name] = i
		}
		add(validatePlan(path, p))
	}

	return errors.Join(errs...)
}

func validatePlan(path string, p PlanConfig) error {
	var errs []error
	d, err := p.Trigger.Descriptor(path + ".trigger")
	if err != nil {
		errs = append(errs, err)
	} else if d.Bounded() && d.Anchor.IsZero() {
		// Anchors are assigned at schedule time; validate against a stand-in.
		if d.Anchor, err = d.DefaultAnchor(time.Now()); err != nil {
			errs = append(errs, fmt.Errorf("%s.trigger: %w", path, err))
		}
	}
	if err == nil {
		if _, err := d.Build(time.UTC); err != nil {
			errs = append(errs, fmt.Errorf("%s.trigger: %w", path, err))
		}
	}

	if _, err := ParseDurationField(path+".timeout", p.Timeout); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(strings.TrimSpace(p.Overlap)) {
	case "", "skip", "skip_if_running", "allow":
	default:
		errs = append(errs, fmt.Errorf("%s.overlap: must be skip or allow, got %q", path, p.Overlap))
	}
	if p.RetryMax < -1 {
		errs = append(errs, fmt.Errorf("%s.retry_max must be >= -1", path))
	}

	a := p.Action
	switch strings.ToLower(strings.TrimSpace(a.Type)) {
	case ActionLog:
		if lvl := strings.TrimSpace(a.Level); lvl != "" && !logx.ValidLevel(lvl) {
			errs = append(errs, fmt.Errorf("%s.action.level: unknown level %q", path, lvl))
		}
	case ActionExec:
		if strings.TrimSpace(a.Command) == "" {
			errs = append(errs, fmt.Errorf("%s.action.command: required for exec", path))
		}
	case ActionSystemd:
		if strings.TrimSpace(a.Unit) == "" {
			errs = append(errs, fmt.Errorf("%s.action.unit: required for systemd", path))
		}
		switch strings.ToLower(strings.TrimSpace(a.Op)) {
		case "start", "stop", "restart":
		default:
			errs = append(errs, fmt.Errorf("%s.action.op: must be start, stop or restart, got %q", path, a.Op))
		}
	case "":
		errs = append(errs, fmt.Errorf("%s.action.type: required", path))
	default:
		errs = append(errs, fmt.Errorf("%s.action.type: unknown %q", path, a.Type))
	}
	return errors.Join(errs...)
}
