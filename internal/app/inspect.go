package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"planner/internal/config"
	"planner/internal/plan"
	"planner/internal/storage"
	"planner/internal/task/scheduler"
	logx "planner/pkg/logx"
)

// LoadConfig parses and validates the config at path, including the checks
// the running app applies on reload.
func LoadConfig(path string) (*config.Config, error) {
	cfg, err := config.NewConfigManager(path).Load()
	if err != nil {
		return nil, err
	}
	if _, err := mapTaskEngineConfig(cfg); err != nil {
		return nil, err
	}
	acts := newActions(logx.Nop())
	for i, p := range cfg.Plans {
		path := fmt.Sprintf("plans[%d]", i)
		if _, err := mapPlan(path, p); err != nil {
			return nil, err
		}
		if _, err := acts.job(p.Name, p.Action); err != nil {
			return nil, fmt.Errorf("%s.action: %w", path, err)
		}
	}
	return cfg, nil
}

// Upcoming returns the next n firings of plan name at or after from, as the
// daemon would schedule them. Bounded plans without a configured anchor use
// the anchor persisted by the daemon, if storage has one.
func Upcoming(ctx context.Context, cfgPath, name string, n int, from time.Time) ([]time.Time, error) {
	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	idx := -1
	for i, p := range cfg.Plans {
		if strings.TrimSpace(p.Name) == strings.TrimSpace(name) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w %q", scheduler.ErrUnknownPlan, name)
	}
	ps, err := mapPlan(fmt.Sprintf("plans[%d]", idx), cfg.Plans[idx])
	if err != nil {
		return nil, err
	}
	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	loc := time.Local
	if schedCfg.Timezone != "" {
		if loc, err = time.LoadLocation(schedCfg.Timezone); err != nil {
			return nil, err
		}
	}

	desc := ps.desc
	if desc.Bounded() && desc.Anchor.IsZero() {
		desc.Anchor, err = persistedAnchor(ctx, cfg, ps.name, desc)
		if err != nil {
			return nil, err
		}
		if desc.Anchor.IsZero() {
			if desc.Anchor, err = desc.DefaultAnchor(from); err != nil {
				return nil, err
			}
		}
	}
	tr, err := desc.Build(loc)
	if err != nil {
		return nil, err
	}
	tm, ok := tr.(plan.Timing)
	if !ok {
		return nil, scheduler.ErrNoNextDate
	}
	return tm.Upcoming(from, n), nil
}

func persistedAnchor(ctx context.Context, cfg *config.Config, name string, desc plan.Descriptor) (time.Time, error) {
	st, err := openStore(cfg)
	if err != nil || st == nil {
		return time.Time{}, err
	}
	defer st.Close()
	a, ok, err := st.GetAnchor(ctx, name)
	if err != nil || !ok || a.Fingerprint != desc.Fingerprint() {
		return time.Time{}, err
	}
	return a.At, nil
}

// History returns the latest persisted firings of plan name, newest first.
func History(ctx context.Context, cfgPath, name string, limit int) ([]storage.FireRecord, error) {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return nil, err
	}
	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, storage.ErrDisabled
	}
	defer st.Close()
	return st.ListFires(ctx, strings.TrimSpace(name), limit)
}

func openStore(cfg *config.Config) (storage.Store, error) {
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil || !enabled {
		return nil, err
	}
	return storage.Open(sc, logx.Nop())
}
