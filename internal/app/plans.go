package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"planner/internal/config"
	logx "planner/pkg/logx"
)

// syncPlans makes the scheduler's plan set match cfg: new and changed plans
// are (re)registered, plans no longer declared (or disabled) are removed
// along with their persisted anchor.
func (a *App) syncPlans(ctx context.Context, cfg *config.Config) error {
	a.plansMu.Lock()
	defer a.plansMu.Unlock()

	want := make(map[string]struct{}, len(cfg.Plans))
	for _, p := range cfg.Plans {
		if !p.Disabled {
			want[strings.TrimSpace(p.Name)] = struct{}{}
		}
	}
	for name := range a.plans {
		if _, ok := want[name]; ok {
			continue
		}
		a.sched.Remove(name)
		delete(a.plans, name)
		if a.store != nil {
			if err := a.store.DeleteAnchor(ctx, name); err != nil {
				a.log.Warn("anchor cleanup failed", logx.String("plan", name), logx.Err(err))
			}
		}
		a.log.Info("plan removed", logx.String("plan", name))
	}

	var errs []error
	for i, p := range cfg.Plans {
		if p.Disabled {
			continue
		}
		path := fmt.Sprintf("plans[%d]", i)
		h := config.PlanHash(p)
		name := strings.TrimSpace(p.Name)
		if prev, ok := a.plans[name]; ok && prev == h {
			continue
		}
		ps, err := mapPlan(path, p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		job, err := a.actions.job(ps.name, p.Action)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s.action: %w", path, err))
			continue
		}
		if _, err := a.sched.AddPlan(ctx, ps.name, ps.desc, ps.timeout, ps.opt, job); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		_, known := a.plans[name]
		a.plans[name] = h
		if known {
			a.log.Info("plan updated", logx.String("plan", name))
		} else {
			a.log.Debug("plan registered", logx.String("plan", name), logx.String("action", p.Action.Type))
		}
	}
	return errors.Join(errs...)
}
