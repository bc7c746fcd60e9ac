package app

import (
	"context"
	"time"

	"planner/internal/config"
	logx "planner/pkg/logx"
)

// applyConfig pushes a committed config into the running components.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, plans := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	a.notifyReloading()
	defer a.notifyReady()

	a.log.Debug("config change summary", append([]logx.Field{logx.String("changed", joinNames(sections))}, attrs...)...)

	for _, s := range sections {
		if s == "storage" {
			a.log.Warn("storage config changed; restart required for changes to take effect")
		}
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	// Engine first on startup, scheduler first on shutdown.
	prevEng := a.engine.Enabled()
	if engCfg, err := mapTaskEngineConfig(newCfg); err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(ctx, engCfg)
		switch {
		case !prevEng && engCfg.Enabled:
			a.log.Info("task engine enabled via config")
			a.engine.Start(ctx)
		case prevEng && !engCfg.Enabled:
			defer func() {
				a.log.Info("task engine disabled via config")
				stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				a.engine.Stop(stopCtx)
				cancel()
			}()
		}
	}

	if schedCfg, err := mapSchedulerConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(schedCfg)
	}

	if statusCfg, err := mapStatusConfig(newCfg); err != nil {
		a.log.Warn("invalid status config; keeping previous", logx.Err(err))
	} else if a.sup != nil {
		a.status.Reconfigure(a.sup.Context(), statusCfg)
	}

	if len(plans) > 0 {
		if err := a.syncPlans(ctx, newCfg); err != nil {
			a.log.Warn("some plans were not applied", logx.Err(err))
		}
	}

	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", joinNames(sections))}, attrs...)...)
}
