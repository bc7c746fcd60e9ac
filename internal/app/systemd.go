package app

import (
	"context"

	logx "planner/pkg/logx"
)

// startSystemd reports readiness and, when the unit has WatchdogSec set,
// keeps the watchdog fed. Outside systemd this does nothing.
func (a *App) startSystemd() {
	a.notifyReady()
	if iv := a.sd.WatchdogInterval(); iv > 0 {
		a.log.Info("systemd watchdog enabled", logx.Duration("interval", iv))
		a.sup.Go("systemd.watchdog", func(c context.Context) error {
			return a.sd.Watchdog(c, iv)
		})
	}
}

func (a *App) notifyReady() {
	if _, err := a.sd.Ready(); err != nil {
		a.log.Warn("sd_notify READY failed", logx.Err(err))
	}
}

func (a *App) notifyReloading() {
	if _, err := a.sd.Reloading(); err != nil {
		a.log.Debug("sd_notify RELOADING failed", logx.Err(err))
	}
}

func (a *App) notifyStopping() {
	if _, err := a.sd.Stopping(); err != nil {
		a.log.Debug("sd_notify STOPPING failed", logx.Err(err))
	}
}
