package systemdmanager

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier reports service state to systemd. Outside a systemd unit
// (NOTIFY_SOCKET unset) every call is a no-op.
type Notifier struct {
	unsetEnv bool
}

func NewNotifier() *Notifier { return &Notifier{} }

// Ready sends READY=1. It reports whether the notification was delivered.
func (n *Notifier) Ready() (bool, error) { return daemon.SdNotify(n.unsetEnv, daemon.SdNotifyReady) }

func (n *Notifier) Stopping() (bool, error) {
	return daemon.SdNotify(n.unsetEnv, daemon.SdNotifyStopping)
}

func (n *Notifier) Reloading() (bool, error) {
	return daemon.SdNotify(n.unsetEnv, daemon.SdNotifyReloading)
}

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(msg string) (bool, error) {
	return daemon.SdNotify(n.unsetEnv, "STATUS="+msg)
}

// WatchdogInterval returns half the configured watchdog timeout, or 0 when
// the watchdog is not enabled for this process.
func (n *Notifier) WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(n.unsetEnv)
	if err != nil || d <= 0 {
		return 0
	}
	return d / 2
}

// Watchdog pings the watchdog every interval until ctx is done.
func (n *Notifier) Watchdog(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := daemon.SdNotify(n.unsetEnv, daemon.SdNotifyWatchdog); err != nil {
				return err
			}
		}
	}
}
