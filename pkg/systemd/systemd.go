// Package systemd reports service state to systemd through sd_notify.
//
// Every call is a no-op when the process was not started by systemd
// (NOTIFY_SOCKET unset).
package systemd

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends sd_notify states. The zero value talks to the real socket.
type Notifier struct {
	// notify replaces daemon.SdNotify in tests.
	notify func(unsetEnv bool, state string) (bool, error)
}

func (n Notifier) send(state string) (bool, error) {
	if n.notify != nil {
		return n.notify(false, state)
	}
	return daemon.SdNotify(false, state)
}

// Ready tells systemd startup is complete (Type=notify units).
func (n Notifier) Ready() (bool, error) { return n.send(daemon.SdNotifyReady) }

// Watchdog pets the watchdog (WatchdogSec=).
func (n Notifier) Watchdog() (bool, error) { return n.send(daemon.SdNotifyWatchdog) }

func (n Notifier) Stopping() (bool, error) { return n.send(daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func (n Notifier) Status(s string) (bool, error) { return n.send("STATUS=" + s) }

// WatchdogInterval returns the configured watchdog timeout, or 0 when the
// watchdog is off for this process.
func WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return 0
	}
	return d
}
