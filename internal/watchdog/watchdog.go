// Package watchdog reports liveness to systemd so a stalled run loop gets the
// process restarted.
package watchdog

import (
	"log/slog"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

type notifyFunc func(state string) (bool, error)

// Notifier sends sd_notify messages. Outside systemd every call is a no-op.
type Notifier struct {
	logger   *slog.Logger
	notify   notifyFunc
	now      func() time.Time
	interval time.Duration // zero when no watchdog is configured

	mu   sync.Mutex
	last time.Time
}

// New reads the watchdog timeout from the environment and pings at half of it.
func New(logger *slog.Logger) *Notifier {
	logger = logger.With("component", "watchdog")
	timeout, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("watchdog settings unreadable", "error", err)
	}
	n := newNotifier(logger, timeout/2, func(state string) (bool, error) {
		return daemon.SdNotify(false, state)
	}, time.Now)
	if n.interval > 0 {
		logger.Info("systemd watchdog enabled", "timeout", timeout, "ping_interval", n.interval)
	}
	return n
}

func newNotifier(logger *slog.Logger, interval time.Duration, notify notifyFunc, now func() time.Time) *Notifier {
	return &Notifier{logger: logger, notify: notify, now: now, interval: interval}
}

// Interval is the minimum spacing between keep-alive pings.
func (n *Notifier) Interval() time.Duration { return n.interval }

// Ready reports that boot finished.
func (n *Notifier) Ready() {
	n.send(daemon.SdNotifyReady)
}

// Stopping reports an orderly shutdown.
func (n *Notifier) Stopping() {
	n.send(daemon.SdNotifyStopping)
}

// Ping sends a keep-alive, throttled to one per interval. Safe to call on every
// loop iteration.
func (n *Notifier) Ping() {
	if n.interval <= 0 {
		return
	}
	n.mu.Lock()
	now := n.now()
	if !n.last.IsZero() && now.Sub(n.last) < n.interval {
		n.mu.Unlock()
		return
	}
	n.last = now
	n.mu.Unlock()
	n.send(daemon.SdNotifyWatchdog)
}

func (n *Notifier) send(state string) {
	sent, err := n.notify(state)
	if err != nil {
		n.logger.Warn("sd_notify failed", "state", state, "error", err)
		return
	}
	if !sent {
		n.logger.Debug("sd_notify skipped (no socket)", "state", state)
	}
}
