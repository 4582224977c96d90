// Package systemd integrates taskd with a Type=notify systemd unit.
//
// It sends READY/STOPPING/STATUS notifications and watchdog pings. Every call
// is a no-op when NOTIFY_SOCKET is unset, so the daemon runs unchanged
// outside systemd.
package systemd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends sd_notify messages.
type Notifier struct {
	logger *slog.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{logger: logger.With(slog.String("component", "systemd"))}
}

// NotifyReady sends READY=1. Returns true if the notification was sent.
func (n *Notifier) NotifyReady() bool {
	return n.notify(daemon.SdNotifyReady)
}

// NotifyStopping sends STOPPING=1. Returns true if the notification was sent.
func (n *Notifier) NotifyStopping() bool {
	return n.notify(daemon.SdNotifyStopping)
}

// NotifyStatus sets the free-form status line shown by systemctl status.
func (n *Notifier) NotifyStatus(format string, args ...any) bool {
	return n.notify("STATUS=" + fmt.Sprintf(format, args...))
}

func (n *Notifier) notify(state string) bool {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.logger.Warn("failed to send systemd notification",
			slog.String("state", state),
			slog.String("error", err.Error()),
		)
		return false
	}
	if sent {
		n.logger.Debug("sent systemd notification", slog.String("state", state))
	}
	return sent
}

// HealthCheckFunc reports whether the service is healthy.
type HealthCheckFunc func() bool

// StartWatchdog pings the systemd watchdog every half WatchdogSec while
// healthCheck passes. Missing pings let systemd restart the service.
// Returns immediately when the watchdog is not enabled.
func (n *Notifier) StartWatchdog(ctx context.Context, healthCheck HealthCheckFunc) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.logger.Debug("watchdog not enabled", slog.String("error", err.Error()))
		return
	}
	if interval == 0 {
		return
	}

	pingInterval := interval / 2
	n.logger.Info("starting systemd watchdog",
		slog.Duration("watchdog_interval", interval),
		slog.Duration("ping_interval", pingInterval),
	)

	go n.watchdogLoop(ctx, pingInterval, healthCheck)
}

func (n *Notifier) watchdogLoop(ctx context.Context, interval time.Duration, healthCheck HealthCheckFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !healthCheck() {
				n.logger.Warn("health check failed, skipping watchdog ping")
				continue
			}
			n.notify(daemon.SdNotifyWatchdog)
		}
	}
}

// IsRunningUnderSystemd returns true if the process was started by systemd.
func IsRunningUnderSystemd() bool {
	return os.Getenv("NOTIFY_SOCKET") != ""
}
