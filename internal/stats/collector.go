// Package stats reports on the health of the taskd process itself.
//
// The collector samples the daemon's own resource usage and the host load
// with gopsutil v4. The reporter turns periodic samples into heartbeats on the
// message bus so operators can see which instances are alive and how many
// jobs each holds.
package stats

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/process"
)

// Snapshot is one sample of process and host statistics.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`

	PID        int32   `json:"pid"`
	RSS        uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_pct"`
	Threads    int32   `json:"threads"`
	Goroutines int     `json:"goroutines"`

	// Uptime is how long this process has been running.
	Uptime time.Duration `json:"-"`
	// UptimeSec mirrors Uptime for JSON consumers.
	UptimeSec int64 `json:"uptime_sec"`

	Load1      float64 `json:"load1"`
	Load5      float64 `json:"load5"`
	Load15     float64 `json:"load15"`
	HostUptime uint64  `json:"host_uptime_sec"`
}

// Collector samples the current process.
type Collector struct {
	logger  *slog.Logger
	proc    *process.Process
	started time.Time
}

// NewCollector creates a collector for the running process.
func NewCollector(logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Collector{
		logger:  logger,
		started: time.Now(),
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Warn("process stats unavailable", slog.String("error", err.Error()))
	} else {
		c.proc = proc
	}
	return c
}

// Collect gathers a snapshot. Individual metrics that cannot be read are
// logged and left zero; only context cancellation is returned as an error.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now()
	s := &Snapshot{
		Timestamp:  now,
		PID:        int32(os.Getpid()),
		Goroutines: runtime.NumGoroutine(),
		Uptime:     now.Sub(c.started),
	}
	s.UptimeSec = int64(s.Uptime.Seconds())

	if c.proc != nil {
		if mem, err := c.proc.MemoryInfoWithContext(ctx); err != nil {
			c.logger.Debug("failed to read memory info", slog.String("error", err.Error()))
		} else {
			s.RSS = mem.RSS
		}

		// Percent of one CPU since process start.
		if pct, err := c.proc.CPUPercentWithContext(ctx); err == nil {
			s.CPUPercent = pct
		}

		if threads, err := c.proc.NumThreadsWithContext(ctx); err == nil {
			s.Threads = threads
		}
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	loadInfo, err := load.AvgWithContext(ctx)
	if err != nil {
		c.logger.Debug("failed to collect load stats", slog.String("error", err.Error()))
	} else {
		s.Load1 = loadInfo.Load1
		s.Load5 = loadInfo.Load5
		s.Load15 = loadInfo.Load15
	}

	uptime, err := host.UptimeWithContext(ctx)
	if err != nil {
		c.logger.Debug("failed to collect host uptime", slog.String("error", err.Error()))
	} else {
		s.HostUptime = uptime
	}

	return s, nil
}

// Started returns when the collector was created, which is process start for
// practical purposes.
func (c *Collector) Started() time.Time {
	return c.started
}
