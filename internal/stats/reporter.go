// reporter.go publishes periodic heartbeats built from collector snapshots.

package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Heartbeat announces that an instance is alive.
type Heartbeat struct {
	InstanceID string    `json:"instance_id"`
	Version    string    `json:"version"`
	Jobs       int       `json:"jobs"`
	Stats      *Snapshot `json:"stats"`
}

// HeartbeatPublisher sends heartbeats. Implemented by natsapi.Publisher.
type HeartbeatPublisher interface {
	PublishHeartbeat(hb *Heartbeat) error
	IsConnected() bool
}

// JobCounter reports how many jobs are registered.
type JobCounter interface {
	Len() int
}

// Reporter sends a heartbeat every interval until stopped.
type Reporter struct {
	collector  *Collector
	publisher  HeartbeatPublisher
	jobs       JobCounter
	instanceID string
	version    string
	logger     *slog.Logger
	interval   time.Duration

	firstReport bool

	wg     sync.WaitGroup
	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewReporter creates a heartbeat reporter.
func NewReporter(collector *Collector, publisher HeartbeatPublisher, jobs JobCounter, instanceID, version string, interval time.Duration, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		collector:   collector,
		publisher:   publisher,
		jobs:        jobs,
		instanceID:  instanceID,
		version:     version,
		logger:      logger.With(slog.String("component", "heartbeat")),
		interval:    interval,
		firstReport: true,
	}
}

// Run sends a heartbeat immediately and then on every tick. It blocks until
// ctx is cancelled or Shutdown is called.
func (r *Reporter) Run(ctx context.Context) {
	internalCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel()

	r.logger.Info("heartbeat reporter starting",
		slog.Duration("interval", r.interval),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.send(internalCtx)

	for {
		select {
		case <-internalCtx.Done():
			r.logger.Info("heartbeat reporter stopped")
			return
		case <-ticker.C:
			r.send(internalCtx)
		}
	}
}

// send performs one collect and publish cycle. Failures are logged only.
func (r *Reporter) send(ctx context.Context) {
	r.wg.Add(1)
	defer r.wg.Done()

	if ctx.Err() != nil {
		return
	}
	if !r.publisher.IsConnected() {
		r.logger.Debug("skipping heartbeat: not connected")
		return
	}

	snap, err := r.collector.Collect(ctx)
	if err != nil {
		r.logger.Warn("failed to collect stats", slog.String("error", err.Error()))
		return
	}

	hb := &Heartbeat{
		InstanceID: r.instanceID,
		Version:    r.version,
		Jobs:       r.jobs.Len(),
		Stats:      snap,
	}
	if err := r.publisher.PublishHeartbeat(hb); err != nil {
		r.logger.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
		return
	}

	if r.firstReport {
		r.logger.Info("first heartbeat sent", slog.Int("jobs", hb.Jobs))
		r.firstReport = false
	} else {
		r.logger.Debug("heartbeat sent", slog.Int("jobs", hb.Jobs))
	}
}

// Shutdown stops the reporter and waits for any in-flight heartbeat.
func (r *Reporter) Shutdown(ctx context.Context) error {
	r.logger.Info("heartbeat reporter shutting down")

	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		r.logger.Warn("heartbeat reporter shutdown timed out")
		return ctx.Err()
	}
}
