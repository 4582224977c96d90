// Package stats tests cover the process collector and the heartbeat reporter.
package stats

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"
)

// nopLogger returns a logger that discards all output, suitable for tests.
func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCollect(t *testing.T) {
	collector := NewCollector(nopLogger())

	snap, err := collector.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	t.Run("identifies this process", func(t *testing.T) {
		if snap.PID != int32(os.Getpid()) {
			t.Errorf("PID = %d, want %d", snap.PID, os.Getpid())
		}
	})

	t.Run("memory is reported", func(t *testing.T) {
		if snap.RSS == 0 {
			t.Error("expected RSS > 0")
		}
	})

	t.Run("goroutines counted", func(t *testing.T) {
		if snap.Goroutines < 1 {
			t.Errorf("Goroutines = %d", snap.Goroutines)
		}
	})

	t.Run("load averages are non-negative", func(t *testing.T) {
		if snap.Load1 < 0 || snap.Load5 < 0 || snap.Load15 < 0 {
			t.Errorf("negative load: %v %v %v", snap.Load1, snap.Load5, snap.Load15)
		}
	})
}

func TestCollectCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewCollector(nopLogger()).Collect(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type fakeHeartbeatPublisher struct {
	mu        sync.Mutex
	connected bool
	beats     []*Heartbeat
}

func (p *fakeHeartbeatPublisher) PublishHeartbeat(hb *Heartbeat) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.beats = append(p.beats, hb)
	return nil
}

func (p *fakeHeartbeatPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *fakeHeartbeatPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.beats)
}

type fixedJobs int

func (n fixedJobs) Len() int { return int(n) }

func TestReporter_SendsHeartbeats(t *testing.T) {
	pub := &fakeHeartbeatPublisher{connected: true}
	r := NewReporter(NewCollector(nopLogger()), pub, fixedJobs(4), "inst-1", "dev", 20*time.Millisecond, nopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for pub.count() < 2 {
		select {
		case <-deadline:
			t.Fatalf("only %d heartbeats sent", pub.count())
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done

	pub.mu.Lock()
	hb := pub.beats[0]
	pub.mu.Unlock()
	if hb.InstanceID != "inst-1" || hb.Jobs != 4 || hb.Stats == nil {
		t.Errorf("heartbeat = %+v", hb)
	}
}

func TestReporter_SkipsWhenDisconnected(t *testing.T) {
	pub := &fakeHeartbeatPublisher{}
	r := NewReporter(NewCollector(nopLogger()), pub, fixedJobs(0), "inst-1", "dev", time.Hour, nopLogger())

	r.send(context.Background())
	if pub.count() != 0 {
		t.Errorf("sent %d heartbeats while disconnected", pub.count())
	}
	if err := r.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}
