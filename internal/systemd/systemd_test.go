package systemd

import (
	"context"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"
)

func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// listenNotify binds a unixgram socket and points NOTIFY_SOCKET at it.
func listenNotify(t *testing.T) *net.UnixConn {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		t.Skipf("unixgram not available: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	t.Setenv("NOTIFY_SOCKET", path)
	return conn
}

func readState(t *testing.T, conn *net.UnixConn) string {
	t.Helper()
	buf := make([]byte, 256)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read notify socket: %v", err)
	}
	return string(buf[:n])
}

func TestNotifier_WithoutSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	n := NewNotifier(nopLogger())

	if n.NotifyReady() {
		t.Error("NotifyReady reported sent without NOTIFY_SOCKET")
	}
	if IsRunningUnderSystemd() {
		t.Error("IsRunningUnderSystemd = true")
	}
}

func TestNotifier_SendsStates(t *testing.T) {
	conn := listenNotify(t)
	n := NewNotifier(nopLogger())

	if !IsRunningUnderSystemd() {
		t.Fatal("IsRunningUnderSystemd = false with NOTIFY_SOCKET set")
	}

	if !n.NotifyReady() {
		t.Fatal("NotifyReady not sent")
	}
	if got := readState(t, conn); got != "READY=1" {
		t.Errorf("state = %q, want READY=1", got)
	}

	n.NotifyStatus("%d jobs registered", 4)
	if got := readState(t, conn); got != "STATUS=4 jobs registered" {
		t.Errorf("state = %q", got)
	}

	n.NotifyStopping()
	if got := readState(t, conn); got != "STOPPING=1" {
		t.Errorf("state = %q, want STOPPING=1", got)
	}
}

func TestWatchdogLoop_SkipsUnhealthy(t *testing.T) {
	conn := listenNotify(t)
	n := NewNotifier(nopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthy := make(chan bool, 1)
	healthy <- false
	go n.watchdogLoop(ctx, 20*time.Millisecond, func() bool {
		select {
		case h := <-healthy:
			return h
		default:
			return true
		}
	})

	if got := readState(t, conn); got != "WATCHDOG=1" {
		t.Errorf("state = %q, want WATCHDOG=1", got)
	}
}
