package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/doughall/taskd/internal/commands"
)

func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoDispatcher replies with the request id and the command name as result.
type echoDispatcher struct {
	calls atomic.Int32
}

func (d *echoDispatcher) DispatchJSON(ctx context.Context, data []byte) []byte {
	d.calls.Add(1)
	var env commands.Envelope
	json.Unmarshal(data, &env)
	out, _ := json.Marshal(commands.Response{RequestID: env.RequestID, OK: true, Result: env.Cmd})
	return out
}

func startServer(t *testing.T, opts Options) (*Server, string) {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = nopLogger()
	}
	srv := NewServer(opts)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, ts.URL
}

func dial(t *testing.T, url string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, url, 1, nopLogger())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestServer_DispatchesEachFrame(t *testing.T) {
	d := &echoDispatcher{}
	_, url := startServer(t, Options{Dispatcher: d})
	c := dial(t, url)

	for _, cmd := range []string{commands.CmdList, commands.CmdStatus} {
		resp, err := c.Call(context.Background(), commands.Envelope{Cmd: cmd, RequestID: "r-" + cmd})
		if err != nil {
			t.Fatalf("Call failed: %v", err)
		}
		if !resp.OK || resp.Result != cmd || resp.RequestID != "r-"+cmd {
			t.Errorf("response = %+v", resp)
		}
	}
	if got := d.calls.Load(); got != 2 {
		t.Errorf("dispatcher calls = %d, want 2", got)
	}
}

func TestServer_RateLimited(t *testing.T) {
	d := &echoDispatcher{}
	_, url := startServer(t, Options{Dispatcher: d, Rate: 0.001, Burst: 1})
	c := dial(t, url)

	first, err := c.Call(context.Background(), commands.Envelope{Cmd: commands.CmdList})
	if err != nil || !first.OK {
		t.Fatalf("first call = %+v, %v", first, err)
	}

	second, err := c.Call(context.Background(), commands.Envelope{Cmd: commands.CmdList, RequestID: "r2"})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if second.OK || second.Error == nil || second.Error.Code != commands.CodeRateLimited {
		t.Fatalf("second call = %+v, want rate_limited", second)
	}
	if second.RequestID != "r2" {
		t.Errorf("request id = %q, want r2", second.RequestID)
	}
	if got := d.calls.Load(); got != 1 {
		t.Errorf("dispatcher calls = %d, want 1", got)
	}
}

func TestServer_Shutdown(t *testing.T) {
	srv, url := startServer(t, Options{Dispatcher: &echoDispatcher{}})
	c := dial(t, url)

	// Make sure the session is registered before shutting down.
	if _, err := c.Call(context.Background(), commands.Envelope{Cmd: commands.CmdList}); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if srv.Sessions() != 1 {
		t.Fatalf("Sessions = %d, want 1", srv.Sessions())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if srv.Sessions() != 0 {
		t.Errorf("Sessions = %d after shutdown, want 0", srv.Sessions())
	}

	if _, err := c.Call(context.Background(), commands.Envelope{Cmd: commands.CmdList}); err == nil {
		t.Error("expected error calling a closed session")
	}

	if _, err := Dial(ctx, url, 1, nopLogger()); err == nil {
		t.Error("expected dial to fail after shutdown")
	}
}

func TestBuildURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"http://localhost:8080", "ws://localhost:8080/ws", false},
		{"https://sched.example.com/", "wss://sched.example.com/ws", false},
		{"ws://localhost:8080/custom/", "ws://localhost:8080/custom", false},
		{"ftp://localhost", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := BuildURL(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("BuildURL error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("BuildURL = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNextBackoff(t *testing.T) {
	for range 20 {
		next := nextBackoff(time.Second)
		if next < 1400*time.Millisecond || next > 2600*time.Millisecond {
			t.Fatalf("nextBackoff(1s) = %v, outside jitter range", next)
		}
	}
	if got := nextBackoff(maxBackoff); got > maxBackoff {
		t.Errorf("nextBackoff exceeded cap: %v", got)
	}
}

func TestRejectRateLimited_Garbage(t *testing.T) {
	out := rejectRateLimited([]byte("not json"))
	if !strings.Contains(string(out), commands.CodeRateLimited) {
		t.Errorf("reply = %s", out)
	}
}

func TestNewServer_NilLogger(t *testing.T) {
	srv := NewServer(Options{Dispatcher: &echoDispatcher{}})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	c := dial(t, ts.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := c.Call(ctx, commands.Envelope{Cmd: "list"})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if !resp.OK {
		t.Errorf("response = %+v", resp)
	}
}
