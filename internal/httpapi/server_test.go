package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixedJobs int

func (f fixedJobs) Len() int { return int(f) }

type echoDispatcher struct{}

func (echoDispatcher) DispatchJSON(_ context.Context, data []byte) []byte {
	return append([]byte(`{"ok":true,"result":`), append(data, '}')...)
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "taskd_test_total", Help: "test"}))

	s := NewServer(Options{
		Dispatcher: echoDispatcher{},
		WebSocket: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}),
		Jobs:     fixedJobs(3),
		Gatherer: reg,
		Version:  "1.2.3",
		Logger:   nopLogger(),
	})
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return ts
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Jobs != 3 || body.Version != "1.2.3" {
		t.Errorf("health = %+v", body)
	}
}

func TestMetrics(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(data), "taskd_test_total") {
		t.Errorf("metrics output missing counter:\n%s", data)
	}
}

func TestCommandEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/commands", "application/json", strings.NewReader(`{"cmd":"list"}`))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if string(data) != `{"ok":true,"result":{"cmd":"list"}}` {
		t.Errorf("body = %s", data)
	}

	get, err := http.Get(ts.URL + "/api/commands")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	get.Body.Close()
	if get.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", get.StatusCode)
	}
}

func TestWebSocketRoute(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/ws")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("status = %d, want the websocket handler's 418", resp.StatusCode)
	}
}

func TestStartAndShutdown(t *testing.T) {
	s := NewServer(Options{Addr: "127.0.0.1:0", Logger: nopLogger()})
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestNewServer_NilLogger(t *testing.T) {
	s := NewServer(Options{Jobs: fixedJobs(0), Gatherer: prometheus.NewRegistry()})
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
