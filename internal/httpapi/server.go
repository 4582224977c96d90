// Package httpapi serves the daemon's HTTP endpoints:
//
//	GET  /healthz       liveness and job count
//	GET  /metrics       Prometheus metrics
//	GET  /ws            WebSocket command sessions
//	POST /api/commands  one JSON command per request
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxCommandBody = 64 * 1024

// Dispatcher runs one raw JSON command and returns the raw JSON reply.
type Dispatcher interface {
	DispatchJSON(ctx context.Context, data []byte) []byte
}

// JobCounter reports the number of registered jobs.
type JobCounter interface {
	Len() int
}

// Options configures the HTTP server.
type Options struct {
	Addr       string
	Dispatcher Dispatcher
	// WebSocket serves /ws when set.
	WebSocket http.Handler
	Jobs      JobCounter
	Gatherer  prometheus.Gatherer
	Version   string
	Logger    *slog.Logger
}

// HealthResponse is the JSON response for GET /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Jobs    int    `json:"jobs"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// Server is the daemon's HTTP listener.
type Server struct {
	opts      Options
	server    *http.Server
	startedAt time.Time
	logger    *slog.Logger
}

// NewServer builds the router. Call Start to listen.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		opts:      opts,
		startedAt: time.Now(),
		logger:    logger.With(slog.String("component", "http")),
	}
	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router constructs the chi mux with all routes wired.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth())

	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	if s.opts.WebSocket != nil {
		r.Handle("/ws", s.opts.WebSocket)
	}
	if s.opts.Dispatcher != nil {
		r.Post("/api/commands", s.handleCommand())
	}
	return r
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{
			Status:  "ok",
			Version: s.opts.Version,
			Uptime:  time.Since(s.startedAt).Round(time.Second).String(),
		}
		if s.opts.Jobs != nil {
			resp.Jobs = s.opts.Jobs.Len()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// handleCommand runs the request body as a command. Command failures are
// reported in the JSON body with status 200; only transport errors use
// HTTP status codes.
func (s *Server) handleCommand() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCommandBody))
		if err != nil {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		reply := s.opts.Dispatcher.DispatchJSON(r.Context(), body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(reply)
	}
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", s.opts.Addr)
	if err != nil {
		return errors.New("http: listen failed: " + err.Error())
	}

	go func() {
		s.logger.Info("http listening", slog.String("addr", ln.Addr().String()))
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http serve error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
// Implements shutdown.Shutdowner.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http shutting down")
	return s.server.Shutdown(ctx)
}
