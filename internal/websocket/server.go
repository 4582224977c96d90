// Package websocket serves the command surface to WebSocket clients.
//
// Each text frame a client sends is one JSON command envelope; the server
// answers with one JSON response frame. Commands from one connection run in
// order. Every connection gets its own rate limiter and session id.
//
// Connection lifecycle:
//  1. Upgrade the HTTP request
//  2. Read frames, dispatching each to the command surface
//  3. Ping every pingInterval; drop the connection when a pong is late
//  4. Close when the client goes away or the server shuts down
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/doughall/taskd/internal/commands"
)

// Keepalive and frame limits.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Dispatcher runs one raw JSON command and returns the raw JSON reply.
// Implemented by commands.Surface.
type Dispatcher interface {
	DispatchJSON(ctx context.Context, data []byte) []byte
}

// Options configures a Server.
type Options struct {
	Dispatcher Dispatcher
	// Rate is the sustained number of commands per second a single connection
	// may send. Zero disables limiting.
	Rate float64
	// Burst is the number of commands allowed above Rate at once.
	Burst int
	// CommandTimeout bounds each dispatched command.
	CommandTimeout time.Duration
	Logger         *slog.Logger
}

// Server upgrades HTTP requests into command sessions.
type Server struct {
	dispatcher Dispatcher
	limit      rate.Limit
	burst      int
	timeout    time.Duration
	upgrader   websocket.Upgrader
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
	wg       sync.WaitGroup
}

// NewServer creates a WebSocket command server.
func NewServer(opts Options) *Server {
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	timeout := opts.CommandTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		dispatcher: opts.Dispatcher,
		limit:      limit,
		burst:      burst,
		timeout:    timeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger:   logger.With(slog.String("component", "websocket")),
		sessions: make(map[string]*session),
	}
}

// ServeHTTP upgrades the request and serves commands until the connection
// closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	s.mu.Unlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	sess := &session{
		id:      uuid.NewString(),
		conn:    conn,
		limiter: rate.NewLimiter(s.limit, s.burst),
		server:  s,
		done:    make(chan struct{}),
	}
	sess.logger = s.logger.With(slog.String("session_id", sess.id))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.sessions[sess.id] = sess
	s.wg.Add(1)
	s.mu.Unlock()

	sess.logger.Info("websocket session opened", slog.String("remote", r.RemoteAddr))

	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess.id)
		s.mu.Unlock()
		s.wg.Done()
		sess.logger.Info("websocket session closed")
	}()

	sess.run(r.Context())
}

// Sessions returns the number of open sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown closes every session and waits for them to finish.
// Implements shutdown.Shutdowner.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for _, sess := range s.sessions {
		sess.close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// session is one connected client.
type session struct {
	id      string
	conn    *websocket.Conn
	limiter *rate.Limiter
	server  *Server
	logger  *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func (s *session) run(ctx context.Context) {
	defer s.close()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go s.pingLoop()

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error", slog.String("error", err.Error()))
			}
			return
		}

		// Only handle text messages
		if messageType != websocket.TextMessage {
			s.logger.Debug("ignoring non-text websocket message",
				slog.Int("message_type", messageType),
			)
			continue
		}

		if !s.limiter.Allow() {
			s.logger.Warn("command rate limit exceeded")
			s.write(rejectRateLimited(data))
			continue
		}

		cmdCtx, cancel := context.WithTimeout(ctx, s.server.timeout)
		reply := s.server.dispatcher.DispatchJSON(cmdCtx, data)
		cancel()

		if err := s.write(reply); err != nil {
			s.logger.Debug("websocket write failed", slog.String("error", err.Error()))
			return
		}
	}
}

func (s *session) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				s.close()
				return
			}
		}
	}
}

func (s *session) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		s.writeMu.Unlock()
		s.conn.Close()
	})
}

// rejectRateLimited builds the reply for a command dropped by the limiter,
// echoing its request id when one can be read.
func rejectRateLimited(data []byte) []byte {
	var env commands.Envelope
	_ = json.Unmarshal(data, &env)

	out, _ := json.Marshal(commands.Response{
		RequestID: env.RequestID,
		Error: &commands.ErrorBody{
			Code:    commands.CodeRateLimited,
			Message: "command rate limit exceeded",
		},
	})
	return out
}
