// server.go answers command requests arriving over NATS.

package natsapi

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// QueueGroup is shared by every instance so a broadcast command is answered
// once.
const QueueGroup = "taskd"

// Dispatcher runs one raw JSON command and returns the raw JSON reply.
// Implemented by commands.Surface.
type Dispatcher interface {
	DispatchJSON(ctx context.Context, data []byte) []byte
}

// Server subscribes to the command subjects and replies to each request.
type Server struct {
	client     *Client
	dispatcher Dispatcher
	timeout    time.Duration
	logger     *slog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewServer creates a command server. Each request is given timeout to
// complete.
func NewServer(client *Client, dispatcher Dispatcher, timeout time.Duration, logger *slog.Logger) *Server {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		client:     client,
		dispatcher: dispatcher,
		timeout:    timeout,
		logger:     logger.With(slog.String("component", "nats-server")),
	}
}

// Start subscribes to the shared and the instance command subjects.
func (s *Server) Start() error {
	nc := s.client.Connection()
	if nc == nil {
		return fmt.Errorf("not connected")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	shared := s.client.Subject("cmd")
	sub, err := nc.QueueSubscribe(shared, QueueGroup, s.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", shared, err)
	}
	s.subs = append(s.subs, sub)

	direct := s.client.Subject("cmd", s.client.InstanceID())
	sub, err = nc.Subscribe(direct, s.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", direct, err)
	}
	s.subs = append(s.subs, sub)

	s.logger.Info("command subscriptions ready",
		slog.String("shared", shared),
		slog.String("direct", direct),
	)
	return nil
}

func (s *Server) handle(msg *nats.Msg) {
	if msg.Reply == "" {
		s.logger.Warn("dropping command without reply subject", slog.String("subject", msg.Subject))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	reply := s.dispatcher.DispatchJSON(ctx, msg.Data)
	if err := msg.Respond(reply); err != nil {
		s.logger.Error("failed to send reply",
			slog.String("subject", msg.Subject),
			slog.String("error", err.Error()),
		)
	}
}

// Shutdown unsubscribes from the command subjects.
// Implements shutdown.Shutdowner.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Warn("unsubscribe failed", slog.String("error", err.Error()))
		}
	}
	s.subs = nil
	return nil
}
