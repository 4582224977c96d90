// Package natsapi exposes the command surface over NATS.
//
// Requests arrive on "<prefix>.cmd" (any instance in the queue group answers)
// and "<prefix>.cmd.<instance>" (one instance answers). Each request body is a
// JSON command envelope and each reply a JSON response. Fired activations and
// heartbeats are published on "<prefix>.events.fired" and
// "<prefix>.status.<instance>".
//
// Usage:
//
//	client := natsapi.NewClient(cfg, logger)
//	err := client.Connect(ctx)
//	defer client.Close()
package natsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nkeys"

	"github.com/doughall/taskd/internal/commands"
)

// Config holds NATS connection configuration.
type Config struct {
	Servers    string // Comma-separated list of NATS server URLs
	NKeySeed   string // Optional NKey seed for authentication (starts with SU)
	Prefix     string // Subject prefix, e.g. "taskd"
	InstanceID string // Instance id for direct subjects
}

// Client manages the NATS connection.
type Client struct {
	config    Config
	nc        *nats.Conn
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool
}

// NewClient creates a new NATS client with the given configuration.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Prefix == "" {
		cfg.Prefix = "taskd"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config: cfg,
		logger: logger.With(slog.String("component", "nats")),
	}
}

// authOption builds NKey authentication from the configured seed.
func (c *Client) authOption() (nats.Option, error) {
	kp, err := nkeys.FromSeed([]byte(c.config.NKeySeed))
	if err != nil {
		return nil, fmt.Errorf("invalid nkey seed: %w", err)
	}
	pubKey, err := kp.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get public key: %w", err)
	}
	return nats.Nkey(pubKey, func(nonce []byte) ([]byte, error) {
		return kp.Sign(nonce)
	}), nil
}

// Connect establishes a connection to the NATS server.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	opts := []nats.Option{
		nats.Name(fmt.Sprintf("taskd-%s", c.config.InstanceID)),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
		nats.PingInterval(30 * time.Second),
		nats.MaxPingsOutstanding(3),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()
			if err != nil {
				c.logger.Warn("NATS disconnected", slog.String("error", err.Error()))
			} else {
				c.logger.Info("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.mu.Lock()
			c.connected = true
			c.mu.Unlock()
			c.logger.Info("NATS reconnected", slog.String("server", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			// sub can be nil for connection-level errors
			if sub != nil {
				c.logger.Error("NATS error",
					slog.String("error", err.Error()),
					slog.String("subject", sub.Subject),
				)
			} else {
				c.logger.Error("NATS error", slog.String("error", err.Error()))
			}
		}),
	}

	if c.config.NKeySeed != "" {
		auth, err := c.authOption()
		if err != nil {
			return err
		}
		opts = append(opts, auth)
	}

	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Timeout(time.Until(deadline)))
	}

	nc, err := nats.Connect(c.config.Servers, opts...)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}

	c.nc = nc
	c.connected = true

	c.logger.Info("NATS connected",
		slog.String("server", nc.ConnectedUrl()),
		slog.String("instance_id", c.config.InstanceID),
	)
	return nil
}

// IsConnected returns whether the client is currently connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.nc != nil && c.nc.IsConnected()
}

// Close drains and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.nc == nil {
		return nil
	}
	err := c.nc.Drain()
	c.nc = nil
	c.connected = false
	return err
}

// Shutdown implements the shutdown.Shutdowner interface.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.Close()
}

// Connection returns the underlying NATS connection.
func (c *Client) Connection() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nc
}

// Subject joins parts onto the configured prefix.
func (c *Client) Subject(parts ...string) string {
	s := c.config.Prefix
	for _, p := range parts {
		s += "." + p
	}
	return s
}

// InstanceID returns the configured instance id.
func (c *Client) InstanceID() string {
	return c.config.InstanceID
}

// Call sends env as a request and waits for the reply. An empty instance
// addresses the queue group shared by every instance.
func (c *Client) Call(ctx context.Context, instance string, env commands.Envelope) (*commands.Response, error) {
	nc := c.Connection()
	if nc == nil {
		return nil, fmt.Errorf("not connected")
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	subject := c.Subject("cmd")
	if instance != "" {
		subject = c.Subject("cmd", instance)
	}

	msg, err := nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", subject, err)
	}

	var resp commands.Response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}
