// publisher.go handles outgoing events and heartbeats.

package natsapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/doughall/taskd/internal/commands"
	"github.com/doughall/taskd/internal/stats"
)

// MessageEnvelope wraps every published event with type information.
type MessageEnvelope struct {
	Type       string          `json:"type"`
	InstanceID string          `json:"instance_id"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  string          `json:"timestamp"`
}

// Publisher publishes events over core NATS.
type Publisher struct {
	client *Client
	logger *slog.Logger
}

// NewPublisher creates a new NATS publisher.
func NewPublisher(client *Client, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client: client,
		logger: logger.With(slog.String("component", "nats-publisher")),
	}
}

// PublishFired announces a finished activation on <prefix>.events.fired.
// Implements commands.EventSink.
func (p *Publisher) PublishFired(ev commands.FiredEvent) error {
	return p.publishEnvelope(p.client.Subject("events", "fired"), "fired", ev)
}

// PublishHeartbeat announces this instance on <prefix>.status.<instance>.
// Implements stats.HeartbeatPublisher.
func (p *Publisher) PublishHeartbeat(hb *stats.Heartbeat) error {
	return p.publishEnvelope(p.client.Subject("status", p.client.InstanceID()), "heartbeat", hb)
}

// Publish sends raw data on subject. Used by publish tasks.
// Implements tasks.Publisher.
func (p *Publisher) Publish(subject string, data []byte) error {
	nc := p.client.Connection()
	if nc == nil {
		return fmt.Errorf("not connected")
	}
	if err := nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	p.logger.Debug("published task message", slog.String("subject", subject))
	return nil
}

func (p *Publisher) publishEnvelope(subject, typ string, payload any) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	msg := MessageEnvelope{
		Type:       typ,
		InstanceID: p.client.InstanceID(),
		Payload:    payloadBytes,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	nc := p.client.Connection()
	if nc == nil {
		return fmt.Errorf("not connected")
	}
	if err := nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	p.logger.Debug("published message",
		slog.String("subject", subject),
		slog.String("type", typ),
	)
	return nil
}

// Flush flushes the NATS connection to ensure all pending messages are sent.
func (p *Publisher) Flush() error {
	nc := p.client.Connection()
	if nc == nil {
		return fmt.Errorf("not connected")
	}
	return nc.Flush()
}

// IsConnected returns whether the publisher can send messages.
func (p *Publisher) IsConnected() bool {
	return p.client.IsConnected()
}
