package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/doughall/taskd/internal/logging"
	"github.com/doughall/taskd/internal/scheduler"
)

// Publisher sends a message on the bus. Implemented by natsapi.Publisher.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// BuilderOptions configures a Builder.
type BuilderOptions struct {
	ExecTimeout     time.Duration
	WebhookTimeout  time.Duration
	WebhookRetryMax int
	Logger          *slog.Logger
}

// Builder turns Definitions into runnable scheduler tasks.
type Builder struct {
	runner   *Runner
	webhooks *WebhookClient
	logger   *slog.Logger

	mu        sync.RWMutex
	publisher Publisher
}

// NewBuilder creates a Builder. Publish tasks are rejected until a publisher
// is attached with SetPublisher.
func NewBuilder(opts BuilderOptions) *Builder {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.WebhookTimeout <= 0 {
		opts.WebhookTimeout = 30 * time.Second
	}
	logger = logger.With(slog.String("component", "tasks"))
	return &Builder{
		runner:   NewRunner(opts.ExecTimeout),
		webhooks: NewWebhookClient(opts.WebhookTimeout, opts.WebhookRetryMax, logger),
		logger:   logger,
	}
}

// SetPublisher attaches the message bus used by publish tasks.
func (b *Builder) SetPublisher(p Publisher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publisher = p
}

func (b *Builder) currentPublisher() Publisher {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.publisher
}

// Build validates def and returns the task that carries it out.
func (b *Builder) Build(def Definition) (scheduler.Task, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	switch def.Type {
	case TypeLog:
		level := logging.ParseLevel(def.Level)
		return func(ctx context.Context) error {
			b.logger.Log(ctx, level, def.Message, slog.String("task", TypeLog))
			return nil
		}, nil

	case TypeExec:
		timeout := time.Duration(def.TimeoutSec) * time.Second
		return func(ctx context.Context) error {
			var (
				result *Result
				err    error
			)
			if def.Command != "" {
				result, err = b.runner.Execute(ctx, def.Command, timeout)
			} else {
				result, err = b.runner.ExecuteScript(ctx, def.Script, def.Interpreter, timeout)
			}
			if err != nil {
				return err
			}
			b.logger.Debug("command finished",
				slog.Int("exit_code", result.ExitCode),
				slog.Bool("timed_out", result.TimedOut),
				slog.Int64("duration_ms", result.Duration.Milliseconds()),
			)
			return result.Err()
		}, nil

	case TypeWebhook:
		return func(ctx context.Context) error {
			return b.webhooks.Send(ctx, def)
		}, nil

	case TypePublish:
		if b.currentPublisher() == nil {
			return nil, ErrNoPublisher
		}
		data := []byte(def.Data)
		if len(data) == 0 {
			data, _ = json.Marshal(map[string]string{"subject": def.Subject})
		}
		return func(context.Context) error {
			p := b.currentPublisher()
			if p == nil {
				return ErrNoPublisher
			}
			if err := p.Publish(def.Subject, data); err != nil {
				return fmt.Errorf("publish %s: %w", def.Subject, err)
			}
			return nil
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, def.Type)
}
