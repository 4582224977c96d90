// Package shutdown stops the daemon's components in reverse order of
// registration, so transports close before the registry and the registry
// before its storage.
//
// Usage:
//
//	coord := shutdown.NewCoordinator(logger)
//	coord.Register("history", shutdown.Func(func(context.Context) error { return history.Close() }))
//	coord.Register("engine", engine)
//	err := coord.Shutdown(ctx) // engine first, then history
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Shutdowner is implemented by every component that takes part in shutdown.
// Shutdown should return ctx.Err() when it cannot finish before the deadline.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Func adapts a plain function to Shutdowner.
type Func func(ctx context.Context) error

// Shutdown calls f(ctx).
func (f Func) Shutdown(ctx context.Context) error {
	return f(ctx)
}

type component struct {
	name string
	s    Shutdowner
}

// Coordinator runs registered Shutdowners last-in, first-out.
type Coordinator struct {
	components []component
	logger     *slog.Logger
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		logger: logger.With(slog.String("component", "shutdown")),
	}
}

// Register appends a component. It will be stopped before every component
// registered earlier.
func (c *Coordinator) Register(name string, s Shutdowner) {
	c.components = append(c.components, component{name: name, s: s})
	c.logger.Debug("registered shutdown handler", slog.String("handler", name))
}

// Shutdown stops every component, newest first. A failing component does not
// stop the others; once ctx is done the remaining components are skipped.
// All failures are returned joined.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.logger.Info("starting coordinated shutdown", slog.Int("components", len(c.components)))

	var errs []error
	for i := len(c.components) - 1; i >= 0; i-- {
		comp := c.components[i]
		if err := ctx.Err(); err != nil {
			c.logger.Error("shutdown deadline exceeded", slog.String("remaining_component", comp.name))
			errs = append(errs, fmt.Errorf("shutdown deadline exceeded at component %s: %w", comp.name, err))
			break
		}
		if err := c.stop(ctx, comp); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		c.logger.Warn("coordinated shutdown completed with errors", slog.Int("errors", len(errs)))
	} else {
		c.logger.Info("coordinated shutdown complete")
	}
	return errors.Join(errs...)
}

func (c *Coordinator) stop(ctx context.Context, comp component) error {
	logger := c.logger.With(slog.String("handler", comp.name))
	start := time.Now()
	err := comp.s.Shutdown(ctx)
	duration := time.Since(start)

	if err != nil {
		logger.Error("component shutdown failed",
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to shutdown %s: %w", comp.name, err)
	}
	logger.Info("component shutdown complete", slog.Duration("duration", duration))
	return nil
}

// ComponentCount returns the number of registered components.
func (c *Coordinator) ComponentCount() int {
	return len(c.components)
}
