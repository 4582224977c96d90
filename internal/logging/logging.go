// Package logging provides structured logging configuration for taskd.
//
// Logs are JSON on stdout for journald, with source locations shortened to
// the path below internal/. Subsystems tag their records with WithComponent.
//
// Usage:
//
//	logger := logging.SetupLogger("info")
//	regLog := logging.WithComponent(logger, "registry")
//	regLog.Info("task registered", slog.String("job_id", id))
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// SetupLogger creates a JSON logger on stdout at level and installs it as the
// slog default. Invalid levels default to "info".
func SetupLogger(level string) *slog.Logger {
	logger := New(os.Stdout, level)
	slog.SetDefault(logger)
	return logger
}

// New creates a JSON logger writing to w at level.
func New(w io.Writer, level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       ParseLevel(level),
		AddSource:   true,
		ReplaceAttr: shortenSource,
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// shortenSource trims source file and function names to start at internal/.
func shortenSource(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.SourceKey {
		return a
	}
	source, ok := a.Value.Any().(*slog.Source)
	if !ok {
		return a
	}
	if idx := strings.Index(source.File, "internal/"); idx != -1 {
		source.File = source.File[idx:]
	} else {
		source.File = filepath.Base(source.File)
	}
	if idx := strings.Index(source.Function, "internal/"); idx != -1 {
		source.Function = source.Function[idx:]
	}
	return a
}

// ParseLevel converts a string log level to slog.Level.
// Accepts: "debug", "info", "warn", "error" (case-insensitive).
// Returns slog.LevelInfo for unrecognized values.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent returns a logger with a pre-set component attribute.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}
