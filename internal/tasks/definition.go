// Package tasks compiles serializable task definitions into scheduler tasks.
//
// A registration arriving over NATS or WebSocket cannot carry a Go function,
// so it names one of a small set of task types and their parameters instead:
//
//	{"type": "log", "message": "backup window open"}
//	{"type": "exec", "command": "systemctl restart nightly", "timeout_sec": 60}
//	{"type": "webhook", "url": "https://hooks.example.com/x", "body": {"k": "v"}}
//	{"type": "publish", "subject": "jobs.nightly", "data": {"go": true}}
package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Task types.
const (
	TypeLog     = "log"
	TypeExec    = "exec"
	TypeWebhook = "webhook"
	TypePublish = "publish"
)

// Errors returned when validating a Definition.
var (
	ErrUnknownType    = errors.New("unknown task type")
	ErrInvalidTask    = errors.New("invalid task definition")
	ErrNoPublisher    = errors.New("publish tasks require a message bus connection")
	ErrCommandFailed  = errors.New("command exited with non-zero status")
	ErrCommandTimeout = errors.New("command timed out")
	ErrWebhookStatus  = errors.New("webhook returned non-success status")
)

// Definition is the wire form of a task.
type Definition struct {
	Type string `json:"type"`

	// log
	Message string `json:"message,omitempty"`
	Level   string `json:"level,omitempty"`

	// exec: either Command (run by the shell) or Script fed to Interpreter.
	Command     string `json:"command,omitempty"`
	Script      string `json:"script,omitempty"`
	Interpreter string `json:"interpreter,omitempty"`
	TimeoutSec  int    `json:"timeout_sec,omitempty"`

	// webhook
	URL     string            `json:"url,omitempty"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`

	// publish
	Subject string          `json:"subject,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Validate checks that the fields required by the definition's type are set.
func (d Definition) Validate() error {
	switch d.Type {
	case TypeLog:
		if d.Message == "" {
			return fmt.Errorf("%w: log task needs a message", ErrInvalidTask)
		}
		switch strings.ToLower(d.Level) {
		case "", "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("%w: unknown log level %q", ErrInvalidTask, d.Level)
		}
	case TypeExec:
		if (d.Command == "") == (d.Script == "") {
			return fmt.Errorf("%w: exec task needs exactly one of command or script", ErrInvalidTask)
		}
		if d.Script != "" && !isValidInterpreter(d.Interpreter) {
			return fmt.Errorf("%w: invalid interpreter %q", ErrInvalidTask, d.Interpreter)
		}
		if d.TimeoutSec < 0 {
			return fmt.Errorf("%w: negative timeout", ErrInvalidTask)
		}
	case TypeWebhook:
		u, err := url.Parse(d.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: webhook needs an http(s) url", ErrInvalidTask)
		}
	case TypePublish:
		if strings.TrimSpace(d.Subject) == "" || strings.ContainsAny(d.Subject, " *>") {
			return fmt.Errorf("%w: publish needs a literal subject", ErrInvalidTask)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, d.Type)
	}
	return nil
}

// Summary is a short human-readable description used in listings.
func (d Definition) Summary() string {
	switch d.Type {
	case TypeLog:
		return "log: " + d.Message
	case TypeExec:
		if d.Command != "" {
			return "exec: " + d.Command
		}
		return "exec: " + d.Interpreter + " script"
	case TypeWebhook:
		return "webhook: " + d.URL
	case TypePublish:
		return "publish: " + d.Subject
	}
	return d.Type
}
