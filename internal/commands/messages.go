package commands

import (
	"encoding/json"
	"time"

	"github.com/doughall/taskd/internal/schedule"
	"github.com/doughall/taskd/internal/scheduler"
	"github.com/doughall/taskd/internal/stats"
	"github.com/doughall/taskd/internal/sysinfo"
	"github.com/doughall/taskd/internal/tasks"
)

// Command names.
const (
	CmdRegister = "register"
	CmdRetrieve = "retrieve"
	CmdList     = "list"
	CmdRemove   = "remove"
	CmdClear    = "clear"
	CmdUpdate   = "update"
	CmdPause    = "pause"
	CmdHistory  = "history"
	CmdStatus   = "status"
)

// Envelope is a command request.
type Envelope struct {
	Cmd string `json:"cmd"`
	// RequestID, when set, makes mutating commands idempotent: a repeated id
	// gets the first response replayed.
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Response is the reply to an Envelope.
type Response struct {
	RequestID string     `json:"request_id,omitempty"`
	OK        bool       `json:"ok"`
	Result    any        `json:"result,omitempty"`
	Error     *ErrorBody `json:"error,omitempty"`
}

// ErrorBody describes a failed command.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Errors  []JobErrorBody `json:"errors,omitempty"`
}

// JobErrorBody is one per-id failure in a batch.
type JobErrorBody struct {
	ID      string `json:"id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RegisterPayload registers a task. Exactly one of For and Every is set.
type RegisterPayload struct {
	For   any              `json:"for,omitempty"`
	Every any              `json:"every,omitempty"`
	Name  string           `json:"name,omitempty"`
	Task  tasks.Definition `json:"task"`

	// Set when the decoded object carried the key, even with a null value.
	forKey, everyKey bool
}

// UnmarshalJSON decodes the payload and records which schedule keys were
// present.
func (p *RegisterPayload) UnmarshalJSON(data []byte) error {
	type plain RegisterPayload
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	*p = RegisterPayload(v)
	_, p.forKey = keys["for"]
	_, p.everyKey = keys["every"]
	return nil
}

// IDPayload names one job.
type IDPayload struct {
	ID string `json:"id"`
}

// RemovePayload names one or more jobs.
type RemovePayload struct {
	ID  string   `json:"id,omitempty"`
	IDs []string `json:"ids,omitempty"`
}

// HistoryPayload filters activation history.
type HistoryPayload struct {
	ID    string `json:"id,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// JobView is the wire form of a registered job.
type JobView struct {
	ID             string           `json:"id"`
	Name           string           `json:"name,omitempty"`
	Kind           string           `json:"kind"`
	Pattern        schedule.Pattern `json:"pattern"`
	Task           string           `json:"task,omitempty"`
	NextInvocation *time.Time       `json:"next_invocation,omitempty"`
	Upcoming       []time.Time      `json:"upcoming,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// RemoveResult lists the ids that were removed.
type RemoveResult struct {
	Removed []string `json:"removed"`
}

// ListResult lists registered job ids in registration order.
type ListResult struct {
	IDs []string `json:"ids"`
}

// HistoryResult lists activations, newest first.
type HistoryResult struct {
	Activations []*scheduler.Activation `json:"activations"`
}

// StatusResult describes the running instance.
type StatusResult struct {
	InstanceID string          `json:"instance_id"`
	Version    string          `json:"version"`
	Locale     string          `json:"locale"`
	Jobs       int             `json:"jobs"`
	History    *int            `json:"history,omitempty"`
	Host       *sysinfo.Host   `json:"host,omitempty"`
	Stats      *stats.Snapshot `json:"stats,omitempty"`
}
