package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// mutating commands are subject to request id replay.
var mutating = map[string]bool{
	CmdRegister: true,
	CmdRemove:   true,
	CmdClear:    true,
}

// Dispatch runs one command and always returns a Response.
func (s *Surface) Dispatch(ctx context.Context, env Envelope) Response {
	logger := s.logger.With(slog.String("cmd", env.Cmd))

	if env.RequestID != "" && mutating[env.Cmd] {
		if resp, ok := s.replay.Lookup(env.RequestID); ok {
			return resp
		}
	}

	result, err := s.run(ctx, env)

	resp := Response{RequestID: env.RequestID, OK: err == nil, Result: result}
	if err != nil {
		resp.Error = toErrorBody(err)
		logger.Info("command failed",
			slog.String("code", resp.Error.Code),
			slog.String("error", err.Error()),
		)
		// Partial removals still report what was removed.
		if rr, ok := result.(*RemoveResult); !ok || len(rr.Removed) == 0 {
			resp.Result = nil
		}
	} else {
		logger.Debug("command completed")
	}

	if env.RequestID != "" && mutating[env.Cmd] {
		s.replay.Store(env.RequestID, resp)
	}
	return resp
}

// DispatchJSON decodes a raw request and encodes the response. Malformed
// requests yield a bad_request response rather than an error.
func (s *Surface) DispatchJSON(ctx context.Context, data []byte) []byte {
	var env Envelope
	var resp Response
	if err := json.Unmarshal(data, &env); err != nil {
		resp = Response{Error: toErrorBody(fmt.Errorf("%w: %v", ErrBadRequest, err))}
	} else {
		resp = s.Dispatch(ctx, env)
	}
	out, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to encode response", slog.String("error", err.Error()))
		out, _ = json.Marshal(Response{Error: &ErrorBody{Code: CodeInternal, Message: "failed to encode response"}})
	}
	return out
}

func (s *Surface) run(ctx context.Context, env Envelope) (any, error) {
	switch env.Cmd {
	case CmdRegister:
		var p RegisterPayload
		if err := decode(env.Payload, &p); err != nil {
			return nil, err
		}
		return s.Register(ctx, p)

	case CmdRetrieve:
		var p IDPayload
		if err := decode(env.Payload, &p); err != nil {
			return nil, err
		}
		if p.ID == "" {
			return nil, fmt.Errorf("%w: id is required", ErrBadRequest)
		}
		return s.Retrieve(p.ID)

	case CmdList:
		return &ListResult{IDs: s.List()}, nil

	case CmdRemove:
		var p RemovePayload
		if err := decode(env.Payload, &p); err != nil {
			return nil, err
		}
		ids := p.IDs
		if p.ID != "" {
			ids = append([]string{p.ID}, ids...)
		}
		return s.Remove(ids...)

	case CmdClear:
		return s.Clear()

	case CmdUpdate:
		var p IDPayload
		if err := decode(env.Payload, &p); err != nil {
			return nil, err
		}
		return nil, s.Update(ctx, p)

	case CmdPause:
		var p IDPayload
		if err := decode(env.Payload, &p); err != nil {
			return nil, err
		}
		return nil, s.Pause(ctx, p)

	case CmdHistory:
		var p HistoryPayload
		if err := decode(env.Payload, &p); err != nil {
			return nil, err
		}
		return s.History(p)

	case CmdStatus:
		return s.Status(ctx)
	}
	return nil, fmt.Errorf("%w: unknown command %q", ErrBadRequest, env.Cmd)
}

// decode reads a payload, treating an absent payload as empty.
func decode(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}
