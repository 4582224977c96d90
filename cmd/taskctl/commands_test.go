package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/doughall/taskd/internal/commands"
	"github.com/doughall/taskd/internal/tasks"
	"github.com/doughall/taskd/internal/websocket"
)

// recordingDispatcher stores every envelope and answers with a canned reply.
type recordingDispatcher struct {
	mu    sync.Mutex
	envs  []commands.Envelope
	reply commands.Response
}

func (d *recordingDispatcher) DispatchJSON(_ context.Context, data []byte) []byte {
	var env commands.Envelope
	json.Unmarshal(data, &env)
	d.mu.Lock()
	d.envs = append(d.envs, env)
	d.mu.Unlock()
	resp := d.reply
	resp.RequestID = env.RequestID
	out, _ := json.Marshal(resp)
	return out
}

func (d *recordingDispatcher) last(t *testing.T) commands.Envelope {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.envs) == 0 {
		t.Fatal("no command received")
	}
	return d.envs[len(d.envs)-1]
}

func runCtl(t *testing.T, d *recordingDispatcher, args ...string) (string, error) {
	t.Helper()
	srv := websocket.NewServer(websocket.Options{
		Dispatcher: d,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	var out bytes.Buffer
	root := rootCmd(&out)
	root.SetArgs(append([]string{"--url", ts.URL}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRegister_SendsPayload(t *testing.T) {
	d := &recordingDispatcher{reply: commands.Response{OK: true}}

	if _, err := runCtl(t, d, "register", "--for", "22.10.2030", "--name", "reminder", "--log", "hello"); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	env := d.last(t)
	if env.Cmd != commands.CmdRegister {
		t.Errorf("cmd = %q", env.Cmd)
	}
	if env.RequestID == "" {
		t.Error("mutating command sent without a request id")
	}

	var p commands.RegisterPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.For != "22.10.2030" || p.Every != nil || p.Name != "reminder" {
		t.Errorf("payload = %+v", p)
	}
	if p.Task.Type != tasks.TypeLog || p.Task.Message != "hello" {
		t.Errorf("task = %+v", p.Task)
	}
}

func TestRegister_Cron(t *testing.T) {
	d := &recordingDispatcher{reply: commands.Response{OK: true}}

	if _, err := runCtl(t, d, "register", "--cron", "*/5 * * * *", "--exec", "true"); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	var p commands.RegisterPayload
	json.Unmarshal(d.last(t).Payload, &p)
	every, _ := p.Every.(map[string]any)
	if every["cron"] != "*/5 * * * *" {
		t.Errorf("every = %v", p.Every)
	}
	if p.Task.Type != tasks.TypeExec || p.Task.Command != "true" {
		t.Errorf("task = %+v", p.Task)
	}
}

func TestRegister_FlagErrors(t *testing.T) {
	d := &recordingDispatcher{reply: commands.Response{OK: true}}

	if _, err := runCtl(t, d, "register", "--for", "22.10.2030"); err == nil {
		t.Error("expected error without a task")
	}
	if _, err := runCtl(t, d, "register", "--every", "{}", "--cron", "@hourly", "--log", "x"); err == nil {
		t.Error("expected error for --every with --cron")
	}
	if len(d.envs) != 0 {
		t.Errorf("sent %d commands for invalid flags", len(d.envs))
	}
}

func TestRemove_MultipleIDs(t *testing.T) {
	d := &recordingDispatcher{reply: commands.Response{OK: true}}

	if _, err := runCtl(t, d, "--request-id", "retry-1", "remove", "task-1", "task-2"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	env := d.last(t)
	if env.RequestID != "retry-1" {
		t.Errorf("request id = %q, want retry-1", env.RequestID)
	}
	var p commands.RemovePayload
	json.Unmarshal(env.Payload, &p)
	if len(p.IDs) != 2 || p.IDs[0] != "task-1" || p.IDs[1] != "task-2" {
		t.Errorf("ids = %v", p.IDs)
	}
}

func TestList_NoRequestID(t *testing.T) {
	d := &recordingDispatcher{reply: commands.Response{OK: true, Result: commands.ListResult{IDs: []string{"task-1"}}}}

	out, err := runCtl(t, d, "list")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if env := d.last(t); env.RequestID != "" || env.Payload != nil {
		t.Errorf("list envelope = %+v", env)
	}

	var resp commands.Response
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("output is not a response: %v\n%s", err, out)
	}
	if !resp.OK {
		t.Errorf("printed response = %+v", resp)
	}
}

func TestFailedResponse(t *testing.T) {
	d := &recordingDispatcher{reply: commands.Response{Error: &commands.ErrorBody{Code: commands.CodeNotFound, Message: "not found"}}}

	out, err := runCtl(t, d, "retrieve", "task-9")
	if !errors.Is(err, errCommandFailed) {
		t.Fatalf("err = %v, want errCommandFailed", err)
	}
	if !bytes.Contains([]byte(out), []byte(commands.CodeNotFound)) {
		t.Errorf("output missing error code:\n%s", out)
	}
}

func TestParseFor(t *testing.T) {
	if got := parseFor("1893456000000"); got != float64(1893456000000) {
		t.Errorf("parseFor(ms) = %#v", got)
	}
	if got, ok := parseFor(`{"year":2030}`).(map[string]any); !ok || got["year"] != float64(2030) {
		t.Errorf("parseFor(object) = %#v", got)
	}
	if got := parseFor("22.10.2030"); got != "22.10.2030" {
		t.Errorf("parseFor(date) = %#v", got)
	}
	if got := parseFor(`"quoted"`); got != `"quoted"` {
		t.Errorf("parseFor(json string) = %#v", got)
	}
	for _, short := range []string{"2030", "22102030", "1.5e12"} {
		if got := parseFor(short); got != short {
			t.Errorf("parseFor(%q) = %#v, want the string", short, got)
		}
	}
}
