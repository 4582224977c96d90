package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/doughall/taskd/internal/commands"
	"github.com/doughall/taskd/internal/natsapi"
	"github.com/doughall/taskd/internal/tasks"
	"github.com/doughall/taskd/internal/version"
	"github.com/doughall/taskd/internal/websocket"
)

// errCommandFailed is returned when the daemon answers with ok=false. The
// response itself has already been printed.
var errCommandFailed = errors.New("command failed")

// caller sends one envelope to a daemon.
type caller interface {
	Call(ctx context.Context, env commands.Envelope) (*commands.Response, error)
	Close() error
}

type options struct {
	url       string
	natsURL   string
	nkeySeed  string
	prefix    string
	instance  string
	timeout   time.Duration
	requestID string
	verbose   bool
}

func rootCmd(out io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "taskctl",
		Short:         "Register, inspect and remove tasks on a taskd daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	f := root.PersistentFlags()
	f.StringVar(&opts.url, "url", "http://127.0.0.1:8080", "daemon HTTP address (WebSocket transport)")
	f.StringVar(&opts.natsURL, "nats", "", "NATS servers; when set, NATS is used instead of WebSocket")
	f.StringVar(&opts.nkeySeed, "nkey-seed", os.Getenv("TASKD_NATS_NKEY_SEED"), "NKey seed for NATS authentication")
	f.StringVar(&opts.prefix, "prefix", "taskd", "NATS subject prefix")
	f.StringVar(&opts.instance, "instance", "", "address one instance by id (NATS only)")
	f.DurationVar(&opts.timeout, "timeout", 10*time.Second, "command timeout")
	f.StringVar(&opts.requestID, "request-id", "", "request id for idempotent retries (generated for mutating commands)")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "log transport details to stderr")

	root.AddCommand(
		registerCmd(opts),
		idCmd(opts, commands.CmdRetrieve, "Show a registered task"),
		simpleCmd(opts, commands.CmdList, "List registered task ids"),
		removeCmd(opts),
		simpleCmd(opts, commands.CmdClear, "Remove every registered task"),
		historyCmd(opts),
		simpleCmd(opts, commands.CmdStatus, "Show daemon status"),
		idCmd(opts, commands.CmdUpdate, "Update a task (not supported by the daemon yet)"),
		idCmd(opts, commands.CmdPause, "Pause a task (not supported by the daemon yet)"),
		versionCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Info("taskctl"))
		},
	}
}

func registerCmd(opts *options) *cobra.Command {
	var (
		forArg, everyArg, cronArg, name string
		taskArg, logArg, execArg        string
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a task",
		Long: `Register a task to run once (--for) or on a recurring pattern (--every or --cron).

--for accepts a date string read with the daemon's locale and endianness,
an RFC 3339 timestamp, unix milliseconds, or a JSON field object.
--every accepts a JSON object such as '{"minute":0}' or '{"2nd":"hour"}'.`,
		Example: `  taskctl register --for 22.10.2030 --log "reminder"
  taskctl register --cron "*/5 * * * *" --exec "backup.sh"
  taskctl register --every '{"hour":3,"minute":0}' --task '{"type":"webhook","url":"https://example.com/hook"}'`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := commands.RegisterPayload{Name: name}
			if forArg != "" {
				p.For = parseFor(forArg)
			}
			switch {
			case cronArg != "" && everyArg != "":
				return errors.New("use either --every or --cron")
			case cronArg != "":
				p.Every = map[string]any{"cron": cronArg}
			case everyArg != "":
				var every map[string]any
				if err := json.Unmarshal([]byte(everyArg), &every); err != nil {
					return fmt.Errorf("--every: %w", err)
				}
				p.Every = every
			}

			def, err := taskDefinition(taskArg, logArg, execArg)
			if err != nil {
				return err
			}
			p.Task = def
			return send(cmd, opts, commands.CmdRegister, p)
		},
	}

	f := cmd.Flags()
	f.StringVar(&forArg, "for", "", "run once at this point in time (date, unix ms or JSON fields)")
	f.StringVar(&everyArg, "every", "", "recurring field pattern as JSON")
	f.StringVar(&cronArg, "cron", "", "recurring cron expression")
	f.StringVar(&name, "name", "", "optional task name")
	f.StringVar(&taskArg, "task", "", "task definition as JSON")
	f.StringVar(&logArg, "log", "", "shorthand for a log task with this message")
	f.StringVar(&execArg, "exec", "", "shorthand for an exec task running this command")
	return cmd
}

func removeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "remove ID [ID...]",
		Short: "Remove one or more tasks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(cmd, opts, commands.CmdRemove, commands.RemovePayload{IDs: args})
		},
	}
}

func historyCmd(opts *options) *cobra.Command {
	var p commands.HistoryPayload
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent activations, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return send(cmd, opts, commands.CmdHistory, p)
		},
	}
	cmd.Flags().StringVar(&p.ID, "id", "", "only activations of this task")
	cmd.Flags().IntVar(&p.Limit, "limit", 20, "maximum number of activations")
	return cmd
}

func idCmd(opts *options, name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(cmd, opts, name, commands.IDPayload{ID: args[0]})
		},
	}
}

func simpleCmd(opts *options, name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return send(cmd, opts, name, nil)
		},
	}
}

// minMillisDigits is the shortest run of digits read as unix milliseconds.
// Shorter numbers such as "2030" are sent as date strings.
const minMillisDigits = 11

// parseFor reads unix milliseconds and JSON objects, and treats anything
// else as a date string.
func parseFor(s string) any {
	s = strings.TrimSpace(s)
	if len(s) >= minMillisDigits && strings.Trim(s, "0123456789") == "" {
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return float64(ms)
		}
	}
	var v map[string]any
	if err := json.Unmarshal([]byte(s), &v); err == nil && v != nil {
		return v
	}
	return s
}

func taskDefinition(taskJSON, logMsg, command string) (tasks.Definition, error) {
	set := 0
	for _, s := range []string{taskJSON, logMsg, command} {
		if s != "" {
			set++
		}
	}
	if set != 1 {
		return tasks.Definition{}, errors.New("exactly one of --task, --log or --exec is required")
	}

	switch {
	case logMsg != "":
		return tasks.Definition{Type: tasks.TypeLog, Message: logMsg}, nil
	case command != "":
		return tasks.Definition{Type: tasks.TypeExec, Command: command}, nil
	}
	var def tasks.Definition
	if err := json.Unmarshal([]byte(taskJSON), &def); err != nil {
		return def, fmt.Errorf("--task: %w", err)
	}
	return def, nil
}

// send builds the envelope, calls the daemon and prints the response.
func send(cmd *cobra.Command, opts *options, name string, payload any) error {
	env := commands.Envelope{Cmd: name, RequestID: opts.requestID}
	if env.RequestID == "" && isMutating(name) {
		env.RequestID = uuid.NewString()
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		env.Payload = raw
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	c, err := dial(ctx, opts)
	if err != nil {
		return err
	}
	defer c.Close()

	resp, err := c.Call(ctx, env)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return err
	}
	if !resp.OK {
		return errCommandFailed
	}
	return nil
}

func isMutating(name string) bool {
	switch name {
	case commands.CmdRegister, commands.CmdRemove, commands.CmdClear:
		return true
	}
	return false
}

func dial(ctx context.Context, opts *options) (caller, error) {
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if opts.natsURL == "" {
		c, err := websocket.Dial(ctx, opts.url, 3, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	client := natsapi.NewClient(natsapi.Config{
		Servers:    opts.natsURL,
		NKeySeed:   opts.nkeySeed,
		Prefix:     opts.prefix,
		InstanceID: "taskctl-" + uuid.NewString()[:8],
	}, logger)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return &natsCaller{client: client, instance: opts.instance}, nil
}

type natsCaller struct {
	client   *natsapi.Client
	instance string
}

func (c *natsCaller) Call(ctx context.Context, env commands.Envelope) (*commands.Response, error) {
	return c.client.Call(ctx, c.instance, env)
}

func (c *natsCaller) Close() error {
	return c.client.Close()
}
