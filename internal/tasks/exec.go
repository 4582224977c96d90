// exec.go runs shell commands and scripts with a timeout, killing the whole
// process group when the timeout expires so no children outlive the task.
package tasks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// DefaultExecTimeout applies when neither the definition nor the Runner sets
// a timeout.
const DefaultExecTimeout = 5 * time.Minute

// Result holds the output of a command execution.
type Result struct {
	// ExitCode is the process exit code. -1 indicates timeout or signal death.
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`

	Duration  time.Duration `json:"-"`
	TimedOut  bool          `json:"timed_out"`
	StartedAt time.Time     `json:"started_at"`
}

// Err converts a finished result into the error reported for the task.
func (r *Result) Err() error {
	switch {
	case r.TimedOut:
		return fmt.Errorf("%w after %s", ErrCommandTimeout, r.Duration.Round(time.Millisecond))
	case r.ExitCode != 0:
		return fmt.Errorf("%w: exit %d: %s", ErrCommandFailed, r.ExitCode, tail(r.Stderr, 200))
	}
	return nil
}

// Runner executes commands on the local host.
type Runner struct {
	// Shell runs Command strings. Default: /bin/sh
	Shell string
	// Timeout is used when a definition does not set one.
	Timeout      time.Duration
	interpreters *InterpreterCache
}

// NewRunner creates a Runner with the given default timeout.
func NewRunner(timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}
	return &Runner{
		Shell:        "/bin/sh",
		Timeout:      timeout,
		interpreters: NewInterpreterCache(),
	}
}

// Execute runs command with the runner's shell.
func (r *Runner) Execute(ctx context.Context, command string, timeout time.Duration) (*Result, error) {
	return r.run(ctx, timeout, nil, r.Shell, "-c", command)
}

// ExecuteScript feeds content to interpreter on stdin. The interpreter must be
// on the allowlist and present in $PATH.
func (r *Runner) ExecuteScript(ctx context.Context, content, interpreter string, timeout time.Duration) (*Result, error) {
	path, err := r.interpreters.VerifyInterpreter(interpreter)
	if err != nil {
		return nil, err
	}
	return r.run(ctx, timeout, strings.NewReader(content), path)
}

func (r *Runner) run(ctx context.Context, timeout time.Duration, stdin *strings.Reader, name string, args ...string) (*Result, error) {
	if timeout <= 0 {
		timeout = r.Timeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, name, args...)

	// New process group so the kill reaches every child.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if stdin != nil {
		cmd.Stdin = stdin
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	result := &Result{StartedAt: time.Now()}

	err := cmd.Run()
	result.Duration = time.Since(result.StartedAt)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	if err != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			result.ExitCode = -1
			result.TimedOut = true
			return result, nil
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}

		return nil, fmt.Errorf("execution failed: %w", err)
	}

	return result, nil
}

// tail returns at most the last n bytes of s, trimmed.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
