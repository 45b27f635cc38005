package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// maxDiagnostic bounds how much stderr is carried in a CommandError.
const maxDiagnostic = 500

// CommandRunner abstracts command execution for testability.
// Production implementation uses os/exec; tests provide a fake.
type CommandRunner interface {
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// RunError is a failed command with its stderr preserved.
type RunError struct {
	Name   string
	Args   []string
	Err    error
	Stderr []byte
}

func (e *RunError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Name, strings.Join(e.Args, " "), e.Err)
	if len(e.Stderr) > 0 {
		msg += ": " + strings.TrimSpace(string(e.Stderr))
	}
	return msg
}

func (e *RunError) Unwrap() error { return e.Err }

// ExecCommandRunner implements CommandRunner using os/exec.
type ExecCommandRunner struct{}

// Run executes name in dir and returns its stdout.
func (r *ExecCommandRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &RunError{Name: name, Args: args, Err: err, Stderr: exitErr.Stderr}
		}
		return nil, &RunError{Name: name, Args: args, Err: err}
	}
	return out, nil
}

// CLITransport runs operations by invoking the bd binary in the workspace.
// It is the always-correct slow path.
type CLITransport struct {
	Runner  CommandRunner
	Binary  string
	Timeout time.Duration
}

// NewCLITransport returns a transport running binary through runner.
func NewCLITransport(runner CommandRunner, binary string, timeout time.Duration) *CLITransport {
	if binary == "" {
		binary = "bd"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CLITransport{Runner: runner, Binary: binary, Timeout: timeout}
}

// Name identifies the transport in results and logs.
func (c *CLITransport) Name() string { return "cli" }

// Exec runs call and normalizes bd's stdout.
func (c *CLITransport) Exec(ctx context.Context, call Call) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	out, err := c.Runner.Run(ctx, call.Workspace, c.Binary, call.Args.cliArgs()...)
	if err != nil {
		return nil, &CommandError{
			Op:         call.Args.Op(),
			Transport:  c.Name(),
			Diagnostic: c.diagnose(ctx, err),
			Err:        err,
		}
	}
	return normalize(out), nil
}

func (c *CLITransport) diagnose(ctx context.Context, err error) string {
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Sprintf("%s CLI not found in PATH; install beads first", c.Binary)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Sprintf("timed out after %s", c.Timeout)
	}
	var re *RunError
	if errors.As(err, &re) && len(strings.TrimSpace(string(re.Stderr))) > 0 {
		return truncate(strings.TrimSpace(string(re.Stderr)), maxDiagnostic)
	}
	return truncate(err.Error(), maxDiagnostic)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
