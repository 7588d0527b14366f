// Package shell runs commands locally and recognises command-like input.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"gptterm/internal/logging"
)

// ErrTimeout is returned when a command outlives the runner's timeout.
var ErrTimeout = errors.New("command timed out")

// Result is the outcome of one command.
type Result struct {
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

// Success reports a zero exit status.
func (r Result) Success() bool { return r.ExitCode == 0 && !r.TimedOut }

// Format renders stdout followed by stderr and the exit status, the layout
// recorded in the context log and returned over the bridge.
func (r Result) Format() string {
	var b strings.Builder
	b.WriteString(r.Stdout)
	if r.Stderr != "" {
		b.WriteString("\n[stderr]: ")
		b.WriteString(r.Stderr)
	}
	fmt.Fprintf(&b, "\n[exit_code]: %d", r.ExitCode)
	return strings.TrimSpace(b.String())
}

// Runner executes command strings through a POSIX shell.
type Runner struct {
	Shell   string
	Timeout time.Duration
	Dir     string
}

// NewRunner returns a runner using bash when present, sh otherwise.
func NewRunner(timeout time.Duration) *Runner {
	return &Runner{Shell: DefaultShell(), Timeout: timeout}
}

// DefaultShell picks the interpreter for command strings.
func DefaultShell() string {
	if _, err := os.Stat("/bin/bash"); err == nil {
		return "/bin/bash"
	}
	return "/bin/sh"
}

// Run executes command and waits for it. A non-zero exit is reported in the
// Result, not as an error; errors mean the command could not run or timed out.
func (r *Runner) Run(ctx context.Context, command string) (Result, error) {
	res := Result{Command: command}
	command = strings.TrimSpace(command)
	if command == "" {
		return res, errors.New("command must not be empty")
	}

	runCtx := ctx
	cancel := func() {}
	if r.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
	}
	defer cancel()

	sh := r.Shell
	if sh == "" {
		sh = DefaultShell()
	}
	cmd := exec.CommandContext(runCtx, sh, "-c", command)
	cmd.Dir = r.Dir
	cmd.Stdin = nil
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logging.DevLog("shell: executing %q via %s", command, sh)
	start := time.Now()
	runErr := cmd.Run()
	res.Duration = time.Since(start)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	if ps := cmd.ProcessState; ps != nil {
		res.ExitCode = ps.ExitCode()
	}
	logging.DevLog("shell: completed in %dms with exit code %d", res.Duration.Milliseconds(), res.ExitCode)

	if runErr == nil {
		return res, nil
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		res.TimedOut = true
		res.ExitCode = -1
		return res, fmt.Errorf("%w after %s", ErrTimeout, r.Timeout)
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return res, nil
	}
	return res, fmt.Errorf("run command: %w", runErr)
}
