// Package bridge talks to a long-lived helper process over its standard
// input and output, one request line and one response line at a time.
package bridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// State is the lifecycle position of a Client.
type State int

const (
	StateUninitialized State = iota
	StateRunning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Defaults for Options left at zero.
const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultShutdownGrace  = 500 * time.Millisecond
	DefaultMaxLineBytes   = 1 << 20
)

// Options configures the child process and the session limits.
type Options struct {
	Command string
	Args    []string
	// Env replaces the child environment when non-nil.
	Env []string
	Dir string
	// RequestTimeout bounds each Send on top of the caller's context.
	// Negative disables the extra bound.
	RequestTimeout time.Duration
	// ShutdownGrace is how long Close waits at each shutdown step.
	ShutdownGrace time.Duration
	// MaxLineBytes caps the size of one response line.
	MaxLineBytes int
	Logger       *log.Logger
}

func (o *Options) applyDefaults() {
	if o.RequestTimeout == 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = DefaultShutdownGrace
	}
	if o.MaxLineBytes <= 0 {
		o.MaxLineBytes = DefaultMaxLineBytes
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard, "", 0)
	}
}

type lineResult struct {
	line string
	err  error
}

// Client owns exactly one child process and its two pipes. It is
// half-duplex: Send writes one line and blocks for one line. Send and Close
// are serialised, so a Client may be shared between goroutines.
type Client struct {
	mu     sync.Mutex
	opts   Options
	logger *log.Logger
	state  State

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
	writer *bufio.Writer

	lines  chan lineResult
	done   chan struct{}
	exited chan struct{}
}

// NewClient prepares a client. No process is started until Connect.
func NewClient(opts Options) *Client {
	opts.applyDefaults()
	return &Client{opts: opts, logger: opts.Logger}
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect spawns the child and wires its pipes. On any failure every handle
// opened so far is closed and ErrBridgeUnavailable is returned. Connecting a
// running client is a no-op; a terminated client cannot be reconnected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateRunning:
		return nil
	case StateTerminated:
		return ErrBridgeClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrBridgeUnavailable, err)
	}
	if c.opts.Command == "" {
		return fmt.Errorf("%w: no command configured", ErrBridgeUnavailable)
	}

	cmd := exec.Command(c.opts.Command, c.opts.Args...)
	cmd.Dir = c.opts.Dir
	if c.opts.Env != nil {
		cmd.Env = c.opts.Env
	}

	var opened []io.Closer
	fail := func(step string, err error) error {
		for _, h := range opened {
			_ = h.Close()
		}
		c.logger.Printf("bridge: %s failed: %v", step, err)
		return fmt.Errorf("%w: %s: %v", ErrBridgeUnavailable, step, err)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fail("stdin pipe", err)
	}
	opened = append(opened, stdin)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fail("stdout pipe", err)
	}
	opened = append(opened, stdout)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fail("stderr pipe", err)
	}
	opened = append(opened, stderr)

	if err := cmd.Start(); err != nil {
		return fail("start", err)
	}

	c.cmd = cmd
	c.stdin = stdin
	c.stdout = stdout
	c.stderr = stderr
	c.writer = bufio.NewWriter(stdin)
	c.lines = make(chan lineResult)
	c.done = make(chan struct{})
	c.exited = make(chan struct{})
	c.state = StateRunning

	var g errgroup.Group
	g.Go(c.readStdout)
	g.Go(c.readStderr)
	go func() {
		_ = g.Wait()
		// Wait must only run after the pipe readers are finished.
		if err := cmd.Wait(); err != nil {
			c.logger.Printf("bridge: child exited: %v", err)
		}
		close(c.exited)
	}()

	c.logger.Printf("bridge: started %s (pid %d)", c.opts.Command, cmd.Process.Pid)
	return nil
}

func (c *Client) readStdout() error {
	defer close(c.lines)

	scanner := bufio.NewScanner(c.stdout)
	initial := 64 * 1024
	if initial > c.opts.MaxLineBytes {
		initial = c.opts.MaxLineBytes
	}
	scanner.Buffer(make([]byte, 0, initial), c.opts.MaxLineBytes)

	for scanner.Scan() {
		select {
		case c.lines <- lineResult{line: scanner.Text()}:
		case <-c.done:
			return nil
		}
	}
	err := scanner.Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, bufio.ErrTooLong) {
		err = fmt.Errorf("%w: response line exceeds %d bytes", ErrBridgeProtocol, c.opts.MaxLineBytes)
	} else {
		err = fmt.Errorf("%w: read: %v", ErrBridgeClosed, err)
	}
	select {
	case c.lines <- lineResult{err: err}:
	case <-c.done:
	}
	return nil
}

func (c *Client) readStderr() error {
	scanner := bufio.NewScanner(c.stderr)
	for scanner.Scan() {
		c.logger.Printf("bridge stderr: %s", scanner.Text())
	}
	// keep draining after an oversized line so the child never blocks on stderr
	_, _ = io.Copy(io.Discard, c.stderr)
	return nil
}

// Send writes req and waits for one response line. The wait is bounded by
// ctx and the configured request timeout. Every failure returns a failed
// Response alongside the error.
func (c *Client) Send(ctx context.Context, req Request) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRunning {
		return failure(fmt.Errorf("%w: client is %s", ErrBridgeClosed, c.state))
	}
	line, err := EncodeRequest(req)
	if err != nil {
		return failure(err)
	}

	_, err = c.writer.WriteString(line + "\n")
	if err == nil {
		err = c.writer.Flush()
	}
	if err != nil {
		c.shutdownLocked(false)
		return failure(fmt.Errorf("%w: write: %v", ErrBridgeClosed, err))
	}

	waitCtx := ctx
	if c.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
	}

	select {
	case res, ok := <-c.lines:
		if !ok {
			c.shutdownLocked(false)
			return failure(fmt.Errorf("%w: child closed its output", ErrBridgeClosed))
		}
		if res.err != nil {
			// the stream position is unknown after a read failure
			c.shutdownLocked(false)
			return failure(res.err)
		}
		resp, err := DecodeResponse(res.line)
		if err != nil {
			return failure(err)
		}
		return resp, nil
	case <-waitCtx.Done():
		// a late reply would be read as the answer to the next request
		c.shutdownLocked(false)
		return failure(fmt.Errorf("%w: %w", ErrBridgeClosed, waitCtx.Err()))
	}
}

func failure(err error) (Response, error) {
	return Failed(err.Error()), err
}

// Close ends the session: it sends the terminate sentinel, closes the pipes,
// then escalates from waiting to SIGTERM to kill. Close is idempotent and a
// no-op on a client that never connected or is already terminated.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRunning {
		return nil
	}
	c.shutdownLocked(true)
	return nil
}

func (c *Client) shutdownLocked(graceful bool) {
	c.state = StateTerminated
	close(c.done)

	if graceful {
		if line, err := EncodeRequest(NewRequest(ActionTerminate)); err == nil {
			if _, err := c.writer.WriteString(line + "\n"); err == nil {
				_ = c.writer.Flush()
			}
		}
	}
	_ = c.stdin.Close()

	grace := c.opts.ShutdownGrace
	if graceful && c.waitExit(grace) {
		c.releaseLocked()
		return
	}

	if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		_ = c.cmd.Process.Kill()
	}
	if !c.waitExit(grace) {
		c.logger.Printf("bridge: child ignored SIGTERM, killing")
		_ = c.cmd.Process.Kill()
	}
	// unblocks the readers if a grandchild still holds the pipes open
	_ = c.stdout.Close()
	_ = c.stderr.Close()
	if !c.waitExit(10 * grace) {
		c.logger.Printf("bridge: child did not exit after kill")
	}
	c.releaseLocked()
}

func (c *Client) waitExit(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-c.exited:
		return true
	case <-timer.C:
		return false
	}
}

func (c *Client) releaseLocked() {
	c.logger.Printf("bridge: session closed")
	c.writer = nil
}
