package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/user"
	"runtime"
	"strings"
	"time"

	"gptterm/internal/shell"
)

// CommandRunner runs one command line on the peer's host.
type CommandRunner interface {
	Run(ctx context.Context, command string) (shell.Result, error)
}

// diagnosticCommands are run in order by arch_diagnostics.
var diagnosticCommands = []string{"uname -a", "lsblk -f", "df -h", "free -h"}

// Peer is the child side of the bridge. It reads request lines and answers
// each with exactly one response line.
type Peer struct {
	Runner       CommandRunner
	Logger       *log.Logger
	MaxLineBytes int
}

// NewPeer returns a peer that runs commands through a local shell.
func NewPeer(timeout time.Duration, logger *log.Logger) *Peer {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Peer{
		Runner:       shell.NewRunner(timeout),
		Logger:       logger,
		MaxLineBytes: DefaultMaxLineBytes,
	}
}

// Serve answers requests from r on w until terminate, EXIT, an empty line,
// end of input or ctx cancellation. A malformed request gets a failed
// response and the loop continues.
func (p *Peer) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	logger := p.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	limit := p.MaxLineBytes
	if limit <= 0 {
		limit = DefaultMaxLineBytes
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), limit)
	out := bufio.NewWriter(w)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line == "EXIT" {
			logger.Printf("peer: end of session")
			return nil
		}

		req, err := DecodeRequest(line)
		var resp Response
		if err != nil {
			logger.Printf("peer: %v", err)
			resp = Failed(err.Error())
		} else {
			if req.Action == ActionTerminate {
				logger.Printf("peer: terminate received")
				return nil
			}
			resp = p.Handle(ctx, req)
		}

		if _, err := out.WriteString(EncodeResponse(resp) + "\n"); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
		if err := out.Flush(); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read request: %w", err)
	}
	return nil
}

// Handle dispatches one request and never fails; problems are reported in
// the response.
func (p *Peer) Handle(ctx context.Context, req Request) Response {
	data := ""
	if req.Data != nil {
		data = *req.Data
	}

	switch req.Action {
	case ActionExecuteCommand:
		if strings.TrimSpace(data) == "" {
			return Failed("execute_command requires a command")
		}
		return p.execute(ctx, data)
	case ActionAnalyzeText:
		a := shell.Analyze(data)
		return encodeJSON(struct {
			IsCommand   bool
			Text        string
			CommandType string
		}{a.IsCommand, a.Text, a.CommandType})
	case ActionGetSystemInfo:
		return encodeJSON(systemInfo())
	case ActionArchDiagnostics:
		return p.diagnostics(ctx)
	default:
		return Failed("unknown command: " + req.Action)
	}
}

// execute reports success whenever the command ran. A non-zero exit status
// travels in the [exit_code] trailer of the result.
func (p *Peer) execute(ctx context.Context, command string) Response {
	if p.Runner == nil {
		return Failed("no command runner configured")
	}
	res, err := p.Runner.Run(ctx, command)
	if err != nil {
		return Failed(err.Error())
	}
	return Succeeded(res.Format())
}

func (p *Peer) diagnostics(ctx context.Context) Response {
	if p.Runner == nil {
		return Failed("no command runner configured")
	}
	var b strings.Builder
	for _, command := range diagnosticCommands {
		fmt.Fprintf(&b, "=== %s ===\n", command)
		res, err := p.Runner.Run(ctx, command)
		if err != nil {
			fmt.Fprintf(&b, "error: %v\n\n", err)
			continue
		}
		b.WriteString(res.Format())
		b.WriteString("\n\n")
	}
	return Succeeded(strings.TrimSpace(b.String()))
}

type hostInfo struct {
	OS               string
	Machine          string
	User             string
	WorkingDirectory string
	ProcessorCount   int
}

func systemInfo() hostInfo {
	info := hostInfo{
		OS:             runtime.GOOS + "/" + runtime.GOARCH,
		ProcessorCount: runtime.NumCPU(),
	}
	if name, err := os.Hostname(); err == nil {
		info.Machine = name
	}
	if u, err := user.Current(); err == nil {
		info.User = u.Username
	}
	if wd, err := os.Getwd(); err == nil {
		info.WorkingDirectory = wd
	}
	return info
}

func encodeJSON(v any) Response {
	raw, err := json.Marshal(v)
	if err != nil {
		return Failed(err.Error())
	}
	return Succeeded(string(raw))
}
