package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/charmbracelet/glamour"
	"golang.org/x/term"

	"gptterm/internal/bridge"
	"gptterm/internal/classify"
	"gptterm/internal/compact"
	"gptterm/internal/config"
	"gptterm/internal/journal"
	"gptterm/internal/llm"
	"gptterm/internal/logging"
	"gptterm/internal/prompts"
	"gptterm/internal/shell"
	"gptterm/internal/store"
)

type interruptTracker struct {
	mu     sync.Mutex
	last   time.Time
	window time.Duration
}

func newInterruptTracker(window time.Duration) *interruptTracker {
	return &interruptTracker{window: window}
}

func (t *interruptTracker) secondPress() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if !t.last.IsZero() && now.Sub(t.last) < t.window {
		t.last = time.Time{}
		return true
	}
	t.last = now
	return false
}

type promptExit struct{}

// Executor runs commands on behalf of the terminal. *bridge.Client
// satisfies it.
type Executor interface {
	ExecuteCommand(ctx context.Context, command string) (string, error)
	Diagnostics(ctx context.Context) (string, error)
}

// Options carries the optional collaborators of an Agent.
type Options struct {
	Mode    prompts.Mode
	Version string
	// Bridge executes commands in install mode. Nil falls back to Runner,
	// which defaults to a local shell.
	Bridge     Executor
	Runner     bridge.CommandRunner
	Journal    *journal.Journal
	Classifier *classify.Classifier
	// In and Out replace stdin and stdout; tests use them.
	In  io.Reader
	Out io.Writer
}

// Agent is one terminal session bound to a context file.
type Agent struct {
	client       llm.Client
	cfg          config.Config
	mode         prompts.Mode
	version      string
	systemPrompt string

	store      *store.Store
	compactor  *compact.Compactor
	classifier *classify.Classifier
	journal    *journal.Journal
	bridge     Executor
	runner     bridge.CommandRunner

	logger *log.Logger
	in     *bufio.Reader
	out    io.Writer
	isTTY  bool
	render *glamour.TermRenderer

	requestCancelMu sync.Mutex
	requestCancel   context.CancelFunc
	tokenMu         sync.RWMutex
	totalTokens     int
}

// New wires an agent. st must already be loaded.
func New(client llm.Client, cfg config.Config, st *store.Store, comp *compact.Compactor, logger *log.Logger, opts Options) *Agent {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	mode := opts.Mode
	if mode == "" {
		mode = prompts.ModeArch
	}
	classifier := opts.Classifier
	if classifier == nil {
		classifier = classify.New(nil)
	}
	runner := opts.Runner
	if runner == nil {
		runner = shell.NewRunner(cfg.ShellTimeout())
	}

	a := &Agent{
		client:       client,
		cfg:          cfg,
		mode:         mode,
		version:      opts.Version,
		systemPrompt: prompts.Combine(mode, ""),
		store:        st,
		compactor:    comp,
		classifier:   classifier,
		journal:      opts.Journal,
		bridge:       opts.Bridge,
		runner:       runner,
		logger:       logger,
		out:          opts.Out,
	}

	if opts.In == nil {
		a.in = bufio.NewReader(os.Stdin)
		a.isTTY = term.IsTerminal(int(os.Stdin.Fd()))
	} else {
		a.in = bufio.NewReader(opts.In)
	}
	if a.out == nil {
		a.out = os.Stdout
		if term.IsTerminal(int(os.Stdout.Fd())) {
			if r, err := glamour.NewTermRenderer(
				glamour.WithAutoStyle(),
				glamour.WithWordWrap(0),
			); err == nil {
				a.render = r
			}
		}
	}
	return a
}

// Run starts the REPL and blocks until the session finishes.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.printBanner()

	tracker := newInterruptTracker(2 * time.Second)
	if a.isTTY {
		return a.runPrompt(ctx, cancel, tracker)
	}
	go a.handleInterrupts(ctx, cancel, tracker)
	return a.runNonInteractive(ctx, cancel)
}

// RunOneShot answers a single prompt and returns.
func (a *Agent) RunOneShot(ctx context.Context, input string) error {
	if strings.TrimSpace(input) == "" {
		return errors.New("prompt must not be empty")
	}
	if _, err := a.ask(ctx, input); err != nil {
		return fmt.Errorf("respond: %w", err)
	}
	return nil
}

func (a *Agent) runPrompt(ctx context.Context, cancel context.CancelFunc, tracker *interruptTracker) (err error) {
	history := loadInputHistory(a.cfg.HistoryPath())

	var restore func()
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		if state, terr := term.GetState(fd); terr == nil {
			restore = func() { _ = term.Restore(fd, state) }
		}
	}
	if restore != nil {
		defer restore()
	}

	var exitRequested atomic.Bool
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(promptExit); ok {
				err = nil
				return
			}
			panic(r)
		}
	}()

	executor := func(in string) {
		if exitRequested.Load() || ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(in)
		if line == "" {
			return
		}
		history.Add(line)
		if exit := a.handleLine(ctx, line); exit {
			exitRequested.Store(true)
			cancel()
			panic(promptExit{})
		}
	}

	p := prompt.New(
		executor,
		a.commandCompleter(),
		prompt.OptionHistory(history.Entries()),
		prompt.OptionTitle("gptterm: "+a.mode.Title()),
		prompt.OptionLivePrefix(func() (string, bool) {
			return a.promptPrefix(), true
		}),
		prompt.OptionAddKeyBind(
			prompt.KeyBind{
				Key: prompt.ControlC,
				Fn: func(buf *prompt.Buffer) {
					if a.cancelInFlightRequest() {
						fmt.Fprintln(a.out, "\n(Current request cancelled.)")
						return
					}
					if tracker.secondPress() {
						fmt.Fprintln(a.out, "\nReceived second Ctrl+C, exiting.")
						exitRequested.Store(true)
						cancel()
						panic(promptExit{})
					}
					fmt.Fprintln(a.out, "\n(Press Ctrl+C again within 2s to exit)")
				},
			},
			prompt.KeyBind{
				Key: prompt.ControlD,
				Fn: func(buf *prompt.Buffer) {
					if buf.Text() == "" {
						exitRequested.Store(true)
						cancel()
						panic(promptExit{})
					}
				},
			},
			prompt.KeyBind{
				Key: prompt.Escape,
				Fn: func(buf *prompt.Buffer) {
					if a.cancelInFlightRequest() {
						fmt.Fprintln(a.out, "\n(Request cancelled.)")
					}
				},
			},
		),
		prompt.OptionSetExitCheckerOnInput(func(string, bool) bool {
			if exitRequested.Load() {
				return true
			}
			select {
			case <-ctx.Done():
				return true
			default:
				return false
			}
		}),
	)

	p.Run()
	return nil
}

func (a *Agent) commandCompleter() func(prompt.Document) []prompt.Suggest {
	return func(doc prompt.Document) []prompt.Suggest {
		word := doc.GetWordBeforeCursor()
		prefix := strings.TrimLeft(doc.TextBeforeCursor(), " \t")
		if !strings.HasPrefix(prefix, "/") {
			return nil
		}
		return prompt.FilterHasPrefix(commandSuggestions, word, true)
	}
}

func (a *Agent) promptPrefix() string {
	if a.mode == prompts.ModeInstall {
		if st, err := a.phaseState(); err == nil && st.Current != classify.PhaseGeneral {
			return fmt.Sprintf("[%s:%s] > ", a.mode, st.Current.Name())
		}
	}
	return fmt.Sprintf("[%s] > ", a.mode)
}

func (a *Agent) runNonInteractive(ctx context.Context, cancel context.CancelFunc) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		fmt.Fprint(a.out, a.promptPrefix())
		line, err := a.in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				fmt.Fprintln(a.out)
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
		if exit := a.handleLine(ctx, trimLineEnding(line)); exit {
			cancel()
			return nil
		}
	}
}

func (a *Agent) handleInterrupts(ctx context.Context, cancel context.CancelFunc, tracker *interruptTracker) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			if a.cancelInFlightRequest() {
				fmt.Fprintln(a.out, "\n(Current request cancelled.)")
				continue
			}
			if tracker.secondPress() {
				fmt.Fprintln(a.out, "\nReceived second Ctrl+C, exiting.")
				cancel()
				return
			}
			fmt.Fprintln(a.out, "\n(Press Ctrl+C again within 2s to exit)")
		}
	}
}

// handleLine dispatches one line of input and reports whether the session
// should end.
func (a *Agent) handleLine(ctx context.Context, input string) bool {
	line := strings.TrimSpace(input)
	if line == "" {
		return false
	}
	switch strings.ToLower(line) {
	case "exit", "quit":
		return true
	}
	if strings.HasPrefix(line, "/") {
		return a.handleCommand(ctx, line)
	}

	if a.mode != prompts.ModeChat && shell.IsUserCommand(line) {
		a.runUserCommand(ctx, line)
		return false
	}

	logging.DevLog("dispatching prompt: %d chars", len(line))
	if _, err := a.ask(ctx, line); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(a.out, "(cancelled)")
			return false
		}
		logging.ErrorLog("agent error: %v", err)
		fmt.Fprintf(a.out, "Error: %v\n", err)
	}
	return false
}

func trimLineEnding(s string) string {
	s = strings.TrimSuffix(s, "\r\n")
	s = strings.TrimSuffix(s, "\n")
	s = strings.TrimSuffix(s, "\r")
	return s
}

func (a *Agent) printResponse(text string) {
	if a.render == nil || strings.TrimSpace(text) == "" {
		fmt.Fprintf(a.out, "%s\n", text)
		return
	}
	rendered, err := a.render.Render(text)
	if err != nil {
		a.logger.Printf("markdown render failed: %v", err)
		fmt.Fprintf(a.out, "%s\n", text)
		return
	}
	fmt.Fprint(a.out, strings.TrimRight(rendered, "\n")+"\n")
}

// confirm asks a yes/no question on the input stream. Anything but y/yes
// is a no, including end of input.
func (a *Agent) confirm(question string) bool {
	fmt.Fprint(a.out, question)
	resp, err := a.in.ReadString('\n')
	if err != nil && resp == "" {
		fmt.Fprintln(a.out)
		return false
	}
	val := strings.ToLower(strings.TrimSpace(resp))
	return val == "y" || val == "yes"
}

// confirmPhrase requires the exact phrase before a destructive command.
func (a *Agent) confirmPhrase(command string) bool {
	fmt.Fprintf(a.out, "WARNING: %q can destroy data on disk.\n", command)
	fmt.Fprintf(a.out, "Type %q to continue: ", destructivePhrase)
	resp, err := a.in.ReadString('\n')
	if err != nil && resp == "" {
		fmt.Fprintln(a.out)
		return false
	}
	return strings.TrimSpace(resp) == destructivePhrase
}

func (a *Agent) setInFlightCancel(cancel context.CancelFunc) {
	a.requestCancelMu.Lock()
	a.requestCancel = cancel
	a.requestCancelMu.Unlock()
}

func (a *Agent) clearInFlightCancel() {
	a.requestCancelMu.Lock()
	a.requestCancel = nil
	a.requestCancelMu.Unlock()
}

func (a *Agent) cancelInFlightRequest() bool {
	a.requestCancelMu.Lock()
	cancel := a.requestCancel
	a.requestCancel = nil
	a.requestCancelMu.Unlock()
	if cancel != nil {
		cancel()
		return true
	}
	return false
}

func (a *Agent) addTokens(tokens int) {
	a.tokenMu.Lock()
	a.totalTokens += tokens
	a.tokenMu.Unlock()
}

func (a *Agent) getTotalTokens() int {
	a.tokenMu.RLock()
	defer a.tokenMu.RUnlock()
	return a.totalTokens
}
