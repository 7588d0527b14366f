package agent

import (
	"context"
	"fmt"
	"strings"

	prompt "github.com/c-bata/go-prompt"

	"gptterm/internal/bridge"
)

var commandSuggestions = []prompt.Suggest{
	{Text: "/help", Description: "Show available commands"},
	{Text: "/context", Description: "Print the stored context"},
	{Text: "/reset", Description: "Erase the stored context"},
	{Text: "/clear", Description: "Clear the screen"},
	{Text: "/version", Description: "Show version information"},
	{Text: "/progress", Description: "Show installation progress"},
	{Text: "/phase", Description: "Show the current installation phase"},
	{Text: "/compact", Description: "Compact the context now"},
	{Text: "/diag", Description: "Run system diagnostics"},
	{Text: "/stats", Description: "Show session statistics"},
	{Text: "/quit", Description: "Exit"},
}

// contextPreview caps how much of each record /context prints.
const contextPreview = 120

// handleCommand runs one slash command and reports whether the session
// should end.
func (a *Agent) handleCommand(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToLower(fields[0]) {
	case "/help":
		a.printHelp()
	case "/context":
		a.printContext()
	case "/reset":
		if err := a.store.Reset(); err != nil {
			fmt.Fprintf(a.out, "Error: %v\n", err)
			return false
		}
		fmt.Fprintln(a.out, "Context cleared.")
	case "/clear":
		fmt.Fprint(a.out, "\033[H\033[2J")
	case "/version":
		fmt.Fprintf(a.out, "gptterm %s (%s mode, model %s)\n", a.version, a.mode, a.cfg.Model)
	case "/progress":
		a.printProgress()
	case "/phase":
		a.printPhase()
	case "/compact":
		a.forceCompact(ctx)
	case "/diag":
		a.runDiagnostics(ctx)
	case "/stats":
		a.printStats(ctx)
	case "/quit", "/exit":
		return true
	default:
		fmt.Fprintf(a.out, "Unknown command %s. Type /help for the list.\n", fields[0])
	}
	return false
}

func (a *Agent) printHelp() {
	fmt.Fprintln(a.out, "Commands:")
	for _, s := range commandSuggestions {
		fmt.Fprintf(a.out, "  %-10s %s\n", s.Text, s.Description)
	}
	fmt.Fprintln(a.out, "Lines starting with a known command word run directly in every mode but chat.")
}

func (a *Agent) printContext() {
	n := 0
	for entry, err := range a.store.Entries() {
		if err != nil {
			fmt.Fprintf(a.out, "Error: %v\n", err)
			return
		}
		n++
		content := entry.Content
		if len(content) > contextPreview {
			content = clip(content, contextPreview) + "..."
		}
		fmt.Fprintf(a.out, "%3d %-9s %s\n", n, entry.Role, content)
	}
	if n == 0 {
		fmt.Fprintln(a.out, "Context is empty.")
	}
}

func (a *Agent) forceCompact(ctx context.Context) {
	if a.compactor == nil {
		fmt.Fprintln(a.out, "Compaction is not available.")
		return
	}
	res, err := a.compactor.Compact(ctx)
	if err != nil {
		fmt.Fprintf(a.out, "Error: %v\n", err)
		return
	}
	a.reportCompaction(ctx, res, "manual")
}

// runDiagnostics asks the bridge for the diagnostic report and falls back to
// running the same commands locally.
func (a *Agent) runDiagnostics(ctx context.Context) {
	if a.bridge != nil {
		out, err := a.bridge.Diagnostics(ctx)
		if err == nil {
			fmt.Fprintln(a.out, out)
			return
		}
		a.logger.Printf("bridge diagnostics failed, running locally: %v", err)
	}
	local := &bridge.Peer{Runner: a.runner, Logger: a.logger}
	resp := local.Handle(ctx, bridge.NewRequest(bridge.ActionArchDiagnostics))
	if !resp.Success {
		fmt.Fprintf(a.out, "Error: %s\n", resp.ErrorText())
		return
	}
	fmt.Fprintln(a.out, resp.ResultText())
}

func (a *Agent) printStats(ctx context.Context) {
	count, err := a.store.CountLines()
	if err != nil {
		fmt.Fprintf(a.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(a.out, "Context records: %d (compaction above %d)\n", count, a.cfg.Compaction.EvictionThreshold)
	fmt.Fprintf(a.out, "Tokens used this session: %d\n", a.getTotalTokens())
	if a.journal == nil {
		return
	}
	st, err := a.journal.Stats(ctx)
	if err != nil {
		fmt.Fprintf(a.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(a.out, "Commands this session: %d (%d failed)\n", st.SessionCommands, st.SessionFailures)
	fmt.Fprintf(a.out, "Compactions this session: %d\n", st.SessionCompactions)
	fmt.Fprintf(a.out, "All sessions: %d commands, %d compactions, ~%d tokens saved\n",
		st.TotalCommands, st.TotalCompactions, st.TotalTokensSaved)
}
