package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gptterm/internal/classify"
	"gptterm/internal/compact"
	"gptterm/internal/journal"
	"gptterm/internal/llm"
	"gptterm/internal/logging"
	"gptterm/internal/prompts"
	"gptterm/internal/shell"
	"gptterm/internal/store"
)

// destructivePhrase must be typed verbatim before a destructive command runs.
const destructivePhrase = "YES I AM SURE"

// maxRecordedOutput caps how much command output is written to the context.
const maxRecordedOutput = 2000

// ask sends input to the model with the stored context and prints the reply.
func (a *Agent) ask(ctx context.Context, input string) (string, error) {
	if a.mode == prompts.ModeInstall {
		a.maybeCompact(ctx, "pre-prompt")
	}

	recorded, err := a.record(store.RoleUser, input)
	if err != nil {
		return "", err
	}
	req, err := a.buildRequest(input, recorded)
	if err != nil {
		return "", err
	}

	reqCtx, cancel := context.WithCancel(ctx)
	a.setInFlightCancel(cancel)
	resp, err := a.callProviderWithRetry(reqCtx, req)
	a.clearInFlightCancel()
	cancel()
	if err != nil {
		return "", err
	}
	if resp.Usage != nil {
		a.addTokens(resp.Usage.TotalTokens)
	}
	reply, err := resp.Text()
	if err != nil {
		return "", err
	}

	a.printResponse(reply)
	if _, err := a.record(store.RoleAssistant, reply); err != nil {
		logging.ErrorLog("record reply: %v", err)
	}
	if a.mode == prompts.ModeInstall {
		a.maybeCompact(ctx, "auto")
	}

	if a.mode != prompts.ModeChat {
		if command, ok := shell.ExtractCommand(reply); ok {
			a.offerSuggestion(ctx, command)
		}
	}
	return reply, nil
}

// buildRequest lays out the role prompt followed by every stored record.
// When the admission policy dropped the user's input it is appended so the
// model still sees the question.
func (a *Agent) buildRequest(input string, recorded bool) (llm.ChatRequest, error) {
	messages := []llm.Message{{Role: llm.RoleSystem, Content: a.systemPrompt}}
	for entry, err := range a.store.Entries() {
		if err != nil {
			return llm.ChatRequest{}, fmt.Errorf("read context: %w", err)
		}
		messages = append(messages, llm.Message{Role: string(entry.Role), Content: entry.Content})
	}
	if !recorded {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: store.Normalize(input)})
	}
	return llm.ChatRequest{
		Model:       a.cfg.Model,
		Messages:    messages,
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
	}, nil
}

// record appends one turn. In install mode a record is admitted only when it
// is critical or the context is still below the admission floor, and an
// admitted record that belongs to an installation phase is followed by a
// [PHASE n] system marker.
func (a *Agent) record(role store.Role, content string) (bool, error) {
	if a.mode == prompts.ModeInstall && !a.classifier.IsCritical(content) {
		n, err := a.store.CountLines()
		if err != nil {
			return false, err
		}
		if n >= a.cfg.Compaction.AdmissionFloor {
			logging.DevLog("agent: skipped non-critical %s record at %d lines", role, n)
			return false, nil
		}
	}
	if err := a.store.Append(role, content); err != nil {
		if errors.Is(err, store.ErrEmptyEntry) {
			return false, nil
		}
		return false, err
	}
	if a.mode == prompts.ModeInstall {
		if p := a.classifier.DetectPhase(content); p != classify.PhaseGeneral {
			if err := a.store.Append(store.RoleSystem, fmt.Sprintf("[PHASE %d] %s", p, p.Name())); err != nil {
				return true, err
			}
		}
	}
	return true, nil
}

func (a *Agent) maybeCompact(ctx context.Context, reason string) {
	if a.compactor == nil {
		return
	}
	res, err := a.compactor.MaybeCompact(ctx)
	if err != nil {
		logging.ErrorLog("compaction failed: %v", err)
		return
	}
	if res.Compacted {
		a.reportCompaction(ctx, res, reason)
	}
}

func (a *Agent) reportCompaction(ctx context.Context, res compact.Result, reason string) {
	fmt.Fprintf(a.out, "[context compacted: %d -> %d records, ~%d tokens saved]\n", res.Before, res.After, res.TokensSaved)
	if a.journal == nil {
		return
	}
	err := a.journal.RecordCompaction(ctx, journal.CompactionEvent{
		Before:      res.Before,
		After:       res.After,
		Collected:   res.Collected,
		Retained:    res.Retained,
		TokensSaved: res.TokensSaved,
		DurationMs:  res.Duration.Milliseconds(),
		Reason:      reason,
	})
	if err != nil {
		a.logger.Printf("journal: %v", err)
	}
}

// runUserCommand executes a command the user typed directly.
func (a *Agent) runUserCommand(ctx context.Context, command string) {
	if a.classifier.Classify(command).Destructive && !a.confirmPhrase(command) {
		fmt.Fprintln(a.out, "Cancelled.")
		return
	}
	a.execute(ctx, command)
}

// offerSuggestion asks before running a command taken from a reply.
func (a *Agent) offerSuggestion(ctx context.Context, command string) {
	fmt.Fprintf(a.out, "\nSuggested command: %s\n", command)
	if !a.confirm("Run it? [y/N] ") {
		return
	}
	if a.classifier.Classify(command).Destructive && !a.confirmPhrase(command) {
		fmt.Fprintln(a.out, "Cancelled.")
		return
	}
	a.execute(ctx, command)
}

type commandOutcome struct {
	output  string
	via     string
	success bool
}

// execute runs command through the bridge in install mode, locally
// otherwise or when the bridge fails, and records it in the context.
func (a *Agent) execute(ctx context.Context, command string) {
	start := time.Now()
	res, err := a.runCommand(ctx, command)
	elapsed := time.Since(start)

	if err != nil {
		fmt.Fprintf(a.out, "Error: %v\n", err)
	} else {
		fmt.Fprintln(a.out, res.output)
	}

	if _, rerr := a.record(store.RoleSystem, "$ "+command); rerr != nil {
		logging.ErrorLog("record command: %v", rerr)
	}
	if err == nil && strings.TrimSpace(res.output) != "" {
		if _, rerr := a.record(store.RoleSystem, truncateOutput(res.output)); rerr != nil {
			logging.ErrorLog("record output: %v", rerr)
		}
	}

	if hint := shell.NextStepHint(command); hint != "" && res.success {
		fmt.Fprintf(a.out, "Hint: %s\n", hint)
	}
	if a.mode == prompts.ModeInstall {
		a.maybeCompact(ctx, "auto")
	}

	if a.journal != nil {
		jerr := a.journal.RecordCommand(ctx, journal.CommandRun{
			Command:     command,
			Via:         res.via,
			Success:     res.success,
			OutputChars: len(res.output),
			DurationMs:  elapsed.Milliseconds(),
		})
		if jerr != nil {
			a.logger.Printf("journal: %v", jerr)
		}
	}
}

func (a *Agent) runCommand(ctx context.Context, command string) (commandOutcome, error) {
	if a.bridge != nil && a.mode == prompts.ModeInstall {
		out, err := a.bridge.ExecuteCommand(ctx, command)
		if err == nil {
			return commandOutcome{output: out, via: journal.ViaBridge, success: exitedCleanly(out)}, nil
		}
		a.logger.Printf("bridge execution failed, running locally: %v", err)
		fmt.Fprintf(a.out, "(bridge unavailable: %v; running locally)\n", err)
	}
	res, err := a.runner.Run(ctx, command)
	outcome := commandOutcome{output: res.Format(), via: journal.ViaLocal, success: err == nil && res.Success()}
	return outcome, err
}

// exitedCleanly reads the exit status trailer of formatted output.
func exitedCleanly(output string) bool {
	const marker = "[exit_code]: "
	i := strings.LastIndex(output, marker)
	if i < 0 {
		return true
	}
	return strings.TrimSpace(output[i+len(marker):]) == "0"
}

// truncateOutput flattens output onto one record and caps its length.
func truncateOutput(s string) string {
	s = strings.Join(strings.Fields(strings.ReplaceAll(s, "\n", " | ")), " ")
	if len(s) <= maxRecordedOutput {
		return s
	}
	return clip(s, maxRecordedOutput) + " [truncated]"
}

// clip cuts s to at most n bytes without splitting a UTF-8 sequence.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func (a *Agent) callProviderWithRetry(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	const (
		maxRetries   = 4
		initialDelay = time.Second
		maxDelay     = 16 * time.Second
	)
	delay := initialDelay
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		start := time.Now()
		resp, err := a.client.Chat(ctx, req)
		elapsed := time.Since(start).Round(time.Millisecond)
		logging.DevLog("provider call finished: err=%v (attempt %d/%d, duration=%s)", err, attempt, maxRetries, elapsed)
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return llm.ChatResponse{}, context.Canceled
		}

		if pe, ok := llm.IsProviderError(err); ok {
			if !pe.Retryable {
				a.logger.Printf("[agent] provider error (non-retryable): %s", pe.Error())
				return llm.ChatResponse{}, err
			}
			if pe.RetryAfter != nil && *pe.RetryAfter > delay {
				delay = *pe.RetryAfter
			}
		}

		lastErr = err
		if attempt == maxRetries {
			break
		}
		a.logger.Printf("[agent] retrying provider call (attempt %d/%d) after %v", attempt+1, maxRetries, err)
		fmt.Fprintf(a.out, "(request failed, retrying in %s)\n", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return llm.ChatResponse{}, context.Canceled
		case <-timer.C:
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return llm.ChatResponse{}, lastErr
}
