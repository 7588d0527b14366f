package agent

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"gptterm/internal/classify"
	"gptterm/internal/prompts"
)

var (
	bannerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)
	bannerTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("86"))
	phaseDoneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	phasePendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	phaseCurrentStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
)

// resumeThreshold is the record count above which the banner shows the
// installation progress of a resumed session.
const resumeThreshold = 5

func (a *Agent) phaseState() (classify.PhaseState, error) {
	return a.classifier.BuildPhaseState(a.store.Contents())
}

func (a *Agent) printBanner() {
	lines := []string{bannerTitleStyle.Render(fmt.Sprintf("gptterm %s  %s", a.version, a.mode.Title()))}
	lines = append(lines, fmt.Sprintf("model:   %s", a.cfg.Model))

	count, err := a.store.CountLines()
	if err != nil {
		a.logger.Printf("count context: %v", err)
	}
	lines = append(lines, fmt.Sprintf("context: %d records (%s)", count, a.store.Path()))
	if a.journal != nil {
		lines = append(lines, fmt.Sprintf("session: %s", a.journal.SessionID()))
	}
	lines = append(lines, "Type /help for commands, exit to quit.")
	fmt.Fprintln(a.out, bannerStyle.Render(strings.Join(lines, "\n")))

	if a.mode == prompts.ModeInstall && count > resumeThreshold {
		fmt.Fprintln(a.out, "Resuming a previous installation.")
		a.printProgress()
	}
}

func (a *Agent) printProgress() {
	st, err := a.phaseState()
	if err != nil {
		fmt.Fprintf(a.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(a.out, renderProgress(st))
}

func (a *Agent) printPhase() {
	st, err := a.phaseState()
	if err != nil {
		fmt.Fprintf(a.out, "Error: %v\n", err)
		return
	}
	if st.Current == classify.PhaseGeneral {
		fmt.Fprintln(a.out, "Current phase: not started")
		return
	}
	fmt.Fprintf(a.out, "Current phase: %d. %s\n", int(st.Current), st.Current.Name())
}

// renderProgress lists phases 1 to 6 with their completion marks.
func renderProgress(st classify.PhaseState) string {
	total := classify.PhaseCount - 1
	var b strings.Builder
	fmt.Fprintf(&b, "Installation progress: %d/%d phases\n", st.Completed(), total)
	for p := classify.PhasePreparation; p <= classify.PhaseBootloader; p++ {
		mark, style := "[ ]", phasePendingStyle
		if st.Seen[p] {
			mark, style = "[x]", phaseDoneStyle
		}
		line := fmt.Sprintf("  %s %d. %s", mark, int(p), p.Name())
		if p == st.Current {
			line += "  <- current"
			style = phaseCurrentStyle
		}
		b.WriteString(style.Render(line))
		if p != classify.PhaseBootloader {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
