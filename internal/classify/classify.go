// Package classify tags context records with installation relevance.
//
// A record is critical when it mentions one of the critical tokens, and it
// belongs to the first installation phase whose keyword group matches. All
// matching is plain substring search, so classification is deterministic and
// never fails.
package classify

import (
	"strings"
	"sync/atomic"
)

// Phase identifies an installation stage. Zero means no stage applies.
type Phase int

const (
	PhaseGeneral Phase = iota
	PhasePreparation
	PhasePartitioning
	PhaseFormatting
	PhaseBaseInstall
	PhaseConfiguration
	PhaseBootloader
)

// PhaseCount is the number of slots in a PhaseState, including PhaseGeneral.
const PhaseCount = int(PhaseBootloader) + 1

var phaseNames = [PhaseCount]string{
	"General",
	"Initial preparation",
	"Disk partitioning",
	"Formatting and mounting",
	"Base system installation",
	"Basic configuration",
	"Bootloader installation",
}

// Name returns the human label of the phase.
func (p Phase) Name() string {
	if p < 0 || int(p) >= PhaseCount {
		return phaseNames[PhaseGeneral]
	}
	return phaseNames[p]
}

func (p Phase) String() string { return p.Name() }

// Classification is the result of inspecting one piece of content.
type Classification struct {
	Critical    bool
	Destructive bool
	Phase       Phase
}

// Classifier applies a rule set. The rule set can be swapped at runtime.
type Classifier struct {
	rules atomic.Pointer[Rules]
}

// New returns a classifier using rules, or the built-in rules when nil.
func New(rules *Rules) *Classifier {
	if rules == nil {
		rules = DefaultRules()
	}
	c := &Classifier{}
	c.rules.Store(rules)
	return c
}

// SetRules replaces the active rule set.
func (c *Classifier) SetRules(rules *Rules) {
	if rules == nil {
		return
	}
	c.rules.Store(rules)
}

// Rules returns the active rule set.
func (c *Classifier) Rules() *Rules {
	return c.rules.Load()
}

// Classify inspects content against the active rules.
func (c *Classifier) Classify(content string) Classification {
	rules := c.rules.Load()
	return Classification{
		Critical:    containsAny(content, rules.Critical),
		Destructive: containsAny(content, rules.Destructive),
		Phase:       detectPhase(content, rules.Phases),
	}
}

// IsCritical reports whether content mentions a critical token.
func (c *Classifier) IsCritical(content string) bool {
	return containsAny(content, c.rules.Load().Critical)
}

// DetectPhase returns the phase for content, PhaseGeneral when nothing matches.
func (c *Classifier) DetectPhase(content string) Phase {
	return detectPhase(content, c.rules.Load().Phases)
}

var defaultClassifier = New(nil)

// Classify uses the built-in rules.
func Classify(content string) Classification {
	return defaultClassifier.Classify(content)
}

func detectPhase(content string, groups []PhaseGroup) Phase {
	for _, group := range groups {
		if containsAny(content, group.Keywords) {
			return group.Phase
		}
	}
	return PhaseGeneral
}

func containsAny(content string, tokens []string) bool {
	for _, tok := range tokens {
		if strings.Contains(content, tok) {
			return true
		}
	}
	return false
}
