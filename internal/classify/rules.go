package classify

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// ErrInvalidRules is returned when a rules document fails validation.
var ErrInvalidRules = errors.New("invalid classifier rules")

// PhaseGroup binds a phase to the keywords that select it.
type PhaseGroup struct {
	Phase    Phase    `yaml:"phase"`
	Keywords []string `yaml:"keywords"`
}

// Rules holds the keyword tables consulted by the classifier.
type Rules struct {
	Critical    []string     `yaml:"critical"`
	Destructive []string     `yaml:"destructive"`
	Phases      []PhaseGroup `yaml:"phases"`
}

// DefaultRules returns the built-in tables.
func DefaultRules() *Rules {
	rules, err := ParseRules(defaultRules)
	if err != nil {
		// The embedded document is part of the binary; failing here is a build defect.
		panic(fmt.Sprintf("classify: embedded rules: %v", err))
	}
	return rules
}

// LoadRules reads a YAML rules file from disk.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes and validates a YAML rules document.
func ParseRules(data []byte) (*Rules, error) {
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if err := rules.validate(); err != nil {
		return nil, err
	}
	return &rules, nil
}

func (r *Rules) validate() error {
	if len(r.Critical) == 0 {
		return fmt.Errorf("%w: critical list is empty", ErrInvalidRules)
	}
	if err := checkTokens("critical", r.Critical); err != nil {
		return err
	}
	if err := checkTokens("destructive", r.Destructive); err != nil {
		return err
	}
	if len(r.Phases) != int(PhaseBootloader) {
		return fmt.Errorf("%w: expected %d phase groups, got %d", ErrInvalidRules, PhaseBootloader, len(r.Phases))
	}
	for i, group := range r.Phases {
		want := Phase(i + 1)
		if group.Phase != want {
			return fmt.Errorf("%w: phase group %d must be phase %d, got %d", ErrInvalidRules, i, want, group.Phase)
		}
		if len(group.Keywords) == 0 {
			return fmt.Errorf("%w: phase %d has no keywords", ErrInvalidRules, group.Phase)
		}
		if err := checkTokens(fmt.Sprintf("phase %d", group.Phase), group.Keywords); err != nil {
			return err
		}
	}
	return nil
}

func checkTokens(list string, tokens []string) error {
	for i, tok := range tokens {
		if strings.TrimSpace(tok) == "" {
			return fmt.Errorf("%w: %s token %d is empty", ErrInvalidRules, list, i)
		}
	}
	return nil
}
