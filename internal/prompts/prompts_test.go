package prompts

import (
	"strings"
	"testing"
)

func TestEveryModeHasARole(t *testing.T) {
	for _, m := range Modes {
		if Base(m) == "" {
			t.Errorf("mode %s has no role prompt", m)
		}
		if m.Title() == string(m) {
			t.Errorf("mode %s has no title", m)
		}
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Install ")
	if err != nil || m != ModeInstall {
		t.Fatalf("ParseMode = %q, %v", m, err)
	}
	if _, err := ParseMode("poetry"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestCombine(t *testing.T) {
	t.Cleanup(func() { SetMetadata("") })

	SetMetadata("OS: linux/amd64")
	got := Combine(ModeArch, "  answer in Spanish ")
	if !strings.HasPrefix(got, Base(ModeArch)) {
		t.Errorf("combined prompt should start with the role prompt")
	}
	if !strings.Contains(got, "## Environment Context\nOS: linux/amd64") {
		t.Errorf("missing environment context: %q", got)
	}
	if !strings.HasSuffix(got, "answer in Spanish") {
		t.Errorf("missing user prompt: %q", got)
	}

	SetMetadata("")
	if Combine(ModeChat, "") != Base(ModeChat) {
		t.Errorf("bare prompt should equal the role prompt")
	}
}
