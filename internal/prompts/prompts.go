// Package prompts holds the system prompt for each terminal mode.
package prompts

import (
	"embed"
	"fmt"
	"strings"
	"sync"
)

//go:embed roles/*.txt
var roleFiles embed.FS

// Mode selects the role prompt and the terminal behaviour around it.
type Mode string

const (
	ModeChat    Mode = "chat"
	ModeArch    Mode = "arch"
	ModeCreator Mode = "creator"
	ModeInstall Mode = "install"
)

// Modes lists every mode in display order.
var Modes = []Mode{ModeChat, ModeArch, ModeCreator, ModeInstall}

var titles = map[Mode]string{
	ModeChat:    "Conversational Assistant",
	ModeArch:    "Arch Linux Assistant",
	ModeCreator: "Structure Generator",
	ModeInstall: "Arch Linux Installer",
}

var (
	metadataMu sync.RWMutex
	metadata   string
)

// ParseMode validates a mode name.
func ParseMode(name string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := titles[m]; !ok {
		return "", fmt.Errorf("unknown mode %q", name)
	}
	return m, nil
}

// Title is the banner name of the mode.
func (m Mode) Title() string {
	if t, ok := titles[m]; ok {
		return t
	}
	return string(m)
}

// Base returns the built-in role prompt for mode.
func Base(mode Mode) string {
	data, err := roleFiles.ReadFile("roles/" + string(mode) + ".txt")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Combine joins the role prompt with the environment context and an optional
// user-provided prompt.
func Combine(mode Mode, user string) string {
	sections := []string{Base(mode)}
	if meta := getMetadata(); meta != "" {
		sections = append(sections, "## Environment Context\n"+meta)
	}
	if trimmed := strings.TrimSpace(user); trimmed != "" {
		sections = append(sections, trimmed)
	}
	return strings.Join(sections, "\n\n")
}

// SetMetadata defines the environment metadata appended to the system prompt.
func SetMetadata(info string) {
	metadataMu.Lock()
	defer metadataMu.Unlock()
	metadata = strings.TrimSpace(info)
}

func getMetadata() string {
	metadataMu.RLock()
	defer metadataMu.RUnlock()
	return metadata
}
