package shell

import (
	"path/filepath"
	"strings"

	"github.com/kballard/go-shellquote"
)

// userCommands are the leading words that mark typed input as a shell
// command instead of a question for the model.
var userCommands = []string{
	"ls", "dir", "pwd", "cd", "cat", "grep", "find", "ps", "top",
	"df", "du", "free", "uname", "which", "whereis", "locate",
	"pacman", "yay", "makepkg", "systemctl", "journalctl",
	"sudo", "su", "chmod", "chown", "mkdir", "rmdir", "rm", "cp", "mv", "ln",
	"tar", "gzip", "unzip", "wget", "curl",
	"lsblk", "fdisk", "cfdisk", "mount", "umount",
}

// likelyCommands is the narrower list used by text analysis.
var likelyCommands = []string{
	"ls", "dir", "pwd", "cd", "cat", "grep", "find", "ps", "top",
	"df", "du", "free", "uname", "pacman", "yay", "systemctl",
	"journalctl", "sudo", "su", "chmod", "mkdir", "rm", "cp", "mv",
}

// IsUserCommand reports whether input starts with a known command word
// followed by the end of input, whitespace or an option dash.
func IsUserCommand(input string) bool {
	return hasCommandPrefix(strings.TrimSpace(input), userCommands, true)
}

func hasCommandPrefix(text string, words []string, allowDash bool) bool {
	for _, w := range words {
		if !strings.HasPrefix(text, w) {
			continue
		}
		if len(text) == len(w) {
			return true
		}
		switch text[len(w)] {
		case ' ', '\t':
			return true
		case '-':
			if allowDash {
				return true
			}
		}
	}
	return false
}

// CommandName returns the program name of a command line, looking through
// sudo. It returns "" when the line cannot be split.
func CommandName(line string) string {
	words, err := shellquote.Split(strings.TrimSpace(line))
	if err != nil || len(words) == 0 {
		words = strings.Fields(line)
	}
	for len(words) > 0 && (words[0] == "sudo" || isAssignment(words[0])) {
		words = words[1:]
	}
	if len(words) == 0 {
		return ""
	}
	return filepath.Base(words[0])
}

func isAssignment(word string) bool {
	return !strings.HasPrefix(word, "-") && strings.Contains(word, "=")
}

// Command types reported by Analyze.
const (
	TypeNone           = "none"
	TypePackageManager = "package_manager"
	TypeSystemd        = "systemd"
	TypeFileSystem     = "file_system"
	TypeProcess        = "process"
	TypeNavigation     = "navigation"
	TypeGeneral        = "general"
)

// Analysis describes whether a piece of text looks like a command.
type Analysis struct {
	IsCommand   bool
	Text        string
	CommandType string
}

// Analyze classifies text the way the bridge peer reports it.
func Analyze(text string) Analysis {
	trimmed := strings.TrimSpace(text)
	a := Analysis{Text: text, CommandType: TypeNone}
	if trimmed == "" {
		return a
	}
	a.IsCommand = hasCommandPrefix(strings.ToLower(trimmed), likelyCommands, false)
	if a.IsCommand {
		a.CommandType = commandType(strings.ToLower(trimmed))
	}
	return a
}

func commandType(text string) string {
	switch {
	case strings.HasPrefix(text, "pacman"), strings.HasPrefix(text, "yay"):
		return TypePackageManager
	case strings.HasPrefix(text, "systemctl"):
		return TypeSystemd
	case strings.HasPrefix(text, "ls"), strings.HasPrefix(text, "find"):
		return TypeFileSystem
	case strings.HasPrefix(text, "ps"), strings.HasPrefix(text, "top"):
		return TypeProcess
	case strings.HasPrefix(text, "cd"), strings.HasPrefix(text, "pwd"):
		return TypeNavigation
	default:
		return TypeGeneral
	}
}

// ExtractCommand returns the first command line of the first fenced
// bash/sh block in text, skipping blank lines and comments. Blocks in other
// languages are stepped over whole.
func ExtractCommand(text string) (string, bool) {
	inFence, wanted := false, false
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if strings.HasPrefix(line, "```") {
			if inFence {
				inFence, wanted = false, false
				continue
			}
			inFence = true
			switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, "```"))) {
			case "bash", "sh", "shell", "console", "":
				wanted = true
			}
			continue
		}
		if !wanted || line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return strings.TrimPrefix(line, "$ "), true
	}
	return "", false
}

// NextStepHint suggests what usually follows command, or "" when nothing does.
func NextStepHint(command string) string {
	switch name := CommandName(command); {
	case name == "mount":
		return "Partition mounted. Next step is usually pacstrap to install the base system."
	case strings.HasPrefix(name, "mkfs"):
		return "Filesystem created. Next step is usually mounting it under /mnt."
	case name == "pacstrap":
		return "Base system installed. Next steps are genfstab and arch-chroot."
	}
	return ""
}
