package agent

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// maxHistoryEntries bounds how many lines are offered to the prompt.
const maxHistoryEntries = 500

// inputHistory keeps REPL lines across sessions in a plain file, one per line.
type inputHistory struct {
	path    string
	entries []string
	mu      sync.Mutex
}

func loadInputHistory(path string) *inputHistory {
	h := &inputHistory{path: path}
	if path == "" {
		return h
	}
	f, err := os.Open(path)
	if err != nil {
		return h
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		h.entries = append(h.entries, line)
	}
	if len(h.entries) > maxHistoryEntries {
		h.entries = h.entries[len(h.entries)-maxHistoryEntries:]
	}
	return h
}

func (h *inputHistory) Entries() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	cpy := make([]string, len(h.entries))
	copy(cpy, h.entries)
	return cpy
}

// Add records line unless it repeats the previous entry. Confirmation
// answers never reach here, only lines given to the executor.
func (h *inputHistory) Add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if n := len(h.entries); n > 0 && h.entries[n-1] == line {
		return
	}
	h.entries = append(h.entries, line)
	if h.path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = fmt.Fprintln(f, line)
}
