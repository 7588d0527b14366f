// Package store persists the conversational context log.
//
// The log is a plain text file with one record per line in the form
// "role<TAB>content". The file is the source of truth: every read reloads it
// from disk, so a rewrite between two reads is always observed.
package store

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	// ErrStoreUnavailable wraps any I/O failure on the context file.
	ErrStoreUnavailable = errors.New("context store unavailable")
	// ErrEmptyEntry is returned when role or content is empty after normalization.
	ErrEmptyEntry = errors.New("context entry is empty")
	// ErrUnknownRole is returned for roles outside user/assistant/system.
	ErrUnknownRole = errors.New("unknown context role")
)

// Role is the author of a record.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Entry is one record of the log. Sequence is the 1-based line number of
// the record in the file at the time it was read.
type Entry struct {
	Role     Role
	Content  string
	Sequence int
}

// sideSuffix names the file compaction writes before swapping it in.
const sideSuffix = ".compact"

// Store is a handle on one context file. A Store serialises its own writers;
// it assumes a single owning process.
type Store struct {
	mu     sync.Mutex
	path   string
	logger *log.Logger
}

// New returns a store for path. Nothing is touched on disk until LoadOrCreate.
func New(path string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Store{path: filepath.Clean(path), logger: logger}
}

// Path returns the context file location.
func (s *Store) Path() string { return s.path }

func (s *Store) sidePath() string { return s.path + sideSuffix }

// LoadOrCreate makes sure the file and its directory exist without touching
// existing records. A side file left behind by an interrupted compaction is
// discarded; the original was never replaced, so it is still complete.
func (s *Store) LoadOrCreate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("%w: create dir: %v", ErrStoreUnavailable, err)
	}
	if err := os.Remove(s.sidePath()); err == nil {
		s.logger.Printf("store: discarded stale compaction file %s", s.sidePath())
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove stale side file: %v", ErrStoreUnavailable, err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open: %v", ErrStoreUnavailable, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Append writes one record at the end of the log.
func (s *Store) Append(role Role, content string) error {
	line, err := formatLine(role, content)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open for append: %v", ErrStoreUnavailable, err)
	}
	if _, err := io.WriteString(f, line); err != nil {
		f.Close()
		return fmt.Errorf("%w: append: %v", ErrStoreUnavailable, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close after append: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Reset truncates the log to zero records.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(s.path, nil, 0o644); err != nil {
		return fmt.Errorf("%w: truncate: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// CountLines returns the number of physical lines in the file, including
// lines that Entries would skip as malformed. A missing file counts as zero.
func (s *Store) CountLines() (int, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: open: %v", ErrStoreUnavailable, err)
	}
	defer f.Close()

	count := 0
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			count++
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return count, fmt.Errorf("%w: read: %v", ErrStoreUnavailable, err)
		}
	}
}

// Entries returns a lazy sequence over the records in file order. Each
// iteration reopens the file. Malformed lines are skipped; a read failure is
// yielded once and ends the sequence.
func (s *Store) Entries() iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		f, err := os.Open(s.path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return
			}
			yield(Entry{}, fmt.Errorf("%w: open: %v", ErrStoreUnavailable, err))
			return
		}
		defer f.Close()

		reader := bufio.NewReader(f)
		lineNo := 0
		for {
			line, err := reader.ReadString('\n')
			if line != "" {
				lineNo++
				if entry, ok := parseLine(line); ok {
					entry.Sequence = lineNo
					if !yield(entry, nil) {
						return
					}
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					yield(Entry{}, fmt.Errorf("%w: read: %v", ErrStoreUnavailable, err))
				}
				return
			}
		}
	}
}

// Contents adapts Entries to a sequence of record contents.
func (s *Store) Contents() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for entry, err := range s.Entries() {
			if !yield(entry.Content, err) || err != nil {
				return
			}
		}
	}
}

// ReadAll collects every well-formed record.
func (s *Store) ReadAll() ([]Entry, error) {
	var entries []Entry
	for entry, err := range s.Entries() {
		if err != nil {
			return entries, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Replace swaps the whole log for entries. The new content is written to a
// side file and synced before it is renamed over the original, so a crash
// leaves either the old log or the new one, never a mix.
func (s *Store) Replace(entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replace(entries)
}

// Rewrite runs fn with the physical line count and the current records, then
// replaces the log with what fn returns. Appends wait until the swap is done,
// so none can land between the read and the rename. A nil slice from fn leaves
// the file untouched.
func (s *Store) Rewrite(fn func(lines int, entries iter.Seq2[Entry, error]) ([]Entry, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines, err := s.CountLines()
	if err != nil {
		return err
	}
	next, err := fn(lines, s.Entries())
	if err != nil || next == nil {
		return err
	}
	return s.replace(next)
}

func (s *Store) replace(entries []Entry) error {
	var b strings.Builder
	for _, entry := range entries {
		line, err := formatLine(entry.Role, entry.Content)
		if err != nil {
			return err
		}
		b.WriteString(line)
	}

	side := s.sidePath()
	f, err := os.OpenFile(side, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: create side file: %v", ErrStoreUnavailable, err)
	}
	if _, err := io.WriteString(f, b.String()); err != nil {
		f.Close()
		os.Remove(side)
		return fmt.Errorf("%w: write side file: %v", ErrStoreUnavailable, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(side)
		return fmt.Errorf("%w: sync side file: %v", ErrStoreUnavailable, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(side)
		return fmt.Errorf("%w: close side file: %v", ErrStoreUnavailable, err)
	}
	if err := os.Rename(side, s.path); err != nil {
		os.Remove(side)
		return fmt.Errorf("%w: replace: %v", ErrStoreUnavailable, err)
	}
	syncDir(filepath.Dir(s.path))
	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// Normalize strips the characters that would break the line format.
func Normalize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)
}

func formatLine(role Role, content string) (string, error) {
	r := Role(Normalize(string(role)))
	c := Normalize(content)
	if r == "" || c == "" {
		return "", ErrEmptyEntry
	}
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, r)
	}
	return string(r) + "\t" + c + "\n", nil
}

func parseLine(line string) (Entry, bool) {
	line = strings.TrimRight(line, "\r\n")
	role, content, ok := strings.Cut(line, "\t")
	if !ok || content == "" {
		return Entry{}, false
	}
	r := Role(role)
	if !r.Valid() {
		return Entry{}, false
	}
	return Entry{Role: r, Content: content}, true
}
