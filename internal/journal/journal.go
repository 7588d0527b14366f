// Package journal keeps an audit trail of compaction passes and executed
// commands in a local SQLite database. The journal never feeds the model;
// the context file remains the only conversational state.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Channel values for CommandRun.Via.
const (
	ViaBridge = "bridge"
	ViaLocal  = "local"
)

// CompactionEvent records one compaction pass.
type CompactionEvent struct {
	SessionID   string
	Timestamp   time.Time
	Before      int
	After       int
	Collected   int
	Retained    int
	TokensSaved int
	DurationMs  int64
	Reason      string
}

// CommandRun records one executed shell command.
type CommandRun struct {
	SessionID   string
	Timestamp   time.Time
	Command     string
	Via         string
	Success     bool
	OutputChars int
	DurationMs  int64
}

// Stats summarises the journal for one session and overall.
type Stats struct {
	SessionCompactions int
	SessionCommands    int
	SessionFailures    int
	TotalCompactions   int
	TotalCommands      int
	TotalTokensSaved   int
}

// Journal is a handle on the audit database.
type Journal struct {
	db        *sql.DB
	path      string
	sessionID string
	logger    *log.Logger
}

// Open creates or opens the database at path and starts a new session.
func Open(path string, logger *log.Logger) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal path must be set")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("prepare journal dir: %w", err)
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	recovered, err := checkAndRecover(db, path, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("journal recovery failed: %w", err)
	}
	if recovered != nil {
		db = recovered
	}

	if err := initSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db, path: path, sessionID: uuid.NewString(), logger: logger}, nil
}

func dsn(path string) string {
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_pragma=journal_mode(WAL)", path)
}

func initSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS compaction_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	timestamp TIMESTAMP NOT NULL,
	records_before INTEGER NOT NULL,
	records_after INTEGER NOT NULL,
	critical_collected INTEGER NOT NULL,
	critical_retained INTEGER NOT NULL,
	tokens_saved INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	reason TEXT NOT NULL DEFAULT ''
)`); err != nil {
		return fmt.Errorf("init compaction_events schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS command_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	timestamp TIMESTAMP NOT NULL,
	command TEXT NOT NULL,
	via TEXT NOT NULL,
	success INTEGER NOT NULL,
	output_chars INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("init command_runs schema: %w", err)
	}
	return nil
}

// checkAndRecover returns a fresh connection when the existing file is
// empty or unreadable, nil when the current connection can be used.
func checkAndRecover(db *sql.DB, path string, logger *log.Logger) (*sql.DB, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if info.Size() == 0 {
		logger.Printf("journal: database file is empty, recreating")
	} else {
		var n int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master").Scan(&n)
		if err == nil {
			return nil, nil
		}
		logger.Printf("journal: schema check failed (%v), recreating", err)
	}

	if err := db.Close(); err != nil {
		return nil, fmt.Errorf("close damaged journal: %w", err)
	}
	os.Remove(path)
	os.Remove(path + "-wal")
	os.Remove(path + "-shm")

	fresh, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("reopen journal: %w", err)
	}
	return fresh, nil
}

// SessionID identifies the records written through this handle.
func (j *Journal) SessionID() string { return j.sessionID }

// Path returns the database location.
func (j *Journal) Path() string { return j.path }

// RecordCompaction stores a compaction event. Zero timestamps and empty
// session ids are filled in.
func (j *Journal) RecordCompaction(ctx context.Context, ev CompactionEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.SessionID == "" {
		ev.SessionID = j.sessionID
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO compaction_events (session_id, timestamp, records_before, records_after, critical_collected, critical_retained, tokens_saved, duration_ms, reason)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.SessionID, ev.Timestamp, ev.Before, ev.After, ev.Collected, ev.Retained, ev.TokensSaved, ev.DurationMs, ev.Reason)
	if err != nil {
		return fmt.Errorf("record compaction: %w", err)
	}
	return nil
}

// RecordCommand stores a command execution.
func (j *Journal) RecordCommand(ctx context.Context, run CommandRun) error {
	if run.Timestamp.IsZero() {
		run.Timestamp = time.Now()
	}
	if run.SessionID == "" {
		run.SessionID = j.sessionID
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO command_runs (session_id, timestamp, command, via, success, output_chars, duration_ms)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.SessionID, run.Timestamp, run.Command, run.Via, boolToInt(run.Success), run.OutputChars, run.DurationMs)
	if err != nil {
		return fmt.Errorf("record command: %w", err)
	}
	return nil
}

// RecentCompactions returns up to limit events, newest first.
func (j *Journal) RecentCompactions(ctx context.Context, limit int) ([]CompactionEvent, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT session_id, timestamp, records_before, records_after, critical_collected, critical_retained, tokens_saved, duration_ms, reason
FROM compaction_events
ORDER BY id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []CompactionEvent
	for rows.Next() {
		var ev CompactionEvent
		if err := rows.Scan(&ev.SessionID, &ev.Timestamp, &ev.Before, &ev.After, &ev.Collected, &ev.Retained, &ev.TokensSaved, &ev.DurationMs, &ev.Reason); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// RecentCommands returns up to limit command runs, newest first.
func (j *Journal) RecentCommands(ctx context.Context, limit int) ([]CommandRun, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT session_id, timestamp, command, via, success, output_chars, duration_ms
FROM command_runs
ORDER BY id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []CommandRun
	for rows.Next() {
		var run CommandRun
		var success int
		if err := rows.Scan(&run.SessionID, &run.Timestamp, &run.Command, &run.Via, &success, &run.OutputChars, &run.DurationMs); err != nil {
			return nil, err
		}
		run.Success = success == 1
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Stats aggregates counters for the current session and the whole journal.
func (j *Journal) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	if err := j.db.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(tokens_saved), 0), COALESCE(SUM(CASE WHEN session_id = ? THEN 1 ELSE 0 END), 0)
FROM compaction_events`, j.sessionID).Scan(&s.TotalCompactions, &s.TotalTokensSaved, &s.SessionCompactions); err != nil {
		return Stats{}, fmt.Errorf("compaction stats: %w", err)
	}
	if err := j.db.QueryRowContext(ctx, `
SELECT COUNT(*),
	COALESCE(SUM(CASE WHEN session_id = ? THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN session_id = ? AND success = 0 THEN 1 ELSE 0 END), 0)
FROM command_runs`, j.sessionID, j.sessionID).Scan(&s.TotalCommands, &s.SessionCommands, &s.SessionFailures); err != nil {
		return Stats{}, fmt.Errorf("command stats: %w", err)
	}
	return s, nil
}

// Close releases the database.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
