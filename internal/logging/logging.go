// Package logging holds the process-wide logger and the rotating log file
// behind it.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// DevMode enables DevLog output. Set with DEV_MODE=1.
	DevMode = os.Getenv("DEV_MODE") == "1"
	// Logger is the shared logger instance
	Logger *log.Logger
)

func init() {
	Logger = log.Default()
}

// DevLog logs only when DEV_MODE=1
func DevLog(format string, args ...interface{}) {
	if DevMode {
		Logger.Printf("[DEV] "+format, args...)
	}
}

// UserLog logs important user-facing information (always visible)
func UserLog(format string, args ...interface{}) {
	Logger.Printf("[USER] "+format, args...)
}

// ErrorLog logs errors (always visible)
func ErrorLog(format string, args ...interface{}) {
	Logger.Printf("[ERROR] "+format, args...)
}

// OpenFile returns a size-rotated writer for path. maxMB and backups fall
// back to 5 MB and 3 files when not positive.
func OpenFile(path string, maxMB, backups int) (io.WriteCloser, error) {
	if maxMB <= 0 {
		maxMB = 5
	}
	if backups <= 0 {
		backups = 3
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxMB,
		MaxBackups: backups,
		Compress:   false,
	}, nil
}

// Init points the shared Logger at w and returns it. A nil writer discards
// everything, which keeps the terminal clear while the REPL owns it.
func Init(w io.Writer) *log.Logger {
	if w == nil {
		w = io.Discard
	}
	Logger = log.New(w, "", log.LstdFlags|log.Lmicroseconds)
	return Logger
}

// Named returns a logger sharing Logger's output with a component prefix.
func Named(component string) *log.Logger {
	return log.New(Logger.Writer(), component+": ", Logger.Flags())
}
