package logging

import (
	"bytes"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredLoggerTextMode(t *testing.T) {
	var buf bytes.Buffer
	l := NewStructuredLogger(log.New(&buf, "", 0), "compact", false).
		WithSession("0123456789abcdef")

	l.Info("context compacted", map[string]interface{}{"before": 26, "after": 16})
	assert.Equal(t, "[compact] [session:01234567] context compacted | after=16 before=26\n", buf.String())
}

func TestStructuredLoggerJSONMode(t *testing.T) {
	var buf bytes.Buffer
	l := NewStructuredLogger(log.New(&buf, "", 0), "bridge", true).WithComponent("peer")
	l.Warn("slow reply", map[string]interface{}{"ms": 1200})

	var entry LogEntry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "WARN", entry.Level)
	assert.Equal(t, "peer", entry.Component)
	assert.Equal(t, "slow reply", entry.Message)
	assert.Empty(t, entry.Session)
	assert.EqualValues(t, 1200, entry.Fields["ms"])
}

func TestNilLoggerIsSilent(t *testing.T) {
	l := NewStructuredLogger(nil, "x", false)
	l.Error("nobody hears this")
}

func TestOpenFileWritesThrough(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "gptterm.log")
	w, err := OpenFile(path, 0, 0)
	require.NoError(t, err)

	logger := log.New(w, "", 0)
	logger.Println("hello from the log")
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "hello from the log"))
}

func TestInitAndNamed(t *testing.T) {
	prev := Logger
	t.Cleanup(func() { Logger = prev })

	var buf bytes.Buffer
	Init(&buf)
	Named("journal").Printf("opened")
	ErrorLog("boom %d", 1)

	out := buf.String()
	assert.Contains(t, out, "journal: ")
	assert.Contains(t, out, "opened")
	assert.Contains(t, out, "[ERROR] boom 1")
}
