package journal

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T, path string) *Journal {
	t.Helper()
	j, err := Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordAndStats(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")
	j := openTestJournal(t, path)

	require.NoError(t, j.RecordCompaction(ctx, CompactionEvent{Before: 30, After: 16, Collected: 20, Retained: 15, TokensSaved: 40, Reason: "auto"}))
	require.NoError(t, j.RecordCommand(ctx, CommandRun{Command: "lsblk", Via: ViaBridge, Success: true, OutputChars: 120}))
	require.NoError(t, j.RecordCommand(ctx, CommandRun{Command: "false", Via: ViaLocal, Success: false}))

	stats, err := j.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SessionCompactions)
	assert.Equal(t, 1, stats.TotalCompactions)
	assert.Equal(t, 40, stats.TotalTokensSaved)
	assert.Equal(t, 2, stats.SessionCommands)
	assert.Equal(t, 1, stats.SessionFailures)

	runs, err := j.RecentCommands(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "false", runs[0].Command)
	assert.False(t, runs[0].Success)
	assert.Equal(t, j.SessionID(), runs[1].SessionID)

	events, err := j.RecentCompactions(ctx, 5)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "auto", events[0].Reason)
	assert.Equal(t, 16, events[0].After)
}

func TestSessionsAreSeparated(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")

	first, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, first.RecordCommand(ctx, CommandRun{Command: "ls", Via: ViaLocal, Success: true}))
	require.NoError(t, first.Close())

	second := openTestJournal(t, path)
	assert.NotEqual(t, first.SessionID(), second.SessionID())

	stats, err := second.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.SessionCommands)
	assert.Equal(t, 1, stats.TotalCommands)
}

func TestOpenRecoversEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	j := openTestJournal(t, path)
	require.NoError(t, j.RecordCommand(context.Background(), CommandRun{Command: "pwd", Via: ViaLocal, Success: true}))
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("", nil)
	require.Error(t, err)
}
