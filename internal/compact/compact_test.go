package compact

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gptterm/internal/store"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s := store.New(filepath.Join(t.TempDir(), "context.txt"), nil)
	require.NoError(t, s.LoadOrCreate())
	return s
}

func newCompactor(t *testing.T, l Log) *Compactor {
	t.Helper()
	c, err := New(l, nil, DefaultThresholds(), nil)
	require.NoError(t, err)
	return c
}

func TestMaybeCompactBelowThresholdIsNoop(t *testing.T) {
	s := newStore(t)
	for i := 0; i < DefaultEvictionThreshold; i++ {
		require.NoError(t, s.Append(store.RoleUser, "chat"))
	}
	res, err := newCompactor(t, s).MaybeCompact(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Compacted)

	n, err := s.CountLines()
	require.NoError(t, err)
	assert.Equal(t, DefaultEvictionThreshold, n)
}

func TestCompactionScenario(t *testing.T) {
	s := newStore(t)
	// 10 critical records interleaved with 16 non-critical ones: 26 total
	var critical []string
	for i := 0; i < 26; i++ {
		if i%3 == 0 && len(critical) < 10 {
			content := fmt.Sprintf("lsblk run %d", i)
			critical = append(critical, content)
			require.NoError(t, s.Append(store.RoleUser, content))
			continue
		}
		require.NoError(t, s.Append(store.RoleAssistant, fmt.Sprintf("chatter %d", i)))
	}
	require.Len(t, critical, 9)
	for i := 0; i < 6; i++ {
		content := fmt.Sprintf("pacstrap step %d", i)
		critical = append(critical, content)
		require.NoError(t, s.Append(store.RoleUser, content))
	}

	before, err := s.CountLines()
	require.NoError(t, err)
	require.Greater(t, before, DefaultEvictionThreshold)

	res, err := newCompactor(t, s).MaybeCompact(context.Background())
	require.NoError(t, err)
	require.True(t, res.Compacted)
	assert.Equal(t, before, res.Before)
	assert.Equal(t, 15, res.Collected)
	assert.Equal(t, 15, res.Retained)
	assert.Equal(t, 16, res.After)

	entries, err := s.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 16)
	assert.Equal(t, store.RoleSystem, entries[0].Role)
	assert.Contains(t, entries[0].Content, "Critical commands executed: 15")
	for i, entry := range entries[1:] {
		assert.Equal(t, critical[i], entry.Content)
	}
}

func TestCompactionKeepsLastRetainedOfCollected(t *testing.T) {
	s := newStore(t)
	for i := 0; i < 30; i++ {
		require.NoError(t, s.Append(store.RoleUser, fmt.Sprintf("mount %d", i)))
	}

	res, err := newCompactor(t, s).Compact(context.Background())
	require.NoError(t, err)
	// collection stops at the cap, so records 20..29 are never considered
	assert.Equal(t, DefaultMaxCritical, res.Collected)
	assert.Equal(t, DefaultRetainCount, res.Retained)

	entries, err := s.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, DefaultRetainCount+1)
	assert.Equal(t, "mount 5", entries[1].Content)
	assert.Equal(t, "mount 19", entries[len(entries)-1].Content)
	assert.Equal(t, (30-20)*tokensPerRecord, res.TokensSaved)
}

func TestCompactionWithoutCriticalRecordsLeavesSummaryOnly(t *testing.T) {
	s := newStore(t)
	for i := 0; i < 30; i++ {
		require.NoError(t, s.Append(store.RoleUser, "just talking"))
	}
	res, err := newCompactor(t, s).MaybeCompact(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.After)

	entries, err := s.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, store.RoleSystem, entries[0].Role)
	assert.Contains(t, entries[0].Content, "Critical commands executed: 0")
}

func TestCompactionBoundHolds(t *testing.T) {
	for _, total := range []int{0, 1, 16, 26, 40, 100} {
		t.Run(fmt.Sprintf("total_%d", total), func(t *testing.T) {
			s := newStore(t)
			for i := 0; i < total; i++ {
				content := "hello"
				if i%2 == 0 {
					content = "genfstab -U /mnt"
				}
				require.NoError(t, s.Append(store.RoleUser, content))
			}
			_, err := newCompactor(t, s).Compact(context.Background())
			require.NoError(t, err)

			n, err := s.CountLines()
			require.NoError(t, err)
			assert.LessOrEqual(t, n, DefaultRetainCount+1)
		})
	}
}

func TestSummaryIsNotCritical(t *testing.T) {
	s := newStore(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Append(store.RoleUser, "plain"))
	}
	c := newCompactor(t, s)
	_, err := c.Compact(context.Background())
	require.NoError(t, err)
	res, err := c.Compact(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Collected)
}

type failingLog struct {
	entries []store.Entry
}

func (f *failingLog) Rewrite(fn func(int, iter.Seq2[store.Entry, error]) ([]store.Entry, error)) error {
	next, err := fn(len(f.entries), func(yield func(store.Entry, error) bool) {
		for _, e := range f.entries {
			if !yield(e, nil) {
				return
			}
		}
	})
	if err != nil || next == nil {
		return err
	}
	return fmt.Errorf("%w: disk full", store.ErrStoreUnavailable)
}

func TestCompactionFailureLeavesLogIntact(t *testing.T) {
	l := &failingLog{}
	for i := 0; i < 30; i++ {
		l.entries = append(l.entries, store.Entry{Role: store.RoleUser, Content: "lsblk"})
	}
	_, err := newCompactor(t, l).MaybeCompact(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrStoreUnavailable))
	assert.Len(t, l.entries, 30)
}

func TestCompactionCrashBeforeRenameKeepsOriginal(t *testing.T) {
	s := newStore(t)
	for i := 0; i < 30; i++ {
		require.NoError(t, s.Append(store.RoleUser, "mkfs.ext4 /dev/sda1"))
	}
	original, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	// a partially written side file from a crashed pass
	require.NoError(t, os.WriteFile(s.Path()+".compact", []byte("system\tpartial"), 0o644))

	reopened := store.New(s.Path(), nil)
	require.NoError(t, reopened.LoadOrCreate())
	current, err := os.ReadFile(reopened.Path())
	require.NoError(t, err)
	assert.Equal(t, string(original), string(current))

	_, err = newCompactor(t, reopened).Compact(context.Background())
	require.NoError(t, err)
	n, err := reopened.CountLines()
	require.NoError(t, err)
	assert.Equal(t, DefaultRetainCount+1, n)
}

func TestAppendDuringCompactionSurvives(t *testing.T) {
	s := newStore(t)
	for i := 0; i < 30; i++ {
		require.NoError(t, s.Append(store.RoleUser, "pacstrap /mnt base"))
	}

	l := &slowLog{Store: s, pause: 50 * time.Millisecond, appended: make(chan error, 1)}
	res, err := newCompactor(t, l).MaybeCompact(context.Background())
	require.NoError(t, err)
	require.True(t, res.Compacted)
	require.NoError(t, <-l.appended)

	entries, err := s.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, res.After+1)
	assert.Equal(t, "genfstab -U /mnt", entries[len(entries)-1].Content)
}

// slowLog appends a record from another goroutine while a rewrite is
// reading the log.
type slowLog struct {
	*store.Store
	pause    time.Duration
	appended chan error
}

func (l *slowLog) Rewrite(fn func(int, iter.Seq2[store.Entry, error]) ([]store.Entry, error)) error {
	return l.Store.Rewrite(func(lines int, entries iter.Seq2[store.Entry, error]) ([]store.Entry, error) {
		go func() { l.appended <- l.Store.Append(store.RoleUser, "genfstab -U /mnt") }()
		time.Sleep(l.pause)
		return fn(lines, entries)
	})
}

func TestCompactHonoursCancelledContext(t *testing.T) {
	s := newStore(t)
	for i := 0; i < 30; i++ {
		require.NoError(t, s.Append(store.RoleUser, "lsblk"))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newCompactor(t, s).Compact(ctx)
	require.ErrorIs(t, err, context.Canceled)

	n, err := s.CountLines()
	require.NoError(t, err)
	assert.Equal(t, 30, n)
}

func TestThresholdValidation(t *testing.T) {
	tests := []struct {
		name string
		th   Thresholds
		ok   bool
	}{
		{"defaults", DefaultThresholds(), true},
		{"retain above cap", Thresholds{EvictionThreshold: 25, MaxCritical: 10, RetainCount: 15}, false},
		{"zero threshold", Thresholds{EvictionThreshold: 0, MaxCritical: 20, RetainCount: 15}, false},
		{"negative retain", Thresholds{EvictionThreshold: 25, MaxCritical: 20, RetainCount: -1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.th.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidThresholds)
		})
	}
}

func TestSummaryText(t *testing.T) {
	got := Summary(3, 30, 4)
	assert.True(t, strings.HasPrefix(got, "[ARCH INSTALL]"))
	assert.Contains(t, got, "from 30 to 4 records")
}
