package classify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestClassifyPhasePriority(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		phase    Phase
		critical bool
	}{
		{"no keywords", "hello, how are you?", PhaseGeneral, false},
		{"preparation", "run lsblk to list disks", PhasePreparation, true},
		{"partition beats mount", "fdisk /dev/sda then mount /dev/sda1 /mnt", PhasePartitioning, true},
		{"formatting", "mkfs.ext4 /dev/sda2", PhaseFormatting, true},
		{"umount counts as mount", "umount -R /mnt", PhaseFormatting, true},
		{"base install", "pacstrap /mnt base linux", PhaseBaseInstall, true},
		{"chroot", "arch-chroot /mnt", PhaseConfiguration, true},
		{"bootloader", "grub-install --target=x86_64-efi", PhaseBootloader, true},
		{"grub alone is not critical", "what is grub?", PhaseBootloader, false},
		{"parted is phase 2 but not critical", "parted /dev/sda print", PhasePartitioning, false},
		{"ping is critical without phase", "ping archlinux.org", PhaseGeneral, true},
		{"systemctl enable", "systemctl enable NetworkManager", PhaseGeneral, true},
		{"systemctl status is not", "systemctl status sshd", PhaseGeneral, false},
		{"case sensitive", "LSBLK", PhaseGeneral, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.content)
			if got.Phase != tt.phase {
				t.Fatalf("phase = %d (%s), want %d (%s)", got.Phase, got.Phase, tt.phase, tt.phase)
			}
			if got.Critical != tt.critical {
				t.Fatalf("critical = %v, want %v", got.Critical, tt.critical)
			}
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	c := New(nil)
	inputs := []string{"", "lsblk", "fdisk mount", "random text", "pacstrap /mnt base"}
	for _, in := range inputs {
		first := c.Classify(in)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, c.Classify(in), "input %q", in)
		}
	}
}

func TestClassifyDestructive(t *testing.T) {
	assert.True(t, Classify("mkfs.fat -F32 /dev/sda1").Destructive)
	assert.True(t, Classify("wipefs -a /dev/sda").Destructive)
	assert.True(t, Classify("dd if=/dev/zero of=/dev/sda").Destructive)
	assert.False(t, Classify("lsblk -f").Destructive)
	assert.False(t, Classify("add a new user").Destructive)
}

func TestPhaseNames(t *testing.T) {
	assert.Equal(t, "General", PhaseGeneral.Name())
	assert.Equal(t, "Disk partitioning", PhasePartitioning.Name())
	assert.Equal(t, "Bootloader installation", PhaseBootloader.Name())
	assert.Equal(t, "General", Phase(42).Name())
}

func TestParseRulesValidation(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty document", ""},
		{"missing phases", "critical: [lsblk]\n"},
		{"empty token", "critical: [lsblk, '']\nphases: []\n"},
		{"phase out of order", `critical: [lsblk]
phases:
  - {phase: 2, keywords: [a]}
  - {phase: 1, keywords: [b]}
  - {phase: 3, keywords: [c]}
  - {phase: 4, keywords: [d]}
  - {phase: 5, keywords: [e]}
  - {phase: 6, keywords: [f]}
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRules([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidRules), "got %v", err)
		})
	}
}

func TestDefaultRulesOrder(t *testing.T) {
	rules := DefaultRules()
	require.Len(t, rules.Phases, 6)
	for i, group := range rules.Phases {
		assert.Equal(t, Phase(i+1), group.Phase)
	}
	assert.True(t, slices.Contains(rules.Critical, "systemctl enable"))
}

func TestBuildPhaseState(t *testing.T) {
	c := New(nil)
	contents := []string{"hello", "lsblk", "cfdisk /dev/sda", "just chatting", "lsblk -f"}
	seq := func(yield func(string, error) bool) {
		for _, s := range contents {
			if !yield(s, nil) {
				return
			}
		}
	}
	state, err := c.BuildPhaseState(seq)
	require.NoError(t, err)
	assert.True(t, state.Seen[PhaseGeneral])
	assert.True(t, state.Seen[PhasePreparation])
	assert.True(t, state.Seen[PhasePartitioning])
	assert.False(t, state.Seen[PhaseFormatting])
	// phases are not monotonic: the latest phased record wins
	assert.Equal(t, PhasePreparation, state.Current)
	assert.Equal(t, 2, state.Completed())
}

func TestBuildPhaseStateStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	seq := func(yield func(string, error) bool) {
		if !yield("mkfs.ext4 /dev/sda1", nil) {
			return
		}
		yield("", boom)
	}
	state, err := New(nil).BuildPhaseState(seq)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, PhaseFormatting, state.Current)
}

func TestWatcherReloadsRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, defaultRules, 0o644))

	c := New(nil)
	w, err := NewWatcher(path, c, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	custom := `critical: [hello]
phases:
  - {phase: 1, keywords: [alpha]}
  - {phase: 2, keywords: [beta]}
  - {phase: 3, keywords: [gamma]}
  - {phase: 4, keywords: [delta]}
  - {phase: 5, keywords: [epsilon]}
  - {phase: 6, keywords: [zeta]}
`
	require.NoError(t, os.WriteFile(path, []byte(custom), 0o644))

	require.Eventually(t, func() bool {
		return c.Classify("hello gamma").Phase == PhaseFormatting
	}, 5*time.Second, 20*time.Millisecond)
	assert.True(t, c.IsCritical("hello"))
	assert.False(t, c.IsCritical("lsblk"))
}

func TestWatcherKeepsRulesOnInvalidDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, defaultRules, 0o644))

	c := New(nil)
	w, err := NewWatcher(path, c, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("critical: []\n"), 0o644))
	time.Sleep(500 * time.Millisecond)

	assert.Equal(t, 0, w.Reloads())
	assert.True(t, c.IsCritical("lsblk"))
}

func TestWatchRulesReleasesWatcherWhenStartFails(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	path := filepath.Join(t.TempDir(), "missing", "rules.yaml")
	w, err := WatchRules(context.Background(), path, New(nil), nil)
	require.Error(t, err)
	assert.Nil(t, w)
}

func TestWatchRulesStartsWatcher(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, defaultRules, 0o644))

	w, err := WatchRules(context.Background(), path, New(nil), nil)
	require.NoError(t, err)
	w.Stop()
}
