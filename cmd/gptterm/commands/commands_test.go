package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("GPTTERM_CONFIG_DIR", dir)
	t.Setenv("GPTTERM_CONFIG_PATH", "")
	t.Setenv("GPTTERM_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GPTTERM_MODEL", "")
	t.Setenv("GPTTERM_BASE_URL", "")
	return dir
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd("test")
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	require.NoError(t, root.Execute())
	return out.String()
}

func TestVersionCommand(t *testing.T) {
	isolate(t)
	assert.Contains(t, execute(t, "version"), "gptterm version test")
}

func TestContextCommands(t *testing.T) {
	dir := isolate(t)
	contextPath := filepath.Join(dir, "context.txt")

	assert.Equal(t, contextPath+"\n", execute(t, "context", "path"))
	_, err := os.Stat(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err, "first run writes the default config")

	require.NoError(t, os.WriteFile(contextPath, []byte("user\thello\nsystem\t$ lsblk\n"), 0o644))
	out := execute(t, "context")
	assert.Contains(t, out, "user\thello\n")
	assert.Contains(t, out, "system\t$ lsblk\n")

	assert.Contains(t, execute(t, "compact", "--if-needed"), "nothing to do")
	assert.Contains(t, execute(t, "compact"), "compacted 2 -> 2 records (1 critical kept")

	assert.Contains(t, execute(t, "context", "reset"), "context cleared")
	data, err := os.ReadFile(contextPath)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestOneShotPromptWithMockClient(t *testing.T) {
	dir := isolate(t)
	t.Setenv("GPTTERM_MOCK_LLM", "1")

	execute(t, "chat", "--prompt", "hello there")

	data, err := os.ReadFile(filepath.Join(dir, "context.txt"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "user\thello there", lines[0])
	assert.Equal(t, "assistant\tMOCK RESPONSE: hello there", lines[1])

	_, err = os.Stat(filepath.Join(dir, "journal.db"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "gptterm.log"))
	assert.NoError(t, err)
}

func TestDataDirFlag(t *testing.T) {
	isolate(t)
	other := filepath.Join(t.TempDir(), "elsewhere")
	assert.Equal(t, filepath.Join(other, "context.txt")+"\n", execute(t, "--data-dir", other, "context", "path"))
}

func TestUnknownModeInConfig(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: poetry\n"), 0o644))

	root := NewRootCmd("test")
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", path, "version"})
	require.NoError(t, root.Execute(), "version does not read the config")

	root = NewRootCmd("test")
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", path, "context", "path"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mode must be one of")
}

func TestFormatUTCOffset(t *testing.T) {
	tests := []struct {
		seconds int
		want    string
	}{
		{0, "+00:00"},
		{3600, "+01:00"},
		{-5 * 3600, "-05:00"},
		{5*3600 + 1800, "+05:30"},
	}
	for _, tt := range tests {
		if got := formatUTCOffset(tt.seconds); got != tt.want {
			t.Errorf("formatUTCOffset(%d) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestEnvironmentMetadata(t *testing.T) {
	t.Setenv("SHELL", "/bin/zsh")
	t.Setenv("LC_ALL", "de_DE.UTF-8")
	meta := buildEnvironmentMetadata("1.2.3")
	assert.Contains(t, meta, "- Shell: /bin/zsh")
	assert.Contains(t, meta, "- System Language: de_DE.UTF-8")
	assert.Contains(t, meta, "- gptterm Version: 1.2.3")
}
