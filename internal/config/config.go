package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for a fresh install.
const (
	DefaultModel           = "gpt-4o-mini"
	DefaultBaseURL         = "https://api.openai.com/v1"
	DefaultMode            = "arch"
	DefaultTemperature     = 0.7
	DefaultMaxTokens       = 1024
	DefaultEviction        = 25
	DefaultMaxCritical     = 20
	DefaultRetain          = 15
	DefaultAdmissionFloor  = 10
	DefaultBridgeTimeout   = 30
	DefaultShutdownGraceMS = 500
	DefaultMaxLineBytes    = 1 << 20
)

// CompactionConfig holds the context-size thresholds.
type CompactionConfig struct {
	EvictionThreshold int `yaml:"eviction_threshold"`
	MaxCritical       int `yaml:"max_critical"`
	RetainCount       int `yaml:"retain_count"`
	// AdmissionFloor is the line count below which every record is kept
	// in install mode, critical or not.
	AdmissionFloor int `yaml:"admission_floor"`
}

// BridgeConfig describes the helper process used for command execution.
type BridgeConfig struct {
	Enabled bool `yaml:"enabled"`
	// Command defaults to this executable with the "bridge" subcommand.
	Command               string   `yaml:"command,omitempty"`
	Args                  []string `yaml:"args,omitempty"`
	RequestTimeoutSeconds int      `yaml:"request_timeout_seconds"`
	ShutdownGraceMillis   int      `yaml:"shutdown_grace_millis"`
	MaxLineBytes          int      `yaml:"max_line_bytes"`
}

// LogConfig controls the rotating log file.
type LogConfig struct {
	Path       string `yaml:"path,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	JSON       bool   `yaml:"json"`
}

// Config captures the tunable runtime settings for the terminal.
type Config struct {
	Model                 string           `yaml:"model"`
	BaseURL               string           `yaml:"base_url"`
	APIKey                string           `yaml:"api_key,omitempty"`
	Mode                  string           `yaml:"mode"`
	Temperature           float64          `yaml:"temperature"`
	MaxTokens             int              `yaml:"max_tokens"`
	RequestTimeoutSeconds int              `yaml:"request_timeout_seconds"`
	ShellTimeoutSeconds   int              `yaml:"shell_timeout_seconds"`
	DataDir               string           `yaml:"data_dir"`
	RulesPath             string           `yaml:"rules_path,omitempty"`
	WatchRules            bool             `yaml:"watch_rules"`
	Log                   LogConfig        `yaml:"log"`
	Compaction            CompactionConfig `yaml:"compaction"`
	Bridge                BridgeConfig     `yaml:"bridge"`
}

// Default returns the configuration written on first run.
func Default() Config {
	cfg := Config{
		Model:       DefaultModel,
		BaseURL:     DefaultBaseURL,
		Mode:        DefaultMode,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		WatchRules:  true,
		Bridge:      BridgeConfig{Enabled: true},
	}
	cfg.applyDefaults()
	return cfg
}

// EnsureDefaultConfig creates config.yaml with defaults if it doesn't exist.
func EnsureDefaultConfig() error {
	configPath := Path()
	if _, err := os.Stat(configPath); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	cfg := Default()
	// data_dir follows the config dir unless the user pins it
	cfg.DataDir = ""
	return write(configPath, cfg)
}

// LoadUserConfig loads configuration from ~/.gptterm/config.yaml, or from
// GPTTERM_CONFIG_PATH when set. A missing file yields defaults.
func LoadUserConfig() (Config, error) {
	configPath := Path()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := Default()
		cfg.applyEnv()
		return cfg, cfg.validate()
	}
	return Load(configPath)
}

// Load reads the YAML configuration at path on top of the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	cfg.DataDir = ""
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDefaults fills in optional values to keep the YAML file concise.
func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Model) == "" {
		c.Model = DefaultModel
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Mode == "" {
		c.Mode = DefaultMode
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = 90
	}
	if c.ShellTimeoutSeconds <= 0 {
		c.ShellTimeoutSeconds = 60
	}
	if c.DataDir == "" {
		c.DataDir = GetConfigDir()
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = 5
	}
	if c.Log.MaxBackups <= 0 {
		c.Log.MaxBackups = 3
	}
	if c.Compaction.EvictionThreshold == 0 {
		c.Compaction.EvictionThreshold = DefaultEviction
	}
	if c.Compaction.MaxCritical == 0 {
		c.Compaction.MaxCritical = DefaultMaxCritical
	}
	if c.Compaction.RetainCount == 0 {
		c.Compaction.RetainCount = DefaultRetain
	}
	if c.Compaction.AdmissionFloor == 0 {
		c.Compaction.AdmissionFloor = DefaultAdmissionFloor
	}
	if c.Bridge.RequestTimeoutSeconds == 0 {
		c.Bridge.RequestTimeoutSeconds = DefaultBridgeTimeout
	}
	if c.Bridge.ShutdownGraceMillis <= 0 {
		c.Bridge.ShutdownGraceMillis = DefaultShutdownGraceMS
	}
	if c.Bridge.MaxLineBytes <= 0 {
		c.Bridge.MaxLineBytes = DefaultMaxLineBytes
	}
}

// applyEnv lets the environment override the file.
func (c *Config) applyEnv() {
	if key := strings.TrimSpace(os.Getenv("GPTTERM_API_KEY")); key != "" {
		c.APIKey = key
	} else if c.APIKey == "" {
		c.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	if model := strings.TrimSpace(os.Getenv("GPTTERM_MODEL")); model != "" {
		c.Model = model
	}
	if base := strings.TrimSpace(os.Getenv("GPTTERM_BASE_URL")); base != "" {
		c.BaseURL = strings.TrimRight(base, "/")
	}
}

func (c Config) validate() error {
	if c.Temperature < 0 || c.Temperature > 2.0 {
		return fmt.Errorf("temperature must be between 0 and 2.0 (got %f)", c.Temperature)
	}
	if c.RequestTimeoutSeconds > 600 {
		return fmt.Errorf("request_timeout_seconds cannot exceed 600 (10 minutes)")
	}
	if c.ShellTimeoutSeconds > 600 {
		return fmt.Errorf("shell_timeout_seconds cannot exceed 600 (10 minutes)")
	}
	if c.Bridge.RequestTimeoutSeconds > 600 {
		return fmt.Errorf("bridge.request_timeout_seconds cannot exceed 600 (10 minutes)")
	}
	switch c.Mode {
	case "chat", "arch", "creator", "install":
	default:
		return fmt.Errorf("mode must be one of chat, arch, creator, install (got %q)", c.Mode)
	}
	cc := c.Compaction
	if cc.EvictionThreshold <= 0 || cc.MaxCritical <= 0 || cc.RetainCount <= 0 {
		return fmt.Errorf("compaction thresholds must be positive")
	}
	if cc.RetainCount > cc.MaxCritical {
		return fmt.Errorf("compaction.retain_count (%d) cannot exceed compaction.max_critical (%d)", cc.RetainCount, cc.MaxCritical)
	}
	if cc.AdmissionFloor < 0 || cc.AdmissionFloor > cc.EvictionThreshold {
		return fmt.Errorf("compaction.admission_floor must be between 0 and eviction_threshold")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir must be set")
	}
	return nil
}

// RequestTimeout turns the integer value into a duration for HTTP clients.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ShellTimeout bounds locally executed commands.
func (c Config) ShellTimeout() time.Duration {
	return time.Duration(c.ShellTimeoutSeconds) * time.Second
}

// BridgeTimeout bounds one bridge request. Negative seconds disable it.
func (c Config) BridgeTimeout() time.Duration {
	if c.Bridge.RequestTimeoutSeconds < 0 {
		return -1
	}
	return time.Duration(c.Bridge.RequestTimeoutSeconds) * time.Second
}

// BridgeGrace is the wait between shutdown steps.
func (c Config) BridgeGrace() time.Duration {
	return time.Duration(c.Bridge.ShutdownGraceMillis) * time.Millisecond
}

// ContextPath is the conversation context file.
func (c Config) ContextPath() string { return filepath.Join(c.DataDir, "context.txt") }

// JournalPath is the sqlite session journal.
func (c Config) JournalPath() string { return filepath.Join(c.DataDir, "journal.db") }

// HistoryPath is the REPL input history.
func (c Config) HistoryPath() string { return filepath.Join(c.DataDir, "history") }

// LogPath is the rotating log file.
func (c Config) LogPath() string {
	if c.Log.Path != "" {
		return c.Log.Path
	}
	return filepath.Join(c.DataDir, "gptterm.log")
}

// GetConfigDir returns GPTTERM_CONFIG_DIR or ~/.gptterm.
func GetConfigDir() string {
	if configDir := os.Getenv("GPTTERM_CONFIG_DIR"); configDir != "" {
		return configDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gptterm"
	}
	return filepath.Join(home, ".gptterm")
}

// Path returns the config file location.
func Path() string {
	if p := os.Getenv("GPTTERM_CONFIG_PATH"); p != "" {
		return p
	}
	return filepath.Join(GetConfigDir(), "config.yaml")
}

// Save writes the config to the user's config file. Keys supplied through
// the environment are not persisted.
func Save(c Config) error {
	if env := os.Getenv("GPTTERM_API_KEY"); env != "" && env == c.APIKey {
		c.APIKey = ""
	} else if env := os.Getenv("OPENAI_API_KEY"); env != "" && env == c.APIKey {
		c.APIKey = ""
	}
	return write(Path(), c)
}

func write(path string, c Config) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
