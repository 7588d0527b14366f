// Package commands wires the gptterm command line.
package commands

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"gptterm/internal/agent"
	"gptterm/internal/config"
	"gptterm/internal/llm"
	"gptterm/internal/llm/mockclient"
	"gptterm/internal/logging"
	"gptterm/internal/openai"
	"gptterm/internal/prompts"
)

// NewRootCmd builds the command tree. Without a subcommand the REPL starts
// in the mode named by the config file.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "gptterm",
		Short: "A terminal assistant backed by an OpenAI-compatible model",
		Long: `gptterm is a conversational terminal. It keeps the conversation in a
plain context file, runs suggested shell commands after confirmation and
guides Arch Linux installations step by step in install mode.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			mode, err := prompts.ParseMode(cfg.Mode)
			if err != nil {
				return err
			}
			return runSession(cmd, cfg, mode, version)
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "Path to config.yaml (default ~/.gptterm/config.yaml)")
	flags.String("data-dir", "", "Directory for the context file, journal and logs")
	flags.String("model", "", "Model name override")
	flags.Bool("no-bridge", false, "Run commands locally instead of through the bridge")
	flags.StringP("prompt", "p", "", "Answer a single prompt and exit")

	for _, mode := range prompts.Modes {
		root.AddCommand(newModeCmd(mode, version))
	}
	root.AddCommand(
		newBridgeCmd(),
		newContextCmd(),
		newCompactCmd(),
		newVersionCmd(version),
	)
	return root
}

func newModeCmd(mode prompts.Mode, version string) *cobra.Command {
	return &cobra.Command{
		Use:   string(mode),
		Short: fmt.Sprintf("Start the %s session", mode.Title()),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runSession(cmd, cfg, mode, version)
		},
	}
}

// loadConfig reads the config file named by --config, or the user config
// (written with defaults on first run), then applies flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	flags := cmd.Root().PersistentFlags()

	var (
		cfg config.Config
		err error
	)
	if path, _ := flags.GetString("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		if err := config.EnsureDefaultConfig(); err != nil {
			return config.Config{}, fmt.Errorf("ensure default config: %w", err)
		}
		cfg, err = config.LoadUserConfig()
	}
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}

	if dir, _ := flags.GetString("data-dir"); strings.TrimSpace(dir) != "" {
		cfg.DataDir = dir
	}
	if model, _ := flags.GetString("model"); strings.TrimSpace(model) != "" {
		cfg.Model = strings.TrimSpace(model)
	}
	if noBridge, _ := flags.GetBool("no-bridge"); noBridge {
		cfg.Bridge.Enabled = false
	}
	return cfg, nil
}

func runSession(cmd *cobra.Command, cfg config.Config, mode prompts.Mode, version string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, cfg, mode == prompts.ModeInstall)
	if err != nil {
		return err
	}
	defer s.Close()

	prompts.SetMetadata(buildEnvironmentMetadata(version))

	opts := agent.Options{
		Mode:       mode,
		Version:    version,
		Journal:    s.journal,
		Classifier: s.classifier,
	}
	if s.bridge != nil {
		opts.Bridge = s.bridge
	}
	a := agent.New(newLLMClient(cfg, s.logger), cfg, s.store, s.compactor, logging.Named("agent"), opts)

	s.events.Info("session started", map[string]interface{}{"mode": string(mode), "model": cfg.Model})
	defer s.events.Info("session ended")

	if p, _ := cmd.Root().PersistentFlags().GetString("prompt"); strings.TrimSpace(p) != "" {
		return a.RunOneShot(ctx, p)
	}
	return a.Run(ctx)
}

// newLLMClient returns the HTTP client, or the echo mock when
// GPTTERM_MOCK_LLM=1.
func newLLMClient(cfg config.Config, logger *log.Logger) llm.Client {
	if os.Getenv("GPTTERM_MOCK_LLM") == "1" {
		logger.Printf("GPTTERM_MOCK_LLM=1 detected; using mock LLM client")
		return mockclient.New()
	}
	return openai.NewClient(cfg.BaseURL, cfg.APIKey, cfg.RequestTimeout(), logging.Named("openai"))
}
