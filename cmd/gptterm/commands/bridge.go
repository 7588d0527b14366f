package commands

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"gptterm/internal/bridge"
	"gptterm/internal/config"
	"gptterm/internal/logging"
)

// newBridgeCmd serves the bridge protocol on stdin/stdout. It is started by
// the install session and is not meant to be run by hand.
func newBridgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "bridge",
		Short:  "Serve command execution requests on stdin/stdout",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Ctrl+C in the terminal reaches the whole process group; the
			// parent decides when the peer stops.
			signal.Ignore(os.Interrupt)

			// stdout carries the protocol, so diagnostics go to stderr,
			// which the client forwards into its own log.
			logger := logging.Init(os.Stderr)

			cfg, err := config.LoadUserConfig()
			if err != nil {
				logger.Printf("peer: using default config: %v", err)
				cfg = config.Default()
			}
			peer := bridge.NewPeer(cfg.ShellTimeout(), logging.Named("peer"))
			peer.MaxLineBytes = cfg.Bridge.MaxLineBytes
			return peer.Serve(cmd.Context(), os.Stdin, os.Stdout)
		},
	}
}
