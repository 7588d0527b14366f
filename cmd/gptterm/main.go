package main

import (
	"fmt"
	"os"

	"gptterm/cmd/gptterm/commands"
)

// Version is set via -ldflags during build
var Version = "dev"

func main() {
	rootCmd := commands.NewRootCmd(Version)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
