package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "marmotd",
	Short: "marmotd - end-to-end encrypted group chat and audio engine",
	Long: `marmotd runs a single marmot session: it bootstraps an MLS group
(creating one or joining an existing invite), connects to a MoQ relay
for content-blind transport, and drives the group/media state machine
from a local YAML config file.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	// Commands are registered in their own files:
	// - run.go: runCmd
	// - keygen.go: keygenCmd
	// - config.go: configInitCmd
}
