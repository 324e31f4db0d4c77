package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new hex-encoded identity secret",
	Long: `Generate a random 32-byte secret suitable for the "secret" field of
a marmot config file. The secret deterministically derives the process's
long-term identity key (spec "create_identity"); losing it means losing
the identity, and two processes sharing one is a protocol violation.`,
	RunE: runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}

func runKeygen(cmd *cobra.Command, args []string) error {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generate secret: %w", err)
	}
	fmt.Println(hex.EncodeToString(secret))
	return nil
}
