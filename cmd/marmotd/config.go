package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/marmot-chat/marmot/internal/config"
)

var (
	configInitRole          string
	configInitSignallingURL string
	configInitMoQURL        string
	configInitGroupID       string
	configInitOutput        string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage marmot config files",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter marmot config file",
	Long: `Scaffold a marmot config file with a fresh identity secret and
bootstrap session id. For role=join, --group-id must name the group
being joined (the invite handshake still negotiates the actual welcome;
group_id here only seeds session.Session before the controller starts).`,
	RunE: runConfigInit,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)

	configInitCmd.Flags().StringVar(&configInitRole, "role", config.RoleCreate, "session role (create, join)")
	configInitCmd.Flags().StringVar(&configInitSignallingURL, "signalling-url", "ws://127.0.0.1:4848", "signalling relay websocket URL")
	configInitCmd.Flags().StringVar(&configInitMoQURL, "moq-url", "https://127.0.0.1:4443", "MoQ relay URL")
	configInitCmd.Flags().StringVar(&configInitGroupID, "group-id", "", "group id to join (role=join only)")
	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "marmot.yaml", "output config path")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if configInitRole != config.RoleCreate && configInitRole != config.RoleJoin {
		return fmt.Errorf("role must be %q or %q", config.RoleCreate, config.RoleJoin)
	}
	if configInitRole == config.RoleJoin && configInitGroupID == "" {
		return fmt.Errorf("--group-id is required when --role=%s", config.RoleJoin)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generate identity secret: %w", err)
	}

	cfg := &config.Config{
		Environment:   "development",
		Role:          configInitRole,
		SignallingURL: configInitSignallingURL,
		MoQURL:        configInitMoQURL,
		SessionID:     uuid.NewString(),
		Secret:        hex.EncodeToString(secret),
		GroupID:       configInitGroupID,
	}

	if err := config.SaveToFile(cfg, configInitOutput); err != nil {
		return err
	}
	fmt.Printf("wrote %s (role=%s, session_id=%s)\n", configInitOutput, cfg.Role, cfg.SessionID)
	return nil
}
