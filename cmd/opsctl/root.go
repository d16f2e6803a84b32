package main

import (
	"encoding/json"
	"fmt"
	"os"

	"merchantops/internal/app"
	"merchantops/internal/config"
	"merchantops/internal/database"
	"merchantops/internal/logger"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	logLevel string
	migrate  bool
)

var rootCmd = &cobra.Command{
	Use:   "opsctl",
	Short: "Operator tooling for the merchant operations service",
	Long: `opsctl runs maintenance tasks against the merchant operations database.

Examples:
  # Seed the built-in roles and capability catalogue
  opsctl seed-roles

  # List executions stuck in RUNNING for more than an hour
  opsctl executions stuck --older-than 1h

  # Release a stuck execution so it can be retried
  opsctl executions release 6f1c...

  # Compare a tenant's wallet balance with its ledger
  opsctl reconcile --tenant 0b7e...

  # Mint a development token
  opsctl token --user 1d2c... --tenant 0b7e... --name "Ada"
`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&migrate, "migrate", false, "Run schema migrations before the command")

	rootCmd.AddCommand(seedRolesCmd)
	rootCmd.AddCommand(rolesCmd)
	rootCmd.AddCommand(membersCmd)
	rootCmd.AddCommand(executionsCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(outboxCmd)
	rootCmd.AddCommand(tokenCmd)
}

// openApp connects to the configured database and builds the service graph.
func openApp() (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(os.Stderr, logLevel)

	db, err := database.NewConnection(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	if migrate {
		if err := database.AutoMigrate(db); err != nil {
			return nil, err
		}
	}
	return app.New(cfg, db, log), nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(name, value string) (uuid.UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("invalid %s %q", name, value)
	}
	return id, nil
}
