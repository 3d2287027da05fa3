package main

import (
	"log/slog"
	"os"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"

	"rentbilling/internal/billing"
	"rentbilling/internal/common/database"
	"rentbilling/internal/common/logging"
)

// Config holds the settings shared by all subcommands.
type Config struct {
	Log      logging.Config
	Database database.Config
	Billing  billing.Config
}

func loadConfig() (Config, *slog.Logger, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, nil, err
	}
	return cfg, logging.New(cfg.Log, os.Stderr), nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "billingctl",
		Short: "Rent billing maintenance commands",
		Long: `billingctl triggers invoice generation and manages the billing schema.

Configuration is read from the environment, the same variables the billing
service uses (DATABASE_URL, BILLING_TIMEZONE, LOG_LEVEL, ...).`,
		SilenceUsage: true,
	}

	root.AddCommand(newGenerateCmd(), newMigrateCmd())
	return root
}
