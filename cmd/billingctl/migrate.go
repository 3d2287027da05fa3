package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"rentbilling/internal/common/database"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate up|down",
		Short:     "Apply or roll back the billing schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(database.Up), string(database.Down)},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return database.Migrate(cfg.Database.URL, database.Direction(args[0]), logger)
		},
	}
}
