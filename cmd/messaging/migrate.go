package main

import (
	"github.com/spf13/cobra"

	"github.com/LeventeLantos/event-messaging/internal/repo"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			db, err := repo.Open(cmd.Context(), cfg.Database.Driver, cfg.Database.URL)
			if err != nil {
				return err
			}
			defer db.Close()

			logger.Info("schema applied", "driver", cfg.Database.Driver)
			return nil
		},
	}
}
