package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/xXDeath420Xx/livebot/internal/adapter/postgres"
	"github.com/xXDeath420Xx/livebot/internal/platform/config"
)

func migrateCmd(load func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := load()
			db, err := setupDB(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := postgres.RunMigrationsWithLock(cmd.Context(), db); err != nil {
				return err
			}
			slog.Info("Migrations applied")
			return nil
		},
	}
}
