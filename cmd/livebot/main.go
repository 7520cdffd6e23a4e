package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/xXDeath420Xx/livebot/internal/platform/config"
	"github.com/xXDeath420Xx/livebot/internal/platform/logging"
	"github.com/xXDeath420Xx/livebot/internal/platform/version"
)

func main() {
	var cfg *config.Config

	rootCmd := &cobra.Command{
		Use:           "livebot",
		Short:         "Livestream announcements and live roles for Discord communities",
		Version:       version.Get().Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			cfg = loaded
			logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
			return nil
		},
	}

	load := func() *config.Config { return cfg }

	rootCmd.AddCommand(serveCmd(load))
	rootCmd.AddCommand(migrateCmd(load))
	rootCmd.AddCommand(purgeCmd(load))
	rootCmd.AddCommand(syncTeamsCmd(load))
	rootCmd.AddCommand(reconcileCmd(load))
	rootCmd.AddCommand(deadLettersCmd(load))

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
