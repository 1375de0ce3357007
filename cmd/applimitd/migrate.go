package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/applimit/internal/audit"
	"github.com/vitaliisemenov/applimit/internal/config"
)

func newMigrateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run the audit store's schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			// audit.Open runs goose's pending migrations as part of opening
			// the database (internal/audit/migrations.go), so a plain
			// open-then-close is this command's entire job.
			store, err := audit.Open(cmd.Context(), cfg.Audit.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			logger.Info("audit store migrations applied", "db_path", cfg.Audit.DBPath)
			return nil
		},
	}
}
