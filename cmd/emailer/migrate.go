package main

import (
	"github.com/spf13/cobra"

	"github.com/sungwon/emailer/internal/storage"
)

func newMigrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			return storage.Migrate(cmd.Context(), db, a.cfg.Database.MigrationsTable, a.log)
		},
	}
}
