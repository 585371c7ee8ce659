package main

import (
	"github.com/spf13/cobra"

	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, lg, err := bootstrap()
			if err != nil {
				return err
			}
			defer lg.Sync()
			sugar := lg.Sugar()

			db, err := database.Connect(cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()
			return database.Migrate(cmd.Context(), db, sugar)
		},
	}
}
