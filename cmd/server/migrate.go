package main

import (
	"errors"

	"github.com/Dremora/endpoints/internal/db"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long:  "Apply the embedded Postgres migrations to store.database_url",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Store.DatabaseURL == "" {
			return errors.New("store.database_url is required")
		}
		return db.Migrate(cfg.Store.DatabaseURL)
	},
}
