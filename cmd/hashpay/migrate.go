package main

import (
	"errors"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "apply pending PostgreSQL migrations and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, log, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.Database.Enabled {
			return errors.New("database.enabled is false; nothing to migrate")
		}
		return migrate(cmd.Context(), cfg, log)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
