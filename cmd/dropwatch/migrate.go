package main

import (
	"errors"
	"fmt"

	"dropwatch/internal/database"
	"dropwatch/internal/migrations"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply ingest journal migrations to the configured database",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			if a.cfg.DatabaseURL == "" {
				return errors.New("database-url is not configured")
			}

			db, err := database.Connect(cmd.Context(), a.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer closeDB(db, a.logger)

			var names []string
			if dryRun {
				names, err = migrations.Pending(cmd.Context(), db)
			} else {
				names, err = migrations.Apply(cmd.Context(), db)
			}
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}

			if len(names) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List pending migrations without applying them")
	return cmd
}
