package cmd

import (
	"errors"
	"fmt"

	"github.com/arisu-i18n/arisu/internal/storage/postgres"
	"github.com/spf13/cobra"
)

func newMigrateCommand(opts *globalOptions) *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long: `Apply or roll back the embedded SQL migrations against DATABASE_URL.

Examples:
  server migrate up
  server migrate down --steps 1
  server migrate version`,
	}

	databaseURL := func() (string, error) {
		cfg, err := opts.loadConfig()
		if err != nil {
			return "", fmt.Errorf("config error: %w", err)
		}
		if cfg.Database.URL == "" {
			return "", errors.New("DATABASE_URL is required for migrations")
		}
		return cfg.Database.URL, nil
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := databaseURL()
			if err != nil {
				return err
			}
			if err := postgres.MigrateUp(url); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps < 1 {
				return fmt.Errorf("--steps must be at least 1, got %d", steps)
			}
			url, err := databaseURL()
			if err != nil {
				return err
			}
			if err := postgres.MigrateDown(url, steps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := databaseURL()
			if err != nil {
				return err
			}
			v, dirty, err := postgres.MigrationVersion(url)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version: %d dirty: %t\n", v, dirty)
			return nil
		},
	}

	migrateCmd.AddCommand(up, down, version)
	return migrateCmd
}
