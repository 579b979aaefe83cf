package cmd

import (
	"fmt"

	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/spf13/cobra"

	"github.com/gellingson/carbyr/internal/storage/postgres"
)

func newMigrateCommand() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long: `Apply or roll back the listings schema, or install the job queue tables.

Examples:
  carbyr migrate up
  carbyr migrate down --steps 1
  carbyr migrate version
  carbyr migrate river`,
	}
	cmd.PersistentFlags().StringVar(&path, "path", postgres.DefaultMigrationsPath, "directory holding the migration files")

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if err := postgres.MigrateUp(cfg.Database.URL, path); err != nil {
				return err
			}
			logger.Info().Str("path", path).Msg("migrations applied")
			return printVersion(cmd, cfg.Database.URL, path)
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps < 1 {
				return fmt.Errorf("--steps must be at least 1")
			}
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if err := postgres.MigrateDown(cfg.Database.URL, path, steps); err != nil {
				return err
			}
			logger.Info().Int("steps", steps).Msg("migrations rolled back")
			return printVersion(cmd, cfg.Database.URL, path)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			return printVersion(cmd, cfg.Database.URL, path)
		},
	}

	riverCmd := &cobra.Command{
		Use:   "river",
		Short: "Install or upgrade the job queue tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := postgres.Connect(ctx, cfg.Database.URL, 2)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
			if err != nil {
				return fmt.Errorf("river migrator: %w", err)
			}
			res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, &rivermigrate.MigrateOpts{})
			if err != nil {
				return fmt.Errorf("river migrate: %w", err)
			}
			logger.Info().Int("applied", len(res.Versions)).Msg("river migrations applied")
			return nil
		},
	}

	cmd.AddCommand(up, down, version, riverCmd)
	return cmd
}

func printVersion(cmd *cobra.Command, databaseURL, path string) error {
	v, dirty, err := postgres.MigrationVersion(databaseURL, path)
	if err != nil {
		return err
	}
	if dirty {
		fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty)\n", v)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
	return nil
}
