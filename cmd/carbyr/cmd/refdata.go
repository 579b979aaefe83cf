package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gellingson/carbyr/internal/domain/listings"
	"github.com/gellingson/carbyr/internal/storage/postgres"
)

func newRefDataCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refdata",
		Short: "Inspect make/model reference data",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Load the reference data and report its size",
		Long: `Load makes and models the way an import run does
and print how many were found. Fails when the tables are unreadable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := postgres.Connect(ctx, cfg.Database.URL, 2)
			if err != nil {
				return err
			}
			defer pool.Close()
			repo, err := postgres.NewRepository(pool)
			if err != nil {
				return err
			}

			cache := listings.NewRefDataCache(repo.RefData())
			if err := cache.Reload(ctx); err != nil {
				return fmt.Errorf("load reference data: %w", err)
			}
			makes, models := cache.Current().Size()
			fmt.Fprintf(cmd.OutOrStdout(), "makes: %d\nmodels: %d\n", makes, models)
			return nil
		},
	})
	return cmd
}
