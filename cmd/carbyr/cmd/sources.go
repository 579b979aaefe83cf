package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gellingson/carbyr/internal/config"
	"github.com/gellingson/carbyr/internal/jobs"
	"github.com/gellingson/carbyr/internal/sources"
	"github.com/gellingson/carbyr/internal/storage/postgres"
)

func newSourcesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Inspect configured listing sources",
	}
	cmd.AddCommand(newSourcesListCommand(), newSourcesValidateCommand(), newSourcesHistoryCommand())
	return cmd
}

func newSourcesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured sources and their schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			configs, err := sources.LoadConfigs(cfg.Sources.Dir)
			if err != nil {
				return err
			}
			printSources(cmd, configs, cfg.Jobs)
			return nil
		},
	}
}

func printSources(cmd *cobra.Command, configs []sources.Config, jobsCfg config.JobsConfig) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TEXTID\tKIND\tENABLED\tEVERY\tNAME")
	for _, c := range configs {
		every := "manual"
		if d := jobs.ScheduleInterval(c, jobsCfg); d > 0 {
			every = d.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n", c.TextID, c.Kind, c.Enabled, every, c.FullName)
	}
	_ = w.Flush()
}

func newSourcesValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Validate source YAML files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			for _, path := range args {
				if _, err := sources.LoadConfig(path); err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: %v\n", path, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ok   %s\n", path)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d source files invalid", failed, len(args))
			}
			return nil
		},
	}
}

func newSourcesHistoryCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <source>",
		Short: "Show recent import runs of a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			configs, err := sources.LoadConfigs(cfg.Sources.Dir)
			if err != nil {
				return err
			}
			src, err := sources.NewSet(configs).Get(args[0])
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

			entries, err := repo.ImportLog().Recent(ctx, src.SourceType(), src.ID, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tRUN\tFETCHED\tACCEPTED\tREJECTED\tINSERTED\tUPDATED\tREMOVED")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
					e.Timestamp.Format("2006-01-02 15:04"), e.RunID,
					e.Fetched, e.Accepted, e.Rejected, e.Inserted, e.Updated, e.Removed)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of runs to show")
	return cmd
}
