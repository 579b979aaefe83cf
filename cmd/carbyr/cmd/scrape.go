package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gellingson/carbyr/internal/ingest"
	"github.com/gellingson/carbyr/internal/scraper"
	"github.com/gellingson/carbyr/internal/sources"
)

func newScrapeCommand() *cobra.Command {
	var (
		all    bool
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "scrape [source...]",
		Short: "Import the full inventory of dealer sources",
		Long: `Scrape the inventory pages of one or more dealer sources. Listings still
for sale that no longer appear on the site are marked removed.

With --dry-run nothing is written: the postings the adapter produces are
printed as JSON, one per line.

Examples:
  carbyr scrape fantasy
  carbyr scrape fantasy --dry-run
  carbyr scrape --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if dryRun {
				return scrapeDryRun(ctx, cmd, args, all)
			}

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			targets, err := selectSources(a.sources, sources.KindDealer, args, all)
			if err != nil {
				return err
			}
			var failed []error
			for _, src := range targets {
				report, err := a.runner.RunInventory(ctx, src, a.adapter)
				printReport(cmd, report)
				if err != nil {
					failed = append(failed, fmt.Errorf("%s: %w", src.TextID, err))
				}
			}
			return errors.Join(failed...)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "scrape every enabled dealer source")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print postings without touching the database")
	return cmd
}

// scrapeDryRun needs only the source files, not the database.
func scrapeDryRun(ctx context.Context, cmd *cobra.Command, names []string, all bool) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	configs, err := sources.LoadConfigs(cfg.Sources.Dir)
	if err != nil {
		return fmt.Errorf("load sources: %w", err)
	}
	targets, err := selectSources(sources.NewSet(configs), sources.KindDealer, names, all)
	if err != nil {
		return err
	}

	adapter := scraper.NewAdapter(scraper.NewCollyExtractor(logger), scraper.NewDetailFetcher(logger), logger)
	return writePostings(ctx, cmd, adapter, targets)
}

func writePostings(ctx context.Context, cmd *cobra.Command, adapter ingest.InventoryAdapter, targets []sources.Config) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, src := range targets {
		postings, err := adapter.Postings(ctx, src)
		if err != nil {
			return fmt.Errorf("%s: %w", src.TextID, err)
		}
		for _, p := range postings {
			if err := enc.Encode(p); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d postings\n", src.TextID, len(postings))
	}
	return nil
}
