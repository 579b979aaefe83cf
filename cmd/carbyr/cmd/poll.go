package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gellingson/carbyr/internal/domain/listings"
	"github.com/gellingson/carbyr/internal/ingest"
	"github.com/gellingson/carbyr/internal/sources"
)

type pollOptions struct {
	all         bool
	retries     uint
	retryDelay  time.Duration
	concurrency int
}

func newPollCommand() *cobra.Command {
	var opts pollOptions
	cmd := &cobra.Command{
		Use:   "poll [source...]",
		Short: "Import new and changed listings from the classified change feed",
		Long: `Poll the change feed for one or more classified sources until the feed
reports it is caught up. Each source resumes from its stored anchor; a failed
poll leaves the anchor untouched and is retried from the same point.

Examples:
  carbyr poll craig
  carbyr poll craig ebay --retries 5
  carbyr poll --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			targets, err := selectSources(a.sources, sources.KindClassified, args, opts.all)
			if err != nil {
				return err
			}
			reports, err := pollSources(ctx, a.runner, targets, opts, a.logger)
			for _, r := range reports {
				printReport(cmd, r)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&opts.all, "all", false, "poll every enabled classified source")
	cmd.Flags().UintVar(&opts.retries, "retries", 3, "attempts per source when the feed fails")
	cmd.Flags().DurationVar(&opts.retryDelay, "retry-delay", 30*time.Second, "initial delay between attempts")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 2, "sources polled at once with --all")
	return cmd
}

// pollSources polls each source with retries, several at a time. Distinct
// sources never share an anchor, so they can run concurrently. Every source
// is attempted; the first failure is returned after all have finished.
func pollSources(ctx context.Context, runner feedRunner, targets []sources.Config, opts pollOptions, logger zerolog.Logger) ([]*listings.ImportReport, error) {
	reports := make([]*listings.ImportReport, len(targets))
	errs := make([]error, len(targets))

	var g errgroup.Group
	if opts.concurrency > 0 {
		g.SetLimit(opts.concurrency)
	}
	for i, src := range targets {
		g.Go(func() error {
			reports[i], errs[i] = pollWithRetry(ctx, runner, src, opts, logger)
			return nil
		})
	}
	_ = g.Wait()

	var failed []error
	for i, err := range errs {
		if err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", targets[i].TextID, err))
		}
	}
	return reports, errors.Join(failed...)
}

type feedRunner interface {
	RunFeed(ctx context.Context, cfg sources.Config) (*listings.ImportReport, error)
}

// pollWithRetry re-runs a feed import while the upstream keeps failing.
// Anything other than an upstream failure (a store error, a cancelled
// context) stops at once.
func pollWithRetry(ctx context.Context, runner feedRunner, src sources.Config, opts pollOptions, logger zerolog.Logger) (*listings.ImportReport, error) {
	attempts := opts.retries
	if attempts == 0 {
		attempts = 1
	}
	var total *listings.ImportReport
	err := retry.Do(
		func() error {
			report, err := runner.RunFeed(ctx, src)
			if total == nil {
				total = report
			} else {
				total.Absorb(report)
				if report != nil {
					total.FinishedAt = report.FinishedAt
				}
			}
			return err
		},
		retry.Attempts(attempts),
		retry.Delay(opts.retryDelay),
		retry.MaxDelay(5*time.Minute),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn().Err(err).Str("source", src.TextID).Uint("attempt", n+1).Msg("retrying poll")
		}),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, ingest.ErrUpstreamFailure)
		}),
	)
	if err != nil {
		return total, fmt.Errorf("poll failed: %w", err)
	}
	return total, nil
}

func printReport(cmd *cobra.Command, r *listings.ImportReport) {
	if r == nil {
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: fetched %d, accepted %d, rejected %d (inserted %d, updated %d, unchanged %d, conflicts %d, removed %d)\n",
		r.Source, r.Fetched, r.Accepted, r.Rejected, r.Inserted, r.Updated, r.Unchanged, r.Conflicts, r.Removed)
	for _, k := range r.Counters.Keys() {
		fmt.Fprintf(out, "  %-24s %d\n", k, r.Counters.Get(k))
	}
}
