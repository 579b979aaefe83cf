package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/riverqueue/river"
	"github.com/rs/zerolog"

	"github.com/gellingson/carbyr/internal/domain/listings"
	"github.com/gellingson/carbyr/internal/ingest"
	"github.com/gellingson/carbyr/internal/sources"
)

// PollSourceArgs runs one change-feed import for a source.
type PollSourceArgs struct {
	Source string `json:"source"`
}

func (PollSourceArgs) Kind() string { return JobKindPollSource }

// ScrapeSourceArgs runs one full-inventory dealer import for a source.
type ScrapeSourceArgs struct {
	Source string `json:"source"`
}

func (ScrapeSourceArgs) Kind() string { return JobKindScrapeSource }

// SourceLookup resolves a source textid to its loaded config.
type SourceLookup interface {
	Get(textID string) (sources.Config, error)
}

// FeedRunner runs a change-feed import.
type FeedRunner interface {
	RunFeed(ctx context.Context, cfg sources.Config) (*listings.ImportReport, error)
}

// InventoryRunner runs a full-inventory import through an adapter.
type InventoryRunner interface {
	RunInventory(ctx context.Context, cfg sources.Config, adapter ingest.InventoryAdapter) (*listings.ImportReport, error)
}

type PollSourceWorker struct {
	river.WorkerDefaults[PollSourceArgs]
	Sources SourceLookup
	Runner  FeedRunner
	Logger  zerolog.Logger
}

func (PollSourceWorker) Kind() string { return JobKindPollSource }

func (w PollSourceWorker) Work(ctx context.Context, job *river.Job[PollSourceArgs]) error {
	if job == nil {
		return fmt.Errorf("poll job missing")
	}
	if w.Sources == nil || w.Runner == nil {
		return fmt.Errorf("poll worker not configured")
	}
	cfg, err := lookupSource(w.Sources, job.Args.Source, sources.KindClassified)
	if err != nil {
		return err
	}

	w.Logger.Info().Str("source", cfg.TextID).Int("attempt", job.Attempt).Msg("starting feed poll")
	report, err := w.Runner.RunFeed(ctx, cfg)
	if err != nil {
		return fmt.Errorf("poll %s: %w", cfg.TextID, err)
	}
	w.Logger.Info().Str("source", cfg.TextID).Int("accepted", report.Accepted).Msg("feed poll complete")
	return nil
}

type ScrapeSourceWorker struct {
	river.WorkerDefaults[ScrapeSourceArgs]
	Sources SourceLookup
	Runner  InventoryRunner
	Adapter ingest.InventoryAdapter
	Logger  zerolog.Logger
}

func (ScrapeSourceWorker) Kind() string { return JobKindScrapeSource }

func (w ScrapeSourceWorker) Work(ctx context.Context, job *river.Job[ScrapeSourceArgs]) error {
	if job == nil {
		return fmt.Errorf("scrape job missing")
	}
	if w.Sources == nil || w.Runner == nil || w.Adapter == nil {
		return fmt.Errorf("scrape worker not configured")
	}
	cfg, err := lookupSource(w.Sources, job.Args.Source, sources.KindDealer)
	if err != nil {
		return err
	}

	w.Logger.Info().Str("source", cfg.TextID).Int("attempt", job.Attempt).Msg("starting inventory scrape")
	report, err := w.Runner.RunInventory(ctx, cfg, w.Adapter)
	if err != nil {
		return fmt.Errorf("scrape %s: %w", cfg.TextID, err)
	}
	w.Logger.Info().
		Str("source", cfg.TextID).
		Int("accepted", report.Accepted).
		Int("removed", report.Removed).
		Msg("inventory scrape complete")
	return nil
}

// lookupSource cancels the job outright when the source is unknown, disabled
// or of the wrong kind; retrying cannot fix any of those.
func lookupSource(lookup SourceLookup, textID, kind string) (sources.Config, error) {
	cfg, err := lookup.Get(textID)
	if err != nil {
		if errors.Is(err, sources.ErrUnknownSource) {
			return sources.Config{}, river.JobCancel(err)
		}
		return sources.Config{}, err
	}
	if !cfg.Enabled {
		return sources.Config{}, river.JobCancel(fmt.Errorf("source %s is disabled", cfg.TextID))
	}
	if cfg.Kind != kind {
		return sources.Config{}, river.JobCancel(fmt.Errorf("source %s is a %s source, not %s", cfg.TextID, cfg.Kind, kind))
	}
	return cfg, nil
}

// NewWorkers registers the import workers. The scrape worker is only added
// when an adapter is supplied.
func NewWorkers(lookup SourceLookup, runner *ingest.Runner, adapter ingest.InventoryAdapter, logger zerolog.Logger) *river.Workers {
	workers := river.NewWorkers()
	river.AddWorker[PollSourceArgs](workers, PollSourceWorker{
		Sources: lookup,
		Runner:  runner,
		Logger:  logger,
	})
	if adapter != nil {
		river.AddWorker[ScrapeSourceArgs](workers, ScrapeSourceWorker{
			Sources: lookup,
			Runner:  runner,
			Adapter: adapter,
			Logger:  logger,
		})
	}
	return workers
}
