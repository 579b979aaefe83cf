package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gellingson/carbyr/internal/domain/ids"
	"github.com/gellingson/carbyr/internal/domain/listings"
	"github.com/gellingson/carbyr/internal/metrics"
	"github.com/gellingson/carbyr/internal/sources"
	"github.com/gellingson/carbyr/internal/telemetry"
)

const tracerName = "github.com/gellingson/carbyr/internal/ingest"

// AnchorStore persists the change-feed cursor of each source.
type AnchorStore interface {
	GetAnchor(ctx context.Context, sourceID int64) (string, error)
	SetAnchor(ctx context.Context, sourceID int64, anchor string) error
}

// ImportLog persists the summary of an import run.
type ImportLog interface {
	RecordImport(ctx context.Context, sourceType listings.SourceType, sourceID int64, report *listings.ImportReport) error
}

// ReportNotifier delivers a finished import report, typically by email.
type ReportNotifier interface {
	NotifyImport(ctx context.Context, report *listings.ImportReport) error
}

// RefDataSource hands out the current reference data snapshot.
type RefDataSource interface {
	Current() *listings.RefData
}

// InventoryAdapter produces the complete current inventory of a dealer
// source as raw postings.
type InventoryAdapter interface {
	Postings(ctx context.Context, cfg sources.Config) ([]RawPosting, error)
}

// RunnerDeps are the collaborators of a Runner. ImportLog and Notifier are
// optional.
type RunnerDeps struct {
	Poller    *Poller
	Processor *Processor
	Upserter  *listings.Upserter
	Anchors   AnchorStore
	Marker    listings.InventoryMarker
	ImportLog ImportLog
	Notifier  ReportNotifier
	RefData   RefDataSource
}

// Runner drives whole import runs: it repeats poll calls, writes accepted
// listings through the Upserter and advances the stored anchor.
type Runner struct {
	RunnerDeps
	logger   zerolog.Logger
	tracer   trace.Tracer
	limited  bool
	maxCalls int
	now      func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLimitedInventory drops listings the classifier finds uninteresting.
func WithLimitedInventory(limited bool) RunnerOption {
	return func(r *Runner) { r.limited = limited }
}

// WithMaxCalls caps the number of poll calls in one run. Zero means no cap.
func WithMaxCalls(n int) RunnerOption {
	return func(r *Runner) { r.maxCalls = n }
}

// NewRunner returns a Runner.
func NewRunner(deps RunnerDeps, logger zerolog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		RunnerDeps: deps,
		logger:     logger,
		tracer:     telemetry.GetTracer(tracerName),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunFeed polls a change-feed source until it reports done, the call cap is
// reached or a call fails. The anchor is saved after every successful call,
// so a failed run resumes where the last good call stopped.
func (r *Runner) RunFeed(ctx context.Context, cfg sources.Config) (*listings.ImportReport, error) {
	report := listings.NewImportReport(ids.NewRunID(), cfg.TextID, r.now())
	rd := r.RefData.Current()

	anchor, err := r.Anchors.GetAnchor(ctx, cfg.ID)
	if err != nil {
		return report, fmt.Errorf("load anchor for %s: %w", cfg.TextID, err)
	}

	var runErr error
	for call := 0; r.maxCalls == 0 || call < r.maxCalls; call++ {
		res, err := r.PollOnce(ctx, cfg, rd, anchor)
		if res != nil {
			report.Absorb(res.Report)
		}
		if err != nil {
			runErr = err
			break
		}
		anchor = res.Anchor
		if res.Done {
			break
		}
	}

	r.finish(ctx, cfg, report, runErr)
	return report, runErr
}

// PollOnce performs one poll call and upserts its accepted listings. The
// anchor is advanced in the store only when every write succeeded.
func (r *Runner) PollOnce(ctx context.Context, cfg sources.Config, rd *listings.RefData, anchor string) (*PollResult, error) {
	ctx, span := r.tracer.Start(ctx, "ingest.poll", trace.WithAttributes(
		attribute.String("source", cfg.TextID),
		attribute.String("anchor", anchor),
	))
	defer span.End()

	start := r.now()
	b := NewBatch(cfg, rd, start, r.limited)
	res, err := r.Poller.Poll(ctx, b, anchor)
	metrics.PollDuration.WithLabelValues(cfg.TextID).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.PollCallsTotal.WithLabelValues(cfg.TextID, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "poll failed")
		r.logger.Error().Err(err).Str("source", cfg.TextID).Str("anchor", anchor).Msg("poll call failed")
		return res, err
	}

	if err := r.upsertAll(ctx, cfg, res.Listings, res.Report); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert failed")
		res.Anchor = anchor
		return res, err
	}

	if res.Anchor != anchor {
		if err := r.Anchors.SetAnchor(ctx, cfg.ID, res.Anchor); err != nil {
			span.RecordError(err)
			return res, fmt.Errorf("save anchor for %s: %w", cfg.TextID, err)
		}
	}

	outcome := "more"
	if res.Done {
		outcome = "done"
	}
	metrics.PollCallsTotal.WithLabelValues(cfg.TextID, outcome).Inc()
	span.SetAttributes(
		attribute.Int("fetched", res.Report.Fetched),
		attribute.Int("accepted", res.Report.Accepted),
		attribute.Bool("done", res.Done),
	)
	return res, nil
}

// RunInventory imports the full inventory of a dealer source. Every active
// listing of the source is marked pending-delete first; listings the import
// does not find again are swept to Removed at the end. A failed fetch skips
// the sweep and leaves the marks for the next run.
func (r *Runner) RunInventory(ctx context.Context, cfg sources.Config, adapter InventoryAdapter) (*listings.ImportReport, error) {
	ctx, span := r.tracer.Start(ctx, "ingest.inventory", trace.WithAttributes(attribute.String("source", cfg.TextID)))
	defer span.End()

	started := r.now()
	report := listings.NewImportReport(ids.NewRunID(), cfg.TextID, started)

	marked, err := r.Marker.MarkPendingDelete(ctx, cfg.SourceType(), cfg.ID)
	if err != nil {
		err = fmt.Errorf("mark inventory of %s: %w", cfg.TextID, err)
		r.finish(ctx, cfg, report, err)
		return report, err
	}
	r.logger.Debug().Str("source", cfg.TextID).Int64("marked", marked).Msg("marked inventory pending delete")

	postings, err := adapter.Postings(ctx, cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scrape failed")
		err = fmt.Errorf("%w: %s: %w", ErrUpstreamFailure, cfg.TextID, err)
		r.finish(ctx, cfg, report, err)
		return report, err
	}

	b := NewBatch(cfg, r.RefData.Current(), started, r.limited)
	report.Counters = b.Counters
	report.Fetched = len(postings)
	var accepted []*listings.Listing
	for i := range postings {
		l, ok := r.Processor.Process(ctx, b, &postings[i])
		if !ok {
			report.Rejected++
			continue
		}
		report.Accepted++
		accepted = append(accepted, l)
	}

	if err := r.upsertAll(ctx, cfg, accepted, report); err != nil {
		r.finish(ctx, cfg, report, err)
		return report, err
	}

	removed, err := r.Marker.RemoveMarked(ctx, cfg.SourceType(), cfg.ID, r.now())
	if err != nil {
		err = fmt.Errorf("sweep inventory of %s: %w", cfg.TextID, err)
		r.finish(ctx, cfg, report, err)
		return report, err
	}
	report.Removed = int(removed)
	metrics.ListingsRemovedTotal.WithLabelValues(cfg.TextID).Add(float64(removed))

	r.finish(ctx, cfg, report, nil)
	return report, nil
}

// upsertAll writes listings in order. Natural-key conflicts are counted and
// logged without stopping the batch; any other store error aborts it.
func (r *Runner) upsertAll(ctx context.Context, cfg sources.Config, batch []*listings.Listing, report *listings.ImportReport) error {
	for _, l := range batch {
		res, err := r.upsert(ctx, l)
		var conflict *listings.ConflictError
		switch {
		case errors.As(err, &conflict):
			report.Conflicts++
			metrics.ListingsUpsertedTotal.WithLabelValues(cfg.TextID, "conflict").Inc()
			r.logger.Error().
				Err(err).
				Str("source", cfg.TextID).
				Str("local_id", l.LocalID).
				Ints64("matches", conflict.Matches).
				Msg("listing natural key matches more than one stored record")
		case err != nil:
			return fmt.Errorf("upsert %s/%s: %w", cfg.TextID, l.LocalID, err)
		default:
			report.Record(res.Action)
			metrics.ListingsUpsertedTotal.WithLabelValues(cfg.TextID, string(res.Action)).Inc()
		}
	}
	return nil
}

func (r *Runner) upsert(ctx context.Context, l *listings.Listing) (listings.UpsertResult, error) {
	ctx, span := r.tracer.Start(ctx, "ingest.upsert", trace.WithAttributes(attribute.String("local_id", l.LocalID)))
	defer span.End()

	res, err := r.Upserter.Upsert(ctx, l)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert failed")
		return res, err
	}
	span.SetAttributes(attribute.String("action", string(res.Action)))
	return res, nil
}

// finish logs the run summary and hands the report to the import log and
// notifier. Their failures are logged, never returned.
func (r *Runner) finish(ctx context.Context, cfg sources.Config, report *listings.ImportReport, runErr error) {
	report.FinishedAt = r.now()

	metrics.PostingsTotal.WithLabelValues(cfg.TextID, "accepted").Add(float64(report.Accepted))
	metrics.PostingsTotal.WithLabelValues(cfg.TextID, "rejected").Add(float64(report.Rejected))
	metrics.RecordCounters(cfg.TextID, report.Counters)

	counters := zerolog.Dict()
	for _, k := range report.Counters.Keys() {
		counters.Int(k, report.Counters.Get(k))
	}
	ev := r.logger.Info()
	if runErr != nil {
		ev = r.logger.Warn().Err(runErr)
	}
	ev.Str("source", cfg.TextID).
		Str("run_id", report.RunID).
		Int("fetched", report.Fetched).
		Int("accepted", report.Accepted).
		Int("rejected", report.Rejected).
		Int("inserted", report.Inserted).
		Int("updated", report.Updated).
		Int("conflicts", report.Conflicts).
		Int("removed", report.Removed).
		Dict("counters", counters).
		Dur("elapsed", report.FinishedAt.Sub(report.StartedAt)).
		Msg("import run finished")

	if r.ImportLog != nil {
		if err := r.ImportLog.RecordImport(ctx, cfg.SourceType(), cfg.ID, report); err != nil {
			r.logger.Warn().Err(err).Str("source", cfg.TextID).Msg("failed to record import log")
		}
	}
	if r.Notifier != nil {
		if err := r.Notifier.NotifyImport(ctx, report); err != nil {
			r.logger.Warn().Err(err).Str("source", cfg.TextID).Msg("failed to send import report")
		}
	}
}
