package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/gellingson/carbyr/internal/domain/listings"
	"github.com/gellingson/carbyr/internal/sources"
)

// Batch is the per-call context threaded through every extractor: the
// source's configuration, the reference data snapshot and the run counters.
// All of it is selected once per poll call.
type Batch struct {
	Source   sources.Config
	RefData  *listings.RefData
	Counters listings.Counters
	Now      time.Time
	// Limited drops listings the classifier does not find interesting.
	Limited bool
}

// NewBatch builds a Batch with fresh counters.
func NewBatch(cfg sources.Config, rd *listings.RefData, now time.Time, limited bool) *Batch {
	return &Batch{
		Source:   cfg,
		RefData:  rd,
		Counters: listings.Counters{},
		Now:      now,
		Limited:  limited,
	}
}

// Processor turns raw postings into canonical listings.
type Processor struct {
	zips   listings.ZipResolver
	logger zerolog.Logger
}

// NewProcessor returns a Processor. zips may be nil, in which case postal
// codes are stored but never resolved to a city.
func NewProcessor(zips listings.ZipResolver, logger zerolog.Logger) *Processor {
	return &Processor{zips: zips, logger: logger}
}

// Process normalizes one posting and reports whether it is accepted.
//
// Delisted postings produce a minimal Removed listing carrying only key
// fields and a removal date; nothing else is extracted. For-sale postings go
// through every extractor even after one fails, and the result is accepted
// only when every step succeeded.
func (p *Processor) Process(ctx context.Context, b *Batch, raw *RawPosting) (*listings.Listing, bool) {
	l := &listings.Listing{
		SourceType:    b.Source.SourceType(),
		SourceID:      b.Source.ID,
		SourceTextID:  b.Source.TextID,
		Source:        b.Source.FullName,
		StaticQuality: b.Source.QualityAdjustment,
		Tags:          listings.TagSet{},
	}

	if !p.extractKeyFieldsAndStatus(b, raw, l) {
		p.reject(b, l, "missing natural key")
		return l, false
	}

	if l.Status != listings.StatusForSale {
		removed := b.Now
		l.RemovalDate = &removed
		return l, true
	}

	ok := p.extractYearMakeModel(b, raw, l)
	ok = listings.ValidateYearMakeModel(l, b.Counters) && ok
	ok = p.extractURLs(b, raw, l) && ok
	ok = p.extractLocation(ctx, b, raw, l) && ok
	ok = p.extractDescFields(b, raw, l) && ok

	valid, problems := listings.ValidateListing(l, b.Source.Rules(), b.Counters)
	ok = valid && ok
	if !ok {
		ev := p.logger.Debug().Str("source", b.Source.TextID).Str("local_id", l.LocalID)
		for _, prob := range problems {
			ev = ev.Str(prob.Field, prob.Message)
		}
		ev.Msg("posting rejected")
		return l, false
	}

	listings.Tagify(b.RefData, l, b.Source.TagOptions(), b.Counters)
	filters := listings.FilterOptions{Limited: b.Limited, Strict: b.Source.Strict}
	if !listings.ApplyPostTagFilters(l, filters, b.Counters) {
		p.reject(b, l, "filtered after tagging")
		return l, false
	}
	return l, true
}

func (p *Processor) reject(b *Batch, l *listings.Listing, reason string) {
	p.logger.Debug().
		Str("source", b.Source.TextID).
		Str("local_id", l.LocalID).
		Str("reason", reason).
		Msg("posting rejected")
}
