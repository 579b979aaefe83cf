package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/gellingson/carbyr/internal/domain/listings"
)

const (
	// PageSize is the number of postings the feed returns per call. The
	// upstream fixes it; the constant documents the expectation.
	PageSize = 1000

	// DoneThreshold is the page size below which a feed is treated as
	// drained. The feed has no authoritative "more pages" flag, so a final
	// page of exactly PageSize costs one extra, empty poll.
	DoneThreshold = 500

	// DefaultPollTimeout bounds a single fetch. The upstream is slow.
	DefaultPollTimeout = 180 * time.Second
)

// ErrUpstreamFailure wraps every batch-level failure of a poll call.
var ErrUpstreamFailure = errors.New("upstream poll failed")

// HTTPStatusError reports a non-success HTTP response from the feed.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// PollRequest is one fetch against the change feed.
type PollRequest struct {
	// Source is the feed's source code, e.g. "CRAIG".
	Source string
	Anchor string
	// IncludeHTML asks for the base64 page of every posting.
	IncludeHTML bool
	// LocalOnly restricts results to the local region.
	LocalOnly bool
}

// PollResponse is the decoded feed response.
type PollResponse struct {
	Success  bool         `json:"success"`
	Anchor   FlexString   `json:"anchor"`
	Postings []RawPosting `json:"postings"`
	Error    string       `json:"error"`

	// Malformed holds one decode error per posting that could not be read.
	// Those postings are left out of Postings.
	Malformed []error `json:"-"`
}

// UnmarshalJSON decodes each posting on its own, so one posting with a
// dirty field costs only that posting.
func (r *PollResponse) UnmarshalJSON(data []byte) error {
	var wire struct {
		Success  bool              `json:"success"`
		Anchor   FlexString        `json:"anchor"`
		Postings []json.RawMessage `json:"postings"`
		Error    string            `json:"error"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*r = PollResponse{
		Success:  wire.Success,
		Anchor:   wire.Anchor,
		Error:    wire.Error,
		Postings: make([]RawPosting, 0, len(wire.Postings)),
	}
	for i, item := range wire.Postings {
		var p RawPosting
		if err := json.Unmarshal(item, &p); err != nil {
			r.Malformed = append(r.Malformed, fmt.Errorf("posting %d: %w", i, err))
			continue
		}
		r.Postings = append(r.Postings, p)
	}
	return nil
}

// PageLen is the number of postings the feed sent, readable or not.
func (r *PollResponse) PageLen() int {
	return len(r.Postings) + len(r.Malformed)
}

// Fetcher issues one poll request.
type Fetcher interface {
	Fetch(ctx context.Context, req PollRequest) (*PollResponse, error)
}

// PollResult is the output of one poll call.
type PollResult struct {
	Listings []*listings.Listing
	Report   *listings.ImportReport
	// Anchor is where the next call should resume. It equals the input
	// anchor when the call failed or returned nothing.
	Anchor string
	// Done is set when the feed looks drained.
	Done bool
}

// Poller drives one change-feed source.
type Poller struct {
	fetcher   Fetcher
	processor *Processor
	timeout   time.Duration
	localOnly bool
	logger    zerolog.Logger
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithTimeout overrides DefaultPollTimeout.
func WithTimeout(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithLocalOnly restricts polls to the local region.
func WithLocalOnly(local bool) PollerOption {
	return func(p *Poller) { p.localOnly = local }
}

// NewPoller returns a Poller.
func NewPoller(fetcher Fetcher, processor *Processor, logger zerolog.Logger, opts ...PollerOption) *Poller {
	p := &Poller{
		fetcher:   fetcher,
		processor: processor,
		timeout:   DefaultPollTimeout,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Poll issues exactly one fetch starting at anchor and processes the
// returned postings in order. On any fetch failure it returns an empty
// result with the anchor unchanged, so the call can be retried as is.
func (p *Poller) Poll(ctx context.Context, b *Batch, anchor string) (*PollResult, error) {
	result := &PollResult{
		Report: listings.NewImportReport("", b.Source.TextID, b.Now),
		Anchor: anchor,
	}
	result.Report.Counters = b.Counters

	fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.fetcher.Fetch(fetchCtx, PollRequest{
		Source:      b.Source.Code(),
		Anchor:      anchor,
		IncludeHTML: b.Source.HTMLFallback,
		LocalOnly:   p.localOnly,
	})
	if err != nil {
		return result, fmt.Errorf("%w: %s: %w", ErrUpstreamFailure, b.Source.TextID, err)
	}
	if !resp.Success {
		return result, fmt.Errorf("%w: %s: feed reported failure: %s", ErrUpstreamFailure, b.Source.TextID, resp.Error)
	}

	fetched := resp.PageLen()
	if fetched == 0 {
		result.Done = true
		result.Report.FinishedAt = time.Now()
		return result, nil
	}
	next := resp.Anchor.String()
	if next == "" {
		return result, fmt.Errorf("%w: %s: %d postings without an anchor", ErrUpstreamFailure, b.Source.TextID, fetched)
	}

	result.Report.Fetched = fetched
	for _, err := range resp.Malformed {
		b.Counters.Inc(listings.CounterBadPosting)
		result.Report.Rejected++
		p.logger.Debug().Err(err).Str("source", b.Source.TextID).Msg("skipping unreadable posting")
	}
	for i := range resp.Postings {
		l, ok := p.processor.Process(ctx, b, &resp.Postings[i])
		if !ok {
			result.Report.Rejected++
			continue
		}
		result.Report.Accepted++
		result.Listings = append(result.Listings, l)
	}

	result.Anchor = next
	result.Done = fetched < DoneThreshold
	result.Report.FinishedAt = time.Now()

	p.logger.Debug().
		Str("source", b.Source.TextID).
		Str("anchor", result.Anchor).
		Int("fetched", result.Report.Fetched).
		Int("accepted", result.Report.Accepted).
		Bool("done", result.Done).
		Msg("poll call complete")
	return result, nil
}
