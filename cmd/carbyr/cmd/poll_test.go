package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gellingson/carbyr/internal/domain/listings"
	"github.com/gellingson/carbyr/internal/ingest"
	"github.com/gellingson/carbyr/internal/sources"
)

type fakeFeedRunner struct {
	mu    sync.Mutex
	calls map[string]int
	// errs is consumed one per call for each source; nil once exhausted.
	errs map[string][]error
}

func (f *fakeFeedRunner) RunFeed(ctx context.Context, cfg sources.Config) (*listings.ImportReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[cfg.TextID]++

	report := listings.NewImportReport("run", cfg.TextID, time.Now())
	report.Fetched = 10
	report.Accepted = 8
	report.Counters.Inc(listings.CounterBadPrice)

	if errs := f.errs[cfg.TextID]; len(errs) > 0 {
		f.errs[cfg.TextID] = errs[1:]
		return report, errs[0]
	}
	return report, nil
}

func testPollOptions() pollOptions {
	return pollOptions{retries: 3, retryDelay: time.Millisecond, concurrency: 2}
}

func TestPollWithRetry(t *testing.T) {
	upstream := fmt.Errorf("poll: %w", ingest.ErrUpstreamFailure)
	src := sources.Config{TextID: "craig", Kind: sources.KindClassified}

	t.Run("retries upstream failures and sums reports", func(t *testing.T) {
		runner := &fakeFeedRunner{errs: map[string][]error{"craig": {upstream}}}

		report, err := pollWithRetry(context.Background(), runner, src, testPollOptions(), zerolog.Nop())

		require.NoError(t, err)
		assert.Equal(t, 2, runner.calls["craig"])
		require.NotNil(t, report)
		assert.Equal(t, 20, report.Fetched)
		assert.Equal(t, 2, report.Counters.Get(listings.CounterBadPrice))
	})

	t.Run("gives up after the attempt budget", func(t *testing.T) {
		runner := &fakeFeedRunner{errs: map[string][]error{"craig": {upstream, upstream, upstream, upstream}}}

		_, err := pollWithRetry(context.Background(), runner, src, testPollOptions(), zerolog.Nop())

		require.Error(t, err)
		assert.ErrorIs(t, err, ingest.ErrUpstreamFailure)
		assert.Equal(t, 3, runner.calls["craig"])
	})

	t.Run("does not retry other failures", func(t *testing.T) {
		storeErr := errors.New("insert listing: connection refused")
		runner := &fakeFeedRunner{errs: map[string][]error{"craig": {storeErr}}}

		_, err := pollWithRetry(context.Background(), runner, src, testPollOptions(), zerolog.Nop())

		require.Error(t, err)
		assert.ErrorIs(t, err, storeErr)
		assert.Equal(t, 1, runner.calls["craig"])
	})
}

func TestPollSources_ReportsEverySource(t *testing.T) {
	runner := &fakeFeedRunner{errs: map[string][]error{
		"ebay": {errors.New("anchor store down")},
	}}
	targets := []sources.Config{
		{TextID: "craig", Kind: sources.KindClassified},
		{TextID: "ebay", Kind: sources.KindClassified},
	}

	reports, err := pollSources(context.Background(), runner, targets, testPollOptions(), zerolog.Nop())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "ebay")
	assert.NotContains(t, err.Error(), "craig")
	require.Len(t, reports, 2)
	assert.Equal(t, "craig", reports[0].Source)
	assert.Equal(t, "ebay", reports[1].Source)
}

func TestSelectSources(t *testing.T) {
	set := sources.NewSet([]sources.Config{
		{TextID: "craig", Kind: sources.KindClassified, Enabled: true},
		{TextID: "ebay", Kind: sources.KindClassified, Enabled: false},
		{TextID: "fantasy", Kind: sources.KindDealer, Enabled: true},
	})

	tests := []struct {
		name    string
		kind    string
		names   []string
		all     bool
		want    []string
		wantErr string
	}{
		{name: "all enabled of kind", kind: sources.KindClassified, all: true, want: []string{"craig"}},
		{name: "named disabled source still runs", kind: sources.KindClassified, names: []string{"EBAY"}, want: []string{"ebay"}},
		{name: "named sources keep order", kind: sources.KindClassified, names: []string{"ebay", "craig"}, want: []string{"ebay", "craig"}},
		{name: "nothing selected", kind: sources.KindClassified, wantErr: "--all"},
		{name: "all with names", kind: sources.KindClassified, names: []string{"craig"}, all: true, wantErr: "cannot be combined"},
		{name: "wrong kind", kind: sources.KindDealer, names: []string{"craig"}, wantErr: "classified source"},
		{name: "unknown source", kind: sources.KindDealer, names: []string{"nope"}, wantErr: "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := selectSources(set, tt.kind, tt.names, tt.all)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			ids := make([]string, len(got))
			for i, c := range got {
				ids[i] = c.TextID
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestPrintReport(t *testing.T) {
	root := newRootCommand()
	buf := new(strings.Builder)
	root.SetOut(buf)

	report := listings.NewImportReport("run", "craig", time.Now())
	report.Fetched = 3
	report.Inserted = 2
	report.Counters.Add(listings.CounterNoPicture, 4)

	printReport(root, report)
	printReport(root, nil)

	assert.Contains(t, buf.String(), "craig: fetched 3")
	assert.Contains(t, buf.String(), "inserted 2")
	assert.Contains(t, buf.String(), "nopic")
}
