package listings

import (
	"sort"
	"time"
)

// Counters accumulates named anomaly counts for one import run.
type Counters map[string]int

// Inc adds one to key.
func (c Counters) Inc(key string) {
	c[key]++
}

// Add adds n to key.
func (c Counters) Add(key string, n int) {
	c[key] += n
}

// Get returns the count for key, zero when absent.
func (c Counters) Get(key string) int {
	return c[key]
}

// Keys returns the counter names in lexical order.
func (c Counters) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge folds other into c.
func (c Counters) Merge(other Counters) {
	for k, v := range other {
		c[k] += v
	}
}

// Counter names shared across extractors, validator and classifier.
const (
	CounterInactive          = "inactive"
	CounterBadLocation       = "badloc"
	CounterPartialLocation   = "partialloc"
	CounterBadPrice          = "badprice"
	CounterBadYear           = "badyear"
	CounterImplausibleYear   = "implausibleyear"
	CounterBadMakeModel      = "badmakemodel"
	CounterNoPicture         = "nopic"
	CounterBadListingHref    = "badlistinghref"
	CounterNonUSD            = "nonusd"
	CounterOutsideUSAPrefix  = "outsideusa:"
	CounterNoExternalID      = "warn_no_external_id"
	CounterUninteresting     = "uninteresting"
	CounterUselessYear       = "uselessyear"
	CounterUselessModel      = "uselessmodel"
	CounterUselessPrice      = "uselessprice"
	CounterBadHTML           = "badhtml"
	CounterZipLookupFailures = "ziplookupfail"
	CounterNoKey             = "nokey"
	CounterBadPosting        = "badposting"
)

// ImportReport summarizes one poll call or one import run.
type ImportReport struct {
	RunID      string
	Source     string
	StartedAt  time.Time
	FinishedAt time.Time
	Fetched    int
	Accepted   int
	Rejected   int
	Inserted   int
	Updated    int
	Unchanged  int
	Conflicts  int
	Removed    int
	Counters   Counters
}

// NewImportReport returns an empty report for source.
func NewImportReport(runID, source string, started time.Time) *ImportReport {
	return &ImportReport{
		RunID:     runID,
		Source:    source,
		StartedAt: started,
		Counters:  Counters{},
	}
}

// Record tallies one upsert outcome.
func (r *ImportReport) Record(action Action) {
	switch action {
	case ActionInserted:
		r.Inserted++
	case ActionUpdated:
		r.Updated++
	case ActionUnchanged:
		r.Unchanged++
	}
}

// Absorb adds the totals of other into r.
func (r *ImportReport) Absorb(other *ImportReport) {
	if other == nil {
		return
	}
	r.Fetched += other.Fetched
	r.Accepted += other.Accepted
	r.Rejected += other.Rejected
	r.Inserted += other.Inserted
	r.Updated += other.Updated
	r.Unchanged += other.Unchanged
	r.Conflicts += other.Conflicts
	r.Removed += other.Removed
	r.Counters.Merge(other.Counters)
}
