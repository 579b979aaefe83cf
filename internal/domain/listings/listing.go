package listings

import (
	"sort"
	"strings"
	"time"
)

// Status is the lifecycle state of a listing.
type Status string

const (
	StatusForSale  Status = "F"
	StatusSold     Status = "S"
	StatusRemoved  Status = "R"
	StatusPending  Status = "P"
	StatusTest     Status = "T"
	StatusExpunged Status = "X"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusForSale, StatusSold, StatusRemoved, StatusPending, StatusTest, StatusExpunged:
		return true
	}
	return false
}

// SourceType distinguishes classified feeds from dealer sites.
type SourceType string

const (
	SourceClassified SourceType = "C"
	SourceDealer     SourceType = "D"
)

// MarkerPendingDelete is painted on a source's active listings before a
// full-inventory pull and cleared on every listing the pull finds again.
const MarkerPendingDelete = "P"

// NoPicture is stored in PicHref when a posting has no usable image.
const NoPicture = "N/A"

// UnknownPrice is the price sentinel for "could not be determined".
const UnknownPrice = -1

// NaturalKey identifies a listing across updates from the same source.
type NaturalKey struct {
	SourceType SourceType
	SourceID   int64
	LocalID    string
}

// Listing is the canonical, normalized vehicle listing.
type Listing struct {
	ID      int64
	ULID    string
	Markers string
	Status  Status

	ModelYear string
	Make      string
	Model     string
	Price     int

	ListingText string
	PicHref     string
	ListingHref string

	SourceType   SourceType
	SourceID     int64
	SourceTextID string
	Source       string
	LocalID      string
	StockNo      string

	LocationText string
	Zip          string
	Lat          *float64
	Lon          *float64

	Color    string
	IntColor string
	VIN      string
	Mileage  *int

	ListingDate *time.Time
	RemovalDate *time.Time
	LastUpdate  time.Time

	StaticQuality  int
	DynamicQuality int

	Tags      TagSet
	Retracted TagSet

	// yearForced is set once a non-numeric year was replaced and penalized.
	yearForced bool
}

// Key returns the listing's natural key.
func (l *Listing) Key() NaturalKey {
	return NaturalKey{SourceType: l.SourceType, SourceID: l.SourceID, LocalID: l.LocalID}
}

// AddTags adds tags to the listing. Adding is idempotent, and a tag added
// after being retracted is no longer considered retracted.
func (l *Listing) AddTags(tags ...string) {
	if l.Tags == nil {
		l.Tags = TagSet{}
	}
	for _, t := range tags {
		if t == "" {
			continue
		}
		l.Tags.Add(t)
		l.Retracted.Remove(t)
	}
}

// RetractTags removes tags from the listing and records the retraction so
// the store merge policy can decide what happens to already-persisted copies.
func (l *Listing) RetractTags(tags ...string) {
	if l.Retracted == nil {
		l.Retracted = TagSet{}
	}
	for _, t := range tags {
		if t == "" {
			continue
		}
		l.Tags.Remove(t)
		l.Retracted.Add(t)
	}
}

// HasTag reports whether the listing carries tag.
func (l *Listing) HasTag(tag string) bool {
	return l.Tags.Has(tag)
}

// HasMarker reports whether the single-letter marker is set.
func (l *Listing) HasMarker(marker string) bool {
	return strings.Contains(l.Markers, marker)
}

// Penalize lowers static quality. Non-positive amounts are ignored so the
// ingestion core can never raise quality.
func (l *Listing) Penalize(amount int) {
	if amount > 0 {
		l.StaticQuality -= amount
	}
}

// TagSet is an unordered set of tags.
type TagSet map[string]struct{}

// NewTagSet builds a set from tags, skipping blanks.
func NewTagSet(tags ...string) TagSet {
	s := make(TagSet, len(tags))
	for _, t := range tags {
		if t != "" {
			s[t] = struct{}{}
		}
	}
	return s
}

// ParseTags splits the space-joined storage form.
func ParseTags(joined string) TagSet {
	return NewTagSet(strings.Fields(joined)...)
}

func (s TagSet) Add(tag string) {
	s[tag] = struct{}{}
}

func (s TagSet) Remove(tag string) {
	if s != nil {
		delete(s, tag)
	}
}

func (s TagSet) Has(tag string) bool {
	_, ok := s[tag]
	return ok
}

// Union returns a new set holding the tags of s and other.
func (s TagSet) Union(other TagSet) TagSet {
	out := make(TagSet, len(s)+len(other))
	for t := range s {
		out[t] = struct{}{}
	}
	for t := range other {
		out[t] = struct{}{}
	}
	return out
}

// Equal reports whether both sets contain the same tags.
func (s TagSet) Equal(other TagSet) bool {
	if len(s) != len(other) {
		return false
	}
	for t := range s {
		if !other.Has(t) {
			return false
		}
	}
	return true
}

// Sorted returns the tags in lexical order.
func (s TagSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// String returns the space-joined storage form.
func (s TagSet) String() string {
	return strings.Join(s.Sorted(), " ")
}
