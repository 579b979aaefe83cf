package listings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gellingson/carbyr/internal/domain/ids"
)

// Store is the persistence port used by the Upserter.
type Store interface {
	FindByNaturalKey(ctx context.Context, key NaturalKey) ([]*Listing, error)
	Insert(ctx context.Context, l *Listing) (int64, error)
	Update(ctx context.Context, id int64, params UpdateParams) error
}

// InventoryMarker paints and sweeps pending-delete markers for sources that
// deliver their whole inventory on every pull.
type InventoryMarker interface {
	MarkPendingDelete(ctx context.Context, sourceType SourceType, sourceID int64) (int64, error)
	RemoveMarked(ctx context.Context, sourceType SourceType, sourceID int64, now time.Time) (int64, error)
}

// UpdateParams holds the changed fields of an existing listing. Nil fields
// are left untouched.
type UpdateParams struct {
	Status        *Status
	Markers       *string
	ModelYear     *string
	Make          *string
	Model         *string
	Price         *int
	ListingText   *string
	PicHref       *string
	ListingHref   *string
	SourceTextID  *string
	Source        *string
	StockNo       *string
	LocationText  *string
	Zip           *string
	Lat           *float64
	Lon           *float64
	Color         *string
	IntColor      *string
	VIN           *string
	Mileage       *int
	RemovalDate   *time.Time
	StaticQuality *int
	Tags          TagSet
	LastUpdate    time.Time
}

// TagMergePolicy decides how incoming tags combine with stored tags.
type TagMergePolicy string

const (
	// TagMergeUnion keeps every stored tag and adds the incoming ones.
	// Retractions never reach the store.
	TagMergeUnion TagMergePolicy = "union"
	// TagMergeRetract unions like TagMergeUnion and then drops the tags the
	// classifier retracted on this pass.
	TagMergeRetract TagMergePolicy = "retract"
)

// ParseTagMergePolicy accepts "union" (also the empty string) or "retract".
func ParseTagMergePolicy(s string) (TagMergePolicy, error) {
	switch TagMergePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", TagMergeUnion:
		return TagMergeUnion, nil
	case TagMergeRetract:
		return TagMergeRetract, nil
	}
	return "", fmt.Errorf("unknown tag merge policy %q", s)
}

// Merge combines stored and incoming tags under the policy.
func (p TagMergePolicy) Merge(stored, incoming, retracted TagSet) TagSet {
	merged := stored.Union(incoming)
	if p == TagMergeRetract {
		for t := range retracted {
			if !incoming.Has(t) {
				merged.Remove(t)
			}
		}
	}
	return merged
}

// Action is the outcome of one upsert.
type Action string

const (
	ActionInserted  Action = "inserted"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
)

// UpsertResult carries the persisted identity and what happened.
type UpsertResult struct {
	ID     int64
	ULID   string
	Action Action
}

// Upserter matches listings against the store by natural key.
type Upserter struct {
	store  Store
	policy TagMergePolicy
	now    func() time.Time
	newID  func() (string, error)
}

// NewUpserter returns an Upserter using policy for tag merges.
func NewUpserter(store Store, policy TagMergePolicy) *Upserter {
	if policy == "" {
		policy = TagMergeUnion
	}
	return &Upserter{
		store:  store,
		policy: policy,
		now:    time.Now,
		newID:  ids.NewULID,
	}
}

// Upsert inserts l when no stored listing has its natural key and updates the
// single match otherwise. Multiple matches return a *ConflictError.
func (u *Upserter) Upsert(ctx context.Context, l *Listing) (UpsertResult, error) {
	key := l.Key()
	matches, err := u.store.FindByNaturalKey(ctx, key)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("find listing by key: %w", err)
	}

	now := u.now()
	switch len(matches) {
	case 0:
		return u.insert(ctx, l, now)
	case 1:
		return u.update(ctx, matches[0], l, now)
	default:
		matchIDs := make([]int64, len(matches))
		for i, m := range matches {
			matchIDs[i] = m.ID
		}
		return UpsertResult{}, &ConflictError{Key: key, Matches: matchIDs}
	}
}

func (u *Upserter) insert(ctx context.Context, l *Listing, now time.Time) (UpsertResult, error) {
	if l.ULID == "" {
		id, err := u.newID()
		if err != nil {
			return UpsertResult{}, fmt.Errorf("mint listing id: %w", err)
		}
		l.ULID = id
	}
	if l.ListingDate == nil {
		l.ListingDate = &now
	}
	if l.Status != StatusForSale && l.RemovalDate == nil {
		l.RemovalDate = &now
	}
	l.Markers = strings.ReplaceAll(l.Markers, MarkerPendingDelete, "")
	l.LastUpdate = now

	id, err := u.store.Insert(ctx, l)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("insert listing: %w", err)
	}
	l.ID = id
	return UpsertResult{ID: id, ULID: l.ULID, Action: ActionInserted}, nil
}

func (u *Upserter) update(ctx context.Context, existing, incoming *Listing, now time.Time) (UpsertResult, error) {
	params := u.diff(existing, incoming, now)
	result := UpsertResult{ID: existing.ID, ULID: existing.ULID, Action: ActionUnchanged}
	incoming.ID = existing.ID
	incoming.ULID = existing.ULID
	if !params.changed() {
		return result, nil
	}
	params.LastUpdate = now
	if err := u.store.Update(ctx, existing.ID, params); err != nil {
		return UpsertResult{}, fmt.Errorf("update listing %d: %w", existing.ID, err)
	}
	result.Action = ActionUpdated
	return result, nil
}

// diff works out which stored fields the incoming listing changes.
func (u *Upserter) diff(existing, incoming *Listing, now time.Time) UpdateParams {
	var p UpdateParams

	markers := mergeMarkers(existing.Markers, incoming.Markers)
	if markers != existing.Markers {
		p.Markers = &markers
	}

	// Expunged listings only ever lose their pending-delete marker.
	if existing.Status == StatusExpunged {
		return p
	}

	setStatus(&p, existing, incoming.Status)

	if incoming.Status != StatusForSale {
		// A delisting payload carries only key fields; never blank the
		// stored record with it.
		if existing.Status == StatusForSale || existing.RemovalDate == nil {
			removal := now
			if incoming.RemovalDate != nil {
				removal = *incoming.RemovalDate
			}
			setTime(&p.RemovalDate, existing.RemovalDate, removal)
		}
		setString(&p.StockNo, existing.StockNo, incoming.StockNo)
		return p
	}

	setString(&p.ModelYear, existing.ModelYear, incoming.ModelYear)
	setString(&p.Make, existing.Make, incoming.Make)
	setString(&p.Model, existing.Model, incoming.Model)
	if incoming.Price != existing.Price {
		p.Price = &incoming.Price
	}
	setString(&p.ListingText, existing.ListingText, incoming.ListingText)
	setString(&p.PicHref, existing.PicHref, incoming.PicHref)
	setString(&p.ListingHref, existing.ListingHref, incoming.ListingHref)
	setString(&p.SourceTextID, existing.SourceTextID, incoming.SourceTextID)
	setString(&p.Source, existing.Source, incoming.Source)
	setString(&p.StockNo, existing.StockNo, incoming.StockNo)
	setString(&p.LocationText, existing.LocationText, incoming.LocationText)
	setString(&p.Zip, existing.Zip, incoming.Zip)
	setFloat(&p.Lat, existing.Lat, incoming.Lat)
	setFloat(&p.Lon, existing.Lon, incoming.Lon)
	setString(&p.Color, existing.Color, incoming.Color)
	setString(&p.IntColor, existing.IntColor, incoming.IntColor)
	setString(&p.VIN, existing.VIN, incoming.VIN)
	if incoming.Mileage != nil && (existing.Mileage == nil || *existing.Mileage != *incoming.Mileage) {
		p.Mileage = incoming.Mileage
	}
	if incoming.RemovalDate != nil {
		setTime(&p.RemovalDate, existing.RemovalDate, *incoming.RemovalDate)
	}
	if incoming.StaticQuality != existing.StaticQuality {
		p.StaticQuality = &incoming.StaticQuality
	}

	tags := u.policy.Merge(existing.Tags, incoming.Tags, incoming.Retracted)
	if !tags.Equal(existing.Tags) {
		p.Tags = tags
	}
	return p
}

func (p UpdateParams) changed() bool {
	return p.Status != nil || p.Markers != nil || p.ModelYear != nil || p.Make != nil ||
		p.Model != nil || p.Price != nil || p.ListingText != nil || p.PicHref != nil ||
		p.ListingHref != nil || p.SourceTextID != nil || p.Source != nil || p.StockNo != nil ||
		p.LocationText != nil || p.Zip != nil || p.Lat != nil || p.Lon != nil ||
		p.Color != nil || p.IntColor != nil || p.VIN != nil || p.Mileage != nil ||
		p.RemovalDate != nil || p.StaticQuality != nil || p.Tags != nil
}

// mergeMarkers unions two marker strings and drops the pending-delete
// marker, keeping first-seen order.
func mergeMarkers(existing, incoming string) string {
	var b strings.Builder
	for _, r := range existing + incoming {
		if string(r) == MarkerPendingDelete || strings.ContainsRune(b.String(), r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func setStatus(p *UpdateParams, existing *Listing, incoming Status) {
	if incoming != "" && incoming != existing.Status {
		p.Status = &incoming
	}
}

func setString(dst **string, prev, next string) {
	if next != "" && next != prev {
		*dst = &next
	}
}

func setFloat(dst **float64, prev, next *float64) {
	if next != nil && (prev == nil || *prev != *next) {
		*dst = next
	}
}

// setTime compares at day granularity.
func setTime(dst **time.Time, prev *time.Time, next time.Time) {
	if prev != nil && sameDay(*prev, next) {
		return
	}
	*dst = &next
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
