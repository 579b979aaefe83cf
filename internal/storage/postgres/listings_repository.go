package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mmcloughlin/geohash"

	"github.com/gellingson/carbyr/internal/domain/ids"
	"github.com/gellingson/carbyr/internal/domain/listings"
	"github.com/gellingson/carbyr/internal/metrics"
)

// GeohashPrecision is the number of geohash characters stored per listing
// (roughly 5m cells).
const GeohashPrecision = 9

// ListingRepository implements listings.Store and listings.InventoryMarker.
type ListingRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

var (
	_ listings.Store           = (*ListingRepository)(nil)
	_ listings.InventoryMarker = (*ListingRepository)(nil)
)

// NewListingRepository creates a new listing repository.
func NewListingRepository(pool *pgxpool.Pool) *ListingRepository {
	return &ListingRepository{pool: pool}
}

const listingColumns = `id, ulid, markers, status, model_year, make, model, price,
	listing_text, pic_href, listing_href, source_type, source_id, source_textid, source,
	local_id, stock_no, location_text, zip, lat, lon, color, int_color, vin, mileage,
	listing_date, removal_date, last_update, static_quality, dynamic_quality, tags`

func scanListing(row pgx.Row) (*listings.Listing, error) {
	var (
		l          listings.Listing
		status     string
		sourceType string
		tags       []string
	)
	err := row.Scan(
		&l.ID, &l.ULID, &l.Markers, &status, &l.ModelYear, &l.Make, &l.Model, &l.Price,
		&l.ListingText, &l.PicHref, &l.ListingHref, &sourceType, &l.SourceID, &l.SourceTextID, &l.Source,
		&l.LocalID, &l.StockNo, &l.LocationText, &l.Zip, &l.Lat, &l.Lon, &l.Color, &l.IntColor, &l.VIN, &l.Mileage,
		&l.ListingDate, &l.RemovalDate, &l.LastUpdate, &l.StaticQuality, &l.DynamicQuality, &tags,
	)
	if err != nil {
		return nil, err
	}
	l.Status = listings.Status(strings.TrimSpace(status))
	l.SourceType = listings.SourceType(strings.TrimSpace(sourceType))
	l.Tags = listings.NewTagSet(tags...)
	return &l, nil
}

// FindByNaturalKey returns every stored listing with key, oldest first.
func (r *ListingRepository) FindByNaturalKey(ctx context.Context, key listings.NaturalKey) ([]*listings.Listing, error) {
	query := `SELECT ` + listingColumns + `
		FROM listing
		WHERE source_type = $1 AND source_id = $2 AND local_id = $3
		ORDER BY id`

	start := time.Now()
	rows, err := r.queryer().Query(ctx, query, string(key.SourceType), key.SourceID, key.LocalID)
	metrics.RecordQuery("listing_find_by_key", start, err)
	if err != nil {
		return nil, fmt.Errorf("find listing by key: %w", err)
	}
	defer rows.Close()

	var out []*listings.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listings: %w", err)
	}
	return out, nil
}

// GetByULID returns one listing by its public id. Malformed ids are not
// found without a query.
func (r *ListingRepository) GetByULID(ctx context.Context, ulid string) (*listings.Listing, error) {
	if !ids.IsULID(ulid) {
		return nil, listings.ErrNotFound
	}
	ulid = strings.ToUpper(strings.TrimSpace(ulid))
	query := `SELECT ` + listingColumns + ` FROM listing WHERE ulid = $1`

	l, err := scanListing(r.queryer().QueryRow(ctx, query, ulid))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, listings.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get listing: %w", err)
	}
	return l, nil
}

// Insert stores a new listing and returns its id.
func (r *ListingRepository) Insert(ctx context.Context, l *listings.Listing) (int64, error) {
	const query = `
		INSERT INTO listing (
			ulid, markers, status, model_year, make, model, price,
			listing_text, pic_href, listing_href, source_type, source_id, source_textid, source,
			local_id, stock_no, location_text, zip, lat, lon, geohash, color, int_color, vin, mileage,
			listing_date, removal_date, last_update, static_quality, dynamic_quality, tags
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25,
			$26, $27, $28, $29, $30, $31
		)
		RETURNING id`

	var id int64
	start := time.Now()
	err := r.queryer().QueryRow(ctx, query,
		l.ULID, l.Markers, string(l.Status), l.ModelYear, l.Make, l.Model, l.Price,
		l.ListingText, l.PicHref, l.ListingHref, string(l.SourceType), l.SourceID, l.SourceTextID, l.Source,
		l.LocalID, l.StockNo, l.LocationText, l.Zip, l.Lat, l.Lon, geohashOf(l.Lat, l.Lon), l.Color, l.IntColor, l.VIN, l.Mileage,
		l.ListingDate, l.RemovalDate, l.LastUpdate, l.StaticQuality, l.DynamicQuality, tagSlice(l.Tags),
	).Scan(&id)
	metrics.RecordQuery("listing_insert", start, err)
	if err != nil {
		return 0, fmt.Errorf("insert listing: %w", err)
	}
	return id, nil
}

// Update writes the non-nil fields of params to listing id.
func (r *ListingRepository) Update(ctx context.Context, id int64, params listings.UpdateParams) error {
	query, args := buildListingUpdate(id, params)
	start := time.Now()
	tag, err := r.queryer().Exec(ctx, query, args...)
	metrics.RecordQuery("listing_update", start, err)
	if err != nil {
		return fmt.Errorf("update listing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return listings.ErrNotFound
	}
	return nil
}

// buildListingUpdate renders the UPDATE statement for the set fields of p.
// last_update is always written; geohash follows lat/lon when both change.
func buildListingUpdate(id int64, p listings.UpdateParams) (string, []any) {
	var (
		sets []string
		args []any
	)
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, column+" = $"+strconv.Itoa(len(args)))
	}

	if p.Status != nil {
		set("status", string(*p.Status))
	}
	if p.Markers != nil {
		set("markers", *p.Markers)
	}
	if p.ModelYear != nil {
		set("model_year", *p.ModelYear)
	}
	if p.Make != nil {
		set("make", *p.Make)
	}
	if p.Model != nil {
		set("model", *p.Model)
	}
	if p.Price != nil {
		set("price", *p.Price)
	}
	if p.ListingText != nil {
		set("listing_text", *p.ListingText)
	}
	if p.PicHref != nil {
		set("pic_href", *p.PicHref)
	}
	if p.ListingHref != nil {
		set("listing_href", *p.ListingHref)
	}
	if p.SourceTextID != nil {
		set("source_textid", *p.SourceTextID)
	}
	if p.Source != nil {
		set("source", *p.Source)
	}
	if p.StockNo != nil {
		set("stock_no", *p.StockNo)
	}
	if p.LocationText != nil {
		set("location_text", *p.LocationText)
	}
	if p.Zip != nil {
		set("zip", *p.Zip)
	}
	if p.Lat != nil {
		set("lat", *p.Lat)
	}
	if p.Lon != nil {
		set("lon", *p.Lon)
	}
	if p.Lat != nil && p.Lon != nil {
		set("geohash", geohashOf(p.Lat, p.Lon))
	}
	if p.Color != nil {
		set("color", *p.Color)
	}
	if p.IntColor != nil {
		set("int_color", *p.IntColor)
	}
	if p.VIN != nil {
		set("vin", *p.VIN)
	}
	if p.Mileage != nil {
		set("mileage", *p.Mileage)
	}
	if p.RemovalDate != nil {
		set("removal_date", *p.RemovalDate)
	}
	if p.StaticQuality != nil {
		set("static_quality", *p.StaticQuality)
	}
	if p.Tags != nil {
		set("tags", tagSlice(p.Tags))
	}
	lastUpdate := p.LastUpdate
	if lastUpdate.IsZero() {
		lastUpdate = time.Now()
	}
	set("last_update", lastUpdate)

	args = append(args, id)
	query := "UPDATE listing SET " + strings.Join(sets, ", ") + " WHERE id = $" + strconv.Itoa(len(args))
	return query, args
}

// MarkPendingDelete paints the pending-delete marker on every for-sale
// listing of the source.
func (r *ListingRepository) MarkPendingDelete(ctx context.Context, sourceType listings.SourceType, sourceID int64) (int64, error) {
	const query = `
		UPDATE listing
		SET markers = markers || $3
		WHERE source_type = $1 AND source_id = $2 AND status = 'F'
		  AND position($3 in markers) = 0`

	tag, err := r.queryer().Exec(ctx, query, string(sourceType), sourceID, listings.MarkerPendingDelete)
	if err != nil {
		return 0, fmt.Errorf("mark pending delete: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RemoveMarked moves every still-marked listing of the source to Removed,
// clears the marker and pulls removal_date in to now unless it is already
// earlier.
func (r *ListingRepository) RemoveMarked(ctx context.Context, sourceType listings.SourceType, sourceID int64, now time.Time) (int64, error) {
	const query = `
		UPDATE listing
		SET status = 'R',
		    markers = replace(markers, $3, ''),
		    removal_date = CASE WHEN removal_date IS NULL OR removal_date > $4 THEN $4 ELSE removal_date END,
		    last_update = $4
		WHERE source_type = $1 AND source_id = $2
		  AND position($3 in markers) > 0`

	tag, err := r.queryer().Exec(ctx, query, string(sourceType), sourceID, listings.MarkerPendingDelete, now)
	if err != nil {
		return 0, fmt.Errorf("remove marked listings: %w", err)
	}
	return tag.RowsAffected(), nil
}

func geohashOf(lat, lon *float64) *string {
	if lat == nil || lon == nil || *lat < -90 || *lat > 90 {
		return nil
	}
	h := geohash.EncodeWithPrecision(*lat, *lon, GeohashPrecision)
	return &h
}

func tagSlice(tags listings.TagSet) []string {
	out := tags.Sorted()
	if out == nil {
		out = []string{}
	}
	return out
}

func (r *ListingRepository) queryer() queryer {
	return pick(r.pool, r.tx)
}
