package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gellingson/carbyr/internal/domain/listings"
)

// Zipcode origins.
const (
	ZipOriginTable     = "table"
	ZipOriginNominatim = "nominatim"
)

// ZipcodeRepository reads and extends the postal code reference table.
type ZipcodeRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

// GetZipcode returns listings.ErrNotFound for unknown codes.
func (r *ZipcodeRepository) GetZipcode(ctx context.Context, zip string) (listings.Zipcode, error) {
	const query = `SELECT zip, city, state_code, lat, lon FROM zipcode WHERE zip = $1`

	var z listings.Zipcode
	err := pick(r.pool, r.tx).QueryRow(ctx, query, zip).Scan(&z.Zip, &z.City, &z.StateCode, &z.Lat, &z.Lon)
	if errors.Is(err, pgx.ErrNoRows) {
		return listings.Zipcode{}, fmt.Errorf("zipcode %s: %w", zip, listings.ErrNotFound)
	}
	if err != nil {
		return listings.Zipcode{}, fmt.Errorf("get zipcode: %w", err)
	}
	return z, nil
}

// SaveZipcode inserts or refreshes a row. origin records where the row came
// from; rows loaded from the reference table are never overwritten by a
// geocoder result.
func (r *ZipcodeRepository) SaveZipcode(ctx context.Context, z listings.Zipcode, origin string) error {
	const query = `
		INSERT INTO zipcode (zip, city, state_code, lat, lon, origin)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (zip) DO UPDATE
		SET city = EXCLUDED.city,
		    state_code = EXCLUDED.state_code,
		    lat = EXCLUDED.lat,
		    lon = EXCLUDED.lon,
		    origin = EXCLUDED.origin
		WHERE zipcode.origin <> 'table' OR EXCLUDED.origin = 'table'`

	if origin == "" {
		origin = ZipOriginTable
	}
	if _, err := pick(r.pool, r.tx).Exec(ctx, query, z.Zip, z.City, z.StateCode, z.Lat, z.Lon, origin); err != nil {
		return fmt.Errorf("save zipcode: %w", err)
	}
	return nil
}
