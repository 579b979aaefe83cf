package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AnchorRepository stores the feed resume point of each classified source.
type AnchorRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

// GetAnchor returns the saved anchor for sourceID, or "" when the source has
// never been polled.
func (r *AnchorRepository) GetAnchor(ctx context.Context, sourceID int64) (string, error) {
	const query = `SELECT anchor FROM source_anchor WHERE source_id = $1`

	var anchor string
	err := pick(r.pool, r.tx).QueryRow(ctx, query, sourceID).Scan(&anchor)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get anchor: %w", err)
	}
	return anchor, nil
}

func (r *AnchorRepository) SetAnchor(ctx context.Context, sourceID int64, anchor string) error {
	const query = `
		INSERT INTO source_anchor (source_id, anchor, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (source_id) DO UPDATE
		SET anchor = EXCLUDED.anchor, updated_at = now()`

	if _, err := pick(r.pool, r.tx).Exec(ctx, query, sourceID, anchor); err != nil {
		return fmt.Errorf("set anchor: %w", err)
	}
	return nil
}
