package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gellingson/carbyr/internal/domain/listings"
)

// RefDataRepository implements listings.RefDataLoader over the synonym
// tables.
type RefDataRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

var _ listings.RefDataLoader = (*RefDataRepository)(nil)

func (r *RefDataRepository) LoadMakes(ctx context.Context) ([]listings.Make, error) {
	const query = `
		SELECT id, non_canonical_name, canonical_name, consume_words, push_words
		FROM make_synonym
		ORDER BY id`

	rows, err := pick(r.pool, r.tx).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load makes: %w", err)
	}
	defer rows.Close()

	var out []listings.Make
	for rows.Next() {
		var m listings.Make
		if err := rows.Scan(&m.ID, &m.NonCanonical, &m.Canonical, &m.Consume, &m.Push); err != nil {
			return nil, fmt.Errorf("scan make: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *RefDataRepository) LoadModels(ctx context.Context) ([]listings.Model, error) {
	const query = `
		SELECT id, COALESCE(make_id, 0), canonical_make, non_canonical_name, canonical_name
		FROM model_synonym
		ORDER BY id`

	rows, err := pick(r.pool, r.tx).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load models: %w", err)
	}
	defer rows.Close()

	var out []listings.Model
	for rows.Next() {
		var m listings.Model
		if err := rows.Scan(&m.ID, &m.MakeID, &m.Make, &m.NonCanonical, &m.Canonical); err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpsertMake adds or replaces the synonym for m.NonCanonical.
func (r *RefDataRepository) UpsertMake(ctx context.Context, m listings.Make) (int64, error) {
	const query = `
		INSERT INTO make_synonym (non_canonical_name, canonical_name, consume_words, push_words)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (non_canonical_name) DO UPDATE
		SET canonical_name = EXCLUDED.canonical_name,
		    consume_words = EXCLUDED.consume_words,
		    push_words = EXCLUDED.push_words
		RETURNING id`

	var id int64
	err := pick(r.pool, r.tx).QueryRow(ctx, query,
		m.NonCanonical, m.Canonical, nonNil(m.Consume), nonNil(m.Push)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert make %q: %w", m.NonCanonical, err)
	}
	return id, nil
}

// UpsertModel adds or replaces the synonym for m.NonCanonical under m.Make.
func (r *RefDataRepository) UpsertModel(ctx context.Context, m listings.Model) (int64, error) {
	const query = `
		INSERT INTO model_synonym (make_id, canonical_make, non_canonical_name, canonical_name)
		VALUES (NULLIF($1, 0), $2, $3, $4)
		ON CONFLICT (canonical_make, non_canonical_name) DO UPDATE
		SET canonical_name = EXCLUDED.canonical_name,
		    make_id = EXCLUDED.make_id
		RETURNING id`

	var id int64
	err := pick(r.pool, r.tx).QueryRow(ctx, query, m.MakeID, m.Make, m.NonCanonical, m.Canonical).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert model %q: %w", m.NonCanonical, err)
	}
	return id, nil
}

func nonNil(words []string) []string {
	if words == nil {
		return []string{}
	}
	return words
}
