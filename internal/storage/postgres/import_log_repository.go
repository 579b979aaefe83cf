package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gellingson/carbyr/internal/domain/listings"
)

// ImportLogRepository appends one row per finished import run.
type ImportLogRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

// ImportLogEntry is one stored run summary.
type ImportLogEntry struct {
	ID         int64
	SourceType listings.SourceType
	SourceID   int64
	Timestamp  time.Time
	RunID      string
	Fetched    int
	Accepted   int
	Rejected   int
	Inserted   int
	Updated    int
	Unchanged  int
	Conflicts  int
	Removed    int
	Counters   map[string]int
	Message    string
}

func (r *ImportLogRepository) RecordImport(ctx context.Context, sourceType listings.SourceType, sourceID int64, report *listings.ImportReport) error {
	const query = `
		INSERT INTO inventory_import_log (
			source_type, source_id, import_timestamp, run_id,
			fetched, accepted, rejected, inserted, updated, unchanged, conflicts, removed,
			counters, message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	counters, err := json.Marshal(report.Counters)
	if err != nil {
		return fmt.Errorf("encode counters: %w", err)
	}
	ts := report.FinishedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err = pick(r.pool, r.tx).Exec(ctx, query,
		string(sourceType), sourceID, ts, report.RunID,
		report.Fetched, report.Accepted, report.Rejected, report.Inserted, report.Updated,
		report.Unchanged, report.Conflicts, report.Removed,
		counters, importMessage(report),
	)
	if err != nil {
		return fmt.Errorf("record import: %w", err)
	}
	return nil
}

// Recent returns the latest runs for a source, newest first.
func (r *ImportLogRepository) Recent(ctx context.Context, sourceType listings.SourceType, sourceID int64, limit int) ([]ImportLogEntry, error) {
	const query = `
		SELECT id, source_type, source_id, import_timestamp, run_id,
		       fetched, accepted, rejected, inserted, updated, unchanged, conflicts, removed,
		       counters, message
		FROM inventory_import_log
		WHERE source_type = $1 AND source_id = $2
		ORDER BY import_timestamp DESC, id DESC
		LIMIT $3`

	if limit <= 0 {
		limit = 10
	}
	rows, err := pick(r.pool, r.tx).Query(ctx, query, string(sourceType), sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list imports: %w", err)
	}
	defer rows.Close()

	var out []ImportLogEntry
	for rows.Next() {
		var (
			e        ImportLogEntry
			st       string
			counters []byte
		)
		if err := rows.Scan(&e.ID, &st, &e.SourceID, &e.Timestamp, &e.RunID,
			&e.Fetched, &e.Accepted, &e.Rejected, &e.Inserted, &e.Updated, &e.Unchanged, &e.Conflicts, &e.Removed,
			&counters, &e.Message); err != nil {
			return nil, fmt.Errorf("scan import: %w", err)
		}
		e.SourceType = listings.SourceType(st)
		if len(counters) > 0 {
			if err := json.Unmarshal(counters, &e.Counters); err != nil {
				return nil, fmt.Errorf("decode counters: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func importMessage(r *listings.ImportReport) string {
	return fmt.Sprintf("%s: fetched %d, accepted %d, rejected %d, inserted %d, updated %d, removed %d",
		r.Source, r.Fetched, r.Accepted, r.Rejected, r.Inserted, r.Updated, r.Removed)
}
