package storage

import (
	"context"
	"database/sql"
	"time"
)

// SnapshotRow is one persisted calibration curve of a snapshot
type SnapshotRow struct {
	Version     uint64
	ClaimType   string
	Category    string
	ComputedAt  time.Time
	Fingerprint string
	Curve       string // JSON-encoded curve
}

// SnapshotRepository persists calibration snapshots
type SnapshotRepository struct {
	db *DB
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Save stores all curves of one snapshot atomically
func (r *SnapshotRepository) Save(ctx context.Context, rows []SnapshotRow) error {
	return r.db.WithRetryTx(ctx, "save calibration snapshot", func(tx *sql.Tx) error {
		for _, row := range rows {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO calibration_snapshots (version, claim_type, category, computed_at, fingerprint, curve)
				VALUES (?, ?, ?, ?, ?, ?)
			`,
				row.Version,
				row.ClaimType,
				row.Category,
				row.ComputedAt.UnixNano(),
				row.Fingerprint,
				row.Curve,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// Latest returns the curves of the highest saved snapshot version.
// Returns nil when nothing was saved yet.
func (r *SnapshotRepository) Latest(ctx context.Context) ([]SnapshotRow, error) {
	return Retry(ctx, r.db.retry, r.db.logger, "load calibration snapshot", func() ([]SnapshotRow, error) {
		rows, err := r.db.conn.QueryContext(ctx, `
			SELECT version, claim_type, category, computed_at, fingerprint, curve
			FROM calibration_snapshots
			WHERE version = (SELECT MAX(version) FROM calibration_snapshots)
			ORDER BY claim_type, category
		`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []SnapshotRow
		for rows.Next() {
			var row SnapshotRow
			var computed int64
			if err := rows.Scan(&row.Version, &row.ClaimType, &row.Category, &computed, &row.Fingerprint, &row.Curve); err != nil {
				return nil, err
			}
			row.ComputedAt = time.Unix(0, computed).UTC()
			out = append(out, row)
		}
		return out, rows.Err()
	})
}
