package storage

import (
	"context"
	"database/sql"
	"time"
)

// ClaimRow is the persisted form of a claim
type ClaimRow struct {
	ID          string
	ContentKey  string
	Text        string
	ClaimType   string
	Category    string
	CreatedAt   time.Time
	Signal      *float64
	Confidence  string // JSON-encoded confidence value
	EvidenceIDs []uint64
}

// ClaimRepository provides access to claims and their evidence links
type ClaimRepository struct {
	db *DB
}

// NewClaimRepository creates a new claim repository
func NewClaimRepository(db *DB) *ClaimRepository {
	return &ClaimRepository{db: db}
}

// InsertIfAbsent stores row unless a claim with the same id exists.
// Returns true when the row was inserted.
func (r *ClaimRepository) InsertIfAbsent(ctx context.Context, row *ClaimRow) (bool, error) {
	inserted := false
	err := r.db.WithRetryTx(ctx, "register claim", func(tx *sql.Tx) error {
		inserted = false
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO claims (id, content_key, text, claim_type, category, created_at, signal, confidence)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			row.ID,
			row.ContentKey,
			row.Text,
			row.ClaimType,
			row.Category,
			row.CreatedAt.UnixNano(),
			nullFloat(row.Signal),
			row.Confidence,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		for i, seq := range row.EvidenceIDs {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO claim_evidence (claim_id, position, seq) VALUES (?, ?, ?)",
				row.ID, i, seq,
			); err != nil {
				return err
			}
		}
		inserted = true
		return nil
	})
	return inserted, err
}

// Get returns the claim with the given id, or nil if none exists
func (r *ClaimRepository) Get(ctx context.Context, id string) (*ClaimRow, error) {
	return Retry(ctx, r.db.retry, r.db.logger, "lookup claim", func() (*ClaimRow, error) {
		rows, err := r.query(ctx, "WHERE id = ?", id)
		if err != nil || len(rows) == 0 {
			return nil, err
		}
		return &rows[0], nil
	})
}

// ByContentKey returns all claims sharing a content key, oldest first
func (r *ClaimRepository) ByContentKey(ctx context.Context, key string) ([]ClaimRow, error) {
	return Retry(ctx, r.db.retry, r.db.logger, "lookup claims by content", func() ([]ClaimRow, error) {
		return r.query(ctx, "WHERE content_key = ?", key)
	})
}

// All returns every claim, oldest first
func (r *ClaimRepository) All(ctx context.Context) ([]ClaimRow, error) {
	return Retry(ctx, r.db.retry, r.db.logger, "list claims", func() ([]ClaimRow, error) {
		return r.query(ctx, "")
	})
}

func (r *ClaimRepository) query(ctx context.Context, where string, args ...interface{}) ([]ClaimRow, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT id, content_key, text, claim_type, category, created_at, signal, confidence
		FROM claims `+where+`
		ORDER BY created_at, id
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claims []ClaimRow
	for rows.Next() {
		var (
			row     ClaimRow
			created int64
			signal  sql.NullFloat64
		)
		if err := rows.Scan(&row.ID, &row.ContentKey, &row.Text, &row.ClaimType, &row.Category, &created, &signal, &row.Confidence); err != nil {
			return nil, err
		}
		row.CreatedAt = time.Unix(0, created).UTC()
		if signal.Valid {
			v := signal.Float64
			row.Signal = &v
		}
		claims = append(claims, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range claims {
		ids, err := r.evidenceFor(ctx, claims[i].ID)
		if err != nil {
			return nil, err
		}
		claims[i].EvidenceIDs = ids
	}
	return claims, nil
}

func (r *ClaimRepository) evidenceFor(ctx context.Context, claimID string) ([]uint64, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		"SELECT seq FROM claim_evidence WHERE claim_id = ? ORDER BY position",
		claimID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uint64
	for rows.Next() {
		var seq uint64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		ids = append(ids, seq)
	}
	return ids, rows.Err()
}

// Links returns the evidence ids of every claim, keyed by claim id
func (r *ClaimRepository) Links(ctx context.Context) (map[string][]uint64, error) {
	return Retry(ctx, r.db.retry, r.db.logger, "load claim links", func() (map[string][]uint64, error) {
		rows, err := r.db.conn.QueryContext(ctx,
			"SELECT claim_id, seq FROM claim_evidence ORDER BY claim_id, position",
		)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		links := make(map[string][]uint64)
		for rows.Next() {
			var id string
			var seq uint64
			if err := rows.Scan(&id, &seq); err != nil {
				return nil, err
			}
			links[id] = append(links[id], seq)
		}
		return links, rows.Err()
	})
}

func nullFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
