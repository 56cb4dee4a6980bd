package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// OutcomeRow is the persisted form of an outcome record
type OutcomeRow struct {
	ID                     string
	ClaimID                string
	ClaimType              string
	Category               string
	ClaimedSignal          *float64
	ClaimedConfidence      string // JSON-encoded confidence value
	Outcome                string
	Method                 string
	EvidenceText           string
	Timestamp              time.Time
	VerifierID             string
	VerificationConfidence *float64
	Orphan                 bool
	Flags                  []string
}

// OutcomeRepository provides access to the append-only outcome stream
type OutcomeRepository struct {
	db *DB
}

// NewOutcomeRepository creates a new outcome repository
func NewOutcomeRepository(db *DB) *OutcomeRepository {
	return &OutcomeRepository{db: db}
}

// Insert appends an outcome record
func (r *OutcomeRepository) Insert(ctx context.Context, row *OutcomeRow) error {
	_, err := Retry(ctx, r.db.retry, r.db.logger, "record outcome", func() (struct{}, error) {
		_, err := r.db.conn.ExecContext(ctx, `
			INSERT INTO outcomes (id, claim_id, claim_type, category, claimed_signal, claimed_confidence,
				outcome, method, evidence_text, ts, verifier_id, verification_confidence, orphan, flags)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			row.ID,
			row.ClaimID,
			row.ClaimType,
			row.Category,
			nullFloat(row.ClaimedSignal),
			row.ClaimedConfidence,
			row.Outcome,
			row.Method,
			row.EvidenceText,
			row.Timestamp.UnixNano(),
			row.VerifierID,
			nullFloat(row.VerificationConfidence),
			boolToInt(row.Orphan),
			strings.Join(row.Flags, ","),
		)
		return struct{}{}, err
	})
	return err
}

// ByClaim returns a claim's records, oldest first
func (r *OutcomeRepository) ByClaim(ctx context.Context, claimID string) ([]OutcomeRow, error) {
	return Retry(ctx, r.db.retry, r.db.logger, "load outcomes", func() ([]OutcomeRow, error) {
		return r.query(ctx, "WHERE claim_id = ?", claimID)
	})
}

// Since returns every record with a timestamp at or after t, oldest first
func (r *OutcomeRepository) Since(ctx context.Context, t time.Time) ([]OutcomeRow, error) {
	return Retry(ctx, r.db.retry, r.db.logger, "load recent outcomes", func() ([]OutcomeRow, error) {
		return r.query(ctx, "WHERE ts >= ?", t.UnixNano())
	})
}

// All returns every record, oldest first
func (r *OutcomeRepository) All(ctx context.Context) ([]OutcomeRow, error) {
	return Retry(ctx, r.db.retry, r.db.logger, "load all outcomes", func() ([]OutcomeRow, error) {
		return r.query(ctx, "")
	})
}

func (r *OutcomeRepository) query(ctx context.Context, where string, args ...interface{}) ([]OutcomeRow, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT id, claim_id, claim_type, category, claimed_signal, claimed_confidence, outcome, method,
			evidence_text, ts, verifier_id, verification_confidence, orphan, flags
		FROM outcomes `+where+`
		ORDER BY ts, rowid
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []OutcomeRow
	for rows.Next() {
		var (
			row          OutcomeRow
			claimed      sql.NullFloat64
			verification sql.NullFloat64
			ts           int64
			orphan       int
			flags        string
		)
		if err := rows.Scan(
			&row.ID, &row.ClaimID, &row.ClaimType, &row.Category, &claimed, &row.ClaimedConfidence,
			&row.Outcome, &row.Method, &row.EvidenceText, &ts, &row.VerifierID, &verification, &orphan, &flags,
		); err != nil {
			return nil, err
		}
		if claimed.Valid {
			v := claimed.Float64
			row.ClaimedSignal = &v
		}
		if verification.Valid {
			v := verification.Float64
			row.VerificationConfidence = &v
		}
		row.Timestamp = time.Unix(0, ts).UTC()
		row.Orphan = orphan != 0
		if flags != "" {
			row.Flags = strings.Split(flags, ",")
		}
		records = append(records, row)
	}
	return records, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
