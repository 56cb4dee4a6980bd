package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// EvidenceRow is the persisted form of an evidence event
type EvidenceRow struct {
	Seq            uint64
	TraceID        string
	ProducerID     string
	Stage          string
	Timestamp      time.Time
	Payload        []byte
	CorrelationIDs []string
	SourceDigest   string
	AppendedAt     time.Time
}

// EvidenceRepository provides access to the append-only evidence log
type EvidenceRepository struct {
	db *DB
}

// NewEvidenceRepository creates a new evidence repository
func NewEvidenceRepository(db *DB) *EvidenceRepository {
	return &EvidenceRepository{db: db}
}

// ReserveBlock reserves n sequence numbers and returns the first one.
func (r *EvidenceRepository) ReserveBlock(ctx context.Context, n uint64) (uint64, error) {
	if n == 0 {
		return 0, fmt.Errorf("reserve block: size must be positive")
	}
	var first uint64
	err := r.db.WithRetryTx(ctx, "reserve evidence sequence", func(tx *sql.Tx) error {
		var through uint64
		if err := tx.QueryRowContext(ctx,
			"SELECT reserved_through FROM evidence_sequence WHERE id = 1",
		).Scan(&through); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE evidence_sequence SET reserved_through = ? WHERE id = 1",
			through+n,
		); err != nil {
			return err
		}
		first = through + 1
		return nil
	})
	return first, err
}

// Insert persists one event with its correlation ids in a single transaction
func (r *EvidenceRepository) Insert(ctx context.Context, row *EvidenceRow) error {
	stored, encoding := r.db.codec.Encode(row.Payload)
	return r.db.WithRetryTx(ctx, "append evidence", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO evidence_events (seq, trace_id, producer_id, stage, ts, payload, payload_encoding, source_digest, appended_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			row.Seq,
			row.TraceID,
			row.ProducerID,
			row.Stage,
			row.Timestamp.UnixNano(),
			stored,
			encoding,
			row.SourceDigest,
			row.AppendedAt.UnixNano(),
		); err != nil {
			return err
		}
		for i, cid := range row.CorrelationIDs {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO evidence_correlations (seq, position, correlation_id) VALUES (?, ?, ?)",
				row.Seq, i, cid,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadAll returns every stored event ordered by sequence number
func (r *EvidenceRepository) LoadAll(ctx context.Context) ([]EvidenceRow, error) {
	return Retry(ctx, r.db.retry, r.db.logger, "load evidence", func() ([]EvidenceRow, error) {
		return r.loadAll(ctx)
	})
}

func (r *EvidenceRepository) loadAll(ctx context.Context) ([]EvidenceRow, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT seq, trace_id, producer_id, stage, ts, payload, payload_encoding, source_digest, appended_at
		FROM evidence_events
		ORDER BY seq
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EvidenceRow
	index := make(map[uint64]int)
	for rows.Next() {
		var (
			row       EvidenceRow
			ts, appAt int64
			payload   []byte
			encoding  string
		)
		if err := rows.Scan(&row.Seq, &row.TraceID, &row.ProducerID, &row.Stage, &ts, &payload, &encoding, &row.SourceDigest, &appAt); err != nil {
			return nil, err
		}
		decoded, err := r.db.codec.Decode(payload, encoding)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", row.Seq, err)
		}
		row.Payload = decoded
		row.Timestamp = time.Unix(0, ts).UTC()
		row.AppendedAt = time.Unix(0, appAt).UTC()
		index[row.Seq] = len(events)
		events = append(events, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	corr, err := r.db.conn.QueryContext(ctx,
		"SELECT seq, correlation_id FROM evidence_correlations ORDER BY seq, position",
	)
	if err != nil {
		return nil, err
	}
	defer corr.Close()
	for corr.Next() {
		var seq uint64
		var cid string
		if err := corr.Scan(&seq, &cid); err != nil {
			return nil, err
		}
		if i, ok := index[seq]; ok {
			events[i].CorrelationIDs = append(events[i].CorrelationIDs, cid)
		}
	}
	return events, corr.Err()
}

// ReclaimTail pulls the reservation back to the highest stored sequence
// number and returns it. Numbers reserved by an earlier process but never
// stored are handed out again; nothing below the highest stored number is.
func (r *EvidenceRepository) ReclaimTail(ctx context.Context) (uint64, error) {
	var through uint64
	err := r.db.WithRetryTx(ctx, "reclaim evidence sequence", func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx,
			"SELECT COALESCE(MAX(seq), 0) FROM evidence_events",
		).Scan(&through); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE evidence_sequence SET reserved_through = ? WHERE id = 1",
			through,
		)
		return err
	})
	return through, err
}
