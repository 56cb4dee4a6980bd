package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema version tracking
const currentSchemaVersion = 1

// initializeSchema creates all tables for a new database
func (db *DB) initializeSchema() error {
	return db.WithTx(context.Background(), func(tx *sql.Tx) error {
		steps := []func(*sql.Tx) error{
			createSchemaVersionTable,
			createEvidenceTables,
			createClaimTables,
			createOutcomesTable,
			createSnapshotsTable,
		}
		for _, step := range steps {
			if err := step(tx); err != nil {
				return err
			}
		}

		if err := setSchemaVersion(tx, currentSchemaVersion); err != nil {
			return err
		}

		db.logger.Info("Database schema initialized", "version", currentSchemaVersion)
		return nil
	})
}

// runMigrations runs any pending schema migrations
func (db *DB) runMigrations() error {
	version, err := db.getSchemaVersion()
	if err != nil {
		return err
	}

	if version == currentSchemaVersion {
		db.logger.Debug("Database schema is up to date", "version", version)
		return nil
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	db.logger.Info("Running database migrations",
		"from_version", version,
		"to_version", currentSchemaVersion,
	)

	// Version 0 means the file exists but was never initialized.
	if version == 0 {
		return db.initializeSchema()
	}
	return nil
}

// getSchemaVersion gets the current schema version
func (db *DB) getSchemaVersion() (int, error) {
	var tableName string
	err := db.conn.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableName)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var version int
	err = db.conn.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

// setSchemaVersion sets the schema version
func setSchemaVersion(tx *sql.Tx, version int) error {
	if _, err := tx.Exec("DELETE FROM schema_version"); err != nil {
		return err
	}
	_, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version)
	return err
}

func createSchemaVersionTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`)
	return err
}

// createEvidenceTables creates the append-only evidence log, its correlation
// index and the sequence reservation row.
func createEvidenceTables(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS evidence_events (
			seq INTEGER PRIMARY KEY,
			trace_id TEXT NOT NULL,
			producer_id TEXT NOT NULL,
			stage TEXT NOT NULL,
			ts INTEGER NOT NULL,
			payload BLOB,
			payload_encoding TEXT NOT NULL DEFAULT 'raw',
			source_digest TEXT NOT NULL,
			appended_at INTEGER NOT NULL
		)`,
		"CREATE INDEX IF NOT EXISTS idx_evidence_trace ON evidence_events(trace_id, seq)",
		`CREATE TABLE IF NOT EXISTS evidence_correlations (
			seq INTEGER NOT NULL,
			position INTEGER NOT NULL,
			correlation_id TEXT NOT NULL,
			PRIMARY KEY (seq, position),
			FOREIGN KEY (seq) REFERENCES evidence_events(seq)
		)`,
		"CREATE INDEX IF NOT EXISTS idx_evidence_correlation_id ON evidence_correlations(correlation_id)",
		`CREATE TABLE IF NOT EXISTS evidence_sequence (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			reserved_through INTEGER NOT NULL
		)`,
		"INSERT OR IGNORE INTO evidence_sequence (id, reserved_through) VALUES (1, 0)",
		// The log is append-only at the storage layer too.
		`CREATE TRIGGER IF NOT EXISTS evidence_events_no_update
			BEFORE UPDATE ON evidence_events
			BEGIN SELECT RAISE(ABORT, 'evidence_events is append-only'); END`,
		`CREATE TRIGGER IF NOT EXISTS evidence_events_no_delete
			BEFORE DELETE ON evidence_events
			BEGIN SELECT RAISE(ABORT, 'evidence_events is append-only'); END`,
	}
	return execAll(tx, "evidence", stmts)
}

func createClaimTables(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS claims (
			id TEXT PRIMARY KEY,
			content_key TEXT NOT NULL,
			text TEXT NOT NULL,
			claim_type TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			signal REAL,
			confidence TEXT NOT NULL
		)`,
		"CREATE INDEX IF NOT EXISTS idx_claims_content_key ON claims(content_key)",
		"CREATE INDEX IF NOT EXISTS idx_claims_type ON claims(claim_type)",
		`CREATE TABLE IF NOT EXISTS claim_evidence (
			claim_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			PRIMARY KEY (claim_id, position),
			FOREIGN KEY (claim_id) REFERENCES claims(id)
		)`,
		"CREATE INDEX IF NOT EXISTS idx_claim_evidence_seq ON claim_evidence(seq)",
	}
	return execAll(tx, "claims", stmts)
}

func createOutcomesTable(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS outcomes (
			id TEXT PRIMARY KEY,
			claim_id TEXT NOT NULL,
			claim_type TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			claimed_signal REAL,
			claimed_confidence TEXT NOT NULL,
			outcome TEXT NOT NULL CHECK(outcome IN ('verified_correct', 'verified_incorrect', 'partially_correct', 'unknown')),
			method TEXT NOT NULL CHECK(method IN ('test_passed', 'test_failed', 'human_review', 'agent_feedback', 'contradiction_found')),
			evidence_text TEXT NOT NULL DEFAULT '',
			ts INTEGER NOT NULL,
			verifier_id TEXT NOT NULL DEFAULT '',
			verification_confidence REAL,
			orphan INTEGER NOT NULL DEFAULT 0,
			flags TEXT NOT NULL DEFAULT ''
		)`,
		"CREATE INDEX IF NOT EXISTS idx_outcomes_claim_ts ON outcomes(claim_id, ts)",
		`CREATE TRIGGER IF NOT EXISTS outcomes_no_update
			BEFORE UPDATE ON outcomes
			BEGIN SELECT RAISE(ABORT, 'outcomes is append-only'); END`,
	}
	return execAll(tx, "outcomes", stmts)
}

func createSnapshotsTable(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS calibration_snapshots (
			version INTEGER NOT NULL,
			claim_type TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			computed_at INTEGER NOT NULL,
			fingerprint TEXT NOT NULL,
			curve TEXT NOT NULL,
			PRIMARY KEY (claim_type, category, computed_at)
		)`,
		"CREATE INDEX IF NOT EXISTS idx_calibration_snapshots_version ON calibration_snapshots(version)",
	}
	return execAll(tx, "calibration_snapshots", stmts)
}

func execAll(tx *sql.Tx, table string, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create %s schema: %w", table, err)
		}
	}
	return nil
}
