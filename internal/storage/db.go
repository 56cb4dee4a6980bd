package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"librarian/internal/config"
)

// DB is the ledger database connection with transaction and retry helpers
type DB struct {
	conn   *sql.DB
	logger *slog.Logger
	dbPath string
	retry  RetryPolicy
	codec  *PayloadCodec
}

// Open opens or creates the SQLite database at dbPath.
// New databases get the full schema; existing ones are migrated.
func Open(dbPath string, cfg config.StorageConfig, logger *slog.Logger) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dbExists := fileExists(dbPath)

	// Pragmas go in the DSN so every pooled connection gets them.
	busy := cfg.BusyTimeoutMs
	if busy <= 0 {
		busy = 5000
	}
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "foreign_keys(ON)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy))
	q.Add("_pragma", "temp_store(MEMORY)")
	dsn := "file:" + dbPath + "?" + q.Encode()

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	codec, err := NewPayloadCodec(cfg.CompressThresholdBytes)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create payload codec: %w", err)
	}

	db := &DB{
		conn:   conn,
		logger: logger,
		dbPath: dbPath,
		retry:  PolicyFromConfig(cfg),
		codec:  codec,
	}

	if !dbExists {
		logger.Info("Creating new ledger database", "path", dbPath)
		if err := db.initializeSchema(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	} else {
		logger.Debug("Running database migrations", "path", dbPath)
		if err := db.runMigrations(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.codec != nil {
		db.codec.Close()
	}
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.dbPath
}

// Conn returns the underlying sql.DB connection
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// RetryPolicy returns the StorageFault retry policy in effect
func (db *DB) RetryPolicy() RetryPolicy {
	return db.retry
}

// WithTx executes fn within a transaction.
// The transaction is rolled back if fn returns an error or panics.
func (db *DB) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error("failed to rollback transaction",
				"error", err.Error(),
				"rollback_error", rbErr.Error(),
			)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// WithRetryTx runs WithTx under the retry policy; exhausted retries surface
// as STORAGE_FAULT.
func (db *DB) WithRetryTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	_, err := Retry(ctx, db.retry, db.logger, op, func() (struct{}, error) {
		return struct{}{}, db.WithTx(ctx, fn)
	})
	return err
}

// fileExists checks if a file exists
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
