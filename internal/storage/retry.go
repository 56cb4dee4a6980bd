package storage

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"librarian/internal/config"
	lerrors "librarian/internal/errors"
)

// RetryPolicy bounds how storage operations are retried
type RetryPolicy struct {
	MaxTries uint
	Initial  time.Duration
	Max      time.Duration
}

// DefaultRetryPolicy returns the policy used when no config is supplied
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxTries: 5,
		Initial:  20 * time.Millisecond,
		Max:      time.Second,
	}
}

// PolicyFromConfig builds a RetryPolicy from the storage config section
func PolicyFromConfig(cfg config.StorageConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.RetryMaxTries > 0 {
		p.MaxTries = uint(cfg.RetryMaxTries)
	}
	if cfg.RetryInitialMs > 0 {
		p.Initial = time.Duration(cfg.RetryInitialMs) * time.Millisecond
	}
	if cfg.RetryMaxMs > 0 {
		p.Max = time.Duration(cfg.RetryMaxMs) * time.Millisecond
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	return p
}

// IsTransient reports whether err is a storage condition worth retrying:
// a busy or locked database, an I/O error, or a full disk.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		switch sqErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_FULL:
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// Retry runs fn under policy p. Transient failures are retried with
// exponential backoff; anything else stops immediately. A final failure is
// reported as STORAGE_FAULT unless it already carries an error code.
func Retry[T any](ctx context.Context, p RetryPolicy, logger *slog.Logger, op string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max

	attempts := 0
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		v, err := fn()
		if err != nil && !IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("Retrying storage operation",
				"op", op,
				"attempt", attempts,
				"next", next.String(),
				"error", err.Error(),
			)
		}),
	)
	if err == nil {
		return res, nil
	}

	if lerrors.CodeOf(err) != "" {
		return res, err
	}
	logger.Error("Storage operation failed",
		"op", op,
		"attempts", attempts,
		"error", err.Error(),
	)
	return res, lerrors.New(lerrors.StorageFault, op+" failed", err)
}
