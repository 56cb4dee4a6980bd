package slogutil

import (
	"io"
	"log/slog"
	"os"

	"librarian/internal/config"
	"librarian/internal/paths"
)

// LoggerFactory builds the ledger logger.
// Level precedence: CLI flag > config file > info.
type LoggerFactory struct {
	repoRoot string
	config   *config.Config
	cliLevel *slog.Level
	closers  []io.Closer
}

// NewLoggerFactory creates a new logger factory. cliLevel is nil when no
// CLI override was given.
func NewLoggerFactory(repoRoot string, cfg *config.Config, cliLevel *slog.Level) *LoggerFactory {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &LoggerFactory{repoRoot: repoRoot, config: cfg, cliLevel: cliLevel}
}

// LedgerLogger writes to <repoRoot>/.librarian/logs/librarian.log and, when
// logging.stderr is set, tees to stderr as well. Any file error degrades to
// stderr-only or discard rather than failing the caller.
func (f *LoggerFactory) LedgerLogger() *slog.Logger {
	level := f.EffectiveLevel()

	var handlers []slog.Handler
	if f.config.Logging.Stderr {
		handlers = append(handlers, NewLineHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}

	if f.repoRoot != "" {
		if logPath, err := paths.LedgerLogPath(f.repoRoot); err == nil {
			if fileLogger, file, err := NewFileLogger(logPath, level); err == nil {
				f.closers = append(f.closers, file)
				handlers = append(handlers, fileLogger.Handler())
			}
		}
	}

	switch len(handlers) {
	case 0:
		return NewDiscardLogger()
	case 1:
		return slog.New(handlers[0])
	default:
		return slog.New(NewTeeHandler(handlers...))
	}
}

// EffectiveLevel resolves the level from CLI and config.
func (f *LoggerFactory) EffectiveLevel() slog.Level {
	if f.cliLevel != nil {
		return *f.cliLevel
	}
	if f.config.Logging.Level != "" {
		return LevelFromString(f.config.Logging.Level)
	}
	return slog.LevelInfo
}

// Close closes all open log files.
func (f *LoggerFactory) Close() error {
	var firstErr error
	for _, c := range f.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.closers = nil
	return firstErr
}
