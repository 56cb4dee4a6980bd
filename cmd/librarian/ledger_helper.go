package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"librarian/internal/config"
	"librarian/internal/ledger"
	"librarian/internal/paths"
	"librarian/internal/slogutil"
)

// session is an open ledger plus the resources it holds for one command
type session struct {
	ledger  *ledger.Ledger
	logger  *slog.Logger
	factory *slogutil.LoggerFactory
}

func (s *session) Close() {
	if err := s.ledger.Close(); err != nil {
		s.logger.Warn("Ledger did not close cleanly", "error", err)
	}
	_ = s.factory.Close()
}

// getRepoRoot returns --repo or the working directory
func getRepoRoot() (string, error) {
	if repoFlag != "" {
		return repoFlag, nil
	}
	return os.Getwd()
}

// mustGetRepoRoot returns the repository root or exits on error
func mustGetRepoRoot() string {
	repoRoot, err := getRepoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return repoRoot
}

// loadConfig reads <repo>/.librarian/config.json, falling back to defaults
func loadConfig(repoRoot string) *config.Config {
	cfg, err := config.LoadConfig(paths.DataDir(repoRoot))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v; using defaults\n", err)
		cfg = config.DefaultConfig()
	}
	cfg.RepoRoot = repoRoot
	return cfg
}

// cliLevel returns the level requested on the command line, if any
func cliLevel() *slog.Level {
	if verbosity == 0 && !quietFlag {
		return nil
	}
	level := slogutil.LevelFromVerbosity(verbosity, quietFlag)
	return &level
}

// openSession opens the ledger for a one-shot command. Background tasks
// are not started; commands run their work explicitly.
func openSession() (*session, error) {
	repoRoot := mustGetRepoRoot()
	cfg := loadConfig(repoRoot)

	factory := slogutil.NewLoggerFactory(repoRoot, cfg, cliLevel())
	logger := factory.LedgerLogger()

	l, err := ledger.Open(newContext(), ledger.Options{
		Config:       cfg,
		RepoRoot:     repoRoot,
		Logger:       logger,
		NoBackground: true,
	})
	if err != nil {
		_ = factory.Close()
		return nil, err
	}
	return &session{ledger: l, logger: logger, factory: factory}, nil
}

// mustOpenSession opens the ledger or exits on error
func mustOpenSession() *session {
	s, err := openSession()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening ledger: %v\n", err)
		os.Exit(1)
	}
	return s
}

// newContext creates a context for commands
func newContext() context.Context {
	return context.Background()
}

// printResponse formats resp and writes it to stdout, exiting on error
func printResponse(resp interface{}, format string) {
	output, err := FormatResponse(resp, OutputFormat(format))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error formatting output: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(output)
}

// exitOnError prints err and exits when it is non-nil
func exitOnError(what string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error %s: %v\n", what, err)
		os.Exit(1)
	}
}
