package paths

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DataDirName is the per-repository state directory
	DataDirName = ".librarian"
	// DataDirEnvVar overrides the state directory location
	DataDirEnvVar = "LIBRARIAN_DATA_DIR"
)

// DataDir returns the state directory for a repository: $LIBRARIAN_DATA_DIR
// when set, otherwise <repoRoot>/.librarian
func DataDir(repoRoot string) string {
	if dir := os.Getenv(DataDirEnvVar); dir != "" {
		return dir
	}
	return filepath.Join(repoRoot, DataDirName)
}

// EnsureDataDir creates the state directory if needed and returns it
func EnsureDataDir(repoRoot string) (string, error) {
	dir := DataDir(repoRoot)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return dir, nil
}

// DatabasePath returns the ledger database location
func DatabasePath(repoRoot string) string {
	return filepath.Join(DataDir(repoRoot), "ledger.db")
}

// ConfigPath returns the config file location
func ConfigPath(repoRoot string) string {
	return filepath.Join(DataDir(repoRoot), "config.json")
}

// LedgerLogPath returns the log file location, creating the logs directory
func LedgerLogPath(repoRoot string) (string, error) {
	dir := filepath.Join(DataDir(repoRoot), "logs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return filepath.Join(dir, "librarian.log"), nil
}

// CanonicalizePath converts a path to a repo-relative path with forward slashes.
// Symlinks are resolved when the target exists.
func CanonicalizePath(path string, repoRoot string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(repoRoot, path)
	}

	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		resolved = path
	}

	rootResolved, err := filepath.EvalSymlinks(repoRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		rootResolved = repoRoot
	}

	rel, err := filepath.Rel(rootResolved, resolved)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// IsWithinRepo checks if a path is within the repository root
func IsWithinRepo(path string, repoRoot string) bool {
	canonical, err := CanonicalizePath(path, repoRoot)
	if err != nil {
		return false
	}
	return canonical != ".." && !strings.HasPrefix(canonical, "../")
}

// JoinRepoPath joins a repo root with a canonical (forward slash) path
func JoinRepoPath(repoRoot string, canonicalPath string) string {
	parts := strings.Split(strings.ReplaceAll(canonicalPath, "\\", "/"), "/")
	return filepath.Join(append([]string{repoRoot}, parts...)...)
}

// LocationExists reports whether a repo-relative file exists inside the repo
// and, when line > 0, has at least that many lines.
func LocationExists(repoRoot, file string, line int) (bool, error) {
	if file == "" {
		return false, nil
	}
	full := file
	if !filepath.IsAbs(full) {
		full = JoinRepoPath(repoRoot, file)
	}
	if !IsWithinRepo(full, repoRoot) {
		return false, nil
	}

	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return line <= 0, nil
	}
	if line <= 0 {
		return true, nil
	}

	f, err := os.Open(full)
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	count := 0
	for scanner.Scan() {
		count++
		if count >= line {
			return true, nil
		}
	}
	return false, scanner.Err()
}
