package paths

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDataDir(t *testing.T) {
	t.Setenv(DataDirEnvVar, "")
	if got := DataDir("/my/repo"); got != filepath.Join("/my/repo", DataDirName) {
		t.Errorf("DataDir() = %s, want under repo", got)
	}

	t.Setenv(DataDirEnvVar, "/custom/state")
	if got := DataDir("/my/repo"); got != "/custom/state" {
		t.Errorf("DataDir() = %s, want env override", got)
	}
}

func TestEnsureDataDirAndFiles(t *testing.T) {
	t.Setenv(DataDirEnvVar, "")
	repo := t.TempDir()

	dir, err := EnsureDataDir(repo)
	if err != nil {
		t.Fatalf("EnsureDataDir failed: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("data dir not created: %v", err)
	}

	if !strings.HasSuffix(DatabasePath(repo), "ledger.db") {
		t.Errorf("DatabasePath() = %s", DatabasePath(repo))
	}
	if !strings.HasSuffix(ConfigPath(repo), "config.json") {
		t.Errorf("ConfigPath() = %s", ConfigPath(repo))
	}

	logPath, err := LedgerLogPath(repo)
	if err != nil {
		t.Fatalf("LedgerLogPath failed: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(logPath)); err != nil {
		t.Errorf("logs dir not created: %v", err)
	}
}

func TestCanonicalizePath(t *testing.T) {
	repo := t.TempDir()
	if err := os.MkdirAll(filepath.Join(repo, "src", "pkg"), 0755); err != nil {
		t.Fatal(err)
	}

	got, err := CanonicalizePath(filepath.Join(repo, "src", "pkg", "a.go"), repo)
	if err != nil {
		t.Fatalf("CanonicalizePath failed: %v", err)
	}
	if got != "src/pkg/a.go" {
		t.Errorf("CanonicalizePath() = %s, want src/pkg/a.go", got)
	}

	got, err = CanonicalizePath("src/pkg/b.go", repo)
	if err != nil {
		t.Fatalf("CanonicalizePath relative failed: %v", err)
	}
	if got != "src/pkg/b.go" {
		t.Errorf("CanonicalizePath(relative) = %s", got)
	}
}

func TestIsWithinRepo(t *testing.T) {
	repo := t.TempDir()
	if !IsWithinRepo(filepath.Join(repo, "a.go"), repo) {
		t.Error("expected file inside repo")
	}
	if IsWithinRepo(filepath.Join(repo, "..", "elsewhere.go"), repo) {
		t.Error("expected file outside repo")
	}
}

func TestLocationExists(t *testing.T) {
	repo := t.TempDir()
	content := "package main\n\nfunc main() {}\n"
	if err := os.WriteFile(filepath.Join(repo, "main.go"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		file string
		line int
		want bool
	}{
		{"file only", "main.go", 0, true},
		{"valid line", "main.go", 3, true},
		{"line past end", "main.go", 40, false},
		{"missing file", "nope.go", 0, false},
		{"escapes repo", "../main.go", 0, false},
		{"empty", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LocationExists(repo, tt.file, tt.line)
			if err != nil {
				t.Fatalf("LocationExists error: %v", err)
			}
			if got != tt.want {
				t.Errorf("LocationExists(%q, %d) = %v, want %v", tt.file, tt.line, got, tt.want)
			}
		})
	}
}
