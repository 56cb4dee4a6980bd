// Package version holds build metadata for the librarian binary.
package version

// Overridden at build time:
// go build -ldflags "-X librarian/internal/version.Version=0.4.0 -X librarian/internal/version.Commit=abc123"
var (
	// Version is the semantic version of the ledger core
	Version = "0.4.0"

	// Commit is the git commit hash (set at build time)
	Commit = "unknown"

	// BuildDate is the build timestamp (set at build time)
	BuildDate = "unknown"

	// SchemaVersion is the ledger database schema the binary writes
	SchemaVersion = 1
)

// Info returns a short version string, with the abbreviated commit when known
func Info() string {
	if Commit != "unknown" && len(Commit) > 7 {
		return Version + " (" + Commit[:7] + ")"
	}
	return Version
}

// Full returns complete version information
func Full() string {
	return "librarian " + Version + "\n" +
		"Commit: " + Commit + "\n" +
		"Built: " + BuildDate
}
