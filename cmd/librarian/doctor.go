package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"librarian/internal/config"
	lerrors "librarian/internal/errors"
	"librarian/internal/paths"
	"librarian/internal/scheduler"
	"librarian/internal/verify"
)

var doctorFormat string

// DoctorResponseCLI contains diagnostic results for CLI output
type DoctorResponseCLI struct {
	Healthy bool             `json:"healthy"`
	Checks  []DoctorCheckCLI `json:"checks"`
}

// DoctorCheckCLI represents a single diagnostic check
type DoctorCheckCLI struct {
	Name           string              `json:"name"`
	Status         string              `json:"status"` // "pass", "warn", "fail"
	Message        string              `json:"message"`
	SuggestedFixes []lerrors.FixAction `json:"suggestedFixes,omitempty"`
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose the ledger setup",
	Long:  "Check configuration, the data directory, the ledger database and the false-statement list",
	Run:   runDoctor,
}

func init() {
	doctorCmd.Flags().StringVar(&doctorFormat, "format", "human", "Output format (json, human)")
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) {
	repoRoot := mustGetRepoRoot()
	resp := diagnose(repoRoot)

	printResponse(resp, doctorFormat)
	if !resp.Healthy {
		os.Exit(1)
	}
}

// diagnose runs every check; later checks are skipped when config is unusable
func diagnose(repoRoot string) *DoctorResponseCLI {
	resp := &DoctorResponseCLI{Healthy: true}
	add := func(c DoctorCheckCLI) {
		if c.Status == "fail" {
			resp.Healthy = false
		}
		resp.Checks = append(resp.Checks, c)
	}

	result, err := config.LoadConfigWithDetails(paths.DataDir(repoRoot))
	if err != nil {
		add(DoctorCheckCLI{Name: "config", Status: "fail", Message: err.Error(),
			SuggestedFixes: lerrors.GetSuggestedFixes(lerrors.ConfigInvalid)})
		return resp
	}
	cfg := result.Config
	if err := cfg.Validate(); err != nil {
		add(DoctorCheckCLI{Name: "config", Status: "fail", Message: err.Error(),
			SuggestedFixes: lerrors.GetSuggestedFixes(lerrors.ConfigInvalid)})
		return resp
	}
	source := "defaults"
	if !result.UsedDefaults {
		source = result.ConfigPath
	}
	add(DoctorCheckCLI{Name: "config", Status: "pass", Message: "valid (" + source + ")"})
	add(checkDataDir(repoRoot))
	add(checkFalseList(repoRoot, cfg))

	if !cfg.Calibration.Enabled {
		add(DoctorCheckCLI{Name: "calibration", Status: "warn",
			Message: "disabled: every confidence is reported as absent"})
	}
	add(checkRecomputeSchedule(cfg, time.Now()))

	s, err := openSession()
	if err != nil {
		add(DoctorCheckCLI{Name: "database", Status: "fail", Message: err.Error(),
			SuggestedFixes: lerrors.GetSuggestedFixes(lerrors.StorageFault)})
		return resp
	}
	defer s.Close()

	stats := s.ledger.Stats()
	add(DoctorCheckCLI{Name: "database", Status: "pass",
		Message: fmt.Sprintf("%s (watermark %d)", stats.Database, stats.Evidence.Watermark)})

	if stats.SnapshotCurves == 0 {
		add(DoctorCheckCLI{Name: "snapshot", Status: "warn",
			Message: "no calibration curves yet; run 'librarian calibrate' once outcomes are recorded"})
	} else {
		add(DoctorCheckCLI{Name: "snapshot", Status: "pass",
			Message: fmt.Sprintf("version %d, %d curve(s)", stats.SnapshotVersion, stats.SnapshotCurves)})
	}
	return resp
}

func checkDataDir(repoRoot string) DoctorCheckCLI {
	dir, err := paths.EnsureDataDir(repoRoot)
	if err != nil {
		return DoctorCheckCLI{Name: "dataDir", Status: "fail", Message: err.Error()}
	}
	probe, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return DoctorCheckCLI{Name: "dataDir", Status: "fail", Message: dir + " is not writable: " + err.Error()}
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return DoctorCheckCLI{Name: "dataDir", Status: "pass", Message: dir}
}

func checkRecomputeSchedule(cfg *config.Config, now time.Time) DoctorCheckCLI {
	expr := cfg.Calibration.RecomputeExpression()
	if expr == "" {
		return DoctorCheckCLI{Name: "recomputeSchedule", Status: "warn",
			Message: "background recalibration is off; run 'librarian calibrate' after recording outcomes"}
	}
	next, err := scheduler.NextRunTime(expr, now)
	if err != nil {
		return DoctorCheckCLI{Name: "recomputeSchedule", Status: "fail", Message: err.Error(),
			SuggestedFixes: lerrors.GetSuggestedFixes(lerrors.ConfigInvalid)}
	}
	return DoctorCheckCLI{Name: "recomputeSchedule", Status: "pass",
		Message: fmt.Sprintf("%s (next run in %s)", expr, scheduler.FormatDuration(next.Sub(now)))}
}

func checkFalseList(repoRoot string, cfg *config.Config) DoctorCheckCLI {
	file := cfg.Verification.FalseStatementsPath
	if file == "" {
		return DoctorCheckCLI{Name: "falseStatements", Status: "pass", Message: "not configured"}
	}
	if !filepath.IsAbs(file) {
		file = filepath.Join(repoRoot, file)
	}
	list, err := verify.LoadFalseList(file)
	if err != nil {
		return DoctorCheckCLI{Name: "falseStatements", Status: "fail", Message: err.Error()}
	}
	return DoctorCheckCLI{Name: "falseStatements", Status: "pass",
		Message: fmt.Sprintf("%d statement(s) from %s", list.Len(), file)}
}
