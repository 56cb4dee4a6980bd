package main

import (
	"github.com/spf13/cobra"

	"librarian/internal/ledger"
	"librarian/internal/version"
)

var statusFormat string

// StatusResponseCLI summarizes the ledger for status output
type StatusResponseCLI struct {
	Version  string       `json:"version"`
	RepoRoot string       `json:"repoRoot"`
	Stats    ledger.Stats `json:"stats"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ledger status",
	Long:  "Show the evidence watermark, outcome counters, calibration snapshot and background tasks",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusFormat, "format", "human", "Output format (json, human)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	s := mustOpenSession()
	defer s.Close()

	printResponse(&StatusResponseCLI{
		Version:  version.Info(),
		RepoRoot: mustGetRepoRoot(),
		Stats:    s.ledger.Stats(),
	}, statusFormat)
}
