package main

import (
	"github.com/spf13/cobra"

	"librarian/internal/version"
)

var (
	// repoFlag is the repository root holding .librarian/
	repoFlag string
	// verbosity counts -v flags
	verbosity int
	// quietFlag limits logging to errors
	quietFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "librarian",
	Short: "Librarian - evidence ledger and confidence calibration",
	Long: `Librarian records the evidence behind every claim made about a codebase,
tracks how those claims were later verified, and calibrates the confidence
attached to future claims from that history.

Confidence is never reported as a bare number: it is either calibrated
against enough verified outcomes, or explicitly absent.`,
	Version:       version.Info(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("librarian version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&repoFlag, "repo", "", "Repository root (default: current directory)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v, -vv)")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Only log errors")
}
