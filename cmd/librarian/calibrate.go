package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"librarian/internal/confidence"
)

var (
	calibrateFormat string
	curveCategory   string
	adjustCategory  string
	adjustSignal    float64
)

// AdjustResponseCLI is the confidence a signal would be reported with
type AdjustResponseCLI struct {
	ClaimType  string           `json:"claimType"`
	Category   string           `json:"category,omitempty"`
	Confidence confidence.Value `json:"confidence"`
}

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Recompute calibration curves from recorded outcomes",
	Long: `Recompute every calibration curve from the resolved outcomes and publish
a new snapshot. Recomputing an unchanged history keeps the current
snapshot and version.`,
	Run: runCalibrate,
}

var curveCmd = &cobra.Command{
	Use:   "curve [claim-type]",
	Short: "Show the current calibration snapshot or one curve",
	Args:  cobra.MaximumNArgs(1),
	Run:   runCurve,
}

var adjustCmd = &cobra.Command{
	Use:   "adjust <claim-type>",
	Short: "Show the confidence a raw signal would be reported with",
	Args:  cobra.ExactArgs(1),
	Run:   runAdjust,
}

func init() {
	for _, c := range []*cobra.Command{calibrateCmd, curveCmd, adjustCmd} {
		c.Flags().StringVar(&calibrateFormat, "format", "json", "Output format (json, human)")
	}
	curveCmd.Flags().StringVar(&curveCategory, "category", "", "Codebase category")
	adjustCmd.Flags().StringVar(&adjustCategory, "category", "", "Codebase category")
	adjustCmd.Flags().Float64Var(&adjustSignal, "signal", 0, "Raw signal in [0,1]")
	_ = adjustCmd.MarkFlagRequired("signal")

	rootCmd.AddCommand(calibrateCmd, curveCmd, adjustCmd)
}

func runCalibrate(cmd *cobra.Command, args []string) {
	s := mustOpenSession()
	defer s.Close()

	snap, err := s.ledger.Recalibrate(newContext())
	exitOnError("recalibrating", err)
	printResponse(snap, calibrateFormat)
}

func runCurve(cmd *cobra.Command, args []string) {
	s := mustOpenSession()
	defer s.Close()

	snap := s.ledger.Snapshot()
	if len(args) == 0 {
		printResponse(snap, calibrateFormat)
		return
	}

	curve, ok := snap.Curve(args[0], curveCategory)
	if !ok {
		fmt.Fprintf(os.Stderr, "No calibration curve for %s/%s\n", args[0], orAny(curveCategory))
		os.Exit(1)
	}
	printResponse(curve, calibrateFormat)
}

func runAdjust(cmd *cobra.Command, args []string) {
	signal, err := confidence.NewSignal(adjustSignal)
	exitOnError("parsing signal", err)

	s := mustOpenSession()
	defer s.Close()

	printResponse(&AdjustResponseCLI{
		ClaimType:  args[0],
		Category:   adjustCategory,
		Confidence: s.ledger.Adjust(args[0], adjustCategory, signal),
	}, calibrateFormat)
}
