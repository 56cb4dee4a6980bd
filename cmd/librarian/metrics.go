package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var metricsRecalibrate bool

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Print ledger metrics in Prometheus text format",
	Long: `Print the ledger's Prometheus metrics as text exposition.

Gauges reflect the state loaded from the ledger database: the evidence
watermark, the calibration snapshot version and per-curve ECE/MCE.

Examples:
  librarian metrics
  librarian metrics --recalibrate   # recompute curves first`,
	Run: runMetrics,
}

func init() {
	metricsCmd.Flags().BoolVar(&metricsRecalibrate, "recalibrate", false, "Recompute calibration before printing")
	rootCmd.AddCommand(metricsCmd)
}

func runMetrics(cmd *cobra.Command, args []string) {
	s := mustOpenSession()
	defer s.Close()

	m := s.ledger.Metrics()
	if m == nil {
		fmt.Fprintln(os.Stderr, "Error: metrics are disabled (metrics.enabled=false)")
		os.Exit(1)
	}

	if metricsRecalibrate {
		_, err := s.ledger.Recalibrate(newContext())
		exitOnError("recalibrating", err)
	}

	exitOnError("writing metrics", m.WriteText(os.Stdout))
}
