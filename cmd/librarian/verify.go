package main

import (
	"github.com/spf13/cobra"
)

var verifyFormat string

var verifyCmd = &cobra.Command{
	Use:   "verify <claim-id>",
	Short: "Run tiered verification against a claim",
	Long: `Verify a claim against the false-statement list, its cited locations and
an entailment check, recording the verdict as an outcome.

Claims the automatic tiers cannot settle are recorded as inconclusive.
Human escalation needs a running ledger with an escalator attached; the
command line reports it as unavailable.`,
	Args: cobra.ExactArgs(1),
	Run:  runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&verifyFormat, "format", "json", "Output format (json, human)")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) {
	s := mustOpenSession()
	defer s.Close()

	result, err := s.ledger.Verify(newContext(), args[0])
	exitOnError("verifying claim", err)
	printResponse(result, verifyFormat)
}
