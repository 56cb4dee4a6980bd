package main

import (
	"time"

	"github.com/spf13/cobra"

	"librarian/internal/confidence"
	"librarian/internal/outcomes"
)

var (
	outcomeFormat       string
	outcomeType         string
	outcomeMethod       string
	outcomeEvidenceText string
	outcomeVerifier     string
	outcomeVerifyConf   float64
	outcomeAt           string
	outcomeClaimType    string
	outcomeCategory     string
	outcomeSignal       float64
)

// HistoryResponseCLI lists the outcomes of a claim
type HistoryResponseCLI struct {
	ClaimID string             `json:"claimId"`
	Current *outcomes.Record   `json:"current,omitempty"`
	Records []*outcomes.Record `json:"records"`
}

var outcomeCmd = &cobra.Command{
	Use:   "outcome",
	Short: "Record and inspect verification outcomes",
}

var outcomeRecordCmd = &cobra.Command{
	Use:   "record <claim-id>",
	Short: "Record what actually happened to a claim",
	Long: `Record a verification outcome. Outcomes are append-only: a later verdict
supersedes an earlier one for calibration, but both stay in the history.

Outcomes for claims this ledger never registered are kept as orphans; pass
--claim-type and --signal so they can still feed calibration.`,
	Example: `  librarian outcome record 3f9a... --outcome verified_correct --method test_passed`,
	Args:    cobra.ExactArgs(1),
	Run:     runOutcomeRecord,
}

var outcomeHistoryCmd = &cobra.Command{
	Use:   "history <claim-id>",
	Short: "List the outcomes recorded for a claim",
	Args:  cobra.ExactArgs(1),
	Run:   runOutcomeHistory,
}

var outcomeCheckCmd = &cobra.Command{
	Use:   "check <claim-id>",
	Short: "Check a claim for contradicting verdicts",
	Args:  cobra.ExactArgs(1),
	Run:   runOutcomeCheck,
}

func init() {
	outcomeCmd.PersistentFlags().StringVar(&outcomeFormat, "format", "json", "Output format (json, human)")

	f := outcomeRecordCmd.Flags()
	f.StringVar(&outcomeType, "outcome", "", "verified_correct, verified_incorrect, partially_correct or unknown")
	f.StringVar(&outcomeMethod, "method", "", "test_passed, test_failed, human_review, agent_feedback or contradiction_found")
	f.StringVar(&outcomeEvidenceText, "evidence-text", "", "What the verdict was based on")
	f.StringVar(&outcomeVerifier, "verifier", "", "Verifier id")
	f.Float64Var(&outcomeVerifyConf, "verification-confidence", 0, "Verifier's own confidence in [0,1]")
	f.StringVar(&outcomeAt, "at", "", "Verdict time (RFC3339, default now)")
	f.StringVar(&outcomeClaimType, "claim-type", "", "Claim type for orphan outcomes")
	f.StringVar(&outcomeCategory, "category", "", "Category for orphan outcomes")
	f.Float64Var(&outcomeSignal, "signal", 0, "Claimed signal for orphan outcomes")
	_ = outcomeRecordCmd.MarkFlagRequired("outcome")
	_ = outcomeRecordCmd.MarkFlagRequired("method")

	outcomeCmd.AddCommand(outcomeRecordCmd, outcomeHistoryCmd, outcomeCheckCmd)
	rootCmd.AddCommand(outcomeCmd)
}

func runOutcomeRecord(cmd *cobra.Command, args []string) {
	outcome, err := outcomes.ParseOutcome(outcomeType)
	exitOnError("parsing outcome", err)
	method, err := outcomes.ParseMethod(outcomeMethod)
	exitOnError("parsing method", err)

	req := outcomes.RecordRequest{
		ClaimID:      args[0],
		Outcome:      outcome,
		Method:       method,
		EvidenceText: outcomeEvidenceText,
		VerifierID:   outcomeVerifier,
		ClaimType:    outcomeClaimType,
		Category:     outcomeCategory,
		Signal:       confidence.NoSignal(),
	}
	if cmd.Flags().Changed("verification-confidence") {
		v := outcomeVerifyConf
		req.VerificationConfidence = &v
	}
	if cmd.Flags().Changed("signal") {
		req.Signal, err = confidence.NewSignal(outcomeSignal)
		exitOnError("parsing signal", err)
	}
	if outcomeAt != "" {
		req.Timestamp, err = time.Parse(time.RFC3339, outcomeAt)
		exitOnError("parsing --at", err)
	}

	s := mustOpenSession()
	defer s.Close()

	record, err := s.ledger.Record(newContext(), req)
	exitOnError("recording outcome", err)

	printResponse(record, outcomeFormat)
}

func runOutcomeHistory(cmd *cobra.Command, args []string) {
	s := mustOpenSession()
	defer s.Close()

	ctx := newContext()
	records, err := s.ledger.History(ctx, args[0])
	exitOnError("reading history", err)
	if records == nil {
		records = []*outcomes.Record{}
	}
	current, err := s.ledger.Current(ctx, args[0])
	exitOnError("reading current verdict", err)
	printResponse(&HistoryResponseCLI{ClaimID: args[0], Current: current, Records: records}, outcomeFormat)
}

func runOutcomeCheck(cmd *cobra.Command, args []string) {
	s := mustOpenSession()
	defer s.Close()

	report, err := s.ledger.ContradictionCheck(newContext(), args[0])
	exitOnError("checking contradictions", err)
	printResponse(report, outcomeFormat)
}
