package main

import (
	"github.com/spf13/cobra"

	"librarian/internal/claims"
	"librarian/internal/confidence"
	"librarian/internal/evidence"
)

var (
	claimFormat   string
	claimText     string
	claimType     string
	claimCategory string
	claimEvidence []string
	claimSignal   float64
)

// ClaimResponseCLI is a claim with its cited evidence and siblings
type ClaimResponseCLI struct {
	Claim    *claims.Claim    `json:"claim"`
	Evidence []evidence.Event `json:"evidence,omitempty"`
	Siblings []string         `json:"siblings,omitempty"`
}

var claimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Register and inspect claims",
}

var claimRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a claim backed by evidence",
	Long: `Register a claim citing at least one appended evidence event. The same
statement backed by the same evidence always yields the same claim id.

The producer's raw signal is never echoed back: the claim carries a
calibrated confidence once enough similar claims have verified outcomes,
and an absent one until then.`,
	Example: `  librarian claim register --text "Session tokens expire after 24h" \
    --type behavior --category auth --evidence 12 --evidence 13 --signal 0.8`,
	Run: runClaimRegister,
}

var claimShowCmd = &cobra.Command{
	Use:   "show <claim-id>",
	Short: "Show a claim, its evidence and sibling claims",
	Args:  cobra.ExactArgs(1),
	Run:   runClaimShow,
}

func init() {
	claimCmd.PersistentFlags().StringVar(&claimFormat, "format", "json", "Output format (json, human)")

	claimRegisterCmd.Flags().StringVar(&claimText, "text", "", "Claim statement")
	claimRegisterCmd.Flags().StringVar(&claimType, "type", "", "Claim type (behavior, location, api, ...)")
	claimRegisterCmd.Flags().StringVar(&claimCategory, "category", "", "Codebase category used to narrow calibration")
	claimRegisterCmd.Flags().StringSliceVar(&claimEvidence, "evidence", nil, "Cited evidence event ids (repeatable)")
	claimRegisterCmd.Flags().Float64Var(&claimSignal, "signal", -1, "Raw producer signal in [0,1] (omit for none)")
	_ = claimRegisterCmd.MarkFlagRequired("text")
	_ = claimRegisterCmd.MarkFlagRequired("type")

	claimCmd.AddCommand(claimRegisterCmd, claimShowCmd)
	rootCmd.AddCommand(claimCmd)
}

func runClaimRegister(cmd *cobra.Command, args []string) {
	ids, err := parseEventIDs(claimEvidence)
	exitOnError("parsing evidence ids", err)

	signal := confidence.NoSignal()
	if cmd.Flags().Changed("signal") {
		signal, err = confidence.NewSignal(claimSignal)
		exitOnError("parsing signal", err)
	}

	s := mustOpenSession()
	defer s.Close()

	claim, err := s.ledger.Register(newContext(), claims.RegisterRequest{
		Text:        claimText,
		Type:        claimType,
		Category:    claimCategory,
		EvidenceIDs: ids,
		Signal:      signal,
	})
	exitOnError("registering claim", err)

	printResponse(claim, claimFormat)
}

func runClaimShow(cmd *cobra.Command, args []string) {
	s := mustOpenSession()
	defer s.Close()
	ctx := newContext()

	claim, err := s.ledger.Lookup(ctx, args[0])
	exitOnError("looking up claim", err)

	events, err := s.ledger.QueryByClaim(ctx, claim.ID)
	exitOnError("querying claim evidence", err)

	siblings, err := s.ledger.Siblings(ctx, claim.ContentKey)
	exitOnError("listing sibling claims", err)

	resp := &ClaimResponseCLI{Claim: claim, Evidence: events}
	for _, sib := range siblings {
		if sib.ID != claim.ID {
			resp.Siblings = append(resp.Siblings, sib.ID)
		}
	}
	printResponse(resp, claimFormat)
}
