package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"librarian/internal/evidence"
)

var (
	evidenceFormat      string
	evidenceTrace       string
	evidenceProducer    string
	evidenceStage       string
	evidencePayload     string
	evidencePayloadFile string
	evidenceCorrelation []string
	evidenceAsOf        uint64
)

// AppendResponseCLI is the result of evidence append
type AppendResponseCLI struct {
	ID        uint64 `json:"id"`
	Watermark uint64 `json:"watermark"`
}

// EventsResponseCLI lists events matching a query
type EventsResponseCLI struct {
	Query  string           `json:"query"`
	AsOf   uint64           `json:"asOf"`
	Events []evidence.Event `json:"events"`
}

// TracesResponseCLI lists the known trace ids
type TracesResponseCLI struct {
	Traces []string `json:"traces"`
}

var evidenceCmd = &cobra.Command{
	Use:   "evidence",
	Short: "Append and query evidence events",
}

var evidenceAppendCmd = &cobra.Command{
	Use:   "append",
	Short: "Append an evidence event to the ledger",
	Long: `Append one immutable evidence event. The payload is stored verbatim;
pass JSON with file and line fields to let verification check cited
locations.`,
	Example: `  librarian evidence append --trace req-42 --producer retriever --stage retrieve \
    --payload '{"file":"internal/auth/session.go","line":88,"text":"tokens expire after 24h"}'`,
	Run: runEvidenceAppend,
}

var evidenceTraceCmd = &cobra.Command{
	Use:     "trace <trace-id>",
	Aliases: []string{"replay"},
	Short:   "Replay the events of a trace in sequence order",
	Args:    cobra.ExactArgs(1),
	Run:     runEvidenceTrace,
}

var evidenceCorrelatedCmd = &cobra.Command{
	Use:   "correlated <correlation-id>",
	Short: "List events sharing a correlation id",
	Args:  cobra.ExactArgs(1),
	Run:   runEvidenceCorrelated,
}

var evidenceTracesCmd = &cobra.Command{
	Use:   "traces",
	Short: "List every trace id in the ledger",
	Args:  cobra.NoArgs,
	Run:   runEvidenceTraces,
}

var evidenceClaimCmd = &cobra.Command{
	Use:   "claim <claim-id>",
	Short: "List the events cited by a claim",
	Args:  cobra.ExactArgs(1),
	Run:   runEvidenceClaim,
}

func init() {
	evidenceCmd.PersistentFlags().StringVar(&evidenceFormat, "format", "json", "Output format (json, human)")

	evidenceAppendCmd.Flags().StringVar(&evidenceTrace, "trace", "", "Trace id grouping the events of one request")
	evidenceAppendCmd.Flags().StringVar(&evidenceProducer, "producer", "cli", "Producer id")
	evidenceAppendCmd.Flags().StringVar(&evidenceStage, "stage", "", "Pipeline stage (retrieve, rerank, answer, ...)")
	evidenceAppendCmd.Flags().StringVar(&evidencePayload, "payload", "", "Payload text or JSON")
	evidenceAppendCmd.Flags().StringVar(&evidencePayloadFile, "payload-file", "", "Read the payload from a file")
	evidenceAppendCmd.Flags().StringSliceVar(&evidenceCorrelation, "correlation", nil, "Correlation ids (repeatable)")
	_ = evidenceAppendCmd.MarkFlagRequired("trace")
	_ = evidenceAppendCmd.MarkFlagRequired("stage")

	for _, c := range []*cobra.Command{evidenceTraceCmd, evidenceCorrelatedCmd} {
		c.Flags().Uint64Var(&evidenceAsOf, "as-of", 0, "Only events at or below this sequence number (0 = watermark)")
	}

	evidenceCmd.AddCommand(evidenceAppendCmd, evidenceTraceCmd, evidenceTracesCmd, evidenceCorrelatedCmd, evidenceClaimCmd)
	rootCmd.AddCommand(evidenceCmd)
}

func runEvidenceAppend(cmd *cobra.Command, args []string) {
	payload := []byte(evidencePayload)
	if evidencePayloadFile != "" {
		data, err := os.ReadFile(evidencePayloadFile)
		exitOnError("reading payload", err)
		payload = data
	}

	s := mustOpenSession()
	defer s.Close()

	id, err := s.ledger.Append(newContext(), evidence.Event{
		TraceID:        evidenceTrace,
		ProducerID:     evidenceProducer,
		Stage:          evidenceStage,
		Payload:        payload,
		CorrelationIDs: evidenceCorrelation,
	})
	exitOnError("appending evidence", err)

	printResponse(&AppendResponseCLI{ID: id, Watermark: s.ledger.Watermark()}, evidenceFormat)
}

func runEvidenceTrace(cmd *cobra.Command, args []string) {
	s := mustOpenSession()
	defer s.Close()

	printResponse(eventsResponse("trace "+args[0], s.ledger.Watermark(), s.ledger.QueryByTrace(args[0], evidenceAsOf)), evidenceFormat)
}

func runEvidenceTraces(cmd *cobra.Command, args []string) {
	s := mustOpenSession()
	defer s.Close()

	printResponse(&TracesResponseCLI{Traces: s.ledger.Traces()}, evidenceFormat)
}

func runEvidenceCorrelated(cmd *cobra.Command, args []string) {
	s := mustOpenSession()
	defer s.Close()

	printResponse(eventsResponse("correlation "+args[0], s.ledger.Watermark(), s.ledger.Correlated(args[0], evidenceAsOf)), evidenceFormat)
}

func runEvidenceClaim(cmd *cobra.Command, args []string) {
	s := mustOpenSession()
	defer s.Close()

	events, err := s.ledger.QueryByClaim(newContext(), args[0])
	exitOnError("querying claim evidence", err)
	printResponse(eventsResponse("claim "+args[0], s.ledger.Watermark(), events), evidenceFormat)
}

func eventsResponse(query string, watermark uint64, events []evidence.Event) *EventsResponseCLI {
	asOf := watermark
	if evidenceAsOf != 0 && evidenceAsOf < watermark {
		asOf = evidenceAsOf
	}
	if events == nil {
		events = []evidence.Event{}
	}
	return &EventsResponseCLI{Query: query, AsOf: asOf, Events: events}
}

// parseEventIDs parses the evidence ids given to claim register
func parseEventIDs(raw []string) ([]uint64, error) {
	ids := make([]uint64, 0, len(raw))
	for _, r := range raw {
		id, err := strconv.ParseUint(r, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid evidence id %q", r)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
