// Package verify checks claims against their evidence, cheapest tier
// first, and turns every verdict into an outcome record.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"librarian/internal/claims"
	"librarian/internal/config"
	"librarian/internal/evidence"
	"librarian/internal/metrics"
	"librarian/internal/outcomes"
	"librarian/internal/paths"
)

// Tier names a verification stage
type Tier string

const (
	TierFalseStatement Tier = "false_statement"
	TierCitation       Tier = "citation"
	TierEntailment     Tier = "entailment"
	TierEscalation     Tier = "escalation"
)

// EvidenceSource resolves cited events
type EvidenceSource interface {
	Get(id uint64) (evidence.Event, bool)
}

// OutcomeSink receives verdicts
type OutcomeSink interface {
	Record(ctx context.Context, req outcomes.RecordRequest) (*outcomes.Record, error)
	Submit(req outcomes.RecordRequest) error
}

// Options supplies optional collaborators. A nil FalseList is loaded from
// the configured path, a nil Entailer defaults to LexicalEntailer and a nil
// Escalator disables tier four.
type Options struct {
	FalseList *FalseList
	Entailer  Entailer
	Escalator Escalator
}

// Result reports how a claim was verified
type Result struct {
	ClaimID          string           `json:"claimId"`
	Tier             Tier             `json:"tier"`
	TiersRun         []Tier           `json:"tiersRun"`
	Record           *outcomes.Record `json:"record"`
	EntailmentScore  *float64         `json:"entailmentScore,omitempty"`
	Inconclusive     bool             `json:"inconclusive"`
	EscalationID     string           `json:"escalationId,omitempty"`
	EscalationStatus string           `json:"escalationStatus,omitempty"`
}

// Verifier runs the tiered pipeline
type Verifier struct {
	evidence  EvidenceSource
	sink      OutcomeSink
	falseList *FalseList
	entailer  Entailer
	escalator Escalator
	limiter   *limiter

	repoRoot  string
	threshold float64
	accept    bool
	timeout   time.Duration

	pendingMu sync.Mutex
	pending   map[string]*pending

	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a verifier
func New(ev EvidenceSource, sink OutcomeSink, cfg config.VerificationConfig, repoRoot string, logger *slog.Logger, m *metrics.Metrics, opts Options) (*Verifier, error) {
	v := &Verifier{
		evidence:  ev,
		sink:      sink,
		falseList: opts.FalseList,
		entailer:  opts.Entailer,
		escalator: opts.Escalator,
		limiter:   newLimiter(cfg.EscalationRatePerSecond, cfg.EscalationBurst),
		repoRoot:  repoRoot,
		threshold: cfg.EntailmentThreshold,
		accept:    cfg.AcceptEntailment,
		timeout:   cfg.EscalationTimeout(),
		pending:   make(map[string]*pending),
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
	if v.entailer == nil {
		v.entailer = LexicalEntailer{}
	}
	if v.falseList == nil && cfg.FalseStatementsPath != "" {
		file := cfg.FalseStatementsPath
		if !filepath.IsAbs(file) && repoRoot != "" {
			file = filepath.Join(repoRoot, file)
		}
		list, err := LoadFalseList(file)
		if err != nil {
			return nil, err
		}
		v.falseList = list
		logger.Debug("Loaded false statement list", "path", file, "statements", list.Len())
	}
	return v, nil
}

// Verify runs the tiers in order and records the first verdict reached.
// Content problems are verdicts, never errors; the error return is
// reserved for failures to store the verdict.
func (v *Verifier) Verify(ctx context.Context, c *claims.Claim) (*Result, error) {
	res := &Result{ClaimID: c.ID}

	events := make([]evidence.Event, 0, len(c.EvidenceIDs))
	var missing []uint64
	for _, id := range c.EvidenceIDs {
		if ev, ok := v.evidence.Get(id); ok {
			events = append(events, ev)
		} else {
			missing = append(missing, id)
		}
	}

	res.TiersRun = append(res.TiersRun, TierFalseStatement)
	if s, ok := v.falseList.Match(c.Text, c.Type, traceIDs(events)); ok {
		text := "matches known false statement " + s.ID
		if s.Reason != "" {
			text += ": " + s.Reason
		}
		return v.conclude(ctx, res, TierFalseStatement, outcomes.RecordRequest{
			ClaimID:      c.ID,
			Outcome:      outcomes.VerifiedIncorrect,
			Method:       outcomes.ContradictionFound,
			EvidenceText: text,
			VerifierID:   "verify:" + string(TierFalseStatement),
		})
	}

	res.TiersRun = append(res.TiersRun, TierCitation)
	if problems := v.checkCitations(events, missing); len(problems) > 0 {
		return v.conclude(ctx, res, TierCitation, outcomes.RecordRequest{
			ClaimID:      c.ID,
			Outcome:      outcomes.VerifiedIncorrect,
			Method:       outcomes.ContradictionFound,
			EvidenceText: strings.Join(problems, "; "),
			VerifierID:   "verify:" + string(TierCitation),
		})
	}

	res.TiersRun = append(res.TiersRun, TierEntailment)
	texts := make([]string, 0, len(events))
	for _, ev := range events {
		texts = append(texts, evidenceText(ev.Payload))
	}
	score, err := v.entailer.Entails(ctx, c.Text, texts)
	if err != nil {
		v.logger.Warn("Entailment check failed", "claim", c.ID, "error", err)
		score = 0
	}
	res.EntailmentScore = &score
	verifierID := "entailment:" + v.entailer.Name()

	if err == nil && score >= v.threshold && v.accept {
		return v.conclude(ctx, res, TierEntailment, outcomes.RecordRequest{
			ClaimID:                c.ID,
			Outcome:                outcomes.VerifiedCorrect,
			Method:                 outcomes.AgentFeedback,
			EvidenceText:           fmt.Sprintf("entailment score %.2f", score),
			VerifierID:             verifierID,
			VerificationConfidence: &score,
		})
	}

	// Not supported locally: flag, escalate, and leave the verdict open. The
	// inconclusive record is stored before the escalation starts, so even a
	// judgment delivered synchronously lands after it.
	res.TiersRun = append(res.TiersRun, TierEscalation)
	res.Inconclusive = true
	esc := Escalation{
		ClaimID:     c.ID,
		ClaimText:   c.Text,
		ClaimType:   c.Type,
		EvidenceIDs: append([]uint64(nil), c.EvidenceIDs...),
		Evidence:    texts,
		Score:       score,
	}
	refused := v.admit(&esc)

	flags := []outcomes.Flag{outcomes.FlagInconclusive}
	text := fmt.Sprintf("entailment score %.2f below threshold %.2f", score, v.threshold)
	if score >= v.threshold {
		text = fmt.Sprintf("entailment score %.2f requires confirmation", score)
	}
	if refused == "" {
		flags = append(flags, outcomes.FlagEscalated)
		text += "; escalation " + esc.ID
	} else {
		text += "; escalation " + refused
	}
	res, err = v.conclude(ctx, res, TierEntailment, outcomes.RecordRequest{
		ClaimID:                c.ID,
		Outcome:                outcomes.Unknown,
		Method:                 outcomes.AgentFeedback,
		EvidenceText:           text,
		VerifierID:             verifierID,
		VerificationConfidence: &score,
		Flags:                  flags,
	})
	if err != nil {
		return nil, err
	}
	if refused != "" {
		res.EscalationStatus = refused
		return res, nil
	}

	if err := v.start(esc); err != nil {
		res.EscalationStatus = EscalationFailed
		rec, err := v.sink.Record(ctx, outcomes.RecordRequest{
			ClaimID:      c.ID,
			Outcome:      outcomes.Unknown,
			Method:       outcomes.AgentFeedback,
			EvidenceText: "escalation " + esc.ID + " failed to start",
			VerifierID:   verifierID,
			Flags:        []outcomes.Flag{outcomes.FlagInconclusive},
		})
		if err != nil {
			return nil, err
		}
		res.Record = rec
		return res, nil
	}
	res.EscalationID, res.EscalationStatus = esc.ID, EscalationStarted
	return res, nil
}

func (v *Verifier) conclude(ctx context.Context, res *Result, tier Tier, req outcomes.RecordRequest) (*Result, error) {
	rec, err := v.sink.Record(ctx, req)
	if err != nil {
		return nil, err
	}
	res.Tier = tier
	res.Record = rec
	v.metrics.Verdict(string(tier), string(req.Outcome))
	v.logger.Debug("Claim verified",
		"claim", res.ClaimID,
		"tier", string(tier),
		"outcome", string(req.Outcome),
	)
	return res, nil
}

// location is the optional source position carried by an evidence payload
type location struct {
	Path string `json:"path"`
	File string `json:"file"`
	Line int    `json:"line"`
}

// checkCitations lists every cited event that no longer resolves and every
// payload location that does not exist under the repository root.
func (v *Verifier) checkCitations(events []evidence.Event, missing []uint64) []string {
	var problems []string
	for _, id := range missing {
		problems = append(problems, fmt.Sprintf("evidence %d does not exist", id))
	}
	if v.repoRoot == "" {
		return problems
	}

	for _, ev := range events {
		var loc location
		if err := json.Unmarshal(ev.Payload, &loc); err != nil {
			continue
		}
		file := loc.Path
		if file == "" {
			file = loc.File
		}
		if file == "" {
			continue
		}
		ok, err := paths.LocationExists(v.repoRoot, file, loc.Line)
		if err != nil {
			v.logger.Warn("Cannot check cited location", "evidence", ev.ID, "file", file, "error", err)
			continue
		}
		if !ok {
			if loc.Line > 0 {
				problems = append(problems, fmt.Sprintf("evidence %d cites %s:%d which does not exist", ev.ID, file, loc.Line))
			} else {
				problems = append(problems, fmt.Sprintf("evidence %d cites %s which does not exist", ev.ID, file))
			}
		}
	}
	return problems
}

// evidenceText extracts the text fields of a JSON payload, or the payload
// itself when it is plain text.
func evidenceText(payload []byte) string {
	var fields map[string]interface{}
	if err := json.Unmarshal(payload, &fields); err == nil {
		var parts []string
		for _, key := range []string{"text", "snippet", "content", "code", "summary"} {
			if s, ok := fields[key].(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "\n")
		}
	}
	if utf8.Valid(payload) {
		return string(payload)
	}
	return ""
}

func traceIDs(events []evidence.Event) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, ev := range events {
		if _, ok := seen[ev.TraceID]; ok {
			continue
		}
		seen[ev.TraceID] = struct{}{}
		out = append(out, ev.TraceID)
	}
	sort.Strings(out)
	return out
}
