package outcomes

import (
	"context"
	"time"

	lerrors "librarian/internal/errors"
)

// ContradictionReport describes disagreeing verdicts for a claim. A flagged
// report never blocks delivery of the claim; it is surfaced to the caller
// and to calibration.
type ContradictionReport struct {
	ClaimID         string        `json:"claimId"`
	Flagged         bool          `json:"flagged"`
	SelfConflict    bool          `json:"selfConflict"`
	SiblingConflict bool          `json:"siblingConflict"`
	Window          time.Duration `json:"window"`
	Correct         []string      `json:"correct,omitempty"`
	Incorrect       []string      `json:"incorrect,omitempty"`
	Siblings        []string      `json:"siblings,omitempty"`
}

// ContradictionCheck looks for a verified_correct and a verified_incorrect
// record within the recency window of each other, first among the claim's
// own records and then across claims sharing its content key.
func (c *Collector) ContradictionCheck(ctx context.Context, claimID string) (*ContradictionReport, error) {
	report := &ContradictionReport{ClaimID: claimID, Window: c.window}

	own, err := c.History(ctx, claimID)
	if err != nil {
		return nil, err
	}
	report.SelfConflict = conflicting(own, c.window)

	all := own
	claim, err := c.claims.Lookup(ctx, claimID)
	switch {
	case err == nil:
		siblings, err := c.claims.Siblings(ctx, claim.ContentKey)
		if err != nil {
			return nil, err
		}
		for _, s := range siblings {
			if s.ID == claimID {
				continue
			}
			report.Siblings = append(report.Siblings, s.ID)
			recs, err := c.History(ctx, s.ID)
			if err != nil {
				return nil, err
			}
			all = append(all, recs...)
		}
		report.SiblingConflict = !report.SelfConflict && conflicting(all, c.window)
	case lerrors.HasCode(err, lerrors.ClaimNotFound):
		// Orphaned outcomes only have their own history.
	default:
		return nil, err
	}

	for _, r := range all {
		switch r.Outcome {
		case VerifiedCorrect:
			report.Correct = append(report.Correct, r.ID)
		case VerifiedIncorrect:
			report.Incorrect = append(report.Incorrect, r.ID)
		}
	}

	report.Flagged = report.SelfConflict || report.SiblingConflict
	if report.Flagged {
		c.metrics.ContradictionFlagged()
		c.logger.Warn("Contradiction detected",
			"claim", claimID,
			"self", report.SelfConflict,
			"siblings", len(report.Siblings),
		)
	}
	return report, nil
}

// Contradicted returns the claims whose own records, or the records of any
// claim sharing their content key, hold conflicting verdicts within window.
// Records without a content key are only checked against their own claim.
func Contradicted(records []*Record, window time.Duration) map[string]bool {
	byClaim := make(map[string][]*Record)
	byContent := make(map[string][]*Record)
	members := make(map[string]map[string]struct{})
	for _, r := range records {
		byClaim[r.ClaimID] = append(byClaim[r.ClaimID], r)
		if r.ContentKey == "" {
			continue
		}
		byContent[r.ContentKey] = append(byContent[r.ContentKey], r)
		if members[r.ContentKey] == nil {
			members[r.ContentKey] = make(map[string]struct{})
		}
		members[r.ContentKey][r.ClaimID] = struct{}{}
	}

	out := make(map[string]bool)
	for id, recs := range byClaim {
		if conflicting(recs, window) {
			out[id] = true
		}
	}
	for key, recs := range byContent {
		if !conflicting(recs, window) {
			continue
		}
		for id := range members[key] {
			out[id] = true
		}
	}
	return out
}

// conflicting reports whether some correct and some incorrect verdict lie
// within window of each other. A non-positive window means unbounded.
func conflicting(records []*Record, window time.Duration) bool {
	var correct, incorrect []time.Time
	for _, r := range records {
		switch r.Outcome {
		case VerifiedCorrect:
			correct = append(correct, r.Timestamp)
		case VerifiedIncorrect:
			incorrect = append(incorrect, r.Timestamp)
		}
	}
	for _, a := range correct {
		for _, b := range incorrect {
			d := a.Sub(b)
			if d < 0 {
				d = -d
			}
			if window <= 0 || d <= window {
				return true
			}
		}
	}
	return false
}
