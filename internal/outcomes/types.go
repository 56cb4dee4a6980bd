// Package outcomes records what actually happened to claims. Records are
// append-only and arrive asynchronously, possibly long after the claim.
package outcomes

import (
	"time"

	"librarian/internal/confidence"
	lerrors "librarian/internal/errors"
)

// OutcomeType is the verdict of a verification
type OutcomeType string

const (
	VerifiedCorrect   OutcomeType = "verified_correct"
	VerifiedIncorrect OutcomeType = "verified_incorrect"
	PartiallyCorrect  OutcomeType = "partially_correct"
	Unknown           OutcomeType = "unknown"
)

// Method is how a verdict was reached
type Method string

const (
	TestPassed         Method = "test_passed"
	TestFailed         Method = "test_failed"
	HumanReview        Method = "human_review"
	AgentFeedback      Method = "agent_feedback"
	ContradictionFound Method = "contradiction_found"
)

// Flag annotates a record without changing its verdict
type Flag string

const (
	FlagInconclusive Flag = "inconclusive"
	FlagEscalated    Flag = "escalated"
	FlagLate         Flag = "late"
)

// ParseOutcome validates an outcome type name
func ParseOutcome(s string) (OutcomeType, error) {
	switch o := OutcomeType(s); o {
	case VerifiedCorrect, VerifiedIncorrect, PartiallyCorrect, Unknown:
		return o, nil
	}
	return "", lerrors.Newf(lerrors.InvalidOutcome, "unknown outcome type %q", s)
}

// ParseMethod validates a verification method name
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case TestPassed, TestFailed, HumanReview, AgentFeedback, ContradictionFound:
		return m, nil
	}
	return "", lerrors.Newf(lerrors.InvalidOutcome, "unknown verification method %q", s)
}

// Resolved reports whether the outcome counts toward calibration
func (o OutcomeType) Resolved() bool {
	return o == VerifiedCorrect || o == VerifiedIncorrect || o == PartiallyCorrect
}

// Credit is the accuracy credit of a resolved outcome
func (o OutcomeType) Credit() float64 {
	switch o {
	case VerifiedCorrect:
		return 1
	case PartiallyCorrect:
		return 0.5
	}
	return 0
}

// Record is one verification result for a claim
type Record struct {
	ID                     string           `json:"id"`
	ClaimID                string           `json:"claimId"`
	ClaimType              string           `json:"claimType,omitempty"`
	Category               string           `json:"category,omitempty"`
	ClaimedSignal          *float64         `json:"claimedSignal,omitempty"`
	ClaimedConfidence      confidence.Value `json:"claimedConfidence"`
	Outcome                OutcomeType      `json:"outcome"`
	Method                 Method           `json:"method"`
	EvidenceText           string           `json:"evidenceText,omitempty"`
	Timestamp              time.Time        `json:"timestamp"`
	VerifierID             string           `json:"verifierId,omitempty"`
	VerificationConfidence *float64         `json:"verifierScore,omitempty"`
	Orphan                 bool             `json:"orphan,omitempty"`
	Flags                  []Flag           `json:"flags,omitempty"`

	// ContentKey is resolved from the claim registry by All; it is not stored.
	ContentKey string `json:"contentKey,omitempty"`
}

// HasFlag reports whether the record carries f
func (r *Record) HasFlag(f Flag) bool {
	for _, x := range r.Flags {
		if x == f {
			return true
		}
	}
	return false
}

// RecordRequest describes an outcome to record. ClaimType, Category and
// Signal are only used when the claim is not in the registry, so orphans
// can still feed calibration.
type RecordRequest struct {
	ClaimID                string
	Outcome                OutcomeType
	Method                 Method
	EvidenceText           string
	VerifierID             string
	VerificationConfidence *float64
	Timestamp              time.Time
	Flags                  []Flag

	ClaimType string
	Category  string
	Signal    confidence.Signal
}

func (r *RecordRequest) validate() error {
	if _, err := ParseOutcome(string(r.Outcome)); err != nil {
		return err
	}
	if _, err := ParseMethod(string(r.Method)); err != nil {
		return err
	}
	if r.ClaimID == "" {
		return lerrors.Newf(lerrors.InvalidOutcome, "outcome requires a claim id")
	}
	if v := r.VerificationConfidence; v != nil && (*v < 0 || *v > 1) {
		return lerrors.Newf(lerrors.InvalidOutcome, "verification confidence %v outside [0,1]", *v)
	}
	return nil
}
