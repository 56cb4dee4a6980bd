package verify

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"librarian/internal/outcomes"
)

// Escalation statuses reported on a Result
const (
	EscalationStarted     = "started"
	EscalationThrottled   = "throttled"
	EscalationUnavailable = "unavailable"
	EscalationFailed      = "failed"
)

// Escalation is a claim handed to an external judge
type Escalation struct {
	ID          string    `json:"id"`
	ClaimID     string    `json:"claimId"`
	ClaimText   string    `json:"claimText"`
	ClaimType   string    `json:"claimType"`
	EvidenceIDs []uint64  `json:"evidenceIds"`
	Evidence    []string  `json:"-"`
	Score       float64   `json:"entailmentScore"`
	StartedAt   time.Time `json:"startedAt"`
	Deadline    time.Time `json:"deadline"`
}

// Judgment is an external verdict on an escalated claim
type Judgment struct {
	Outcome      outcomes.OutcomeType
	Method       outcomes.Method
	EvidenceText string
	VerifierID   string
	Confidence   *float64
}

// Escalator hands claims to humans or agents. Escalate must return
// promptly; done may be called later from any goroutine, at most once
// per escalation, and is honored even after the escalation timed out.
type Escalator interface {
	Escalate(esc Escalation, done func(Judgment)) error
}

// EscalatorFunc adapts a function to Escalator
type EscalatorFunc func(esc Escalation, done func(Judgment)) error

// Escalate implements Escalator
func (f EscalatorFunc) Escalate(esc Escalation, done func(Judgment)) error {
	return f(esc, done)
}

type pending struct {
	esc       Escalation
	mu        sync.Mutex
	timedOut  bool
	completed bool
}

// admit checks that esc may be escalated and assigns its id and deadline.
// It returns the refusal status, or "" when admitted.
func (v *Verifier) admit(esc *Escalation) string {
	if v.escalator == nil {
		v.metrics.Escalation(EscalationUnavailable)
		return EscalationUnavailable
	}
	if !v.limiter.Allow(esc.ClaimType) {
		v.metrics.Escalation(EscalationThrottled)
		v.logger.Warn("Escalation throttled", "claim", esc.ClaimID, "type", esc.ClaimType)
		return EscalationThrottled
	}

	now := v.now()
	esc.ID = uuid.NewString()
	esc.StartedAt = now
	esc.Deadline = now.Add(v.timeout)
	return ""
}

// start hands an admitted escalation to the escalator and tracks it until
// a judgment arrives or it times out.
func (v *Verifier) start(esc Escalation) error {
	p := &pending{esc: esc}

	v.pendingMu.Lock()
	v.pending[esc.ID] = p
	v.pendingMu.Unlock()

	if err := v.escalator.Escalate(esc, func(j Judgment) { v.complete(p, j) }); err != nil {
		v.pendingMu.Lock()
		delete(v.pending, esc.ID)
		v.pendingMu.Unlock()
		v.metrics.Escalation(EscalationFailed)
		v.logger.Warn("Escalation failed to start", "claim", esc.ClaimID, "error", err)
		return err
	}

	v.metrics.Escalation(EscalationStarted)
	v.logger.Debug("Escalation started", "escalation", esc.ID, "claim", esc.ClaimID, "deadline", esc.Deadline)
	return nil
}

// complete forwards a judgment to the outcome collector. Results arriving
// after the deadline are still recorded, flagged late.
func (v *Verifier) complete(p *pending, j Judgment) {
	p.mu.Lock()
	if p.completed {
		p.mu.Unlock()
		v.logger.Warn("Duplicate escalation result ignored", "escalation", p.esc.ID)
		return
	}
	p.completed = true
	late := p.timedOut
	p.mu.Unlock()

	v.pendingMu.Lock()
	delete(v.pending, p.esc.ID)
	v.pendingMu.Unlock()

	flags := []outcomes.Flag{outcomes.FlagEscalated}
	event := "completed"
	if late {
		flags = append(flags, outcomes.FlagLate)
		event = "late"
	}
	method := j.Method
	if method == "" {
		method = outcomes.HumanReview
	}

	err := v.sink.Submit(outcomes.RecordRequest{
		ClaimID:                p.esc.ClaimID,
		Outcome:                j.Outcome,
		Method:                 method,
		EvidenceText:           j.EvidenceText,
		VerifierID:             j.VerifierID,
		VerificationConfidence: j.Confidence,
		Timestamp:              v.now(),
		Flags:                  flags,
	})
	if err != nil {
		v.logger.Warn("Escalation result rejected", "escalation", p.esc.ID, "error", err)
		return
	}
	v.metrics.Escalation(event)
	v.logger.Debug("Escalation result accepted", "escalation", p.esc.ID, "late", late)
}

// Sweep marks escalations past their deadline as timed out and stops
// tracking them. Their results, if they ever arrive, are recorded as late.
func (v *Verifier) Sweep(now time.Time) int {
	v.pendingMu.Lock()
	var expired []*pending
	for id, p := range v.pending {
		if !now.Before(p.esc.Deadline) {
			expired = append(expired, p)
			delete(v.pending, id)
		}
	}
	v.pendingMu.Unlock()

	for _, p := range expired {
		p.mu.Lock()
		if !p.completed {
			p.timedOut = true
		}
		p.mu.Unlock()
		v.metrics.Escalation("timed_out")
		v.logger.Info("Escalation timed out", "escalation", p.esc.ID, "claim", p.esc.ClaimID)
	}
	return len(expired)
}

// Pending lists escalations still awaiting a result, oldest first
func (v *Verifier) Pending() []Escalation {
	v.pendingMu.Lock()
	out := make([]Escalation, 0, len(v.pending))
	for _, p := range v.pending {
		out = append(out, p.esc)
	}
	v.pendingMu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}
