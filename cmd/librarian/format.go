package main

import (
	"fmt"
	"strings"
	"time"

	"librarian/internal/calibration"
	"librarian/internal/claims"
	"librarian/internal/evidence"
	"librarian/internal/ledger"
	"librarian/internal/outcomes"
	"librarian/internal/scheduler"
	"librarian/internal/verify"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatHuman OutputFormat = "human"
)

// FormatResponse formats a response according to the specified format
func FormatResponse(resp interface{}, format OutputFormat) (string, error) {
	switch format {
	case FormatJSON:
		return formatJSON(resp)
	case FormatHuman:
		return formatHuman(resp)
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// formatJSON encodes the response, rejecting bare numeric confidences
func formatJSON(resp interface{}) (string, error) {
	data, err := ledger.Render(resp)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// formatHuman formats the response in human-readable format
func formatHuman(resp interface{}) (string, error) {
	// Guard applies to every format, not only json
	if _, err := ledger.Render(resp); err != nil {
		return "", err
	}

	switch v := resp.(type) {
	case *AppendResponseCLI:
		return fmt.Sprintf("Appended event %d (watermark %d)", v.ID, v.Watermark), nil
	case *EventsResponseCLI:
		return formatEventsHuman(v), nil
	case *TracesResponseCLI:
		if len(v.Traces) == 0 {
			return "No traces recorded", nil
		}
		return strings.Join(v.Traces, "\n"), nil
	case *claims.Claim:
		return formatClaimHuman(v), nil
	case *ClaimResponseCLI:
		return formatClaimResponseHuman(v), nil
	case *outcomes.Record:
		return formatRecordsHuman([]*outcomes.Record{v}), nil
	case *HistoryResponseCLI:
		return formatHistoryHuman(v), nil
	case *outcomes.ContradictionReport:
		return formatContradictionHuman(v), nil
	case *calibration.Snapshot:
		return formatSnapshotHuman(v), nil
	case *calibration.Curve:
		return formatCurveHuman(v), nil
	case *AdjustResponseCLI:
		return fmt.Sprintf("%s/%s: %s", v.ClaimType, orAny(v.Category), v.Confidence.String()), nil
	case *verify.Result:
		return formatVerifyHuman(v), nil
	case *StatusResponseCLI:
		return formatStatusHuman(v), nil
	case *DoctorResponseCLI:
		return formatDoctorHuman(v), nil
	case *TasksResponseCLI:
		return formatTasksHuman(v), nil
	default:
		// For unknown types, fall back to JSON
		return formatJSON(resp)
	}
}

func formatEventsHuman(resp *EventsResponseCLI) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s (as of %d): %d event(s)\n", resp.Query, resp.AsOf, len(resp.Events)))
	for _, e := range resp.Events {
		b.WriteString(formatEventLine(e))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatEventLine(e evidence.Event) string {
	line := fmt.Sprintf("  #%-6d %s  %-12s %-16s trace=%s", e.ID, e.Timestamp.Format("2006-01-02 15:04:05"), e.Stage, e.ProducerID, e.TraceID)
	if len(e.Payload) > 0 {
		payload := string(e.Payload)
		if len(payload) > 60 {
			payload = payload[:57] + "..."
		}
		line += "  " + payload
	}
	return line + "\n"
}

func formatClaimHuman(c *claims.Claim) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Claim %s\n", c.ID))
	b.WriteString(strings.Repeat("=", 60) + "\n")
	b.WriteString(fmt.Sprintf("  Text:       %s\n", c.Text))
	b.WriteString(fmt.Sprintf("  Type:       %s\n", c.Type))
	if c.Category != "" {
		b.WriteString(fmt.Sprintf("  Category:   %s\n", c.Category))
	}
	b.WriteString(fmt.Sprintf("  Created:    %s\n", c.CreatedAt.Format("2006-01-02 15:04:05")))
	b.WriteString(fmt.Sprintf("  Evidence:   %s\n", joinIDs(c.EvidenceIDs)))
	b.WriteString(fmt.Sprintf("  Confidence: %s\n", c.Confidence.String()))
	return strings.TrimRight(b.String(), "\n")
}

func formatClaimResponseHuman(resp *ClaimResponseCLI) string {
	var b strings.Builder
	b.WriteString(formatClaimHuman(resp.Claim))
	b.WriteString("\n")
	if len(resp.Evidence) > 0 {
		b.WriteString("\nCited evidence:\n")
		for _, e := range resp.Evidence {
			b.WriteString(formatEventLine(e))
		}
	}
	if len(resp.Siblings) > 0 {
		b.WriteString("\nSame statement, other evidence:\n")
		for _, id := range resp.Siblings {
			b.WriteString(fmt.Sprintf("  %s\n", id))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatRecordsHuman(records []*outcomes.Record) string {
	var b strings.Builder
	for _, r := range records {
		b.WriteString(fmt.Sprintf("  %s  %-18s via %-19s", r.Timestamp.Format("2006-01-02 15:04:05"), r.Outcome, r.Method))
		if r.VerifierID != "" {
			b.WriteString(" by " + r.VerifierID)
		}
		if len(r.Flags) > 0 {
			flags := make([]string, len(r.Flags))
			for i, f := range r.Flags {
				flags[i] = string(f)
			}
			b.WriteString(" [" + strings.Join(flags, ",") + "]")
		}
		if r.Orphan {
			b.WriteString(" (orphan)")
		}
		b.WriteString("\n")
		if r.EvidenceText != "" {
			b.WriteString(fmt.Sprintf("      %s\n", r.EvidenceText))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatHistoryHuman(resp *HistoryResponseCLI) string {
	if len(resp.Records) == 0 {
		return fmt.Sprintf("No outcomes recorded for %s", resp.ClaimID)
	}
	out := fmt.Sprintf("Outcomes for %s (%d):\n%s", resp.ClaimID, len(resp.Records), formatRecordsHuman(resp.Records))
	if resp.Current != nil {
		out += fmt.Sprintf("\nCurrent verdict: %s", resp.Current.Outcome)
	}
	return out
}

func formatContradictionHuman(r *outcomes.ContradictionReport) string {
	if !r.Flagged {
		return fmt.Sprintf("No contradiction for %s within %s", r.ClaimID, r.Window)
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Contradiction flagged for %s within %s\n", r.ClaimID, r.Window))
	if r.SelfConflict {
		b.WriteString("  The claim itself has conflicting verdicts\n")
	}
	if r.SiblingConflict {
		b.WriteString("  Claims with the same statement disagree\n")
	}
	if len(r.Correct) > 0 {
		b.WriteString(fmt.Sprintf("  Correct:   %s\n", strings.Join(r.Correct, ", ")))
	}
	if len(r.Incorrect) > 0 {
		b.WriteString(fmt.Sprintf("  Incorrect: %s\n", strings.Join(r.Incorrect, ", ")))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatSnapshotHuman(s *calibration.Snapshot) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Calibration snapshot v%d\n", s.Version))
	b.WriteString(strings.Repeat("=", 60) + "\n")
	if !s.ComputedAt.IsZero() {
		b.WriteString(fmt.Sprintf("Computed:    %s\n", s.ComputedAt.Format("2006-01-02 15:04:05")))
	}
	if s.Fingerprint != "" {
		fp := s.Fingerprint
		if len(fp) > 12 {
			fp = fp[:12]
		}
		b.WriteString(fmt.Sprintf("Fingerprint: %s\n", fp))
	}
	if len(s.Curves) == 0 {
		b.WriteString("\nNo curves yet: every confidence is reported as absent.\n")
		return strings.TrimRight(b.String(), "\n")
	}
	b.WriteString(fmt.Sprintf("\n%-20s %-16s %8s %7s %7s %7s %7s\n", "TYPE", "CATEGORY", "SAMPLES", "ECE", "MCE", "HALLU", "CONTRA"))
	for _, c := range s.Curves {
		b.WriteString(fmt.Sprintf("%-20s %-16s %8d %7.3f %7.3f %7.3f %7.3f\n",
			c.ClaimType, orAny(c.Category), c.TotalSamples, c.ECE, c.MCE, c.HallucinationRate, c.ContradictionRate))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatCurveHuman(c *calibration.Curve) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Curve %s/%s (%s, %d samples)\n", c.ClaimType, orAny(c.Category), c.Partition, c.TotalSamples))
	b.WriteString(fmt.Sprintf("ECE %.3f  MCE %.3f  overconfidence %.2f  hallucination %.3f  contradiction %.3f\n\n",
		c.ECE, c.MCE, c.OverconfidenceRatio, c.HallucinationRate, c.ContradictionRate))
	b.WriteString(fmt.Sprintf("%-13s %8s %8s %8s %8s\n", "BUCKET", "CLAIMED", "ACTUAL", "N", "SE"))
	for _, bk := range c.Buckets {
		b.WriteString(fmt.Sprintf("[%.2f, %.2f] %8.3f %8.3f %8d %8.4f\n",
			bk.Lower, bk.Upper, bk.MeanSignal, bk.Accuracy, bk.SampleSize, bk.StandardError))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatVerifyHuman(r *verify.Result) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Verified %s at tier %s\n", r.ClaimID, r.Tier))
	tiers := make([]string, len(r.TiersRun))
	for i, t := range r.TiersRun {
		tiers[i] = string(t)
	}
	b.WriteString(fmt.Sprintf("  Tiers run: %s\n", strings.Join(tiers, " -> ")))
	if r.EntailmentScore != nil {
		b.WriteString(fmt.Sprintf("  Entailment score: %.2f\n", *r.EntailmentScore))
	}
	if r.Inconclusive {
		b.WriteString("  Inconclusive")
		if r.EscalationID != "" {
			b.WriteString(", escalated as " + r.EscalationID)
		} else if r.EscalationStatus != "" {
			b.WriteString(", escalation " + r.EscalationStatus)
		}
		b.WriteString("\n")
	}
	if r.Record != nil {
		b.WriteString(formatRecordsHuman([]*outcomes.Record{r.Record}))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatStatusHuman(resp *StatusResponseCLI) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Librarian v%s\n", resp.Version))
	b.WriteString(strings.Repeat("=", 60) + "\n")
	b.WriteString(fmt.Sprintf("Repository: %s\n", resp.RepoRoot))
	b.WriteString(fmt.Sprintf("Database:   %s\n\n", resp.Stats.Database))

	s := resp.Stats
	b.WriteString(fmt.Sprintf("Evidence:    watermark %d, %d trace(s), %d cited claim(s)\n",
		s.Evidence.Watermark, s.Evidence.Traces, s.Evidence.Claims))
	b.WriteString(fmt.Sprintf("Outcomes:    %d processed, %d failed, queue %d/%d\n",
		s.Outcomes.Processed, s.Outcomes.Failed, s.Outcomes.QueueLength, s.Outcomes.QueueCapacity))
	dirty := ""
	if s.CalibrationDirty {
		dirty = " (stale)"
	}
	b.WriteString(fmt.Sprintf("Calibration: snapshot v%d, %d curve(s)%s\n", s.SnapshotVersion, s.SnapshotCurves, dirty))
	b.WriteString(fmt.Sprintf("Escalations: %d pending\n", s.PendingEscalations))

	if len(s.Tasks) > 0 {
		b.WriteString("\nTasks:\n")
		now := time.Now()
		for _, t := range s.Tasks {
			b.WriteString(formatTaskLine(t, now))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatTasksHuman(resp *TasksResponseCLI) string {
	if len(resp.Tasks) == 0 {
		return "No background tasks"
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Background tasks (%d)\n", len(resp.Tasks)))
	b.WriteString(strings.Repeat("=", 60) + "\n")
	for _, t := range resp.Tasks {
		b.WriteString(formatTaskLine(t, resp.AsOf))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatTaskLine(t scheduler.Task, now time.Time) string {
	next := "disabled"
	if t.Enabled {
		if wait := t.NextRun.Sub(now); wait > 0 {
			next = "in " + scheduler.FormatDuration(wait)
		} else {
			next = "due"
		}
	}
	last := "never"
	if t.LastRun != nil {
		last = fmt.Sprintf("%s %s (%s)", t.LastRun.Format("15:04:05"), t.LastStatus,
			scheduler.FormatDuration(time.Duration(t.LastDuration)*time.Millisecond))
	}
	return fmt.Sprintf("  %-18s %-16s next: %-10s last: %s\n", t.Name, t.Expression, next, last)
}

func formatDoctorHuman(resp *DoctorResponseCLI) string {
	var b strings.Builder
	b.WriteString("Librarian Doctor\n")
	b.WriteString(strings.Repeat("=", 60) + "\n\n")
	for _, check := range resp.Checks {
		icon := "✓"
		switch check.Status {
		case "warn":
			icon = "⚠"
		case "fail":
			icon = "✗"
		}
		b.WriteString(fmt.Sprintf("%s %s: %s\n", icon, check.Name, check.Message))
	}
	if resp.Healthy {
		b.WriteString("\nAll checks passed\n")
	} else {
		b.WriteString("\nSome checks failed\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func joinIDs(ids []uint64) string {
	if len(ids) == 0 {
		return "(none)"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("#%d", id)
	}
	return strings.Join(parts, ", ")
}

func orAny(category string) string {
	if category == "" {
		return "*"
	}
	return category
}
