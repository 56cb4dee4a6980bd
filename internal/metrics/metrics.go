// Package metrics exposes Prometheus collectors for the ledger.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// Metrics holds every collector registered by the ledger
type Metrics struct {
	registry *prometheus.Registry

	// evidenceAppends counts appended events.
	// Labels: stage
	evidenceAppends *prometheus.CounterVec

	// evidenceAppendFailures counts appends that voided their slot
	evidenceAppendFailures prometheus.Counter

	// evidenceWatermark is the highest visible sequence number
	evidenceWatermark prometheus.Gauge

	// claimsRegistered counts registrations.
	// Labels: result (new, existing)
	claimsRegistered *prometheus.CounterVec

	// outcomesRecorded counts outcome records.
	// Labels: outcome, method
	outcomesRecorded *prometheus.CounterVec

	// orphanOutcomes counts outcomes for claims not in the registry
	orphanOutcomes prometheus.Counter

	// contradictionsFlagged counts contradiction checks that raised a flag
	contradictionsFlagged prometheus.Counter

	// verificationVerdicts counts verdicts by tier.
	// Labels: tier, outcome
	verificationVerdicts *prometheus.CounterVec

	// escalations counts escalation lifecycle events.
	// Labels: event (started, completed, timed_out, late, throttled, unavailable, failed)
	escalations *prometheus.CounterVec

	// calibrationECE and calibrationMCE per curve.
	// Labels: claim_type, category
	calibrationECE *prometheus.GaugeVec
	calibrationMCE *prometheus.GaugeVec

	// snapshotVersion is the currently published calibration snapshot version
	snapshotVersion prometheus.Gauge

	// recomputeDuration measures calibration recompute runs
	recomputeDuration prometheus.Histogram
}

// New creates collectors under namespace in a fresh registry
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "librarian"
	}
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		evidenceAppends: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evidence",
			Name:      "appends_total",
			Help:      "Total evidence events appended",
		}, []string{"stage"}),
		evidenceAppendFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evidence",
			Name:      "append_failures_total",
			Help:      "Total evidence appends that failed after retries",
		}),
		evidenceWatermark: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "evidence",
			Name:      "watermark",
			Help:      "Highest sequence number visible to readers",
		}),
		claimsRegistered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "claims",
			Name:      "registered_total",
			Help:      "Total claim registrations",
		}, []string{"result"}),
		outcomesRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outcomes",
			Name:      "recorded_total",
			Help:      "Total outcome records",
		}, []string{"outcome", "method"}),
		orphanOutcomes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outcomes",
			Name:      "orphans_total",
			Help:      "Total outcome records for unknown claims",
		}),
		contradictionsFlagged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outcomes",
			Name:      "contradictions_total",
			Help:      "Total contradiction checks that raised a flag",
		}),
		verificationVerdicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verify",
			Name:      "verdicts_total",
			Help:      "Total verification verdicts by tier",
		}, []string{"tier", "outcome"}),
		escalations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verify",
			Name:      "escalations_total",
			Help:      "Escalation lifecycle events",
		}, []string{"event"}),
		calibrationECE: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "calibration",
			Name:      "ece",
			Help:      "Expected calibration error per claim type",
		}, []string{"claim_type", "category"}),
		calibrationMCE: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "calibration",
			Name:      "mce",
			Help:      "Maximum calibration error per claim type",
		}, []string{"claim_type", "category"}),
		snapshotVersion: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "calibration",
			Name:      "snapshot_version",
			Help:      "Version of the published calibration snapshot",
		}),
		recomputeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "calibration",
			Name:      "recompute_duration_seconds",
			Help:      "Calibration recompute latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}
}

// Registry returns the registry holding the collectors
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// WriteText writes all metrics in the Prometheus text exposition format
func (m *Metrics) WriteText(w io.Writer) error {
	if m == nil {
		return nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) EvidenceAppended(stage string) {
	if m == nil {
		return
	}
	m.evidenceAppends.WithLabelValues(stage).Inc()
}

func (m *Metrics) EvidenceAppendFailed() {
	if m == nil {
		return
	}
	m.evidenceAppendFailures.Inc()
}

func (m *Metrics) SetWatermark(seq uint64) {
	if m == nil {
		return
	}
	m.evidenceWatermark.Set(float64(seq))
}

func (m *Metrics) ClaimRegistered(isNew bool) {
	if m == nil {
		return
	}
	result := "existing"
	if isNew {
		result = "new"
	}
	m.claimsRegistered.WithLabelValues(result).Inc()
}

func (m *Metrics) OutcomeRecorded(outcome, method string, orphan bool) {
	if m == nil {
		return
	}
	m.outcomesRecorded.WithLabelValues(outcome, method).Inc()
	if orphan {
		m.orphanOutcomes.Inc()
	}
}

func (m *Metrics) ContradictionFlagged() {
	if m == nil {
		return
	}
	m.contradictionsFlagged.Inc()
}

func (m *Metrics) Verdict(tier, outcome string) {
	if m == nil {
		return
	}
	m.verificationVerdicts.WithLabelValues(tier, outcome).Inc()
}

func (m *Metrics) Escalation(event string) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(event).Inc()
}

func (m *Metrics) CalibrationCurve(claimType, category string, ece, mce float64) {
	if m == nil {
		return
	}
	m.calibrationECE.WithLabelValues(claimType, category).Set(ece)
	m.calibrationMCE.WithLabelValues(claimType, category).Set(mce)
}

func (m *Metrics) SnapshotPublished(version uint64, seconds float64) {
	if m == nil {
		return
	}
	m.snapshotVersion.Set(float64(version))
	m.recomputeDuration.Observe(seconds)
}
