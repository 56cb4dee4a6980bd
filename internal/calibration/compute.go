package calibration

import (
	"sort"
	"time"

	"librarian/internal/outcomes"
)

// Options controls curve computation
type Options struct {
	Buckets     int
	Partitioner Partitioner

	// ContradictionWindow bounds how far apart conflicting verdicts may be.
	// Non-positive means unbounded.
	ContradictionWindow time.Duration
}

// SamplesFrom reduces outcome history to one sample per claim: the claim's
// latest resolved verdict. Unknown outcomes, and records lacking a claim
// type or claimed signal, do not count. The result is sorted so identical
// history always yields identical samples.
func SamplesFrom(records []*outcomes.Record) []Sample {
	latest := make(map[string]*outcomes.Record)
	for _, r := range records {
		if !r.Outcome.Resolved() || r.ClaimedSignal == nil || r.ClaimType == "" {
			continue
		}
		cur, ok := latest[r.ClaimID]
		if !ok || r.Timestamp.After(cur.Timestamp) || (r.Timestamp.Equal(cur.Timestamp) && r.ID > cur.ID) {
			latest[r.ClaimID] = r
		}
	}

	samples := make([]Sample, 0, len(latest))
	for id, r := range latest {
		samples = append(samples, Sample{
			ClaimID:   id,
			ClaimType: r.ClaimType,
			Category:  r.Category,
			Signal:    *r.ClaimedSignal,
			Credit:    r.Outcome.Credit(),
			Incorrect: r.Outcome == outcomes.VerifiedIncorrect,
		})
	}
	sort.Slice(samples, func(i, j int) bool {
		a, b := samples[i], samples[j]
		if a.ClaimType != b.ClaimType {
			return a.ClaimType < b.ClaimType
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.ClaimID < b.ClaimID
	})
	return samples
}

// MarkContradicted flags every sample whose claim is in ids
func MarkContradicted(samples []Sample, ids map[string]bool) {
	for i := range samples {
		samples[i].Contradicted = ids[samples[i].ClaimID]
	}
}

// Compute builds a curve per claim type across all categories, plus one per
// (claim type, category) where a category was supplied.
func Compute(samples []Sample, opts Options) []*Curve {
	if opts.Partitioner == nil {
		opts.Partitioner = fixed{}
	}
	if opts.Buckets < 1 {
		opts.Buckets = 10
	}

	groups := make(map[Key][]Sample)
	for _, s := range samples {
		all := Key{ClaimType: s.ClaimType}
		groups[all] = append(groups[all], s)
		if s.Category != "" {
			k := Key{ClaimType: s.ClaimType, Category: s.Category}
			groups[k] = append(groups[k], s)
		}
	}

	keys := make([]Key, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ClaimType != keys[j].ClaimType {
			return keys[i].ClaimType < keys[j].ClaimType
		}
		return keys[i].Category < keys[j].Category
	})

	curves := make([]*Curve, 0, len(keys))
	for _, k := range keys {
		group := groups[k]
		signals := make([]float64, len(group))
		for i, s := range group {
			signals[i] = s.Signal
		}
		edges := opts.Partitioner.Edges(signals, opts.Buckets)
		curves = append(curves, BuildCurve(k, opts.Partitioner.Name(), edges, group))
	}
	return curves
}
