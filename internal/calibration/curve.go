// Package calibration turns outcome history into calibration curves and
// publishes them as immutable, versioned snapshots.
package calibration

import (
	"math"
	"sort"
)

// overconfidenceEpsilon absorbs float noise when comparing claimed
// confidence with accuracy.
const overconfidenceEpsilon = 1e-12

// Bucket is one slice of the raw signal range. MeanSignal is the average
// claimed signal of the samples in it.
type Bucket struct {
	Lower         float64 `json:"lower"`
	Upper         float64 `json:"upper"`
	MeanSignal    float64 `json:"meanSignal"`
	Accuracy      float64 `json:"accuracy"`
	SampleSize    int     `json:"sampleSize"`
	StandardError float64 `json:"standardError"`
}

// Key identifies a curve
type Key struct {
	ClaimType string `json:"claimType"`
	Category  string `json:"category,omitempty"`
}

// Curve is the calibration of one claim type, optionally narrowed to a
// codebase category.
type Curve struct {
	Key
	Partition           string   `json:"partition"`
	Buckets             []Bucket `json:"buckets"`
	ECE                 float64  `json:"ece"`
	MCE                 float64  `json:"mce"`
	OverconfidenceRatio float64  `json:"overconfidenceRatio"`
	HallucinationRate   float64  `json:"hallucinationRate"`
	ContradictionRate   float64  `json:"contradictionRate"`
	TotalSamples        int      `json:"totalSamples"`
}

// Sample is one claim's contribution: its claimed signal and the accuracy
// credit of its current resolved verdict.
type Sample struct {
	ClaimID   string
	ClaimType string
	Category  string
	Signal    float64
	Credit    float64
	Incorrect bool

	// Contradicted marks a claim with conflicting verdicts in the window
	Contradicted bool
}

// BuildCurve computes a curve over samples using edges as bucket bounds.
// edges must be strictly increasing, start at 0 and end at 1.
func BuildCurve(key Key, partition string, edges []float64, samples []Sample) *Curve {
	n := len(edges) - 1
	sumConf := make([]float64, n)
	sumCredit := make([]float64, n)
	counts := make([]int, n)
	incorrect, contradicted := 0, 0

	for _, s := range samples {
		i := bucketIndex(edges, s.Signal)
		counts[i]++
		sumConf[i] += s.Signal
		sumCredit[i] += s.Credit
		if s.Incorrect {
			incorrect++
		}
		if s.Contradicted {
			contradicted++
		}
	}

	c := &Curve{Key: key, Partition: partition, TotalSamples: len(samples)}
	nonEmpty, over := 0, 0
	for i := 0; i < n; i++ {
		b := Bucket{Lower: edges[i], Upper: edges[i+1], SampleSize: counts[i]}
		if counts[i] > 0 {
			cnt := float64(counts[i])
			b.MeanSignal = sumConf[i] / cnt
			b.Accuracy = sumCredit[i] / cnt
			b.StandardError = math.Sqrt(b.Accuracy * (1 - b.Accuracy) / cnt)

			gap := math.Abs(b.MeanSignal - b.Accuracy)
			c.ECE += cnt / float64(len(samples)) * gap
			if gap > c.MCE {
				c.MCE = gap
			}
			nonEmpty++
			if b.MeanSignal > b.Accuracy+overconfidenceEpsilon {
				over++
			}
		}
		c.Buckets = append(c.Buckets, b)
	}
	if nonEmpty > 0 {
		c.OverconfidenceRatio = float64(over) / float64(nonEmpty)
	}
	if len(samples) > 0 {
		c.HallucinationRate = float64(incorrect) / float64(len(samples))
		c.ContradictionRate = float64(contradicted) / float64(len(samples))
	}
	return c
}

// Bucket returns the bucket a raw signal falls into
func (c *Curve) Bucket(raw float64) (Bucket, bool) {
	if len(c.Buckets) == 0 {
		return Bucket{}, false
	}
	edges := make([]float64, 0, len(c.Buckets)+1)
	for _, b := range c.Buckets {
		edges = append(edges, b.Lower)
	}
	edges = append(edges, c.Buckets[len(c.Buckets)-1].Upper)
	return c.Buckets[bucketIndex(edges, raw)], true
}

// bucketIndex finds i with edges[i] <= s < edges[i+1]; the last bucket is
// closed so 1.0 lands in it.
func bucketIndex(edges []float64, s float64) int {
	i := sort.Search(len(edges), func(i int) bool { return edges[i] > s }) - 1
	if i < 0 {
		return 0
	}
	if i > len(edges)-2 {
		return len(edges) - 2
	}
	return i
}
