package calibration

import (
	"fmt"
	"sort"
)

// Partition names
const (
	PartitionFixed    = "fixed"
	PartitionAdaptive = "adaptive"
)

// Partitioner chooses bucket edges for a set of signals
type Partitioner interface {
	Name() string
	Edges(signals []float64, buckets int) []float64
}

// NewPartitioner returns the partitioner for name
func NewPartitioner(name string) (Partitioner, error) {
	switch name {
	case PartitionFixed, "":
		return fixed{}, nil
	case PartitionAdaptive:
		return adaptive{}, nil
	}
	return nil, fmt.Errorf("unknown partition scheme %q", name)
}

// fixed splits [0,1] into equal-width buckets; ten buckets are deciles.
type fixed struct{}

func (fixed) Name() string { return PartitionFixed }

func (fixed) Edges(_ []float64, buckets int) []float64 {
	if buckets < 1 {
		buckets = 1
	}
	edges := make([]float64, buckets+1)
	for i := range edges {
		edges[i] = float64(i) / float64(buckets)
	}
	return edges
}

// adaptive places edges at quantiles so buckets hold roughly equal numbers
// of samples. Coincident quantiles collapse into one bucket.
type adaptive struct{}

func (adaptive) Name() string { return PartitionAdaptive }

func (adaptive) Edges(signals []float64, buckets int) []float64 {
	if buckets < 1 || len(signals) == 0 {
		return []float64{0, 1}
	}
	sorted := append([]float64(nil), signals...)
	sort.Float64s(sorted)

	edges := []float64{0}
	for i := 1; i < buckets; i++ {
		q := sorted[i*len(sorted)/buckets]
		if q > edges[len(edges)-1] && q < 1 {
			edges = append(edges, q)
		}
	}
	return append(edges, 1)
}
