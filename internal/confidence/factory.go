package confidence

import (
	"fmt"
	"math"

	"librarian/internal/config"
)

// Estimate is what a calibration source knows about the bucket a signal
// falls into.
type Estimate struct {
	Accuracy      float64
	StandardError float64
	BucketSamples int
	TypeSamples   int
}

// Source supplies calibration estimates. Implemented by the calibration engine.
type Source interface {
	Estimate(claimType, category string, raw float64) (Estimate, bool)
}

// Factory is the single producer of confidence values
type Factory struct {
	source     Source
	enabled    bool
	minSamples int
	z          float64
}

// NewFactory creates a factory backed by source
func NewFactory(source Source, cfg config.CalibrationConfig) *Factory {
	f := &Factory{
		source:     source,
		enabled:    cfg.Enabled,
		minSamples: cfg.MinSamples,
		z:          cfg.ZScore,
	}
	if f.minSamples <= 0 {
		f.minSamples = 30
	}
	if f.z <= 0 {
		f.z = 1.96
	}
	return f
}

// MinSamples returns the sample floor below which values stay absent
func (f *Factory) MinSamples() int {
	return f.minSamples
}

// Resolve turns a raw signal into a confidence value for a claim of the
// given type and category.
func (f *Factory) Resolve(claimType, category string, s Signal) Value {
	raw, ok := s.Raw()
	if !ok {
		return Absent(ReasonNoSignal)
	}
	if !f.enabled {
		return uncalibrated(raw)
	}
	if f.source == nil {
		return Absent(ReasonUncalibrated)
	}
	est, ok := f.source.Estimate(claimType, category, raw)
	if !ok || est.TypeSamples < f.minSamples || est.BucketSamples < f.minSamples {
		return Absent(ReasonUncalibrated)
	}

	point := clamp(est.Accuracy)
	margin := f.z * est.StandardError
	interval := Interval{Low: clamp(point - margin), High: clamp(point + margin)}
	basis := fmt.Sprintf("N=%d similar claims, %d%% accurate", est.BucketSamples, int(math.Round(point*100)))
	return calibrated(point, interval, basis)
}

func clamp(f float64) float64 {
	return math.Max(0, math.Min(1, f))
}
