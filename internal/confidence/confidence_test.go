package confidence

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarian/internal/config"
	lerrors "librarian/internal/errors"
)

type stubSource map[string]Estimate

func (s stubSource) Estimate(claimType, category string, raw float64) (Estimate, bool) {
	est, ok := s[claimType+"/"+category]
	return est, ok
}

func TestNewSignal(t *testing.T) {
	_, err := NewSignal(1.2)
	assert.Error(t, err)
	_, err = NewSignal(-0.1)
	assert.Error(t, err)

	s, err := NewSignal(0.7)
	require.NoError(t, err)
	raw, ok := s.Raw()
	assert.True(t, ok)
	assert.Equal(t, 0.7, raw)

	_, ok = NoSignal().Raw()
	assert.False(t, ok)
	assert.Nil(t, NoSignal().Ptr())
	assert.Equal(t, s, SignalFromPtr(s.Ptr()))
}

func TestFactory_AbsentBelowMinSamples(t *testing.T) {
	cfg := config.DefaultConfig().Calibration
	src := stubSource{
		"call_graph/": {Accuracy: 0.9, StandardError: 0.05, BucketSamples: 12, TypeSamples: 12},
	}
	f := NewFactory(src, cfg)

	v := f.Resolve("call_graph", "", MustSignal(0.9))
	assert.Equal(t, StateAbsent, v.State())
	assert.Equal(t, ReasonUncalibrated, v.Reason())

	unknown := f.Resolve("never_seen", "", MustSignal(0.9))
	assert.Equal(t, StateAbsent, unknown.State())
	assert.Equal(t, ReasonUncalibrated, unknown.Reason())
}

func TestFactory_Calibrated(t *testing.T) {
	cfg := config.DefaultConfig().Calibration
	src := stubSource{
		"call_graph/": {Accuracy: 0.68, StandardError: 0.04, BucketSamples: 142, TypeSamples: 500},
	}
	f := NewFactory(src, cfg)

	v := f.Resolve("call_graph", "", MustSignal(0.95))
	require.True(t, v.IsCalibrated())
	point, interval, basis, ok := v.Calibrated()
	require.True(t, ok)
	assert.InDelta(t, 0.68, point, 1e-9)
	assert.InDelta(t, 0.68-1.96*0.04, interval.Low, 1e-9)
	assert.InDelta(t, 0.68+1.96*0.04, interval.High, 1e-9)
	assert.Equal(t, "N=142 similar claims, 68% accurate", basis)
}

func TestFactory_IntervalClamped(t *testing.T) {
	cfg := config.DefaultConfig().Calibration
	f := NewFactory(stubSource{"t/": {Accuracy: 0.99, StandardError: 0.2, BucketSamples: 40, TypeSamples: 40}}, cfg)

	_, interval, _, ok := f.Resolve("t", "", MustSignal(0.99)).Calibrated()
	require.True(t, ok)
	assert.Equal(t, 1.0, interval.High)
	assert.GreaterOrEqual(t, interval.Low, 0.0)
}

func TestFactory_NoSignal(t *testing.T) {
	f := NewFactory(stubSource{}, config.DefaultConfig().Calibration)
	v := f.Resolve("t", "", NoSignal())
	assert.Equal(t, StateAbsent, v.State())
	assert.Equal(t, ReasonNoSignal, v.Reason())
}

func TestFactory_DisabledCalibration(t *testing.T) {
	cfg := config.DefaultConfig().Calibration
	cfg.Enabled = false
	f := NewFactory(nil, cfg)

	v := f.Resolve("t", "", MustSignal(0.4))
	assert.Equal(t, StateUncalibrated, v.State())
	raw, ok := v.RawSignal()
	assert.True(t, ok)
	assert.Equal(t, 0.4, raw)
}

func TestValue_JSON(t *testing.T) {
	f := NewFactory(stubSource{"t/": {Accuracy: 0.5, StandardError: 0.1, BucketSamples: 30, TypeSamples: 30}}, config.DefaultConfig().Calibration)
	values := []Value{
		f.Resolve("t", "", MustSignal(0.5)),
		Absent(ReasonUncalibrated),
		uncalibrated(0.3),
	}
	for _, v := range values {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"state":"`+string(v.State())+`"`)

		var back Value
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, v, back)
	}

	var bad Value
	assert.Error(t, json.Unmarshal([]byte(`{"state":"calibrated","point":1.5,"interval":{"low":0,"high":1}}`), &bad))
	assert.Error(t, json.Unmarshal([]byte(`{"state":"certain"}`), &bad))
}

func TestValue_ZeroIsAbsent(t *testing.T) {
	var v Value
	assert.Equal(t, StateAbsent, v.State())
	_, _, _, ok := v.Calibrated()
	assert.False(t, ok)
}

func TestGuard(t *testing.T) {
	type claimOut struct {
		Text       string `json:"text"`
		Confidence Value  `json:"confidence"`
	}

	tests := []struct {
		name    string
		payload interface{}
		wantErr bool
	}{
		{"tagged value", claimOut{Text: "x", Confidence: Absent(ReasonUncalibrated)}, false},
		{"bare confidence", map[string]interface{}{"text": "x", "confidence": 0.9}, true},
		{"nested probability", map[string]interface{}{"claims": []interface{}{map[string]interface{}{"Probability": 0.2}}}, true},
		{"array under key", map[string]interface{}{"likelihood": []float64{0.1}}, true},
		{"string under key", map[string]interface{}{"certainty": "high"}, false},
		{"unrelated number", map[string]interface{}{"count": 3}, false},
		{"raw bytes", []byte(`{"prob": 1}`), true},
		{"number nested under key", map[string]interface{}{"confidence": map[string]interface{}{"value": 0.7}}, true},
		{"deeply nested under key", map[string]interface{}{"confidence": map[string]interface{}{"detail": map[string]interface{}{"p": 0.7}}}, true},
		{"suffix key", map[string]interface{}{"verificationConfidence": 0.8}, true},
		{"suffix key tagged", map[string]interface{}{"claimedConfidence": Absent(ReasonUncalibrated)}, false},
		{"calibrated value", claimOut{Text: "x", Confidence: calibrated(0.7, Interval{Low: 0.6, High: 0.8}, "N=40")}, false},
		{"uncalibrated value", claimOut{Text: "x", Confidence: uncalibrated(0.4)}, false},
		{"tagged with extra field", []byte(`{"confidence":{"state":"calibrated","point":0.7,"score":0.9}}`), true},
		{"unknown state", []byte(`{"confidence":{"state":"certain","point":0.7}}`), true},
		{"ratio is not a confidence", map[string]interface{}{"overconfidenceRatio": 0.5}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Guard(tt.payload)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, lerrors.HasCode(err, lerrors.RawConfidence))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
