// Package confidence defines the only representation of confidence that may
// reach a claim consumer. Values are a closed set of states; a bare
// probability never leaves this package.
package confidence

import (
	"encoding/json"
	"fmt"
	"math"
)

// State is the variant tag of a Value
type State string

const (
	StateCalibrated   State = "calibrated"
	StateUncalibrated State = "uncalibrated"
	StateAbsent       State = "absent"
)

// Absence reasons
const (
	ReasonUncalibrated = "uncalibrated"
	ReasonNoSignal     = "no_signal"
)

// Interval is a closed range within [0,1]
type Interval struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Value is calibrated(point, interval, basis), uncalibrated(rawSignal) or
// absent(reason). The zero Value is absent with no reason.
type Value struct {
	state    State
	point    float64
	interval Interval
	basis    string
	raw      float64
	reason   string
}

// Absent returns a value carrying no number at all
func Absent(reason string) Value {
	return Value{state: StateAbsent, reason: reason}
}

func calibrated(point float64, interval Interval, basis string) Value {
	return Value{state: StateCalibrated, point: point, interval: interval, basis: basis}
}

func uncalibrated(raw float64) Value {
	return Value{state: StateUncalibrated, raw: raw}
}

// State returns the variant tag
func (v Value) State() State {
	if v.state == "" {
		return StateAbsent
	}
	return v.state
}

// IsCalibrated reports whether the value is backed by outcome history
func (v Value) IsCalibrated() bool {
	return v.state == StateCalibrated
}

// Calibrated returns the calibrated fields; ok is false for other states.
func (v Value) Calibrated() (point float64, interval Interval, basis string, ok bool) {
	if v.state != StateCalibrated {
		return 0, Interval{}, "", false
	}
	return v.point, v.interval, v.basis, true
}

// RawSignal returns the unvalidated signal of an uncalibrated value
func (v Value) RawSignal() (float64, bool) {
	if v.state != StateUncalibrated {
		return 0, false
	}
	return v.raw, true
}

// Reason returns why an absent value carries no number
func (v Value) Reason() string {
	return v.reason
}

func (v Value) String() string {
	switch v.State() {
	case StateCalibrated:
		return fmt.Sprintf("calibrated(%.2f [%.2f, %.2f], %s)", v.point, v.interval.Low, v.interval.High, v.basis)
	case StateUncalibrated:
		return fmt.Sprintf("uncalibrated(%.2f)", v.raw)
	default:
		return fmt.Sprintf("absent(%s)", v.reason)
	}
}

type valueJSON struct {
	State     State     `json:"state"`
	Point     *float64  `json:"point,omitempty"`
	Interval  *Interval `json:"interval,omitempty"`
	Basis     string    `json:"basis,omitempty"`
	RawSignal *float64  `json:"rawSignal,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// MarshalJSON always produces a tagged object
func (v Value) MarshalJSON() ([]byte, error) {
	out := valueJSON{State: v.State()}
	switch out.State {
	case StateCalibrated:
		p, iv := v.point, v.interval
		out.Point, out.Interval, out.Basis = &p, &iv, v.basis
	case StateUncalibrated:
		r := v.raw
		out.RawSignal = &r
	default:
		out.Reason = v.reason
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a value previously produced by MarshalJSON
func (v *Value) UnmarshalJSON(data []byte) error {
	var in valueJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.State {
	case StateCalibrated:
		if in.Point == nil || in.Interval == nil {
			return fmt.Errorf("calibrated confidence requires point and interval")
		}
		if !inUnit(*in.Point) || !inUnit(in.Interval.Low) || !inUnit(in.Interval.High) || in.Interval.Low > in.Interval.High {
			return fmt.Errorf("calibrated confidence out of range")
		}
		*v = calibrated(*in.Point, *in.Interval, in.Basis)
	case StateUncalibrated:
		if in.RawSignal == nil || !inUnit(*in.RawSignal) {
			return fmt.Errorf("uncalibrated confidence requires a raw signal in [0,1]")
		}
		*v = uncalibrated(*in.RawSignal)
	case StateAbsent, "":
		*v = Absent(in.Reason)
	default:
		return fmt.Errorf("unknown confidence state %q", in.State)
	}
	return nil
}

func inUnit(f float64) bool {
	return !math.IsNaN(f) && f >= 0 && f <= 1
}
