package confidence

import "fmt"

// Signal is the raw confidence a producer claims for a statement. It is an
// input to the Factory and is never shown to claim consumers.
type Signal struct {
	raw float64
	set bool
}

// NewSignal validates raw as a probability
func NewSignal(raw float64) (Signal, error) {
	if !inUnit(raw) {
		return Signal{}, fmt.Errorf("signal %v outside [0,1]", raw)
	}
	return Signal{raw: raw, set: true}, nil
}

// MustSignal is NewSignal that panics on invalid input
func MustSignal(raw float64) Signal {
	s, err := NewSignal(raw)
	if err != nil {
		panic(err)
	}
	return s
}

// NoSignal is the signal of a producer that claimed nothing
func NoSignal() Signal {
	return Signal{}
}

// Raw returns the claimed probability
func (s Signal) Raw() (float64, bool) {
	return s.raw, s.set
}

// Ptr returns the raw value as a pointer, nil when unset
func (s Signal) Ptr() *float64 {
	if !s.set {
		return nil
	}
	v := s.raw
	return &v
}

// SignalFromPtr is the inverse of Ptr
func SignalFromPtr(p *float64) Signal {
	if p == nil || !inUnit(*p) {
		return NoSignal()
	}
	return Signal{raw: *p, set: true}
}
