package evidence

import (
	"sync"
	"sync/atomic"
)

const segmentSize = 1024

// Slot states
const (
	slotEmpty uint32 = iota
	slotFilled
	slotVoid
)

type slot struct {
	state atomic.Uint32
	event *Event
}

type segment [segmentSize]slot

// arena is a segmented array of slots indexed by sequence number. Segments
// are allocated on demand and never move, so a slot pointer stays valid.
type arena struct {
	mu       sync.RWMutex
	segments []*segment
}

// slot returns the slot for seq, allocating its segment when create is set.
// Sequence numbers start at 1.
func (a *arena) slot(seq uint64, create bool) *slot {
	if seq == 0 {
		return nil
	}
	idx := seq - 1
	seg := int(idx / segmentSize)

	a.mu.RLock()
	if seg < len(a.segments) {
		s := &a.segments[seg][idx%segmentSize]
		a.mu.RUnlock()
		return s
	}
	a.mu.RUnlock()
	if !create {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for len(a.segments) <= seg {
		a.segments = append(a.segments, new(segment))
	}
	return &a.segments[seg][idx%segmentSize]
}

// fill publishes e into its slot
func (a *arena) fill(e *Event) {
	s := a.slot(e.ID, true)
	s.event = e
	s.state.Store(slotFilled)
}

// void marks seq as permanently unused
func (a *arena) void(seq uint64) {
	a.slot(seq, true).state.Store(slotVoid)
}

// state returns the state of seq's slot
func (a *arena) state(seq uint64) uint32 {
	s := a.slot(seq, false)
	if s == nil {
		return slotEmpty
	}
	return s.state.Load()
}

// get returns the event at seq if its slot is filled
func (a *arena) get(seq uint64) (*Event, bool) {
	s := a.slot(seq, false)
	if s == nil || s.state.Load() != slotFilled {
		return nil, false
	}
	return s.event, true
}
