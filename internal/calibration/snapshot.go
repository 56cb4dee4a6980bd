package calibration

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Snapshot is an immutable set of curves. Readers keep whichever snapshot
// they loaded; publishing a new one never affects them.
type Snapshot struct {
	Version     uint64    `json:"version"`
	ComputedAt  time.Time `json:"computedAt"`
	Fingerprint string    `json:"fingerprint"`
	Curves      []*Curve  `json:"curves"`

	index map[Key]*Curve
}

func newSnapshot(version uint64, at time.Time, curves []*Curve) *Snapshot {
	s := &Snapshot{
		Version:     version,
		ComputedAt:  at,
		Fingerprint: Fingerprint(curves),
		Curves:      curves,
	}
	s.buildIndex()
	return s
}

func (s *Snapshot) buildIndex() {
	s.index = make(map[Key]*Curve, len(s.Curves))
	for _, c := range s.Curves {
		s.index[c.Key] = c
	}
}

// Curve returns the curve for claimType and category, falling back to the
// claim type's overall curve when the category has none.
func (s *Snapshot) Curve(claimType, category string) (*Curve, bool) {
	if s == nil {
		return nil, false
	}
	if c, ok := s.index[Key{ClaimType: claimType, Category: category}]; ok {
		return c, true
	}
	if category != "" {
		c, ok := s.index[Key{ClaimType: claimType}]
		return c, ok
	}
	return nil, false
}

// Fingerprint hashes curve contents; version and time are excluded so the
// same history always fingerprints the same.
func Fingerprint(curves []*Curve) string {
	data, _ := json.Marshal(curves)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
