// Package evidence implements the append-only evidence ledger and its
// trace, claim and correlation indexes.
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Event is one immutable evidence record
type Event struct {
	ID             uint64    `json:"id"`
	TraceID        string    `json:"traceId"`
	ProducerID     string    `json:"producerId"`
	Stage          string    `json:"stage"`
	Timestamp      time.Time `json:"timestamp"`
	Payload        []byte    `json:"payload,omitempty"`
	CorrelationIDs []string  `json:"correlationIds,omitempty"`
}

// SourceDigest identifies what an event says independently of when it was
// appended: the same producer, stage and payload always share a digest.
func (e *Event) SourceDigest() string {
	h := sha256.New()
	h.Write([]byte(e.ProducerID))
	h.Write([]byte{0})
	h.Write([]byte(e.Stage))
	h.Write([]byte{0})
	h.Write(e.Payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (e *Event) clone() Event {
	c := *e
	if e.Payload != nil {
		c.Payload = append([]byte(nil), e.Payload...)
	}
	if e.CorrelationIDs != nil {
		c.CorrelationIDs = append([]string(nil), e.CorrelationIDs...)
	}
	return c
}
