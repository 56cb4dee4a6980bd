package evidence

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"librarian/internal/metrics"
	"librarian/internal/storage"
)

// DefaultBlockSize is how many sequence numbers are reserved per write to
// the sequence row.
const DefaultBlockSize = 64

// Store is the append-only evidence ledger. Appends from any number of
// goroutines serialize only on the sequence counter; each writer persists
// and publishes its own slot.
type Store struct {
	repo    *storage.EvidenceRepository
	logger  *slog.Logger
	metrics *metrics.Metrics

	arena     arena
	counter   atomic.Uint64 // last sequence number handed out
	reserved  atomic.Uint64 // highest persisted reservation
	reserveMu sync.Mutex
	blockSize uint64

	wmMu      sync.Mutex
	watermark atomic.Uint64

	traces       *index
	correlations *index

	claimsMu sync.RWMutex
	claims   map[string][]uint64

	now func() time.Time
}

// Options configures a Store
type Options struct {
	BlockSize uint64
	Metrics   *metrics.Metrics
}

// Open loads the persisted ledger and returns a store ready for appends.
func Open(ctx context.Context, db *storage.DB, logger *slog.Logger, opts Options) (*Store, error) {
	s := &Store{
		repo:         storage.NewEvidenceRepository(db),
		logger:       logger,
		metrics:      opts.Metrics,
		blockSize:    opts.BlockSize,
		traces:       newIndex(),
		correlations: newIndex(),
		claims:       make(map[string][]uint64),
		now:          time.Now,
	}
	if s.blockSize == 0 {
		s.blockSize = DefaultBlockSize
	}

	reserved, err := s.repo.ReclaimTail(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.LoadAll(ctx)
	if err != nil {
		return nil, err
	}

	for i := range rows {
		row := &rows[i]
		e := &Event{
			ID:             row.Seq,
			TraceID:        row.TraceID,
			ProducerID:     row.ProducerID,
			Stage:          row.Stage,
			Timestamp:      row.Timestamp,
			Payload:        row.Payload,
			CorrelationIDs: row.CorrelationIDs,
		}
		s.indexEvent(e)
		s.arena.fill(e)
		if row.Seq > reserved {
			reserved = row.Seq
		}
	}
	// Gaps below the highest stored number are appends that failed; they
	// stay unused.
	for seq := uint64(1); seq <= reserved; seq++ {
		if s.arena.state(seq) == slotEmpty {
			s.arena.void(seq)
		}
	}
	s.counter.Store(reserved)
	s.reserved.Store(reserved)
	s.advance()

	links, err := storage.NewClaimRepository(db).Links(ctx)
	if err != nil {
		return nil, err
	}
	for claimID, ids := range links {
		s.claims[claimID] = ids
	}

	logger.Debug("Evidence store opened",
		"events", len(rows),
		"watermark", s.Watermark(),
		"claims", len(links),
	)
	return s, nil
}

// Append stores e and returns its sequence number. It never rejects an
// event for its content; the only failure is a storage fault, which voids
// the reserved number.
func (s *Store) Append(ctx context.Context, e Event) (uint64, error) {
	seq := s.counter.Add(1)

	if err := s.ensureReserved(ctx, seq); err != nil {
		s.fail(seq, err)
		return 0, err
	}

	ev := e.clone()
	ev.ID = seq
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}
	ev.Timestamp = ev.Timestamp.UTC()

	row := &storage.EvidenceRow{
		Seq:            seq,
		TraceID:        ev.TraceID,
		ProducerID:     ev.ProducerID,
		Stage:          ev.Stage,
		Timestamp:      ev.Timestamp,
		Payload:        ev.Payload,
		CorrelationIDs: ev.CorrelationIDs,
		SourceDigest:   ev.SourceDigest(),
		AppendedAt:     s.now().UTC(),
	}
	if err := s.repo.Insert(ctx, row); err != nil {
		s.fail(seq, err)
		return 0, err
	}

	// Index before publishing: readers filter by watermark, so entries are
	// invisible until the slot is filled and the watermark passes it.
	s.indexEvent(&ev)
	s.arena.fill(&ev)
	s.advance()

	s.metrics.EvidenceAppended(ev.Stage)
	s.logger.Debug("Evidence appended",
		"seq", seq,
		"trace", ev.TraceID,
		"producer", ev.ProducerID,
		"stage", ev.Stage,
	)
	return seq, nil
}

func (s *Store) fail(seq uint64, err error) {
	s.arena.void(seq)
	s.advance()
	s.metrics.EvidenceAppendFailed()
	s.logger.Error("Evidence append failed",
		"seq", seq,
		"error", err.Error(),
	)
}

// ensureReserved makes sure seq is covered by a persisted reservation
func (s *Store) ensureReserved(ctx context.Context, seq uint64) error {
	if seq <= s.reserved.Load() {
		return nil
	}
	s.reserveMu.Lock()
	defer s.reserveMu.Unlock()
	for seq > s.reserved.Load() {
		first, err := s.repo.ReserveBlock(ctx, s.blockSize)
		if err != nil {
			return err
		}
		s.reserved.Store(first + s.blockSize - 1)
	}
	return nil
}

// advance moves the watermark over the contiguous prefix of settled slots
func (s *Store) advance() {
	s.wmMu.Lock()
	defer s.wmMu.Unlock()
	w := s.watermark.Load()
	for s.arena.state(w+1) != slotEmpty {
		w++
	}
	s.watermark.Store(w)
	s.metrics.SetWatermark(w)
}

func (s *Store) indexEvent(e *Event) {
	s.traces.add(e.TraceID, e.ID)
	for _, cid := range e.CorrelationIDs {
		s.correlations.add(cid, e.ID)
	}
}

// Watermark returns the highest sequence number visible to readers. Every
// number at or below it is either a visible event or permanently void.
func (s *Store) Watermark() uint64 {
	return s.watermark.Load()
}

func (s *Store) limit(asOf uint64) uint64 {
	w := s.watermark.Load()
	if asOf != 0 && asOf < w {
		return asOf
	}
	return w
}

func (s *Store) collect(ids []uint64) []Event {
	out := make([]Event, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.arena.get(id); ok {
			out = append(out, e.clone())
		}
	}
	return out
}

// QueryByTrace returns the trace's events in sequence order as they were
// visible when the watermark stood at asOf. asOf == 0 means now.
func (s *Store) QueryByTrace(traceID string, asOf uint64) []Event {
	return s.collect(s.traces.upTo(traceID, s.limit(asOf)))
}

// Correlated returns events carrying correlationID, as of asOf
func (s *Store) Correlated(correlationID string, asOf uint64) []Event {
	return s.collect(s.correlations.upTo(correlationID, s.limit(asOf)))
}

// Get returns a visible event
func (s *Store) Get(id uint64) (Event, bool) {
	if id == 0 || id > s.watermark.Load() {
		return Event{}, false
	}
	e, ok := s.arena.get(id)
	if !ok {
		return Event{}, false
	}
	return e.clone(), true
}

// Exists reports whether id names a visible event
func (s *Store) Exists(id uint64) bool {
	_, ok := s.Get(id)
	return ok
}

// LinkClaim records the evidence a claim cites. A claim's evidence is fixed
// at creation, so later links for the same claim are ignored.
func (s *Store) LinkClaim(claimID string, ids []uint64) {
	s.claimsMu.Lock()
	defer s.claimsMu.Unlock()
	if _, ok := s.claims[claimID]; ok {
		return
	}
	s.claims[claimID] = append([]uint64(nil), ids...)
}

// QueryByClaim returns the events a claim cites, in citation order.
// Citations that never resolved to an event are skipped.
func (s *Store) QueryByClaim(claimID string) []Event {
	s.claimsMu.RLock()
	ids := s.claims[claimID]
	s.claimsMu.RUnlock()

	limit := s.watermark.Load()
	visible := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if id <= limit {
			visible = append(visible, id)
		}
	}
	return s.collect(visible)
}

// Traces lists every trace id with at least one event
func (s *Store) Traces() []string {
	return s.traces.keysList()
}

// Stats summarizes the store
type Stats struct {
	Watermark uint64 `json:"watermark"`
	Reserved  uint64 `json:"reserved"`
	Traces    int    `json:"traces"`
	Claims    int    `json:"claims"`
}

// Stats returns current counters
func (s *Store) Stats() Stats {
	s.claimsMu.RLock()
	claims := len(s.claims)
	s.claimsMu.RUnlock()
	return Stats{
		Watermark: s.Watermark(),
		Reserved:  s.reserved.Load(),
		Traces:    len(s.traces.keysList()),
		Claims:    claims,
	}
}
