package outcomes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"librarian/internal/claims"
	"librarian/internal/config"
	"librarian/internal/confidence"
	lerrors "librarian/internal/errors"
	"librarian/internal/metrics"
	"librarian/internal/storage"
)

// ClaimSource resolves the claims outcomes refer to
type ClaimSource interface {
	Lookup(ctx context.Context, id string) (*claims.Claim, error)
	Siblings(ctx context.Context, contentKey string) ([]*claims.Claim, error)
}

type envelope struct {
	ctx   context.Context
	req   RecordRequest
	reply chan result // nil for fire-and-forget submissions
}

type result struct {
	rec *Record
	err error
}

// Collector accepts outcomes over a buffered channel and persists them from
// a pool of workers.
type Collector struct {
	repo    *storage.OutcomeRepository
	claims  ClaimSource
	logger  *slog.Logger
	metrics *metrics.Metrics
	window  time.Duration

	queue       chan *envelope
	queueSize   int
	workerCount int

	// closedMu guards closed. Enqueues hold the read lock so Stop cannot
	// close done while a send is in flight.
	closedMu sync.RWMutex
	closed   bool
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	listenersMu sync.RWMutex
	listeners   []func(*Record)

	processedCount atomic.Int64
	failedCount    atomic.Int64

	now func() time.Time
}

// NewCollector creates a collector. Call Start before recording.
func NewCollector(db *storage.DB, src ClaimSource, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Collector {
	queueSize := cfg.Outcomes.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	workers := cfg.Outcomes.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Collector{
		repo:        storage.NewOutcomeRepository(db),
		claims:      src,
		logger:      logger,
		metrics:     m,
		window:      cfg.Contradiction.Window(),
		queue:       make(chan *envelope, queueSize),
		queueSize:   queueSize,
		workerCount: workers,
		done:        make(chan struct{}),
		now:         time.Now,
	}
}

// OnRecord registers fn to be called after each record is persisted
func (c *Collector) OnRecord(fn func(*Record)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Start launches the workers
func (c *Collector) Start() {
	c.logger.Info("Starting outcome collector",
		"workers", c.workerCount,
		"queueSize", c.queueSize,
	)
	for i := 0; i < c.workerCount; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}
}

// Stop drains queued outcomes and stops the workers
func (c *Collector) Stop(timeout time.Duration) error {
	c.stopOnce.Do(func() {
		c.logger.Info("Stopping outcome collector")
		c.closedMu.Lock()
		c.closed = true
		close(c.done)
		c.closedMu.Unlock()
	})

	finished := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		c.logger.Info("Outcome collector stopped cleanly")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("outcome collector shutdown timed out after %v", timeout)
	}
}

// Record persists an outcome and returns the stored record. Unknown claim
// ids are accepted and stored as orphans.
func (c *Collector) Record(ctx context.Context, req RecordRequest) (*Record, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	env := &envelope{ctx: context.WithoutCancel(ctx), req: req, reply: make(chan result, 1)}
	if err := c.enqueue(ctx, env); err != nil {
		return nil, err
	}

	// Once queued the envelope is processed even if the caller gives up.
	select {
	case res := <-env.reply:
		return res.rec, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Submit queues an outcome without waiting for it to be stored
func (c *Collector) Submit(req RecordRequest) error {
	if err := req.validate(); err != nil {
		return err
	}
	return c.enqueue(context.Background(), &envelope{ctx: context.Background(), req: req})
}

// enqueue hands env to the workers. Once Stop has begun nothing more is
// accepted, so every queued envelope is seen by the drain.
func (c *Collector) enqueue(ctx context.Context, env *envelope) error {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()
	if c.closed {
		return errShuttingDown()
	}
	select {
	case c.queue <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func errShuttingDown() error {
	return lerrors.New(lerrors.ShuttingDown, "outcome collector is shutting down", nil)
}

func (c *Collector) worker(id int) {
	defer c.wg.Done()
	c.logger.Debug("Outcome worker started", "workerId", id)

	for {
		select {
		case env := <-c.queue:
			c.handle(env)
		case <-c.done:
			// Drain what is already queued so late results are not lost.
			for {
				select {
				case env := <-c.queue:
					c.handle(env)
				default:
					c.logger.Debug("Outcome worker stopping", "workerId", id)
					return
				}
			}
		}
	}
}

func (c *Collector) handle(env *envelope) {
	rec, err := c.persist(env.ctx, env.req)
	if err != nil {
		c.failedCount.Add(1)
		c.logger.Error("Failed to record outcome",
			"claim", env.req.ClaimID,
			"error", err.Error(),
		)
	} else {
		c.processedCount.Add(1)
		c.notify(rec)
	}
	if env.reply != nil {
		env.reply <- result{rec: rec, err: err}
	}
}

func (c *Collector) persist(ctx context.Context, req RecordRequest) (*Record, error) {
	rec := &Record{
		ID:                     uuid.New().String(),
		ClaimID:                req.ClaimID,
		Outcome:                req.Outcome,
		Method:                 req.Method,
		EvidenceText:           req.EvidenceText,
		Timestamp:              req.Timestamp,
		VerifierID:             req.VerifierID,
		VerificationConfidence: req.VerificationConfidence,
		Flags:                  append([]Flag(nil), req.Flags...),
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = c.now()
	}
	rec.Timestamp = rec.Timestamp.UTC()

	claim, err := c.claims.Lookup(ctx, req.ClaimID)
	switch {
	case err == nil:
		rec.ClaimType = claim.Type
		rec.Category = claim.Category
		rec.ClaimedSignal = claim.Signal.Ptr()
		rec.ClaimedConfidence = claim.Confidence
	case lerrors.HasCode(err, lerrors.ClaimNotFound):
		rec.Orphan = true
		rec.ClaimType = req.ClaimType
		rec.Category = req.Category
		rec.ClaimedSignal = req.Signal.Ptr()
		rec.ClaimedConfidence = confidence.Absent(confidence.ReasonUncalibrated)
	default:
		return nil, err
	}

	row, err := toRow(rec)
	if err != nil {
		return nil, err
	}
	if err := c.repo.Insert(ctx, row); err != nil {
		return nil, err
	}

	c.metrics.OutcomeRecorded(string(rec.Outcome), string(rec.Method), rec.Orphan)
	c.logger.Debug("Outcome recorded",
		"record", rec.ID,
		"claim", rec.ClaimID,
		"outcome", string(rec.Outcome),
		"method", string(rec.Method),
		"orphan", rec.Orphan,
	)
	return rec, nil
}

func (c *Collector) notify(rec *Record) {
	c.listenersMu.RLock()
	defer c.listenersMu.RUnlock()
	for _, fn := range c.listeners {
		fn(rec)
	}
}

// History returns every record for a claim, oldest first
func (c *Collector) History(ctx context.Context, claimID string) ([]*Record, error) {
	rows, err := c.repo.ByClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	return fromRows(rows)
}

// Current returns the latest record for a claim, or nil when none exists
func (c *Collector) Current(ctx context.Context, claimID string) (*Record, error) {
	history, err := c.History(ctx, claimID)
	if err != nil || len(history) == 0 {
		return nil, err
	}
	return history[len(history)-1], nil
}

// All returns the complete outcome history ordered by timestamp, with each
// record's content key resolved from its claim. Orphans whose claim has
// since been registered take the claim's type, category and signal where
// the record itself lacks them.
func (c *Collector) All(ctx context.Context) ([]*Record, error) {
	rows, err := c.repo.All(ctx)
	if err != nil {
		return nil, err
	}
	records, err := fromRows(rows)
	if err != nil {
		return nil, err
	}
	if err := c.resolveClaims(ctx, records); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *Collector) resolveClaims(ctx context.Context, records []*Record) error {
	resolved := make(map[string]*claims.Claim)
	for _, rec := range records {
		claim, seen := resolved[rec.ClaimID]
		if !seen {
			var err error
			claim, err = c.claims.Lookup(ctx, rec.ClaimID)
			switch {
			case err == nil:
			case lerrors.HasCode(err, lerrors.ClaimNotFound):
				claim = nil
			default:
				return err
			}
			resolved[rec.ClaimID] = claim
		}
		if claim == nil {
			continue
		}
		rec.ContentKey = claim.ContentKey
		if !rec.Orphan {
			continue
		}
		if rec.ClaimType == "" {
			rec.ClaimType = claim.Type
		}
		if rec.Category == "" {
			rec.Category = claim.Category
		}
		if rec.ClaimedSignal == nil {
			rec.ClaimedSignal = claim.Signal.Ptr()
		}
	}
	return nil
}

// Stats summarizes collector activity
type Stats struct {
	QueueLength   int   `json:"queueLength"`
	QueueCapacity int   `json:"queueCapacity"`
	Workers       int   `json:"workers"`
	Processed     int64 `json:"processedTotal"`
	Failed        int64 `json:"failedTotal"`
}

// Stats returns collector statistics
func (c *Collector) Stats() Stats {
	return Stats{
		QueueLength:   len(c.queue),
		QueueCapacity: c.queueSize,
		Workers:       c.workerCount,
		Processed:     c.processedCount.Load(),
		Failed:        c.failedCount.Load(),
	}
}

func toRow(rec *Record) (*storage.OutcomeRow, error) {
	claimed, err := json.Marshal(rec.ClaimedConfidence)
	if err != nil {
		return nil, lerrors.New(lerrors.InternalError, "failed to encode claimed confidence", err)
	}
	flags := make([]string, len(rec.Flags))
	for i, f := range rec.Flags {
		flags[i] = string(f)
	}
	sort.Strings(flags)
	return &storage.OutcomeRow{
		ID:                     rec.ID,
		ClaimID:                rec.ClaimID,
		ClaimType:              rec.ClaimType,
		Category:               rec.Category,
		ClaimedSignal:          rec.ClaimedSignal,
		ClaimedConfidence:      string(claimed),
		Outcome:                string(rec.Outcome),
		Method:                 string(rec.Method),
		EvidenceText:           rec.EvidenceText,
		Timestamp:              rec.Timestamp,
		VerifierID:             rec.VerifierID,
		VerificationConfidence: rec.VerificationConfidence,
		Orphan:                 rec.Orphan,
		Flags:                  flags,
	}, nil
}

func fromRows(rows []storage.OutcomeRow) ([]*Record, error) {
	out := make([]*Record, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		var claimed confidence.Value
		if err := json.Unmarshal([]byte(row.ClaimedConfidence), &claimed); err != nil {
			return nil, lerrors.New(lerrors.InternalError, "stored claimed confidence is corrupt", err)
		}
		rec := &Record{
			ID:                     row.ID,
			ClaimID:                row.ClaimID,
			ClaimType:              row.ClaimType,
			Category:               row.Category,
			ClaimedSignal:          row.ClaimedSignal,
			ClaimedConfidence:      claimed,
			Outcome:                OutcomeType(row.Outcome),
			Method:                 Method(row.Method),
			EvidenceText:           row.EvidenceText,
			Timestamp:              row.Timestamp,
			VerifierID:             row.VerifierID,
			VerificationConfidence: row.VerificationConfidence,
			Orphan:                 row.Orphan,
		}
		for _, f := range row.Flags {
			rec.Flags = append(rec.Flags, Flag(f))
		}
		out = append(out, rec)
	}
	return out, nil
}
