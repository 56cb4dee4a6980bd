// Package ledger wires the evidence store, claim registry, outcome
// collector, calibration engine and verifier into one service.
package ledger

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"librarian/internal/calibration"
	"librarian/internal/claims"
	"librarian/internal/confidence"
	"librarian/internal/config"
	"librarian/internal/evidence"
	lerrors "librarian/internal/errors"
	"librarian/internal/metrics"
	"librarian/internal/outcomes"
	"librarian/internal/paths"
	"librarian/internal/scheduler"
	"librarian/internal/slogutil"
	"librarian/internal/storage"
	"librarian/internal/verify"
)

// escalationSweepInterval is how often timed-out escalations are reaped
const escalationSweepInterval = 10 * time.Second

// Options configures Open. Zero values fall back to defaults.
type Options struct {
	Config   *config.Config
	RepoRoot string
	DBPath   string
	Logger   *slog.Logger
	Metrics  *metrics.Metrics

	FalseList *verify.FalseList
	Entailer  verify.Entailer
	Escalator verify.Escalator

	// NoBackground skips the periodic recalibration and sweep loop
	NoBackground bool
}

// Ledger is the evidence ledger and calibration core
type Ledger struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	db        *storage.DB
	evidence  *evidence.Store
	registry  *claims.Registry
	collector *outcomes.Collector
	engine    *calibration.Engine
	verifier  *verify.Verifier
	scheduler *scheduler.Scheduler
}

// Open opens (or creates) the ledger database and starts the background
// workers.
func Open(ctx context.Context, opts Options) (*Ledger, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, lerrors.New(lerrors.ConfigInvalid, "invalid configuration", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	m := opts.Metrics
	if m == nil && cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.Namespace)
	}
	repoRoot := opts.RepoRoot
	if repoRoot == "" {
		repoRoot = cfg.RepoRoot
	}

	dbPath := opts.DBPath
	if dbPath == "" {
		if _, err := paths.EnsureDataDir(repoRoot); err != nil {
			return nil, lerrors.New(lerrors.StorageFault, "cannot create data directory", err)
		}
		dbPath = paths.DatabasePath(repoRoot)
	}

	db, err := storage.Open(dbPath, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	l := &Ledger{cfg: cfg, logger: logger, metrics: m, db: db}

	if err := l.wire(ctx, opts, repoRoot); err != nil {
		_ = db.Close()
		return nil, err
	}

	l.collector.Start()
	if !opts.NoBackground {
		l.scheduler.Start()
	}
	logger.Info("Ledger opened",
		"path", dbPath,
		"watermark", l.evidence.Watermark(),
		"snapshot", l.engine.Snapshot().Version,
	)
	return l, nil
}

func (l *Ledger) wire(ctx context.Context, opts Options, repoRoot string) error {
	var err error
	l.evidence, err = evidence.Open(ctx, l.db, slogutil.Component(l.logger, "evidence"), evidence.Options{Metrics: l.metrics})
	if err != nil {
		return err
	}

	// The collector resolves claims through the ledger, so the registry can
	// be built after the engine it depends on.
	l.collector = outcomes.NewCollector(l.db, l, l.cfg, slogutil.Component(l.logger, "outcomes"), l.metrics)
	l.engine, err = calibration.NewEngine(l.db, l.collector, l.cfg, slogutil.Component(l.logger, "calibration"), l.metrics)
	if err != nil {
		return err
	}
	if err := l.engine.Load(ctx); err != nil {
		return err
	}
	l.registry = claims.NewRegistry(l.db, l.evidence, l.engine.Factory(), l.cfg.Cache, slogutil.Component(l.logger, "claims"), l.metrics)
	l.collector.OnRecord(func(*outcomes.Record) { l.engine.MarkDirty() })

	l.verifier, err = verify.New(l.evidence, l.collector, l.cfg.Verification, repoRoot, slogutil.Component(l.logger, "verify"), l.metrics, verify.Options{
		FalseList: opts.FalseList,
		Entailer:  opts.Entailer,
		Escalator: opts.Escalator,
	})
	if err != nil {
		return err
	}

	l.scheduler = scheduler.New(slogutil.Component(l.logger, "scheduler"), scheduler.DefaultConfig())
	if expr := l.cfg.Calibration.RecomputeExpression(); expr != "" {
		if err := l.scheduler.Add(scheduler.TaskRecalibrate, expr, l.engine.RecalibrateIfDirty); err != nil {
			return lerrors.New(lerrors.ConfigInvalid, "invalid calibration.recomputeSchedule", err)
		}
		// With calibration off every confidence is absent, so periodic
		// recomputes are parked until a manual run.
		if !l.cfg.Calibration.Enabled {
			if err := l.scheduler.SetEnabled(scheduler.TaskRecalibrate, false); err != nil {
				return err
			}
		}
	}
	return l.scheduler.Add(scheduler.TaskEscalationSweep, scheduler.Every(escalationSweepInterval), func(context.Context) error {
		l.verifier.Sweep(time.Now())
		return nil
	})
}

// Close stops background work and closes the database
func (l *Ledger) Close() error {
	if err := l.scheduler.Stop(5 * time.Second); err != nil {
		l.logger.Warn("Scheduler did not stop cleanly", "error", err)
	}
	if err := l.collector.Stop(10 * time.Second); err != nil {
		l.logger.Warn("Outcome collector did not stop cleanly", "error", err)
	}
	return l.db.Close()
}

// Config returns the effective configuration
func (l *Ledger) Config() *config.Config {
	return l.cfg
}

// Metrics returns the collectors, or nil when metrics are disabled
func (l *Ledger) Metrics() *metrics.Metrics {
	return l.metrics
}

// Append records an evidence event and returns its sequence number
func (l *Ledger) Append(ctx context.Context, e evidence.Event) (uint64, error) {
	return l.evidence.Append(ctx, e)
}

// Watermark returns the highest visible sequence number
func (l *Ledger) Watermark() uint64 {
	return l.evidence.Watermark()
}

// QueryByTrace replays a trace as it was when the watermark was asOf
// (0 means now).
func (l *Ledger) QueryByTrace(traceID string, asOf uint64) []evidence.Event {
	return l.evidence.QueryByTrace(traceID, asOf)
}

// Correlated returns events carrying a correlation id
func (l *Ledger) Correlated(correlationID string, asOf uint64) []evidence.Event {
	return l.evidence.Correlated(correlationID, asOf)
}

// Traces lists every trace id with visible events
func (l *Ledger) Traces() []string {
	return l.evidence.Traces()
}

// QueryByClaim returns the evidence a claim cites
func (l *Ledger) QueryByClaim(ctx context.Context, claimID string) ([]evidence.Event, error) {
	if events := l.evidence.QueryByClaim(claimID); len(events) > 0 {
		return events, nil
	}
	c, err := l.registry.Lookup(ctx, claimID)
	if err != nil {
		return nil, err
	}
	// Cited events that no longer resolve are simply absent.
	out := make([]evidence.Event, 0, len(c.EvidenceIDs))
	for _, id := range c.EvidenceIDs {
		if ev, ok := l.evidence.Get(id); ok {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Register mints a claim over existing evidence
func (l *Ledger) Register(ctx context.Context, req claims.RegisterRequest) (*claims.Claim, error) {
	return l.registry.Register(ctx, req)
}

// Lookup returns a registered claim
func (l *Ledger) Lookup(ctx context.Context, claimID string) (*claims.Claim, error) {
	return l.registry.Lookup(ctx, claimID)
}

// Siblings lists claims sharing a content key
func (l *Ledger) Siblings(ctx context.Context, contentKey string) ([]*claims.Claim, error) {
	return l.registry.Siblings(ctx, contentKey)
}

// Record stores an outcome and waits for it to be persisted
func (l *Ledger) Record(ctx context.Context, req outcomes.RecordRequest) (*outcomes.Record, error) {
	return l.collector.Record(ctx, req)
}

// Submit queues an outcome without waiting
func (l *Ledger) Submit(req outcomes.RecordRequest) error {
	return l.collector.Submit(req)
}

// Current returns the latest verdict recorded for a claim, or nil
func (l *Ledger) Current(ctx context.Context, claimID string) (*outcomes.Record, error) {
	return l.collector.Current(ctx, claimID)
}

// History returns every outcome recorded for a claim, oldest first
func (l *Ledger) History(ctx context.Context, claimID string) ([]*outcomes.Record, error) {
	return l.collector.History(ctx, claimID)
}

// ContradictionCheck reports disagreeing verdicts for a claim
func (l *Ledger) ContradictionCheck(ctx context.Context, claimID string) (*outcomes.ContradictionReport, error) {
	return l.collector.ContradictionCheck(ctx, claimID)
}

// Recalibrate recomputes calibration now and returns the published snapshot
func (l *Ledger) Recalibrate(ctx context.Context) (*calibration.Snapshot, error) {
	return l.engine.Recalibrate(ctx)
}

// Snapshot returns the current calibration snapshot without waiting
func (l *Ledger) Snapshot() *calibration.Snapshot {
	return l.engine.Snapshot()
}

// Adjust maps a raw signal to a confidence value for a claim type
func (l *Ledger) Adjust(claimType, category string, s confidence.Signal) confidence.Value {
	return l.engine.Adjust(claimType, category, s)
}

// Verify runs the verification tiers against a registered claim
func (l *Ledger) Verify(ctx context.Context, claimID string) (*verify.Result, error) {
	c, err := l.registry.Lookup(ctx, claimID)
	if err != nil {
		return nil, err
	}
	return l.verifier.Verify(ctx, c)
}

// PendingEscalations lists escalations awaiting a result
func (l *Ledger) PendingEscalations() []verify.Escalation {
	return l.verifier.Pending()
}

// Tasks lists the background tasks and their last runs
func (l *Ledger) Tasks() []scheduler.Task {
	return l.scheduler.List()
}

// RunTask runs a background task immediately, whether or not it is enabled
func (l *Ledger) RunTask(name string) (scheduler.Task, error) {
	if _, ok := l.scheduler.Get(name); !ok {
		return scheduler.Task{}, lerrors.Newf(lerrors.InternalError, "unknown task %q", name)
	}
	runErr := l.scheduler.RunNow(name)
	task, _ := l.scheduler.Get(name)
	return task, runErr
}

// Render encodes a claim-facing response, refusing any bare numeric
// confidence that slipped past the confidence types.
func Render(v interface{}) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, lerrors.New(lerrors.InternalError, "failed to encode response", err)
	}
	if err := confidence.Guard(data); err != nil {
		return nil, err
	}
	return data, nil
}

// Stats summarizes every component
type Stats struct {
	Database           string           `json:"database"`
	Evidence           evidence.Stats   `json:"evidence"`
	Outcomes           outcomes.Stats   `json:"outcomes"`
	SnapshotVersion    uint64           `json:"snapshotVersion"`
	SnapshotCurves     int              `json:"snapshotCurves"`
	CalibrationDirty   bool             `json:"calibrationDirty"`
	PendingEscalations int              `json:"pendingEscalations"`
	Tasks              []scheduler.Task `json:"tasks"`
}

// Stats returns current component counters
func (l *Ledger) Stats() Stats {
	snap := l.engine.Snapshot()
	return Stats{
		Database:           l.db.Path(),
		Evidence:           l.evidence.Stats(),
		Outcomes:           l.collector.Stats(),
		SnapshotVersion:    snap.Version,
		SnapshotCurves:     len(snap.Curves),
		CalibrationDirty:   l.engine.Dirty(),
		PendingEscalations: len(l.verifier.Pending()),
		Tasks:              l.scheduler.List(),
	}
}
