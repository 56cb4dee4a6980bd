package calibration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"librarian/internal/config"
	"librarian/internal/confidence"
	lerrors "librarian/internal/errors"
	"librarian/internal/metrics"
	"librarian/internal/outcomes"
	"librarian/internal/storage"
)

// OutcomeSource supplies the full outcome history
type OutcomeSource interface {
	All(ctx context.Context) ([]*outcomes.Record, error)
}

// Engine recomputes calibration from outcome history and serves the most
// recently published snapshot without blocking.
type Engine struct {
	source  OutcomeSource
	repo    *storage.SnapshotRepository
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics
	factory *confidence.Factory

	current atomic.Pointer[Snapshot]
	dirty   atomic.Bool
	group   singleflight.Group

	now func() time.Time
}

// NewEngine creates an engine. The initial snapshot is empty until Load or
// Recalibrate runs.
func NewEngine(db *storage.DB, source OutcomeSource, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*Engine, error) {
	part, err := NewPartitioner(cfg.Calibration.Partition)
	if err != nil {
		return nil, lerrors.New(lerrors.ConfigInvalid, "invalid calibration partition", err)
	}
	e := &Engine{
		source:  source,
		repo:    storage.NewSnapshotRepository(db),
		opts:    Options{
			Buckets:             cfg.Calibration.BucketCount,
			Partitioner:         part,
			ContradictionWindow: cfg.Contradiction.Window(),
		},
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
	e.factory = confidence.NewFactory(e, cfg.Calibration)
	e.current.Store(newSnapshot(0, time.Time{}, nil))
	e.dirty.Store(true)
	return e, nil
}

// Factory returns the confidence factory backed by this engine
func (e *Engine) Factory() *confidence.Factory {
	return e.factory
}

// Snapshot returns the currently published snapshot
func (e *Engine) Snapshot() *Snapshot {
	return e.current.Load()
}

// MarkDirty notes that outcome history changed since the last run
func (e *Engine) MarkDirty() {
	e.dirty.Store(true)
}

// Dirty reports whether history changed since the last run
func (e *Engine) Dirty() bool {
	return e.dirty.Load()
}

// Estimate implements confidence.Source against the published snapshot
func (e *Engine) Estimate(claimType, category string, raw float64) (confidence.Estimate, bool) {
	curve, ok := e.current.Load().Curve(claimType, category)
	if !ok {
		return confidence.Estimate{}, false
	}
	b, ok := curve.Bucket(raw)
	if !ok {
		return confidence.Estimate{}, false
	}
	return confidence.Estimate{
		Accuracy:      b.Accuracy,
		StandardError: b.StandardError,
		BucketSamples: b.SampleSize,
		TypeSamples:   curve.TotalSamples,
	}, true
}

// Adjust maps a raw signal for a claim type to a confidence value using the
// published curves.
func (e *Engine) Adjust(claimType, category string, s confidence.Signal) confidence.Value {
	return e.factory.Resolve(claimType, category, s)
}

// Recalibrate recomputes all curves from outcome history and publishes a
// new snapshot. Concurrent calls share one run. When the curves are
// unchanged the current snapshot is kept.
func (e *Engine) Recalibrate(ctx context.Context) (*Snapshot, error) {
	v, err, _ := e.group.Do("recalibrate", func() (interface{}, error) {
		return e.recompute(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// RecalibrateIfDirty runs Recalibrate only when outcomes arrived since the
// last run.
func (e *Engine) RecalibrateIfDirty(ctx context.Context) error {
	if !e.dirty.Load() {
		return nil
	}
	_, err := e.Recalibrate(ctx)
	return err
}

func (e *Engine) recompute(ctx context.Context) (*Snapshot, error) {
	start := e.now()
	e.dirty.Store(false)

	records, err := e.source.All(ctx)
	if err != nil {
		e.dirty.Store(true)
		return nil, err
	}
	samples := SamplesFrom(records)
	MarkContradicted(samples, outcomes.Contradicted(records, e.opts.ContradictionWindow))
	curves := Compute(samples, e.opts)

	prev := e.current.Load()
	if Fingerprint(curves) == prev.Fingerprint && prev.Version > 0 {
		e.logger.Debug("Calibration unchanged", "version", prev.Version)
		return prev, nil
	}

	snap := newSnapshot(prev.Version+1, start.UTC(), curves)
	if err := e.persist(ctx, snap); err != nil {
		e.dirty.Store(true)
		return nil, err
	}
	e.current.Store(snap)

	for _, c := range curves {
		e.metrics.CalibrationCurve(c.ClaimType, c.Category, c.ECE, c.MCE)
	}
	e.metrics.SnapshotPublished(snap.Version, e.now().Sub(start).Seconds())
	e.logger.Info("Calibration snapshot published",
		"version", snap.Version,
		"curves", len(curves),
		"samples", len(samples),
		"fingerprint", snap.Fingerprint[:12],
	)
	return snap, nil
}

func (e *Engine) persist(ctx context.Context, snap *Snapshot) error {
	if len(snap.Curves) == 0 {
		return nil
	}
	rows := make([]storage.SnapshotRow, 0, len(snap.Curves))
	for _, c := range snap.Curves {
		data, err := json.Marshal(c)
		if err != nil {
			return lerrors.New(lerrors.InternalError, "failed to encode curve", err)
		}
		rows = append(rows, storage.SnapshotRow{
			Version:     snap.Version,
			ClaimType:   c.ClaimType,
			Category:    c.Category,
			ComputedAt:  snap.ComputedAt,
			Fingerprint: snap.Fingerprint,
			Curve:       string(data),
		})
	}
	return e.repo.Save(ctx, rows)
}

// Load publishes the most recently persisted snapshot, if any
func (e *Engine) Load(ctx context.Context) error {
	rows, err := e.repo.Latest(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	curves := make([]*Curve, 0, len(rows))
	for _, row := range rows {
		var c Curve
		if err := json.Unmarshal([]byte(row.Curve), &c); err != nil {
			return lerrors.New(lerrors.InternalError, fmt.Sprintf("stored curve %s/%s is corrupt", row.ClaimType, row.Category), err)
		}
		curves = append(curves, &c)
	}
	snap := &Snapshot{
		Version:     rows[0].Version,
		ComputedAt:  rows[0].ComputedAt,
		Fingerprint: rows[0].Fingerprint,
		Curves:      curves,
	}
	snap.buildIndex()
	e.current.Store(snap)
	e.logger.Debug("Loaded calibration snapshot", "version", snap.Version, "curves", len(curves))
	return nil
}
