// Package claims assigns content-derived identities to claims and links
// each claim to the evidence it cites.
package claims

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"librarian/internal/config"
	"librarian/internal/confidence"
	lerrors "librarian/internal/errors"
	"librarian/internal/evidence"
	"librarian/internal/metrics"
	"librarian/internal/storage"
)

// Claim is an immutable statement backed by evidence
type Claim struct {
	ID          string            `json:"id"`
	ContentKey  string            `json:"contentKey"`
	Text        string            `json:"text"`
	Type        string            `json:"type"`
	Category    string            `json:"category,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	EvidenceIDs []uint64          `json:"evidenceIds"`
	Signal      confidence.Signal `json:"-"`
	Confidence  confidence.Value  `json:"confidence"`
}

// RegisterRequest describes a claim to mint
type RegisterRequest struct {
	Text        string
	Type        string
	Category    string
	EvidenceIDs []uint64
	Signal      confidence.Signal
}

// EvidenceSource resolves cited events and records citations
type EvidenceSource interface {
	Get(id uint64) (evidence.Event, bool)
	LinkClaim(claimID string, ids []uint64)
}

// Resolver turns a raw signal into a confidence value
type Resolver interface {
	Resolve(claimType, category string, s confidence.Signal) confidence.Value
}

// Registry mints and looks up claims
type Registry struct {
	repo     *storage.ClaimRepository
	evidence EvidenceSource
	resolver Resolver
	cache    *gocache.Cache
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewRegistry creates a registry over db
func NewRegistry(db *storage.DB, ev EvidenceSource, resolver Resolver, cacheCfg config.CacheConfig, logger *slog.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		repo:     storage.NewClaimRepository(db),
		evidence: ev,
		resolver: resolver,
		cache:    gocache.New(cacheCfg.ClaimTTL(), cacheCfg.CleanupInterval()),
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// Register mints a claim, or returns the stored claim when the same text,
// type and evidence sources were registered before.
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (*Claim, error) {
	ids := dedupe(req.EvidenceIDs)
	if len(ids) == 0 {
		return nil, lerrors.New(lerrors.EvidenceMissing, "claim registration requires at least one evidence id", nil)
	}
	if strings.TrimSpace(req.Text) == "" || strings.TrimSpace(req.Type) == "" {
		return nil, lerrors.Newf(lerrors.InvalidClaim, "claim text and type are required")
	}

	id := ComputeID(req.Text, req.Type, r.sources(ids))
	if c, ok := r.cached(id); ok {
		r.metrics.ClaimRegistered(false)
		return c, nil
	}

	value := confidence.Absent(confidence.ReasonUncalibrated)
	if r.resolver != nil {
		value = r.resolver.Resolve(normalizeType(req.Type), req.Category, req.Signal)
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, lerrors.New(lerrors.InternalError, "failed to encode confidence", err)
	}

	claim := &Claim{
		ID:          id,
		ContentKey:  ContentKey(req.Text, req.Type),
		Text:        req.Text,
		Type:        normalizeType(req.Type),
		Category:    req.Category,
		CreatedAt:   r.now().UTC(),
		EvidenceIDs: ids,
		Signal:      req.Signal,
		Confidence:  value,
	}

	inserted, err := r.repo.InsertIfAbsent(ctx, &storage.ClaimRow{
		ID:          claim.ID,
		ContentKey:  claim.ContentKey,
		Text:        claim.Text,
		ClaimType:   claim.Type,
		Category:    claim.Category,
		CreatedAt:   claim.CreatedAt,
		Signal:      req.Signal.Ptr(),
		Confidence:  string(encoded),
		EvidenceIDs: ids,
	})
	if err != nil {
		return nil, err
	}
	r.metrics.ClaimRegistered(inserted)

	if !inserted {
		stored, err := r.load(ctx, id)
		if err != nil {
			return nil, err
		}
		r.logger.Debug("Claim already registered", "claim", id)
		return stored, nil
	}

	r.evidence.LinkClaim(claim.ID, claim.EvidenceIDs)
	r.cache.SetDefault(claim.ID, claim)
	r.logger.Debug("Claim registered",
		"claim", claim.ID,
		"type", claim.Type,
		"evidence", len(claim.EvidenceIDs),
		"confidence", string(claim.Confidence.State()),
	)
	return copyClaim(claim), nil
}

// Lookup returns the claim with the given id
func (r *Registry) Lookup(ctx context.Context, id string) (*Claim, error) {
	if c, ok := r.cached(id); ok {
		return c, nil
	}
	return r.load(ctx, id)
}

// Exists reports whether id names a registered claim
func (r *Registry) Exists(ctx context.Context, id string) (bool, error) {
	_, err := r.Lookup(ctx, id)
	if lerrors.HasCode(err, lerrors.ClaimNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Siblings returns every claim sharing contentKey, oldest first
func (r *Registry) Siblings(ctx context.Context, contentKey string) ([]*Claim, error) {
	rows, err := r.repo.ByContentKey(ctx, contentKey)
	if err != nil {
		return nil, err
	}
	out := make([]*Claim, 0, len(rows))
	for i := range rows {
		c, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *Registry) load(ctx context.Context, id string) (*Claim, error) {
	row, err := r.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, lerrors.Newf(lerrors.ClaimNotFound, "no claim %s", id)
	}
	c, err := fromRow(row)
	if err != nil {
		return nil, err
	}
	r.cache.SetDefault(id, c)
	return copyClaim(c), nil
}

func (r *Registry) cached(id string) (*Claim, bool) {
	v, ok := r.cache.Get(id)
	if !ok {
		return nil, false
	}
	return copyClaim(v.(*Claim)), true
}

// sources maps evidence ids to their source digests. Ids that resolve to no
// event still contribute a stable placeholder so identity never depends on
// lookup timing.
func (r *Registry) sources(ids []uint64) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		if e, ok := r.evidence.Get(id); ok {
			out[i] = e.SourceDigest()
		} else {
			out[i] = fmt.Sprintf("missing:%d", id)
		}
	}
	return out
}

func fromRow(row *storage.ClaimRow) (*Claim, error) {
	var value confidence.Value
	if err := json.Unmarshal([]byte(row.Confidence), &value); err != nil {
		return nil, lerrors.New(lerrors.InternalError, "stored confidence is corrupt", err)
	}
	return &Claim{
		ID:          row.ID,
		ContentKey:  row.ContentKey,
		Text:        row.Text,
		Type:        row.ClaimType,
		Category:    row.Category,
		CreatedAt:   row.CreatedAt,
		EvidenceIDs: row.EvidenceIDs,
		Signal:      confidence.SignalFromPtr(row.Signal),
		Confidence:  value,
	}, nil
}

func copyClaim(c *Claim) *Claim {
	cp := *c
	cp.EvidenceIDs = append([]uint64(nil), c.EvidenceIDs...)
	return &cp
}

func dedupe(ids []uint64) []uint64 {
	seen := make(map[uint64]bool, len(ids))
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
