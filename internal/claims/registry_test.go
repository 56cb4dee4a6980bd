package claims

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarian/internal/config"
	"librarian/internal/confidence"
	lerrors "librarian/internal/errors"
	"librarian/internal/evidence"
	"librarian/internal/slogutil"
	"librarian/internal/storage"
)

type fixture struct {
	db       *storage.DB
	store    *evidence.Store
	registry *Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slogutil.NewDiscardLogger()
	db, err := storage.Open(filepath.Join(t.TempDir(), "ledger.db"), config.DefaultConfig().Storage, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := evidence.Open(context.Background(), db, logger, evidence.Options{})
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	factory := confidence.NewFactory(nil, cfg.Calibration)
	return &fixture{
		db:       db,
		store:    store,
		registry: NewRegistry(db, store, factory, cfg.Cache, logger, nil),
	}
}

func (f *fixture) appendEvent(t *testing.T, trace, payload string) uint64 {
	t.Helper()
	id, err := f.store.Append(context.Background(), evidence.Event{
		TraceID: trace, ProducerID: "retriever", Stage: "search", Payload: []byte(payload),
	})
	require.NoError(t, err)
	return id
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Foo calls Bar.", "foo calls bar"},
		{"  foo   calls\tbar ", "foo calls bar"},
		{"foo calls bar!", "foo calls bar"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeText(tt.in), tt.in)
	}
}

func TestComputeID(t *testing.T) {
	a := ComputeID("Foo calls bar", "call_graph", []string{"d1", "d2"})
	b := ComputeID("foo  calls bar.", "CALL_GRAPH", []string{"d2", "d1", "d1"})
	assert.Equal(t, a, b)
	assert.Contains(t, a, "claim:")

	assert.NotEqual(t, a, ComputeID("foo calls bar", "call_graph", []string{"d1"}))
	assert.NotEqual(t, a, ComputeID("foo calls bar", "ownership", []string{"d1", "d2"}))
	assert.Equal(t, ContentKey("Foo calls bar", "call_graph"), ContentKey("foo calls bar.", "call_graph"))
}

func TestRegister_EvidenceMissing(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.Register(context.Background(), RegisterRequest{Text: "x", Type: "t"})
	require.Error(t, err)
	assert.True(t, lerrors.HasCode(err, lerrors.EvidenceMissing))

	_, err = f.registry.Register(context.Background(), RegisterRequest{Text: "x", Type: "t", EvidenceIDs: []uint64{}})
	assert.True(t, lerrors.HasCode(err, lerrors.EvidenceMissing))
}

func TestRegister_InvalidClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.store.Append(ctx, evidence.Event{TraceID: "t", ProducerID: "p", Stage: "s", Payload: []byte("x")})
	require.NoError(t, err)

	for _, req := range []RegisterRequest{
		{Text: "", Type: "call_graph", EvidenceIDs: []uint64{id}},
		{Text: "   ", Type: "call_graph", EvidenceIDs: []uint64{id}},
		{Text: "A calls B", Type: " ", EvidenceIDs: []uint64{id}},
	} {
		_, err := f.registry.Register(ctx, req)
		assert.True(t, lerrors.HasCode(err, lerrors.InvalidClaim), "text %q type %q: %v", req.Text, req.Type, err)
	}
}

func TestRegister_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e1 := f.appendEvent(t, "t1", "def foo(): bar()")

	first, err := f.registry.Register(ctx, RegisterRequest{Text: "foo calls bar", Type: "call_graph", EvidenceIDs: []uint64{e1}, Signal: confidence.MustSignal(0.9)})
	require.NoError(t, err)
	second, err := f.registry.Register(ctx, RegisterRequest{Text: "Foo calls bar.", Type: "call_graph", EvidenceIDs: []uint64{e1}, Signal: confidence.MustSignal(0.4)})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "foo calls bar", second.Text, "first registration wins")

	var n int
	require.NoError(t, f.db.Conn().QueryRow("SELECT COUNT(*) FROM claims").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestRegister_SameEvidenceFromIndependentQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Two queries at different times see the same source material.
	e1 := f.appendEvent(t, "query-1", "func Foo() { Bar() }")
	e2 := f.appendEvent(t, "query-2", "func Foo() { Bar() }")
	require.NotEqual(t, e1, e2)

	c1, err := f.registry.Register(ctx, RegisterRequest{Text: "Foo calls Bar", Type: "call_graph", EvidenceIDs: []uint64{e1}})
	require.NoError(t, err)
	c2, err := f.registry.Register(ctx, RegisterRequest{Text: "Foo calls Bar", Type: "call_graph", EvidenceIDs: []uint64{e2}})
	require.NoError(t, err)
	assert.Equal(t, c1.ID, c2.ID)

	e3 := f.appendEvent(t, "query-3", "func Foo() { Baz(); Bar() }")
	c3, err := f.registry.Register(ctx, RegisterRequest{Text: "Foo calls Bar", Type: "call_graph", EvidenceIDs: []uint64{e3}})
	require.NoError(t, err)
	assert.NotEqual(t, c1.ID, c3.ID)
	assert.Equal(t, c1.ContentKey, c3.ContentKey)

	siblings, err := f.registry.Siblings(ctx, c1.ContentKey)
	require.NoError(t, err)
	assert.Len(t, siblings, 2)
}

func TestRegister_ConcurrentDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e1 := f.appendEvent(t, "t1", "payload")

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := f.registry.Register(ctx, RegisterRequest{Text: "x is y", Type: "fact", EvidenceIDs: []uint64{e1}})
			if err == nil {
				ids[i] = c.ID
			}
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	var n int
	require.NoError(t, f.db.Conn().QueryRow("SELECT COUNT(*) FROM claims").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestRegister_LinksEvidence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e1 := f.appendEvent(t, "t1", "a")
	e2 := f.appendEvent(t, "t1", "b")

	c, err := f.registry.Register(ctx, RegisterRequest{Text: "claim", Type: "t", EvidenceIDs: []uint64{e2, e1, e2}})
	require.NoError(t, err)
	assert.Equal(t, []uint64{e2, e1}, c.EvidenceIDs)

	got := f.store.QueryByClaim(c.ID)
	require.Len(t, got, 2)
	assert.Equal(t, e2, got[0].ID)
}

func TestRegister_ConfidenceAbsentWithoutHistory(t *testing.T) {
	f := newFixture(t)
	e1 := f.appendEvent(t, "t1", "a")

	c, err := f.registry.Register(context.Background(), RegisterRequest{Text: "claim", Type: "t", EvidenceIDs: []uint64{e1}, Signal: confidence.MustSignal(0.99)})
	require.NoError(t, err)
	assert.Equal(t, confidence.StateAbsent, c.Confidence.State())
	assert.Equal(t, confidence.ReasonUncalibrated, c.Confidence.Reason())
	assert.NoError(t, confidence.Guard(c))
}

func TestLookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e1 := f.appendEvent(t, "t1", "a")

	c, err := f.registry.Register(ctx, RegisterRequest{Text: "claim", Type: "t", EvidenceIDs: []uint64{e1}, Signal: confidence.MustSignal(0.5)})
	require.NoError(t, err)

	f.registry.cache.Flush()
	got, err := f.registry.Lookup(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, []uint64{e1}, got.EvidenceIDs)
	raw, ok := got.Signal.Raw()
	assert.True(t, ok)
	assert.Equal(t, 0.5, raw)

	_, err = f.registry.Lookup(ctx, "claim:nope")
	assert.True(t, lerrors.HasCode(err, lerrors.ClaimNotFound))

	exists, err := f.registry.Exists(ctx, "claim:nope")
	require.NoError(t, err)
	assert.False(t, exists)
}
