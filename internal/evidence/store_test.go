package evidence

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarian/internal/config"
	lerrors "librarian/internal/errors"
	"librarian/internal/metrics"
	"librarian/internal/slogutil"
	"librarian/internal/storage"
)

func openDB(t *testing.T, path string) *storage.DB {
	t.Helper()
	db, err := storage.Open(path, config.DefaultConfig().Storage, slogutil.NewDiscardLogger())
	require.NoError(t, err)
	return db
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db := openDB(t, filepath.Join(t.TempDir(), "ledger.db"))
	t.Cleanup(func() { _ = db.Close() })
	s, err := Open(context.Background(), db, slogutil.NewDiscardLogger(), Options{BlockSize: 4, Metrics: metrics.New("test")})
	require.NoError(t, err)
	return s
}

func ev(trace, payload string) Event {
	return Event{TraceID: trace, ProducerID: "retriever", Stage: "search", Payload: []byte(payload)}
}

func ids(events []Event) []uint64 {
	out := make([]uint64, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func TestAppend_AssignsMonotonicIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var got []uint64
	for i := 0; i < 10; i++ {
		id, err := s.Append(ctx, ev("t1", fmt.Sprintf("p%d", i)))
		require.NoError(t, err)
		got = append(got, id)
	}
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i], got[i-1])
	}
	assert.Equal(t, uint64(10), s.Watermark())
}

func TestAppend_NeverDeduplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.Append(ctx, ev("t1", "same"))
	require.NoError(t, err)
	b, err := s.Append(ctx, ev("t1", "same"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	events := s.QueryByTrace("t1", 0)
	require.Len(t, events, 2)
	assert.Equal(t, events[0].SourceDigest(), events[1].SourceDigest())
}

func TestQueryByTrace_IsolationFromOtherTraces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Append(ctx, ev("t1", fmt.Sprintf("a%d", i)))
		require.NoError(t, err)
	}
	cutoff := s.Watermark()
	before := s.QueryByTrace("t1", cutoff)

	for i := 0; i < 5; i++ {
		_, err := s.Append(ctx, ev("t2", fmt.Sprintf("b%d", i)))
		require.NoError(t, err)
	}
	after := s.QueryByTrace("t1", cutoff)
	assert.Equal(t, before, after)
	assert.Equal(t, s.QueryByTrace("t1", 0), after)
}

func TestQueryByTrace_AsOfReplay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Append(ctx, ev("t1", "one"))
	require.NoError(t, err)
	snapshot := s.QueryByTrace("t1", 0)

	_, err = s.Append(ctx, ev("t1", "two"))
	require.NoError(t, err)

	assert.Equal(t, snapshot, s.QueryByTrace("t1", first))
	assert.Len(t, s.QueryByTrace("t1", 0), 2)
}

func TestAppend_ConcurrentWriters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const writers, perWriter = 8, 25
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := s.Append(ctx, ev(fmt.Sprintf("t%d", w%3), fmt.Sprintf("%d-%d", w, i))); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Append() error = %v", err)
	}

	assert.Equal(t, uint64(writers*perWriter), s.Watermark())

	seen := make(map[uint64]bool)
	total := 0
	for _, trace := range s.Traces() {
		got := ids(s.QueryByTrace(trace, 0))
		assert.True(t, sort.SliceIsSorted(got, func(i, j int) bool { return got[i] < got[j] }))
		for _, id := range got {
			assert.False(t, seen[id], "id %d appears twice", id)
			seen[id] = true
		}
		total += len(got)
	}
	assert.Equal(t, writers*perWriter, total)
}

func TestAppend_FailureVoidsSlot(t *testing.T) {
	s := newTestStore(t)

	first, err := s.Append(context.Background(), ev("t1", "ok"))
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Append(cancelled, ev("t1", "lost"))
	require.Error(t, err)
	assert.True(t, lerrors.HasCode(err, lerrors.StorageFault))

	third, err := s.Append(context.Background(), ev("t1", "after"))
	require.NoError(t, err)

	assert.Equal(t, first+2, third, "failed number is not reissued")
	assert.Equal(t, third, s.Watermark(), "watermark passes the void slot")
	assert.Equal(t, []uint64{first, third}, ids(s.QueryByTrace("t1", 0)))
	assert.False(t, s.Exists(first+1))
}

func TestStore_RestartContinuesSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()
	logger := slogutil.NewDiscardLogger()

	db := openDB(t, path)
	s, err := Open(ctx, db, logger, Options{BlockSize: 16})
	require.NoError(t, err)
	a, err := s.Append(ctx, Event{TraceID: "t1", ProducerID: "p", Stage: "s", Payload: []byte("x"), CorrelationIDs: []string{"q1"}, Timestamp: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	s.LinkClaim("claim:x", []uint64{a})
	require.NoError(t, db.Close())

	db = openDB(t, path)
	defer db.Close()
	s, err = Open(ctx, db, logger, Options{BlockSize: 16})
	require.NoError(t, err)

	events := s.QueryByTrace("t1", 0)
	require.Len(t, events, 1)
	assert.Equal(t, a, events[0].ID)
	assert.Equal(t, []string{"q1"}, events[0].CorrelationIDs)
	assert.True(t, events[0].Timestamp.Equal(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)))

	b, err := s.Append(ctx, ev("t1", "y"))
	require.NoError(t, err)
	assert.Equal(t, a+1, b, "the unused reservation tail is reclaimed")
	assert.Equal(t, b, s.Watermark())
	assert.Len(t, s.QueryByTrace("t1", 0), 2)
}

func TestStore_SessionsProduceContiguousIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()
	logger := slogutil.NewDiscardLogger()

	var got []uint64
	for i := 0; i < 3; i++ {
		db := openDB(t, path)
		s, err := Open(ctx, db, logger, Options{})
		require.NoError(t, err)
		id, err := s.Append(ctx, ev("session", fmt.Sprintf("run %d", i)))
		require.NoError(t, err)
		got = append(got, id)
		require.NoError(t, db.Close())
	}
	assert.Equal(t, []uint64{1, 2, 3}, got)
}

func TestStore_RestartKeepsFailedGapsVoid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()
	logger := slogutil.NewDiscardLogger()

	db := openDB(t, path)
	s, err := Open(ctx, db, logger, Options{BlockSize: 8})
	require.NoError(t, err)
	first, err := s.Append(ctx, ev("t1", "a"))
	require.NoError(t, err)
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Append(cancelled, ev("t1", "lost"))
	require.Error(t, err)
	third, err := s.Append(ctx, ev("t1", "c"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db = openDB(t, path)
	defer db.Close()
	s, err = Open(ctx, db, logger, Options{BlockSize: 8})
	require.NoError(t, err)
	assert.Equal(t, third, s.Watermark(), "the failed slot is settled as void")
	assert.False(t, s.Exists(first+1))

	next, err := s.Append(ctx, ev("t1", "d"))
	require.NoError(t, err)
	assert.Equal(t, third+1, next)
}

func TestQueryByClaim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e1, err := s.Append(ctx, ev("t1", "one"))
	require.NoError(t, err)
	e2, err := s.Append(ctx, ev("t2", "two"))
	require.NoError(t, err)

	s.LinkClaim("claim:a", []uint64{e2, e1, 999})
	s.LinkClaim("claim:a", []uint64{e1})

	assert.Equal(t, []uint64{e2, e1}, ids(s.QueryByClaim("claim:a")))
	assert.Empty(t, s.QueryByClaim("claim:unknown"))
}

func TestCorrelated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := ev("t1", "x")
	e.CorrelationIDs = []string{"query-7"}
	id, err := s.Append(ctx, e)
	require.NoError(t, err)
	_, err = s.Append(ctx, ev("t2", "y"))
	require.NoError(t, err)

	got := s.Correlated("query-7", 0)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
}

func TestReturnedEventsAreCopies(t *testing.T) {
	s := newTestStore(t)
	id, err := s.Append(context.Background(), ev("t1", "orig"))
	require.NoError(t, err)

	got, ok := s.Get(id)
	require.True(t, ok)
	got.Payload[0] = 'X'

	again, _ := s.Get(id)
	assert.Equal(t, "orig", string(again.Payload))
}
