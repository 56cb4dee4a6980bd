package storage

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"librarian/internal/config"
	lerrors "librarian/internal/errors"
	"librarian/internal/slogutil"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	cfg := config.DefaultConfig().Storage
	cfg.CompressThresholdBytes = 64
	db, err := Open(filepath.Join(t.TempDir(), "ledger.db"), cfg, slogutil.NewDiscardLogger())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_CreatesSchema(t *testing.T) {
	db := setupTestDB(t)

	version, err := db.getSchemaVersion()
	if err != nil {
		t.Fatalf("getSchemaVersion() error = %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("schema version = %d, want %d", version, currentSchemaVersion)
	}

	for _, table := range []string{"evidence_events", "evidence_correlations", "evidence_sequence", "claims", "claim_evidence", "outcomes", "calibration_snapshots"} {
		var name string
		err := db.Conn().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	cfg := config.DefaultConfig().Storage
	logger := slogutil.NewDiscardLogger()

	db, err := Open(path, cfg, logger)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	first, err := NewEvidenceRepository(db).ReserveBlock(context.Background(), 8)
	if err != nil {
		t.Fatalf("ReserveBlock() error = %v", err)
	}
	_ = db.Close()

	db, err = Open(path, cfg, logger)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer db.Close()

	next, err := NewEvidenceRepository(db).ReserveBlock(context.Background(), 8)
	if err != nil {
		t.Fatalf("ReserveBlock() error = %v", err)
	}
	if first != 1 || next != 9 {
		t.Errorf("blocks start at %d and %d, want 1 and 9", first, next)
	}

	through, err := NewEvidenceRepository(db).ReclaimTail(context.Background())
	if err != nil {
		t.Fatalf("ReclaimTail() error = %v", err)
	}
	if through != 0 {
		t.Errorf("ReclaimTail() = %d with no stored events, want 0", through)
	}
	again, err := NewEvidenceRepository(db).ReserveBlock(context.Background(), 8)
	if err != nil {
		t.Fatalf("ReserveBlock() error = %v", err)
	}
	if again != 1 {
		t.Errorf("block after reclaim starts at %d, want 1", again)
	}
}

func TestEvidenceRepository_InsertAndLoad(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEvidenceRepository(db)
	ctx := context.Background()

	big := bytes.Repeat([]byte("evidence "), 100)
	ts := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	rows := []EvidenceRow{
		{Seq: 1, TraceID: "t1", ProducerID: "retriever", Stage: "search", Timestamp: ts, Payload: []byte(`{"q":"x"}`), CorrelationIDs: []string{"c1", "c2"}, SourceDigest: "d1", AppendedAt: ts},
		{Seq: 2, TraceID: "t2", ProducerID: "retriever", Stage: "search", Timestamp: ts, Payload: big, SourceDigest: "d2", AppendedAt: ts},
	}
	for i := range rows {
		if err := repo.Insert(ctx, &rows[i]); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	var encoding string
	if err := db.Conn().QueryRow("SELECT payload_encoding FROM evidence_events WHERE seq = 2").Scan(&encoding); err != nil {
		t.Fatal(err)
	}
	if encoding != EncodingZstd {
		t.Errorf("large payload encoding = %q, want %q", encoding, EncodingZstd)
	}

	loaded, err := repo.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("len(LoadAll()) = %d, want 2", len(loaded))
	}
	if !bytes.Equal(loaded[1].Payload, big) {
		t.Error("compressed payload did not round-trip")
	}
	if strings.Join(loaded[0].CorrelationIDs, ",") != "c1,c2" {
		t.Errorf("CorrelationIDs = %v", loaded[0].CorrelationIDs)
	}
	if !loaded[0].Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", loaded[0].Timestamp, ts)
	}
}

func TestEvidenceRepository_AppendOnly(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	row := &EvidenceRow{Seq: 1, TraceID: "t", ProducerID: "p", Stage: "s", Timestamp: time.Now(), SourceDigest: "d", AppendedAt: time.Now()}
	if err := NewEvidenceRepository(db).Insert(ctx, row); err != nil {
		t.Fatal(err)
	}

	if _, err := db.Conn().Exec("UPDATE evidence_events SET trace_id = 'x' WHERE seq = 1"); err == nil {
		t.Error("update of evidence_events should fail")
	}
	if _, err := db.Conn().Exec("DELETE FROM evidence_events WHERE seq = 1"); err == nil {
		t.Error("delete from evidence_events should fail")
	}
}

func TestEvidenceRepository_DuplicateSeqIsStorageFault(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEvidenceRepository(db)
	ctx := context.Background()
	row := &EvidenceRow{Seq: 7, TraceID: "t", ProducerID: "p", Stage: "s", Timestamp: time.Now(), SourceDigest: "d", AppendedAt: time.Now()}
	if err := repo.Insert(ctx, row); err != nil {
		t.Fatal(err)
	}
	err := repo.Insert(ctx, row)
	if !lerrors.HasCode(err, lerrors.StorageFault) {
		t.Errorf("duplicate insert error = %v, want STORAGE_FAULT", err)
	}
}

func TestClaimRepository_InsertIfAbsent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewClaimRepository(db)
	ctx := context.Background()

	signal := 0.8
	row := &ClaimRow{
		ID: "claim:1", ContentKey: "k", Text: "foo calls bar", ClaimType: "call_graph",
		CreatedAt: time.Now(), Signal: &signal, Confidence: `{"state":"absent"}`, EvidenceIDs: []uint64{3, 1},
	}
	inserted, err := repo.InsertIfAbsent(ctx, row)
	if err != nil || !inserted {
		t.Fatalf("first InsertIfAbsent() = %v, %v", inserted, err)
	}

	dup := *row
	dup.Text = "changed"
	inserted, err = repo.InsertIfAbsent(ctx, &dup)
	if err != nil || inserted {
		t.Fatalf("second InsertIfAbsent() = %v, %v; want false, nil", inserted, err)
	}

	got, err := repo.Get(ctx, "claim:1")
	if err != nil || got == nil {
		t.Fatalf("Get() = %v, %v", got, err)
	}
	if got.Text != "foo calls bar" {
		t.Errorf("Text = %q, first registration should win", got.Text)
	}
	if len(got.EvidenceIDs) != 2 || got.EvidenceIDs[0] != 3 || got.EvidenceIDs[1] != 1 {
		t.Errorf("EvidenceIDs = %v, want [3 1]", got.EvidenceIDs)
	}
	if got.Signal == nil || *got.Signal != 0.8 {
		t.Errorf("Signal = %v, want 0.8", got.Signal)
	}

	missing, err := repo.Get(ctx, "claim:none")
	if err != nil || missing != nil {
		t.Errorf("Get(missing) = %v, %v; want nil, nil", missing, err)
	}

	siblings, err := repo.ByContentKey(ctx, "k")
	if err != nil || len(siblings) != 1 {
		t.Errorf("ByContentKey() = %v, %v", siblings, err)
	}

	links, err := repo.Links(ctx)
	if err != nil || len(links["claim:1"]) != 2 {
		t.Errorf("Links() = %v, %v", links, err)
	}
}

func TestOutcomeRepository_Ordering(t *testing.T) {
	db := setupTestDB(t)
	repo := NewOutcomeRepository(db)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	rows := []OutcomeRow{
		{ID: "b", ClaimID: "c1", ClaimedConfidence: "{}", Outcome: "verified_incorrect", Method: "test_failed", Timestamp: base.Add(time.Hour)},
		{ID: "a", ClaimID: "c1", ClaimedConfidence: "{}", Outcome: "verified_correct", Method: "test_passed", Timestamp: base, Flags: []string{"late", "escalated"}},
		{ID: "c", ClaimID: "c2", ClaimedConfidence: "{}", Outcome: "unknown", Method: "agent_feedback", Timestamp: base, Orphan: true},
	}
	for i := range rows {
		if err := repo.Insert(ctx, &rows[i]); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	got, err := repo.ByClaim(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("ByClaim() order = %v", got)
	}
	if strings.Join(got[0].Flags, ",") != "late,escalated" {
		t.Errorf("Flags = %v", got[0].Flags)
	}

	recent, err := repo.Since(ctx, base.Add(30*time.Minute))
	if err != nil || len(recent) != 1 || recent[0].ID != "b" {
		t.Errorf("Since() = %v, %v", recent, err)
	}

	all, err := repo.All(ctx)
	if err != nil || len(all) != 3 {
		t.Fatalf("All() = %d records, err %v", len(all), err)
	}
	if !all[2].Orphan && !all[1].Orphan {
		t.Error("orphan flag lost")
	}

	bad := OutcomeRow{ID: "d", ClaimID: "c1", ClaimedConfidence: "{}", Outcome: "maybe", Method: "test_passed", Timestamp: base}
	if err := repo.Insert(ctx, &bad); err == nil {
		t.Error("invalid outcome should be rejected by the schema")
	}
}

func TestSnapshotRepository_Latest(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSnapshotRepository(db)
	ctx := context.Background()

	empty, err := repo.Latest(ctx)
	if err != nil || empty != nil {
		t.Fatalf("Latest() on empty = %v, %v", empty, err)
	}

	now := time.Now()
	if err := repo.Save(ctx, []SnapshotRow{{Version: 1, ClaimType: "a", ComputedAt: now, Fingerprint: "f1", Curve: "{}"}}); err != nil {
		t.Fatal(err)
	}
	if err := repo.Save(ctx, []SnapshotRow{
		{Version: 2, ClaimType: "b", ComputedAt: now.Add(time.Second), Fingerprint: "f2", Curve: "{}"},
		{Version: 2, ClaimType: "a", Category: "go", ComputedAt: now.Add(time.Second), Fingerprint: "f2", Curve: "{}"},
	}); err != nil {
		t.Fatal(err)
	}

	latest, err := repo.Latest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(latest) != 2 || latest[0].ClaimType != "a" || latest[0].Version != 2 {
		t.Errorf("Latest() = %+v", latest)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"locked message", errors.New("database is locked"), true},
		{"plain", errors.New("no such table"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetry_TransientThenSuccess(t *testing.T) {
	p := RetryPolicy{MaxTries: 4, Initial: time.Millisecond, Max: 2 * time.Millisecond}
	calls := 0
	got, err := Retry(context.Background(), p, slogutil.NewDiscardLogger(), "op", func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("database is locked")
		}
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Fatalf("Retry() = %d, %v", got, err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetry_ExhaustedIsStorageFault(t *testing.T) {
	p := RetryPolicy{MaxTries: 3, Initial: time.Millisecond, Max: time.Millisecond}
	calls := 0
	_, err := Retry(context.Background(), p, slogutil.NewDiscardLogger(), "op", func() (int, error) {
		calls++
		return 0, errors.New("database is locked")
	})
	if !lerrors.HasCode(err, lerrors.StorageFault) {
		t.Errorf("error = %v, want STORAGE_FAULT", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	p := RetryPolicy{MaxTries: 5, Initial: time.Millisecond, Max: time.Millisecond}
	calls := 0
	_, err := Retry(context.Background(), p, slogutil.NewDiscardLogger(), "op", func() (int, error) {
		calls++
		return 0, errors.New("constraint failed")
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !lerrors.HasCode(err, lerrors.StorageFault) {
		t.Errorf("error = %v, want STORAGE_FAULT", err)
	}
}

func TestPayloadCodec(t *testing.T) {
	codec, err := NewPayloadCodec(16)
	if err != nil {
		t.Fatal(err)
	}
	defer codec.Close()

	small := []byte("tiny")
	if out, enc := codec.Encode(small); enc != EncodingRaw || !bytes.Equal(out, small) {
		t.Errorf("small payload encoded as %q", enc)
	}

	big := bytes.Repeat([]byte("abc"), 200)
	out, enc := codec.Encode(big)
	if enc != EncodingZstd {
		t.Fatalf("encoding = %q, want zstd", enc)
	}
	back, err := codec.Decode(out, enc)
	if err != nil || !bytes.Equal(back, big) {
		t.Errorf("Decode() round trip failed: %v", err)
	}

	if _, err := codec.Decode(out, "brotli"); err == nil {
		t.Error("unknown encoding should fail")
	}
}
