package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"auction_go/internal/auction"
	"auction_go/internal/domain"
	"auction_go/internal/infra"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *Storage {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := migrate(db); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}

	s := &Storage{db: db}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func newEngine(t *testing.T) (*auction.Engine, *infra.Treasury) {
	t.Helper()
	tr := infra.NewTreasury()
	e, err := auction.New(auction.Params{
		ID:        uuid.New(),
		Owner:     "owner",
		MinPrice:  100,
		Duration:  auction.ShortDuration,
		StartTime: start,
	}, tr)
	if err != nil {
		t.Fatalf("auction.New failed: %v", err)
	}
	return e, tr
}

func callRecord(seq uint64, kind, caller string, value int64, outcome string) domain.CallRecord {
	return domain.CallRecord{
		Seq:     seq,
		Kind:    kind,
		Caller:  caller,
		Value:   value,
		Now:     start,
		Outcome: outcome,
	}
}

func TestLoadSnapshot_Empty(t *testing.T) {
	s := setupTestDB(t)

	snap, err := s.LoadSnapshot(context.Background())
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if snap != nil {
		t.Errorf("Expected nil snapshot, got %+v", snap)
	}
}

func TestCommitCall_RoundTrip(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	e, tr := newEngine(t)

	if err := s.SaveState(ctx, e.Snapshot(), tr.Snapshot(), 0); err != nil {
		t.Fatalf("SaveState failed: %v", err)
	}

	bids := []struct {
		who   domain.Identity
		value int64
	}{
		{"alice", 150},
		{"bob", 160},
		{"alice", 170},
	}
	for i, b := range bids {
		seq := uint64(i + 1)
		tr.SetSequence(seq)
		if _, err := e.PlaceBid(b.who, b.value, start); err != nil {
			t.Fatalf("PlaceBid failed: %v", err)
		}
		rec := callRecord(seq, "place_bid", string(b.who), b.value, "ok")
		if err := s.CommitCall(ctx, rec, e.Snapshot(), tr.Snapshot()); err != nil {
			t.Fatalf("CommitCall failed: %v", err)
		}
	}

	// Partial refund flips an offer inactive
	tr.SetSequence(4)
	if _, err := e.RequestPartialRefund("alice", start); err != nil {
		t.Fatalf("RequestPartialRefund failed: %v", err)
	}
	if err := s.CommitCall(ctx, callRecord(4, "partial_refund", "alice", 0, "ok"), e.Snapshot(), tr.Snapshot()); err != nil {
		t.Fatalf("CommitCall failed: %v", err)
	}

	snap, err := s.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if snap == nil {
		t.Fatal("Expected snapshot")
	}
	if snap.LastSeq != 4 {
		t.Errorf("Expected last seq 4, got %d", snap.LastSeq)
	}

	want := e.Snapshot()
	got := snap.State
	if got.ID != want.ID || got.Owner != want.Owner || got.MinPrice != want.MinPrice {
		t.Errorf("Header mismatch: got %+v", got)
	}
	if !got.FinishTime.Equal(want.FinishTime) || got.Duration != want.Duration {
		t.Errorf("Expected finish %s, got %s", want.FinishTime, got.FinishTime)
	}
	if len(got.Offers) != 3 {
		t.Fatalf("Expected 3 offers, got %d", len(got.Offers))
	}
	for i, o := range got.Offers {
		w := want.Offers[i]
		if o.ID != w.ID || o.Index != w.Index || o.Bidder != w.Bidder || o.Amount != w.Amount || o.Active != w.Active {
			t.Errorf("Offer %d mismatch: expected %+v, got %+v", i, w, o)
		}
	}
	if got.Offers[0].Active {
		t.Error("Expected refunded offer to be inactive")
	}
	if len(got.Ledger) != len(want.Ledger) {
		t.Fatalf("Expected %d ledger rows, got %d", len(want.Ledger), len(got.Ledger))
	}
	for i := range got.Ledger {
		if got.Ledger[i] != want.Ledger[i] {
			t.Errorf("Ledger row %d: expected %+v, got %+v", i, want.Ledger[i], got.Ledger[i])
		}
	}

	// Restored treasury and engine resume with identical balances
	restoredTr := infra.NewTreasury()
	restoredTr.Restore(snap.Accounts)
	if restoredTr.Held() != tr.Held() {
		t.Errorf("Expected held %d, got %d", tr.Held(), restoredTr.Held())
	}
	if restoredTr.BalanceOf("alice") != 150 {
		t.Errorf("Expected alice refunded 150, got %d", restoredTr.BalanceOf("alice"))
	}
	restored, err := auction.Restore(snap.State, restoredTr)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	w, err := restored.Winner()
	if err != nil || w.Amount != 170 {
		t.Errorf("Expected winner at 170, got %+v (%v)", w, err)
	}
}

func TestRecordRejectedCall(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	e, tr := newEngine(t)
	if err := s.SaveState(ctx, e.Snapshot(), tr.Snapshot(), 0); err != nil {
		t.Fatalf("SaveState failed: %v", err)
	}

	rec := callRecord(1, "place_bid", "bob", 90, "validation")
	rec.Error = "placeBid: validation failed"
	if err := s.RecordRejectedCall(ctx, rec); err != nil {
		t.Fatalf("RecordRejectedCall failed: %v", err)
	}

	// Sequence numbers are unique
	if err := s.RecordRejectedCall(ctx, rec); err == nil {
		t.Error("Expected duplicate sequence to fail")
	}

	snap, err := s.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if snap.LastSeq != 1 {
		t.Errorf("Expected journal head 1, got %d", snap.LastSeq)
	}
	if len(snap.State.Offers) != 0 {
		t.Errorf("Expected no offers, got %d", len(snap.State.Offers))
	}

	calls, err := s.Calls(ctx, 10)
	if err != nil {
		t.Fatalf("Calls failed: %v", err)
	}
	if len(calls) != 1 || calls[0].Outcome != "validation" {
		t.Errorf("Expected one rejected call, got %+v", calls)
	}
}

func TestCommitCall_DuplicateSeqRollsBack(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	e, tr := newEngine(t)

	if err := s.RecordRejectedCall(ctx, callRecord(1, "finalize", "alice", 0, "authorization")); err != nil {
		t.Fatalf("RecordRejectedCall failed: %v", err)
	}

	tr.SetSequence(1)
	if _, err := e.PlaceBid("alice", 150, start); err != nil {
		t.Fatalf("PlaceBid failed: %v", err)
	}
	if err := s.CommitCall(ctx, callRecord(1, "place_bid", "alice", 150, "ok"), e.Snapshot(), tr.Snapshot()); err == nil {
		t.Fatal("Expected CommitCall to fail on duplicate sequence")
	}

	// No state was written by the failed transaction
	snap, err := s.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if snap != nil {
		t.Errorf("Expected no auction state, got %+v", snap.State)
	}
}

func TestNewStorage_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "auction.db")
	s, err := NewStorage(path)
	if err != nil {
		t.Fatalf("NewStorage failed: %v", err)
	}
	defer s.Close()

	calls, err := s.Calls(context.Background(), 5)
	if err != nil {
		t.Fatalf("Calls failed: %v", err)
	}
	if len(calls) != 0 {
		t.Errorf("Expected empty journal, got %d", len(calls))
	}
}
