package infra

import (
	"errors"
	"testing"

	"auction_go/internal/domain"
)

func fundContract(t *testing.T, tr *Treasury, amount int64) {
	t.Helper()
	tx := tr.Begin()
	if err := tx.Receive("alice", amount); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	tx.Commit()
}

func TestTreasury_ReceiveIsStagedUntilCommit(t *testing.T) {
	tr := NewTreasury()

	tx := tr.Begin()
	if err := tx.Receive("alice", 150); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if tr.Held() != 0 {
		t.Errorf("Expected nothing held before commit, got %d", tr.Held())
	}
	tx.Commit()

	if tr.Held() != 150 {
		t.Errorf("Expected 150 held, got %d", tr.Held())
	}
}

func TestTreasury_PayCommit(t *testing.T) {
	tr := NewTreasury()
	fundContract(t, tr, 300)
	tr.SetSequence(7)

	tx := tr.Begin()
	if err := tx.Pay("bob", 98); err != nil {
		t.Fatalf("Pay failed: %v", err)
	}
	if err := tx.Pay("carol", 196); err != nil {
		t.Fatalf("Pay failed: %v", err)
	}
	tx.Commit()

	if tr.Held() != 6 {
		t.Errorf("Expected 6 retained, got %d", tr.Held())
	}
	if tr.BalanceOf("bob") != 98 || tr.BalanceOf("carol") != 196 {
		t.Errorf("Unexpected payouts bob=%d carol=%d", tr.BalanceOf("bob"), tr.BalanceOf("carol"))
	}
	for _, acc := range tr.Snapshot() {
		if acc.Holder == "bob" && acc.LastSeq != 7 {
			t.Errorf("Expected bob LastSeq 7, got %d", acc.LastSeq)
		}
	}
}

func TestTreasury_RejectingRecipient(t *testing.T) {
	tr := NewTreasury("mallory")
	fundContract(t, tr, 300)

	tx := tr.Begin()
	if err := tx.Pay("bob", 100); err != nil {
		t.Fatalf("Pay failed: %v", err)
	}
	err := tx.Pay("mallory", 100)
	if !errors.Is(err, domain.ErrRecipientRejected) {
		t.Fatalf("Expected ErrRecipientRejected, got %v", err)
	}
	tx.Rollback()

	if tr.Held() != 300 {
		t.Errorf("Rollback must leave contract untouched, got %d", tr.Held())
	}
	if tr.BalanceOf("bob") != 0 {
		t.Errorf("Rollback must not pay bob, got %d", tr.BalanceOf("bob"))
	}
	for _, acc := range tr.Snapshot() {
		if acc.Reserved != 0 {
			t.Errorf("Expected no reservations after rollback, %s has %d", acc.Holder, acc.Reserved)
		}
	}

	tr.SetRejecting("mallory", false)
	tx = tr.Begin()
	if err := tx.Pay("mallory", 100); err != nil {
		t.Fatalf("Pay after un-rejecting failed: %v", err)
	}
	tx.Commit()
}

func TestTreasury_InsufficientFunds(t *testing.T) {
	tr := NewTreasury()
	fundContract(t, tr, 100)

	tx := tr.Begin()
	if err := tx.Pay("bob", 80); err != nil {
		t.Fatalf("Pay failed: %v", err)
	}
	// Reserved funds are not available to a second payment in the same tx
	if err := tx.Pay("carol", 30); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Errorf("Expected ErrInsufficientFunds, got %v", err)
	}
	tx.Rollback()
}

func TestTreasury_SnapshotRestore(t *testing.T) {
	tr := NewTreasury()
	fundContract(t, tr, 500)

	restored := NewTreasury()
	restored.Restore(tr.Snapshot())
	if restored.Held() != 500 {
		t.Errorf("Expected 500 held after restore, got %d", restored.Held())
	}
}
