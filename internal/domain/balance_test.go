package domain

import "testing"

func TestBalance_ReserveAndRelease(t *testing.T) {
	b := &Balance{Holder: "contract"}
	b.Credit(1000, 1)
	b.Reserve(400, 2)

	if b.Available() != 600 {
		t.Errorf("Expected available 600, got %d", b.Available())
	}

	b.Release(400, 3)
	b.Debit(400, 3)
	if b.Amount != 600 || b.Reserved != 0 {
		t.Errorf("Expected amount 600 reserved 0, got %d/%d", b.Amount, b.Reserved)
	}
	if b.LastSeq != 3 {
		t.Errorf("Expected LastSeq 3, got %d", b.LastSeq)
	}
	b.VerifyInvariant()
}

func TestBalance_DebitInsufficientPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Debit beyond available should panic")
		}
	}()

	b := &Balance{Holder: "contract", Amount: 100, Reserved: 50}
	b.Debit(60, 1)
}

func TestBalanceBook_SnapshotAndLoad(t *testing.T) {
	bb := NewBalanceBook()
	bb.Get("bob").Credit(20, 1)
	bb.Get("alice").Credit(10, 1)

	snap := bb.Snapshot()
	if len(snap) != 2 || snap[0].Holder != "alice" {
		t.Fatalf("Expected sorted snapshot starting with alice, got %+v", snap)
	}

	restored := NewBalanceBook()
	restored.Load(snap)
	if restored.Peek("bob") != 20 {
		t.Errorf("Expected bob 20, got %d", restored.Peek("bob"))
	}
	if restored.Peek("alice") != 10 {
		t.Errorf("Expected alice 10, got %d", restored.Peek("alice"))
	}
	if restored.Peek("carol") != 0 {
		t.Error("Peek must not create entries")
	}
}
