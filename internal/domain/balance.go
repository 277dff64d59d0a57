package domain

import (
	"auction_go/pkg/safe"
	"fmt"
	"sort"
)

// Balance represents a treasury account with invariant checking.
// Reserved covers transfers staged by an uncommitted call.
type Balance struct {
	Holder   Identity `json:"holder"`
	Amount   int64    `json:"amount"`   // Current balance (base units)
	Reserved int64    `json:"reserved"` // Staged for outgoing transfers
	LastSeq  uint64   `json:"last_seq"` // Last call sequence that modified this
}

// Available returns the available balance (total - reserved).
func (b *Balance) Available() int64 {
	return safe.SafeSub(b.Amount, b.Reserved)
}

// Credit adds funds to the balance. Panics on overflow.
func (b *Balance) Credit(amount int64, seq uint64) {
	b.Amount = safe.SafeAdd(b.Amount, amount)
	b.LastSeq = seq
}

// Debit removes funds from the balance. Panics if insufficient or overflow.
func (b *Balance) Debit(amount int64, seq uint64) {
	if amount > b.Available() {
		panic(fmt.Sprintf("BALANCE_INSUFFICIENT: %s need %d, available %d",
			b.Holder, amount, b.Available()))
	}
	b.Amount = safe.SafeSub(b.Amount, amount)
	b.LastSeq = seq
}

// Reserve locks funds for a staged transfer.
func (b *Balance) Reserve(amount int64, seq uint64) {
	if amount > b.Available() {
		panic(fmt.Sprintf("BALANCE_RESERVE_INSUFFICIENT: %s need %d, available %d",
			b.Holder, amount, b.Available()))
	}
	b.Reserved = safe.SafeAdd(b.Reserved, amount)
	b.LastSeq = seq
}

// Release unlocks reserved funds.
func (b *Balance) Release(amount int64, seq uint64) {
	if amount > b.Reserved {
		panic(fmt.Sprintf("BALANCE_RELEASE_EXCEEDS_RESERVED: %s release %d, reserved %d",
			b.Holder, amount, b.Reserved))
	}
	b.Reserved = safe.SafeSub(b.Reserved, amount)
	b.LastSeq = seq
}

// VerifyInvariant checks that balance satisfies invariants.
// Call this after any state change to ensure data integrity.
func (b *Balance) VerifyInvariant() {
	if b.Amount < 0 {
		panic(fmt.Sprintf("BALANCE_INVARIANT_NEGATIVE_AMOUNT: %s = %d",
			b.Holder, b.Amount))
	}

	if b.Reserved < 0 {
		panic(fmt.Sprintf("BALANCE_INVARIANT_NEGATIVE_RESERVED: %s = %d",
			b.Holder, b.Reserved))
	}

	if b.Reserved > b.Amount {
		panic(fmt.Sprintf("BALANCE_INVARIANT_RESERVED_EXCEEDS_AMOUNT: %s reserved=%d, amount=%d",
			b.Holder, b.Reserved, b.Amount))
	}
}

// BalanceBook manages multiple balances with invariant checking.
type BalanceBook struct {
	balances map[Identity]*Balance
}

// NewBalanceBook creates a new balance book.
func NewBalanceBook() *BalanceBook {
	return &BalanceBook{
		balances: make(map[Identity]*Balance),
	}
}

// Get returns the balance for a holder, creating if not exists.
func (bb *BalanceBook) Get(holder Identity) *Balance {
	b, ok := bb.balances[holder]
	if !ok {
		b = &Balance{Holder: holder}
		bb.balances[holder] = b
	}
	return b
}

// Peek returns the balance amount without creating an entry.
func (bb *BalanceBook) Peek(holder Identity) int64 {
	if b, ok := bb.balances[holder]; ok {
		return b.Amount
	}
	return 0
}

// VerifyAll checks invariants on all balances.
func (bb *BalanceBook) VerifyAll() {
	for _, b := range bb.balances {
		b.VerifyInvariant()
	}
}

// Snapshot returns a copy of all balances ordered by holder (for persistence and state dump).
func (bb *BalanceBook) Snapshot() []Balance {
	result := make([]Balance, 0, len(bb.balances))
	for _, v := range bb.balances {
		result = append(result, *v)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Holder < result[j].Holder
	})
	return result
}

// Load replaces the book contents with the given balances.
func (bb *BalanceBook) Load(balances []Balance) {
	bb.balances = make(map[Identity]*Balance, len(balances))
	for i := range balances {
		b := balances[i]
		bb.balances[b.Holder] = &b
	}
}
