package infra

import (
	"fmt"
	"sync"

	"auction_go/internal/domain"
	"auction_go/pkg/safe"
)

// ContractAccount holds the value attached to accepted bids.
const ContractAccount domain.Identity = "@contract"

// Treasury is the in-process value-transfer primitive: one contract account
// plus the accounts of every identity that has been paid. Recipients listed as
// rejecting refuse incoming value, which makes the paying call fail.
type Treasury struct {
	mu        sync.RWMutex // Used only for external reads (e.g. metrics, API)
	book      *domain.BalanceBook
	rejecting map[domain.Identity]bool
	seq       uint64
}

// NewTreasury creates an empty treasury.
func NewTreasury(rejecting ...domain.Identity) *Treasury {
	t := &Treasury{
		book:      domain.NewBalanceBook(),
		rejecting: make(map[domain.Identity]bool, len(rejecting)),
	}
	for _, id := range rejecting {
		t.rejecting[id] = true
	}
	return t
}

// SetSequence stamps subsequent balance changes with the current call sequence.
func (t *Treasury) SetSequence(seq uint64) {
	t.seq = seq
}

// SetRejecting toggles whether id refuses incoming transfers.
func (t *Treasury) SetRejecting(id domain.Identity, reject bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if reject {
		t.rejecting[id] = true
	} else {
		delete(t.rejecting, id)
	}
}

// Held returns the contract balance.
func (t *Treasury) Held() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.book.Peek(ContractAccount)
}

// BalanceOf returns the amount paid out to id so far.
func (t *Treasury) BalanceOf(id domain.Identity) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.book.Peek(id)
}

// Snapshot returns all accounts (for persistence and state dump).
func (t *Treasury) Snapshot() []domain.Balance {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.book.Snapshot()
}

// Restore replaces all accounts.
func (t *Treasury) Restore(accounts []domain.Balance) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.book.Load(accounts)
	t.book.VerifyAll()
}

// Begin starts a staged set of value movements.
func (t *Treasury) Begin() domain.VaultTx {
	return &treasuryTx{t: t}
}

type transfer struct {
	who    domain.Identity
	amount int64
}

type treasuryTx struct {
	t        *Treasury
	received []transfer
	paid     []transfer
	done     bool
}

func (tx *treasuryTx) Receive(from domain.Identity, amount int64) error {
	if tx.done {
		panic("TREASURY_TX_REUSED")
	}
	if amount <= 0 {
		return fmt.Errorf("%w: receive %d", domain.ErrInvalidAmount, amount)
	}
	pending := amount
	for _, r := range tx.received {
		pending = safe.SafeAdd(pending, r.amount)
	}
	tx.t.mu.RLock()
	held := tx.t.book.Peek(ContractAccount)
	tx.t.mu.RUnlock()
	if _, ok := safe.CheckedAdd(held, pending); !ok {
		return domain.ErrAmountOverflow
	}
	tx.received = append(tx.received, transfer{who: from, amount: amount})
	return nil
}

func (tx *treasuryTx) Pay(to domain.Identity, amount int64) error {
	if tx.done {
		panic("TREASURY_TX_REUSED")
	}
	if amount <= 0 {
		return fmt.Errorf("%w: pay %d", domain.ErrInvalidAmount, amount)
	}
	t := tx.t
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rejecting[to] {
		return domain.ErrRecipientRejected
	}
	contract := t.book.Get(ContractAccount)
	if amount > contract.Available() {
		return fmt.Errorf("%w: need %d, available %d", domain.ErrInsufficientFunds, amount, contract.Available())
	}
	if _, ok := safe.CheckedAdd(t.book.Peek(to), amount); !ok {
		return domain.ErrAmountOverflow
	}
	contract.Reserve(amount, t.seq)
	tx.paid = append(tx.paid, transfer{who: to, amount: amount})
	return nil
}

func (tx *treasuryTx) Commit() {
	if tx.done {
		return
	}
	tx.done = true
	t := tx.t
	t.mu.Lock()
	defer t.mu.Unlock()

	contract := t.book.Get(ContractAccount)
	for _, r := range tx.received {
		contract.Credit(r.amount, t.seq)
	}
	for _, p := range tx.paid {
		contract.Release(p.amount, t.seq)
		contract.Debit(p.amount, t.seq)
		t.book.Get(p.who).Credit(p.amount, t.seq)
	}
	t.book.VerifyAll()
}

func (tx *treasuryTx) Rollback() {
	if tx.done {
		return
	}
	tx.done = true
	t := tx.t
	t.mu.Lock()
	defer t.mu.Unlock()

	contract := t.book.Get(ContractAccount)
	for _, p := range tx.paid {
		contract.Release(p.amount, t.seq)
	}
}
