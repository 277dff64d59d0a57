// Package auction implements a single-asset English auction with deposit
// bookkeeping, partial refunds and commission-retaining settlement.
//
// The Engine is not safe for concurrent use. It is owned by exactly one
// goroutine (see internal/engine.Sequencer), which supplies the call time.
package auction

import (
	"fmt"
	"time"

	"auction_go/internal/domain"
	"auction_go/pkg/safe"

	"github.com/google/uuid"
)

const (
	// BidIncrementPercent: a new bid must be >= floor(best * 105 / 100).
	BidIncrementPercent = 105
	// PayoutPercent of a losing deposit is returned; the rest is commission.
	PayoutPercent = 98

	// SnipeWindow is both the late-bid window and the extension applied.
	SnipeWindow = 10 * time.Minute

	// Observed deployment durations.
	ShortDuration = 2 * time.Hour
	LongDuration  = 7 * 24 * time.Hour
)

// SettlementMode selects how losing deposits are returned on finalize.
type SettlementMode string

const (
	// SettlementPush pays every loser inside finalize, all-or-nothing.
	SettlementPush SettlementMode = "push"
	// SettlementPull credits payouts that losers withdraw individually.
	SettlementPull SettlementMode = "pull"
)

// Params are fixed at creation.
type Params struct {
	ID                uuid.UUID
	Owner             domain.Identity
	MinPrice          int64
	Duration          time.Duration
	StartTime         time.Time
	Settlement        SettlementMode
	EmergencyWithdraw bool
}

// Engine owns all auction state.
type Engine struct {
	id                uuid.UUID
	owner             domain.Identity
	minPrice          int64
	startTime         time.Time
	finishTime        time.Time
	duration          time.Duration
	settlement        SettlementMode
	emergencyWithdraw bool

	finalized bool
	winner    domain.Identity

	offers      []domain.Offer
	deposits    map[domain.Identity]int64
	offerCounts map[domain.Identity]int64
	payouts     map[domain.Identity]int64

	vault  domain.Vault
	events []domain.Event
}

// New creates an auction that is Active from p.StartTime until StartTime+Duration.
func New(p Params, vault domain.Vault) (*Engine, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if p.Settlement == "" {
		p.Settlement = SettlementPush
	}
	return &Engine{
		id:                p.ID,
		owner:             p.Owner,
		minPrice:          p.MinPrice,
		startTime:         p.StartTime,
		finishTime:        p.StartTime.Add(p.Duration),
		duration:          p.Duration,
		settlement:        p.Settlement,
		emergencyWithdraw: p.EmergencyWithdraw,
		deposits:          make(map[domain.Identity]int64),
		offerCounts:       make(map[domain.Identity]int64),
		payouts:           make(map[domain.Identity]int64),
		vault:             vault,
	}, nil
}

func (p Params) validate() error {
	if !p.Owner.Valid() {
		return &domain.ValidationError{Op: "create", Err: domain.ErrInvalidIdentity}
	}
	if p.MinPrice <= 0 {
		return &domain.ValidationError{Op: "create", Err: fmt.Errorf("%w: min price %d", domain.ErrInvalidAmount, p.MinPrice)}
	}
	if p.Duration <= 0 {
		return &domain.ValidationError{Op: "create", Err: fmt.Errorf("duration must be positive, got %s", p.Duration)}
	}
	switch p.Settlement {
	case "", SettlementPush, SettlementPull:
	default:
		return &domain.ValidationError{Op: "create", Err: fmt.Errorf("unknown settlement mode %q", p.Settlement)}
	}
	return nil
}

// PlaceBid accepts value from caller as a new best offer.
func (e *Engine) PlaceBid(caller domain.Identity, value int64, now time.Time) (domain.Offer, error) {
	const op = "placeBid"
	if !caller.Valid() {
		return domain.Offer{}, &domain.ValidationError{Op: op, Err: domain.ErrInvalidIdentity}
	}
	if !now.Before(e.finishTime) {
		return domain.Offer{}, &domain.TimingError{Op: op, Now: now, Deadline: e.finishTime, Err: domain.ErrAuctionEnded}
	}
	if err := e.checkIncrement(value); err != nil {
		return domain.Offer{}, &domain.ValidationError{Op: op, Err: err}
	}
	deposit, ok := safe.CheckedAdd(e.deposits[caller], value)
	if !ok {
		return domain.Offer{}, &domain.ValidationError{Op: op, Err: domain.ErrAmountOverflow}
	}

	tx := e.vault.Begin()
	if err := tx.Receive(caller, value); err != nil {
		tx.Rollback()
		return domain.Offer{}, &domain.ValidationError{Op: op, Err: err}
	}

	extended := false
	if now.After(e.finishTime.Add(-SnipeWindow)) {
		e.finishTime = e.finishTime.Add(SnipeWindow)
		extended = true
	}

	offer := domain.Offer{
		ID:       e.offerID(len(e.offers)),
		Index:    len(e.offers),
		Bidder:   caller,
		Amount:   value,
		Active:   true,
		PlacedAt: now,
	}
	e.offers = append(e.offers, offer)
	e.deposits[caller] = deposit
	e.offerCounts[caller]++
	tx.Commit()

	e.emit(domain.EventOfferAccepted, now, domain.OfferAccepted{
		Offer:      offer,
		FinishTime: e.finishTime,
		Extended:   extended,
	})
	return offer, nil
}

// Winner returns the current best offer.
func (e *Engine) Winner() (domain.Offer, error) {
	if len(e.offers) == 0 {
		return domain.Offer{}, domain.ErrNoOffers
	}
	return e.offers[len(e.offers)-1], nil
}

// ListOffers returns all offers in bid order. An empty auction has no observable offers.
func (e *Engine) ListOffers() ([]domain.Offer, error) {
	if len(e.offers) == 0 {
		return nil, domain.ErrNoOffers
	}
	out := make([]domain.Offer, len(e.offers))
	copy(out, e.offers)
	return out, nil
}

// Finalize settles the auction once, after the deadline, on behalf of the owner.
// Every losing bidder with a positive deposit is owed floor(deposit*98/100)
// exactly once; their deposit is zeroed and the remainder stays as commission.
func (e *Engine) Finalize(caller domain.Identity, now time.Time) (domain.Identity, error) {
	const op = "finalize"
	if caller != e.owner {
		return "", &domain.AuthorizationError{Op: op, Caller: caller, Err: domain.ErrNotOwner}
	}
	if e.finalized {
		return "", &domain.TimingError{Op: op, Now: now, Deadline: e.finishTime, Err: domain.ErrAlreadyFinalized}
	}
	if now.Before(e.finishTime) {
		return "", &domain.TimingError{Op: op, Now: now, Deadline: e.finishTime, Err: domain.ErrAuctionNotEnded}
	}
	best, err := e.Winner()
	if err != nil {
		return "", err
	}

	payouts := e.losingPayouts(best.Bidder)
	prevDeposits := make(map[domain.Identity]int64, len(payouts))
	for _, p := range payouts {
		prevDeposits[p.Bidder] = e.deposits[p.Bidder]
		e.deposits[p.Bidder] = 0
	}
	e.finalized = true
	e.winner = best.Bidder

	switch e.settlement {
	case SettlementPull:
		for _, p := range payouts {
			e.payouts[p.Bidder] = safe.SafeAdd(e.payouts[p.Bidder], p.Amount)
		}
	default:
		tx := e.vault.Begin()
		for _, p := range payouts {
			if p.Amount == 0 {
				continue
			}
			if err := tx.Pay(p.Bidder, p.Amount); err != nil {
				tx.Rollback()
				for bidder, dep := range prevDeposits {
					e.deposits[bidder] = dep
				}
				e.finalized = false
				e.winner = ""
				return "", &domain.TransferError{To: p.Bidder, Amount: p.Amount, Err: err}
			}
		}
		tx.Commit()
	}

	e.emit(domain.EventAuctionFinalized, now, domain.AuctionFinalized{
		Winner:        best.Bidder,
		WinningAmount: best.Amount,
		Settlement:    string(e.settlement),
		Payouts:       payouts,
	})
	return best.Bidder, nil
}

// losingPayouts lists each non-winning bidder with a positive deposit once,
// in order of first offer.
func (e *Engine) losingPayouts(winner domain.Identity) []domain.Payout {
	seen := make(map[domain.Identity]bool)
	payouts := make([]domain.Payout, 0)
	for _, o := range e.offers {
		if o.Bidder == winner || seen[o.Bidder] {
			continue
		}
		seen[o.Bidder] = true
		dep := e.deposits[o.Bidder]
		if dep <= 0 {
			continue
		}
		amount, ok := safe.PercentFloor(dep, PayoutPercent)
		if !ok {
			panic(fmt.Sprintf("PAYOUT_OVERFLOW: %s deposit %d", o.Bidder, dep))
		}
		payouts = append(payouts, domain.Payout{Bidder: o.Bidder, Amount: amount})
	}
	return payouts
}

// RequestPartialRefund returns at most one of the caller's superseded offers.
// The first active offer of the caller whose amount is below the caller's
// deposit is refunded; if none qualifies the call is a no-op and returns nil.
func (e *Engine) RequestPartialRefund(caller domain.Identity, now time.Time) (*domain.Offer, error) {
	const op = "requestPartialRefund"
	deposit := e.deposits[caller]
	if deposit <= 0 {
		return nil, &domain.ValidationError{Op: op, Err: domain.ErrNoDeposit}
	}
	if e.offerCounts[caller] <= 1 {
		return nil, &domain.ValidationError{Op: op, Err: domain.ErrNotEnoughOffers}
	}

	for i := range e.offers {
		o := &e.offers[i]
		if !o.Active || o.Bidder != caller || deposit <= o.Amount {
			continue
		}

		o.Active = false
		e.deposits[caller] = deposit - o.Amount
		e.offerCounts[caller]--

		tx := e.vault.Begin()
		if err := tx.Pay(caller, o.Amount); err != nil {
			tx.Rollback()
			o.Active = true
			e.deposits[caller] = deposit
			e.offerCounts[caller]++
			return nil, &domain.TransferError{To: caller, Amount: o.Amount, Err: err}
		}
		tx.Commit()

		refunded := *o
		e.emit(domain.EventPartialRefund, now, domain.PartialRefund{
			Bidder: caller,
			Offer:  refunded,
			Amount: refunded.Amount,
		})
		return &refunded, nil
	}
	return nil, nil
}

// WithdrawPayout pays out a finalized pull-mode settlement to the caller.
func (e *Engine) WithdrawPayout(caller domain.Identity, now time.Time) (int64, error) {
	const op = "withdrawPayout"
	if e.settlement != SettlementPull {
		return 0, &domain.ValidationError{Op: op, Err: domain.ErrFeatureDisabled}
	}
	if !e.finalized {
		return 0, &domain.TimingError{Op: op, Now: now, Deadline: e.finishTime, Err: domain.ErrNotFinalized}
	}
	amount := e.payouts[caller]
	if amount <= 0 {
		return 0, &domain.ValidationError{Op: op, Err: domain.ErrNothingToWithdraw}
	}

	e.payouts[caller] = 0
	tx := e.vault.Begin()
	if err := tx.Pay(caller, amount); err != nil {
		tx.Rollback()
		e.payouts[caller] = amount
		return 0, &domain.TransferError{To: caller, Amount: amount, Err: err}
	}
	tx.Commit()

	e.emit(domain.EventPayoutWithdrawn, now, domain.PayoutWithdrawn{Bidder: caller, Amount: amount})
	return amount, nil
}

// EmergencyWithdraw sends everything the contract holds to the owner.
// Ledgers are left untouched and no longer match held funds afterwards.
func (e *Engine) EmergencyWithdraw(caller domain.Identity, now time.Time) (int64, error) {
	const op = "emergencyWithdraw"
	if !e.emergencyWithdraw {
		return 0, &domain.AuthorizationError{Op: op, Caller: caller, Err: domain.ErrFeatureDisabled}
	}
	if caller != e.owner {
		return 0, &domain.AuthorizationError{Op: op, Caller: caller, Err: domain.ErrNotOwner}
	}
	held := e.vault.Held()
	if held <= 0 {
		return 0, &domain.ValidationError{Op: op, Err: domain.ErrEmptyHeld}
	}

	tx := e.vault.Begin()
	if err := tx.Pay(e.owner, held); err != nil {
		tx.Rollback()
		return 0, &domain.TransferError{To: e.owner, Amount: held, Err: err}
	}
	tx.Commit()

	e.emit(domain.EventEmergencyWithdrawal, now, domain.EmergencyWithdrawal{Owner: e.owner, Amount: held})
	return held, nil
}

// Phase derives the lifecycle phase at now.
func (e *Engine) Phase(now time.Time) domain.Phase {
	switch {
	case e.finalized:
		return domain.PhaseFinalized
	case !now.Before(e.finishTime):
		return domain.PhaseEnded
	default:
		return domain.PhaseActive
	}
}

func (e *Engine) ID() uuid.UUID                       { return e.id }
func (e *Engine) Owner() domain.Identity              { return e.owner }
func (e *Engine) MinPrice() int64                     { return e.minPrice }
func (e *Engine) FinishTime() time.Time               { return e.finishTime }
func (e *Engine) Finalized() bool                     { return e.finalized }
func (e *Engine) Deposit(id domain.Identity) int64    { return e.deposits[id] }
func (e *Engine) OfferCount(id domain.Identity) int64 { return e.offerCounts[id] }
func (e *Engine) PayoutOwed(id domain.Identity) int64 { return e.payouts[id] }
func (e *Engine) Settlement() SettlementMode          { return e.settlement }

// DrainEvents returns and clears the events emitted since the last drain.
func (e *Engine) DrainEvents() []domain.Event {
	evs := e.events
	e.events = nil
	return evs
}

// checkIncrement is the only acceptance rule for new offers; it keeps the last
// offer the best one.
func (e *Engine) checkIncrement(value int64) error {
	if value <= e.minPrice {
		return fmt.Errorf("%w: %d <= %d", domain.ErrBidBelowMinimum, value, e.minPrice)
	}
	threshold, ok := safe.PercentFloor(e.bestAmount(), BidIncrementPercent)
	if !ok {
		return domain.ErrAmountOverflow
	}
	if value < threshold {
		return fmt.Errorf("%w: %d < %d", domain.ErrBidIncrementTooSmall, value, threshold)
	}
	return nil
}

func (e *Engine) bestAmount() int64 {
	if len(e.offers) == 0 {
		return e.minPrice
	}
	return e.offers[len(e.offers)-1].Amount
}

func (e *Engine) offerID(index int) uuid.UUID {
	return uuid.NewSHA1(e.id, []byte(fmt.Sprintf("offer/%d", index)))
}

func (e *Engine) emit(typ domain.EventType, now time.Time, payload any) {
	e.events = append(e.events, domain.Event{Type: typ, Time: now, Payload: payload})
}
