package auction

import (
	"fmt"
	"sort"
	"time"

	"auction_go/internal/domain"

	"github.com/google/uuid"
)

// LedgerRow is one bidder's ledger values.
type LedgerRow struct {
	Bidder     domain.Identity `json:"bidder"`
	Deposit    int64           `json:"deposit"`
	OfferCount int64           `json:"offer_count"`
	Payout     int64           `json:"payout"`
}

// State is a full copy of the engine state, used for persistence, restore and reads.
type State struct {
	ID                uuid.UUID       `json:"id"`
	Owner             domain.Identity `json:"owner"`
	MinPrice          int64           `json:"min_price"`
	StartTime         time.Time       `json:"start_time"`
	FinishTime        time.Time       `json:"finish_time"`
	Duration          time.Duration   `json:"duration"`
	Settlement        SettlementMode  `json:"settlement"`
	EmergencyWithdraw bool            `json:"emergency_withdraw"`
	Finalized         bool            `json:"finalized"`
	Winner            domain.Identity `json:"winner,omitempty"`
	Offers            []domain.Offer  `json:"offers"`
	Ledger            []LedgerRow     `json:"ledger"`
}

// Snapshot copies the engine state. Ledger rows are ordered by bidder.
func (e *Engine) Snapshot() State {
	offers := make([]domain.Offer, len(e.offers))
	copy(offers, e.offers)

	bidders := make(map[domain.Identity]struct{})
	for id := range e.deposits {
		bidders[id] = struct{}{}
	}
	for id := range e.offerCounts {
		bidders[id] = struct{}{}
	}
	for id := range e.payouts {
		bidders[id] = struct{}{}
	}
	ledger := make([]LedgerRow, 0, len(bidders))
	for id := range bidders {
		ledger = append(ledger, LedgerRow{
			Bidder:     id,
			Deposit:    e.deposits[id],
			OfferCount: e.offerCounts[id],
			Payout:     e.payouts[id],
		})
	}
	sort.Slice(ledger, func(i, j int) bool {
		return ledger[i].Bidder < ledger[j].Bidder
	})

	return State{
		ID:                e.id,
		Owner:             e.owner,
		MinPrice:          e.minPrice,
		StartTime:         e.startTime,
		FinishTime:        e.finishTime,
		Duration:          e.duration,
		Settlement:        e.settlement,
		EmergencyWithdraw: e.emergencyWithdraw,
		Finalized:         e.finalized,
		Winner:            e.winner,
		Offers:            offers,
		Ledger:            ledger,
	}
}

// Restore rebuilds an engine from a snapshot. The offer sequence must still be
// strictly increasing by the bid increment, otherwise the snapshot is rejected.
func Restore(s State, vault domain.Vault) (*Engine, error) {
	e, err := New(Params{
		ID:                s.ID,
		Owner:             s.Owner,
		MinPrice:          s.MinPrice,
		Duration:          s.Duration,
		StartTime:         s.StartTime,
		Settlement:        s.Settlement,
		EmergencyWithdraw: s.EmergencyWithdraw,
	}, vault)
	if err != nil {
		return nil, fmt.Errorf("restore auction %s: %w", s.ID, err)
	}
	e.finishTime = s.FinishTime
	e.finalized = s.Finalized
	e.winner = s.Winner

	for i, o := range s.Offers {
		if o.Index != i {
			return nil, fmt.Errorf("restore auction %s: offer %d has index %d", s.ID, i, o.Index)
		}
		if err := e.checkIncrement(o.Amount); err != nil {
			return nil, fmt.Errorf("restore auction %s: offer %d: %w", s.ID, i, err)
		}
		e.offers = append(e.offers, o)
	}
	for _, row := range s.Ledger {
		if row.Deposit != 0 {
			e.deposits[row.Bidder] = row.Deposit
		}
		if row.OfferCount != 0 {
			e.offerCounts[row.Bidder] = row.OfferCount
		}
		if row.Payout != 0 {
			e.payouts[row.Bidder] = row.Payout
		}
	}
	return e, nil
}
