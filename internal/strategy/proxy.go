package strategy

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"auction_go/internal/auction"
	"auction_go/internal/domain"
	"auction_go/internal/infra/feed"
	"auction_go/pkg/safe"
)

// ProxyBidder outbids everyone else with the smallest acceptable amount,
// up to a fixed limit. It is stateful and deterministic.
type ProxyBidder struct {
	self     domain.Identity
	limit    int64
	minPrice int64

	// State
	best    int64 // 0 while there are no offers
	leader  domain.Identity
	lastSeq uint64
	pending int64 // value of the bid we already asked for at the current best
	done    bool
}

// ErrLimitTooLow is returned when the limit cannot buy any offer.
var ErrLimitTooLow = errors.New("limit must exceed the minimum price")

// NewProxyBidder creates a bidder for self that never bids above limit.
func NewProxyBidder(self domain.Identity, minPrice, limit int64) (*ProxyBidder, error) {
	if limit <= minPrice {
		return nil, fmt.Errorf("%w: limit %d, minimum %d", ErrLimitTooLow, limit, minPrice)
	}
	return &ProxyBidder{self: self, limit: limit, minPrice: minPrice}, nil
}

// Seed sets the starting position from a state read. Frames at or below
// lastSeq are ignored afterwards.
func (p *ProxyBidder) Seed(best int64, leader domain.Identity, lastSeq uint64, finalized bool) []Action {
	p.best, p.leader, p.lastSeq, p.done = best, leader, lastSeq, finalized
	return p.respond()
}

// OnFrame processes feed frames and generates bids.
func (p *ProxyBidder) OnFrame(f feed.Frame) []Action {
	if p.done || (f.Seq != 0 && f.Seq <= p.lastSeq) {
		return nil
	}
	p.lastSeq = f.Seq

	switch f.Type {
	case domain.EventOfferAccepted:
		var ev domain.OfferAccepted
		if err := json.Unmarshal(f.Payload, &ev); err != nil {
			slog.Warn("Proxy bidder skipped malformed frame", slog.Uint64("seq", f.Seq), slog.Any("error", err))
			return nil
		}
		p.best, p.leader = ev.Offer.Amount, ev.Offer.Bidder
		return p.respond()
	case domain.EventAuctionFinalized:
		p.done = true
		return []Action{{Type: ActionStop}}
	}
	return nil
}

// NextMinimum is the smallest amount the auction accepts after best.
// best is 0 when there are no offers.
func NextMinimum(minPrice, best int64) (int64, bool) {
	base := best
	if base == 0 {
		base = minPrice
	}
	next, ok := safe.PercentFloor(base, auction.BidIncrementPercent)
	if !ok {
		return 0, false
	}
	if next <= minPrice {
		next = minPrice + 1
	}
	if next <= best {
		next = best + 1
	}
	return next, true
}

func (p *ProxyBidder) respond() []Action {
	if p.done || p.leader == p.self {
		return nil
	}
	next, ok := NextMinimum(p.minPrice, p.best)
	if !ok || next > p.limit || next == p.pending {
		return nil
	}
	p.pending = next
	return []Action{{Type: ActionBid, Value: next}}
}
