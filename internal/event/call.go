// Package event defines the call envelopes submitted to the Sequencer.
package event

import (
	"time"

	"auction_go/internal/domain"
)

// Kind names an auction operation.
type Kind string

const (
	KindPlaceBid          Kind = "place_bid"
	KindWinner            Kind = "winner"
	KindListOffers        Kind = "list_offers"
	KindFinalize          Kind = "finalize"
	KindPartialRefund     Kind = "partial_refund"
	KindWithdrawPayout    Kind = "withdraw_payout"
	KindEmergencyWithdraw Kind = "emergency_withdraw"
	KindState             Kind = "state"
	KindLedger            Kind = "ledger"
)

// Mutates reports whether the operation may change state. Only mutating calls
// are assigned a sequence number and journaled.
func (k Kind) Mutates() bool {
	switch k {
	case KindPlaceBid, KindFinalize, KindPartialRefund, KindWithdrawPayout, KindEmergencyWithdraw:
		return true
	default:
		return false
	}
}

// Call is one invocation by an authenticated caller.
type Call struct {
	// Seq is assigned by the Sequencer. A non-zero value is checked against
	// the expected sequence instead.
	Seq    uint64
	Kind   Kind
	Caller domain.Identity
	// Value attached to the call, in base units.
	Value int64
	// Subject is the identity looked up by KindLedger.
	Subject domain.Identity

	reply chan Result
}

// Result is the outcome of a Call.
type Result struct {
	Seq   uint64
	Now   time.Time
	Value any
	Err   error
}

// Reply returns the channel the Result is delivered on.
func (c *Call) Reply() <-chan Result {
	return c.reply
}

// Resolve delivers r. It never blocks: each call is resolved once into a buffered channel.
func (c *Call) Resolve(r Result) {
	select {
	case c.reply <- r:
	default:
	}
}
