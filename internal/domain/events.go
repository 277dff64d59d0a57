package domain

import "time"

// EventType names an observable notification.
type EventType string

const (
	EventOfferAccepted       EventType = "offer_accepted"
	EventAuctionFinalized    EventType = "auction_finalized"
	EventEmergencyWithdrawal EventType = "emergency_withdrawal"
	EventPartialRefund       EventType = "partial_refund"
	EventPayoutWithdrawn     EventType = "payout_withdrawn"
)

// Event is a notification emitted by a successful call. It is not part of engine state.
// Seq is the sequence number of the call that produced it.
type Event struct {
	Type    EventType `json:"type"`
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

// OfferAccepted is the payload of EventOfferAccepted.
type OfferAccepted struct {
	Offer      Offer     `json:"offer"`
	FinishTime time.Time `json:"finish_time"`
	Extended   bool      `json:"extended"`
}

// AuctionFinalized is the payload of EventAuctionFinalized.
type AuctionFinalized struct {
	Winner        Identity `json:"winner"`
	WinningAmount int64    `json:"winning_amount"`
	Settlement    string   `json:"settlement"`
	Payouts       []Payout `json:"payouts"`
}

// EmergencyWithdrawal is the payload of EventEmergencyWithdrawal.
type EmergencyWithdrawal struct {
	Owner  Identity `json:"owner"`
	Amount int64    `json:"amount"`
}

// PartialRefund is the payload of EventPartialRefund.
type PartialRefund struct {
	Bidder Identity `json:"bidder"`
	Offer  Offer    `json:"offer"`
	Amount int64    `json:"amount"`
}

// PayoutWithdrawn is the payload of EventPayoutWithdrawn.
type PayoutWithdrawn struct {
	Bidder Identity `json:"bidder"`
	Amount int64    `json:"amount"`
}
