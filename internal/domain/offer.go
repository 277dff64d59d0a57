package domain

import (
	"time"

	"github.com/google/uuid"
)

// Identity is the unforgeable identity of a caller (an account address).
type Identity string

// Valid reports whether the identity is usable as a caller.
func (id Identity) Valid() bool {
	return id != ""
}

func (id Identity) String() string {
	return string(id)
}

// Offer is one accepted bid.
// Bidder and Amount never change once appended; Active flips true->false at most once.
type Offer struct {
	ID       uuid.UUID `json:"id"`
	Index    int       `json:"index"`
	Bidder   Identity  `json:"bidder"`
	Amount   int64     `json:"amount"`
	Active   bool      `json:"active"`
	PlacedAt time.Time `json:"placed_at"`
}

// Phase is derived from time and the finalized flag, never stored.
type Phase string

const (
	PhaseActive    Phase = "active"
	PhaseEnded     Phase = "ended"
	PhaseFinalized Phase = "finalized"
)

// Payout is a settlement amount owed to a losing bidder.
type Payout struct {
	Bidder Identity `json:"bidder"`
	Amount int64    `json:"amount"`
}
