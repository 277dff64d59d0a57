package domain

import (
	"time"
)

// AuctionRecord is the persisted auction header.
type AuctionRecord struct {
	ID                string    `gorm:"primaryKey" json:"id"`
	Owner             string    `json:"owner"`
	MinPrice          int64     `json:"min_price"`
	StartTime         time.Time `json:"start_time"`
	FinishTime        time.Time `json:"finish_time"`
	DurationNs        int64     `json:"duration_ns"`
	Finalized         bool      `json:"finalized"`
	Winner            string    `json:"winner"`
	Settlement        string    `json:"settlement"`
	EmergencyWithdraw bool      `json:"emergency_withdraw"`
	LastSeq           uint64    `json:"last_seq"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// OfferRecord is one persisted offer.
type OfferRecord struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	AuctionID string    `gorm:"index" json:"auction_id"`
	Index     int       `gorm:"column:offer_index;index" json:"index"`
	Bidder    string    `gorm:"index" json:"bidder"`
	Amount    int64     `json:"amount"`
	Active    bool      `json:"active"`
	PlacedAt  time.Time `json:"placed_at"`
}

// LedgerEntry holds per-bidder ledger values: deposit, offer count and claimable payout.
type LedgerEntry struct {
	AuctionID  string `gorm:"primaryKey" json:"auction_id"`
	Bidder     string `gorm:"primaryKey" json:"bidder"`
	Deposit    int64  `json:"deposit"`
	OfferCount int64  `json:"offer_count"`
	Payout     int64  `json:"payout"`
}

// TreasuryAccount is a persisted treasury balance.
type TreasuryAccount struct {
	Holder   string `gorm:"primaryKey" json:"holder"`
	Amount   int64  `json:"amount"`
	Reserved int64  `json:"reserved"`
	LastSeq  uint64 `json:"last_seq"`
}

// CallRecord journals one mutating call and its outcome.
type CallRecord struct {
	Seq       uint64    `gorm:"primaryKey;autoIncrement:false" json:"seq"`
	Kind      string    `gorm:"index" json:"kind"`
	Caller    string    `gorm:"index" json:"caller"`
	Value     int64     `json:"value"`
	Now       time.Time `json:"now"`
	Outcome   string    `json:"outcome"` // "ok" or the error kind
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
