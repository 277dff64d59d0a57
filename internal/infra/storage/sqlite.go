package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"auction_go/internal/auction"
	"auction_go/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Storage persists the call journal and the latest auction state in SQLite.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the database at dbPath and migrates the schema.
func NewStorage(dbPath string) (*Storage, error) {
	// Ensure directory exists
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrate(db); err != nil {
		return nil, err
	}
	return &Storage{db: db}, nil
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&domain.AuctionRecord{},
		&domain.OfferRecord{},
		&domain.LedgerEntry{},
		&domain.TreasuryAccount{},
		&domain.CallRecord{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Journal
// ======================================================================================

// CommitCall journals a successful call and writes the resulting state in one transaction.
func (s *Storage) CommitCall(ctx context.Context, rec domain.CallRecord, state auction.State, accounts []domain.Balance) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("journal call %d: %w", rec.Seq, err)
		}
		return saveState(tx, state, accounts, rec.Seq)
	})
}

// RecordRejectedCall journals a failed call. No state is written.
func (s *Storage) RecordRejectedCall(ctx context.Context, rec domain.CallRecord) error {
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("journal call %d: %w", rec.Seq, err)
	}
	return nil
}

// SaveState writes state without a journal entry, e.g. when the auction is created.
func (s *Storage) SaveState(ctx context.Context, state auction.State, accounts []domain.Balance, lastSeq uint64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return saveState(tx, state, accounts, lastSeq)
	})
}

// Calls returns the most recent journal entries, newest first.
func (s *Storage) Calls(ctx context.Context, limit int) ([]domain.CallRecord, error) {
	var recs []domain.CallRecord
	err := s.db.WithContext(ctx).Order("seq DESC").Limit(limit).Find(&recs).Error
	return recs, err
}

func saveState(tx *gorm.DB, state auction.State, accounts []domain.Balance, lastSeq uint64) error {
	upsert := clause.OnConflict{UpdateAll: true}
	auctionID := state.ID.String()

	header := domain.AuctionRecord{
		ID:                auctionID,
		Owner:             string(state.Owner),
		MinPrice:          state.MinPrice,
		StartTime:         state.StartTime,
		FinishTime:        state.FinishTime,
		DurationNs:        int64(state.Duration),
		Finalized:         state.Finalized,
		Winner:            string(state.Winner),
		Settlement:        string(state.Settlement),
		EmergencyWithdraw: state.EmergencyWithdraw,
		LastSeq:           lastSeq,
		UpdatedAt:         time.Now().UTC(),
	}
	if err := tx.Save(&header).Error; err != nil {
		return fmt.Errorf("save auction: %w", err)
	}

	if len(state.Offers) > 0 {
		offers := make([]domain.OfferRecord, 0, len(state.Offers))
		for _, o := range state.Offers {
			offers = append(offers, domain.OfferRecord{
				ID:        o.ID.String(),
				AuctionID: auctionID,
				Index:     o.Index,
				Bidder:    string(o.Bidder),
				Amount:    o.Amount,
				Active:    o.Active,
				PlacedAt:  o.PlacedAt,
			})
		}
		if err := tx.Clauses(upsert).Create(&offers).Error; err != nil {
			return fmt.Errorf("save offers: %w", err)
		}
	}

	if len(state.Ledger) > 0 {
		rows := make([]domain.LedgerEntry, 0, len(state.Ledger))
		for _, r := range state.Ledger {
			rows = append(rows, domain.LedgerEntry{
				AuctionID:  auctionID,
				Bidder:     string(r.Bidder),
				Deposit:    r.Deposit,
				OfferCount: r.OfferCount,
				Payout:     r.Payout,
			})
		}
		if err := tx.Clauses(upsert).Create(&rows).Error; err != nil {
			return fmt.Errorf("save ledger: %w", err)
		}
	}

	if len(accounts) > 0 {
		recs := make([]domain.TreasuryAccount, 0, len(accounts))
		for _, b := range accounts {
			recs = append(recs, domain.TreasuryAccount{
				Holder:   string(b.Holder),
				Amount:   b.Amount,
				Reserved: b.Reserved,
				LastSeq:  b.LastSeq,
			})
		}
		if err := tx.Clauses(upsert).Create(&recs).Error; err != nil {
			return fmt.Errorf("save treasury: %w", err)
		}
	}
	return nil
}

// ======================================================================================
// Recovery
// ======================================================================================

// Snapshot is everything needed to resume after a restart.
type Snapshot struct {
	State    auction.State
	Accounts []domain.Balance
	// LastSeq is the highest journaled sequence, including rejected calls.
	LastSeq uint64
}

// LoadSnapshot returns the persisted auction, or nil if none was created yet.
func (s *Storage) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	db := s.db.WithContext(ctx)

	var header domain.AuctionRecord
	err := db.Order("updated_at DESC").First(&header).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // No auction yet is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("load auction: %w", err)
	}

	id, err := uuid.Parse(header.ID)
	if err != nil {
		return nil, fmt.Errorf("load auction: bad id %q: %w", header.ID, err)
	}

	state := auction.State{
		ID:                id,
		Owner:             domain.Identity(header.Owner),
		MinPrice:          header.MinPrice,
		StartTime:         header.StartTime,
		FinishTime:        header.FinishTime,
		Duration:          time.Duration(header.DurationNs),
		Settlement:        auction.SettlementMode(header.Settlement),
		EmergencyWithdraw: header.EmergencyWithdraw,
		Finalized:         header.Finalized,
		Winner:            domain.Identity(header.Winner),
		Offers:            make([]domain.Offer, 0),
		Ledger:            make([]auction.LedgerRow, 0),
	}

	var offers []domain.OfferRecord
	if err := db.Where("auction_id = ?", header.ID).Order("offer_index").Find(&offers).Error; err != nil {
		return nil, fmt.Errorf("load offers: %w", err)
	}
	for _, r := range offers {
		oid, err := uuid.Parse(r.ID)
		if err != nil {
			return nil, fmt.Errorf("load offers: bad id %q: %w", r.ID, err)
		}
		state.Offers = append(state.Offers, domain.Offer{
			ID:       oid,
			Index:    r.Index,
			Bidder:   domain.Identity(r.Bidder),
			Amount:   r.Amount,
			Active:   r.Active,
			PlacedAt: r.PlacedAt,
		})
	}

	var rows []domain.LedgerEntry
	if err := db.Where("auction_id = ?", header.ID).Order("bidder").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	for _, r := range rows {
		state.Ledger = append(state.Ledger, auction.LedgerRow{
			Bidder:     domain.Identity(r.Bidder),
			Deposit:    r.Deposit,
			OfferCount: r.OfferCount,
			Payout:     r.Payout,
		})
	}

	var recs []domain.TreasuryAccount
	if err := db.Order("holder").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("load treasury: %w", err)
	}
	accounts := make([]domain.Balance, 0, len(recs))
	for _, r := range recs {
		accounts = append(accounts, domain.Balance{
			Holder:   domain.Identity(r.Holder),
			Amount:   r.Amount,
			Reserved: r.Reserved,
			LastSeq:  r.LastSeq,
		})
	}

	var maxSeq uint64
	if err := db.Model(&domain.CallRecord{}).Select("COALESCE(MAX(seq), 0)").Scan(&maxSeq).Error; err != nil {
		return nil, fmt.Errorf("load journal head: %w", err)
	}
	if header.LastSeq > maxSeq {
		maxSeq = header.LastSeq
	}

	return &Snapshot{State: state, Accounts: accounts, LastSeq: maxSeq}, nil
}
