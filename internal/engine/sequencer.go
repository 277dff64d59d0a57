package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"auction_go/internal/auction"
	"auction_go/internal/domain"
	"auction_go/internal/event"
	"auction_go/internal/infra"
)

// Vault is the treasury as seen by the sequencer: a value-transfer primitive
// that can be stamped with the current call and snapshotted for persistence.
type Vault interface {
	domain.Vault
	SetSequence(seq uint64)
	Snapshot() []domain.Balance
}

// Store is the permanent persistence of the call journal and state.
type Store interface {
	CommitCall(ctx context.Context, rec domain.CallRecord, state auction.State, accounts []domain.Balance) error
	RecordRejectedCall(ctx context.Context, rec domain.CallRecord) error
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Sequencer is the single-threaded execution environment of the auction.
// Every call runs to completion before the next one starts; a call either
// fully applies or leaves no trace besides its journal entry.
type Sequencer struct {
	inbox   chan *event.Call
	engine  *auction.Engine
	vault   Vault
	store   Store
	nextSeq uint64
	lastNow time.Time

	clock     domain.Clock
	publisher domain.EventPublisher
	metrics   *infra.Metrics
	dumpPath  string

	mu sync.RWMutex // Used only for external reads
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithClock replaces the system clock.
func WithClock(c domain.Clock) Option {
	return func(s *Sequencer) { s.clock = c }
}

// WithPublisher sets the sink for events of successful calls.
func WithPublisher(p domain.EventPublisher) Option {
	return func(s *Sequencer) { s.publisher = p }
}

// WithMetrics replaces infra.GlobalMetrics.
func WithMetrics(m *infra.Metrics) Option {
	return func(s *Sequencer) { s.metrics = m }
}

// WithDumpPath sets where state is dumped on a halt.
func WithDumpPath(path string) Option {
	return func(s *Sequencer) { s.dumpPath = path }
}

// WithLastSeq resumes numbering after a journal head loaded from storage.
func WithLastSeq(seq uint64) Option {
	return func(s *Sequencer) { s.nextSeq = seq + 1 }
}

// NewSequencer creates a new sequencer instance. store may be nil.
func NewSequencer(inboxSize int, eng *auction.Engine, vault Vault, store Store, opts ...Option) *Sequencer {
	s := &Sequencer{
		inbox:    make(chan *event.Call, inboxSize),
		engine:   eng,
		vault:    vault,
		store:    store,
		nextSeq:  1,
		clock:    SystemClock{},
		metrics:  infra.GlobalMetrics,
		dumpPath: infra.DefaultDumpPath,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Inbox returns the call channel.
func (s *Sequencer) Inbox() chan<- *event.Call {
	return s.inbox
}

// Run starts the main call loop. This MUST be run in a single goroutine.
func (s *Sequencer) Run(ctx context.Context) {
	slog.Info("Sequencer started", slog.String("auction", s.engine.ID().String()), slog.Uint64("next_seq", s.nextSeq))

	defer func() {
		if r := recover(); r != nil {
			slog.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			s.DumpState(s.dumpPath)
			// Halt after dump.
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Sequencer stopping...")
			return
		case c := <-s.inbox:
			s.processCall(c)
		}
	}
}

func (s *Sequencer) processCall(c *event.Call) {
	started := time.Now()

	// 1. Time is read once per call and never goes backwards
	now := s.clock.Now()
	if now.Before(s.lastNow) {
		now = s.lastNow
	}
	s.lastNow = now

	// 2. Sequence Gap Check (Halt Policy)
	mutating := c.Kind.Mutates()
	var seq uint64
	if mutating {
		if c.Seq != 0 && c.Seq != s.nextSeq {
			panic(fmt.Sprintf("SEQUENCE_GAP_DETECTED: expected %d, got %d", s.nextSeq, c.Seq))
		}
		seq = s.nextSeq
		s.vault.SetSequence(seq)
	}

	// 3. Logic Dispatch
	s.mu.Lock()
	var value any
	var err error
	if c.Value != 0 && c.Kind != event.KindPlaceBid {
		err = &domain.ValidationError{Op: string(c.Kind), Err: domain.ErrUnsolicitedValue}
	} else {
		value, err = s.dispatch(c, now)
	}

	// 4. Persistence before anything becomes observable
	if mutating {
		s.persist(c, seq, now, err)
		s.nextSeq++
	}
	s.mu.Unlock()

	events := s.engine.DrainEvents()
	for i := range events {
		events[i].Seq = seq
		s.observe(events[i])
		if s.publisher != nil {
			s.publisher.Publish(events[i])
		}
	}

	s.metrics.RecordCall(time.Since(started).Nanoseconds(), err != nil)
	if mutating {
		s.metrics.SetLastSeq(seq)
		s.metrics.SetHeld(s.vault.Held())
	}
	if err != nil {
		var te *domain.TransferError
		if errors.As(err, &te) {
			s.metrics.RecordTransferFailure()
		}
		slog.Warn("CALL_REJECTED",
			slog.String("kind", string(c.Kind)),
			slog.String("caller", string(c.Caller)),
			slog.Uint64("seq", seq),
			slog.String("error_kind", string(domain.KindOf(err))),
			slog.Any("error", err))
	}

	c.Resolve(event.Result{Seq: seq, Now: now, Value: value, Err: err})
}

func (s *Sequencer) dispatch(c *event.Call, now time.Time) (any, error) {
	e := s.engine
	switch c.Kind {
	case event.KindPlaceBid:
		return e.PlaceBid(c.Caller, c.Value, now)
	case event.KindWinner:
		return e.Winner()
	case event.KindListOffers:
		return e.ListOffers()
	case event.KindFinalize:
		return e.Finalize(c.Caller, now)
	case event.KindPartialRefund:
		return e.RequestPartialRefund(c.Caller, now)
	case event.KindWithdrawPayout:
		return e.WithdrawPayout(c.Caller, now)
	case event.KindEmergencyWithdraw:
		return e.EmergencyWithdraw(c.Caller, now)
	case event.KindState:
		return s.stateView(now), nil
	case event.KindLedger:
		return auction.LedgerRow{
			Bidder:     c.Subject,
			Deposit:    e.Deposit(c.Subject),
			OfferCount: e.OfferCount(c.Subject),
			Payout:     e.PayoutOwed(c.Subject),
		}, nil
	default:
		return nil, &domain.ValidationError{Op: string(c.Kind), Err: fmt.Errorf("unknown call kind %q", c.Kind)}
	}
}

func (s *Sequencer) persist(c *event.Call, seq uint64, now time.Time, callErr error) {
	if s.store == nil {
		return
	}
	rec := domain.CallRecord{
		Seq:     seq,
		Kind:    string(c.Kind),
		Caller:  string(c.Caller),
		Value:   c.Value,
		Now:     now,
		Outcome: "ok",
	}

	ctx := context.Background()
	var err error
	if callErr != nil {
		rec.Outcome = string(domain.KindOf(callErr))
		rec.Error = callErr.Error()
		err = s.store.RecordRejectedCall(ctx, rec)
	} else {
		err = s.store.CommitCall(ctx, rec, s.engine.Snapshot(), s.vault.Snapshot())
	}
	if err != nil {
		panic(fmt.Sprintf("PERSISTENCE_FAILURE: %v", err))
	}
}

func (s *Sequencer) observe(ev domain.Event) {
	switch ev.Type {
	case domain.EventOfferAccepted:
		s.metrics.RecordBid()
		p := ev.Payload.(domain.OfferAccepted)
		slog.Info("OFFER_ACCEPTED",
			slog.Uint64("seq", ev.Seq),
			slog.String("bidder", string(p.Offer.Bidder)),
			slog.Int64("amount", p.Offer.Amount),
			slog.Bool("extended", p.Extended),
			slog.Time("finish_time", p.FinishTime))
	case domain.EventPartialRefund:
		s.metrics.RecordRefund()
	case domain.EventAuctionFinalized:
		s.metrics.RecordSettlement()
		p := ev.Payload.(domain.AuctionFinalized)
		slog.Info("AUCTION_FINALIZED",
			slog.Uint64("seq", ev.Seq),
			slog.String("winner", string(p.Winner)),
			slog.Int64("amount", p.WinningAmount),
			slog.Int("payouts", len(p.Payouts)))
	case domain.EventEmergencyWithdrawal:
		p := ev.Payload.(domain.EmergencyWithdrawal)
		slog.Warn("EMERGENCY_WITHDRAWAL", slog.Uint64("seq", ev.Seq), slog.Int64("amount", p.Amount))
	}
}

// StateView is the state() read: the engine snapshot plus derived values.
type StateView struct {
	auction.State
	Phase   domain.Phase `json:"phase"`
	Held    int64        `json:"held"`
	LastSeq uint64       `json:"last_seq"`
}

func (s *Sequencer) stateView(now time.Time) StateView {
	st := s.engine.Snapshot()
	if !st.Finalized {
		st.Winner = ""
	}
	return StateView{
		State:   st,
		Phase:   s.engine.Phase(now),
		Held:    s.vault.Held(),
		LastSeq: s.nextSeq - 1,
	}
}

// LastSeq returns the last assigned sequence number (external read).
func (s *Sequencer) LastSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextSeq - 1
}

// DumpState writes the entire internal state to a file (for post-mortem).
func (s *Sequencer) DumpState(filename string) {
	slog.Info("Dumping internal state...", slog.String("file", filename))

	data := struct {
		NextSeq  uint64           `json:"next_seq"`
		Auction  auction.State    `json:"auction"`
		Accounts []domain.Balance `json:"accounts"`
	}{
		NextSeq:  s.nextSeq,
		Auction:  s.engine.Snapshot(),
		Accounts: s.vault.Snapshot(),
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		slog.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	err = os.WriteFile(filename, b, 0644)
	if err != nil {
		slog.Error("Failed to write state dump", slog.Any("error", err))
	}
}
