package engine

import (
	"context"

	"auction_go/internal/auction"
	"auction_go/internal/domain"
	"auction_go/internal/event"
)

// Submit enqueues c and waits for its result. If ctx ends first the call may
// still be applied; its outcome is then only visible in the journal.
func (s *Sequencer) Submit(ctx context.Context, c *event.Call) (event.Result, error) {
	select {
	case s.inbox <- c:
	case <-ctx.Done():
		return event.Result{}, ctx.Err()
	}
	select {
	case r := <-c.Reply():
		return r, nil
	case <-ctx.Done():
		return event.Result{}, ctx.Err()
	}
}

// Do runs one call through the sequencer. The returned error is either the
// submission error or the call's own error.
func (s *Sequencer) Do(ctx context.Context, kind event.Kind, caller domain.Identity, value int64, subject domain.Identity) (event.Result, error) {
	c := event.AcquireCall()
	c.Kind = kind
	c.Caller = caller
	c.Value = value
	c.Subject = subject

	res, err := s.Submit(ctx, c)
	if err != nil {
		// The sequencer may still hold c; leave it to the GC.
		return res, err
	}
	event.ReleaseCall(c)
	return res, res.Err
}

func (s *Sequencer) PlaceBid(ctx context.Context, caller domain.Identity, value int64) (domain.Offer, error) {
	res, err := s.Do(ctx, event.KindPlaceBid, caller, value, "")
	if err != nil {
		return domain.Offer{}, err
	}
	return res.Value.(domain.Offer), nil
}

func (s *Sequencer) Winner(ctx context.Context) (domain.Offer, error) {
	res, err := s.Do(ctx, event.KindWinner, "", 0, "")
	if err != nil {
		return domain.Offer{}, err
	}
	return res.Value.(domain.Offer), nil
}

func (s *Sequencer) ListOffers(ctx context.Context) ([]domain.Offer, error) {
	res, err := s.Do(ctx, event.KindListOffers, "", 0, "")
	if err != nil {
		return nil, err
	}
	return res.Value.([]domain.Offer), nil
}

func (s *Sequencer) Finalize(ctx context.Context, caller domain.Identity) (domain.Identity, error) {
	res, err := s.Do(ctx, event.KindFinalize, caller, 0, "")
	if err != nil {
		return "", err
	}
	return res.Value.(domain.Identity), nil
}

// RequestPartialRefund returns the refunded offer, or nil when nothing qualified.
func (s *Sequencer) RequestPartialRefund(ctx context.Context, caller domain.Identity) (*domain.Offer, error) {
	res, err := s.Do(ctx, event.KindPartialRefund, caller, 0, "")
	if err != nil {
		return nil, err
	}
	return res.Value.(*domain.Offer), nil
}

func (s *Sequencer) WithdrawPayout(ctx context.Context, caller domain.Identity) (int64, error) {
	res, err := s.Do(ctx, event.KindWithdrawPayout, caller, 0, "")
	if err != nil {
		return 0, err
	}
	return res.Value.(int64), nil
}

func (s *Sequencer) EmergencyWithdraw(ctx context.Context, caller domain.Identity) (int64, error) {
	res, err := s.Do(ctx, event.KindEmergencyWithdraw, caller, 0, "")
	if err != nil {
		return 0, err
	}
	return res.Value.(int64), nil
}

func (s *Sequencer) State(ctx context.Context) (StateView, error) {
	res, err := s.Do(ctx, event.KindState, "", 0, "")
	if err != nil {
		return StateView{}, err
	}
	return res.Value.(StateView), nil
}

// Ledger returns the deposit, offer count and claimable payout of id.
func (s *Sequencer) Ledger(ctx context.Context, id domain.Identity) (auction.LedgerRow, error) {
	res, err := s.Do(ctx, event.KindLedger, "", 0, id)
	if err != nil {
		return auction.LedgerRow{}, err
	}
	return res.Value.(auction.LedgerRow), nil
}
