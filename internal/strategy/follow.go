package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"auction_go/internal/api"
	"auction_go/internal/domain"
	"auction_go/internal/engine"
	"auction_go/internal/infra/feed"
)

// Feed is a live event subscription.
type Feed interface {
	Connect(ctx context.Context) error
	WaitReady(ctx context.Context) error
}

// Auction is the remote surface a bidder acts on.
type Auction interface {
	State(ctx context.Context) (engine.StateView, error)
	PlaceBid(ctx context.Context, value int64) (domain.Offer, error)
}

// Follow proxy-bids for self up to limit until the auction is finalized or ctx ends.
// The feed is subscribed before the state is read; frames already covered by
// the state are skipped by sequence, so no offer falls between the two.
// onFrame, if set, sees every frame.
func Follow(ctx context.Context, sub Feed, frames <-chan feed.Frame, a Auction, self domain.Identity, limit int64, onFrame func(feed.Frame)) error {
	if err := sub.Connect(ctx); err != nil {
		return fmt.Errorf("connect feed: %w", err)
	}
	if err := sub.WaitReady(ctx); err != nil {
		return fmt.Errorf("wait for feed: %w", err)
	}

	view, err := a.State(ctx)
	if err != nil {
		return fmt.Errorf("read auction state: %w", err)
	}
	p, err := NewProxyBidder(self, view.MinPrice, limit)
	if err != nil {
		return err
	}
	if view.Finalized {
		slog.Info("Auction already finalized")
		return nil
	}

	var best int64
	var leader domain.Identity
	if n := len(view.Offers); n > 0 {
		best, leader = view.Offers[n-1].Amount, view.Offers[n-1].Bidder
	}
	execute(ctx, a, p.Seed(best, leader, view.LastSeq, false))

	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-frames:
			if onFrame != nil {
				onFrame(f)
			}
			if !execute(ctx, a, p.OnFrame(f)) {
				return nil
			}
		}
	}
}

// execute runs strategy actions. It returns false once the strategy stops.
func execute(ctx context.Context, a Auction, actions []Action) bool {
	for _, act := range actions {
		switch act.Type {
		case ActionBid:
			if _, err := a.PlaceBid(ctx, act.Value); err != nil {
				var apiErr *api.Error
				if errors.As(err, &apiErr) && apiErr.Kind == string(domain.KindValidation) {
					slog.Info("Bid outpaced", slog.Int64("value", act.Value), slog.String("reason", apiErr.Message))
					continue
				}
				slog.Error("Bid failed", slog.Int64("value", act.Value), slog.Any("error", err))
			}
		case ActionStop:
			slog.Info("Auction finalized, stopping")
			return false
		}
	}
	return true
}
