// Command bidder follows an auction's event feed, prints each frame and,
// when given credentials and a limit, proxy-bids up to that limit.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"auction_go/internal/api"
	"auction_go/internal/domain"
	"auction_go/internal/infra/auth"
	"auction_go/internal/infra/feed"
	"auction_go/internal/strategy"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "auction api base url")
	identity := flag.String("identity", "", "bidder identity (empty: watch only)")
	limit := flag.Int64("limit", 0, "highest amount to bid, in base units")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var signer *auth.Signer
	if *identity != "" {
		signer = auth.NewSigner(domain.Identity(*identity), os.Getenv("AUCTION_SECRET"))
	}
	client := api.NewClient(*baseURL, signer)

	frames := make(chan feed.Frame, 64)
	sub := feed.NewSubscriber(feedURL(*baseURL), frames)
	defer sub.Close()

	if signer != nil && *limit > 0 {
		err := strategy.Follow(ctx, sub, frames, client, domain.Identity(*identity), *limit, printFrame)
		if errors.Is(err, strategy.ErrLimitTooLow) {
			fmt.Fprintf(os.Stderr, "bidder: %v\n", err)
			flag.Usage()
			os.Exit(2)
		}
		if err != nil {
			slog.Error("Proxy bidding failed", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	if err := sub.Connect(ctx); err != nil {
		slog.Error("Failed to connect feed", slog.Any("error", err))
		os.Exit(1)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-frames:
			printFrame(f)
		}
	}
}

func printFrame(f feed.Frame) {
	fmt.Printf("#%d %s %s %s %s\n", f.Seq, f.Time.Format("15:04:05"), f.Type, f.Amount, f.Payload)
}

func feedURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/feed"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/feed"
	default:
		return base + "/feed"
	}
}
