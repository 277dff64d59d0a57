package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"auction_go/internal/api"
	"auction_go/internal/auction"
	"auction_go/internal/domain"
	"auction_go/internal/engine"
	"auction_go/internal/event"
	"auction_go/internal/infra"
	"auction_go/internal/infra/auth"
	"auction_go/internal/infra/feed"
	"auction_go/internal/infra/storage"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config    *infra.Config
	Storage   *storage.Storage
	Treasury  *infra.Treasury
	Engine    *auction.Engine
	Sequencer *engine.Sequencer
	Feed      *feed.Hub
	Metrics   *infra.Metrics
	Registry  *prometheus.Registry

	configPath string
	clock      domain.Clock
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap(configPath string) *Bootstrap {
	return &Bootstrap{configPath: configPath, clock: engine.SystemClock{}}
}

// Initialize performs core system initialization: config, logger, storage,
// then restores the auction or creates it on first start.
func (b *Bootstrap) Initialize(ctx context.Context) error {
	slog.Info("🚀 Bootstrapping auction...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(b.configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized", slog.String("path", cfg.Storage.Path))

	// 4. Treasury
	rejecting := make([]domain.Identity, 0, len(cfg.Auction.RejectingRecipients))
	for _, id := range cfg.Auction.RejectingRecipients {
		rejecting = append(rejecting, domain.Identity(id))
	}
	b.Treasury = infra.NewTreasury(rejecting...)

	// 5. Restore or create the auction
	lastSeq, err := b.loadEngine(ctx)
	if err != nil {
		return err
	}

	// 6. Observability
	b.Metrics = infra.GlobalMetrics
	b.Metrics.SetHeld(b.Treasury.Held())
	b.Metrics.SetLastSeq(lastSeq)
	b.Registry = prometheus.NewRegistry()
	b.Registry.MustRegister(
		infra.NewCollector(b.Metrics),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	b.Feed = feed.NewHub(b.Metrics, cfg.FormatUnits)

	// 7. Sequencer
	event.Warmup()
	b.Sequencer = engine.NewSequencer(cfg.Server.InboxSize, b.Engine, b.Treasury, b.Storage,
		engine.WithClock(b.clock),
		engine.WithPublisher(b.Feed),
		engine.WithMetrics(b.Metrics),
		engine.WithDumpPath(cfg.Server.DumpPath),
		engine.WithLastSeq(lastSeq),
	)
	slog.Info("✅ Sequencer ready", slog.Uint64("last_seq", lastSeq))
	return nil
}

func (b *Bootstrap) loadEngine(ctx context.Context) (uint64, error) {
	cfg := b.Config

	snap, err := b.Storage.LoadSnapshot(ctx)
	if err != nil {
		return 0, err
	}
	if snap != nil {
		b.Treasury.Restore(snap.Accounts)
		eng, err := auction.Restore(snap.State, b.Treasury)
		if err != nil {
			return 0, err
		}
		if string(eng.Owner()) != cfg.Auction.Owner {
			// Parameters are fixed at creation; the stored auction wins.
			slog.Warn("Configured owner differs from stored auction, ignoring",
				slog.String("configured", cfg.Auction.Owner),
				slog.String("stored", string(eng.Owner())))
		}
		b.Engine = eng
		slog.Info("✅ Auction restored",
			slog.String("id", eng.ID().String()),
			slog.Time("finish_time", eng.FinishTime()),
			slog.Uint64("last_seq", snap.LastSeq))
		return snap.LastSeq, nil
	}

	minPrice, err := cfg.MinPriceUnits()
	if err != nil {
		return 0, &domain.ConfigError{Field: "auction.min_price", Err: err}
	}
	eng, err := auction.New(auction.Params{
		ID:                uuid.New(),
		Owner:             domain.Identity(cfg.Auction.Owner),
		MinPrice:          minPrice,
		Duration:          cfg.Auction.Duration,
		StartTime:         b.clock.Now(),
		Settlement:        auction.SettlementMode(cfg.Auction.Settlement),
		EmergencyWithdraw: cfg.Auction.EmergencyWithdraw,
	}, b.Treasury)
	if err != nil {
		return 0, err
	}
	if err := b.Storage.SaveState(ctx, eng.Snapshot(), b.Treasury.Snapshot(), 0); err != nil {
		return 0, fmt.Errorf("persist new auction: %w", err)
	}
	b.Engine = eng
	slog.Info("✨ Auction created",
		slog.String("id", eng.ID().String()),
		slog.String("owner", cfg.Auction.Owner),
		slog.String("min_price", cfg.FormatUnits(minPrice)),
		slog.Time("finish_time", eng.FinishTime()))
	return 0, nil
}

// Handler returns the HTTP surface: API, event feed and metrics.
func (b *Bootstrap) Handler() http.Handler {
	return api.NewServer(b.Sequencer,
		auth.NewVerifier(b.Config.Auth.Secrets, b.Config.Server.SignatureWindow),
		api.WithFeed(b.Feed),
		api.WithMetrics(promhttp.HandlerFor(b.Registry, promhttp.HandlerOpts{})),
		api.WithJournal(b.Storage),
		api.WithFormatter(b.Config.FormatUnits),
	)
}

// NewHTTPServer wraps Handler with the configured address.
func (b *Bootstrap) NewHTTPServer() *http.Server {
	return &http.Server{
		Addr:              b.Config.Server.Addr,
		Handler:           b.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Close releases feed subscribers and the database.
func (b *Bootstrap) Close() {
	if b.Feed != nil {
		b.Feed.Close()
	}
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Warn("Failed to close storage", slog.Any("error", err))
		}
	}
}
