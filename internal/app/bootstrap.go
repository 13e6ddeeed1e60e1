package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"trade_sim/internal/domain"
	"trade_sim/internal/engine"
	"trade_sim/internal/event"
	"trade_sim/internal/infra"
	"trade_sim/internal/infra/feed"
	"trade_sim/internal/infra/storage"
	"trade_sim/internal/server"
	"trade_sim/internal/service"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	ConfigPath string

	Config   *infra.Config
	Logger   *slog.Logger
	Storage  *storage.Storage
	Metrics  *infra.Metrics
	Service  *service.SimulationService
	Feed     *feed.Worker
	Server   *server.Server
	Reporter *Reporter
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap(configPath string) *Bootstrap {
	return &Bootstrap{ConfigPath: configPath}
}

// Initialize loads configuration and builds every component.
// A missing config file falls back to defaults plus environment overrides.
func (b *Bootstrap) Initialize() error {
	slog.Info("🚀 Bootstrapping trade simulator...", slog.String("config", b.ConfigPath))

	cfg, err := infra.LoadConfig(b.ConfigPath)
	if errors.Is(err, domain.ErrConfigNotFound) {
		slog.Warn("config file not found, using defaults", slog.String("path", b.ConfigPath))
		cfg = infra.DefaultConfig()
		infra.ApplyEnv(cfg)
		err = cfg.Validate()
	}
	if err != nil {
		return err // Let main handle the error
	}

	return b.InitializeWith(cfg)
}

// InitializeWith builds the component graph from an already validated config.
func (b *Bootstrap) InitializeWith(cfg *infra.Config) error {
	b.Config = cfg

	// 1. Logger
	b.Logger = infra.NewLogger(cfg)
	slog.SetDefault(b.Logger)

	// 2. Storage (presets)
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	b.Logger.Info("✅ Database initialized", slog.String("path", cfg.Storage.Path))

	// 3. Core
	b.Metrics = &infra.Metrics{}
	event.Warmup()

	book := engine.NewBookState(cfg.Feed.HistorySize)
	costEngine := engine.NewCostEngine(cfg.ModelParams())

	b.Service = service.NewSimulationService(book, costEngine,
		service.WithLogger(b.Logger),
		service.WithMetrics(b.Metrics),
		service.WithPresetStore(store),
		service.WithDefaults(cfg.DefaultRequest()),
		service.WithLatencyWindow(cfg.Feed.LatencyWindow),
		service.WithIdentity(cfg.Feed.Exchange, cfg.Feed.Symbol),
	)

	// 4. Feed
	base, maxDelay := cfg.ReconnectDelay()
	b.Feed = feed.NewWorker(feed.Options{
		URL:               cfg.Feed.WSURL,
		Exchange:          cfg.Feed.Exchange,
		Symbol:            cfg.Feed.Symbol,
		ReconnectDelay:    base,
		MaxReconnectDelay: maxDelay,
		ReadTimeout:       time.Duration(cfg.Feed.ReadTimeoutMS) * time.Millisecond,
		HandshakeTimeout:  time.Duration(cfg.Feed.HandshakeTimeoutMS) * time.Millisecond,
		Logger:            b.Logger,
		Metrics:           b.Metrics,
	}, b.Service)
	b.Service.AttachFeed(b.Feed)

	// 5. Outer surfaces
	b.Server = server.NewServer(server.Config{Addr: cfg.Server.Addr}, b.Service, b.Metrics, b.Logger)
	b.Reporter = NewReporter(b.Service, time.Duration(cfg.UI.UpdateIntervalMS)*time.Millisecond, b.Logger)

	b.Logger.Info("✅ Components ready",
		slog.String("exchange", cfg.Feed.Exchange),
		slog.String("symbol", cfg.Feed.Symbol),
		defaultsAttr(b.Service.Defaults()),
	)
	return nil
}

// Run supervises the feed, HTTP server and reporter until ctx is cancelled
// or one of them fails.
func (b *Bootstrap) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := b.Service.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		b.Service.Stop()
		return nil
	})
	g.Go(func() error { return b.Server.Run(ctx) })
	g.Go(func() error { return b.Reporter.Run(ctx) })

	return g.Wait()
}

// Close releases resources held after Run returns.
func (b *Bootstrap) Close() {
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Warn("failed to close storage", slog.Any("error", err))
		}
	}
}

func defaultsAttr(r domain.SimulationRequest) slog.Attr {
	return slog.Group("defaults",
		slog.Float64("quantity", r.Quantity),
		slog.Int("fee_tier", r.FeeTier),
		slog.Float64("volatility", r.Volatility),
	)
}
