package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/torpedo-one/torpedo/internal/api"
	"github.com/torpedo-one/torpedo/internal/config"
	"github.com/torpedo-one/torpedo/internal/logging"
	"github.com/torpedo-one/torpedo/internal/marketplace"
	"github.com/torpedo-one/torpedo/internal/matcher"
	"github.com/torpedo-one/torpedo/internal/metrics"
	"github.com/torpedo-one/torpedo/internal/oracle"
	"github.com/torpedo-one/torpedo/internal/pricing"
	"github.com/torpedo-one/torpedo/internal/registry"
	"github.com/torpedo-one/torpedo/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize logging
	logger := logging.Setup(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	logger.Info("starting torpedo marketplace server",
		slog.String("version", "0.1.0"),
		slog.Int("port", cfg.Server.Port))

	// Initialize database
	db, err := storage.New(cfg.Database.Path)
	if err != nil {
		logger.Error("failed to initialize database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize stores
	providerStore := storage.NewProviderStore(db)
	sessionStore := storage.NewSessionStore(db)

	// Rehydrate the sessions-by-state gauge from persisted sessions
	counts, err := sessionStore.CountByState(ctx)
	if err != nil {
		logger.Error("failed to count sessions", slog.String("error", err.Error()))
		os.Exit(1)
	}
	for state, count := range counts {
		metrics.SessionsByState.WithLabelValues(string(state)).Set(float64(count))
	}

	// Initialize the price oracle
	var priceOracle oracle.PriceOracle
	switch cfg.Oracle.Mode {
	case "feed":
		priceOracle = oracle.NewFeedClient(cfg.Oracle.FeedURL,
			oracle.WithHTTPClient(&http.Client{Timeout: cfg.Oracle.FeedTimeout}),
			oracle.WithMinGap(cfg.Oracle.FeedMinGap))
		logger.Info("initialized price feed oracle", slog.String("url", cfg.Oracle.FeedURL))
	default:
		priceOracle = oracle.NewStatic(cfg.Oracle.StaticPrice, cfg.Oracle.StaticDecimals)
		logger.Info("initialized static price oracle",
			slog.Int64("price", cfg.Oracle.StaticPrice),
			slog.Int("decimals", cfg.Oracle.StaticDecimals))
	}

	// Initialize services
	reg := registry.New(providerStore,
		registry.WithLogger(logger),
		registry.WithMinLeadTime(cfg.Registry.MinLeadTime))

	// Rehydrate the provider arena before accepting traffic
	if err := reg.Load(ctx); err != nil {
		logger.Error("failed to load provider registry", slog.String("error", err.Error()))
		os.Exit(1)
	}

	engine := pricing.New(pricing.Rates{
		CPUCentsHour:       cfg.Pricing.CPUCentsHour,
		GPUCentsHour:       cfg.Pricing.GPUCentsHour,
		DiskCentsHourPerGB: cfg.Pricing.DiskCentsHourPerGB,
		RAMCentsHourPerGB:  cfg.Pricing.RAMCentsHourPerGB,
	}, cfg.Pricing.SettlementDecimals, priceOracle)

	mkt := marketplace.New(reg, matcher.New(matcher.WithLogger(logger)), engine,
		sessionStore, cfg.Marketplace.Account,
		marketplace.WithLogger(logger))

	// Initialize API server
	server := api.New(mkt,
		api.WithLogger(logger),
		api.WithHost(cfg.Server.Host),
		api.WithPort(cfg.Server.Port))

	server.SetReady(true)

	// Handle shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info("shutting down...")
		server.SetReady(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", slog.String("error", err.Error()))
		}
	}()

	// Start server
	if err := server.Start(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
