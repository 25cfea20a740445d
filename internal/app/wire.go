package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/solscope/papertrade/internal/breaker"
	memtier "github.com/solscope/papertrade/internal/cache/memory"
	"github.com/solscope/papertrade/internal/cache/redis"
	"github.com/solscope/papertrade/internal/config"
	"github.com/solscope/papertrade/internal/domain"
	"github.com/solscope/papertrade/internal/feed"
	"github.com/solscope/papertrade/internal/ledger"
	"github.com/solscope/papertrade/internal/platform/curve"
	"github.com/solscope/papertrade/internal/platform/dexscreener"
	"github.com/solscope/papertrade/internal/platform/jupiter"
	"github.com/solscope/papertrade/internal/price"
	"github.com/solscope/papertrade/internal/source"
	"github.com/solscope/papertrade/internal/store/postgres"
)

// Dependencies bundles everything the run loop needs. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Store       domain.Store
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	PriceCache   *price.Cache
	PriceService *price.Service
	Executor     *ledger.Executor
	Ingestor     *feed.Ingestor
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// releases resources in reverse construction order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}
	deps.Store = postgres.NewStore(pgClient)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	sharedTier := redis.NewTickCache(redisClient, cfg.Pricing.SharedTTL.Duration)
	portfolioCache := redis.NewPortfolioCache(redisClient)

	// --- Upstream source chain ---
	estimator, err := curve.NewEstimator(
		decimal.NewFromFloat(cfg.Sources.CurveVirtualSol),
		decimal.NewFromFloat(cfg.Sources.CurveVirtualTokens),
	)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: curve estimator: %w", err)
	}
	chain := source.NewChain(
		source.Config{
			Timeout:          cfg.Pricing.FetchTimeout.Duration,
			ReferenceAssetID: cfg.Pricing.ReferenceAssetID,
			Breaker: breaker.Config{
				Threshold: cfg.Sources.BreakerThreshold,
				Window:    cfg.Sources.BreakerWindow.Duration,
				Cooldown:  cfg.Sources.BreakerCooldown.Duration,
			},
		},
		nil, logger,
		source.NewJupiterProvider(jupiter.NewClient(cfg.Sources.JupiterHost)),
		source.NewDexScreenerProvider(dexscreener.NewClient(cfg.Sources.DexScreenerHost)),
		source.NewCurveProvider(estimator),
	)

	// --- Price cache and service ---
	memTier, err := memtier.New(cfg.Pricing.LRUCapacity)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: memory tier: %w", err)
	}
	deps.PriceCache = price.NewCache(memTier, sharedTier, deps.SignalBus, chain, price.CacheConfig{
		Fresh:        cfg.Pricing.Fresh.Duration,
		MaxAge:       cfg.Pricing.MaxAge.Duration,
		Channel:      cfg.Pricing.Channel,
		BatchSize:    cfg.Pricing.BatchSize,
		FetchTimeout: cfg.Pricing.FetchTimeout.Duration,
	}, nil, logger)

	deps.PriceService = price.NewService(deps.PriceCache, deps.SignalBus, price.ServiceConfig{
		ReferenceAssetID: cfg.Pricing.ReferenceAssetID,
		Staleness:        cfg.Pricing.Staleness.Duration,
		Channel:          cfg.Pricing.Channel,
	}, nil, logger)

	// --- Trade executor ---
	deps.Executor = ledger.NewExecutor(
		deps.Store,
		deps.PriceService,
		deps.LockManager,
		ledger.NewLedger(nil, logger),
		portfolioCache,
		ledger.ExecutorConfig{
			Mode:        domain.TradeMode(cfg.Trading.Mode),
			LockTTL:     cfg.Trading.LockTTL.Duration,
			LockBudget:  cfg.Trading.LockBudget.Duration,
			SellEpsilon: decimal.NewFromFloat(cfg.Trading.SellEpsilon),
		},
		nil, logger,
	)

	// --- Swap event feed ---
	if cfg.Feed.Enabled {
		deps.Ingestor = feed.NewIngestor(feed.Config{
			WsURL:         cfg.Feed.WsURL,
			Programs:      cfg.Feed.Programs,
			Commitment:    cfg.Feed.Commitment,
			PingInterval:  cfg.Feed.PingInterval.Duration,
			MaxReconnects: cfg.Feed.MaxReconnects,
		}, deps.PriceCache, nil, logger)
	}

	return deps, cleanup, nil
}
