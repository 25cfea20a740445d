package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solscope/papertrade/internal/breaker"
	"github.com/solscope/papertrade/internal/domain"
)

// guarded pairs a provider with its circuit breaker.
type guarded struct {
	provider Provider
	breaker  *breaker.Breaker
}

// Chain tries providers in fixed priority order until one returns a
// positive price. Individual provider failures are swallowed and logged;
// only total exhaustion surfaces as domain.ErrPriceUnavailable.
type Chain struct {
	providers  []guarded
	timeout    time.Duration
	refAssetID string
	clock      domain.Clock
	logger     *slog.Logger
}

// Config holds chain construction parameters.
type Config struct {
	// Timeout bounds each provider attempt (typically 5-8s).
	Timeout time.Duration
	// ReferenceAssetID is the quote asset; its ticks are self-quoted.
	ReferenceAssetID string
	// Breaker is the per-provider breaker configuration.
	Breaker breaker.Config
}

// NewChain builds a Chain over the given providers, in priority order.
// Each provider gets its own independent breaker.
func NewChain(cfg Config, clock domain.Clock, logger *slog.Logger, providers ...Provider) *Chain {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 6 * time.Second
	}
	if clock == nil {
		clock = domain.RealClock{}
	}
	log := logger.With(slog.String("component", "source_chain"))

	c := &Chain{
		timeout:    cfg.Timeout,
		refAssetID: cfg.ReferenceAssetID,
		clock:      clock,
		logger:     log,
	}
	for _, p := range providers {
		c.providers = append(c.providers, guarded{
			provider: p,
			breaker:  breaker.New(p.Name(), cfg.Breaker, clock, logger),
		})
	}
	return c
}

// FetchTick asks each provider in order for a price, returning the first
// tick with a positive PriceUSD. quoteUSD is the reference asset's current
// USD price as known by the caller; pass zero when unknown.
func (c *Chain) FetchTick(ctx context.Context, assetID string, quoteUSD decimal.Decimal) (domain.PriceTick, error) {
	for _, g := range c.providers {
		if err := g.breaker.Allow(); err != nil {
			c.logger.Debug("provider skipped",
				slog.String("provider", g.provider.Name()),
				slog.String("asset", assetID),
				slog.String("reason", err.Error()),
			)
			continue
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		tick, err := g.provider.Fetch(attemptCtx, assetID, quoteUSD)
		cancel()

		if err == nil && !tick.PriceUSD.IsPositive() {
			err = fmt.Errorf("non-positive price %s: %w", tick.PriceUSD, domain.ErrInvalidPrice)
		}
		if err != nil {
			g.breaker.Failure()
			c.logger.Warn("provider fetch failed",
				slog.String("provider", g.provider.Name()),
				slog.String("asset", assetID),
				slog.String("error", err.Error()),
			)
			continue
		}
		g.breaker.Success()

		if tick.ObservedAt == 0 {
			tick.ObservedAt = c.clock.Now().UnixMilli()
		}
		if tick.AssetID == "" {
			tick.AssetID = assetID
		}
		// The reference asset quotes itself.
		if assetID == c.refAssetID {
			tick.QuoteUSD = tick.PriceUSD
			tick.PriceInQuote = decimal.NewFromInt(1)
		}
		return tick, nil
	}

	return domain.PriceTick{}, fmt.Errorf("source: all providers failed for %s: %w", assetID, domain.ErrPriceUnavailable)
}

// FetchQuoteUSD fetches the reference asset's own USD price through the
// chain.
func (c *Chain) FetchQuoteUSD(ctx context.Context) (decimal.Decimal, error) {
	tick, err := c.FetchTick(ctx, c.refAssetID, decimal.Zero)
	if err != nil {
		return decimal.Zero, err
	}
	return tick.PriceUSD, nil
}

// ReferenceAssetID returns the configured quote asset id.
func (c *Chain) ReferenceAssetID() string { return c.refAssetID }
