// Package source implements the upstream price fallback chain: providers
// queried in fixed priority order, each behind its own circuit breaker and
// per-attempt timeout.
package source

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/solscope/papertrade/internal/domain"
	"github.com/solscope/papertrade/internal/platform/curve"
	"github.com/solscope/papertrade/internal/platform/dexscreener"
	"github.com/solscope/papertrade/internal/platform/jupiter"
)

// Provider is one upstream price source. quoteUSD is the reference asset's
// current USD price, used to express the tick in quote units; providers
// that cannot use it ignore a non-positive value.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, assetID string, quoteUSD decimal.Decimal) (domain.PriceTick, error)
}

// JupiterProvider adapts the Jupiter client to the Provider interface.
type JupiterProvider struct {
	client *jupiter.Client
}

// NewJupiterProvider wraps a Jupiter client.
func NewJupiterProvider(client *jupiter.Client) *JupiterProvider {
	return &JupiterProvider{client: client}
}

// Name implements Provider.
func (p *JupiterProvider) Name() string { return string(domain.SourceJupiter) }

// Fetch implements Provider.
func (p *JupiterProvider) Fetch(ctx context.Context, assetID string, quoteUSD decimal.Decimal) (domain.PriceTick, error) {
	tp, err := p.client.FetchPrice(ctx, assetID)
	if err != nil {
		return domain.PriceTick{}, err
	}

	tick := domain.PriceTick{
		AssetID:      assetID,
		PriceUSD:     tp.PriceUSD,
		QuoteUSD:     quoteUSD,
		MarketCapUSD: tp.MarketCapUSD,
		Source:       domain.SourceJupiter,
	}
	if quoteUSD.IsPositive() {
		tick.PriceInQuote = tp.PriceUSD.Div(quoteUSD)
	}
	return tick, nil
}

// DexScreenerProvider adapts the DexScreener client to the Provider
// interface.
type DexScreenerProvider struct {
	client *dexscreener.Client
}

// NewDexScreenerProvider wraps a DexScreener client.
func NewDexScreenerProvider(client *dexscreener.Client) *DexScreenerProvider {
	return &DexScreenerProvider{client: client}
}

// Name implements Provider.
func (p *DexScreenerProvider) Name() string { return string(domain.SourceDexScreener) }

// Fetch implements Provider.
func (p *DexScreenerProvider) Fetch(ctx context.Context, assetID string, quoteUSD decimal.Decimal) (domain.PriceTick, error) {
	tp, err := p.client.FetchPrice(ctx, assetID)
	if err != nil {
		return domain.PriceTick{}, err
	}

	return domain.PriceTick{
		AssetID:      assetID,
		PriceUSD:     tp.PriceUSD,
		PriceInQuote: tp.PriceNative,
		QuoteUSD:     quoteUSD,
		MarketCapUSD: tp.MarketCapUSD,
		Volume:       tp.Volume24h,
		Source:       domain.SourceDexScreener,
	}, nil
}

// CurveProvider is the analytic last-resort source. It only needs the
// reference asset's USD price, so it succeeds whenever that is known.
type CurveProvider struct {
	est *curve.Estimator
}

// NewCurveProvider wraps a curve estimator.
func NewCurveProvider(est *curve.Estimator) *CurveProvider {
	return &CurveProvider{est: est}
}

// Name implements Provider.
func (p *CurveProvider) Name() string { return string(domain.SourceCurve) }

// Fetch implements Provider.
func (p *CurveProvider) Fetch(_ context.Context, assetID string, quoteUSD decimal.Decimal) (domain.PriceTick, error) {
	if !quoteUSD.IsPositive() {
		return domain.PriceTick{}, domain.ErrPriceUnavailable
	}
	return domain.PriceTick{
		AssetID:      assetID,
		PriceUSD:     p.est.PriceUSD(quoteUSD),
		PriceInQuote: p.est.PriceInQuote(),
		QuoteUSD:     quoteUSD,
		Source:       domain.SourceCurve,
	}, nil
}
