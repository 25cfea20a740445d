package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solscope/papertrade/internal/breaker"
	"github.com/solscope/papertrade/internal/domain"
)

const refAsset = "So11111111111111111111111111111111111111112"

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// fakeProvider serves one fixed price or error and counts calls.
type fakeProvider struct {
	name   string
	price  decimal.Decimal
	source domain.TickSource
	err    error
	calls  int
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Fetch(ctx context.Context, assetID string, quoteUSD decimal.Decimal) (domain.PriceTick, error) {
	p.calls++
	if p.err != nil {
		return domain.PriceTick{}, p.err
	}
	return domain.PriceTick{
		AssetID:  assetID,
		PriceUSD: p.price,
		QuoteUSD: quoteUSD,
		Source:   p.source,
	}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestChain(clock *fakeClock, providers ...Provider) *Chain {
	return NewChain(Config{
		Timeout:          time.Second,
		ReferenceAssetID: refAsset,
		Breaker:          breaker.Config{Threshold: 2, Window: time.Minute, Cooldown: time.Minute},
	}, clock, discardLogger(), providers...)
}

func TestChainUsesFirstHealthyProvider(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	primary := &fakeProvider{name: "jupiter", price: decimal.NewFromFloat(0.5), source: domain.SourceJupiter}
	secondary := &fakeProvider{name: "dexscreener", price: decimal.NewFromFloat(0.6), source: domain.SourceDexScreener}
	c := newTestChain(clock, primary, secondary)

	tick, err := c.FetchTick(context.Background(), "mint-a", decimal.NewFromInt(150))
	require.NoError(t, err)
	assert.Equal(t, domain.SourceJupiter, tick.Source)
	assert.True(t, tick.PriceUSD.Equal(decimal.NewFromFloat(0.5)))
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 0, secondary.calls)
	// Missing timestamps are stamped from the clock.
	assert.Equal(t, clock.now.UnixMilli(), tick.ObservedAt)
}

func TestChainFallsThroughOnFailure(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	primary := &fakeProvider{name: "jupiter", err: errors.New("503")}
	secondary := &fakeProvider{name: "dexscreener", price: decimal.NewFromFloat(0.6), source: domain.SourceDexScreener}
	c := newTestChain(clock, primary, secondary)

	tick, err := c.FetchTick(context.Background(), "mint-a", decimal.NewFromInt(150))
	require.NoError(t, err)
	assert.Equal(t, domain.SourceDexScreener, tick.Source)
	assert.Equal(t, 1, primary.calls)
}

func TestChainRejectsNonPositivePriceAndFallsThrough(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	primary := &fakeProvider{name: "jupiter", price: decimal.Zero, source: domain.SourceJupiter}
	secondary := &fakeProvider{name: "dexscreener", price: decimal.NewFromFloat(0.6), source: domain.SourceDexScreener}
	c := newTestChain(clock, primary, secondary)

	tick, err := c.FetchTick(context.Background(), "mint-a", decimal.NewFromInt(150))
	require.NoError(t, err)
	assert.Equal(t, domain.SourceDexScreener, tick.Source)
}

func TestChainExhaustionFallsToCurve(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	primary := &fakeProvider{name: "jupiter", err: errors.New("down")}
	secondary := &fakeProvider{name: "dexscreener", err: errors.New("down")}
	last := &fakeProvider{name: "curve", price: decimal.NewFromFloat(0.0042), source: domain.SourceCurve}
	c := newTestChain(clock, primary, secondary, last)

	tick, err := c.FetchTick(context.Background(), "mint-a", decimal.NewFromInt(150))
	require.NoError(t, err)
	assert.Equal(t, domain.SourceCurve, tick.Source)
	assert.True(t, tick.Source.Synthetic())
}

func TestChainAllProvidersFail(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	primary := &fakeProvider{name: "jupiter", err: errors.New("down")}
	secondary := &fakeProvider{name: "dexscreener", err: errors.New("down")}
	c := newTestChain(clock, primary, secondary)

	_, err := c.FetchTick(context.Background(), "mint-a", decimal.NewFromInt(150))
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

func TestChainSkipsProviderWithOpenBreaker(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	primary := &fakeProvider{name: "jupiter", err: errors.New("down")}
	secondary := &fakeProvider{name: "dexscreener", price: decimal.NewFromFloat(0.6), source: domain.SourceDexScreener}
	c := newTestChain(clock, primary, secondary)

	// Threshold 2: two failures open the primary's breaker.
	for i := 0; i < 2; i++ {
		_, err := c.FetchTick(context.Background(), "mint-a", decimal.NewFromInt(150))
		require.NoError(t, err)
	}
	require.Equal(t, 2, primary.calls)

	// Open breaker: the primary is skipped entirely.
	_, err := c.FetchTick(context.Background(), "mint-a", decimal.NewFromInt(150))
	require.NoError(t, err)
	assert.Equal(t, 2, primary.calls)
	assert.Equal(t, 3, secondary.calls)

	// After the cooldown the primary gets a trial call again.
	clock.Advance(61 * time.Second)
	primary.err = nil
	primary.price = decimal.NewFromFloat(0.5)
	primary.source = domain.SourceJupiter
	tick, err := c.FetchTick(context.Background(), "mint-a", decimal.NewFromInt(150))
	require.NoError(t, err)
	assert.Equal(t, domain.SourceJupiter, tick.Source)
	assert.Equal(t, 3, primary.calls)
}

func TestChainSelfQuotesReferenceAsset(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	primary := &fakeProvider{name: "jupiter", price: decimal.NewFromInt(150), source: domain.SourceJupiter}
	c := newTestChain(clock, primary)

	tick, err := c.FetchTick(context.Background(), refAsset, decimal.Zero)
	require.NoError(t, err)
	assert.True(t, tick.QuoteUSD.Equal(decimal.NewFromInt(150)))
	assert.True(t, tick.PriceInQuote.Equal(decimal.NewFromInt(1)))

	usd, err := c.FetchQuoteUSD(context.Background())
	require.NoError(t, err)
	assert.True(t, usd.Equal(decimal.NewFromInt(150)))
}
