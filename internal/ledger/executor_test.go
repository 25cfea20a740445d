package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solscope/papertrade/internal/domain"
	"github.com/solscope/papertrade/internal/store/memory"
)

// fakePrices serves a settable validated quote.
type fakePrices struct {
	mu    sync.Mutex
	quote domain.Quote
	err   error
}

func (p *fakePrices) set(priceUSD, quoteUSD decimal.Decimal, source domain.TickSource) {
	p.mu.Lock()
	p.quote = domain.Quote{
		PriceUSD:     priceUSD,
		PriceInQuote: priceUSD.Div(quoteUSD),
		QuoteUSD:     quoteUSD,
		Source:       source,
	}
	p.mu.Unlock()
}

func (p *fakePrices) GetValidatedPrice(ctx context.Context, assetID string, side domain.TradeSide) (domain.Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return domain.Quote{}, p.err
	}
	return p.quote, nil
}

func (p *fakePrices) GetPrice(ctx context.Context, assetID string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.quote.PriceUSD, nil
}

// fakeLocks is an in-process LockManager with real mutual exclusion.
type fakeLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{held: make(map[string]bool)}
}

func (l *fakeLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

func (l *fakeLocks) AcquireWait(ctx context.Context, key string, ttl, budget time.Duration) (func(), error) {
	deadline := time.Now().Add(budget)
	for {
		unlock, err := l.Acquire(ctx, key, ttl)
		if err == nil {
			return unlock, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("lock %s: %w", key, domain.ErrLockTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func newTestExecutor(t *testing.T, store *memory.Store, prices *fakePrices) *Executor {
	t.Helper()
	clock := newFakeClock()
	return NewExecutor(store, prices, newFakeLocks(), NewLedger(clock, discardLogger()), nil, ExecutorConfig{
		Mode:        domain.ModePaper,
		LockTTL:     time.Second,
		LockBudget:  500 * time.Millisecond,
		SellEpsilon: dec("0.0001"),
	}, clock, discardLogger())
}

func TestBuyDebitsWalletAndOpensLot(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.SeedBalance("u1", dec("1000"))
	prices := &fakePrices{}
	prices.set(dec("0.5"), dec("150"), domain.SourceJupiter)
	ex := newTestExecutor(t, store, prices)

	// 1 reference unit at $150 buys $150 worth, 300 units at $0.50.
	result, err := ex.Buy(ctx, "u1", "mint-a", dec("1"))
	require.NoError(t, err)

	assert.Equal(t, domain.SideBuy, result.Trade.Side)
	assert.True(t, result.Trade.Qty.Equal(dec("300")))
	assert.True(t, result.Trade.TotalUSD.Equal(dec("150")))
	assert.True(t, result.BalanceUSD.Equal(dec("850")))
	assert.True(t, result.Position.Qty.Equal(dec("300")))
	assert.True(t, result.Position.CostBasisUSD.Equal(dec("150")))
	assert.True(t, store.Balance("u1").Equal(dec("850")))

	trades, err := store.ListTrades(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestBuyRejectsInsufficientWallet(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.SeedBalance("u1", dec("100"))
	prices := &fakePrices{}
	prices.set(dec("0.5"), dec("150"), domain.SourceJupiter)
	ex := newTestExecutor(t, store, prices)

	_, err := ex.Buy(ctx, "u1", "mint-a", dec("1"))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	// Nothing persisted.
	assert.True(t, store.Balance("u1").Equal(dec("100")))
	_, err = store.GetPosition(ctx, "u1", "mint-a", domain.ModePaper)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	trades, err := store.ListTrades(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestBuyRejectsNonPositiveAmount(t *testing.T) {
	store := memory.NewStore()
	prices := &fakePrices{}
	prices.set(dec("0.5"), dec("150"), domain.SourceJupiter)
	ex := newTestExecutor(t, store, prices)

	_, err := ex.Buy(context.Background(), "u1", "mint-a", decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestBuyPropagatesPriceRejection(t *testing.T) {
	store := memory.NewStore()
	store.SeedBalance("u1", dec("1000"))
	prices := &fakePrices{err: fmt.Errorf("price: mint-a: %w", domain.ErrStalePrice)}
	ex := newTestExecutor(t, store, prices)

	_, err := ex.Buy(context.Background(), "u1", "mint-a", dec("1"))
	assert.ErrorIs(t, err, domain.ErrStalePrice)
	assert.True(t, store.Balance("u1").Equal(dec("1000")))
}

func TestSellRealizesPnlAndCreditsWallet(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.SeedBalance("u1", dec("1000"))
	prices := &fakePrices{}
	prices.set(dec("1"), dec("150"), domain.SourceJupiter)
	ex := newTestExecutor(t, store, prices)

	// $150 at $1 each: 150 units, wallet at 850.
	_, err := ex.Buy(ctx, "u1", "mint-a", dec("1"))
	require.NoError(t, err)

	prices.set(dec("3"), dec("150"), domain.SourceJupiter)
	result, err := ex.Sell(ctx, "u1", "mint-a", dec("100"))
	require.NoError(t, err)

	assert.True(t, result.Trade.Qty.Equal(dec("100")))
	assert.True(t, result.Trade.TotalUSD.Equal(dec("300")))
	assert.True(t, result.RealizedPnlUSD.Equal(dec("200")))
	assert.True(t, result.Position.Qty.Equal(dec("50")))
	assert.True(t, store.Balance("u1").Equal(dec("1150")))
}

func TestSellClampsWithinEpsilon(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.SeedBalance("u1", dec("1000"))
	prices := &fakePrices{}
	prices.set(dec("1"), dec("150"), domain.SourceJupiter)
	ex := newTestExecutor(t, store, prices)

	_, err := ex.Buy(ctx, "u1", "mint-a", dec("1"))
	require.NoError(t, err)

	result, err := ex.Sell(ctx, "u1", "mint-a", dec("150.00009"))
	require.NoError(t, err)
	assert.True(t, result.Trade.Qty.Equal(dec("150")))
	assert.True(t, result.Position.Qty.IsZero())
}

func TestSellRejectsBeyondEpsilon(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.SeedBalance("u1", dec("1000"))
	prices := &fakePrices{}
	prices.set(dec("1"), dec("150"), domain.SourceJupiter)
	ex := newTestExecutor(t, store, prices)

	_, err := ex.Buy(ctx, "u1", "mint-a", dec("1"))
	require.NoError(t, err)

	_, err = ex.Sell(ctx, "u1", "mint-a", dec("151"))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestSellWithoutPosition(t *testing.T) {
	store := memory.NewStore()
	store.SeedBalance("u1", dec("1000"))
	prices := &fakePrices{}
	prices.set(dec("1"), dec("150"), domain.SourceJupiter)
	ex := newTestExecutor(t, store, prices)

	_, err := ex.Sell(context.Background(), "u1", "mint-a", dec("10"))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestSellAcceptsSyntheticQuote(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.SeedBalance("u1", dec("1000"))
	prices := &fakePrices{}
	prices.set(dec("1"), dec("150"), domain.SourceCurve)
	ex := newTestExecutor(t, store, prices)

	_, err := ex.Buy(ctx, "u1", "mint-a", dec("1"))
	require.NoError(t, err)

	result, err := ex.Sell(ctx, "u1", "mint-a", dec("150"))
	require.NoError(t, err)
	assert.True(t, result.Position.Qty.IsZero())
}

func TestTradeLockTimesOutWhenHeld(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.SeedBalance("u1", dec("1000"))
	prices := &fakePrices{}
	prices.set(dec("1"), dec("150"), domain.SourceJupiter)

	clock := newFakeClock()
	locks := newFakeLocks()
	ex := NewExecutor(store, prices, locks, NewLedger(clock, discardLogger()), nil, ExecutorConfig{
		Mode:        domain.ModePaper,
		LockTTL:     time.Second,
		LockBudget:  50 * time.Millisecond,
		SellEpsilon: dec("0.0001"),
	}, clock, discardLogger())

	unlock, err := locks.Acquire(ctx, "trade:u1:mint-a", time.Second)
	require.NoError(t, err)
	defer unlock()

	_, err = ex.Buy(ctx, "u1", "mint-a", dec("1"))
	assert.ErrorIs(t, err, domain.ErrLockTimeout)
	assert.True(t, store.Balance("u1").Equal(dec("1000")))
}

func TestConcurrentSellsNeverDoubleConsume(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.SeedBalance("u1", dec("1000"))
	prices := &fakePrices{}
	prices.set(dec("1"), dec("150"), domain.SourceJupiter)
	ex := newTestExecutor(t, store, prices)

	// 150 units held; two concurrent sells of 100 can satisfy at most one.
	_, err := ex.Buy(ctx, "u1", "mint-a", dec("1"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = ex.Sell(ctx, "u1", "mint-a", dec("100"))
		}(i)
	}
	wg.Wait()

	var succeeded, rejected int
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
			rejected++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)

	pos, err := store.GetPosition(ctx, "u1", "mint-a", domain.ModePaper)
	require.NoError(t, err)
	assert.True(t, pos.Qty.Equal(dec("50")))
	assert.True(t, store.Balance("u1").Equal(dec("950")))
}
