package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solscope/papertrade/internal/domain"
	"github.com/solscope/papertrade/internal/store/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// buy runs one ApplyBuy inside a transaction and returns the updated
// position.
func buy(t *testing.T, store *memory.Store, l *Ledger, userID, assetID string, qty, price decimal.Decimal) domain.Position {
	t.Helper()
	ctx := context.Background()
	var out domain.Position
	err := store.WithinTx(ctx, func(tx domain.Tx) error {
		pos, err := tx.GetPositionForUpdate(ctx, userID, assetID, domain.ModePaper)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		out, err = l.ApplyBuy(ctx, tx, pos, userID, assetID, domain.ModePaper, qty, price)
		return err
	})
	require.NoError(t, err)
	return out
}

// sell runs one ApplySell inside a transaction.
func sell(t *testing.T, store *memory.Store, l *Ledger, userID, assetID string, qty, price decimal.Decimal) (SellOutcome, error) {
	t.Helper()
	ctx := context.Background()
	var out SellOutcome
	err := store.WithinTx(ctx, func(tx domain.Tx) error {
		pos, err := tx.GetPositionForUpdate(ctx, userID, assetID, domain.ModePaper)
		if err != nil {
			return err
		}
		out, err = l.ApplySell(ctx, tx, pos, qty, price)
		return err
	})
	return out, err
}

func TestClampSellQty(t *testing.T) {
	eps := dec("0.0001")

	// Within holdings: passes through unchanged.
	got, err := ClampSellQty(dec("100"), dec("50"), eps)
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("50")))

	// Exact holdings.
	got, err = ClampSellQty(dec("100"), dec("100"), eps)
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("100")))

	// Rounding drift within epsilon: clamped to holdings.
	got, err = ClampSellQty(dec("100"), dec("100.00009"), eps)
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("100")))

	// Beyond epsilon: rejected.
	_, err = ClampSellQty(dec("100"), dec("100.001"), eps)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	// Non-positive requests are rejected.
	_, err = ClampSellQty(dec("100"), decimal.Zero, eps)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestBuyBlendsCostBasis(t *testing.T) {
	store := memory.NewStore()
	l := NewLedger(newFakeClock(), discardLogger())

	pos := buy(t, store, l, "u1", "mint-a", dec("100"), dec("1"))
	assert.True(t, pos.Qty.Equal(dec("100")))
	assert.True(t, pos.CostBasisUSD.Equal(dec("100")))
	assert.True(t, pos.AvgCostUSD().Equal(dec("1")))

	pos = buy(t, store, l, "u1", "mint-a", dec("100"), dec("3"))
	assert.True(t, pos.Qty.Equal(dec("200")))
	assert.True(t, pos.CostBasisUSD.Equal(dec("400")))
	assert.True(t, pos.AvgCostUSD().Equal(dec("2")))
}

func TestSellConsumesLotsFIFO(t *testing.T) {
	store := memory.NewStore()
	clock := newFakeClock()
	l := NewLedger(clock, discardLogger())

	buy(t, store, l, "u1", "mint-a", dec("100"), dec("1"))
	clock.Advance(time.Second)
	buy(t, store, l, "u1", "mint-a", dec("100"), dec("3"))
	clock.Advance(time.Second)

	// 150 units: all of the $1 lot, 50 of the $3 lot.
	out, err := sell(t, store, l, "u1", "mint-a", dec("150"), dec("5"))
	require.NoError(t, err)

	// 100*(5-1) + 50*(5-3) = 500
	assert.True(t, out.RealizedPnlUSD.Equal(dec("500")), "got %s", out.RealizedPnlUSD)
	assert.True(t, out.ConsumedCostUSD.Equal(dec("250")))
	assert.True(t, out.Position.Qty.Equal(dec("50")))
	assert.True(t, out.Position.CostBasisUSD.Equal(dec("150")))

	// The remaining 50 units all sit in the $3 lot.
	out, err = sell(t, store, l, "u1", "mint-a", dec("50"), dec("2"))
	require.NoError(t, err)
	assert.True(t, out.RealizedPnlUSD.Equal(dec("-50")))
}

func TestSellFullPositionZeroesBasis(t *testing.T) {
	store := memory.NewStore()
	l := NewLedger(newFakeClock(), discardLogger())

	buy(t, store, l, "u1", "mint-a", dec("30"), dec("0.5"))

	out, err := sell(t, store, l, "u1", "mint-a", dec("30"), dec("0.75"))
	require.NoError(t, err)
	assert.True(t, out.Position.Qty.IsZero())
	assert.True(t, out.Position.CostBasisUSD.IsZero())
	assert.True(t, out.RealizedPnlUSD.Equal(dec("7.5")))
}

func TestSellBeyondPositionIsInvariantViolation(t *testing.T) {
	store := memory.NewStore()
	l := NewLedger(newFakeClock(), discardLogger())

	buy(t, store, l, "u1", "mint-a", dec("10"), dec("1"))

	_, err := sell(t, store, l, "u1", "mint-a", dec("11"), dec("1"))
	assert.ErrorIs(t, err, domain.ErrLedgerInvariant)
}

func TestSellClampsNegativeBasisToZero(t *testing.T) {
	store := memory.NewStore()
	clock := newFakeClock()
	l := NewLedger(clock, discardLogger())
	ctx := context.Background()

	// A position whose recorded basis disagrees with its lots (simulated
	// upstream rounding damage). Selling everything would push the basis
	// negative; it must clamp to zero instead.
	posID := uuid.New().String()
	err := store.WithinTx(ctx, func(tx domain.Tx) error {
		if err := tx.UpsertPosition(ctx, domain.Position{
			ID: posID, UserID: "u1", AssetID: "mint-a", Mode: domain.ModePaper,
			Qty: dec("10"), CostBasisUSD: dec("100"),
			CreatedAt: clock.Now(), UpdatedAt: clock.Now(),
		}); err != nil {
			return err
		}
		return tx.InsertLot(ctx, domain.PositionLot{
			ID: uuid.New().String(), PositionID: posID,
			QtyRemaining: dec("10"), UnitCostUSD: dec("15"),
			CreatedAt: clock.Now(),
		})
	})
	require.NoError(t, err)

	// Partial sell so the clamp is exercised on its own, not by the
	// flat-position rule.
	out, err := sell(t, store, l, "u1", "mint-a", dec("8"), dec("20"))
	require.NoError(t, err)
	assert.True(t, out.Position.Qty.Equal(dec("2")))
	assert.True(t, out.Position.CostBasisUSD.IsZero())
	assert.True(t, out.RealizedPnlUSD.Equal(dec("40")))
}

func TestSellFailsWhenLotsExhausted(t *testing.T) {
	store := memory.NewStore()
	clock := newFakeClock()
	l := NewLedger(clock, discardLogger())
	ctx := context.Background()

	// Position claims more units than its lots hold.
	posID := uuid.New().String()
	err := store.WithinTx(ctx, func(tx domain.Tx) error {
		if err := tx.UpsertPosition(ctx, domain.Position{
			ID: posID, UserID: "u1", AssetID: "mint-a", Mode: domain.ModePaper,
			Qty: dec("10"), CostBasisUSD: dec("10"),
			CreatedAt: clock.Now(), UpdatedAt: clock.Now(),
		}); err != nil {
			return err
		}
		return tx.InsertLot(ctx, domain.PositionLot{
			ID: uuid.New().String(), PositionID: posID,
			QtyRemaining: dec("5"), UnitCostUSD: dec("1"),
			CreatedAt: clock.Now(),
		})
	})
	require.NoError(t, err)

	_, err = sell(t, store, l, "u1", "mint-a", dec("10"), dec("2"))
	assert.ErrorIs(t, err, domain.ErrLedgerInvariant)

	// The failed transaction must not consume any lot.
	pos, err := store.GetPosition(ctx, "u1", "mint-a", domain.ModePaper)
	require.NoError(t, err)
	assert.True(t, pos.Qty.Equal(dec("10")))
}
