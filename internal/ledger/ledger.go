// Package ledger implements the FIFO/VWAP trade-accounting engine: lot
// bookkeeping, realized PnL, and the locked, transactional trade executor.
package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/solscope/papertrade/internal/domain"
	"github.com/solscope/papertrade/internal/metrics"
)

// Ledger owns Position and PositionLot accounting. All mutations run
// inside the caller's transaction while the caller holds the per-
// (user,asset) trade lock.
type Ledger struct {
	clock  domain.Clock
	logger *slog.Logger
}

// NewLedger creates a Ledger.
func NewLedger(clock domain.Clock, logger *slog.Logger) *Ledger {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &Ledger{
		clock:  clock,
		logger: logger.With(slog.String("component", "ledger")),
	}
}

// ClampSellQty validates a requested sell quantity against the available
// position quantity. A request within epsilon above the available quantity
// is clamped down to it (rounding drift from upstream price math); beyond
// epsilon the sell is rejected with domain.ErrInsufficientBalance.
func ClampSellQty(available, requested, epsilon decimal.Decimal) (decimal.Decimal, error) {
	if !requested.IsPositive() {
		return decimal.Zero, fmt.Errorf("ledger: sell quantity %s: %w", requested, domain.ErrInsufficientBalance)
	}
	if requested.LessThanOrEqual(available) {
		return requested, nil
	}
	if requested.Sub(available).LessThanOrEqual(epsilon) {
		return available, nil
	}
	return decimal.Zero, fmt.Errorf("ledger: sell %s exceeds position %s: %w",
		requested, available, domain.ErrInsufficientBalance)
}

// ApplyBuy adds qty units filled at price to the position: quantity grows
// by qty, cost basis by qty*price (VWAP blend), and a new FIFO lot is
// appended. pos may be the zero value for a first buy; the updated
// position is returned.
func (l *Ledger) ApplyBuy(ctx context.Context, tx domain.Tx, pos domain.Position, userID, assetID string, mode domain.TradeMode, qty, price decimal.Decimal) (domain.Position, error) {
	if !qty.IsPositive() || !price.IsPositive() {
		return domain.Position{}, fmt.Errorf("ledger: buy qty=%s price=%s: %w", qty, price, domain.ErrLedgerInvariant)
	}

	now := l.clock.Now()
	if pos.ID == "" {
		pos = domain.Position{
			ID:           uuid.New().String(),
			UserID:       userID,
			AssetID:      assetID,
			Mode:         mode,
			Qty:          decimal.Zero,
			CostBasisUSD: decimal.Zero,
			CreatedAt:    now,
		}
	}

	pos.Qty = pos.Qty.Add(qty)
	pos.CostBasisUSD = pos.CostBasisUSD.Add(qty.Mul(price))
	pos.UpdatedAt = now

	if err := tx.UpsertPosition(ctx, pos); err != nil {
		return domain.Position{}, err
	}

	lot := domain.PositionLot{
		ID:           uuid.New().String(),
		PositionID:   pos.ID,
		QtyRemaining: qty,
		UnitCostUSD:  price,
		CreatedAt:    now,
	}
	if err := tx.InsertLot(ctx, lot); err != nil {
		return domain.Position{}, err
	}

	return pos, nil
}

// SellOutcome reports the accounting result of one sell.
type SellOutcome struct {
	Position        domain.Position
	RealizedPnlUSD  decimal.Decimal
	ConsumedCostUSD decimal.Decimal
}

// ApplySell consumes qty units from the position's open lots in FIFO
// order at the given sell price. Realized PnL is accumulated per consumed
// slice as consumed*(price-unitCost). Lot exhaustion before qty is
// satisfied is an invariant violation: positions and lots must agree.
func (l *Ledger) ApplySell(ctx context.Context, tx domain.Tx, pos domain.Position, qty, price decimal.Decimal) (SellOutcome, error) {
	if !qty.IsPositive() || !price.IsPositive() {
		return SellOutcome{}, fmt.Errorf("ledger: sell qty=%s price=%s: %w", qty, price, domain.ErrLedgerInvariant)
	}
	if qty.GreaterThan(pos.Qty) {
		return SellOutcome{}, fmt.Errorf("ledger: sell %s exceeds position %s: %w", qty, pos.Qty, domain.ErrLedgerInvariant)
	}

	lots, err := tx.OpenLots(ctx, pos.ID)
	if err != nil {
		return SellOutcome{}, err
	}

	remaining := qty
	realized := decimal.Zero
	consumedCost := decimal.Zero

	for _, lot := range lots {
		if !remaining.IsPositive() {
			break
		}
		consumed := decimal.Min(lot.QtyRemaining, remaining)
		realized = realized.Add(consumed.Mul(price.Sub(lot.UnitCostUSD)))
		consumedCost = consumedCost.Add(consumed.Mul(lot.UnitCostUSD))
		remaining = remaining.Sub(consumed)

		if err := tx.UpdateLotRemaining(ctx, lot.ID, lot.QtyRemaining.Sub(consumed)); err != nil {
			return SellOutcome{}, err
		}
	}

	if remaining.IsPositive() {
		l.logger.Error("open lots exhausted before sell satisfied",
			slog.String("position", pos.ID),
			slog.String("requested", qty.String()),
			slog.String("unfilled", remaining.String()),
		)
		return SellOutcome{}, fmt.Errorf("ledger: lots cover only %s of %s: %w",
			qty.Sub(remaining), qty, domain.ErrLedgerInvariant)
	}

	pos.Qty = pos.Qty.Sub(qty)
	pos.CostBasisUSD = pos.CostBasisUSD.Sub(consumedCost)
	if pos.CostBasisUSD.IsNegative() {
		// Defensive floor against upstream rounding drift; monitored as a
		// data-quality signal, not treated as correct accounting.
		metrics.CostClamps.Inc()
		l.logger.Warn("cost basis clamped to zero",
			slog.String("position", pos.ID),
			slog.String("residual", pos.CostBasisUSD.String()),
		)
		pos.CostBasisUSD = decimal.Zero
	}
	if pos.Qty.IsZero() {
		pos.CostBasisUSD = decimal.Zero
	}
	pos.UpdatedAt = l.clock.Now()

	if err := tx.UpsertPosition(ctx, pos); err != nil {
		return SellOutcome{}, err
	}

	return SellOutcome{
		Position:        pos,
		RealizedPnlUSD:  realized,
		ConsumedCostUSD: consumedCost,
	}, nil
}
