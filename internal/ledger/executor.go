package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/solscope/papertrade/internal/domain"
	"github.com/solscope/papertrade/internal/metrics"
)

// PriceReader is the slice of the price service the executor is allowed to
// use. GetValidatedPrice is the only read path for execution prices.
type PriceReader interface {
	GetValidatedPrice(ctx context.Context, assetID string, side domain.TradeSide) (domain.Quote, error)
	GetPrice(ctx context.Context, assetID string) (decimal.Decimal, error)
}

// PortfolioInvalidator drops a user's cached portfolio snapshot after a
// trade. Best-effort: failures are logged, never surfaced.
type PortfolioInvalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

// ExecutorConfig holds execution parameters.
type ExecutorConfig struct {
	Mode        domain.TradeMode
	LockTTL     time.Duration
	LockBudget  time.Duration
	SellEpsilon decimal.Decimal
}

// Executor is the public trade entry point. One call validates the price,
// serializes on the per-(user,asset) distributed lock, and applies all
// ledger mutations plus the trade record in a single transaction.
type Executor struct {
	store     domain.Store
	prices    PriceReader
	locks     domain.LockManager
	ledger    *Ledger
	portfolio PortfolioInvalidator
	cfg       ExecutorConfig
	clock     domain.Clock
	logger    *slog.Logger
}

// NewExecutor creates an Executor. portfolio may be nil when no snapshot
// cache is in play (tests).
func NewExecutor(store domain.Store, prices PriceReader, locks domain.LockManager, ledger *Ledger, portfolio PortfolioInvalidator, cfg ExecutorConfig, clock domain.Clock, logger *slog.Logger) *Executor {
	if cfg.Mode == "" {
		cfg.Mode = domain.ModePaper
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 15 * time.Second
	}
	if cfg.LockBudget <= 0 {
		cfg.LockBudget = 5 * time.Second
	}
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &Executor{
		store:     store,
		prices:    prices,
		locks:     locks,
		ledger:    ledger,
		portfolio: portfolio,
		cfg:       cfg,
		clock:     clock,
		logger:    logger.With(slog.String("component", "trade_executor")),
	}
}

func tradeLockKey(userID, assetID string) string {
	return "trade:" + userID + ":" + assetID
}

// Buy spends quoteAmount (reference-asset units) on the asset at the
// current validated price. The wallet is debited and a new FIFO lot is
// opened inside one transaction.
func (e *Executor) Buy(ctx context.Context, userID, assetID string, quoteAmount decimal.Decimal) (domain.TradeResult, error) {
	started := e.clock.Now()

	if !quoteAmount.IsPositive() {
		metrics.TradeRejections.WithLabelValues("invalid_amount").Inc()
		return domain.TradeResult{}, fmt.Errorf("executor: buy amount %s: %w", quoteAmount, domain.ErrInsufficientBalance)
	}

	quote, err := e.prices.GetValidatedPrice(ctx, assetID, domain.SideBuy)
	if err != nil {
		metrics.TradeRejections.WithLabelValues(rejectionReason(err)).Inc()
		return domain.TradeResult{}, err
	}

	totalUSD := quoteAmount.Mul(quote.QuoteUSD)
	qty := totalUSD.Div(quote.PriceUSD)

	unlock, err := e.acquireLock(ctx, userID, assetID)
	if err != nil {
		return domain.TradeResult{}, err
	}
	defer unlock()

	var result domain.TradeResult
	err = e.store.WithinTx(ctx, func(tx domain.Tx) error {
		balance, err := tx.GetBalanceForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if balance.LessThan(totalUSD) {
			return fmt.Errorf("executor: wallet %s short of %s: %w", balance, totalUSD, domain.ErrInsufficientBalance)
		}
		if err := tx.AdjustBalance(ctx, userID, totalUSD.Neg()); err != nil {
			return err
		}

		pos, err := tx.GetPositionForUpdate(ctx, userID, assetID, e.cfg.Mode)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		pos, err = e.ledger.ApplyBuy(ctx, tx, pos, userID, assetID, e.cfg.Mode, qty, quote.PriceUSD)
		if err != nil {
			return err
		}

		trade := domain.Trade{
			ID:         uuid.New().String(),
			UserID:     userID,
			AssetID:    assetID,
			Mode:       e.cfg.Mode,
			Side:       domain.SideBuy,
			Qty:        qty,
			PriceUSD:   quote.PriceUSD,
			TotalUSD:   totalUSD,
			ExecutedAt: e.clock.Now(),
		}
		if err := tx.InsertTrade(ctx, trade); err != nil {
			return err
		}

		result = domain.TradeResult{
			Trade:      trade,
			Position:   pos,
			BalanceUSD: balance.Sub(totalUSD),
		}
		return nil
	})
	if err != nil {
		metrics.TradeRejections.WithLabelValues(rejectionReason(err)).Inc()
		return domain.TradeResult{}, err
	}

	e.afterTrade(userID, assetID)
	metrics.TradesTotal.WithLabelValues(string(domain.SideBuy)).Inc()
	metrics.TradeLatency.WithLabelValues(string(domain.SideBuy)).Observe(e.clock.Now().Sub(started).Seconds())

	e.logger.Info("buy executed",
		slog.String("user", userID),
		slog.String("asset", assetID),
		slog.String("qty", qty.String()),
		slog.String("price_usd", quote.PriceUSD.String()),
		slog.String("source", string(quote.Source)),
	)
	return result, nil
}

// Sell disposes qty units of the asset at the current validated price,
// consuming FIFO lots and realizing PnL inside one transaction. A request
// within the rounding epsilon above the held quantity is clamped to it.
func (e *Executor) Sell(ctx context.Context, userID, assetID string, qty decimal.Decimal) (domain.TradeResult, error) {
	started := e.clock.Now()

	if !qty.IsPositive() {
		metrics.TradeRejections.WithLabelValues("invalid_amount").Inc()
		return domain.TradeResult{}, fmt.Errorf("executor: sell quantity %s: %w", qty, domain.ErrInsufficientBalance)
	}

	quote, err := e.prices.GetValidatedPrice(ctx, assetID, domain.SideSell)
	if err != nil {
		metrics.TradeRejections.WithLabelValues(rejectionReason(err)).Inc()
		return domain.TradeResult{}, err
	}

	// Fail fast before taking the lock; the definitive clamp happens on
	// the row-locked position inside the transaction.
	pos, err := e.store.GetPosition(ctx, userID, assetID, e.cfg.Mode)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.TradeRejections.WithLabelValues("insufficient_balance").Inc()
			return domain.TradeResult{}, fmt.Errorf("executor: no position in %s: %w", assetID, domain.ErrInsufficientBalance)
		}
		return domain.TradeResult{}, err
	}
	if _, err := ClampSellQty(pos.Qty, qty, e.cfg.SellEpsilon); err != nil {
		metrics.TradeRejections.WithLabelValues("insufficient_balance").Inc()
		return domain.TradeResult{}, err
	}

	unlock, err := e.acquireLock(ctx, userID, assetID)
	if err != nil {
		return domain.TradeResult{}, err
	}
	defer unlock()

	var result domain.TradeResult
	err = e.store.WithinTx(ctx, func(tx domain.Tx) error {
		pos, err := tx.GetPositionForUpdate(ctx, userID, assetID, e.cfg.Mode)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("executor: no position in %s: %w", assetID, domain.ErrInsufficientBalance)
			}
			return err
		}

		sellQty, err := ClampSellQty(pos.Qty, qty, e.cfg.SellEpsilon)
		if err != nil {
			return err
		}

		outcome, err := e.ledger.ApplySell(ctx, tx, pos, sellQty, quote.PriceUSD)
		if err != nil {
			return err
		}

		totalUSD := sellQty.Mul(quote.PriceUSD)
		balance, err := tx.GetBalanceForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if err := tx.AdjustBalance(ctx, userID, totalUSD); err != nil {
			return err
		}

		trade := domain.Trade{
			ID:             uuid.New().String(),
			UserID:         userID,
			AssetID:        assetID,
			Mode:           e.cfg.Mode,
			Side:           domain.SideSell,
			Qty:            sellQty,
			PriceUSD:       quote.PriceUSD,
			TotalUSD:       totalUSD,
			RealizedPnlUSD: outcome.RealizedPnlUSD,
			ExecutedAt:     e.clock.Now(),
		}
		if err := tx.InsertTrade(ctx, trade); err != nil {
			return err
		}

		result = domain.TradeResult{
			Trade:          trade,
			Position:       outcome.Position,
			BalanceUSD:     balance.Add(totalUSD),
			RealizedPnlUSD: outcome.RealizedPnlUSD,
		}
		return nil
	})
	if err != nil {
		metrics.TradeRejections.WithLabelValues(rejectionReason(err)).Inc()
		return domain.TradeResult{}, err
	}

	e.afterTrade(userID, assetID)
	metrics.TradesTotal.WithLabelValues(string(domain.SideSell)).Inc()
	metrics.TradeLatency.WithLabelValues(string(domain.SideSell)).Observe(e.clock.Now().Sub(started).Seconds())

	e.logger.Info("sell executed",
		slog.String("user", userID),
		slog.String("asset", assetID),
		slog.String("qty", result.Trade.Qty.String()),
		slog.String("price_usd", quote.PriceUSD.String()),
		slog.String("realized_pnl_usd", result.RealizedPnlUSD.String()),
	)
	return result, nil
}

// acquireLock serializes trades on one (user, asset) pair across process
// instances.
func (e *Executor) acquireLock(ctx context.Context, userID, assetID string) (func(), error) {
	started := time.Now()
	unlock, err := e.locks.AcquireWait(ctx, tradeLockKey(userID, assetID), e.cfg.LockTTL, e.cfg.LockBudget)
	metrics.LockAcquire.Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.TradeRejections.WithLabelValues("lock_timeout").Inc()
		return nil, err
	}
	return unlock, nil
}

// afterTrade runs best-effort post-commit work off the request path:
// portfolio snapshot invalidation and a price prefetch for the next read.
func (e *Executor) afterTrade(userID, assetID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if e.portfolio != nil {
			if err := e.portfolio.Invalidate(ctx, userID); err != nil {
				e.logger.Warn("portfolio invalidation failed",
					slog.String("user", userID),
					slog.String("error", err.Error()),
				)
			}
		}
		if _, err := e.prices.GetPrice(ctx, assetID); err != nil {
			e.logger.Debug("post-trade prefetch failed",
				slog.String("asset", assetID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// rejectionReason maps an error to a bounded metric label.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrPriceUnavailable):
		return "price_unavailable"
	case errors.Is(err, domain.ErrStalePrice):
		return "stale_price"
	case errors.Is(err, domain.ErrInvalidPrice):
		return "invalid_price"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, domain.ErrLockTimeout):
		return "lock_timeout"
	case errors.Is(err, domain.ErrLedgerInvariant):
		return "ledger_invariant"
	default:
		return "internal"
	}
}
