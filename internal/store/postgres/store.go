package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/solscope/papertrade/internal/domain"
)

// Store implements domain.Store. All trade mutations run through WithinTx
// so one executor call is one transaction.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given Client.
func NewStore(c *Client) *Store {
	return &Store{pool: c.Pool()}
}

// WithinTx runs fn inside one transaction, committing on nil and rolling
// back on error or panic.
func (s *Store) WithinTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	pgtx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer pgtx.Rollback(ctx) // no-op after commit

	if err := fn(&storeTx{tx: pgtx}); err != nil {
		return err
	}

	if err := pgtx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

const positionCols = `id, user_id, asset_id, trade_mode, qty, cost_basis_usd, created_at, updated_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var mode string
	err := row.Scan(&p.ID, &p.UserID, &p.AssetID, &mode, &p.Qty, &p.CostBasisUSD, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Position{}, err
	}
	p.Mode = domain.TradeMode(mode)
	return p, nil
}

// GetPosition reads a position without locking it.
func (s *Store) GetPosition(ctx context.Context, userID, assetID string, mode domain.TradeMode) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions
		 WHERE user_id = $1 AND asset_id = $2 AND trade_mode = $3`,
		userID, assetID, string(mode))

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s/%s: %w", userID, assetID, err)
	}
	return p, nil
}

// ListTrades returns a user's trades, newest first.
func (s *Store) ListTrades(ctx context.Context, userID string, limit int) ([]domain.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, asset_id, trade_mode, side, qty, price_usd, total_usd, realized_pnl_usd, executed_at
		 FROM trades WHERE user_id = $1
		 ORDER BY executed_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var mode, side string
		if err := rows.Scan(&t.ID, &t.UserID, &t.AssetID, &mode, &side,
			&t.Qty, &t.PriceUSD, &t.TotalUSD, &t.RealizedPnlUSD, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		t.Mode = domain.TradeMode(mode)
		t.Side = domain.TradeSide(side)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// storeTx implements domain.Tx over one pgx transaction.
type storeTx struct {
	tx pgx.Tx
}

// GetPositionForUpdate reads a position under a row lock held until the
// transaction ends.
func (t *storeTx) GetPositionForUpdate(ctx context.Context, userID, assetID string, mode domain.TradeMode) (domain.Position, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions
		 WHERE user_id = $1 AND asset_id = $2 AND trade_mode = $3
		 FOR UPDATE`,
		userID, assetID, string(mode))

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position for update %s/%s: %w", userID, assetID, err)
	}
	return p, nil
}

// UpsertPosition inserts or fully replaces the mutable position fields.
func (t *storeTx) UpsertPosition(ctx context.Context, p domain.Position) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO positions (id, user_id, asset_id, trade_mode, qty, cost_basis_usd, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (user_id, asset_id, trade_mode) DO UPDATE SET
			qty            = EXCLUDED.qty,
			cost_basis_usd = EXCLUDED.cost_basis_usd,
			updated_at     = EXCLUDED.updated_at`,
		p.ID, p.UserID, p.AssetID, string(p.Mode), p.Qty, p.CostBasisUSD, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", p.ID, err)
	}
	return nil
}

// OpenLots returns open lots in FIFO order, locked for update.
func (t *storeTx) OpenLots(ctx context.Context, positionID string) ([]domain.PositionLot, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, position_id, qty_remaining, unit_cost_usd, created_at
		 FROM position_lots
		 WHERE position_id = $1 AND qty_remaining > 0
		 ORDER BY created_at ASC, id ASC
		 FOR UPDATE`,
		positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: open lots %s: %w", positionID, err)
	}
	defer rows.Close()

	var lots []domain.PositionLot
	for rows.Next() {
		var lot domain.PositionLot
		if err := rows.Scan(&lot.ID, &lot.PositionID, &lot.QtyRemaining, &lot.UnitCostUSD, &lot.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan lot: %w", err)
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

// InsertLot appends a new FIFO lot.
func (t *storeTx) InsertLot(ctx context.Context, lot domain.PositionLot) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO position_lots (id, position_id, qty_remaining, unit_cost_usd, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		lot.ID, lot.PositionID, lot.QtyRemaining, lot.UnitCostUSD, lot.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert lot %s: %w", lot.ID, err)
	}
	return nil
}

// UpdateLotRemaining sets a lot's remaining quantity after consumption.
func (t *storeTx) UpdateLotRemaining(ctx context.Context, lotID string, remaining decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE position_lots SET qty_remaining = $2 WHERE id = $1`,
		lotID, remaining)
	if err != nil {
		return fmt.Errorf("postgres: update lot %s: %w", lotID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// InsertTrade appends the immutable trade record.
func (t *storeTx) InsertTrade(ctx context.Context, trade domain.Trade) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO trades (id, user_id, asset_id, trade_mode, side, qty, price_usd, total_usd, realized_pnl_usd, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		trade.ID, trade.UserID, trade.AssetID, string(trade.Mode), string(trade.Side),
		trade.Qty, trade.PriceUSD, trade.TotalUSD, trade.RealizedPnlUSD, trade.ExecutedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", trade.ID, err)
	}
	return nil
}

// GetBalanceForUpdate reads the user's wallet balance under a row lock.
func (t *storeTx) GetBalanceForUpdate(ctx context.Context, userID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := t.tx.QueryRow(ctx,
		`SELECT balance_usd FROM users WHERE id = $1 FOR UPDATE`,
		userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, domain.ErrNotFound
		}
		return decimal.Zero, fmt.Errorf("postgres: get balance %s: %w", userID, err)
	}
	return balance, nil
}

// AdjustBalance applies a signed delta to the user's wallet balance.
func (t *storeTx) AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE users SET balance_usd = balance_usd + $2 WHERE id = $1`,
		userID, delta)
	if err != nil {
		return fmt.Errorf("postgres: adjust balance %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface checks.
var (
	_ domain.Store = (*Store)(nil)
	_ domain.Tx    = (*storeTx)(nil)
)
