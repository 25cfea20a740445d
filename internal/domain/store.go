package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store is the persistence boundary for the accounting engine. All
// position/lot/trade mutations for one trade execution happen inside a
// single WithinTx call; no partial application is observable outside it.
type Store interface {
	// WithinTx runs fn inside one transaction, committing on nil and
	// rolling back on error or panic.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	// GetPosition reads a position outside any transaction (ErrNotFound
	// when the user has never traded the asset).
	GetPosition(ctx context.Context, userID, assetID string, mode TradeMode) (Position, error)
	// ListTrades returns a user's trades, newest first.
	ListTrades(ctx context.Context, userID string, limit int) ([]Trade, error)
}

// Tx exposes the row-level operations available inside one transaction.
// For-update reads take row locks for the duration of the transaction.
type Tx interface {
	GetPositionForUpdate(ctx context.Context, userID, assetID string, mode TradeMode) (Position, error)
	UpsertPosition(ctx context.Context, p Position) error

	// OpenLots returns lots with QtyRemaining > 0 in FIFO order
	// (CreatedAt ascending, id as tiebreak), locked for update.
	OpenLots(ctx context.Context, positionID string) ([]PositionLot, error)
	InsertLot(ctx context.Context, lot PositionLot) error
	UpdateLotRemaining(ctx context.Context, lotID string, remaining decimal.Decimal) error

	InsertTrade(ctx context.Context, t Trade) error

	GetBalanceForUpdate(ctx context.Context, userID string) (decimal.Decimal, error)
	AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) error
}

// Clock abstracts time for components whose behavior depends on it
// (breakers, staleness checks). Production code uses RealClock.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

// Now returns the current wall-clock time.
func (RealClock) Now() time.Time { return time.Now() }
