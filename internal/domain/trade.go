package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeSide is the direction of an executed trade.
type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

// Trade is the immutable append-only record of one executed buy or sell.
type Trade struct {
	ID             string
	UserID         string
	AssetID        string
	Mode           TradeMode
	Side           TradeSide
	Qty            decimal.Decimal
	PriceUSD       decimal.Decimal
	TotalUSD       decimal.Decimal
	RealizedPnlUSD decimal.Decimal // zero for buys
	ExecutedAt     time.Time
}

// TradeResult is returned to the caller after a successful execution.
type TradeResult struct {
	Trade          Trade
	Position       Position
	BalanceUSD     decimal.Decimal
	RealizedPnlUSD decimal.Decimal
}
