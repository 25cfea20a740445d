package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeMode distinguishes independent accounting books for the same user
// and asset (e.g. real vs. practice balance).
type TradeMode string

const (
	ModePaper TradeMode = "paper"
	ModeLive  TradeMode = "live"
)

// Position is the aggregate holding for one (user, asset, mode) triple.
//
// Invariants: Qty >= 0, CostBasisUSD >= 0, and Qty == 0 implies
// CostBasisUSD == 0. Positions are zeroed on full exit, never deleted.
type Position struct {
	ID           string
	UserID       string
	AssetID      string
	Mode         TradeMode
	Qty          decimal.Decimal
	CostBasisUSD decimal.Decimal
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AvgCostUSD returns the volume-weighted average cost per unit, or zero for
// an empty position.
func (p Position) AvgCostUSD() decimal.Decimal {
	if p.Qty.IsZero() {
		return decimal.Zero
	}
	return p.CostBasisUSD.Div(p.Qty)
}

// PositionLot records one buy fill. Lots are consumed oldest-first on sells;
// QtyRemaining only ever decreases and the row is kept (exhausted, not
// deleted) once it reaches zero.
type PositionLot struct {
	ID           string
	PositionID   string
	QtyRemaining decimal.Decimal
	UnitCostUSD  decimal.Decimal
	CreatedAt    time.Time
}
