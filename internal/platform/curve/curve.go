// Package curve estimates a bonding-curve launch price analytically. It is
// the last-resort price source, used only when every live upstream has
// failed, so its ticks are tagged synthetic and never rejected as stale.
package curve

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Estimator derives a price from the initial virtual reserves of a
// constant-product bonding curve. For a freshly launched pool the spot
// price in the quote asset is virtualQuote / virtualTokens.
type Estimator struct {
	virtualQuote  decimal.Decimal
	virtualTokens decimal.Decimal
}

// NewEstimator creates an Estimator from the pool's initial virtual
// reserves. Both must be positive.
func NewEstimator(virtualQuote, virtualTokens decimal.Decimal) (*Estimator, error) {
	if !virtualQuote.IsPositive() || !virtualTokens.IsPositive() {
		return nil, fmt.Errorf("curve: virtual reserves must be positive (quote=%s tokens=%s)",
			virtualQuote, virtualTokens)
	}
	return &Estimator{virtualQuote: virtualQuote, virtualTokens: virtualTokens}, nil
}

// PriceInQuote returns the estimated launch price in quote-asset units.
func (e *Estimator) PriceInQuote() decimal.Decimal {
	return e.virtualQuote.Div(e.virtualTokens)
}

// PriceUSD returns the estimated price in USD given the quote asset's USD
// price.
func (e *Estimator) PriceUSD(quoteUSD decimal.Decimal) decimal.Decimal {
	return e.PriceInQuote().Mul(quoteUSD)
}
