// Package domain defines the core types, store/cache interfaces, and error
// taxonomy shared by all papertrade components.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TickSource identifies where a price tick came from.
type TickSource string

const (
	// SourceJupiter is the primary DEX aggregator REST API.
	SourceJupiter TickSource = "jupiter"
	// SourceDexScreener is the secondary aggregator REST API.
	SourceDexScreener TickSource = "dexscreener"
	// SourceStream is the real-time swap event feed.
	SourceStream TickSource = "stream"
	// SourceCurve is the analytic bonding-curve estimator, used only when
	// every live source has failed. Curve ticks are synthetic and exempt
	// from staleness rejection.
	SourceCurve TickSource = "curve"
)

// Synthetic reports whether the tick was computed analytically rather than
// observed from a live market.
func (s TickSource) Synthetic() bool {
	return s == SourceCurve
}

// PriceTick is the latest observed price for one asset. Ticks are created on
// every successful fetch or stream event and superseded, never mutated.
//
// The JSON encoding is also the shared-cache wire format (key
// "price:<assetID>", pub/sub channel "prices").
type PriceTick struct {
	AssetID      string          `json:"assetId"`
	PriceUSD     decimal.Decimal `json:"priceUsd"`
	PriceInQuote decimal.Decimal `json:"priceInQuote"`
	QuoteUSD     decimal.Decimal `json:"quoteUsd"`
	MarketCapUSD decimal.Decimal `json:"marketCapUsd,omitempty"`
	Volume       decimal.Decimal `json:"volume,omitempty"`
	ObservedAt   int64           `json:"observedAtMs"`
	Source       TickSource      `json:"source"`
}

// ObservedTime returns the tick timestamp as a time.Time.
func (t PriceTick) ObservedTime() time.Time {
	return time.UnixMilli(t.ObservedAt)
}

// Age returns how old the tick is relative to now.
func (t PriceTick) Age(now time.Time) time.Duration {
	return now.Sub(t.ObservedTime())
}

// NewerThan reports whether this tick supersedes other. A tick with an older
// ObservedAt must never overwrite a cached one.
func (t PriceTick) NewerThan(other PriceTick) bool {
	return t.ObservedAt > other.ObservedAt
}

// Quote is the validated price shape handed to the trade executor.
type Quote struct {
	PriceUSD     decimal.Decimal
	PriceInQuote decimal.Decimal
	QuoteUSD     decimal.Decimal
	MarketCapUSD decimal.Decimal
	Source       TickSource
}
