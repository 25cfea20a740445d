package feed

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// rpcMessage is the JSON-RPC envelope used by the feed: subscription
// confirmations carry Result, notifications carry Method and Params.
type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  *rpcParams      `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcParams wraps a notification payload with its subscription id.
type rpcParams struct {
	Subscription int64           `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// rpcError is a JSON-RPC error object.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// subscribeRequest names the venue programs of interest and the
// commitment level.
type subscribeRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// swapEvent is one decoded swap from the notification payload. Reserve
// fields are the bonding-curve virtual reserves after the swap.
type swapEvent struct {
	Mint                 string          `json:"mint"`
	IsBuy                bool            `json:"isBuy"`
	SolAmount            decimal.Decimal `json:"solAmount"`
	TokenAmount          decimal.Decimal `json:"tokenAmount"`
	VirtualSolReserves   decimal.Decimal `json:"vSolInBondingCurve"`
	VirtualTokenReserves decimal.Decimal `json:"vTokensInBondingCurve"`
	MarketCapSol         decimal.Decimal `json:"marketCapSol"`
	Timestamp            int64           `json:"timestamp"` // unix seconds
}

// priceInQuote derives the post-swap spot price in quote units. The
// virtual reserve ratio is preferred; the executed swap ratio is the
// fallback when reserves are absent from the event.
func (e swapEvent) priceInQuote() (decimal.Decimal, error) {
	if e.VirtualSolReserves.IsPositive() && e.VirtualTokenReserves.IsPositive() {
		return e.VirtualSolReserves.Div(e.VirtualTokenReserves), nil
	}
	if e.SolAmount.IsPositive() && e.TokenAmount.IsPositive() {
		return e.SolAmount.Div(e.TokenAmount), nil
	}
	return decimal.Zero, fmt.Errorf("feed: swap for %s has no usable amounts", e.Mint)
}

// parseSwapEvents decodes the raw notification payload into zero or more
// swap events. Payloads may carry a single event object or an array.
func parseSwapEvents(raw json.RawMessage) ([]swapEvent, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("feed: empty notification payload")
	}

	if raw[0] == '[' {
		var events []swapEvent
		if err := json.Unmarshal(raw, &events); err != nil {
			return nil, fmt.Errorf("feed: decode swap batch: %w", err)
		}
		return validEvents(events), nil
	}

	var event swapEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("feed: decode swap: %w", err)
	}
	return validEvents([]swapEvent{event}), nil
}

// validEvents drops events without a mint; everything else is judged at
// tick-build time.
func validEvents(events []swapEvent) []swapEvent {
	out := events[:0]
	for _, e := range events {
		if e.Mint == "" {
			continue
		}
		out = append(out, e)
	}
	return out
}
