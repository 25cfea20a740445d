// Package dexscreener implements a price lookup client for the DexScreener
// public API, the secondary upstream price source.
package dexscreener

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Client queries the DexScreener token API.
type Client struct {
	host       string
	httpClient *http.Client
}

// NewClient creates a DexScreener client for the given API host, e.g.
// "https://api.dexscreener.com".
func NewClient(host string) *Client {
	return &Client{
		host: strings.TrimRight(host, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// pair is one trading pair in the token response. Prices arrive as strings.
type pair struct {
	PriceUSD    decimal.Decimal `json:"priceUsd"`
	PriceNative decimal.Decimal `json:"priceNative"`
	FDV         decimal.Decimal `json:"fdv"`
	Liquidity   struct {
		USD decimal.Decimal `json:"usd"`
	} `json:"liquidity"`
	Volume struct {
		H24 decimal.Decimal `json:"h24"`
	} `json:"volume"`
}

// TokenPrice is the decoded price for a single token address.
type TokenPrice struct {
	PriceUSD     decimal.Decimal
	PriceNative  decimal.Decimal
	MarketCapUSD decimal.Decimal
	Volume24h    decimal.Decimal
}

// FetchPrice returns the current price for a token, taken from its deepest
// pair by USD liquidity. It returns an error when no pair is listed.
func (c *Client) FetchPrice(ctx context.Context, address string) (TokenPrice, error) {
	u := fmt.Sprintf("%s/latest/dex/tokens/%s", c.host, address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return TokenPrice{}, fmt.Errorf("dexscreener: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return TokenPrice{}, fmt.Errorf("dexscreener: fetch token %s: %w", address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return TokenPrice{}, fmt.Errorf("dexscreener: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Pairs []pair `json:"pairs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return TokenPrice{}, fmt.Errorf("dexscreener: decode response: %w", err)
	}
	if len(decoded.Pairs) == 0 {
		return TokenPrice{}, fmt.Errorf("dexscreener: no pairs for %s", address)
	}

	best := decoded.Pairs[0]
	for _, p := range decoded.Pairs[1:] {
		if p.Liquidity.USD.GreaterThan(best.Liquidity.USD) {
			best = p
		}
	}

	return TokenPrice{
		PriceUSD:     best.PriceUSD,
		PriceNative:  best.PriceNative,
		MarketCapUSD: best.FDV,
		Volume24h:    best.Volume.H24,
	}, nil
}
