// Package jupiter implements a price lookup client for the Jupiter
// aggregator price API, the primary upstream price source.
package jupiter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Client queries the Jupiter price API.
type Client struct {
	host       string
	httpClient *http.Client
}

// NewClient creates a Jupiter client for the given API host, e.g.
// "https://lite-api.jup.ag".
func NewClient(host string) *Client {
	return &Client{
		host: strings.TrimRight(host, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// priceEntry is one asset's entry in the price API response.
type priceEntry struct {
	USDPrice decimal.Decimal `json:"usdPrice"`
	Mcap     decimal.Decimal `json:"mcap"`
}

// TokenPrice is the decoded price for a single mint.
type TokenPrice struct {
	PriceUSD     decimal.Decimal
	MarketCapUSD decimal.Decimal
}

// FetchPrice returns the current USD price for one mint. It returns an
// error when the API responds without an entry for the mint.
func (c *Client) FetchPrice(ctx context.Context, mint string) (TokenPrice, error) {
	prices, err := c.FetchPrices(ctx, []string{mint})
	if err != nil {
		return TokenPrice{}, err
	}
	p, ok := prices[mint]
	if !ok {
		return TokenPrice{}, fmt.Errorf("jupiter: no price for %s", mint)
	}
	return p, nil
}

// FetchPrices returns current USD prices for up to 50 mints in one call.
// Mints unknown to the API are omitted from the result map.
func (c *Client) FetchPrices(ctx context.Context, mints []string) (map[string]TokenPrice, error) {
	if len(mints) == 0 {
		return map[string]TokenPrice{}, nil
	}

	u := fmt.Sprintf("%s/price/v3?ids=%s", c.host, url.QueryEscape(strings.Join(mints, ",")))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("jupiter: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jupiter: fetch prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("jupiter: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded map[string]priceEntry
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("jupiter: decode response: %w", err)
	}

	result := make(map[string]TokenPrice, len(decoded))
	for mint, entry := range decoded {
		result[mint] = TokenPrice{
			PriceUSD:     entry.USDPrice,
			MarketCapUSD: entry.Mcap,
		}
	}
	return result, nil
}
