package dexscreener

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchPricePicksDeepestPair(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/latest/dex/tokens/mint-a", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"pairs": [
			{"priceUsd": "0.004", "priceNative": "0.000026", "fdv": 400000,
			 "liquidity": {"usd": 1000}, "volume": {"h24": 5000}},
			{"priceUsd": "0.0042", "priceNative": "0.000028", "fdv": 420000,
			 "liquidity": {"usd": 90000}, "volume": {"h24": 250000}}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	price, err := c.FetchPrice(context.Background(), "mint-a")
	require.NoError(t, err)
	assert.True(t, price.PriceUSD.Equal(decimal.NewFromFloat(0.0042)))
	assert.True(t, price.PriceNative.Equal(decimal.NewFromFloat(0.000028)))
	assert.True(t, price.MarketCapUSD.Equal(decimal.NewFromInt(420000)))
	assert.True(t, price.Volume24h.Equal(decimal.NewFromInt(250000)))
}

func TestFetchPriceNoPairs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pairs": []}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.FetchPrice(context.Background(), "mint-x")
	assert.ErrorContains(t, err, "no pairs")
}

func TestFetchPriceUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "oops", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.FetchPrice(context.Background(), "mint-a")
	assert.ErrorContains(t, err, "status 500")
}
