package jupiter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchPrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/price/v3", r.URL.Path)
		assert.Equal(t, "mint-a,mint-b", r.URL.Query().Get("ids"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"mint-a": {"usdPrice": 0.0042, "mcap": 420000},
			"mint-b": {"usdPrice": 1.5, "mcap": 1500000}
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	prices, err := c.FetchPrices(context.Background(), []string{"mint-a", "mint-b"})
	require.NoError(t, err)
	require.Len(t, prices, 2)
	assert.True(t, prices["mint-a"].PriceUSD.Equal(decimal.NewFromFloat(0.0042)))
	assert.True(t, prices["mint-b"].MarketCapUSD.Equal(decimal.NewFromInt(1500000)))
}

func TestFetchPriceMissingMint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.FetchPrice(context.Background(), "mint-x")
	assert.ErrorContains(t, err, "no price for mint-x")
}

func TestFetchPricesUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.FetchPrices(context.Background(), []string{"mint-a"})
	assert.ErrorContains(t, err, "status 429")
}

func TestFetchPricesEmptyInput(t *testing.T) {
	c := NewClient("http://unused.invalid")
	prices, err := c.FetchPrices(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, prices)
}
