package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solscope/papertrade/internal/domain"
)

func tick(assetID string, priceUSD float64, observedAt int64) domain.PriceTick {
	return domain.PriceTick{
		AssetID:    assetID,
		PriceUSD:   decimal.NewFromFloat(priceUSD),
		ObservedAt: observedAt,
		Source:     domain.SourceJupiter,
	}
}

func TestTickCacheGetSet(t *testing.T) {
	ctx := context.Background()
	c, err := New(8)
	require.NoError(t, err)

	_, err = c.Get(ctx, "mint-a")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	accepted, err := c.Set(ctx, tick("mint-a", 1.5, 1000))
	require.NoError(t, err)
	assert.True(t, accepted)

	got, err := c.Get(ctx, "mint-a")
	require.NoError(t, err)
	assert.True(t, got.PriceUSD.Equal(decimal.NewFromFloat(1.5)))
}

func TestTickCacheRejectsOlderTick(t *testing.T) {
	ctx := context.Background()
	c, err := New(8)
	require.NoError(t, err)

	_, err = c.Set(ctx, tick("mint-a", 2.0, 2000))
	require.NoError(t, err)

	accepted, err := c.Set(ctx, tick("mint-a", 1.0, 1000))
	require.NoError(t, err)
	assert.False(t, accepted)

	// Equal timestamps do not supersede either.
	accepted, err = c.Set(ctx, tick("mint-a", 3.0, 2000))
	require.NoError(t, err)
	assert.False(t, accepted)

	got, err := c.Get(ctx, "mint-a")
	require.NoError(t, err)
	assert.True(t, got.PriceUSD.Equal(decimal.NewFromFloat(2.0)))
}

func TestTickCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c, err := New(4)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := c.Set(ctx, tick(fmt.Sprintf("mint-%d", i), 1, int64(1000+i)))
		require.NoError(t, err)
	}
	// Touch mint-0 so mint-1 is the eviction candidate.
	_, err = c.Get(ctx, "mint-0")
	require.NoError(t, err)

	_, err = c.Set(ctx, tick("mint-9", 1, 2000))
	require.NoError(t, err)

	assert.Equal(t, 4, c.Len())
	_, err = c.Get(ctx, "mint-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = c.Get(ctx, "mint-0")
	assert.NoError(t, err)
}
