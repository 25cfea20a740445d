package curve

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimatorPrice(t *testing.T) {
	est, err := NewEstimator(decimal.NewFromInt(30), decimal.NewFromInt(1_073_000_000))
	require.NoError(t, err)

	want := decimal.NewFromInt(30).Div(decimal.NewFromInt(1_073_000_000))
	assert.True(t, est.PriceInQuote().Equal(want))

	usd := est.PriceUSD(decimal.NewFromInt(150))
	assert.True(t, usd.Equal(want.Mul(decimal.NewFromInt(150))))
}

func TestEstimatorRejectsNonPositiveReserves(t *testing.T) {
	_, err := NewEstimator(decimal.Zero, decimal.NewFromInt(1))
	assert.Error(t, err)
	_, err = NewEstimator(decimal.NewFromInt(1), decimal.Zero)
	assert.Error(t, err)
}
