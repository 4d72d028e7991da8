package engine

import (
	"fmt"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSize_IntegerRatio(t *testing.T) {
	// equity=10000, fracA=0.6 => ratio=floor(0.6/0.4)=1,
	// sharesB=floor(10000/(50+100))=66, sharesA=66.
	targets, err := Size(decimal.NewFromInt(10000), 0.6, decimal.NewFromInt(100), decimal.NewFromInt(50))
	require.NoError(t, err)

	assert.Equal(t, int64(66), targets.SharesA)
	assert.Equal(t, int64(66), targets.SharesB)
}

func TestSize_RatioProperty(t *testing.T) {
	tbl := []struct {
		equity float64
		fracA  float64
		priceA float64
		priceB float64
	}{
		{equity: 10000, fracA: 0.6, priceA: 100, priceB: 50},
		{equity: 25000, fracA: 0.8, priceA: 430, priceB: 95},
		{equity: 5000, fracA: 0.5, priceA: 12.5, priceB: 99},
		{equity: 100000, fracA: 0.95, priceA: 10, priceB: 200},
		{equity: 300, fracA: 0.3, priceA: 430, priceB: 95},
	}

	for i, c := range tbl {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			targets, err := Size(
				decimal.NewFromFloat(c.equity),
				c.fracA,
				decimal.NewFromFloat(c.priceA),
				decimal.NewFromFloat(c.priceB))
			require.NoError(t, err)

			assert.GreaterOrEqual(t, targets.SharesA, int64(0))
			assert.GreaterOrEqual(t, targets.SharesB, int64(0))

			if targets.SharesB > 0 {
				ratio := int64(math.Floor(c.fracA / (1 - c.fracA)))
				assert.Equal(t, ratio, targets.SharesA/targets.SharesB)
			}
		})
	}
}

func TestSize_AllInPrimaryWhenHedgeFractionZero(t *testing.T) {
	targets, err := Size(decimal.NewFromInt(10000), 1.0, decimal.NewFromInt(99), decimal.NewFromInt(50))
	require.NoError(t, err)

	assert.Equal(t, int64(101), targets.SharesA)
	assert.Equal(t, int64(0), targets.SharesB)
}

func TestSize_TrackingLoss(t *testing.T) {
	targets, err := Size(decimal.NewFromInt(10000), 0.6, decimal.NewFromInt(100), decimal.NewFromInt(50))
	require.NoError(t, err)

	// Achieved split is 66*100 vs 66*50 => 2/3 vs 1/3 against a 0.6/0.4
	// target.
	want := math.Hypot(0.6-2.0/3.0, 0.4-1.0/3.0)
	assert.InDelta(t, want, targets.Loss, 1e-9)
}

func TestSize_LossWhenNothingAffordable(t *testing.T) {
	targets, err := Size(decimal.NewFromInt(10), 0.6, decimal.NewFromInt(100), decimal.NewFromInt(50))
	require.NoError(t, err)

	assert.Equal(t, int64(0), targets.SharesA)
	assert.Equal(t, int64(0), targets.SharesB)
	assert.InDelta(t, math.Hypot(0.6, 0.4), targets.Loss, 1e-9)
}

func TestSize_InputErrors(t *testing.T) {
	_, err := Size(decimal.NewFromInt(1000), -0.1, decimal.NewFromInt(10), decimal.NewFromInt(10))
	assert.Error(t, err)

	_, err = Size(decimal.NewFromInt(1000), 1.1, decimal.NewFromInt(10), decimal.NewFromInt(10))
	assert.Error(t, err)

	_, err = Size(decimal.NewFromInt(-5), 0.5, decimal.NewFromInt(10), decimal.NewFromInt(10))
	assert.Error(t, err)

	_, err = Size(decimal.NewFromInt(1000), 0.5, decimal.Zero, decimal.NewFromInt(10))
	assert.Error(t, err)

	_, err = Size(decimal.NewFromInt(1000), 0.5, decimal.NewFromInt(10), decimal.Zero)
	assert.Error(t, err)
}
