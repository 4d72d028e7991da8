package engine

import (
	"errors"
	"fmt"
	"math"

	"github.com/calmasset/rebalancer/internal/market"
)

// ErrZeroVolatility is returned when both histories are perfectly flat and no
// volatility-based split can be derived. Callers pick the fallback policy.
var ErrZeroVolatility = errors.New("combined volatility is zero")

// squashSteepness controls how sharply the logistic pushes the allocation
// toward 0 or 1 once one asset's volatility dominates.
const squashSteepness = 20.0

// Allocate computes the target allocation fraction for asset A from the two
// price histories. Asset B gets the complement. Each history is reduced to a
// VWAP-normalized typical-price series; the population standard deviation of
// that series is the asset's volatility proxy, and the calmer asset gets the
// larger share.
func Allocate(a, b []market.Bar) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, errors.New("empty price history")
	}

	if len(a) != len(b) {
		return 0, fmt.Errorf("history length mismatch: %d vs %d bars", len(a), len(b))
	}

	va, err := normalizedVolatility(a)
	if err != nil {
		return 0, fmt.Errorf("failed to compute volatility for asset A: %w", err)
	}

	vb, err := normalizedVolatility(b)
	if err != nil {
		return 0, fmt.Errorf("failed to compute volatility for asset B: %w", err)
	}

	total := va + vb
	if total == 0 {
		return 0, ErrZeroVolatility
	}

	raw := 1 - va/total
	f := 1 / (1 + math.Exp(-squashSteepness*(raw-0.5)))
	return math.Min(1, math.Max(0, f)), nil
}

func normalizedVolatility(bars []market.Bar) (float64, error) {
	rel, err := priceRelatives(bars)
	if err != nil {
		return 0, err
	}

	var sum float64
	for _, x := range rel {
		sum += x
	}

	n := float64(len(rel))
	mean := sum / n

	var ss float64
	for _, x := range rel {
		d := x - mean
		ss += d * d
	}

	return math.Sqrt(ss / n), nil
}

// priceRelatives divides each bar's typical price by the sequence VWAP,
// producing the dimensionless series the volatility proxy is taken over.
func priceRelatives(bars []market.Bar) ([]float64, error) {
	var pv, vol float64
	prices := make([]float64, len(bars))
	for i, b := range bars {
		p, _ := b.Typical().Float64()
		v, _ := b.Volume.Float64()
		prices[i] = p
		pv += p * v
		vol += v
	}

	if vol == 0 {
		return nil, errors.New("zero total volume")
	}

	vwap := pv / vol
	rel := make([]float64, len(prices))
	for i, p := range prices {
		rel[i] = p / vwap
	}

	return rel, nil
}
