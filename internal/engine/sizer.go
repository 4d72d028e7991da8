package engine

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// minHedgeFraction guards the integer-ratio step: below this, the hedge
// fraction is treated as zero and the whole portfolio goes to asset A.
const minHedgeFraction = 1e-9

// Targets are the integer share counts the portfolio should converge to.
// Loss is the Euclidean distance between the requested and the achievable
// allocation fractions, a diagnostic only.
type Targets struct {
	SharesA int64
	SharesB int64
	Loss    float64
}

// Size converts an allocation fraction into integer share targets. Asset B is
// the unit: the ratio floor(fracA/fracB) fixes how many A shares ride along
// with each B share, then equity buys as many such bundles as fit at the
// given per-share buy prices.
func Size(equity decimal.Decimal, fracA float64, priceA, priceB decimal.Decimal) (Targets, error) {
	if fracA < 0 || fracA > 1 {
		return Targets{}, fmt.Errorf("allocation fraction out of range: %f", fracA)
	}

	if equity.IsNegative() {
		return Targets{}, errors.New("negative equity")
	}

	if !priceA.IsPositive() || !priceB.IsPositive() {
		return Targets{}, errors.New("prices must be positive")
	}

	fracB := 1 - fracA

	var t Targets
	if fracB < minHedgeFraction {
		t.SharesA = equity.Div(priceA).Floor().IntPart()
	} else {
		ratio := int64(math.Floor(fracA / fracB))
		bundle := priceB.Add(priceA.Mul(decimal.NewFromInt(ratio)))
		t.SharesB = equity.Div(bundle).Floor().IntPart()
		t.SharesA = t.SharesB * ratio
	}

	t.Loss = trackingLoss(t, fracA, fracB, priceA, priceB)
	return t, nil
}

func trackingLoss(t Targets, fracA, fracB float64, priceA, priceB decimal.Decimal) float64 {
	costA := decimal.NewFromInt(t.SharesA).Mul(priceA)
	costB := decimal.NewFromInt(t.SharesB).Mul(priceB)
	total := costA.Add(costB)
	if total.IsZero() {
		return math.Hypot(fracA, fracB)
	}

	achievedA, _ := costA.Div(total).Float64()
	achievedB, _ := costB.Div(total).Float64()
	return math.Hypot(fracA-achievedA, fracB-achievedB)
}
