package engine

import (
	"github.com/calmasset/rebalancer/internal/config"
	"github.com/calmasset/rebalancer/internal/market"
	"github.com/shopspring/decimal"
)

// Plan is the signed rebalancing work: negative delta means sell |delta|,
// positive means buy delta, zero means no action. Extraneous positions are
// holdings outside the managed pair, always liquidated in full.
type Plan struct {
	DeltaA     decimal.Decimal
	DeltaB     decimal.Decimal
	Extraneous []market.Position
}

// Reconcile diffs the share targets against the held positions.
func Reconcile(positions []market.Position, t Targets, pair config.Pair) Plan {
	p := Plan{
		DeltaA: decimal.NewFromInt(t.SharesA),
		DeltaB: decimal.NewFromInt(t.SharesB),
	}

	for _, pos := range positions {
		switch pos.Symbol {
		case pair.Primary:
			p.DeltaA = decimal.NewFromInt(t.SharesA).Sub(pos.Qty)
		case pair.Hedge:
			p.DeltaB = decimal.NewFromInt(t.SharesB).Sub(pos.Qty)
		default:
			p.Extraneous = append(p.Extraneous, pos)
		}
	}

	return p
}

// Extraneous lists the held positions outside the managed pair.
func Extraneous(positions []market.Position, pair config.Pair) []market.Position {
	var out []market.Position
	for _, pos := range positions {
		if pos.Symbol != pair.Primary && pos.Symbol != pair.Hedge {
			out = append(out, pos)
		}
	}

	return out
}
