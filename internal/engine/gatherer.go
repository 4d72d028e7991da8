package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/calmasset/rebalancer/internal/config"
	"github.com/calmasset/rebalancer/internal/journal"
	"github.com/calmasset/rebalancer/internal/market"
)

// benchmarkRate is the per-minute 90-day treasury rate recorded next to each
// snapshot so stored moves can be compared against a risk-free baseline.
const benchmarkRate = 0.00000010426

type quoteSource interface {
	Quote(ctx context.Context, symbol string) (market.Quote, error)
}

type moveRecorder interface {
	RecordMove(m journal.MoveSnapshot) error
}

// Gatherer samples mid-quote percentage moves for the managed pair and
// records them together with the blended portfolio move under the current
// allocation weight.
type Gatherer struct {
	log      *slog.Logger
	pair     config.Pair
	broker   quoteSource
	recorder moveRecorder

	mu      sync.Mutex
	weight  float64
	lastA   float64
	lastB   float64
	primed  bool
}

func NewGatherer(log *slog.Logger, pair config.Pair, broker quoteSource, recorder moveRecorder) *Gatherer {
	return &Gatherer{
		log:      log,
		pair:     pair,
		broker:   broker,
		recorder: recorder,
		weight:   0.5,
	}
}

// SetWeight updates the allocation weight used for the blended portfolio
// move, typically after a rebalancing run computed a fresh fraction.
func (g *Gatherer) SetWeight(w float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.weight = w
}

// Sample fetches both quotes and records one move snapshot. The first sample
// after startup only primes the baseline and records nothing.
func (g *Gatherer) Sample(ctx context.Context) error {
	midA, err := g.mid(ctx, g.pair.Primary)
	if err != nil {
		return err
	}

	midB, err := g.mid(ctx, g.pair.Hedge)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.primed {
		g.lastA, g.lastB = midA, midB
		g.primed = true
		return nil
	}

	moveA := midA/g.lastA - 1
	moveB := midB/g.lastB - 1
	g.lastA, g.lastB = midA, midB

	m := journal.MoveSnapshot{
		Time:          time.Now().UTC(),
		MoveA:         moveA,
		MoveB:         moveB,
		PortfolioMove: g.weight*moveA + (1-g.weight)*moveB,
		BenchmarkRate: benchmarkRate,
	}
	if err := g.recorder.RecordMove(m); err != nil {
		return fmt.Errorf("failed to record move snapshot: %w", err)
	}

	g.log.Debug("move snapshot recorded",
		slog.Float64("move_a", moveA),
		slog.Float64("move_b", moveB),
		slog.Float64("portfolio_move", m.PortfolioMove))
	return nil
}

func (g *Gatherer) mid(ctx context.Context, symbol string) (float64, error) {
	q, err := g.broker.Quote(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch quote for %s: %w", symbol, err)
	}

	mid, _ := q.Mid().Float64()
	if mid == 0 {
		return 0, fmt.Errorf("zero mid price for %s", symbol)
	}

	return mid, nil
}
