package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/calmasset/rebalancer/internal/config"
	"github.com/calmasset/rebalancer/internal/journal"
	"github.com/calmasset/rebalancer/internal/market"
	"github.com/shopspring/decimal"
)

type brokerage interface {
	MarketOpen(ctx context.Context) (bool, error)
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	Positions(ctx context.Context) ([]market.Position, error)
	Quote(ctx context.Context, symbol string) (market.Quote, error)
	History(ctx context.Context, symbol, interval, span string) ([]market.Bar, error)
	Instrument(ctx context.Context, symbol string) (market.Instrument, error)
	Equity(ctx context.Context) (decimal.Decimal, error)
}

type orderExecutor interface {
	Execute(ctx context.Context, req market.OrderRequest) (Outcome, error)
	ExecuteBatch(ctx context.Context, reqs []market.OrderRequest) (Outcome, error)
}

type runRecorder interface {
	RecordRun(r journal.RunRecord) error
}

// Rebalancer drives one stateless rebalancing run: every input is fetched
// fresh, each stage is gated on the previous one, and nothing placed in an
// earlier stage is rolled back when a later stage fails.
type Rebalancer struct {
	log      *slog.Logger
	cfg      config.Config
	broker   brokerage
	exec     orderExecutor
	recorder runRecorder
}

// NewRebalancer wires the orchestrator. recorder may be nil, in which case
// run traces are only logged, not persisted.
func NewRebalancer(log *slog.Logger, cfg config.Config, broker brokerage, exec orderExecutor, recorder runRecorder) *Rebalancer {
	return &Rebalancer{
		log:      log,
		cfg:      cfg,
		broker:   broker,
		exec:     exec,
		recorder: recorder,
	}
}

// Run executes the full pipeline and returns its trace. The trace is also
// persisted when a recorder is configured. Run never returns an error: every
// failure is a stage failure inside the trace.
func (r *Rebalancer) Run(ctx context.Context) *RunTrace {
	t := newRunTrace()
	r.log.Info("rebalancing run started", slog.String("run_id", t.ID))

	r.pipeline(ctx, t)
	t.finish()

	if t.Success {
		r.log.Info("rebalancing run finished", slog.String("run_id", t.ID))
	} else {
		r.log.Error("rebalancing run failed",
			slog.String("run_id", t.ID),
			slog.String("reason", t.FailureReason()))
	}

	if r.recorder != nil {
		rec, err := t.Record()
		if err == nil {
			err = r.recorder.RecordRun(rec)
		}
		if err != nil {
			r.log.Error("failed to persist run trace", slog.String("run_id", t.ID), slog.String("error", err.Error()))
		}
	}

	return t
}

func (r *Rebalancer) pipeline(ctx context.Context, t *RunTrace) {
	open, err := r.broker.MarketOpen(ctx)
	if err != nil {
		t.stageFailed("market-open", err)
		return
	}
	if !open {
		t.stageFailed("market-open", errors.New("markets are closed"))
		return
	}
	t.stageOK("market-open", "")

	if err := r.broker.Login(ctx); err != nil {
		t.stageFailed("login", err)
		return
	}
	t.stageOK("login", "")

	// Single position snapshot for the whole run; concurrent external
	// changes are invisible until the next run.
	positions, err := r.broker.Positions(ctx)
	if err != nil {
		t.stageFailed("positions", err)
		return
	}
	t.stageOK("positions", fmt.Sprintf("%d held", len(positions)))

	if !r.liquidate(ctx, t, positions) {
		return
	}

	equity, err := r.broker.Equity(ctx)
	if err != nil {
		t.stageFailed("equity", err)
		return
	}
	t.Equity = equity.String()
	t.stageOK("equity", equity.String())

	quoteA, quoteB, instA, instB, ok := r.marketData(ctx, t)
	if !ok {
		return
	}

	fracA, ok := r.allocate(ctx, t)
	if !ok {
		return
	}

	targets, err := Size(equity, fracA, quoteA.BuyPrice(), quoteB.BuyPrice())
	if err != nil {
		t.stageFailed("size", err)
		return
	}
	t.SharesA = targets.SharesA
	t.SharesB = targets.SharesB
	t.Loss = targets.Loss
	t.stageOK("size", fmt.Sprintf("shares_a=%d shares_b=%d loss=%.6f", targets.SharesA, targets.SharesB, targets.Loss))

	plan := Reconcile(positions, targets, r.cfg.Pair)
	t.DeltaA = plan.DeltaA.String()
	t.DeltaB = plan.DeltaB.String()
	t.stageOK("reconcile", fmt.Sprintf("delta_a=%s delta_b=%s", plan.DeltaA, plan.DeltaB))

	if !r.trade(ctx, t, "sell", sellRequests(plan, instA, instB)) {
		return
	}

	if !r.trade(ctx, t, "buy", buyRequests(plan, instA, instB, quoteA, quoteB)) {
		return
	}

	if err := r.broker.Logout(ctx); err != nil {
		t.stageFailed("logout", err)
		return
	}
	t.stageOK("logout", "")
}

func (r *Rebalancer) liquidate(ctx context.Context, t *RunTrace, positions []market.Position) bool {
	extra := Extraneous(positions, r.cfg.Pair)
	if len(extra) == 0 {
		t.stageOK("liquidate", "no extraneous positions")
		return true
	}

	reqs := make([]market.OrderRequest, len(extra))
	for i, pos := range extra {
		r.log.Info("liquidating extraneous position",
			slog.String("symbol", pos.Symbol),
			slog.String("qty", pos.Qty.String()))
		reqs[i] = market.OrderRequest{
			InstrumentURL: pos.InstrumentURL,
			Symbol:        pos.Symbol,
			Side:          market.Sell,
			Qty:           pos.Qty,
		}
	}

	out, err := r.exec.ExecuteBatch(ctx, reqs)
	if err != nil {
		t.stageFailed("liquidate", err)
		return false
	}
	if out != OutcomeSuccess {
		t.stageFailed("liquidate", fmt.Errorf("liquidation batch resolved to %s", out))
		return false
	}

	t.stageOK("liquidate", fmt.Sprintf("%d positions closed", len(extra)))
	return true
}

func (r *Rebalancer) marketData(ctx context.Context, t *RunTrace) (quoteA, quoteB market.Quote, instA, instB market.Instrument, ok bool) {
	pair := r.cfg.Pair

	if quoteA, ok = r.quote(ctx, t, pair.Primary); !ok {
		return
	}
	if quoteB, ok = r.quote(ctx, t, pair.Hedge); !ok {
		return
	}

	instA, err := r.broker.Instrument(ctx, pair.Primary)
	if err != nil {
		t.stageFailed("market-data", fmt.Errorf("failed to look up instrument %s: %w", pair.Primary, err))
		return quoteA, quoteB, instA, instB, false
	}

	instB, err = r.broker.Instrument(ctx, pair.Hedge)
	if err != nil {
		t.stageFailed("market-data", fmt.Errorf("failed to look up instrument %s: %w", pair.Hedge, err))
		return quoteA, quoteB, instA, instB, false
	}

	t.stageOK("market-data", "")
	return quoteA, quoteB, instA, instB, true
}

func (r *Rebalancer) quote(ctx context.Context, t *RunTrace, symbol string) (market.Quote, bool) {
	q, err := r.broker.Quote(ctx, symbol)
	if err != nil {
		t.stageFailed("market-data", fmt.Errorf("failed to fetch quote for %s: %w", symbol, err))
		return market.Quote{}, false
	}

	return q, true
}

func (r *Rebalancer) allocate(ctx context.Context, t *RunTrace) (float64, bool) {
	pair := r.cfg.Pair
	hist := r.cfg.History

	histA, err := r.broker.History(ctx, pair.Primary, hist.Interval, hist.Span)
	if err != nil {
		t.stageFailed("allocate", fmt.Errorf("failed to fetch history for %s: %w", pair.Primary, err))
		return 0, false
	}

	histB, err := r.broker.History(ctx, pair.Hedge, hist.Interval, hist.Span)
	if err != nil {
		t.stageFailed("allocate", fmt.Errorf("failed to fetch history for %s: %w", pair.Hedge, err))
		return 0, false
	}

	fracA, err := Allocate(histA, histB)
	switch {
	case errors.Is(err, ErrZeroVolatility):
		// Both histories perfectly flat: fall back to an even split.
		r.log.Warn("combined volatility is zero, falling back to 50/50 split")
		fracA = 0.5
	case err != nil:
		t.stageFailed("allocate", err)
		return 0, false
	}

	t.FractionA = fracA
	t.FractionB = 1 - fracA
	t.stageOK("allocate", fmt.Sprintf("fraction_a=%.4f fraction_b=%.4f", fracA, 1-fracA))

	if r.cfg.DebugDir != "" {
		path := filepath.Join(r.cfg.DebugDir, fmt.Sprintf("alloc_%s.png", t.ID))
		if err := RenderPriceRelatives(path, pair.Primary, histA, pair.Hedge, histB); err != nil {
			r.log.Error("failed to render allocation debug plot", slog.String("error", err.Error()))
		}
	}

	return fracA, true
}

func sellRequests(plan Plan, instA, instB market.Instrument) []market.OrderRequest {
	var reqs []market.OrderRequest
	if plan.DeltaA.IsNegative() {
		reqs = append(reqs, market.OrderRequest{
			InstrumentURL: instA.URL,
			Symbol:        instA.Symbol,
			Side:          market.Sell,
			Qty:           plan.DeltaA.Neg(),
		})
	}
	if plan.DeltaB.IsNegative() {
		reqs = append(reqs, market.OrderRequest{
			InstrumentURL: instB.URL,
			Symbol:        instB.Symbol,
			Side:          market.Sell,
			Qty:           plan.DeltaB.Neg(),
		})
	}

	return reqs
}

func buyRequests(plan Plan, instA, instB market.Instrument, quoteA, quoteB market.Quote) []market.OrderRequest {
	var reqs []market.OrderRequest
	if plan.DeltaA.IsPositive() {
		reqs = append(reqs, market.OrderRequest{
			InstrumentURL: instA.URL,
			Symbol:        instA.Symbol,
			Side:          market.Buy,
			Qty:           plan.DeltaA,
			Price:         quoteA.BuyPrice(),
		})
	}
	if plan.DeltaB.IsPositive() {
		reqs = append(reqs, market.OrderRequest{
			InstrumentURL: instB.URL,
			Symbol:        instB.Symbol,
			Side:          market.Buy,
			Qty:           plan.DeltaB,
			Price:         quoteB.BuyPrice(),
		})
	}

	return reqs
}

// trade resolves each delta order individually: at most one open order per
// (symbol, side) pair, driven to terminal state before the next one starts.
func (r *Rebalancer) trade(ctx context.Context, t *RunTrace, stage string, reqs []market.OrderRequest) bool {
	if len(reqs) == 0 {
		t.stageOK(stage, "no orders required")
		return true
	}

	for _, req := range reqs {
		r.log.Info("executing order",
			slog.String("symbol", req.Symbol),
			slog.String("side", string(req.Side)),
			slog.String("qty", req.Qty.String()))

		out, err := r.exec.Execute(ctx, req)
		if err != nil {
			t.stageFailed(stage, err)
			return false
		}
		if out != OutcomeSuccess {
			t.stageFailed(stage, fmt.Errorf("%s order for %s resolved to %s", req.Side, req.Symbol, out))
			return false
		}
	}

	t.stageOK(stage, fmt.Sprintf("%d orders filled", len(reqs)))
	return true
}
