package emulator

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/calmasset/rebalancer/internal/config"
	"github.com/calmasset/rebalancer/internal/market"
	"github.com/shopspring/decimal"
)

const (
	barStep    = 5 * time.Minute
	moveStddev = 0.0097392
	moveDrift  = 0.0002939
)

// Platform is an in-memory brokerage for dry runs. Price histories are a
// seeded random walk, so a given seed always replays the same market.
// Orders fill after a configured number of status polls.
type Platform struct {
	log *slog.Logger
	cfg config.Emulator

	mu        sync.Mutex
	loggedIn  bool
	cash      decimal.Decimal
	positions map[string]decimal.Decimal
	histories map[string][]market.Bar
	orders    map[string]*order
	nextOrder int
}

type order struct {
	req   market.OrderRequest
	polls int
	state string
}

func NewPlatform(log *slog.Logger, cfg config.Emulator) *Platform {
	return &Platform{
		log:       log,
		cfg:       cfg,
		cash:      decimal.NewFromFloat(cfg.Balance),
		positions: make(map[string]decimal.Decimal),
		histories: make(map[string][]market.Bar),
		orders:    make(map[string]*order),
	}
}

func (p *Platform) MarketOpen(context.Context) (bool, error) {
	return p.cfg.MarketOpen, nil
}

func (p *Platform) Login(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.loggedIn = true
	return nil
}

func (p *Platform) Logout(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.loggedIn = false
	return nil
}

func (p *Platform) Positions(context.Context) ([]market.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var positions []market.Position
	for symbol, qty := range p.positions {
		if qty.IsZero() {
			continue
		}
		positions = append(positions, market.Position{
			InstrumentURL: instrumentURL(symbol),
			Symbol:        symbol,
			Qty:           qty,
		})
	}

	return positions, nil
}

func (p *Platform) Quote(_ context.Context, symbol string) (market.Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price := p.lastPrice(symbol)
	return market.Quote{Ask: price, Bid: price}, nil
}

func (p *Platform) History(_ context.Context, symbol, _, _ string) ([]market.Bar, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.history(symbol), nil
}

func (p *Platform) Instrument(_ context.Context, symbol string) (market.Instrument, error) {
	return market.Instrument{URL: instrumentURL(symbol), Symbol: symbol}, nil
}

func (p *Platform) Equity(context.Context) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	equity := p.cash
	for symbol, qty := range p.positions {
		equity = equity.Add(qty.Mul(p.lastPrice(symbol)))
	}

	return equity, nil
}

func (p *Platform) PlaceOrder(_ context.Context, req market.OrderRequest) (market.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextOrder++
	url := fmt.Sprintf("emulator://orders/%d", p.nextOrder)
	p.orders[url] = &order{req: req, state: "queued"}

	p.log.Info("emulated order placed",
		"url", url,
		"symbol", req.Symbol,
		"side", req.Side,
		"qty", req.Qty)

	return market.Order{
		URL:    url,
		Symbol: req.Symbol,
		Side:   req.Side,
		Qty:    req.Qty,
		State:  "queued",
	}, nil
}

// OrderStatus advances the order lifecycle one step per poll and applies the
// fill to cash and positions once the configured poll count is reached.
func (p *Platform) OrderStatus(_ context.Context, orderURL string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ord, ok := p.orders[orderURL]
	if !ok {
		return "", fmt.Errorf("unknown order %s", orderURL)
	}

	if ord.state == "filled" {
		return ord.state, nil
	}

	ord.polls++
	if ord.polls >= p.cfg.FillAfterPolls {
		p.fill(ord)
		ord.state = "filled"
	} else {
		ord.state = "confirmed"
	}

	return ord.state, nil
}

func (p *Platform) fill(ord *order) {
	price := p.lastPrice(ord.req.Symbol)
	cost := ord.req.Qty.Mul(price)

	qty := p.positions[ord.req.Symbol]
	switch ord.req.Side {
	case market.Buy:
		p.positions[ord.req.Symbol] = qty.Add(ord.req.Qty)
		p.cash = p.cash.Sub(cost)
	case market.Sell:
		p.positions[ord.req.Symbol] = qty.Sub(ord.req.Qty)
		p.cash = p.cash.Add(cost)
	}

	p.log.Info("emulated order filled",
		"symbol", ord.req.Symbol,
		"side", ord.req.Side,
		"qty", ord.req.Qty,
		"price", price)
}

func (p *Platform) lastPrice(symbol string) decimal.Decimal {
	bars := p.history(symbol)
	return bars[len(bars)-1].Close
}

// history lazily synthesizes a week of five minute bars. Each symbol walks
// from its own base price under its own deterministic sub-seed.
func (p *Platform) history(symbol string) []market.Bar {
	if bars, ok := p.histories[symbol]; ok {
		return bars
	}

	rng := rand.New(rand.NewSource(p.cfg.Seed ^ int64(symbolHash(symbol))))
	price := 20.0 + float64(symbolHash(symbol)%480)

	start := time.Now().UTC().Add(-7 * 24 * time.Hour).Truncate(barStep)
	var bars []market.Bar
	for at := start; at.Before(time.Now().UTC()); at = at.Add(barStep) {
		if !tradingTime(at) {
			continue
		}

		open := price
		price *= 1.0 + rng.NormFloat64()*moveStddev + moveDrift
		low := min(open, price) * (1.0 - rng.Float64()*0.001)
		high := max(open, price) * (1.0 + rng.Float64()*0.001)

		bars = append(bars, market.Bar{
			Time:   at,
			Open:   decimal.NewFromFloat(open),
			Low:    decimal.NewFromFloat(low),
			High:   decimal.NewFromFloat(high),
			Close:  decimal.NewFromFloat(price),
			Volume: decimal.NewFromInt(1000 + rng.Int63n(100000)),
		})
	}

	p.histories[symbol] = bars
	return bars
}

func tradingTime(at time.Time) bool {
	if at.Weekday() == time.Saturday || at.Weekday() == time.Sunday {
		return false
	}

	minute := at.Hour()*60 + at.Minute()
	return minute >= 13*60+30 && minute < 20*60
}

func instrumentURL(symbol string) string {
	return "emulator://instruments/" + symbol
}

func symbolHash(symbol string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return h.Sum32()
}
