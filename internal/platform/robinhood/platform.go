package robinhood

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/calmasset/rebalancer/internal/config"
	"github.com/calmasset/rebalancer/internal/market"
	"github.com/shopspring/decimal"
)

const hoursTimeFormat = "2006-01-02T15:04:05Z"

// Platform adapts the brokerage REST contract to the engine's data types.
// It holds the session token between Login and Logout; everything else is
// stateless.
type Platform struct {
	log *slog.Logger
	cfg config.Robinhood
	api *api
}

func NewPlatform(log *slog.Logger, cfg config.Robinhood) *Platform {
	return &Platform{
		log: log,
		cfg: cfg,
		api: newAPI(cfg.BaseURL),
	}
}

func (p *Platform) Login(ctx context.Context) error {
	if err := p.api.login(ctx, p.cfg.Username, p.cfg.Password); err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}

	p.log.Info("brokerage session opened")
	return nil
}

func (p *Platform) Logout(ctx context.Context) error {
	if err := p.api.logout(ctx); err != nil {
		return fmt.Errorf("failed to release session: %w", err)
	}

	p.log.Info("brokerage session released")
	return nil
}

// MarketOpen reports whether every exchange is open right now: is_open must
// be set and the current UTC time must fall inside [opens_at, closes_at].
func (p *Platform) MarketOpen(ctx context.Context) (bool, error) {
	markets, err := p.api.markets(ctx)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	for _, m := range markets {
		hours, err := p.api.marketHours(ctx, m.TodaysHours)
		if err != nil {
			return false, err
		}

		if !hours.IsOpen || hours.OpensAt == nil || hours.ClosesAt == nil {
			return false, nil
		}

		opens, err := time.Parse(hoursTimeFormat, *hours.OpensAt)
		if err != nil {
			return false, fmt.Errorf("failed to parse opens_at: %w", err)
		}

		closes, err := time.Parse(hoursTimeFormat, *hours.ClosesAt)
		if err != nil {
			return false, fmt.Errorf("failed to parse closes_at: %w", err)
		}

		if now.Before(opens) || now.After(closes) {
			return false, nil
		}
	}

	return true, nil
}

func (p *Platform) Quote(ctx context.Context, symbol string) (market.Quote, error) {
	q, err := p.api.quote(ctx, symbol)
	if err != nil {
		return market.Quote{}, err
	}

	ask, err := decimal.NewFromString(q.AskPrice)
	if err != nil {
		return market.Quote{}, fmt.Errorf("invalid ask_price %q: %w", q.AskPrice, err)
	}

	bid, err := decimal.NewFromString(q.BidPrice)
	if err != nil {
		return market.Quote{}, fmt.Errorf("invalid bid_price %q: %w", q.BidPrice, err)
	}

	return market.Quote{Ask: ask, Bid: bid}, nil
}

func (p *Platform) History(ctx context.Context, symbol, interval, span string) ([]market.Bar, error) {
	raw, err := p.api.historicals(ctx, symbol, interval, span)
	if err != nil {
		return nil, err
	}

	bars := make([]market.Bar, 0, len(raw))
	for _, b := range raw {
		bar, err := parseBar(b)
		if err != nil {
			return nil, fmt.Errorf("invalid bar for %s: %w", symbol, err)
		}
		bars = append(bars, bar)
	}

	return bars, nil
}

func parseBar(b barPayload) (market.Bar, error) {
	var bar market.Bar
	var err error

	if b.BeginsAt != "" {
		bar.Time, err = time.Parse(hoursTimeFormat, b.BeginsAt)
		if err != nil {
			return bar, fmt.Errorf("invalid begins_at %q: %w", b.BeginsAt, err)
		}
	}

	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{name: "open_price", raw: b.OpenPrice, dst: &bar.Open},
		{name: "low_price", raw: b.LowPrice, dst: &bar.Low},
		{name: "high_price", raw: b.HighPrice, dst: &bar.High},
		{name: "close_price", raw: b.ClosePrice, dst: &bar.Close},
		{name: "volume", raw: b.Volume, dst: &bar.Volume},
	}
	for _, f := range fields {
		*f.dst, err = decimal.NewFromString(f.raw)
		if err != nil {
			return bar, fmt.Errorf("invalid %s %q: %w", f.name, f.raw, err)
		}
	}

	return bar, nil
}

// Positions resolves each held instrument to its ticker through the
// instrument lookup before handing the snapshot to the engine.
func (p *Platform) Positions(ctx context.Context) ([]market.Position, error) {
	raw, err := p.api.positions(ctx)
	if err != nil {
		return nil, err
	}

	positions := make([]market.Position, 0, len(raw))
	for _, pos := range raw {
		inst, err := p.api.instrumentByURL(ctx, pos.Instrument)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve position instrument: %w", err)
		}

		qty, err := decimal.NewFromString(pos.Quantity)
		if err != nil {
			return nil, fmt.Errorf("invalid position quantity %q: %w", pos.Quantity, err)
		}

		positions = append(positions, market.Position{
			InstrumentURL: pos.Instrument,
			Symbol:        inst.Symbol,
			Qty:           qty,
		})
	}

	return positions, nil
}

func (p *Platform) Instrument(ctx context.Context, symbol string) (market.Instrument, error) {
	results, err := p.api.instruments(ctx, symbol)
	if err != nil {
		return market.Instrument{}, err
	}

	if len(results) == 0 {
		return market.Instrument{}, fmt.Errorf("no instrument found for %s", symbol)
	}

	return market.Instrument{
		URL:    results[0].URL,
		Symbol: results[0].Symbol,
	}, nil
}

func (p *Platform) Equity(ctx context.Context) (decimal.Decimal, error) {
	pf, err := p.api.portfolio(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}

	equity, err := decimal.NewFromString(pf.Equity)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid equity %q: %w", pf.Equity, err)
	}

	return equity, nil
}

// PlaceOrder submits an immediate market order, good for the day. The price
// field is included only on buys.
func (p *Platform) PlaceOrder(ctx context.Context, req market.OrderRequest) (market.Order, error) {
	acc, err := p.api.account(ctx)
	if err != nil {
		return market.Order{}, err
	}

	form := url.Values{}
	form.Set("account", acc.URL)
	form.Set("instrument", req.InstrumentURL)
	form.Set("symbol", req.Symbol)
	form.Set("side", string(req.Side))
	form.Set("quantity", req.Qty.String())
	form.Set("time_in_force", "gfd")
	form.Set("trigger", "immediate")
	form.Set("type", "market")
	if req.Side == market.Buy {
		form.Set("price", req.Price.String())
	}

	ord, err := p.api.placeOrder(ctx, form)
	if err != nil {
		return market.Order{}, err
	}

	return market.Order{
		URL:    ord.URL,
		Symbol: req.Symbol,
		Side:   req.Side,
		Qty:    req.Qty,
		State:  ord.State,
	}, nil
}

func (p *Platform) OrderStatus(ctx context.Context, orderURL string) (string, error) {
	return p.api.orderState(ctx, orderURL)
}
