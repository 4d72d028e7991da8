package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one sampling interval of price history, chronological within a slice.
type Bar struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

var four = decimal.NewFromInt(4)

// Typical returns the mean of the bar's open, low, high and close prices.
func (b Bar) Typical() decimal.Decimal {
	return b.Open.Add(b.Low).Add(b.High).Add(b.Close).Div(four)
}

// Quote is a point-in-time ask/bid pair. Ask >= bid is assumed, not enforced.
type Quote struct {
	Ask decimal.Decimal
	Bid decimal.Decimal
}

func (q Quote) spread() decimal.Decimal {
	return q.Ask.Sub(q.Bid)
}

// BuyPrice pads the ask by the full spread, a pessimistic fill estimate.
func (q Quote) BuyPrice() decimal.Decimal {
	return q.Ask.Add(q.spread())
}

// SellPrice discounts the bid by the full spread.
func (q Quote) SellPrice() decimal.Decimal {
	return q.Bid.Sub(q.spread())
}

// Mid is the midpoint of ask and bid.
func (q Quote) Mid() decimal.Decimal {
	return q.Ask.Add(q.Bid).Div(decimal.NewFromInt(2))
}

// Instrument is a brokerage-side handle for a tradable symbol.
type Instrument struct {
	URL    string
	Symbol string
}

// Position is a snapshot of a held instrument. Qty may be fractional.
type Position struct {
	InstrumentURL string
	Symbol        string
	Qty           decimal.Decimal
}

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// OrderRequest describes a market order to be placed. Price is only
// meaningful for buy orders and ignored for sells.
type OrderRequest struct {
	InstrumentURL string
	Symbol        string
	Side          Side
	Qty           decimal.Decimal
	Price         decimal.Decimal
}

// Order is a placed order. URL is the brokerage handle used for status
// lookups; State is the raw brokerage status string.
type Order struct {
	URL    string
	Symbol string
	Side   Side
	Qty    decimal.Decimal
	State  string
}
