package robinhood

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/calmasset/rebalancer/internal/config"
	"github.com/calmasset/rebalancer/internal/market"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	mux    *http.ServeMux
	server *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &fixture{mux: mux, server: server}
}

func (f *fixture) platform() *Platform {
	return NewPlatform(slog.Default(), config.Robinhood{
		BaseURL:  f.server.URL,
		Username: "trader",
		Password: "hunter2",
	})
}

func (f *fixture) respond(pattern string, body any) {
	f.mux.HandleFunc(pattern, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(body)
	})
}

func results(items ...any) map[string]any {
	return map[string]any{"results": items}
}

func TestLogin_StoresToken(t *testing.T) {
	f := newFixture(t)

	var loginForm map[string][]string
	f.mux.HandleFunc("/api-token-auth/", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		loginForm = r.PostForm
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "t0k3n"})
	})

	var authHeader string
	f.mux.HandleFunc("/quotes/TLT/", func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(quotePayload{AskPrice: "50.00", BidPrice: "49.90"})
	})

	p := f.platform()
	require.NoError(t, p.Login(context.Background()))
	assert.Equal(t, []string{"trader"}, loginForm["username"])
	assert.Equal(t, []string{"hunter2"}, loginForm["password"])

	_, err := p.Quote(context.Background(), "TLT")
	require.NoError(t, err)
	assert.Equal(t, "Token t0k3n", authHeader)
}

func TestLogin_MissingToken(t *testing.T) {
	f := newFixture(t)
	f.respond("/api-token-auth/", map[string]string{})

	err := f.platform().Login(context.Background())
	assert.ErrorContains(t, err, "no token")
}

func TestQuote_ParsesPrices(t *testing.T) {
	f := newFixture(t)
	f.respond("/quotes/SPY/", quotePayload{AskPrice: "412.31", BidPrice: "412.28"})

	q, err := f.platform().Quote(context.Background(), "SPY")
	require.NoError(t, err)

	assert.True(t, q.Ask.Equal(decimal.RequireFromString("412.31")))
	assert.True(t, q.Bid.Equal(decimal.RequireFromString("412.28")))
}

func TestQuote_InvalidPrice(t *testing.T) {
	f := newFixture(t)
	f.respond("/quotes/SPY/", quotePayload{AskPrice: "", BidPrice: "412.28"})

	_, err := f.platform().Quote(context.Background(), "SPY")
	assert.ErrorContains(t, err, "ask_price")
}

func TestHistory_ParsesBars(t *testing.T) {
	f := newFixture(t)

	var query map[string][]string
	f.mux.HandleFunc("/quotes/historicals/", func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		_ = json.NewEncoder(w).Encode(historicalsPayload{
			Results: []struct {
				Historicals []barPayload `json:"historicals"`
			}{{
				Historicals: []barPayload{
					{
						BeginsAt:   "2026-08-28T13:30:00Z",
						OpenPrice:  "100.00",
						LowPrice:   "99.00",
						HighPrice:  "101.00",
						ClosePrice: "100.50",
						Volume:     "120000",
					},
					{
						BeginsAt:   "2026-08-28T13:35:00Z",
						OpenPrice:  "100.50",
						LowPrice:   "100.10",
						HighPrice:  "100.90",
						ClosePrice: "100.40",
						Volume:     "98000",
					},
				},
			}},
		})
	})

	bars, err := f.platform().History(context.Background(), "SPY", "5minute", "week")
	require.NoError(t, err)

	assert.Equal(t, []string{"SPY"}, query["symbols"])
	assert.Equal(t, []string{"5minute"}, query["interval"])
	assert.Equal(t, []string{"week"}, query["span"])
	assert.Equal(t, []string{"regular"}, query["bounds"])

	require.Len(t, bars, 2)
	assert.Equal(t, "2026-08-28T13:30:00Z", bars[0].Time.Format(hoursTimeFormat))
	assert.True(t, bars[0].Typical().Equal(decimal.RequireFromString("100.125")))
	assert.True(t, bars[1].Volume.Equal(decimal.NewFromInt(98000)))
}

func TestPositions_ResolvesSymbols(t *testing.T) {
	f := newFixture(t)

	instURL := f.server.URL + "/instruments/abc/"
	f.respond("/positions/", results(
		positionPayload{Instrument: instURL, Quantity: "12.0000"},
	))
	f.respond("/instruments/abc/", instrumentPayload{URL: instURL, Symbol: "SPY"})

	positions, err := f.platform().Positions(context.Background())
	require.NoError(t, err)

	require.Len(t, positions, 1)
	assert.Equal(t, "SPY", positions[0].Symbol)
	assert.Equal(t, instURL, positions[0].InstrumentURL)
	assert.True(t, positions[0].Qty.Equal(decimal.NewFromInt(12)))
}

func TestInstrument_FirstResult(t *testing.T) {
	f := newFixture(t)

	var query string
	f.mux.HandleFunc("/instruments/", func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("query")
		_ = json.NewEncoder(w).Encode(results(
			instrumentPayload{URL: "https://example.test/instruments/1/", Symbol: "TLT"},
			instrumentPayload{URL: "https://example.test/instruments/2/", Symbol: "TLTW"},
		))
	})

	inst, err := f.platform().Instrument(context.Background(), "tlt")
	require.NoError(t, err)

	assert.Equal(t, "TLT", query)
	assert.Equal(t, "TLT", inst.Symbol)
	assert.Equal(t, "https://example.test/instruments/1/", inst.URL)
}

func TestInstrument_NotFound(t *testing.T) {
	f := newFixture(t)
	f.respond("/instruments/", results())

	_, err := f.platform().Instrument(context.Background(), "NOPE")
	assert.ErrorContains(t, err, "no instrument found")
}

func TestEquity(t *testing.T) {
	f := newFixture(t)
	f.respond("/portfolios/", results(portfolioPayload{Equity: "10432.55"}))

	equity, err := f.platform().Equity(context.Background())
	require.NoError(t, err)
	assert.True(t, equity.Equal(decimal.RequireFromString("10432.55")))
}

func TestPlaceOrder_BuyIncludesPrice(t *testing.T) {
	f := newFixture(t)

	accountURL := f.server.URL + "/accounts/acc1/"
	f.respond("/accounts/", results(accountPayload{URL: accountURL}))

	var form map[string][]string
	f.mux.HandleFunc("/orders/", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		_ = json.NewEncoder(w).Encode(orderPayload{
			URL:   f.server.URL + "/orders/ord1/",
			State: "queued",
		})
	})

	ord, err := f.platform().PlaceOrder(context.Background(), market.OrderRequest{
		InstrumentURL: "https://example.test/instruments/1/",
		Symbol:        "SPY",
		Side:          market.Buy,
		Qty:           decimal.NewFromInt(3),
		Price:         decimal.RequireFromString("412.31"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{accountURL}, form["account"])
	assert.Equal(t, []string{"https://example.test/instruments/1/"}, form["instrument"])
	assert.Equal(t, []string{"SPY"}, form["symbol"])
	assert.Equal(t, []string{"buy"}, form["side"])
	assert.Equal(t, []string{"3"}, form["quantity"])
	assert.Equal(t, []string{"gfd"}, form["time_in_force"])
	assert.Equal(t, []string{"immediate"}, form["trigger"])
	assert.Equal(t, []string{"market"}, form["type"])
	assert.Equal(t, []string{"412.31"}, form["price"])

	assert.Equal(t, "queued", ord.State)
	assert.Equal(t, "SPY", ord.Symbol)
}

func TestPlaceOrder_SellOmitsPrice(t *testing.T) {
	f := newFixture(t)
	f.respond("/accounts/", results(accountPayload{URL: f.server.URL + "/accounts/acc1/"}))

	var form map[string][]string
	f.mux.HandleFunc("/orders/", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		_ = json.NewEncoder(w).Encode(orderPayload{URL: "https://example.test/orders/1/", State: "queued"})
	})

	_, err := f.platform().PlaceOrder(context.Background(), market.OrderRequest{
		Symbol: "SPY",
		Side:   market.Sell,
		Qty:    decimal.NewFromInt(3),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"sell"}, form["side"])
	assert.NotContains(t, form, "price")
}

func TestOrderStatus(t *testing.T) {
	f := newFixture(t)
	f.respond("/orders/ord1/", orderPayload{URL: "x", State: "filled"})

	state, err := f.platform().OrderStatus(context.Background(), f.server.URL+"/orders/ord1/")
	require.NoError(t, err)
	assert.Equal(t, "filled", state)
}

func TestMarketOpen(t *testing.T) {
	tests := []struct {
		isOpen   bool
		hasHours bool
		want     bool
	}{
		{isOpen: true, hasHours: true, want: true},
		{isOpen: false, hasHours: false, want: false},
	}

	for i, tc := range tests {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			f := newFixture(t)

			hours := marketHoursPayload{IsOpen: tc.isOpen}
			if tc.hasHours {
				opens := "2000-01-01T00:00:00Z"
				closes := "2100-01-01T00:00:00Z"
				hours.OpensAt = &opens
				hours.ClosesAt = &closes
			}

			f.respond("/markets/", results(marketPayload{TodaysHours: f.server.URL + "/markets/XNYS/hours/"}))
			f.respond("/markets/XNYS/hours/", hours)

			open, err := f.platform().MarketOpen(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.want, open)
		})
	}
}

func TestMarketOpen_OutsideHours(t *testing.T) {
	f := newFixture(t)

	opens := "2000-01-01T00:00:00Z"
	closes := "2000-01-01T06:30:00Z"
	f.respond("/markets/", results(marketPayload{TodaysHours: f.server.URL + "/markets/XNYS/hours/"}))
	f.respond("/markets/XNYS/hours/", marketHoursPayload{IsOpen: true, OpensAt: &opens, ClosesAt: &closes})

	open, err := f.platform().MarketOpen(context.Background())
	require.NoError(t, err)
	assert.False(t, open)
}

func TestAPIError_IncludesBody(t *testing.T) {
	f := newFixture(t)
	f.mux.HandleFunc("/quotes/SPY/", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"detail":"not found"}`, http.StatusNotFound)
	})

	_, err := f.platform().Quote(context.Background(), "SPY")
	assert.ErrorContains(t, err, "status 404")
	assert.ErrorContains(t, err, "not found")
}
