package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/calmasset/rebalancer/internal/config"
	"github.com/calmasset/rebalancer/internal/market"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockMarketData struct {
	quotes    map[string]market.Quote
	histories map[string][]market.Bar
}

func (m *mockMarketData) Quote(_ context.Context, symbol string) (market.Quote, error) {
	q, ok := m.quotes[symbol]
	if !ok {
		return market.Quote{}, errors.New("unknown symbol")
	}
	return q, nil
}

func (m *mockMarketData) History(_ context.Context, symbol, _, _ string) ([]market.Bar, error) {
	h, ok := m.histories[symbol]
	if !ok {
		return nil, errors.New("unknown symbol")
	}
	return h, nil
}

func flatBars(prices ...float64) []market.Bar {
	bars := make([]market.Bar, len(prices))
	at := time.Date(2026, 8, 28, 13, 30, 0, 0, time.UTC)
	for i, p := range prices {
		d := decimal.NewFromFloat(p)
		bars[i] = market.Bar{
			Time:   at.Add(time.Duration(i) * 5 * time.Minute),
			Open:   d,
			Low:    d,
			High:   d,
			Close:  d,
			Volume: decimal.NewFromInt(1000),
		}
	}
	return bars
}

func testServer(data *mockMarketData) *Server {
	cfg := config.Config{
		Pair:    config.Pair{Primary: "SPY", Hedge: "TLT"},
		History: config.History{Interval: "5minute", Span: "week"},
		Server:  config.Server{Addr: ":0"},
	}
	return NewServer(slog.Default(), cfg, data)
}

func get(t *testing.T, s *Server, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestHealth(t *testing.T) {
	s := testServer(&mockMarketData{})

	w, body := get(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestQuoteRoute(t *testing.T) {
	s := testServer(&mockMarketData{
		quotes: map[string]market.Quote{
			"SPY": {
				Ask: decimal.RequireFromString("412.31"),
				Bid: decimal.RequireFromString("412.27"),
			},
		},
	})

	w, body := get(t, s, "/api/quote/SPY")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "SPY", body["symbol"])
	assert.Equal(t, "412.31", body["ask"])
	assert.Equal(t, "412.27", body["bid"])
	assert.Equal(t, "412.29", body["mid"])
}

func TestQuoteRoute_UnknownSymbol(t *testing.T) {
	s := testServer(&mockMarketData{})

	w, body := get(t, s, "/api/quote/NOPE")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, body["error"], "unknown symbol")
}

func TestHistoryRoute(t *testing.T) {
	s := testServer(&mockMarketData{
		histories: map[string][]market.Bar{
			"SPY": flatBars(100, 101),
		},
	})

	w, body := get(t, s, "/api/history/SPY")
	assert.Equal(t, http.StatusOK, w.Code)

	bars, ok := body["bars"].([]any)
	require.True(t, ok)
	require.Len(t, bars, 2)

	first := bars[0].(map[string]any)
	assert.Equal(t, "100", first["close"])
	assert.Equal(t, "100", first["typical"])
}

func TestAllocationRoute_CalmerAssetDominates(t *testing.T) {
	s := testServer(&mockMarketData{
		histories: map[string][]market.Bar{
			"SPY": flatBars(100, 103, 99, 104, 98, 103, 99),
			"TLT": flatBars(50, 50.1, 49.9, 50.1, 49.9, 50.1, 49.9),
		},
	})

	w, body := get(t, s, "/api/allocation")
	assert.Equal(t, http.StatusOK, w.Code)

	fracA := body["fraction_a"].(float64)
	fracB := body["fraction_b"].(float64)
	assert.Less(t, fracA, 0.5)
	assert.InDelta(t, 1.0, fracA+fracB, 1e-12)
}

func TestAllocationRoute_FlatMarketsFallBackToEvenSplit(t *testing.T) {
	s := testServer(&mockMarketData{
		histories: map[string][]market.Bar{
			"SPY": flatBars(100, 100, 100),
			"TLT": flatBars(50, 50, 50),
		},
	})

	w, body := get(t, s, "/api/allocation")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0.5, body["fraction_a"])
	assert.Equal(t, 0.5, body["fraction_b"])
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	s := testServer(&mockMarketData{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}
