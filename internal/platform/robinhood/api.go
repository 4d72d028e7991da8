package robinhood

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the production API host.
const DefaultBaseURL = "https://api.robinhood.com"

// api is the low-level HTTP client. It speaks the raw wire contract and
// knows nothing about engine types; the Platform adapter translates.
type api struct {
	baseURL string
	hc      *http.Client
	token   string
}

func newAPI(baseURL string) *api {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &api{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *api) endpoint(path string) string {
	return a.baseURL + path
}

type quotePayload struct {
	AskPrice string `json:"ask_price"`
	BidPrice string `json:"bid_price"`
}

type barPayload struct {
	BeginsAt   string `json:"begins_at"`
	OpenPrice  string `json:"open_price"`
	LowPrice   string `json:"low_price"`
	HighPrice  string `json:"high_price"`
	ClosePrice string `json:"close_price"`
	Volume     string `json:"volume"`
}

type historicalsPayload struct {
	Results []struct {
		Historicals []barPayload `json:"historicals"`
	} `json:"results"`
}

type instrumentPayload struct {
	URL    string `json:"url"`
	Symbol string `json:"symbol"`
}

type positionPayload struct {
	Instrument string `json:"instrument"`
	Quantity   string `json:"quantity"`
}

type portfolioPayload struct {
	Equity string `json:"equity"`
}

type accountPayload struct {
	URL string `json:"url"`
}

type marketPayload struct {
	TodaysHours string `json:"todays_hours"`
}

type marketHoursPayload struct {
	IsOpen   bool    `json:"is_open"`
	OpensAt  *string `json:"opens_at"`
	ClosesAt *string `json:"closes_at"`
}

type orderPayload struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

type resultsPayload[T any] struct {
	Results []T `json:"results"`
}

func (a *api) login(ctx context.Context, username, password string) error {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	var resp struct {
		Token string `json:"token"`
	}
	if err := a.postForm(ctx, a.endpoint("/api-token-auth/"), form, &resp); err != nil {
		return fmt.Errorf("login request failed: %w", err)
	}

	if resp.Token == "" {
		return fmt.Errorf("login response contains no token")
	}

	a.token = resp.Token
	return nil
}

func (a *api) logout(ctx context.Context) error {
	if err := a.postForm(ctx, a.endpoint("/api-token-logout/"), url.Values{}, nil); err != nil {
		return fmt.Errorf("logout request failed: %w", err)
	}

	a.token = ""
	return nil
}

func (a *api) quote(ctx context.Context, symbol string) (quotePayload, error) {
	var q quotePayload
	err := a.getJSON(ctx, a.endpoint("/quotes/"+symbol+"/"), &q)
	if err != nil {
		return q, fmt.Errorf("quote request for %s failed: %w", symbol, err)
	}

	return q, nil
}

func (a *api) historicals(ctx context.Context, symbol, interval, span string) ([]barPayload, error) {
	params := url.Values{}
	params.Set("symbols", symbol)
	params.Set("interval", interval)
	params.Set("span", span)
	params.Set("bounds", "regular")

	var resp historicalsPayload
	err := a.getJSON(ctx, a.endpoint("/quotes/historicals/")+"?"+params.Encode(), &resp)
	if err != nil {
		return nil, fmt.Errorf("historicals request for %s failed: %w", symbol, err)
	}

	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("no historicals returned for %s", symbol)
	}

	return resp.Results[0].Historicals, nil
}

func (a *api) instruments(ctx context.Context, query string) ([]instrumentPayload, error) {
	params := url.Values{}
	params.Set("query", strings.ToUpper(query))

	var resp resultsPayload[instrumentPayload]
	err := a.getJSON(ctx, a.endpoint("/instruments/")+"?"+params.Encode(), &resp)
	if err != nil {
		return nil, fmt.Errorf("instruments request for %s failed: %w", query, err)
	}

	return resp.Results, nil
}

func (a *api) instrumentByURL(ctx context.Context, instrumentURL string) (instrumentPayload, error) {
	var inst instrumentPayload
	if err := a.getJSON(ctx, instrumentURL, &inst); err != nil {
		return inst, fmt.Errorf("instrument lookup failed: %w", err)
	}

	return inst, nil
}

func (a *api) positions(ctx context.Context) ([]positionPayload, error) {
	var resp resultsPayload[positionPayload]
	err := a.getJSON(ctx, a.endpoint("/positions/")+"?nonzero=true", &resp)
	if err != nil {
		return nil, fmt.Errorf("positions request failed: %w", err)
	}

	return resp.Results, nil
}

func (a *api) portfolio(ctx context.Context) (portfolioPayload, error) {
	var resp resultsPayload[portfolioPayload]
	err := a.getJSON(ctx, a.endpoint("/portfolios/"), &resp)
	if err != nil {
		return portfolioPayload{}, fmt.Errorf("portfolios request failed: %w", err)
	}

	if len(resp.Results) == 0 {
		return portfolioPayload{}, fmt.Errorf("no portfolios returned")
	}

	return resp.Results[0], nil
}

func (a *api) account(ctx context.Context) (accountPayload, error) {
	var resp resultsPayload[accountPayload]
	err := a.getJSON(ctx, a.endpoint("/accounts/"), &resp)
	if err != nil {
		return accountPayload{}, fmt.Errorf("accounts request failed: %w", err)
	}

	if len(resp.Results) == 0 {
		return accountPayload{}, fmt.Errorf("no accounts returned")
	}

	return resp.Results[0], nil
}

func (a *api) markets(ctx context.Context) ([]marketPayload, error) {
	var resp resultsPayload[marketPayload]
	err := a.getJSON(ctx, a.endpoint("/markets/"), &resp)
	if err != nil {
		return nil, fmt.Errorf("markets request failed: %w", err)
	}

	return resp.Results, nil
}

func (a *api) marketHours(ctx context.Context, hoursURL string) (marketHoursPayload, error) {
	var h marketHoursPayload
	if err := a.getJSON(ctx, hoursURL, &h); err != nil {
		return h, fmt.Errorf("market hours lookup failed: %w", err)
	}

	return h, nil
}

func (a *api) placeOrder(ctx context.Context, form url.Values) (orderPayload, error) {
	var ord orderPayload
	if err := a.postForm(ctx, a.endpoint("/orders/"), form, &ord); err != nil {
		return ord, fmt.Errorf("order placement failed: %w", err)
	}

	if ord.URL == "" {
		return ord, fmt.Errorf("order placement response contains no url")
	}

	return ord, nil
}

func (a *api) orderState(ctx context.Context, orderURL string) (string, error) {
	var ord orderPayload
	if err := a.getJSON(ctx, orderURL, &ord); err != nil {
		return "", fmt.Errorf("order status lookup failed: %w", err)
	}

	return ord.State, nil
}

func (a *api) getJSON(ctx context.Context, rawURL string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	return a.do(req, v)
}

func (a *api) postForm(ctx context.Context, rawURL string, form url.Values, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
	return a.do(req, v)
}

func (a *api) do(req *http.Request, v any) error {
	req.Header.Set("Accept", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Token "+a.token)
	}

	resp, err := a.hc.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(body))
	}

	if v == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
