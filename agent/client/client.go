// Package client is the agent platform's REST client for the exchange.
// Transport and 5xx failures retry with exponential backoff (100ms to 1s,
// three retries); 4xx responses surface immediately as APIError.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cosmossdk.io/math"
	"github.com/cenkalti/backoff/v4"
)

const (
	requestTimeout = 5 * time.Second
	maxRetries     = 3
)

// APIError is a non-2xx exchange response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange returned %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the exchange.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to one exchange on behalf of one API key.
type Client struct {
	baseURL string
	apiKey  string
	hc      *http.Client
}

// New creates a client for an exchange base URL.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		hc:      &http.Client{Timeout: requestTimeout},
	}
}

// ============ Wire types ============

// MarketData mirrors GET /market-data/{ticker}.
type MarketData struct {
	Ticker    string          `json:"ticker"`
	LastPrice *math.LegacyDec `json:"last_price,string,omitempty"`
	BestBid   *math.LegacyDec `json:"best_bid,string,omitempty"`
	BestAsk   *math.LegacyDec `json:"best_ask,string,omitempty"`
	Volume24h int64           `json:"volume_24h"`
}

// Trade mirrors one element of GET /trades/{ticker}.
type Trade struct {
	Price     math.LegacyDec `json:"price"`
	Quantity  int64          `json:"quantity"`
	Timestamp time.Time      `json:"timestamp"`
}

// Holding mirrors one element of the account's holdings.
type Holding struct {
	Ticker   string `json:"ticker"`
	Quantity int64  `json:"quantity"`
}

// Account mirrors GET /account.
type Account struct {
	ID          string         `json:"id"`
	CashBalance math.LegacyDec `json:"cash_balance"`
	Holdings    []Holding      `json:"holdings"`
}

// Order mirrors a stored order.
type Order struct {
	ID        string `json:"id"`
	Ticker    string `json:"ticker"`
	Side      string `json:"side"`
	Status    string `json:"status"`
	Quantity  int64  `json:"quantity"`
	Remaining int64  `json:"remaining_quantity"`
}

// PlaceOrderRequest is the body of POST /orders.
type PlaceOrderRequest struct {
	Ticker   string `json:"ticker"`
	Side     string `json:"side"`
	Type     string `json:"order_type"`
	Price    string `json:"price,omitempty"`
	Quantity int64  `json:"quantity"`
}

// PlaceOrderResult is the response of POST /orders.
type PlaceOrderResult struct {
	Order  Order `json:"order"`
	Trades []struct {
		Quantity int64 `json:"quantity"`
	} `json:"trades"`
}

// ============ Operations ============

// Companies returns every listed ticker.
func (c *Client) Companies(ctx context.Context) ([]string, error) {
	var resp struct {
		Companies []struct {
			Ticker string `json:"ticker"`
		} `json:"companies"`
	}
	if err := c.do(ctx, http.MethodGet, "/companies", nil, &resp); err != nil {
		return nil, err
	}
	tickers := make([]string, 0, len(resp.Companies))
	for _, co := range resp.Companies {
		tickers = append(tickers, co.Ticker)
	}
	return tickers, nil
}

// MarketData fetches the snapshot for one ticker.
func (c *Client) MarketData(ctx context.Context, ticker string) (*MarketData, error) {
	var md MarketData
	if err := c.do(ctx, http.MethodGet, "/market-data/"+url.PathEscape(ticker), nil, &md); err != nil {
		return nil, err
	}
	return &md, nil
}

// RecentTrades fetches up to limit recent trades, newest first.
func (c *Client) RecentTrades(ctx context.Context, ticker string, limit int) ([]Trade, error) {
	var resp struct {
		Trades []Trade `json:"trades"`
	}
	path := fmt.Sprintf("/trades/%s?limit=%d", url.PathEscape(ticker), limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Trades, nil
}

// Account fetches the caller's cash and holdings.
func (c *Client) Account(ctx context.Context) (*Account, error) {
	var acct Account
	if err := c.do(ctx, http.MethodGet, "/account", nil, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// OpenOrders lists the caller's OPEN and PARTIAL orders. An empty ticker
// lists across all tickers.
func (c *Client) OpenOrders(ctx context.Context, ticker string) ([]Order, error) {
	open, err := c.ordersByStatus(ctx, ticker, "OPEN")
	if err != nil {
		return nil, err
	}
	partial, err := c.ordersByStatus(ctx, ticker, "PARTIAL")
	if err != nil {
		return nil, err
	}
	return append(open, partial...), nil
}

func (c *Client) ordersByStatus(ctx context.Context, ticker, status string) ([]Order, error) {
	var resp struct {
		Orders []Order `json:"orders"`
	}
	path := "/orders?status=" + status
	if ticker != "" {
		path += "&ticker=" + url.QueryEscape(ticker)
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}

// PlaceOrder submits an order.
func (c *Client) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*PlaceOrderResult, error) {
	var result PlaceOrderResult
	if err := c.do(ctx, http.MethodPost, "/orders", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CancelOrder cancels one order by id.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.do(ctx, http.MethodDelete, "/orders/"+url.PathEscape(orderID), nil, nil)
}

// ============ Transport ============

// do runs one call with the retry policy and decodes the response.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(newBackoff(), maxRetries), ctx)
	return backoff.Retry(func() error {
		return c.once(ctx, method, path, payload, out)
	}, policy)
}

func newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 0 // bounded by retry count, not wall clock
	return b
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err // transport error, retryable
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return decodeAPIError(resp) // retryable
	}
	if resp.StatusCode >= 400 {
		return backoff.Permanent(decodeAPIError(resp))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Code: "INTERNAL_ERROR"}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error.Code != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}
