package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"cosmossdk.io/log"
	dbm "github.com/cosmos/cosmos-db"
	"github.com/stretchr/testify/require"

	apitypes "github.com/openalpha/stockex/api/types"
	"github.com/openalpha/stockex/api/websocket"
	"github.com/openalpha/stockex/exchange"
	"github.com/openalpha/stockex/exchange/auth"
	"github.com/openalpha/stockex/exchange/store"
)

const testAdminToken = "test-admin-token"

type testAPI struct {
	t       *testing.T
	handler http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	st := store.New(dbm.NewMemDB(), log.NewNopLogger())
	hub := websocket.NewHub(websocket.DefaultHubConfig())
	svc := exchange.NewService(st, log.NewNopLogger(), websocket.NewFeed(hub))
	require.NoError(t, svc.Rebuild())
	authn := auth.NewAuthenticator(st, testAdminToken)

	srv := NewServer(&Config{
		Host:             "127.0.0.1",
		Port:             0,
		AdminToken:       testAdminToken,
		DisableRateLimit: true,
	}, svc, authn, hub, log.NewNopLogger())
	return &testAPI{t: t, handler: srv.Handler()}
}

// do runs one request and decodes the JSON response into out (if non-nil).
func (a *testAPI) do(method, path string, body any, headers map[string]string, out any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	if out != nil {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), out),
			"decoding %s %s: %s", method, path, rec.Body.String())
	}
	return rec
}

func adminHeaders() map[string]string {
	return map[string]string{"X-Admin-Token": testAdminToken}
}

func traderHeaders(key string) map[string]string {
	return map[string]string{"X-API-Key": key}
}

func (a *testAPI) createCompany(ticker string, total, float int64, ipo string) {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/admin/companies", apitypes.CreateCompanyRequest{
		Ticker: ticker, Name: ticker + " Inc", TotalShares: total, FloatShares: float, IPOPrice: ipo,
	}, adminHeaders(), nil)
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (a *testAPI) createAccount(id, cash string) string {
	a.t.Helper()
	var resp apitypes.CreateAccountResponse
	rec := a.do(http.MethodPost, "/admin/accounts", apitypes.CreateAccountRequest{
		ID: id, InitialCash: cash,
	}, adminHeaders(), &resp)
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotEmpty(a.t, resp.APIKey)
	return resp.APIKey
}

func errCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope apitypes.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope), rec.Body.String())
	return envelope.Error.Code
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(http.MethodGet, "/health", nil, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodGet, "/account", nil, nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "UNAUTHORIZED", errCode(t, rec))

	rec = a.do(http.MethodGet, "/account", nil, traderHeaders("sk_invalid"), nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminTokenRequired(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodGet, "/admin/stats", nil, nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(http.MethodGet, "/admin/stats", nil, map[string]string{"X-Admin-Token": "wrong"}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(http.MethodGet, "/admin/stats", nil, adminHeaders(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPlaceOrderAndFill(t *testing.T) {
	a := newTestAPI(t)
	a.createCompany("ACME", 1000, 100, "10.00")
	key := a.createAccount("alice", "5000")

	var resp apitypes.PlaceOrderResponse
	rec := a.do(http.MethodPost, "/orders", apitypes.PlaceOrderRequest{
		Ticker: "ACME", Side: "BUY", Type: "LIMIT", Price: "10.00", Quantity: 25,
	}, traderHeaders(key), &resp)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, "FILLED", resp.Order.Status)
	require.Len(t, resp.Trades, 1)
	require.Equal(t, "10", resp.Trades[0].Price)
	require.Equal(t, int64(25), resp.Trades[0].Quantity)

	// The account view reflects the buy.
	var acct apitypes.AccountResponse
	rec = a.do(http.MethodGet, "/account", nil, traderHeaders(key), &acct)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "4750", acct.CashBalance)
	require.Len(t, acct.Holdings, 1)
	require.Equal(t, int64(25), acct.Holdings[0].Quantity)
}

func TestPlaceOrderValidation(t *testing.T) {
	a := newTestAPI(t)
	a.createCompany("ACME", 1000, 0, "")
	key := a.createAccount("alice", "100")

	// Limit without price.
	rec := a.do(http.MethodPost, "/orders", apitypes.PlaceOrderRequest{
		Ticker: "ACME", Side: "BUY", Type: "LIMIT", Quantity: 1,
	}, traderHeaders(key), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_PARAMETERS", errCode(t, rec))

	// Market with price.
	rec = a.do(http.MethodPost, "/orders", apitypes.PlaceOrderRequest{
		Ticker: "ACME", Side: "BUY", Type: "MARKET", Price: "10", Quantity: 1,
	}, traderHeaders(key), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown ticker.
	rec = a.do(http.MethodPost, "/orders", apitypes.PlaceOrderRequest{
		Ticker: "NOPE", Side: "BUY", Type: "LIMIT", Price: "10", Quantity: 1,
	}, traderHeaders(key), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "NOT_FOUND", errCode(t, rec))

	// Unaffordable.
	rec = a.do(http.MethodPost, "/orders", apitypes.PlaceOrderRequest{
		Ticker: "ACME", Side: "BUY", Type: "LIMIT", Price: "10", Quantity: 100,
	}, traderHeaders(key), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INSUFFICIENT_FUNDS", errCode(t, rec))

	// No shares to sell.
	rec = a.do(http.MethodPost, "/orders", apitypes.PlaceOrderRequest{
		Ticker: "ACME", Side: "SELL", Type: "LIMIT", Price: "10", Quantity: 1,
	}, traderHeaders(key), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INSUFFICIENT_SHARES", errCode(t, rec))
}

func TestCancelOrderFlow(t *testing.T) {
	a := newTestAPI(t)
	a.createCompany("ACME", 1000, 0, "")
	key := a.createAccount("alice", "1000")
	eveKey := a.createAccount("eve", "1000")

	var placed apitypes.PlaceOrderResponse
	rec := a.do(http.MethodPost, "/orders", apitypes.PlaceOrderRequest{
		Ticker: "ACME", Side: "BUY", Type: "LIMIT", Price: "5.00", Quantity: 10,
	}, traderHeaders(key), &placed)
	require.Equal(t, http.StatusCreated, rec.Code)
	orderID := placed.Order.ID

	// Another trader cannot cancel it.
	rec = a.do(http.MethodDelete, "/orders/"+orderID, nil, traderHeaders(eveKey), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "FORBIDDEN", errCode(t, rec))

	rec = a.do(http.MethodDelete, "/orders/"+orderID, nil, traderHeaders(key), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Double cancel conflicts.
	rec = a.do(http.MethodDelete, "/orders/"+orderID, nil, traderHeaders(key), nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "CONFLICT", errCode(t, rec))

	rec = a.do(http.MethodDelete, "/orders/nonexistent", nil, traderHeaders(key), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPublicMarketData(t *testing.T) {
	a := newTestAPI(t)
	a.createCompany("ACME", 1000, 100, "10.00")

	// Companies are public.
	rec := a.do(http.MethodGet, "/companies", nil, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var company apitypes.CompanyResponse
	rec = a.do(http.MethodGet, "/companies/ACME", nil, nil, &company)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ACME", company.Ticker)
	require.Equal(t, int64(1000), company.TotalShares)

	rec = a.do(http.MethodGet, "/companies/NOPE", nil, nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	// The order book shows the IPO float.
	var bookResp apitypes.OrderBookResponse
	rec = a.do(http.MethodGet, "/orderbook/ACME?depth=5", nil, nil, &bookResp)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, bookResp.Bids)
	require.Len(t, bookResp.Asks, 1)
	require.Equal(t, "10", bookResp.Asks[0].Price)
	require.Equal(t, int64(100), bookResp.Asks[0].Quantity)

	rec = a.do(http.MethodGet, "/orderbook/ACME?depth=9999", nil, nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var md apitypes.MarketDataResponse
	rec = a.do(http.MethodGet, "/market-data/ACME", nil, nil, &md)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, md.LastPrice)
	require.NotNil(t, md.MarketCap)
	require.Equal(t, "10000", *md.MarketCap)
}

func TestTradesEndpoint(t *testing.T) {
	a := newTestAPI(t)
	a.createCompany("ACME", 1000, 100, "10.00")
	key := a.createAccount("alice", "5000")

	for i := 0; i < 3; i++ {
		rec := a.do(http.MethodPost, "/orders", apitypes.PlaceOrderRequest{
			Ticker: "ACME", Side: "BUY", Type: "LIMIT", Price: "10.00", Quantity: 5,
		}, traderHeaders(key), nil)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	var resp struct {
		Trades []apitypes.TradeResponse `json:"trades"`
	}
	rec := a.do(http.MethodGet, "/trades/ACME?limit=2", nil, nil, &resp)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, resp.Trades, 2)

	rec = a.do(http.MethodGet, "/trades/NOPE", nil, nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListOrders(t *testing.T) {
	a := newTestAPI(t)
	a.createCompany("ACME", 1000, 0, "")
	key := a.createAccount("alice", "1000")

	for i := 0; i < 2; i++ {
		rec := a.do(http.MethodPost, "/orders", apitypes.PlaceOrderRequest{
			Ticker: "ACME", Side: "BUY", Type: "LIMIT", Price: fmt.Sprintf("%d.00", 4+i), Quantity: 1,
		}, traderHeaders(key), nil)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	var resp struct {
		Orders []apitypes.OrderResponse `json:"orders"`
	}
	rec := a.do(http.MethodGet, "/orders?status=OPEN", nil, traderHeaders(key), &resp)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, resp.Orders, 2)

	rec = a.do(http.MethodGet, "/orders?status=BOGUS", nil, traderHeaders(key), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminAccountsAndStats(t *testing.T) {
	a := newTestAPI(t)
	a.createCompany("ACME", 1000, 100, "10.00")
	a.createAccount("alice", "5000")

	// Duplicate account conflicts.
	rec := a.do(http.MethodPost, "/admin/accounts", apitypes.CreateAccountRequest{
		ID: "alice", InitialCash: "1",
	}, adminHeaders(), nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	var stats struct {
		Companies int `json:"companies"`
		Accounts  int `json:"accounts"`
	}
	rec = a.do(http.MethodGet, "/admin/stats", nil, adminHeaders(), &stats)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, stats.Companies)
	require.Equal(t, 2, stats.Accounts)

	var bookResp apitypes.AdminBookResponse
	rec = a.do(http.MethodGet, "/admin/orderbook/ACME", nil, adminHeaders(), &bookResp)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, bookResp.Asks, 1)
	require.Equal(t, "treasury", bookResp.Asks[0].AccountID)
}
