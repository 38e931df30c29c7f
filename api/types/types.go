// Package types holds the wire DTOs of the HTTP API. Money travels as
// decimal strings; enum literals are uppercase.
package types

import (
	"strings"
	"time"

	"cosmossdk.io/math"

	"github.com/openalpha/stockex/exchange"
	"github.com/openalpha/stockex/exchange/book"
	exchtypes "github.com/openalpha/stockex/exchange/types"
)

// ============ Error envelope ============

// ErrorBody is the inner error object of every non-2xx response.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error     ErrorBody `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// ============ Requests ============

// PlaceOrderRequest is the body of POST /orders.
type PlaceOrderRequest struct {
	Ticker   string `json:"ticker"`
	Side     string `json:"side"`
	Type     string `json:"order_type"`
	Price    string `json:"price,omitempty"`
	Quantity int64  `json:"quantity"`
}

// CreateCompanyRequest is the body of POST /admin/companies.
type CreateCompanyRequest struct {
	Ticker      string `json:"ticker"`
	Name        string `json:"name"`
	TotalShares int64  `json:"total_shares"`
	FloatShares int64  `json:"float_shares"`
	IPOPrice    string `json:"ipo_price,omitempty"`
}

// CreateAccountRequest is the body of POST /admin/accounts.
type CreateAccountRequest struct {
	ID          string `json:"id"`
	InitialCash string `json:"initial_cash"`
}

// ============ Responses ============

// OrderResponse mirrors a stored order.
type OrderResponse struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Ticker    string    `json:"ticker"`
	Side      string    `json:"side"`
	Type      string    `json:"order_type"`
	Price     string    `json:"price,omitempty"` // absent for market orders
	Quantity  int64     `json:"quantity"`
	Remaining int64     `json:"remaining_quantity"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// TradeResponse mirrors an executed trade.
type TradeResponse struct {
	ID          string    `json:"id"`
	Ticker      string    `json:"ticker"`
	Price       string    `json:"price"`
	Quantity    int64     `json:"quantity"`
	BuyOrderID  string    `json:"buy_order_id"`
	SellOrderID string    `json:"sell_order_id"`
	Timestamp   time.Time `json:"timestamp"`
}

// PlaceOrderResponse returns the submitted order's final state plus the
// trades it produced.
type PlaceOrderResponse struct {
	Order  OrderResponse   `json:"order"`
	Trades []TradeResponse `json:"trades"`
}

// CancelOrderResponse returns the cancelled order.
type CancelOrderResponse struct {
	Order OrderResponse `json:"order"`
}

// BookLevel is one aggregated price level.
type BookLevel struct {
	Price    string `json:"price"`
	Quantity int64  `json:"quantity"`
}

// OrderBookResponse is the public depth view.
type OrderBookResponse struct {
	Ticker    string      `json:"ticker"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	LastPrice *string     `json:"last_price"`
	Timestamp time.Time   `json:"timestamp"`
}

// CompanyResponse mirrors a listing.
type CompanyResponse struct {
	Ticker      string    `json:"ticker"`
	Name        string    `json:"name"`
	TotalShares int64     `json:"total_shares"`
	FloatShares int64     `json:"float_shares"`
	IPOPrice    string    `json:"ipo_price,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// HoldingResponse is one marked position.
type HoldingResponse struct {
	Ticker        string  `json:"ticker"`
	Quantity      int64   `json:"quantity"`
	AvgCost       string  `json:"avg_cost"`
	LastPrice     *string `json:"last_price"`
	MarketValue   *string `json:"market_value"`
	UnrealizedPnL *string `json:"unrealized_pnl"`
}

// AccountResponse is the authenticated portfolio summary.
type AccountResponse struct {
	ID             string            `json:"id"`
	CashBalance    string            `json:"cash_balance"`
	Holdings       []HoldingResponse `json:"holdings"`
	PortfolioValue string            `json:"portfolio_value"`
	TotalValue     string            `json:"total_value"`
	UnrealizedPnL  string            `json:"unrealized_pnl"`
	CreatedAt      time.Time         `json:"created_at"`
}

// CreateAccountResponse carries the one-time raw API key.
type CreateAccountResponse struct {
	ID          string    `json:"id"`
	CashBalance string    `json:"cash_balance"`
	APIKey      string    `json:"api_key"`
	CreatedAt   time.Time `json:"created_at"`
}

// MarketDataResponse is the per-ticker market snapshot.
type MarketDataResponse struct {
	Ticker    string  `json:"ticker"`
	Name      string  `json:"name"`
	LastPrice *string `json:"last_price"`
	Open24h   *string `json:"open_24h"`
	High24h   *string `json:"high_24h"`
	Low24h    *string `json:"low_24h"`
	Volume24h int64   `json:"volume_24h"`
	ChangePct *string `json:"change_pct_24h"`
	MarketCap *string `json:"market_cap"`
	BestBid   *string `json:"best_bid"`
	BestAsk   *string `json:"best_ask"`
}

// AdminBookEntry is one resting order in the non-aggregated admin view.
type AdminBookEntry struct {
	OrderID   string    `json:"order_id"`
	AccountID string    `json:"account_id"`
	Price     string    `json:"price"`
	Remaining int64     `json:"remaining_quantity"`
	Timestamp time.Time `json:"timestamp"`
}

// AdminBookResponse is the full book, both sides in price-time order.
type AdminBookResponse struct {
	Ticker string           `json:"ticker"`
	Bids   []AdminBookEntry `json:"bids"`
	Asks   []AdminBookEntry `json:"asks"`
}

// ============ Conversions ============

// FormatDec renders a decimal without trailing fractional zeros.
func FormatDec(d math.LegacyDec) string {
	s := d.String()
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

func formatDecPtr(d *math.LegacyDec) *string {
	if d == nil {
		return nil
	}
	s := FormatDec(*d)
	return &s
}

// FromOrder converts a stored order to its wire form.
func FromOrder(o *exchtypes.Order) OrderResponse {
	resp := OrderResponse{
		ID:        o.ID,
		AccountID: o.AccountID,
		Ticker:    o.Ticker,
		Side:      string(o.Side),
		Type:      string(o.Type),
		Quantity:  o.Quantity,
		Remaining: o.Remaining,
		Status:    string(o.Status),
		Timestamp: o.Timestamp,
	}
	if o.Type == exchtypes.OrderTypeLimit {
		resp.Price = FormatDec(o.Price)
	}
	return resp
}

// FromTrade converts an executed trade to its wire form. Counterparty
// account ids are not exposed publicly.
func FromTrade(t *exchtypes.Trade) TradeResponse {
	return TradeResponse{
		ID:          t.ID,
		Ticker:      t.Ticker,
		Price:       FormatDec(t.Price),
		Quantity:    t.Quantity,
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		Timestamp:   t.Timestamp,
	}
}

// FromTrades converts a trade slice, never returning nil.
func FromTrades(trades []*exchtypes.Trade) []TradeResponse {
	out := make([]TradeResponse, 0, len(trades))
	for _, t := range trades {
		out = append(out, FromTrade(t))
	}
	return out
}

// FromLevels converts aggregated book levels.
func FromLevels(levels []book.Level) []BookLevel {
	out := make([]BookLevel, 0, len(levels))
	for _, l := range levels {
		out = append(out, BookLevel{Price: FormatDec(l.Price), Quantity: l.Quantity})
	}
	return out
}

// FromCompany converts a listing.
func FromCompany(c *exchtypes.Company) CompanyResponse {
	resp := CompanyResponse{
		Ticker:      c.Ticker,
		Name:        c.Name,
		TotalShares: c.TotalShares,
		FloatShares: c.FloatShares,
		CreatedAt:   c.CreatedAt,
	}
	if c.IPOPrice.IsPositive() {
		resp.IPOPrice = FormatDec(c.IPOPrice)
	}
	return resp
}

// FromAccountView converts a portfolio summary.
func FromAccountView(v *exchange.AccountView) AccountResponse {
	resp := AccountResponse{
		ID:             v.Account.ID,
		CashBalance:    FormatDec(v.Account.Cash),
		Holdings:       make([]HoldingResponse, 0, len(v.Holdings)),
		PortfolioValue: FormatDec(v.PortfolioValue),
		TotalValue:     FormatDec(v.TotalValue),
		UnrealizedPnL:  FormatDec(v.UnrealizedPnL),
		CreatedAt:      v.Account.CreatedAt,
	}
	for _, h := range v.Holdings {
		resp.Holdings = append(resp.Holdings, HoldingResponse{
			Ticker:        h.Ticker,
			Quantity:      h.Quantity,
			AvgCost:       FormatDec(h.AvgCost),
			LastPrice:     formatDecPtr(h.LastPrice),
			MarketValue:   formatDecPtr(h.MarketValue),
			UnrealizedPnL: formatDecPtr(h.UnrealizedPnL),
		})
	}
	return resp
}

// FromMarketData converts a market snapshot.
func FromMarketData(v *exchange.MarketDataView) MarketDataResponse {
	return MarketDataResponse{
		Ticker:    v.Ticker,
		Name:      v.Name,
		LastPrice: formatDecPtr(v.LastPrice),
		Open24h:   formatDecPtr(v.Open24h),
		High24h:   formatDecPtr(v.High24h),
		Low24h:    formatDecPtr(v.Low24h),
		Volume24h: v.Volume24h,
		ChangePct: formatDecPtr(v.ChangePct),
		MarketCap: formatDecPtr(v.MarketCap),
		BestBid:   formatDecPtr(v.BestBid),
		BestAsk:   formatDecPtr(v.BestAsk),
	}
}

// FromBookEntries converts raw book entries for the admin view.
func FromBookEntries(entries []*book.Entry) []AdminBookEntry {
	out := make([]AdminBookEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, AdminBookEntry{
			OrderID:   e.OrderID,
			AccountID: e.AccountID,
			Price:     FormatDec(e.Price),
			Remaining: e.Remaining,
			Timestamp: e.Timestamp,
		})
	}
	return out
}
