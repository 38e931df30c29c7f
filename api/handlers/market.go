package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/openalpha/stockex/api/types"
	"github.com/openalpha/stockex/exchange"
)

// MarketHandler serves the public, unauthenticated market-data endpoints.
type MarketHandler struct {
	svc *exchange.Service
}

// NewMarketHandler creates a market handler.
func NewMarketHandler(svc *exchange.Service) *MarketHandler {
	return &MarketHandler{svc: svc}
}

// tickerFromPath extracts and normalizes the ticker after a route prefix.
func tickerFromPath(path, prefix string) string {
	t := strings.TrimPrefix(path, prefix)
	if strings.Contains(t, "/") {
		return ""
	}
	return strings.ToUpper(t)
}

// HandleCompanies handles GET /companies.
func (h *MarketHandler) HandleCompanies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	companies, err := h.svc.Companies()
	if err != nil {
		WriteError(w, err)
		return
	}
	out := make([]types.CompanyResponse, 0, len(companies))
	for _, c := range companies {
		out = append(out, types.FromCompany(c))
	}
	WriteJSON(w, http.StatusOK, map[string]any{"companies": out})
}

// HandleCompany handles GET /companies/{ticker}.
func (h *MarketHandler) HandleCompany(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	ticker := tickerFromPath(r.URL.Path, "/companies/")
	if ticker == "" {
		WriteInvalid(w, "ticker is required")
		return
	}
	company, err := h.svc.Company(ticker)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, types.FromCompany(company))
}

// HandleOrderBook handles GET /orderbook/{ticker}?depth=N.
func (h *MarketHandler) HandleOrderBook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	ticker := tickerFromPath(r.URL.Path, "/orderbook/")
	if ticker == "" {
		WriteInvalid(w, "ticker is required")
		return
	}
	depth := 10
	if d := r.URL.Query().Get("depth"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n <= 0 || n > 100 {
			WriteInvalid(w, "depth must be an integer in [1, 100]")
			return
		}
		depth = n
	}
	bids, asks, last, err := h.svc.OrderBook(ticker, depth)
	if err != nil {
		WriteError(w, err)
		return
	}
	resp := types.OrderBookResponse{
		Ticker:    ticker,
		Bids:      types.FromLevels(bids),
		Asks:      types.FromLevels(asks),
		Timestamp: time.Now().UTC(),
	}
	if last != nil {
		s := types.FormatDec(*last)
		resp.LastPrice = &s
	}
	WriteJSON(w, http.StatusOK, resp)
}

// HandleTrades handles GET /trades/{ticker}?limit=N&since=T.
func (h *MarketHandler) HandleTrades(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	ticker := tickerFromPath(r.URL.Path, "/trades/")
	if ticker == "" {
		WriteInvalid(w, "ticker is required")
		return
	}
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			WriteInvalid(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	var since *time.Time
	if s := r.URL.Query().Get("since"); s != "" {
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			WriteInvalid(w, "since must be an RFC 3339 timestamp")
			return
		}
		since = &ts
	}
	trades, err := h.svc.TradesFor(ticker, limit, since)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"trades": types.FromTrades(trades)})
}

// HandleMarketData handles GET /market-data and GET /market-data/{ticker}.
func (h *MarketHandler) HandleMarketData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/market-data")
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		all, err := h.svc.MarketDataAll()
		if err != nil {
			WriteError(w, err)
			return
		}
		out := make([]types.MarketDataResponse, 0, len(all))
		for _, v := range all {
			out = append(out, types.FromMarketData(v))
		}
		WriteJSON(w, http.StatusOK, map[string]any{"market_data": out})
		return
	}
	if strings.Contains(path, "/") {
		WriteInvalid(w, "malformed ticker")
		return
	}
	data, err := h.svc.MarketData(strings.ToUpper(path))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, types.FromMarketData(data))
}
