package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/openalpha/stockex/api/middleware"
	"github.com/openalpha/stockex/api/types"
	"github.com/openalpha/stockex/exchange"
	exchtypes "github.com/openalpha/stockex/exchange/types"
)

// TradingHandler serves the authenticated order and account endpoints.
type TradingHandler struct {
	svc *exchange.Service
}

// NewTradingHandler creates a trading handler.
func NewTradingHandler(svc *exchange.Service) *TradingHandler {
	return &TradingHandler{svc: svc}
}

// HandleOrders handles /orders: POST submits, GET lists.
func (h *TradingHandler) HandleOrders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.placeOrder(w, r)
	case http.MethodGet:
		h.listOrders(w, r)
	default:
		WriteMethodNotAllowed(w)
	}
}

// HandleOrder handles /orders/{id}: GET fetches, DELETE cancels.
func (h *TradingHandler) HandleOrder(w http.ResponseWriter, r *http.Request) {
	orderID := strings.TrimPrefix(r.URL.Path, "/orders/")
	if orderID == "" || strings.Contains(orderID, "/") {
		WriteInvalid(w, "order id is required")
		return
	}
	accountID := middleware.AccountFrom(r.Context())

	switch r.Method {
	case http.MethodGet:
		order, err := h.svc.GetOrder(accountID, orderID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, types.FromOrder(order))

	case http.MethodDelete:
		order, err := h.svc.CancelOrder(accountID, orderID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, types.CancelOrderResponse{Order: types.FromOrder(order)})

	default:
		WriteMethodNotAllowed(w)
	}
}

func (h *TradingHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req types.PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteInvalid(w, "malformed JSON body")
		return
	}

	side, err := exchtypes.ParseSide(req.Side)
	if err != nil {
		WriteInvalid(w, err.Error())
		return
	}
	typ, err := exchtypes.ParseOrderType(req.Type)
	if err != nil {
		WriteInvalid(w, err.Error())
		return
	}

	params := exchange.OrderParams{
		Ticker:   strings.ToUpper(strings.TrimSpace(req.Ticker)),
		Side:     side,
		Type:     typ,
		Quantity: req.Quantity,
	}
	if typ == exchtypes.OrderTypeLimit {
		if req.Price == "" {
			WriteInvalid(w, "price is required for limit orders")
			return
		}
		price, err := parseDec("price", req.Price)
		if err != nil {
			WriteError(w, err)
			return
		}
		params.Price = price
	} else if req.Price != "" {
		WriteInvalid(w, "market orders must not carry a price")
		return
	}

	res, err := h.svc.SubmitOrder(middleware.AccountFrom(r.Context()), params)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, types.PlaceOrderResponse{
		Order:  types.FromOrder(res.Order),
		Trades: types.FromTrades(res.Fills),
	})
}

func (h *TradingHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	var status exchtypes.OrderStatus
	if s := r.URL.Query().Get("status"); s != "" {
		parsed, err := exchtypes.ParseOrderStatus(s)
		if err != nil {
			WriteInvalid(w, err.Error())
			return
		}
		status = parsed
	}
	ticker := strings.ToUpper(r.URL.Query().Get("ticker"))

	orders, err := h.svc.ListOrders(middleware.AccountFrom(r.Context()), status, ticker)
	if err != nil {
		WriteError(w, err)
		return
	}
	out := make([]types.OrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, types.FromOrder(o))
	}
	WriteJSON(w, http.StatusOK, map[string]any{"orders": out})
}

// HandleAccount handles GET /account: the caller's portfolio summary.
func (h *TradingHandler) HandleAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	view, err := h.svc.AccountSummary(middleware.AccountFrom(r.Context()))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, types.FromAccountView(view))
}

// HandleHoldings handles GET /holdings: the caller's positions only.
func (h *TradingHandler) HandleHoldings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	view, err := h.svc.AccountSummary(middleware.AccountFrom(r.Context()))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"holdings": types.FromAccountView(view).Holdings})
}
