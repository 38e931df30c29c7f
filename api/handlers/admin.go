package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"cosmossdk.io/math"

	"github.com/openalpha/stockex/api/types"
	"github.com/openalpha/stockex/exchange"
	"github.com/openalpha/stockex/exchange/auth"
)

// AdminHandler serves the token-gated administrative endpoints.
type AdminHandler struct {
	svc  *exchange.Service
	auth *auth.Authenticator
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(svc *exchange.Service, authn *auth.Authenticator) *AdminHandler {
	return &AdminHandler{svc: svc, auth: authn}
}

// HandleCompanies handles POST /admin/companies: list a new company.
func (h *AdminHandler) HandleCompanies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	var req types.CreateCompanyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteInvalid(w, "malformed JSON body")
		return
	}
	params := exchange.CompanyParams{
		Ticker:      req.Ticker,
		Name:        req.Name,
		TotalShares: req.TotalShares,
		FloatShares: req.FloatShares,
	}
	if req.IPOPrice != "" {
		price, err := parseDec("ipo_price", req.IPOPrice)
		if err != nil {
			WriteError(w, err)
			return
		}
		params.IPOPrice = price
	}
	company, err := h.svc.CreateCompany(params)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, types.FromCompany(company))
}

// HandleAccounts handles /admin/accounts: POST creates, GET lists.
func (h *AdminHandler) HandleAccounts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createAccount(w, r)
	case http.MethodGet:
		h.listAccounts(w, r)
	default:
		WriteMethodNotAllowed(w)
	}
}

func (h *AdminHandler) createAccount(w http.ResponseWriter, r *http.Request) {
	var req types.CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteInvalid(w, "malformed JSON body")
		return
	}
	cash := math.LegacyZeroDec()
	if req.InitialCash != "" {
		parsed, err := parseDec("initial_cash", req.InitialCash)
		if err != nil {
			WriteError(w, err)
			return
		}
		cash = parsed
	}
	account, apiKey, err := h.svc.CreateAccount(req.ID, cash)
	if err != nil {
		WriteError(w, err)
		return
	}
	h.auth.Warm(auth.HashAPIKey(apiKey), account.ID)
	WriteJSON(w, http.StatusCreated, types.CreateAccountResponse{
		ID:          account.ID,
		CashBalance: types.FormatDec(account.Cash),
		APIKey:      apiKey,
		CreatedAt:   account.CreatedAt,
	})
}

func (h *AdminHandler) listAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.svc.Accounts()
	if err != nil {
		WriteError(w, err)
		return
	}
	type accountRow struct {
		ID          string `json:"id"`
		CashBalance string `json:"cash_balance"`
	}
	out := make([]accountRow, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, accountRow{ID: a.ID, CashBalance: types.FormatDec(a.Cash)})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"accounts": out})
}

// HandleAccountDetail handles GET /admin/accounts/{id}: one account's full
// portfolio view.
func (h *AdminHandler) HandleAccountDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/admin/accounts/")
	if id == "" || strings.Contains(id, "/") {
		WriteInvalid(w, "account id is required")
		return
	}
	view, err := h.svc.AccountSummary(id)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, types.FromAccountView(view))
}

// HandleStats handles GET /admin/stats.
func (h *AdminHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	stats, err := h.svc.AdminStats()
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// HandleBook handles GET /admin/orderbook/{ticker}: the raw order book with
// per-order detail.
func (h *AdminHandler) HandleBook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	ticker := strings.ToUpper(strings.TrimPrefix(r.URL.Path, "/admin/orderbook/"))
	if ticker == "" || strings.Contains(ticker, "/") {
		WriteInvalid(w, "ticker is required")
		return
	}
	bids, asks, err := h.svc.AdminBook(ticker)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, types.AdminBookResponse{
		Ticker: ticker,
		Bids:   types.FromBookEntries(bids),
		Asks:   types.FromBookEntries(asks),
	})
}
