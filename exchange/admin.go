package exchange

import (
	"strings"
	"time"

	"cosmossdk.io/math"

	"github.com/openalpha/stockex/exchange/auth"
	"github.com/openalpha/stockex/exchange/book"
	"github.com/openalpha/stockex/exchange/types"
)

// CompanyParams are the inputs of a listing.
type CompanyParams struct {
	Ticker      string
	Name        string
	TotalShares int64
	FloatShares int64
	IPOPrice    math.LegacyDec
}

// CreateCompany lists a new company. All shares are credited to the treasury
// account; when a float and IPO price are given, the float is immediately
// offered as a treasury SELL LIMIT through the normal matching path.
func (s *Service) CreateCompany(p CompanyParams) (*types.Company, error) {
	p.Ticker = strings.ToUpper(strings.TrimSpace(p.Ticker))
	if !types.ValidTicker(p.Ticker) {
		return nil, types.ErrInvalidParameters.Wrapf("malformed ticker %q", p.Ticker)
	}
	if strings.TrimSpace(p.Name) == "" {
		return nil, types.ErrInvalidParameters.Wrap("company name is required")
	}
	if p.TotalShares <= 0 {
		return nil, types.ErrInvalidParameters.Wrap("total_shares must be positive")
	}
	if p.FloatShares < 0 || p.FloatShares > p.TotalShares {
		return nil, types.ErrInvalidParameters.Wrap("float_shares must be within [0, total_shares]")
	}
	ipo := math.LegacyZeroDec()
	if p.FloatShares > 0 {
		if p.IPOPrice.IsNil() || !p.IPOPrice.IsPositive() {
			return nil, types.ErrInvalidParameters.Wrap("a positive ipo_price is required to float shares")
		}
		ipo = p.IPOPrice
	}

	tx := s.store.Begin()
	existing, err := tx.GetCompany(p.Ticker)
	if err != nil {
		tx.Discard()
		return nil, err
	}
	if existing != nil {
		tx.Discard()
		return nil, types.ErrConflict.Wrapf("ticker %s is already listed", p.Ticker)
	}

	company := &types.Company{
		Ticker:      p.Ticker,
		Name:        strings.TrimSpace(p.Name),
		TotalShares: p.TotalShares,
		FloatShares: p.FloatShares,
		IPOPrice:    ipo,
		CreatedAt:   time.Now().UTC(),
	}
	if err := tx.PutCompany(company); err != nil {
		tx.Discard()
		return nil, err
	}

	treasury, err := tx.GetAccount(TreasuryAccountID)
	if err != nil {
		tx.Discard()
		return nil, err
	}
	if treasury == nil {
		treasury = &types.Account{
			ID:        TreasuryAccountID,
			Cash:      math.LegacyZeroDec(),
			CreatedAt: time.Now().UTC(),
		}
		if err := tx.PutAccount(treasury); err != nil {
			tx.Discard()
			return nil, err
		}
	}
	holding := &types.Holding{
		AccountID: TreasuryAccountID,
		Ticker:    p.Ticker,
		Quantity:  p.TotalShares,
		CostBasis: math.LegacyZeroDec(),
	}
	if err := tx.PutHolding(holding); err != nil {
		tx.Discard()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, types.ErrInternal.Wrap("store commit failed")
	}

	s.addTicker(p.Ticker)
	s.logger.Info("company listed", "ticker", p.Ticker, "total_shares", p.TotalShares, "float", p.FloatShares)

	if p.FloatShares > 0 {
		_, err := s.SubmitOrder(TreasuryAccountID, OrderParams{
			Ticker:   p.Ticker,
			Side:     types.SideSell,
			Type:     types.OrderTypeLimit,
			Price:    ipo,
			Quantity: p.FloatShares,
		})
		if err != nil {
			// The listing itself is committed; a failed float is loud
			// but not fatal.
			s.logger.Error("IPO float order failed", "ticker", p.Ticker, "err", err)
		}
	}
	return company, nil
}

// CreateAccount registers a trader account with an initial cash balance and
// returns the account plus its raw API key. The raw key is never shown again.
func (s *Service) CreateAccount(id string, initialCash math.LegacyDec) (*types.Account, string, error) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > 64 {
		return nil, "", types.ErrInvalidParameters.Wrap("account id must be 1-64 characters")
	}
	if id == TreasuryAccountID {
		return nil, "", types.ErrInvalidParameters.Wrapf("%q is reserved", TreasuryAccountID)
	}
	if initialCash.IsNil() || initialCash.IsNegative() {
		return nil, "", types.ErrInvalidParameters.Wrap("initial_cash must be non-negative")
	}

	rawKey, err := auth.GenerateAPIKey()
	if err != nil {
		return nil, "", types.ErrInternal.Wrap("key generation failed")
	}
	hash := auth.HashAPIKey(rawKey)

	tx := s.store.Begin()
	existing, err := tx.GetAccount(id)
	if err != nil {
		tx.Discard()
		return nil, "", err
	}
	if existing != nil {
		tx.Discard()
		return nil, "", types.ErrConflict.Wrapf("account %s already exists", id)
	}
	account := &types.Account{
		ID:         id,
		APIKeyHash: hash,
		Cash:       initialCash,
		CreatedAt:  time.Now().UTC(),
	}
	if err := tx.PutAccount(account); err != nil {
		tx.Discard()
		return nil, "", err
	}
	tx.PutAPIKeyIndex(hash, id)
	if err := tx.Commit(); err != nil {
		return nil, "", types.ErrInternal.Wrap("store commit failed")
	}
	s.logger.Info("account created", "account_id", id)
	return account, rawKey, nil
}

// Accounts lists every account, treasury included.
func (s *Service) Accounts() ([]*types.Account, error) {
	return s.store.ListAccounts()
}

// Stats is the admin snapshot of exchange activity.
type Stats struct {
	Companies   int   `json:"companies"`
	Accounts    int   `json:"accounts"`
	OpenOrders  int64 `json:"open_orders"`
	TotalOrders int64 `json:"total_orders"`
	TotalTrades int64 `json:"total_trades"`
	TotalVolume int64 `json:"total_volume"`
}

// AdminStats aggregates counters across the whole store.
func (s *Service) AdminStats() (*Stats, error) {
	companies, err := s.store.ListCompanies()
	if err != nil {
		return nil, err
	}
	accounts, err := s.store.ListAccounts()
	if err != nil {
		return nil, err
	}
	st := &Stats{Companies: len(companies), Accounts: len(accounts)}
	if err := s.store.AllOrders(func(o *types.Order) bool {
		st.TotalOrders++
		if o.IsActive() {
			st.OpenOrders++
		}
		return true
	}); err != nil {
		return nil, err
	}
	for _, c := range companies {
		if err := s.store.Trades(c.Ticker, func(t *types.Trade) bool {
			st.TotalTrades++
			st.TotalVolume += t.Quantity
			return true
		}); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// AdminBook returns the raw, non-aggregated book for a ticker, both sides in
// price-time order.
func (s *Service) AdminBook(ticker string) (bids, asks []*book.Entry, err error) {
	st := s.ticker(ticker)
	if st == nil {
		return nil, nil, types.ErrNotFound.Wrapf("unknown ticker %s", ticker)
	}
	return st.book.Entries(types.SideBuy), st.book.Entries(types.SideSell), nil
}
