package exchange

import (
	"time"

	"cosmossdk.io/math"

	"github.com/openalpha/stockex/exchange/book"
	"github.com/openalpha/stockex/exchange/types"
)

// HoldingView is a position enriched with mark-to-market figures. Pointer
// fields are nil when the ticker has never traded.
type HoldingView struct {
	Ticker        string
	Quantity      int64
	CostBasis     math.LegacyDec
	AvgCost       math.LegacyDec
	LastPrice     *math.LegacyDec
	MarketValue   *math.LegacyDec
	UnrealizedPnL *math.LegacyDec
}

// AccountView is the authenticated portfolio summary.
type AccountView struct {
	Account        *types.Account
	Holdings       []HoldingView
	PortfolioValue math.LegacyDec // marked holdings only
	TotalValue     math.LegacyDec // cash + portfolio
	UnrealizedPnL  math.LegacyDec
}

// AccountSummary returns the caller's cash, positions and unrealized P/L
// marked at the last traded price.
func (s *Service) AccountSummary(accountID string) (*AccountView, error) {
	account, err := s.store.GetAccount(accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, types.ErrNotFound.Wrapf("account %s", accountID)
	}
	holdings, err := s.store.ListHoldings(accountID)
	if err != nil {
		return nil, err
	}

	view := &AccountView{
		Account:        account,
		Holdings:       make([]HoldingView, 0, len(holdings)),
		PortfolioValue: math.LegacyZeroDec(),
		UnrealizedPnL:  math.LegacyZeroDec(),
	}
	for _, h := range holdings {
		hv := HoldingView{
			Ticker:    h.Ticker,
			Quantity:  h.Quantity,
			CostBasis: h.CostBasis,
			AvgCost:   math.LegacyZeroDec(),
		}
		if h.Quantity > 0 {
			hv.AvgCost = h.CostBasis.QuoInt64(h.Quantity)
		}
		if last := s.index.LastPrice(h.Ticker); last != nil {
			value := last.MulInt64(h.Quantity)
			pnl := value.Sub(h.CostBasis)
			hv.LastPrice = last
			hv.MarketValue = &value
			hv.UnrealizedPnL = &pnl
			view.PortfolioValue = view.PortfolioValue.Add(value)
			view.UnrealizedPnL = view.UnrealizedPnL.Add(pnl)
		}
		view.Holdings = append(view.Holdings, hv)
	}
	view.TotalValue = account.Cash.Add(view.PortfolioValue)
	return view, nil
}

// Companies lists every listed company.
func (s *Service) Companies() ([]*types.Company, error) {
	return s.store.ListCompanies()
}

// Company returns one listing.
func (s *Service) Company(ticker string) (*types.Company, error) {
	c, err := s.store.GetCompany(ticker)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, types.ErrNotFound.Wrapf("unknown ticker %s", ticker)
	}
	return c, nil
}

// OrderBook returns the aggregated top-of-book depth plus the last trade
// price for a ticker.
func (s *Service) OrderBook(ticker string, depth int) (bids, asks []book.Level, last *math.LegacyDec, err error) {
	if depth <= 0 {
		depth = 10
	}
	st := s.ticker(ticker)
	if st == nil {
		return nil, nil, nil, types.ErrNotFound.Wrapf("unknown ticker %s", ticker)
	}
	bids = st.book.AggregateLevels(types.SideBuy, depth)
	asks = st.book.AggregateLevels(types.SideSell, depth)
	return bids, asks, s.index.LastPrice(ticker), nil
}

// TradesFor returns recent trades for a ticker, newest first. The limit is
// clamped to [1, 500] with a default of 100.
func (s *Service) TradesFor(ticker string, limit int, since *time.Time) ([]*types.Trade, error) {
	if s.ticker(ticker) == nil {
		return nil, types.ErrNotFound.Wrapf("unknown ticker %s", ticker)
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	return s.index.Recent(ticker, limit, since), nil
}

// MarketDataView is the per-ticker market snapshot. Pointer fields are nil
// before the first trade; MarketCap falls back to the IPO price until then.
type MarketDataView struct {
	Ticker    string
	Name      string
	LastPrice *math.LegacyDec
	Open24h   *math.LegacyDec
	High24h   *math.LegacyDec
	Low24h    *math.LegacyDec
	Volume24h int64
	ChangePct *math.LegacyDec
	MarketCap *math.LegacyDec
	BestBid   *math.LegacyDec
	BestAsk   *math.LegacyDec
}

// MarketData builds the snapshot for one ticker.
func (s *Service) MarketData(ticker string) (*MarketDataView, error) {
	company, err := s.Company(ticker)
	if err != nil {
		return nil, err
	}
	return s.marketDataFor(company, time.Now().UTC()), nil
}

// MarketDataAll builds snapshots for every listed company.
func (s *Service) MarketDataAll() ([]*MarketDataView, error) {
	companies, err := s.store.ListCompanies()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	out := make([]*MarketDataView, 0, len(companies))
	for _, c := range companies {
		out = append(out, s.marketDataFor(c, now))
	}
	return out, nil
}

func (s *Service) marketDataFor(c *types.Company, now time.Time) *MarketDataView {
	stats := s.index.Stats24h(c.Ticker, now)
	view := &MarketDataView{
		Ticker:    c.Ticker,
		Name:      c.Name,
		LastPrice: stats.LastPrice,
		Open24h:   stats.Open,
		High24h:   stats.High,
		Low24h:    stats.Low,
		Volume24h: stats.Volume,
	}
	if stats.LastPrice != nil && stats.Open != nil && stats.Open.IsPositive() {
		pct := stats.LastPrice.Sub(*stats.Open).Quo(*stats.Open).MulInt64(100)
		view.ChangePct = &pct
	}

	mark := stats.LastPrice
	if mark == nil && c.IPOPrice.IsPositive() {
		p := c.IPOPrice
		mark = &p
	}
	if mark != nil {
		cap := mark.MulInt64(c.TotalShares)
		view.MarketCap = &cap
	}

	if st := s.ticker(c.Ticker); st != nil {
		if best := st.book.Best(types.SideBuy); best != nil {
			p := best.Price
			view.BestBid = &p
		}
		if best := st.book.Best(types.SideSell); best != nil {
			p := best.Price
			view.BestAsk = &p
		}
	}
	return view
}
