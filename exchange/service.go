// Package exchange wires the store, the per-ticker books and the matching
// engine into the service consumed by the HTTP surface. All mutations of a
// ticker's book and related rows are serialized by that ticker's lock;
// different tickers trade in parallel. Reads are served from the latest
// committed state and never block submits.
package exchange

import (
	"sync"
	"time"

	"cosmossdk.io/log"
	"cosmossdk.io/math"
	"github.com/google/uuid"

	"github.com/openalpha/stockex/exchange/book"
	"github.com/openalpha/stockex/exchange/engine"
	"github.com/openalpha/stockex/exchange/market"
	"github.com/openalpha/stockex/exchange/store"
	"github.com/openalpha/stockex/exchange/types"
	"github.com/openalpha/stockex/metrics"
)

// TreasuryAccountID is the synthetic exchange-owned account that holds each
// company's unfloated shares and sells the float at IPO.
const TreasuryAccountID = "treasury"

// TradeSink receives executed trades and quote updates, e.g. the websocket
// feed. Publish calls happen after commit, outside the ticker lock.
type TradeSink interface {
	PublishTrade(t *types.Trade)
	PublishQuote(ticker string, bid, ask []book.Level)
}

// tickerState is everything owned by one ticker's write lock.
type tickerState struct {
	lock     sync.Mutex
	book     *book.Book
	orderSeq uint64
	tradeSeq uint64
	lastTS   time.Time
}

// Service owns all market state of the exchange process.
type Service struct {
	store   *store.Store
	engine  *engine.Engine
	index   *market.Index
	logger  log.Logger
	metrics *metrics.Collector
	sink    TradeSink

	mu      sync.RWMutex
	tickers map[string]*tickerState
}

// NewService creates the exchange service. Call Rebuild before serving.
func NewService(st *store.Store, logger log.Logger, sink TradeSink) *Service {
	return &Service{
		store:   st,
		engine:  engine.New(logger),
		index:   market.NewIndex(),
		logger:  logger.With("module", "exchange"),
		metrics: metrics.GetCollector(),
		sink:    sink,
		tickers: make(map[string]*tickerState),
	}
}

// ticker returns the state for a known ticker, or nil.
func (s *Service) ticker(t string) *tickerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tickers[t]
}

func (s *Service) addTicker(t string) *tickerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.tickers[t]; ok {
		return st
	}
	st := &tickerState{book: book.New(t)}
	s.tickers[t] = st
	return st
}

// Rebuild reconstructs every in-memory index from the store: the order
// books from the open-order scan and the trade index from the trade log.
func (s *Service) Rebuild() error {
	companies, err := s.store.ListCompanies()
	if err != nil {
		return err
	}
	for _, c := range companies {
		st := s.addTicker(c.Ticker)
		st.lock.Lock()
		if err := s.rebuildTickerLocked(st, c.Ticker); err != nil {
			st.lock.Unlock()
			return err
		}
		st.lock.Unlock()
	}
	s.logger.Info("state rebuilt", "tickers", len(companies))
	return nil
}

// rebuildTickerLocked restores one ticker's book, trade index and sequence
// counters from the store. Caller holds the ticker lock.
func (s *Service) rebuildTickerLocked(st *tickerState, ticker string) error {
	open, err := s.store.OpenOrders(ticker)
	if err != nil {
		return err
	}
	st.book.Rebuild(open)
	for _, o := range open {
		if o.Seq > st.orderSeq {
			st.orderSeq = o.Seq
		}
	}

	last, err := s.store.LastTradeSeq(ticker)
	if err != nil {
		return err
	}
	st.tradeSeq = last

	var trades []*types.Trade
	if err := s.store.Trades(ticker, func(t *types.Trade) bool {
		trades = append(trades, t)
		return true
	}); err != nil {
		return err
	}
	s.index.Rebuild(ticker, trades)
	return nil
}

// OrderParams are the validated inputs of a submit.
type OrderParams struct {
	Ticker   string
	Side     types.Side
	Type     types.OrderType
	Price    math.LegacyDec // ignored for market orders
	Quantity int64
}

// SubmitOrder validates, matches and settles a new order synchronously and
// returns its final (or resting) state together with any fills.
func (s *Service) SubmitOrder(accountID string, p OrderParams) (*engine.Result, error) {
	if p.Quantity <= 0 {
		return nil, types.ErrInvalidParameters.Wrap("quantity must be positive")
	}
	if !types.ValidTicker(p.Ticker) {
		return nil, types.ErrInvalidParameters.Wrapf("malformed ticker %q", p.Ticker)
	}
	price := math.LegacyZeroDec()
	if p.Type == types.OrderTypeLimit {
		if p.Price.IsNil() || !p.Price.IsPositive() {
			return nil, types.ErrInvalidParameters.Wrap("limit orders require a positive price")
		}
		price = p.Price
	}

	st := s.ticker(p.Ticker)
	if st == nil {
		return nil, types.ErrNotFound.Wrapf("unknown ticker %s", p.Ticker)
	}

	st.lock.Lock()
	defer st.lock.Unlock()

	order := types.NewOrder(uuid.NewString(), accountID, p.Ticker, p.Side, p.Type, price, p.Quantity)
	st.orderSeq++
	order.Seq = st.orderSeq
	if order.Timestamp.Before(st.lastTS) {
		order.Timestamp = st.lastTS
	}
	st.lastTS = order.Timestamp

	tx := s.store.Begin()
	res, err := s.engine.Submit(tx, st.book, order, func() uint64 {
		st.tradeSeq++
		return st.tradeSeq
	})
	if err != nil {
		tx.Discard()
		// Pre-walk rejections leave the book untouched; anything else may
		// have applied fills to it before failing, so restore it from the
		// committed store state.
		if (res != nil && len(res.Fills) > 0) || !submitRejection(err) {
			s.logger.Error("submit failed, restoring book", "ticker", p.Ticker, "err", err)
			if rerr := s.rebuildTickerLocked(st, p.Ticker); rerr != nil {
				s.logger.Error("book restore failed", "ticker", p.Ticker, "err", rerr)
			}
		}
		s.metrics.OrdersRejected.WithLabelValues(rejectReason(err)).Inc()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		s.logger.Error("commit failed", "ticker", p.Ticker, "err", err)
		if rerr := s.rebuildTickerLocked(st, p.Ticker); rerr != nil {
			s.logger.Error("book restore failed", "ticker", p.Ticker, "err", rerr)
		}
		return nil, types.ErrInternal.Wrap("store commit failed")
	}

	s.afterSubmit(st, res)
	return res, nil
}

// afterSubmit publishes fills to the trade index, metrics and the feed.
// Caller still holds the ticker lock, so index order matches trade order.
func (s *Service) afterSubmit(st *tickerState, res *engine.Result) {
	o := res.Order
	s.metrics.OrdersPlaced.WithLabelValues(o.Ticker, string(o.Side), string(o.Type)).Inc()
	for _, t := range res.Fills {
		s.index.Append(t)
		s.metrics.TradesTotal.WithLabelValues(t.Ticker).Inc()
		s.metrics.TradeVolume.WithLabelValues(t.Ticker).Add(float64(t.Quantity))
		notional, _ := t.Notional().Float64()
		s.metrics.TradeNotional.WithLabelValues(t.Ticker).Add(notional)
	}
	s.metrics.BookDepth.WithLabelValues(o.Ticker, string(types.SideBuy)).
		Set(float64(len(st.book.Entries(types.SideBuy))))
	s.metrics.BookDepth.WithLabelValues(o.Ticker, string(types.SideSell)).
		Set(float64(len(st.book.Entries(types.SideSell))))

	if s.sink != nil {
		for _, t := range res.Fills {
			s.sink.PublishTrade(t)
		}
		if len(res.Fills) > 0 || st.book.Contains(o.ID) {
			s.sink.PublishQuote(o.Ticker,
				st.book.AggregateLevels(types.SideBuy, 1),
				st.book.AggregateLevels(types.SideSell, 1))
		}
	}
}

// CancelOrder transitions an order to CANCELLED iff it is still active and
// owned by the caller. Cancelling a terminal order is a conflict, not a
// missing resource.
func (s *Service) CancelOrder(accountID, orderID string) (*types.Order, error) {
	order, err := s.store.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, types.ErrNotFound.Wrapf("order %s", orderID)
	}
	if order.AccountID != accountID {
		return nil, types.ErrForbidden.Wrap("order belongs to another account")
	}

	st := s.ticker(order.Ticker)
	if st == nil {
		return nil, types.ErrInternal.Wrapf("no state for ticker %s", order.Ticker)
	}
	st.lock.Lock()
	defer st.lock.Unlock()

	tx := s.store.Begin()
	order, err = tx.GetOrder(orderID)
	if err != nil {
		tx.Discard()
		return nil, err
	}
	if order == nil || !order.IsActive() {
		tx.Discard()
		return nil, types.ErrConflict.Wrapf("order %s is not open", orderID)
	}
	order.Status = types.OrderStatusCancelled
	if err := tx.PutOrder(order); err != nil {
		tx.Discard()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, types.ErrInternal.Wrap("store commit failed")
	}
	st.book.Remove(orderID)
	s.metrics.OrdersCancelled.WithLabelValues(order.Ticker).Inc()
	s.logger.Info("order cancelled", "order_id", orderID, "ticker", order.Ticker)
	return order, nil
}

// GetOrder returns one of the caller's orders.
func (s *Service) GetOrder(accountID, orderID string) (*types.Order, error) {
	order, err := s.store.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, types.ErrNotFound.Wrapf("order %s", orderID)
	}
	if order.AccountID != accountID {
		return nil, types.ErrForbidden.Wrap("order belongs to another account")
	}
	return order, nil
}

// ListOrders returns the caller's orders, newest first, optionally filtered
// by status and ticker.
func (s *Service) ListOrders(accountID string, status types.OrderStatus, ticker string) ([]*types.Order, error) {
	orders, err := s.store.ListAccountOrders(accountID)
	if err != nil {
		return nil, err
	}
	out := orders[:0]
	for _, o := range orders {
		if status != "" && o.Status != status {
			continue
		}
		if ticker != "" && o.Ticker != ticker {
			continue
		}
		out = append(out, o)
	}
	sortOrdersDesc(out)
	return out, nil
}

func sortOrdersDesc(orders []*types.Order) {
	// Newest first; sequence breaks same-timestamp ties.
	for i := 1; i < len(orders); i++ {
		for j := i; j > 0; j-- {
			a, b := orders[j-1], orders[j]
			older := a.Timestamp.Before(b.Timestamp) || (a.Timestamp.Equal(b.Timestamp) && a.Seq < b.Seq)
			if !older {
				break
			}
			orders[j-1], orders[j] = orders[j], orders[j-1]
		}
	}
}

// submitRejection reports errors the engine raises before matching touches
// the book: prechecks and the first-fill affordability check.
func submitRejection(err error) bool {
	return types.ErrInsufficientFunds.Is(err) ||
		types.ErrInsufficientShares.Is(err) ||
		types.ErrInvalidParameters.Is(err) ||
		types.ErrNotFound.Is(err)
}

func rejectReason(err error) string {
	switch {
	case types.ErrInsufficientFunds.Is(err):
		return "insufficient_funds"
	case types.ErrInsufficientShares.Is(err):
		return "insufficient_shares"
	case types.ErrInvalidParameters.Is(err):
		return "invalid_parameters"
	case types.ErrNotFound.Is(err):
		return "not_found"
	case types.ErrSettlementFailed.Is(err):
		return "settlement_failed"
	default:
		return "internal"
	}
}
