package runtime

import (
	"context"
	"fmt"
	"time"

	"cosmossdk.io/log"
	"cosmossdk.io/math"

	"github.com/openalpha/stockex/agent/client"
	"github.com/openalpha/stockex/agent/strategy"
	"github.com/openalpha/stockex/agent/types"
	"github.com/openalpha/stockex/metrics"
)

const (
	tickTimeout        = 30 * time.Second
	maxConsecutiveErrs = 10
	priceWindow        = 20
)

// exchangeClient is the slice of client.Client the runner needs; tests
// substitute a fake.
type exchangeClient interface {
	Companies(ctx context.Context) ([]string, error)
	MarketData(ctx context.Context, ticker string) (*client.MarketData, error)
	RecentTrades(ctx context.Context, ticker string, limit int) ([]client.Trade, error)
	Account(ctx context.Context) (*client.Account, error)
	OpenOrders(ctx context.Context, ticker string) ([]client.Order, error)
	PlaceOrder(ctx context.Context, req *client.PlaceOrderRequest) (*client.PlaceOrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// runner drives one running agent: a ticker loop that snapshots the market,
// asks the strategy for actions and executes them. Ticks never overlap; a
// tick that outlives the interval is logged and delays the next one.
type runner struct {
	agentID  string
	interval time.Duration
	strat    strategy.Strategy
	exch     exchangeClient
	logger   log.Logger
	onResult func(agentID string, res tickResult)

	cancel context.CancelFunc
	done   chan struct{}
}

// tickResult is what one tick reports back to the manager.
type tickResult struct {
	err    error
	trades int64
}

func newRunner(agent *types.Agent, strat strategy.Strategy, exch exchangeClient,
	logger log.Logger, onResult func(string, tickResult)) *runner {
	return &runner{
		agentID:  agent.ID,
		interval: time.Duration(agent.IntervalSeconds) * time.Second,
		strat:    strat,
		exch:     exch,
		logger:   logger.With("agent", agent.ID),
		onResult: onResult,
		done:     make(chan struct{}),
	}
}

func (r *runner) start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.loop(ctx)
}

// stop signals the loop and waits for the in-flight tick to finish.
func (r *runner) stop() {
	r.cancel()
	<-r.done
}

func (r *runner) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res := r.tick(ctx)
			if ctx.Err() != nil {
				return
			}
			r.onResult(r.agentID, res)
		}
	}
}

// tick runs one evaluation under the tick deadline.
func (r *runner) tick(parent context.Context) tickResult {
	start := time.Now()
	defer func() {
		if elapsed := time.Since(start); elapsed > r.interval {
			r.logger.Warn("tick exceeded interval",
				"elapsed", elapsed, "interval", r.interval)
		}
	}()

	ctx, cancel := context.WithTimeout(parent, tickTimeout)
	defer cancel()

	metrics.GetCollector().AgentTicksTotal.WithLabelValues(r.agentID).Inc()

	mc, err := r.snapshot(ctx)
	if err != nil {
		metrics.GetCollector().AgentTickErrors.WithLabelValues(r.agentID).Inc()
		r.logger.Error("tick snapshot failed", "err", err)
		return tickResult{err: err}
	}

	actions := r.strat.Decide(mc)
	var trades int64
	var tickErr error
	for _, act := range actions {
		n, err := r.execute(ctx, act)
		trades += n
		if err == nil {
			continue
		}
		// Rejections (insufficient funds, unknown ticker) are normal
		// strategy outcomes; only exchange-side failures fail the tick.
		if apiErr, ok := err.(*client.APIError); ok && apiErr.StatusCode < 500 {
			r.logger.Info("action rejected", "action", act.Type, "ticker", act.Ticker, "err", err)
			continue
		}
		r.logger.Error("action failed", "action", act.Type, "ticker", act.Ticker, "err", err)
		tickErr = err
	}
	if tickErr != nil {
		metrics.GetCollector().AgentTickErrors.WithLabelValues(r.agentID).Inc()
	}
	return tickResult{err: tickErr, trades: trades}
}

// snapshot assembles the market context the strategy decides against.
func (r *runner) snapshot(ctx context.Context) (*strategy.MarketContext, error) {
	acct, err := r.exch.Account(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch account: %w", err)
	}
	tickers, err := r.exch.Companies(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch companies: %w", err)
	}
	open, err := r.exch.OpenOrders(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("fetch open orders: %w", err)
	}

	holdings := make(map[string]int64, len(acct.Holdings))
	for _, h := range acct.Holdings {
		holdings[h.Ticker] = h.Quantity
	}
	openByTicker := make(map[string]int)
	for _, o := range open {
		openByTicker[o.Ticker]++
	}

	mc := &strategy.MarketContext{
		Cash:    acct.CashBalance,
		Tickers: make(map[string]*strategy.TickerSnapshot, len(tickers)),
	}
	for _, t := range tickers {
		md, err := r.exch.MarketData(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("fetch market data %s: %w", t, err)
		}
		recent, err := r.exch.RecentTrades(ctx, t, priceWindow)
		if err != nil {
			return nil, fmt.Errorf("fetch trades %s: %w", t, err)
		}
		prices := make([]math.LegacyDec, 0, len(recent))
		for _, tr := range recent {
			prices = append(prices, tr.Price)
		}
		mc.Tickers[t] = &strategy.TickerSnapshot{
			Ticker:       t,
			LastPrice:    md.LastPrice,
			BestBid:      md.BestBid,
			BestAsk:      md.BestAsk,
			RecentPrices: prices,
			MyHoldings:   holdings[t],
			MyOpenOrders: openByTicker[t],
		}
	}
	return mc, nil
}

// execute submits one action and returns the number of immediate fills.
func (r *runner) execute(ctx context.Context, act strategy.Action) (int64, error) {
	metrics.GetCollector().AgentActions.WithLabelValues(r.agentID, string(act.Type)).Inc()

	switch act.Type {
	case strategy.ActionCancelOrders:
		open, err := r.exch.OpenOrders(ctx, act.Ticker)
		if err != nil {
			return 0, err
		}
		for _, o := range open {
			if err := r.exch.CancelOrder(ctx, o.ID); err != nil && !client.IsNotFound(err) {
				return 0, err
			}
		}
		return 0, nil

	case strategy.ActionBuy, strategy.ActionSell:
		req := &client.PlaceOrderRequest{
			Ticker:   act.Ticker,
			Side:     "BUY",
			Type:     "MARKET",
			Quantity: act.Quantity,
		}
		if act.Type == strategy.ActionSell {
			req.Side = "SELL"
		}
		if act.Price != nil {
			req.Type = "LIMIT"
			req.Price = act.Price.String()
		}
		result, err := r.exch.PlaceOrder(ctx, req)
		if err != nil {
			return 0, err
		}
		return int64(len(result.Trades)), nil

	default:
		return 0, fmt.Errorf("unknown action type %q", act.Type)
	}
}
