// Package strategy defines the decision interface agents run against, the
// market snapshot it consumes and the registry of available strategies.
package strategy

import (
	"cosmossdk.io/math"
)

// ActionType is what an action does.
type ActionType string

const (
	ActionBuy          ActionType = "buy"
	ActionSell         ActionType = "sell"
	ActionCancelOrders ActionType = "cancel_orders"
)

// Action is one instruction produced by a strategy. Price is nil for
// market orders; Quantity is ignored for cancel_orders.
type Action struct {
	Type     ActionType
	Ticker   string
	Quantity int64
	Price    *math.LegacyDec
}

// TickerSnapshot is the per-ticker slice of a MarketContext.
type TickerSnapshot struct {
	Ticker       string
	LastPrice    *math.LegacyDec
	BestBid      *math.LegacyDec
	BestAsk      *math.LegacyDec
	RecentPrices []math.LegacyDec // newest first, bounded window
	MyHoldings   int64
	MyOpenOrders int
}

// MarketContext is the snapshot a single tick decides against. It is
// assembled by the runtime from exchange reads before evaluation; Decide
// must not perform I/O.
type MarketContext struct {
	Cash    math.LegacyDec
	Tickers map[string]*TickerSnapshot
}

// Snapshot returns the snapshot for a ticker, or nil.
func (mc *MarketContext) Snapshot(ticker string) *TickerSnapshot {
	return mc.Tickers[ticker]
}

// Strategy turns a market snapshot into zero or more actions.
type Strategy interface {
	// Decide evaluates the snapshot. Returned actions execute in order.
	Decide(mc *MarketContext) []Action

	// Reset clears internal pacing state (cooldowns, RNG position is
	// left alone). Called when an agent's strategy is edited.
	Reset()
}
