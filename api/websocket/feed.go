package websocket

import (
	"github.com/openalpha/stockex/api/types"
	"github.com/openalpha/stockex/exchange/book"
	exchtypes "github.com/openalpha/stockex/exchange/types"
)

// Feed adapts the hub to the exchange's trade sink: trades go out
// immediately, quotes are coalesced by the hub.
type Feed struct {
	hub *Hub
}

// NewFeed wraps a hub as a trade sink.
func NewFeed(hub *Hub) *Feed {
	return &Feed{hub: hub}
}

// Hub exposes the underlying hub for server wiring.
func (f *Feed) Hub() *Hub { return f.hub }

// PublishTrade pushes an executed trade to its ticker channel.
func (f *Feed) PublishTrade(t *exchtypes.Trade) {
	f.hub.BroadcastTrade(&TradeMessage{
		TradeID:   t.ID,
		Ticker:    t.Ticker,
		Price:     types.FormatDec(t.Price),
		Quantity:  t.Quantity,
		Timestamp: t.Timestamp.UnixMilli(),
	})
}

// PublishQuote buffers the new top-of-book for a ticker.
func (f *Feed) PublishQuote(ticker string, bid, ask []book.Level) {
	quote := &QuoteMessage{Ticker: ticker, Timestamp: nowMilli()}
	if len(bid) > 0 {
		quote.BidPrice = types.FormatDec(bid[0].Price)
		quote.BidQty = bid[0].Quantity
	}
	if len(ask) > 0 {
		quote.AskPrice = types.FormatDec(ask[0].Price)
		quote.AskQty = ask[0].Quantity
	}
	f.hub.UpdateQuote(quote)
}
