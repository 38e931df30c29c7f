// Package market keeps a time-ordered in-memory index of recent trades per
// ticker, backing the public market-data endpoints. Like the order book it
// is a rebuildable cache over the store's append-only trade log.
package market

import (
	"sync"
	"time"

	"cosmossdk.io/math"
	"github.com/huandu/skiplist"

	"github.com/openalpha/stockex/exchange/types"
)

// maxTradesPerTicker bounds index memory; older trades stay in the store.
const maxTradesPerTicker = 10000

// Stats summarizes 24h trading activity for a ticker.
type Stats struct {
	LastPrice *math.LegacyDec
	Open      *math.LegacyDec
	High      *math.LegacyDec
	Low       *math.LegacyDec
	Volume    int64
}

// Index holds per-ticker trade histories ordered by sequence.
type Index struct {
	mu      sync.RWMutex
	tickers map[string]*skiplist.SkipList
}

// NewIndex creates an empty trade index.
func NewIndex() *Index {
	return &Index{tickers: make(map[string]*skiplist.SkipList)}
}

func (ix *Index) list(ticker string) *skiplist.SkipList {
	if l, ok := ix.tickers[ticker]; ok {
		return l
	}
	l := skiplist.New(skiplist.Uint64)
	ix.tickers[ticker] = l
	return l
}

// Append records an executed trade.
func (ix *Index) Append(t *types.Trade) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	l := ix.list(t.Ticker)
	l.Set(t.Seq, t)
	for l.Len() > maxTradesPerTicker {
		l.RemoveFront()
	}
}

// LastPrice returns the most recent trade price, or nil if never traded.
func (ix *Index) LastPrice(ticker string) *math.LegacyDec {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	l, ok := ix.tickers[ticker]
	if !ok {
		return nil
	}
	back := l.Back()
	if back == nil {
		return nil
	}
	p := back.Value.(*types.Trade).Price
	return &p
}

// Recent returns up to limit trades newest first, optionally bounded to
// trades strictly after since.
func (ix *Index) Recent(ticker string, limit int, since *time.Time) []*types.Trade {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	l, ok := ix.tickers[ticker]
	if !ok {
		return nil
	}
	out := make([]*types.Trade, 0, limit)
	for el := l.Back(); el != nil && len(out) < limit; el = el.Prev() {
		t := el.Value.(*types.Trade)
		if since != nil && !t.Timestamp.After(*since) {
			break // timestamps are non-decreasing per ticker
		}
		out = append(out, t)
	}
	return out
}

// Stats24h computes last price, 24h open/high/low and volume.
func (ix *Index) Stats24h(ticker string, now time.Time) Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var st Stats
	l, ok := ix.tickers[ticker]
	if !ok {
		return st
	}
	cutoff := now.Add(-24 * time.Hour)
	for el := l.Back(); el != nil; el = el.Prev() {
		t := el.Value.(*types.Trade)
		if st.LastPrice == nil {
			p := t.Price
			st.LastPrice = &p
		}
		if t.Timestamp.Before(cutoff) {
			break
		}
		p := t.Price
		st.Open = &p // oldest in-window trade seen so far
		if st.High == nil || t.Price.GT(*st.High) {
			st.High = &p
		}
		if st.Low == nil || t.Price.LT(*st.Low) {
			st.Low = &p
		}
		st.Volume += t.Quantity
	}
	return st
}

// Rebuild reloads one ticker's history from an ascending trade scan.
func (ix *Index) Rebuild(ticker string, trades []*types.Trade) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	l := skiplist.New(skiplist.Uint64)
	for _, t := range trades {
		l.Set(t.Seq, t)
	}
	for l.Len() > maxTradesPerTicker {
		l.RemoveFront()
	}
	ix.tickers[ticker] = l
}
