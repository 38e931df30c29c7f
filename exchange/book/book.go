// Package book keeps the in-memory price-level index for one ticker: bids
// descending, asks ascending, FIFO within a level. It is a derived cache of
// the persistent store and is rebuilt from it on startup.
package book

import (
	"sort"
	"sync"
	"time"

	"cosmossdk.io/math"
	"github.com/google/btree"

	"github.com/openalpha/stockex/exchange/types"
)

const btreeDegree = 32

// Entry is a resting order as the book sees it.
type Entry struct {
	OrderID   string
	AccountID string
	Price     math.LegacyDec
	Remaining int64
	Seq       uint64
	Timestamp time.Time
}

// Level is an aggregated price level for market-data responses.
type Level struct {
	Price    math.LegacyDec
	Quantity int64
}

// priceLevel holds the FIFO queue of entries resting at one price.
type priceLevel struct {
	price    math.LegacyDec
	entries  []*Entry
	quantity int64
}

func (pl *priceLevel) add(e *Entry) {
	pl.entries = append(pl.entries, e)
	pl.quantity += e.Remaining
}

func (pl *priceLevel) remove(orderID string) *Entry {
	for i, e := range pl.entries {
		if e.OrderID == orderID {
			pl.entries = append(pl.entries[:i], pl.entries[i+1:]...)
			pl.quantity -= e.Remaining
			return e
		}
	}
	return nil
}

type levelItem struct {
	price math.LegacyDec
	level *priceLevel
}

func (a *levelItem) Less(b btree.Item) bool {
	return a.price.LT(b.(*levelItem).price)
}

// side is one half of the book; desc is true for bids.
type side struct {
	tree *btree.BTree
	desc bool
}

func newSide(desc bool) *side {
	return &side{tree: btree.New(btreeDegree), desc: desc}
}

func (s *side) get(price math.LegacyDec) *priceLevel {
	item := s.tree.Get(&levelItem{price: price})
	if item == nil {
		return nil
	}
	return item.(*levelItem).level
}

func (s *side) getOrCreate(price math.LegacyDec) *priceLevel {
	if level := s.get(price); level != nil {
		return level
	}
	level := &priceLevel{price: price}
	s.tree.ReplaceOrInsert(&levelItem{price: price, level: level})
	return level
}

func (s *side) removeLevel(price math.LegacyDec) {
	s.tree.Delete(&levelItem{price: price})
}

// best returns the top price level: highest bid or lowest ask.
func (s *side) best() *priceLevel {
	var item btree.Item
	if s.desc {
		item = s.tree.Max()
	} else {
		item = s.tree.Min()
	}
	if item == nil {
		return nil
	}
	return item.(*levelItem).level
}

func (s *side) iterate(fn func(*priceLevel) bool) {
	wrapped := func(item btree.Item) bool {
		return fn(item.(*levelItem).level)
	}
	if s.desc {
		s.tree.Descend(wrapped)
	} else {
		s.tree.Ascend(wrapped)
	}
}

// ref locates a resting order for O(log n) cancel and reduce.
type ref struct {
	side  types.Side
	price math.LegacyDec
}

// Book is the two-sided index for a single ticker.
type Book struct {
	ticker string
	bids   *side
	asks   *side
	byID   map[string]ref
	mu     sync.RWMutex
}

// New creates an empty book for a ticker.
func New(ticker string) *Book {
	return &Book{
		ticker: ticker,
		bids:   newSide(true),
		asks:   newSide(false),
		byID:   make(map[string]ref),
	}
}

// Ticker returns the ticker this book indexes.
func (b *Book) Ticker() string { return b.ticker }

func (b *Book) sideOf(s types.Side) *side {
	if s == types.SideBuy {
		return b.bids
	}
	return b.asks
}

// Insert adds a resting order.
func (b *Book) Insert(s types.Side, e *Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sideOf(s).getOrCreate(e.Price).add(e)
	b.byID[e.OrderID] = ref{side: s, price: e.Price}
}

// Best returns the first entry in FIFO order at the best price for a side,
// or nil when that side is empty.
func (b *Book) Best(s types.Side) *Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	level := b.sideOf(s).best()
	if level == nil || len(level.entries) == 0 {
		return nil
	}
	return level.entries[0]
}

// Remove deletes an order from the book, dropping its level if emptied.
// Returns false when the order is not resident.
func (b *Book) Remove(orderID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(orderID)
}

func (b *Book) removeLocked(orderID string) bool {
	r, ok := b.byID[orderID]
	if !ok {
		return false
	}
	delete(b.byID, orderID)

	bookSide := b.sideOf(r.side)
	level := bookSide.get(r.price)
	if level == nil {
		return false
	}
	removed := level.remove(orderID) != nil
	if len(level.entries) == 0 {
		bookSide.removeLevel(level.price)
	}
	return removed
}

// Reduce shrinks a resting order's remaining quantity after a partial fill,
// removing it entirely when it reaches zero.
func (b *Book) Reduce(orderID string, by int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.byID[orderID]
	if !ok {
		return
	}
	bookSide := b.sideOf(r.side)
	level := bookSide.get(r.price)
	if level == nil {
		return
	}
	for _, e := range level.entries {
		if e.OrderID != orderID {
			continue
		}
		e.Remaining -= by
		level.quantity -= by
		if e.Remaining <= 0 {
			level.remove(orderID)
			delete(b.byID, orderID)
			if len(level.entries) == 0 {
				bookSide.removeLevel(level.price)
			}
		}
		return
	}
}

// Contains reports whether an order currently rests in the book.
func (b *Book) Contains(orderID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.byID[orderID]
	return ok
}

// Len returns the number of resting orders across both sides.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byID)
}

// AggregateLevels returns the top depth price levels with summed quantities,
// best first, for public market data.
func (b *Book) AggregateLevels(s types.Side, depth int) []Level {
	b.mu.RLock()
	defer b.mu.RUnlock()

	levels := make([]Level, 0, depth)
	b.sideOf(s).iterate(func(level *priceLevel) bool {
		if len(levels) >= depth {
			return false
		}
		levels = append(levels, Level{Price: level.price, Quantity: level.quantity})
		return true
	})
	return levels
}

// Entries returns every resting entry on a side in price-time order. Used by
// the admin non-aggregated book view.
func (b *Book) Entries(s types.Side) []*Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*Entry
	b.sideOf(s).iterate(func(level *priceLevel) bool {
		out = append(out, level.entries...)
		return true
	})
	return out
}

// Rebuild replaces the book contents from a store scan of OPEN/PARTIAL
// orders. FIFO position within a level is restored from arrival sequence.
func (b *Book) Rebuild(orders []*types.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids = newSide(true)
	b.asks = newSide(false)
	b.byID = make(map[string]ref)

	sorted := make([]*types.Order, len(orders))
	copy(sorted, orders)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].Seq < sorted[j].Seq
	})

	for _, o := range sorted {
		if !o.IsActive() {
			continue
		}
		b.sideOf(o.Side).getOrCreate(o.Price).add(&Entry{
			OrderID:   o.ID,
			AccountID: o.AccountID,
			Price:     o.Price,
			Remaining: o.Remaining,
			Seq:       o.Seq,
			Timestamp: o.Timestamp,
		})
		b.byID[o.ID] = ref{side: o.Side, price: o.Price}
	}
}
