package book

import (
	"testing"
	"time"

	"cosmossdk.io/math"

	"github.com/openalpha/stockex/exchange/types"
)

func dec(s string) math.LegacyDec {
	return math.LegacyMustNewDecFromStr(s)
}

func entry(id string, price string, qty int64, seq uint64) *Entry {
	return &Entry{
		OrderID:   id,
		AccountID: "acct-" + id,
		Price:     dec(price),
		Remaining: qty,
		Seq:       seq,
		Timestamp: time.Now().UTC(),
	}
}

func TestBestBidIsHighestPrice(t *testing.T) {
	b := New("ACME")
	b.Insert(types.SideBuy, entry("a", "10.00", 5, 1))
	b.Insert(types.SideBuy, entry("b", "10.50", 5, 2))
	b.Insert(types.SideBuy, entry("c", "9.75", 5, 3))

	best := b.Best(types.SideBuy)
	if best == nil || best.OrderID != "b" {
		t.Fatalf("expected best bid b at 10.50, got %+v", best)
	}
}

func TestBestAskIsLowestPrice(t *testing.T) {
	b := New("ACME")
	b.Insert(types.SideSell, entry("a", "11.00", 5, 1))
	b.Insert(types.SideSell, entry("b", "10.25", 5, 2))
	b.Insert(types.SideSell, entry("c", "12.00", 5, 3))

	best := b.Best(types.SideSell)
	if best == nil || best.OrderID != "b" {
		t.Fatalf("expected best ask b at 10.25, got %+v", best)
	}
}

func TestFIFOWithinLevel(t *testing.T) {
	b := New("ACME")
	b.Insert(types.SideBuy, entry("first", "10.00", 5, 1))
	b.Insert(types.SideBuy, entry("second", "10.00", 5, 2))

	if best := b.Best(types.SideBuy); best.OrderID != "first" {
		t.Fatalf("expected first in FIFO order, got %s", best.OrderID)
	}
	b.Remove("first")
	if best := b.Best(types.SideBuy); best.OrderID != "second" {
		t.Fatalf("expected second after removal, got %s", best.OrderID)
	}
}

func TestRemoveDropsEmptyLevel(t *testing.T) {
	b := New("ACME")
	b.Insert(types.SideSell, entry("only", "10.00", 5, 1))

	if !b.Remove("only") {
		t.Fatal("remove of resident order returned false")
	}
	if b.Remove("only") {
		t.Fatal("second remove should return false")
	}
	if b.Best(types.SideSell) != nil {
		t.Fatal("expected empty ask side")
	}
	if b.Len() != 0 {
		t.Fatalf("expected empty book, len=%d", b.Len())
	}
}

func TestReduce(t *testing.T) {
	b := New("ACME")
	b.Insert(types.SideBuy, entry("a", "10.00", 10, 1))

	b.Reduce("a", 4)
	if best := b.Best(types.SideBuy); best.Remaining != 6 {
		t.Fatalf("expected remaining 6, got %d", best.Remaining)
	}

	b.Reduce("a", 6)
	if b.Contains("a") {
		t.Fatal("fully reduced order should leave the book")
	}
}

func TestAggregateLevels(t *testing.T) {
	b := New("ACME")
	b.Insert(types.SideBuy, entry("a", "10.00", 5, 1))
	b.Insert(types.SideBuy, entry("b", "10.00", 3, 2))
	b.Insert(types.SideBuy, entry("c", "9.50", 7, 3))

	levels := b.AggregateLevels(types.SideBuy, 10)
	if len(levels) != 2 {
		t.Fatalf("expected 2 levels, got %d", len(levels))
	}
	if !levels[0].Price.Equal(dec("10.00")) || levels[0].Quantity != 8 {
		t.Fatalf("bad top level: %+v", levels[0])
	}
	if !levels[1].Price.Equal(dec("9.50")) || levels[1].Quantity != 7 {
		t.Fatalf("bad second level: %+v", levels[1])
	}

	if got := b.AggregateLevels(types.SideBuy, 1); len(got) != 1 {
		t.Fatalf("depth 1 should return 1 level, got %d", len(got))
	}
}

func TestRebuildRestoresPriceTimeOrder(t *testing.T) {
	base := time.Now().UTC()
	orders := []*types.Order{
		{ID: "late", Ticker: "ACME", Side: types.SideBuy, Status: types.OrderStatusOpen,
			Price: dec("10.00"), Remaining: 5, Seq: 3, Timestamp: base.Add(2 * time.Second)},
		{ID: "early", Ticker: "ACME", Side: types.SideBuy, Status: types.OrderStatusOpen,
			Price: dec("10.00"), Remaining: 5, Seq: 1, Timestamp: base},
		{ID: "done", Ticker: "ACME", Side: types.SideBuy, Status: types.OrderStatusFilled,
			Price: dec("10.00"), Remaining: 0, Seq: 2, Timestamp: base.Add(time.Second)},
	}

	b := New("ACME")
	b.Rebuild(orders)

	if b.Len() != 2 {
		t.Fatalf("filled order should be skipped, len=%d", b.Len())
	}
	if best := b.Best(types.SideBuy); best.OrderID != "early" {
		t.Fatalf("expected early first after rebuild, got %s", best.OrderID)
	}
}

func TestEntriesPriceTimeOrder(t *testing.T) {
	b := New("ACME")
	b.Insert(types.SideSell, entry("a", "11.00", 5, 1))
	b.Insert(types.SideSell, entry("b", "10.00", 5, 2))
	b.Insert(types.SideSell, entry("c", "10.00", 5, 3))

	got := b.Entries(types.SideSell)
	want := []string{"b", "c", "a"}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].OrderID != id {
			t.Errorf("entry %d: expected %s, got %s", i, id, got[i].OrderID)
		}
	}
}
