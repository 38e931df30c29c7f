package dsl

import (
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/openalpha/stockex/agent/strategy"
	"github.com/openalpha/stockex/agent/types"
)

func dec(s string) math.LegacyDec { return math.LegacyMustNewDecFromStr(s) }

func decPtr(s string) *math.LegacyDec {
	d := dec(s)
	return &d
}

func snapshot(ticker string) *strategy.TickerSnapshot {
	return &strategy.TickerSnapshot{Ticker: ticker}
}

func context(cash string, snaps ...*strategy.TickerSnapshot) *strategy.MarketContext {
	mc := &strategy.MarketContext{
		Cash:    dec(cash),
		Tickers: make(map[string]*strategy.TickerSnapshot),
	}
	for _, s := range snaps {
		mc.Tickers[s.Ticker] = s
	}
	return mc
}

const buyTheDip = `
name: buy-the-dip
settings:
  max_order_value: 1000
  min_cash_reserve: 500
rules:
  - name: dip
    ticker: ACME
    when:
      - metric: price_change_pct
        operator: "<"
        value: -5
    then:
      - action: buy
        order_type: market
        quantity: 20
    cooldown_seconds: 60
`

func TestCompileValidDocument(t *testing.T) {
	rb, err := Compile([]byte(buyTheDip))
	require.NoError(t, err)
	require.Equal(t, "buy-the-dip", rb.Name())
	require.Len(t, rb.rules, 1)
}

func TestCompileRejections(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"malformed yaml", "name: [unclosed"},
		{"no rules", "name: x\nrules: []"},
		{"missing rule name", `
name: x
rules:
  - ticker: ACME
    when: [{metric: price, operator: ">", value: 1}]
    then: [{action: buy, quantity: 1}]
`},
		{"unknown metric", `
name: x
rules:
  - name: r
    ticker: ACME
    when: [{metric: vibes, operator: ">", value: 1}]
    then: [{action: buy, quantity: 1}]
`},
		{"unknown operator", `
name: x
rules:
  - name: r
    ticker: ACME
    when: [{metric: price, operator: "~=", value: 1}]
    then: [{action: buy, quantity: 1}]
`},
		{"unknown action", `
name: x
rules:
  - name: r
    ticker: ACME
    when: [{metric: price, operator: ">", value: 1}]
    then: [{action: short, quantity: 1}]
`},
		{"no sizing", `
name: x
rules:
  - name: r
    ticker: ACME
    when: [{metric: price, operator: ">", value: 1}]
    then: [{action: buy}]
`},
		{"contradictory sizing", `
name: x
rules:
  - name: r
    ticker: ACME
    when: [{metric: price, operator: ">", value: 1}]
    then: [{action: buy, quantity: 1, quantity_all: true}]
`},
		{"bad quantity_pct", `
name: x
rules:
  - name: r
    ticker: ACME
    when: [{metric: price, operator: ">", value: 1}]
    then: [{action: buy, quantity_pct: 1.5}]
`},
		{"sell all without holdings guard", `
name: x
rules:
  - name: r
    ticker: ACME
    when: [{metric: price, operator: ">", value: 1}]
    then: [{action: sell, quantity_all: true}]
`},
		{"contradictory pricing", `
name: x
rules:
  - name: r
    ticker: ACME
    when: [{metric: price, operator: ">", value: 1}]
    then: [{action: buy, quantity: 1, price: 10, price_offset_pct: 1}]
`},
		{"market with price", `
name: x
rules:
  - name: r
    ticker: ACME
    when: [{metric: price, operator: ">", value: 1}]
    then: [{action: buy, quantity: 1, order_type: market, price: 10}]
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compile([]byte(tc.doc))
			require.Error(t, err)
			require.True(t, types.ErrStrategyInvalid.Is(err), "got %v", err)
		})
	}
}

func TestDecideFiresOnDip(t *testing.T) {
	rb, err := Compile([]byte(buyTheDip))
	require.NoError(t, err)

	snap := snapshot("ACME")
	snap.LastPrice = decPtr("9.00")
	// Average of the window is 10, so the last price is -10%.
	for i := 0; i < 10; i++ {
		snap.RecentPrices = append(snap.RecentPrices, dec("10.00"))
	}

	actions := rb.Decide(context("10000", snap))
	require.Len(t, actions, 1)
	require.Equal(t, strategy.ActionBuy, actions[0].Type)
	require.Equal(t, "ACME", actions[0].Ticker)
	require.Nil(t, actions[0].Price, "market action carries no price")
	require.Equal(t, int64(20), actions[0].Quantity)
}

func TestDecideCooldownSuppressesRefire(t *testing.T) {
	rb, err := Compile([]byte(buyTheDip))
	require.NoError(t, err)

	clock := time.Now()
	rb.now = func() time.Time { return clock }

	snap := snapshot("ACME")
	snap.LastPrice = decPtr("9.00")
	snap.RecentPrices = []math.LegacyDec{dec("10.00"), dec("10.00")}
	mc := context("10000", snap)

	require.Len(t, rb.Decide(mc), 1)

	// Within the cooldown nothing fires, even though the condition holds.
	clock = clock.Add(30 * time.Second)
	require.Empty(t, rb.Decide(mc))

	// After the cooldown the rule fires again.
	clock = clock.Add(31 * time.Second)
	require.Len(t, rb.Decide(mc), 1)

	// Reset clears the cooldown immediately.
	rb.Reset()
	require.Len(t, rb.Decide(mc), 1)
}

func TestDecideMissingMetricIsFalse(t *testing.T) {
	doc := `
name: x
rules:
  - name: tight-spread
    ticker: ACME
    when:
      - metric: spread_pct
        operator: "<"
        value: 1
    then:
      - action: buy
        quantity: 1
`
	rb, err := Compile([]byte(doc))
	require.NoError(t, err)

	// One empty side: spread_pct has no value, the clause is false.
	snap := snapshot("ACME")
	snap.BestBid = decPtr("10.00")
	require.Empty(t, rb.Decide(context("1000", snap)))

	snap.BestAsk = decPtr("10.05")
	require.Len(t, rb.Decide(context("1000", snap)), 1)
}

func TestMaxOrderValueClampsQuantity(t *testing.T) {
	rb, err := Compile([]byte(buyTheDip))
	require.NoError(t, err)

	snap := snapshot("ACME")
	snap.LastPrice = decPtr("80.00")
	snap.RecentPrices = []math.LegacyDec{dec("100.00")}

	// 20 shares at 80 would be 1600; max_order_value 1000 caps at 12.
	actions := rb.Decide(context("100000", snap))
	require.Len(t, actions, 1)
	require.Equal(t, int64(12), actions[0].Quantity)
}

func TestMinCashReserveClampsBuys(t *testing.T) {
	rb, err := Compile([]byte(buyTheDip))
	require.NoError(t, err)

	snap := snapshot("ACME")
	snap.LastPrice = decPtr("9.00")
	snap.RecentPrices = []math.LegacyDec{dec("10.00")}

	// Only 590 - 500 reserve = 90 is spendable: 10 shares at 9.00.
	actions := rb.Decide(context("590", snap))
	require.Len(t, actions, 1)
	require.Equal(t, int64(10), actions[0].Quantity)

	// Nothing spendable at all: the action is skipped, not emitted at 0.
	require.Empty(t, rb.Decide(context("500", snap)))
}

func TestSellAllWithHoldingsGuard(t *testing.T) {
	doc := `
name: x
rules:
  - name: take-profit
    ticker: ACME
    when:
      - metric: my_holdings
        operator: ">"
        value: 0
      - metric: price
        operator: ">="
        value: 12
    then:
      - action: sell
        order_type: limit
        quantity_all: true
`
	rb, err := Compile([]byte(doc))
	require.NoError(t, err)

	snap := snapshot("ACME")
	snap.LastPrice = decPtr("12.50")
	snap.BestBid = decPtr("12.40")
	snap.MyHoldings = 35

	actions := rb.Decide(context("0", snap))
	require.Len(t, actions, 1)
	require.Equal(t, strategy.ActionSell, actions[0].Type)
	require.Equal(t, int64(35), actions[0].Quantity)
	// Limit without explicit price uses the touch.
	require.NotNil(t, actions[0].Price)
	require.True(t, actions[0].Price.Equal(dec("12.40")))

	// No holdings: the guard fails, nothing fires.
	snap.MyHoldings = 0
	require.Empty(t, rb.Decide(context("0", snap)))
}

func TestPriceOffsetPct(t *testing.T) {
	doc := `
name: x
rules:
  - name: join-bid
    ticker: ACME
    when:
      - metric: price
        operator: ">"
        value: 0
    then:
      - action: buy
        order_type: limit
        quantity: 10
        price_offset_pct: -1
`
	rb, err := Compile([]byte(doc))
	require.NoError(t, err)

	snap := snapshot("ACME")
	snap.LastPrice = decPtr("10.00")
	snap.BestAsk = decPtr("10.00")

	actions := rb.Decide(context("10000", snap))
	require.Len(t, actions, 1)
	require.NotNil(t, actions[0].Price)
	// 1% below the ask.
	require.True(t, actions[0].Price.Equal(dec("9.90")), actions[0].Price.String())
}

func TestPriorityOrderAndRunningCash(t *testing.T) {
	doc := `
name: x
settings:
  min_cash_reserve: 0
rules:
  - name: low-priority
    ticker: ACME
    priority: 1
    when:
      - metric: price
        operator: ">"
        value: 0
    then:
      - action: buy
        order_type: limit
        price: 10
        quantity_all: true
  - name: high-priority
    ticker: ACME
    priority: 5
    when:
      - metric: price
        operator: ">"
        value: 0
    then:
      - action: buy
        order_type: limit
        price: 10
        quantity: 8
`
	rb, err := Compile([]byte(doc))
	require.NoError(t, err)

	snap := snapshot("ACME")
	snap.LastPrice = decPtr("10.00")

	// 100 cash: the priority-5 rule spends 80 first; quantity_all then
	// sees only 20 left and buys 2.
	actions := rb.Decide(context("100", snap))
	require.Len(t, actions, 2)
	require.Equal(t, int64(8), actions[0].Quantity)
	require.Equal(t, int64(2), actions[1].Quantity)
}

func TestTickerAllExpands(t *testing.T) {
	doc := `
name: x
rules:
  - name: everywhere
    ticker: all
    when:
      - metric: price
        operator: ">"
        value: 0
    then:
      - action: buy
        order_type: market
        quantity: 1
`
	rb, err := Compile([]byte(doc))
	require.NoError(t, err)

	a := snapshot("AAA")
	a.LastPrice = decPtr("1.00")
	b := snapshot("BBB")
	b.LastPrice = decPtr("2.00")
	c := snapshot("CCC") // never traded, price metric missing

	actions := rb.Decide(context("1000", a, b, c))
	require.Len(t, actions, 2)
	// Stable alphabetical order.
	require.Equal(t, "AAA", actions[0].Ticker)
	require.Equal(t, "BBB", actions[1].Ticker)
}

func TestCancelOrdersAction(t *testing.T) {
	doc := `
name: x
rules:
  - name: flatten
    ticker: ACME
    when:
      - metric: my_open_orders
        operator: ">"
        value: 3
    then:
      - action: cancel_orders
`
	rb, err := Compile([]byte(doc))
	require.NoError(t, err)

	snap := snapshot("ACME")
	snap.MyOpenOrders = 5
	actions := rb.Decide(context("0", snap))
	require.Len(t, actions, 1)
	require.Equal(t, strategy.ActionCancelOrders, actions[0].Type)

	snap.MyOpenOrders = 2
	require.Empty(t, rb.Decide(context("0", snap)))
}
