package dsl

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"cosmossdk.io/math"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openalpha/stockex/agent/strategy"
	"github.com/openalpha/stockex/agent/types"
)

// priceChangeWindow is the fixed trade window behind price_change_pct:
// the metric compares the last price against the average of this many
// recent trades.
const priceChangeWindow = 20

// maxTickersPerRule bounds how many tickers a "ticker: all" rule touches
// in one tick.
const maxTickersPerRule = 64

var knownMetrics = map[string]bool{
	"price":             true,
	"price_change_pct":  true,
	"bid_price":         true,
	"ask_price":         true,
	"spread_pct":        true,
	"my_cash":           true,
	"my_holdings":       true,
	"my_position_value": true,
	"my_open_orders":    true,
}

var knownOperators = map[string]bool{
	"<": true, "<=": true, ">": true, ">=": true, "==": true, "!=": true,
}

var validate = validator.New()

// Compile parses, validates and compiles a YAML strategy document. All
// validation failures surface as ErrStrategyInvalid with the offending
// rule named.
func Compile(src []byte) (*RuleBased, error) {
	var doc Document
	if err := yaml.Unmarshal(src, &doc); err != nil {
		return nil, types.ErrStrategyInvalid.Wrapf("malformed YAML: %v", err)
	}
	if err := validate.Struct(&doc); err != nil {
		return nil, types.ErrStrategyInvalid.Wrapf("schema: %v", err)
	}
	for i := range doc.Rules {
		if err := checkRule(&doc.Rules[i]); err != nil {
			return nil, err
		}
	}

	rb := &RuleBased{
		name:      doc.Name,
		cooldowns: make(map[string]time.Time),
		now:       time.Now,
	}
	if doc.Settings.MaxOrderValue > 0 {
		v := decFromFloat(doc.Settings.MaxOrderValue)
		rb.maxOrderValue = &v
	}
	if doc.Settings.MinCashReserve > 0 {
		rb.minCashReserve = decFromFloat(doc.Settings.MinCashReserve)
	} else {
		rb.minCashReserve = math.LegacyZeroDec()
	}

	// Priority descending, document order within a priority.
	rules := make([]Rule, len(doc.Rules))
	copy(rules, doc.Rules)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })
	rb.rules = rules
	return rb, nil
}

// checkRule performs the semantic validation the schema tags cannot.
func checkRule(r *Rule) error {
	fail := func(format string, args ...any) error {
		return types.ErrStrategyInvalid.Wrapf("rule %q: %s", r.Name, fmt.Sprintf(format, args...))
	}

	readsHoldings := false
	for _, c := range r.When {
		if !knownMetrics[c.Metric] {
			return fail("unknown metric %q", c.Metric)
		}
		if !knownOperators[c.Operator] {
			return fail("unknown operator %q", c.Operator)
		}
		if c.Metric == "my_holdings" {
			readsHoldings = true
		}
	}

	for _, a := range r.Then {
		if a.Action == string(strategy.ActionCancelOrders) {
			continue
		}
		sizings := 0
		if a.Quantity != nil {
			if *a.Quantity < 1 {
				return fail("quantity must be >= 1")
			}
			sizings++
		}
		if a.QuantityPct != nil {
			if *a.QuantityPct <= 0 || *a.QuantityPct > 1 {
				return fail("quantity_pct must be in (0, 1]")
			}
			sizings++
		}
		if a.QuantityAll {
			sizings++
		}
		if sizings == 0 {
			return fail("%s action needs one of quantity, quantity_pct or quantity_all", a.Action)
		}
		if sizings > 1 {
			return fail("contradictory sizing: only one of quantity, quantity_pct, quantity_all allowed")
		}
		if a.Action == string(strategy.ActionSell) && a.Quantity == nil && !readsHoldings {
			return fail("sell with quantity_pct or quantity_all requires a my_holdings condition")
		}
		if a.Price != nil && a.PriceOffsetPct != nil {
			return fail("contradictory pricing: only one of price, price_offset_pct allowed")
		}
		if a.Price != nil && *a.Price <= 0 {
			return fail("price must be positive")
		}
		if a.OrderType == "market" && (a.Price != nil || a.PriceOffsetPct != nil) {
			return fail("market actions must not carry a price")
		}
	}
	return nil
}

// RuleBased is a compiled strategy document.
type RuleBased struct {
	name           string
	rules          []Rule
	maxOrderValue  *math.LegacyDec // nil = uncapped
	minCashReserve math.LegacyDec

	mu        sync.Mutex
	cooldowns map[string]time.Time // "rule|ticker" -> last firing
	now       func() time.Time
}

// Name returns the document's name.
func (rb *RuleBased) Name() string { return rb.name }

// Reset clears all rule cooldowns. Called when the agent's document is
// edited.
func (rb *RuleBased) Reset() {
	rb.mu.Lock()
	rb.cooldowns = make(map[string]time.Time)
	rb.mu.Unlock()
}

// Decide evaluates the rules against the snapshot in priority order.
func (rb *RuleBased) Decide(mc *strategy.MarketContext) []strategy.Action {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	var out []strategy.Action
	cash := mc.Cash

	for i := range rb.rules {
		rule := &rb.rules[i]
		for _, ticker := range rb.ruleTickers(rule, mc) {
			snap := mc.Snapshot(ticker)
			if snap == nil {
				continue
			}
			key := rule.Name + "|" + ticker
			if cd := time.Duration(rule.CooldownSeconds) * time.Second; cd > 0 {
				if last, ok := rb.cooldowns[key]; ok && rb.now().Sub(last) < cd {
					continue
				}
			}
			if !rb.conjunctionHolds(rule.When, snap, cash) {
				continue
			}

			fired := false
			for _, spec := range rule.Then {
				action, cost, ok := rb.buildAction(&spec, snap, cash)
				if !ok {
					continue
				}
				out = append(out, action)
				fired = true
				if action.Type == strategy.ActionBuy {
					cash = cash.Sub(cost)
				}
			}
			if fired {
				rb.cooldowns[key] = rb.now()
			}
		}
	}
	return out
}

// ruleTickers expands "all" into the snapshot's tickers, bounded and in
// stable order.
func (rb *RuleBased) ruleTickers(rule *Rule, mc *strategy.MarketContext) []string {
	if rule.Ticker != "all" {
		return []string{rule.Ticker}
	}
	tickers := make([]string, 0, len(mc.Tickers))
	for t := range mc.Tickers {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	if len(tickers) > maxTickersPerRule {
		tickers = tickers[:maxTickersPerRule]
	}
	return tickers
}

func (rb *RuleBased) conjunctionHolds(when []Condition, snap *strategy.TickerSnapshot, cash math.LegacyDec) bool {
	for _, c := range when {
		value := metricValue(c.Metric, snap, cash)
		if value == nil {
			return false
		}
		if !compare(*value, c.Operator, decFromFloat(c.Value)) {
			return false
		}
	}
	return true
}

// metricValue resolves a metric, or nil when it has no value.
func metricValue(metric string, snap *strategy.TickerSnapshot, cash math.LegacyDec) *math.LegacyDec {
	switch metric {
	case "price":
		return snap.LastPrice
	case "price_change_pct":
		if snap.LastPrice == nil || len(snap.RecentPrices) == 0 {
			return nil
		}
		window := snap.RecentPrices
		if len(window) > priceChangeWindow {
			window = window[:priceChangeWindow]
		}
		sum := math.LegacyZeroDec()
		for _, p := range window {
			sum = sum.Add(p)
		}
		avg := sum.QuoInt64(int64(len(window)))
		if !avg.IsPositive() {
			return nil
		}
		pct := snap.LastPrice.Sub(avg).Quo(avg).MulInt64(100)
		return &pct
	case "bid_price":
		return snap.BestBid
	case "ask_price":
		return snap.BestAsk
	case "spread_pct":
		if snap.BestBid == nil || snap.BestAsk == nil {
			return nil
		}
		mid := snap.BestBid.Add(*snap.BestAsk).QuoInt64(2)
		if !mid.IsPositive() {
			return nil
		}
		pct := snap.BestAsk.Sub(*snap.BestBid).Quo(mid).MulInt64(100)
		return &pct
	case "my_cash":
		return &cash
	case "my_holdings":
		v := math.LegacyNewDec(snap.MyHoldings)
		return &v
	case "my_position_value":
		if snap.LastPrice == nil {
			return nil
		}
		v := snap.LastPrice.MulInt64(snap.MyHoldings)
		return &v
	case "my_open_orders":
		v := math.LegacyNewDec(int64(snap.MyOpenOrders))
		return &v
	default:
		return nil
	}
}

func compare(lhs math.LegacyDec, op string, rhs math.LegacyDec) bool {
	switch op {
	case "<":
		return lhs.LT(rhs)
	case "<=":
		return lhs.LTE(rhs)
	case ">":
		return lhs.GT(rhs)
	case ">=":
		return lhs.GTE(rhs)
	case "==":
		return lhs.Equal(rhs)
	case "!=":
		return !lhs.Equal(rhs)
	default:
		return false
	}
}

// buildAction sizes and prices one action. Returns the action, its
// estimated cost for running-cash tracking (buys only), and whether the
// action survives clamping.
func (rb *RuleBased) buildAction(spec *ActionSpec, snap *strategy.TickerSnapshot, cash math.LegacyDec) (strategy.Action, math.LegacyDec, bool) {
	zero := math.LegacyZeroDec()

	if spec.Action == string(strategy.ActionCancelOrders) {
		return strategy.Action{Type: strategy.ActionCancelOrders, Ticker: snap.Ticker}, zero, true
	}

	isBuy := spec.Action == string(strategy.ActionBuy)

	// Reference price: explicit, offset from the touch, or the touch /
	// last trade itself for sizing market orders.
	var limit *math.LegacyDec
	reference := rb.referencePrice(spec, snap, isBuy)
	if reference == nil {
		return strategy.Action{}, zero, false
	}
	if spec.OrderType != "market" && (spec.Price != nil || spec.PriceOffsetPct != nil || spec.OrderType == "limit") {
		limit = reference
	}

	qty := rb.sizeQuantity(spec, snap, cash, *reference, isBuy)

	// Budget clamps: order value cap, then cash reserve for buys.
	if rb.maxOrderValue != nil && reference.IsPositive() {
		if cap := rb.maxOrderValue.Quo(*reference).TruncateInt64(); qty > cap {
			qty = cap
		}
	}
	if isBuy && reference.IsPositive() {
		spendable := cash.Sub(rb.minCashReserve)
		if spendable.IsNegative() {
			spendable = zero
		}
		if cap := spendable.Quo(*reference).TruncateInt64(); qty > cap {
			qty = cap
		}
	}
	if !isBuy && qty > snap.MyHoldings {
		qty = snap.MyHoldings
	}
	if qty < 1 {
		return strategy.Action{}, zero, false
	}

	action := strategy.Action{Ticker: snap.Ticker, Quantity: qty, Price: limit}
	if isBuy {
		action.Type = strategy.ActionBuy
	} else {
		action.Type = strategy.ActionSell
	}
	return action, reference.MulInt64(qty), true
}

// referencePrice resolves the price an action is sized against: the
// explicit price, the touch plus offset, or the touch / last trade.
func (rb *RuleBased) referencePrice(spec *ActionSpec, snap *strategy.TickerSnapshot, isBuy bool) *math.LegacyDec {
	if spec.Price != nil {
		p := decFromFloat(*spec.Price)
		return &p
	}

	touch := snap.BestAsk // buys price off the ask
	if !isBuy {
		touch = snap.BestBid
	}
	if touch == nil {
		touch = snap.LastPrice
	}
	if touch == nil {
		return nil
	}
	if spec.PriceOffsetPct != nil {
		offset := touch.Mul(decFromFloat(*spec.PriceOffsetPct)).QuoInt64(100)
		p := touch.Add(offset)
		if !p.IsPositive() {
			return nil
		}
		return &p
	}
	return touch
}

func (rb *RuleBased) sizeQuantity(spec *ActionSpec, snap *strategy.TickerSnapshot, cash math.LegacyDec, price math.LegacyDec, isBuy bool) int64 {
	switch {
	case spec.Quantity != nil:
		return *spec.Quantity
	case spec.QuantityPct != nil:
		pct := decFromFloat(*spec.QuantityPct)
		if isBuy {
			if !price.IsPositive() {
				return 0
			}
			return cash.Mul(pct).Quo(price).TruncateInt64()
		}
		return pct.MulInt64(snap.MyHoldings).TruncateInt64()
	case spec.QuantityAll:
		if isBuy {
			if !price.IsPositive() {
				return 0
			}
			return cash.Quo(price).TruncateInt64()
		}
		return snap.MyHoldings
	default:
		return 0
	}
}

// decFromFloat converts a YAML number to a LegacyDec through its decimal
// string form to avoid binary-float artifacts.
func decFromFloat(f float64) math.LegacyDec {
	return math.LegacyMustNewDecFromStr(strconv.FormatFloat(f, 'f', -1, 64))
}
