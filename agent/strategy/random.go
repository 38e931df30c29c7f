package strategy

import (
	"math/rand"
	"sort"

	"github.com/openalpha/stockex/agent/types"
)

// randomStrategy places small random market orders: a parameterized noise
// trader that keeps books moving in simulations.
type randomStrategy struct {
	buyProb  float64
	sellProb float64
	minQty   int64
	maxQty   int64
	rng      *rand.Rand
}

func randomDefinition() Definition {
	return Definition{
		ID:          "random",
		Name:        "Random Trader",
		Description: "Places random market orders each tick; a configurable noise trader.",
		Parameters: []ParameterSchema{
			{Name: "buy_probability", Type: "float", Default: 0.3, Min: 0, Max: 1,
				Description: "Chance per tick of placing a buy."},
			{Name: "sell_probability", Type: "float", Default: 0.3, Min: 0, Max: 1,
				Description: "Chance per tick of placing a sell."},
			{Name: "min_quantity", Type: "int", Default: 1, Min: 1, Max: 1_000_000,
				Description: "Smallest order size."},
			{Name: "max_quantity", Type: "int", Default: 10, Min: 1, Max: 1_000_000,
				Description: "Largest order size."},
		},
	}
}

func newRandomStrategy(params map[string]any, _ string) (Strategy, error) {
	s := &randomStrategy{
		buyProb:  0.3,
		sellProb: 0.3,
		minQty:   1,
		maxQty:   10,
		rng:      rand.New(rand.NewSource(rand.Int63())),
	}
	if v, ok := floatParam(params, "buy_probability"); ok {
		if v < 0 || v > 1 {
			return nil, types.ErrInvalidParameters.Wrap("buy_probability must be in [0, 1]")
		}
		s.buyProb = v
	}
	if v, ok := floatParam(params, "sell_probability"); ok {
		if v < 0 || v > 1 {
			return nil, types.ErrInvalidParameters.Wrap("sell_probability must be in [0, 1]")
		}
		s.sellProb = v
	}
	if v, ok := floatParam(params, "min_quantity"); ok {
		s.minQty = int64(v)
	}
	if v, ok := floatParam(params, "max_quantity"); ok {
		s.maxQty = int64(v)
	}
	if s.minQty < 1 || s.maxQty < s.minQty {
		return nil, types.ErrInvalidParameters.Wrap("quantity bounds must satisfy 1 <= min <= max")
	}
	return s, nil
}

// floatParam reads a numeric parameter; JSON decoding yields float64 for
// all numbers.
func floatParam(params map[string]any, name string) (float64, bool) {
	v, ok := params[name]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func (s *randomStrategy) Decide(mc *MarketContext) []Action {
	if len(mc.Tickers) == 0 {
		return nil
	}
	tickers := make([]string, 0, len(mc.Tickers))
	for t := range mc.Tickers {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	ticker := tickers[s.rng.Intn(len(tickers))]
	snap := mc.Tickers[ticker]

	qty := s.minQty
	if s.maxQty > s.minQty {
		qty += s.rng.Int63n(s.maxQty - s.minQty + 1)
	}

	roll := s.rng.Float64()
	switch {
	case roll < s.buyProb:
		// Affordability is enforced by clamping at execution; skip
		// outright when the book has no price reference at all.
		if snap.LastPrice == nil && snap.BestAsk == nil {
			return nil
		}
		return []Action{{Type: ActionBuy, Ticker: ticker, Quantity: qty}}
	case roll < s.buyProb+s.sellProb:
		if snap.MyHoldings < 1 {
			return nil
		}
		if qty > snap.MyHoldings {
			qty = snap.MyHoldings
		}
		return []Action{{Type: ActionSell, Ticker: ticker, Quantity: qty}}
	default:
		return nil
	}
}

func (s *randomStrategy) Reset() {}
