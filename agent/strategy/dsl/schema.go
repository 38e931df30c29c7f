// Package dsl compiles YAML strategy documents into executable rule-based
// strategies: ordered rules with condition conjunctions, sized actions,
// per-(rule,ticker) cooldowns and budget clamping.
package dsl

// Document is the root of a strategy document.
type Document struct {
	Name        string   `yaml:"name" validate:"required"`
	Description string   `yaml:"description"`
	Settings    Settings `yaml:"settings"`
	Rules       []Rule   `yaml:"rules" validate:"required,min=1,dive"`
}

// Settings bounds every order the strategy produces. Zero means unbounded
// (no cap / no reserve).
type Settings struct {
	MaxOrderValue  float64 `yaml:"max_order_value" validate:"gte=0"`
	MinCashReserve float64 `yaml:"min_cash_reserve" validate:"gte=0"`
}

// Rule is one trigger: a conjunction of conditions and the actions fired
// when it holds. Higher priority evaluates first; document order breaks
// ties.
type Rule struct {
	Name            string       `yaml:"name" validate:"required"`
	Description     string       `yaml:"description"`
	Ticker          string       `yaml:"ticker" validate:"required"`
	When            []Condition  `yaml:"when" validate:"required,min=1,dive"`
	Then            []ActionSpec `yaml:"then" validate:"required,min=1,dive"`
	CooldownSeconds int          `yaml:"cooldown_seconds" validate:"gte=0"`
	Priority        int          `yaml:"priority"`
}

// Condition compares a market metric against a constant. A condition whose
// metric has no value (e.g. ask_price on an empty book) is false.
type Condition struct {
	Metric   string  `yaml:"metric" validate:"required"`
	Operator string  `yaml:"operator" validate:"required"`
	Value    float64 `yaml:"value"`
}

// ActionSpec is one action of a rule. Exactly one of Quantity, QuantityPct
// or QuantityAll sizes a buy/sell; price comes from Price, PriceOffsetPct
// or neither (market order).
type ActionSpec struct {
	Action         string   `yaml:"action" validate:"required,oneof=buy sell cancel_orders"`
	OrderType      string   `yaml:"order_type" validate:"omitempty,oneof=limit market"`
	Quantity       *int64   `yaml:"quantity"`
	QuantityPct    *float64 `yaml:"quantity_pct"`
	QuantityAll    bool     `yaml:"quantity_all"`
	Price          *float64 `yaml:"price"`
	PriceOffsetPct *float64 `yaml:"price_offset_pct"`
}
