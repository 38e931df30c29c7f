package types

import (
	"fmt"
	"strings"
	"time"

	"cosmossdk.io/math"
)

// Side represents the side of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide parses a wire-format side literal.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(s)) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	default:
		return "", fmt.Errorf("invalid side %q", s)
	}
}

// Opposite returns the opposing side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType represents how an order prices itself.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// ParseOrderType parses a wire-format order type literal.
func ParseOrderType(s string) (OrderType, error) {
	switch OrderType(strings.ToUpper(s)) {
	case OrderTypeLimit:
		return OrderTypeLimit, nil
	case OrderTypeMarket:
		return OrderTypeMarket, nil
	default:
		return "", fmt.Errorf("invalid order type %q", s)
	}
}

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusPartial   OrderStatus = "PARTIAL"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// ParseOrderStatus parses a wire-format status literal.
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch OrderStatus(strings.ToUpper(s)) {
	case OrderStatusOpen, OrderStatusPartial, OrderStatusFilled, OrderStatusCancelled:
		return OrderStatus(strings.ToUpper(s)), nil
	default:
		return "", fmt.Errorf("invalid order status %q", s)
	}
}

// Company is a listed security. Immutable after creation.
type Company struct {
	Ticker      string         `json:"ticker"`
	Name        string         `json:"name"`
	TotalShares int64          `json:"total_shares"`
	FloatShares int64          `json:"float_shares"`
	IPOPrice    math.LegacyDec `json:"ipo_price"` // zero when no IPO order was seeded
	CreatedAt   time.Time      `json:"created_at"`
}

// Account holds cash and an API-key hash. Cash changes only through
// settlement or admin initialization.
type Account struct {
	ID         string         `json:"id"`
	APIKeyHash string         `json:"api_key_hash"`
	Cash       math.LegacyDec `json:"cash_balance"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Holding is a position row. Rows with zero quantity are deleted, not stored.
// CostBasis tracks the total cash paid for the held shares.
type Holding struct {
	AccountID string         `json:"account_id"`
	Ticker    string         `json:"ticker"`
	Quantity  int64          `json:"quantity"`
	CostBasis math.LegacyDec `json:"cost_basis"`
}

// Order is a buy or sell instruction. Seq is the per-ticker arrival sequence
// and breaks timestamp ties deterministically.
type Order struct {
	ID        string         `json:"id"`
	AccountID string         `json:"account_id"`
	Ticker    string         `json:"ticker"`
	Side      Side           `json:"side"`
	Type      OrderType      `json:"order_type"`
	Price     math.LegacyDec `json:"price"` // zero for market orders
	Quantity  int64          `json:"quantity"`
	Remaining int64          `json:"remaining_quantity"`
	Status    OrderStatus    `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Seq       uint64         `json:"seq"`
}

// NewOrder creates an OPEN order with full remaining quantity.
func NewOrder(id, accountID, ticker string, side Side, typ OrderType, price math.LegacyDec, qty int64) *Order {
	return &Order{
		ID:        id,
		AccountID: accountID,
		Ticker:    ticker,
		Side:      side,
		Type:      typ,
		Price:     price,
		Quantity:  qty,
		Remaining: qty,
		Status:    OrderStatusOpen,
		Timestamp: time.Now().UTC(),
	}
}

// IsActive reports whether the order can still be matched or cancelled.
func (o *Order) IsActive() bool {
	return o.Status == OrderStatusOpen || o.Status == OrderStatusPartial
}

// Fill reduces the remaining quantity and advances the status.
func (o *Order) Fill(qty int64) error {
	if qty <= 0 || qty > o.Remaining {
		return fmt.Errorf("fill quantity %d out of range, remaining %d", qty, o.Remaining)
	}
	o.Remaining -= qty
	if o.Remaining == 0 {
		o.Status = OrderStatusFilled
	} else {
		o.Status = OrderStatusPartial
	}
	return nil
}

// Trade is an executed fill. Append-only.
type Trade struct {
	ID          string         `json:"id"`
	Ticker      string         `json:"ticker"`
	Price       math.LegacyDec `json:"price"`
	Quantity    int64          `json:"quantity"`
	BuyerID     string         `json:"buyer_id"`
	SellerID    string         `json:"seller_id"`
	BuyOrderID  string         `json:"buy_order_id"`
	SellOrderID string         `json:"sell_order_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Seq         uint64         `json:"seq"` // per-ticker, monotonically increasing
}

// Notional returns price * quantity.
func (t *Trade) Notional() math.LegacyDec {
	return t.Price.MulInt64(t.Quantity)
}

// ValidTicker reports whether s is a well-formed ticker symbol:
// 1-8 uppercase ASCII letters.
func ValidTicker(s string) bool {
	if len(s) < 1 || len(s) > 8 {
		return false
	}
	for _, c := range s {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}
