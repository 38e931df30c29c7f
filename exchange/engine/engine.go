// Package engine implements price-time-priority matching with transactional
// settlement. Submit runs entirely under the caller's per-ticker lock and
// stages every row mutation on the caller's store transaction; the caller
// commits on success or discards and rebuilds the book on failure.
package engine

import (
	"time"

	"cosmossdk.io/log"
	"cosmossdk.io/math"

	"github.com/openalpha/stockex/exchange/book"
	"github.com/openalpha/stockex/exchange/store"
	"github.com/openalpha/stockex/exchange/types"
)

// Engine matches incoming orders against a ticker's book.
type Engine struct {
	logger log.Logger
}

// New creates a matching engine.
func New(logger log.Logger) *Engine {
	return &Engine{logger: logger.With("module", "engine")}
}

// Result is the outcome of a submit: the taker order in its final state and
// the fills generated, oldest first.
type Result struct {
	Order *Order
	Fills []*types.Trade
}

// Order aliases the taker row so callers get the post-match state.
type Order = types.Order

// Submit validates, matches and settles an incoming order. nextSeq allocates
// the per-ticker trade sequence. The taker's own Seq and Timestamp must be
// assigned by the caller before the call.
//
// On a nil error the transaction holds every row mutation and the book
// already reflects the fills; the caller must commit. On error the caller
// must discard the transaction; the returned Result (nil only for precheck
// rejections) carries any fills already applied to the book, so the caller
// can tell whether the book needs restoring from the store.
func (e *Engine) Submit(tx *store.Tx, bk *book.Book, taker *types.Order, nextSeq func() uint64) (*Result, error) {
	if err := e.precheck(tx, taker); err != nil {
		return nil, err
	}

	res := &Result{Order: taker}
	var lastTS time.Time

	for taker.Remaining > 0 {
		maker := bk.Best(taker.Side.Opposite())
		if maker == nil {
			break
		}
		if taker.Type == types.OrderTypeLimit && !crosses(taker, maker.Price) {
			break
		}

		qty := taker.Remaining
		if maker.Remaining < qty {
			qty = maker.Remaining
		}
		price := maker.Price // resting order's price wins

		// Market buys are priced at match time, so affordability is
		// re-checked per fill. An unaffordable first fill is a
		// rejection; running out of cash mid-walk cancels the rest.
		if taker.Side == types.SideBuy && taker.Type == types.OrderTypeMarket {
			ok, err := e.buyerCanAfford(tx, taker.AccountID, price, qty)
			if err != nil {
				return res, err
			}
			if !ok {
				if len(res.Fills) == 0 {
					return res, types.ErrInsufficientFunds.Wrapf(
						"account %s cannot afford %d shares at %s", taker.AccountID, qty, price)
				}
				break
			}
		}

		makerOrder, err := tx.GetOrder(maker.OrderID)
		if err != nil {
			return res, err
		}
		if makerOrder == nil || !makerOrder.IsActive() {
			// Book and store disagree; drop the stale entry and move on.
			e.logger.Error("stale book entry", "ticker", bk.Ticker(), "order_id", maker.OrderID)
			bk.Remove(maker.OrderID)
			continue
		}

		ts := time.Now().UTC()
		if ts.Before(lastTS) {
			ts = lastTS
		}
		lastTS = ts

		trade, err := settle(tx, fill{
			taker:    taker,
			maker:    makerOrder,
			ticker:   taker.Ticker,
			price:    price,
			quantity: qty,
			seq:      nextSeq(),
			ts:       ts,
		})
		if err != nil {
			return res, err
		}

		if makerOrder.Remaining == 0 {
			bk.Remove(maker.OrderID)
		} else {
			bk.Reduce(maker.OrderID, qty)
		}
		res.Fills = append(res.Fills, trade)

		e.logger.Info("trade executed",
			"trade_id", trade.ID,
			"ticker", trade.Ticker,
			"price", trade.Price.String(),
			"quantity", trade.Quantity,
			"buyer", trade.BuyerID,
			"seller", trade.SellerID,
		)
	}

	if taker.Remaining > 0 {
		switch taker.Type {
		case types.OrderTypeMarket:
			// IOC residual: cancelled, never posted. Any fill still
			// counts the order as filled.
			if len(res.Fills) > 0 {
				taker.Status = types.OrderStatusFilled
			} else {
				taker.Status = types.OrderStatusCancelled
			}
		case types.OrderTypeLimit:
			bk.Insert(taker.Side, &book.Entry{
				OrderID:   taker.ID,
				AccountID: taker.AccountID,
				Price:     taker.Price,
				Remaining: taker.Remaining,
				Seq:       taker.Seq,
				Timestamp: taker.Timestamp,
			})
		}
	}

	if err := tx.PutOrder(taker); err != nil {
		return res, err
	}
	return res, nil
}

// precheck enforces the submit-time reservation rules. It never mutates
// state: a failed precheck rejects the order before a row is written.
func (e *Engine) precheck(tx *store.Tx, o *types.Order) error {
	switch o.Side {
	case types.SideBuy:
		if o.Type != types.OrderTypeLimit {
			return nil // market buys are checked per fill
		}
		acct, err := tx.GetAccount(o.AccountID)
		if err != nil {
			return err
		}
		if acct == nil {
			return types.ErrNotFound.Wrapf("account %s", o.AccountID)
		}
		required := o.Price.MulInt64(o.Quantity)
		if acct.Cash.LT(required) {
			return types.ErrInsufficientFunds.Wrapf(
				"have %s, need %s", acct.Cash, required)
		}
	case types.SideSell:
		holding, err := tx.GetHolding(o.AccountID, o.Ticker)
		if err != nil {
			return err
		}
		have := int64(0)
		if holding != nil {
			have = holding.Quantity
		}
		if have < o.Quantity {
			return types.ErrInsufficientShares.Wrapf(
				"have %d, need %d", have, o.Quantity)
		}
	}
	return nil
}

func (e *Engine) buyerCanAfford(tx *store.Tx, accountID string, price math.LegacyDec, qty int64) (bool, error) {
	acct, err := tx.GetAccount(accountID)
	if err != nil {
		return false, err
	}
	if acct == nil {
		return false, types.ErrNotFound.Wrapf("account %s", accountID)
	}
	return acct.Cash.GTE(price.MulInt64(qty)), nil
}

// crosses reports whether a limit taker's price crosses the resting price.
func crosses(taker *types.Order, restingPrice math.LegacyDec) bool {
	if taker.Side == types.SideBuy {
		return taker.Price.GTE(restingPrice)
	}
	return taker.Price.LTE(restingPrice)
}
