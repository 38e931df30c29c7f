package engine

import (
	"time"

	"cosmossdk.io/math"
	"github.com/google/uuid"

	"github.com/openalpha/stockex/exchange/store"
	"github.com/openalpha/stockex/exchange/types"
)

// fill carries the parameters of a single settlement.
type fill struct {
	taker    *types.Order
	maker    *types.Order
	ticker   string
	price    math.LegacyDec
	quantity int64
	seq      uint64
	ts       time.Time
}

// settle performs the atomic cash-and-share transfer for one fill: buyer
// cash down, seller cash up, buyer holding up, seller holding down (row
// deleted at zero), both orders advanced, trade row appended. Every step is
// staged on the transaction, so a failure here leaves nothing behind once
// the caller discards. The submit-time prechecks make step failures
// impossible in practice; when one fires anyway it is a bug and surfaces as
// SETTLEMENT_FAILED.
func settle(tx *store.Tx, f fill) (*types.Trade, error) {
	buyOrder, sellOrder := f.taker, f.maker
	if f.taker.Side == types.SideSell {
		buyOrder, sellOrder = f.maker, f.taker
	}
	buyerID, sellerID := buyOrder.AccountID, sellOrder.AccountID
	amount := f.price.MulInt64(f.quantity)

	// 1. Buyer pays.
	buyer, err := tx.GetAccount(buyerID)
	if err != nil {
		return nil, err
	}
	if buyer == nil {
		return nil, types.ErrSettlementFailed.Wrapf("buyer account %s missing", buyerID)
	}
	buyer.Cash = buyer.Cash.Sub(amount)
	if buyer.Cash.IsNegative() {
		return nil, types.ErrSettlementFailed.Wrapf(
			"buyer %s cash would go negative (%s)", buyerID, buyer.Cash)
	}
	if err := tx.PutAccount(buyer); err != nil {
		return nil, err
	}

	// 2. Seller is paid. Re-read so self-trades see the debit.
	seller, err := tx.GetAccount(sellerID)
	if err != nil {
		return nil, err
	}
	if seller == nil {
		return nil, types.ErrSettlementFailed.Wrapf("seller account %s missing", sellerID)
	}
	seller.Cash = seller.Cash.Add(amount)
	if err := tx.PutAccount(seller); err != nil {
		return nil, err
	}

	// 3. Buyer receives shares.
	buyerHolding, err := tx.GetHolding(buyerID, f.ticker)
	if err != nil {
		return nil, err
	}
	if buyerHolding == nil {
		buyerHolding = &types.Holding{
			AccountID: buyerID,
			Ticker:    f.ticker,
			CostBasis: math.LegacyZeroDec(),
		}
	}
	buyerHolding.Quantity += f.quantity
	buyerHolding.CostBasis = buyerHolding.CostBasis.Add(amount)
	if err := tx.PutHolding(buyerHolding); err != nil {
		return nil, err
	}

	// 4. Seller gives up shares; the row disappears at zero.
	sellerHolding, err := tx.GetHolding(sellerID, f.ticker)
	if err != nil {
		return nil, err
	}
	if sellerHolding == nil || sellerHolding.Quantity < f.quantity {
		have := int64(0)
		if sellerHolding != nil {
			have = sellerHolding.Quantity
		}
		return nil, types.ErrSettlementFailed.Wrapf(
			"seller %s holds %d of %s, needs %d", sellerID, have, f.ticker, f.quantity)
	}
	if sellerHolding.Quantity == f.quantity {
		tx.DeleteHolding(sellerID, f.ticker)
	} else {
		avgCost := sellerHolding.CostBasis.QuoInt64(sellerHolding.Quantity)
		sellerHolding.Quantity -= f.quantity
		sellerHolding.CostBasis = sellerHolding.CostBasis.Sub(avgCost.MulInt64(f.quantity))
		if sellerHolding.CostBasis.IsNegative() {
			sellerHolding.CostBasis = math.LegacyZeroDec()
		}
		if err := tx.PutHolding(sellerHolding); err != nil {
			return nil, err
		}
	}

	// 5. Advance both orders.
	if err := f.taker.Fill(f.quantity); err != nil {
		return nil, types.ErrSettlementFailed.Wrap(err.Error())
	}
	if err := f.maker.Fill(f.quantity); err != nil {
		return nil, types.ErrSettlementFailed.Wrap(err.Error())
	}
	if err := tx.PutOrder(f.maker); err != nil {
		return nil, err
	}
	// The taker row is persisted once, at the end of Submit.

	// 6. Record the trade.
	trade := &types.Trade{
		ID:          uuid.NewString(),
		Ticker:      f.ticker,
		Price:       f.price,
		Quantity:    f.quantity,
		BuyerID:     buyerID,
		SellerID:    sellerID,
		BuyOrderID:  buyOrder.ID,
		SellOrderID: sellOrder.ID,
		Timestamp:   f.ts,
		Seq:         f.seq,
	}
	if err := tx.AppendTrade(trade); err != nil {
		return nil, err
	}
	return trade, nil
}
