package exchange

import (
	"testing"

	"cosmossdk.io/log"
	"cosmossdk.io/math"
	dbm "github.com/cosmos/cosmos-db"
	"github.com/stretchr/testify/require"

	"github.com/openalpha/stockex/exchange/store"
	"github.com/openalpha/stockex/exchange/types"
)

func dec(s string) math.LegacyDec { return math.LegacyMustNewDecFromStr(s) }

func newTestService(t *testing.T) *Service {
	t.Helper()
	st := store.New(dbm.NewMemDB(), log.NewNopLogger())
	svc := NewService(st, log.NewNopLogger(), nil)
	require.NoError(t, svc.Rebuild())
	return svc
}

func listACME(t *testing.T, svc *Service, floatShares int64) {
	t.Helper()
	_, err := svc.CreateCompany(CompanyParams{
		Ticker:      "ACME",
		Name:        "Acme Corp",
		TotalShares: 1000,
		FloatShares: floatShares,
		IPOPrice:    dec("10.00"),
	})
	require.NoError(t, err)
}

func TestCreateCompanyFloatsIPO(t *testing.T) {
	svc := newTestService(t)
	listACME(t, svc, 100)

	// The float rests as a treasury sell at the IPO price.
	bids, asks, err := svc.AdminBook("ACME")
	require.NoError(t, err)
	require.Empty(t, bids)
	require.Len(t, asks, 1)
	require.Equal(t, TreasuryAccountID, asks[0].AccountID)
	require.True(t, asks[0].Price.Equal(dec("10.00")))
	require.Equal(t, int64(100), asks[0].Remaining)

	// Treasury still owns all shares until the float sells.
	treasury, err := svc.store.GetHolding(TreasuryAccountID, "ACME")
	require.NoError(t, err)
	require.Equal(t, int64(1000), treasury.Quantity)
}

func TestCreateCompanyValidation(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.CreateCompany(CompanyParams{Ticker: "bad ticker", Name: "X", TotalShares: 10})
	require.True(t, types.ErrInvalidParameters.Is(err))

	_, err = svc.CreateCompany(CompanyParams{Ticker: "ACME", Name: "", TotalShares: 10})
	require.True(t, types.ErrInvalidParameters.Is(err))

	_, err = svc.CreateCompany(CompanyParams{Ticker: "ACME", Name: "X", TotalShares: 10, FloatShares: 20})
	require.True(t, types.ErrInvalidParameters.Is(err))

	// Floating shares without a price is invalid.
	_, err = svc.CreateCompany(CompanyParams{Ticker: "ACME", Name: "X", TotalShares: 10, FloatShares: 5})
	require.True(t, types.ErrInvalidParameters.Is(err))

	listACME(t, svc, 0)
	_, err = svc.CreateCompany(CompanyParams{Ticker: "ACME", Name: "Again", TotalShares: 10})
	require.True(t, types.ErrConflict.Is(err))
}

func TestCreateAccount(t *testing.T) {
	svc := newTestService(t)

	acct, key, err := svc.CreateAccount("alice", dec("5000"))
	require.NoError(t, err)
	require.Equal(t, "alice", acct.ID)
	require.NotEmpty(t, key)
	require.NotEqual(t, key, acct.APIKeyHash)

	_, _, err = svc.CreateAccount("alice", dec("1"))
	require.True(t, types.ErrConflict.Is(err))

	_, _, err = svc.CreateAccount(TreasuryAccountID, dec("1"))
	require.True(t, types.ErrInvalidParameters.Is(err))

	_, _, err = svc.CreateAccount("mallory", dec("-1"))
	require.True(t, types.ErrInvalidParameters.Is(err))
}

func TestBuyFromIPOFloat(t *testing.T) {
	svc := newTestService(t)
	listACME(t, svc, 100)
	_, _, err := svc.CreateAccount("alice", dec("5000"))
	require.NoError(t, err)

	res, err := svc.SubmitOrder("alice", OrderParams{
		Ticker: "ACME", Side: types.SideBuy, Type: types.OrderTypeLimit,
		Price: dec("10.00"), Quantity: 40,
	})
	require.NoError(t, err)
	require.Len(t, res.Fills, 1)
	require.Equal(t, TreasuryAccountID, res.Fills[0].SellerID)
	require.Equal(t, int64(40), res.Fills[0].Quantity)

	// Cash moved to treasury, shares to alice.
	alice, err := svc.store.GetAccount("alice")
	require.NoError(t, err)
	require.True(t, alice.Cash.Equal(dec("4600")), alice.Cash.String())
	treasury, err := svc.store.GetAccount(TreasuryAccountID)
	require.NoError(t, err)
	require.True(t, treasury.Cash.Equal(dec("400")))

	holding, err := svc.store.GetHolding("alice", "ACME")
	require.NoError(t, err)
	require.Equal(t, int64(40), holding.Quantity)
	require.True(t, holding.CostBasis.Equal(dec("400")))
}

func TestSubmitOrderValidation(t *testing.T) {
	svc := newTestService(t)
	listACME(t, svc, 0)
	_, _, err := svc.CreateAccount("alice", dec("100"))
	require.NoError(t, err)

	_, err = svc.SubmitOrder("alice", OrderParams{
		Ticker: "ACME", Side: types.SideBuy, Type: types.OrderTypeLimit,
		Price: dec("10"), Quantity: 0,
	})
	require.True(t, types.ErrInvalidParameters.Is(err))

	_, err = svc.SubmitOrder("alice", OrderParams{
		Ticker: "ACME", Side: types.SideBuy, Type: types.OrderTypeLimit, Quantity: 1,
	})
	require.True(t, types.ErrInvalidParameters.Is(err), "nil price limit order")

	_, err = svc.SubmitOrder("alice", OrderParams{
		Ticker: "NOPE", Side: types.SideBuy, Type: types.OrderTypeLimit,
		Price: dec("10"), Quantity: 1,
	})
	require.True(t, types.ErrNotFound.Is(err))
}

func TestCancelOrderSemantics(t *testing.T) {
	svc := newTestService(t)
	listACME(t, svc, 0)
	_, _, err := svc.CreateAccount("alice", dec("1000"))
	require.NoError(t, err)
	_, _, err = svc.CreateAccount("eve", dec("1000"))
	require.NoError(t, err)

	res, err := svc.SubmitOrder("alice", OrderParams{
		Ticker: "ACME", Side: types.SideBuy, Type: types.OrderTypeLimit,
		Price: dec("5.00"), Quantity: 10,
	})
	require.NoError(t, err)
	orderID := res.Order.ID

	// Someone else's order is forbidden, not missing.
	_, err = svc.CancelOrder("eve", orderID)
	require.True(t, types.ErrForbidden.Is(err))

	cancelled, err := svc.CancelOrder("alice", orderID)
	require.NoError(t, err)
	require.Equal(t, types.OrderStatusCancelled, cancelled.Status)

	// Double cancel conflicts.
	_, err = svc.CancelOrder("alice", orderID)
	require.True(t, types.ErrConflict.Is(err))

	_, err = svc.CancelOrder("alice", "no-such-order")
	require.True(t, types.ErrNotFound.Is(err))

	// The book no longer holds the order.
	bids, _, err := svc.AdminBook("ACME")
	require.NoError(t, err)
	require.Empty(t, bids)
}

func TestListOrdersFiltersAndOrder(t *testing.T) {
	svc := newTestService(t)
	listACME(t, svc, 0)
	_, _, err := svc.CreateAccount("alice", dec("10000"))
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 3; i++ {
		res, err := svc.SubmitOrder("alice", OrderParams{
			Ticker: "ACME", Side: types.SideBuy, Type: types.OrderTypeLimit,
			Price: dec("5.00"), Quantity: 1,
		})
		require.NoError(t, err)
		ids = append(ids, res.Order.ID)
	}
	_, err = svc.CancelOrder("alice", ids[1])
	require.NoError(t, err)

	all, err := svc.ListOrders("alice", "", "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Newest first.
	require.Equal(t, ids[2], all[0].ID)
	require.Equal(t, ids[0], all[2].ID)

	open, err := svc.ListOrders("alice", types.OrderStatusOpen, "")
	require.NoError(t, err)
	require.Len(t, open, 2)

	cancelled, err := svc.ListOrders("alice", types.OrderStatusCancelled, "ACME")
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	require.Equal(t, ids[1], cancelled[0].ID)

	none, err := svc.ListOrders("alice", types.OrderStatusOpen, "OTHER")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestAccountSummaryMarksToMarket(t *testing.T) {
	svc := newTestService(t)
	listACME(t, svc, 100)
	_, _, err := svc.CreateAccount("alice", dec("5000"))
	require.NoError(t, err)

	// Buy 50 at the 10.00 IPO, then trade the price up to 12.00.
	_, err = svc.SubmitOrder("alice", OrderParams{
		Ticker: "ACME", Side: types.SideBuy, Type: types.OrderTypeLimit,
		Price: dec("10.00"), Quantity: 50,
	})
	require.NoError(t, err)
	_, _, err = svc.CreateAccount("bob", dec("5000"))
	require.NoError(t, err)
	_, err = svc.SubmitOrder("alice", OrderParams{
		Ticker: "ACME", Side: types.SideSell, Type: types.OrderTypeLimit,
		Price: dec("12.00"), Quantity: 10,
	})
	require.NoError(t, err)
	_, err = svc.SubmitOrder("bob", OrderParams{
		Ticker: "ACME", Side: types.SideBuy, Type: types.OrderTypeLimit,
		Price: dec("12.00"), Quantity: 10,
	})
	require.NoError(t, err)

	view, err := svc.AccountSummary("alice")
	require.NoError(t, err)
	// 5000 - 500 spent + 120 from the sale.
	require.True(t, view.Account.Cash.Equal(dec("4620")), view.Account.Cash.String())
	require.Len(t, view.Holdings, 1)

	h := view.Holdings[0]
	require.Equal(t, int64(40), h.Quantity)
	require.True(t, h.AvgCost.Equal(dec("10.00")), h.AvgCost.String())
	require.NotNil(t, h.LastPrice)
	require.True(t, h.LastPrice.Equal(dec("12.00")))
	// 40 shares marked at 12 = 480; cost basis 400; PnL 80.
	require.True(t, h.MarketValue.Equal(dec("480")))
	require.True(t, h.UnrealizedPnL.Equal(dec("80")))
	require.True(t, view.TotalValue.Equal(dec("5100")), view.TotalValue.String())
}

func TestMarketDataIPOFallback(t *testing.T) {
	svc := newTestService(t)
	listACME(t, svc, 100)

	md, err := svc.MarketData("ACME")
	require.NoError(t, err)
	require.Nil(t, md.LastPrice)
	require.Nil(t, md.ChangePct)
	// No trades yet: market cap falls back to the IPO price.
	require.NotNil(t, md.MarketCap)
	require.True(t, md.MarketCap.Equal(dec("10000")), md.MarketCap.String())
	// The float is the only quote.
	require.Nil(t, md.BestBid)
	require.NotNil(t, md.BestAsk)
	require.True(t, md.BestAsk.Equal(dec("10.00")))

	_, err = svc.MarketData("NOPE")
	require.True(t, types.ErrNotFound.Is(err))
}

func TestAdminStats(t *testing.T) {
	svc := newTestService(t)
	listACME(t, svc, 100)
	_, _, err := svc.CreateAccount("alice", dec("5000"))
	require.NoError(t, err)
	_, err = svc.SubmitOrder("alice", OrderParams{
		Ticker: "ACME", Side: types.SideBuy, Type: types.OrderTypeLimit,
		Price: dec("10.00"), Quantity: 30,
	})
	require.NoError(t, err)

	stats, err := svc.AdminStats()
	require.NoError(t, err)
	require.Equal(t, 1, stats.Companies)
	require.Equal(t, 2, stats.Accounts) // alice + treasury
	require.Equal(t, int64(2), stats.TotalOrders)
	require.Equal(t, int64(1), stats.OpenOrders) // treasury float remainder
	require.Equal(t, int64(1), stats.TotalTrades)
	require.Equal(t, int64(30), stats.TotalVolume)
}

func TestRebuildRoundTrip(t *testing.T) {
	db := dbm.NewMemDB()
	st := store.New(db, log.NewNopLogger())
	svc := NewService(st, log.NewNopLogger(), nil)
	require.NoError(t, svc.Rebuild())

	listACME(t, svc, 100)
	_, _, err := svc.CreateAccount("alice", dec("5000"))
	require.NoError(t, err)
	_, err = svc.SubmitOrder("alice", OrderParams{
		Ticker: "ACME", Side: types.SideBuy, Type: types.OrderTypeLimit,
		Price: dec("10.00"), Quantity: 30,
	})
	require.NoError(t, err)

	// A fresh service over the same database restores books and history.
	svc2 := NewService(st, log.NewNopLogger(), nil)
	require.NoError(t, svc2.Rebuild())

	_, asks, err := svc2.AdminBook("ACME")
	require.NoError(t, err)
	require.Len(t, asks, 1)
	require.Equal(t, int64(70), asks[0].Remaining)

	last := svc2.index.LastPrice("ACME")
	require.NotNil(t, last)
	require.True(t, last.Equal(dec("10.00")))

	// Matching continues from the restored sequences.
	res, err := svc2.SubmitOrder("alice", OrderParams{
		Ticker: "ACME", Side: types.SideBuy, Type: types.OrderTypeLimit,
		Price: dec("10.00"), Quantity: 10,
	})
	require.NoError(t, err)
	require.Len(t, res.Fills, 1)
	require.Greater(t, res.Fills[0].Seq, uint64(0))
}
