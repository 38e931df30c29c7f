package exchange

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"cosmossdk.io/log"
	dbm "github.com/cosmos/cosmos-db"
	"github.com/stretchr/testify/require"

	"github.com/openalpha/stockex/exchange/store"
	"github.com/openalpha/stockex/exchange/types"
)

// faultDB wraps a MemDB and injects transient failures: reads of one key,
// or batch writes, each for a bounded number of hits.
type faultDB struct {
	dbm.DB
	mu        sync.Mutex
	readKey   []byte
	readFails int
	writeFail int
}

func (f *faultDB) failReads(key []byte, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readKey, f.readFails = key, n
}

func (f *faultDB) failWrites(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeFail = n
}

func (f *faultDB) Get(key []byte) ([]byte, error) {
	f.mu.Lock()
	if f.readFails > 0 && bytes.Equal(key, f.readKey) {
		f.readFails--
		f.mu.Unlock()
		return nil, errors.New("read i/o failure")
	}
	f.mu.Unlock()
	return f.DB.Get(key)
}

func (f *faultDB) NewBatch() dbm.Batch {
	return &faultBatch{Batch: f.DB.NewBatch(), db: f}
}

type faultBatch struct {
	dbm.Batch
	db *faultDB
}

func (b *faultBatch) WriteSync() error {
	b.db.mu.Lock()
	if b.db.writeFail > 0 {
		b.db.writeFail--
		b.db.mu.Unlock()
		return errors.New("write i/o failure")
	}
	b.db.mu.Unlock()
	return b.Batch.WriteSync()
}

func newFaultService(t *testing.T) (*Service, *faultDB, *store.Store) {
	t.Helper()
	fdb := &faultDB{DB: dbm.NewMemDB()}
	st := store.New(fdb, log.NewNopLogger())
	svc := NewService(st, log.NewNopLogger(), nil)
	require.NoError(t, svc.Rebuild())
	return svc, fdb, st
}

func TestSubmitStoreFailureRestoresBook(t *testing.T) {
	svc, fdb, st := newFaultService(t)
	listACME(t, svc, 10)
	for _, id := range []string{"buyer", "s1", "s2"} {
		_, _, err := svc.CreateAccount(id, dec("10000"))
		require.NoError(t, err)
	}
	// Move the float to the sellers so the treasury ask is fully consumed.
	for _, id := range []string{"s1", "s2"} {
		_, err := svc.SubmitOrder(id, OrderParams{
			Ticker: "ACME", Side: types.SideBuy, Type: types.OrderTypeLimit,
			Price: dec("10.00"), Quantity: 5,
		})
		require.NoError(t, err)
	}

	res1, err := svc.SubmitOrder("s1", OrderParams{
		Ticker: "ACME", Side: types.SideSell, Type: types.OrderTypeLimit,
		Price: dec("10.00"), Quantity: 5,
	})
	require.NoError(t, err)
	res2, err := svc.SubmitOrder("s2", OrderParams{
		Ticker: "ACME", Side: types.SideSell, Type: types.OrderTypeLimit,
		Price: dec("11.00"), Quantity: 5,
	})
	require.NoError(t, err)

	// The walk fills the first ask, then fails reading the second maker's
	// row mid-walk.
	fdb.failReads([]byte("order/"+res2.Order.ID), 1)

	_, err = svc.SubmitOrder("buyer", OrderParams{
		Ticker: "ACME", Side: types.SideBuy, Type: types.OrderTypeMarket, Quantity: 10,
	})
	require.Error(t, err)

	// The first fill was rolled back with the transaction.
	o1, err := st.GetOrder(res1.Order.ID)
	require.NoError(t, err)
	require.Equal(t, types.OrderStatusOpen, o1.Status)
	require.Equal(t, int64(5), o1.Remaining)

	buyer, err := st.GetAccount("buyer")
	require.NoError(t, err)
	require.True(t, buyer.Cash.Equal(dec("10000")), buyer.Cash.String())

	// The restored book still offers both asks in price order.
	asks := svc.ticker("ACME").book.Entries(types.SideSell)
	require.Len(t, asks, 2)
	require.Equal(t, res1.Order.ID, asks[0].OrderID)
	require.Equal(t, int64(5), asks[0].Remaining)
	require.Equal(t, res2.Order.ID, asks[1].OrderID)

	// And that liquidity is matchable again.
	res, err := svc.SubmitOrder("buyer", OrderParams{
		Ticker: "ACME", Side: types.SideBuy, Type: types.OrderTypeMarket, Quantity: 5,
	})
	require.NoError(t, err)
	require.Len(t, res.Fills, 1)
	require.Equal(t, res1.Order.ID, res.Fills[0].SellOrderID)
	require.True(t, res.Fills[0].Price.Equal(dec("10.00")))
}

func TestCommitRetriesOnceOnTransientFailure(t *testing.T) {
	svc, fdb, st := newFaultService(t)
	listACME(t, svc, 100)
	_, _, err := svc.CreateAccount("alice", dec("5000"))
	require.NoError(t, err)

	// One failed batch write: the staged transaction commits on the retry.
	fdb.failWrites(1)
	res, err := svc.SubmitOrder("alice", OrderParams{
		Ticker: "ACME", Side: types.SideBuy, Type: types.OrderTypeLimit,
		Price: dec("10.00"), Quantity: 10,
	})
	require.NoError(t, err)
	require.Len(t, res.Fills, 1)

	o, err := st.GetOrder(res.Order.ID)
	require.NoError(t, err)
	require.Equal(t, types.OrderStatusFilled, o.Status)

	alice, err := st.GetAccount("alice")
	require.NoError(t, err)
	require.True(t, alice.Cash.Equal(dec("4900")), alice.Cash.String())
}

func TestCommitFailureAfterRetryRollsBack(t *testing.T) {
	svc, fdb, st := newFaultService(t)
	listACME(t, svc, 100)
	_, _, err := svc.CreateAccount("alice", dec("5000"))
	require.NoError(t, err)

	// Both the write and its retry fail: the submit surfaces as internal
	// and nothing persists.
	fdb.failWrites(2)
	_, err = svc.SubmitOrder("alice", OrderParams{
		Ticker: "ACME", Side: types.SideBuy, Type: types.OrderTypeLimit,
		Price: dec("10.00"), Quantity: 10,
	})
	require.True(t, types.ErrInternal.Is(err), "got %v", err)

	alice, err := st.GetAccount("alice")
	require.NoError(t, err)
	require.True(t, alice.Cash.Equal(dec("5000")), alice.Cash.String())

	// The book was restored to the committed state: the full float rests.
	asks := svc.ticker("ACME").book.Entries(types.SideSell)
	require.Len(t, asks, 1)
	require.Equal(t, int64(100), asks[0].Remaining)

	// With the fault gone the same order goes through.
	res, err := svc.SubmitOrder("alice", OrderParams{
		Ticker: "ACME", Side: types.SideBuy, Type: types.OrderTypeLimit,
		Price: dec("10.00"), Quantity: 10,
	})
	require.NoError(t, err)
	require.Len(t, res.Fills, 1)
}
