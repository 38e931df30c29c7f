// Package store persists exchange state in a cosmos-db key-value database.
//
// Five logical tables are laid out under key prefixes: companies, accounts,
// holdings, orders and the append-only trade log, plus two secondary indexes
// (api-key hash -> account, open orders per ticker). All mutations go through
// a Tx, which stages writes in memory and commits them as a single atomic
// batch; the in-memory order book is a rebuildable cache on top of this.
package store

import (
	"encoding/json"
	"fmt"
	"sync"

	"cosmossdk.io/log"
	dbm "github.com/cosmos/cosmos-db"

	"github.com/openalpha/stockex/exchange/types"
)

const (
	prefixCompany      = "company/"
	prefixAccount      = "account/"
	prefixAPIKey       = "apikey/"
	prefixHolding      = "holding/"
	prefixOrder        = "order/"
	prefixAccountOrder = "aorder/"
	prefixOpenOrder    = "open/"
	prefixTrade        = "trade/"
)

// Store wraps the underlying database. Reads outside a transaction go
// straight to the database; writes are serialized through Begin.
type Store struct {
	db     dbm.DB
	writeM sync.Mutex
	logger log.Logger
}

// New creates a Store on top of an existing database (tests use MemDB).
func New(db dbm.DB, logger log.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Open opens (or creates) the on-disk database under dir.
func Open(dir string, logger log.Logger) (*Store, error) {
	db, err := dbm.NewDB("exchange", dbm.GoLevelDBBackend, dir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return New(db, logger), nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func companyKey(ticker string) []byte  { return []byte(prefixCompany + ticker) }
func accountKey(id string) []byte      { return []byte(prefixAccount + id) }
func apiKeyKey(hash string) []byte     { return []byte(prefixAPIKey + hash) }
func orderKey(id string) []byte        { return []byte(prefixOrder + id) }
func holdingKey(acct, t string) []byte { return []byte(prefixHolding + acct + "/" + t) }

func accountOrderKey(acct, orderID string) []byte {
	return []byte(prefixAccountOrder + acct + "/" + orderID)
}

func openOrderKey(ticker, orderID string) []byte {
	return []byte(prefixOpenOrder + ticker + "/" + orderID)
}

func tradeKey(ticker string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", prefixTrade, ticker, seq))
}

// prefixEnd returns the smallest key strictly greater than every key with
// the given prefix, for use as an iterator upper bound.
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

func getJSON[T any](db dbm.DB, key []byte) (*T, error) {
	raw, err := db.Get(key)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &v, nil
}

// ---- read-only accessors (latest committed state) ----

// GetCompany returns the company or nil if the ticker is unknown.
func (s *Store) GetCompany(ticker string) (*types.Company, error) {
	return getJSON[types.Company](s.db, companyKey(ticker))
}

// ListCompanies returns all companies ordered by ticker.
func (s *Store) ListCompanies() ([]*types.Company, error) {
	return scanJSON[types.Company](s.db, []byte(prefixCompany))
}

// GetAccount returns the account or nil if unknown.
func (s *Store) GetAccount(id string) (*types.Account, error) {
	return getJSON[types.Account](s.db, accountKey(id))
}

// ListAccounts returns all accounts ordered by id.
func (s *Store) ListAccounts() ([]*types.Account, error) {
	return scanJSON[types.Account](s.db, []byte(prefixAccount))
}

// AccountIDByKeyHash resolves an API-key hash to an account id, or "" when
// the hash is unknown.
func (s *Store) AccountIDByKeyHash(hash string) (string, error) {
	raw, err := s.db.Get(apiKeyKey(hash))
	if err != nil || raw == nil {
		return "", err
	}
	return string(raw), nil
}

// GetHolding returns the holding row or nil when the account holds nothing.
func (s *Store) GetHolding(accountID, ticker string) (*types.Holding, error) {
	return getJSON[types.Holding](s.db, holdingKey(accountID, ticker))
}

// ListHoldings returns all holdings of one account ordered by ticker.
func (s *Store) ListHoldings(accountID string) ([]*types.Holding, error) {
	return scanJSON[types.Holding](s.db, []byte(prefixHolding+accountID+"/"))
}

// GetOrder returns the order or nil if unknown.
func (s *Store) GetOrder(id string) (*types.Order, error) {
	return getJSON[types.Order](s.db, orderKey(id))
}

// ListAccountOrders returns all orders placed by an account.
func (s *Store) ListAccountOrders(accountID string) ([]*types.Order, error) {
	prefix := []byte(prefixAccountOrder + accountID + "/")
	it, err := s.db.Iterator(prefix, prefixEnd(prefix))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var orders []*types.Order
	for ; it.Valid(); it.Next() {
		orderID := string(it.Key()[len(prefix):])
		order, err := s.GetOrder(orderID)
		if err != nil {
			return nil, err
		}
		if order != nil {
			orders = append(orders, order)
		}
	}
	return orders, it.Error()
}

// OpenOrders returns every OPEN/PARTIAL order resting for a ticker. Used to
// rebuild the in-memory book on startup.
func (s *Store) OpenOrders(ticker string) ([]*types.Order, error) {
	prefix := []byte(prefixOpenOrder + ticker + "/")
	it, err := s.db.Iterator(prefix, prefixEnd(prefix))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var orders []*types.Order
	for ; it.Valid(); it.Next() {
		orderID := string(it.Key()[len(prefix):])
		order, err := s.GetOrder(orderID)
		if err != nil {
			return nil, err
		}
		if order != nil && order.IsActive() {
			orders = append(orders, order)
		}
	}
	return orders, it.Error()
}

// AllOrders iterates every order row. Used by admin stats only.
func (s *Store) AllOrders(fn func(*types.Order) bool) error {
	prefix := []byte(prefixOrder)
	it, err := s.db.Iterator(prefix, prefixEnd(prefix))
	if err != nil {
		return err
	}
	defer it.Close()

	for ; it.Valid(); it.Next() {
		var order types.Order
		if err := json.Unmarshal(it.Value(), &order); err != nil {
			return err
		}
		if !fn(&order) {
			break
		}
	}
	return it.Error()
}

// Trades iterates the trade log of a ticker in ascending sequence order.
func (s *Store) Trades(ticker string, fn func(*types.Trade) bool) error {
	prefix := []byte(prefixTrade + ticker + "/")
	it, err := s.db.Iterator(prefix, prefixEnd(prefix))
	if err != nil {
		return err
	}
	defer it.Close()

	for ; it.Valid(); it.Next() {
		var trade types.Trade
		if err := json.Unmarshal(it.Value(), &trade); err != nil {
			return err
		}
		if !fn(&trade) {
			break
		}
	}
	return it.Error()
}

// LastTradeSeq returns the sequence of the newest trade for a ticker, or 0.
func (s *Store) LastTradeSeq(ticker string) (uint64, error) {
	prefix := []byte(prefixTrade + ticker + "/")
	it, err := s.db.ReverseIterator(prefix, prefixEnd(prefix))
	if err != nil {
		return 0, err
	}
	defer it.Close()

	if !it.Valid() {
		return 0, it.Error()
	}
	var trade types.Trade
	if err := json.Unmarshal(it.Value(), &trade); err != nil {
		return 0, err
	}
	return trade.Seq, nil
}

func scanJSON[T any](db dbm.DB, prefix []byte) ([]*T, error) {
	it, err := db.Iterator(prefix, prefixEnd(prefix))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []*T
	for ; it.Valid(); it.Next() {
		var v T
		if err := json.Unmarshal(it.Value(), &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", it.Key(), err)
		}
		out = append(out, &v)
	}
	return out, it.Error()
}
