package store

import (
	"encoding/json"
	"fmt"

	"github.com/openalpha/stockex/exchange/types"
)

// Tx is a write transaction. Writes are staged in an overlay and flushed to
// the database as one atomic batch on Commit; Discard drops them. Reads see
// staged writes (read-your-writes). Only one Tx runs at a time, which is the
// store-level serialization point; the matching engine additionally holds
// the per-ticker lock while a Tx is open.
type Tx struct {
	store   *Store
	overlay map[string][]byte // staged value, nil means staged delete
	order   []string          // key write order, for deterministic batches
	done    bool
}

// Begin starts a write transaction, blocking until it is the only one.
func (s *Store) Begin() *Tx {
	s.writeM.Lock()
	return &Tx{store: s, overlay: make(map[string][]byte)}
}

func (tx *Tx) stage(key []byte, value []byte) {
	k := string(key)
	if _, seen := tx.overlay[k]; !seen {
		tx.order = append(tx.order, k)
	}
	tx.overlay[k] = value
}

func (tx *Tx) get(key []byte) ([]byte, error) {
	if v, ok := tx.overlay[string(key)]; ok {
		return v, nil
	}
	return tx.store.db.Get(key)
}

func (tx *Tx) getJSON(key []byte, v any) (bool, error) {
	raw, err := tx.get(key)
	if err != nil || raw == nil {
		return false, err
	}
	return true, json.Unmarshal(raw, v)
}

func (tx *Tx) putJSON(key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	tx.stage(key, raw)
	return nil
}

// Commit writes all staged mutations atomically and releases the store. A
// failed write is retried once while the overlay is still staged; a second
// failure surfaces to the caller.
func (tx *Tx) Commit() error {
	if tx.done {
		return fmt.Errorf("transaction already finished")
	}
	tx.done = true
	defer tx.store.writeM.Unlock()

	err := tx.flush()
	if err != nil {
		tx.store.logger.Error("batch write failed, retrying once", "err", err)
		err = tx.flush()
	}
	return err
}

func (tx *Tx) flush() error {
	batch := tx.store.db.NewBatch()
	defer batch.Close()
	for _, k := range tx.order {
		v := tx.overlay[k]
		if v == nil {
			if err := batch.Delete([]byte(k)); err != nil {
				return err
			}
			continue
		}
		if err := batch.Set([]byte(k), v); err != nil {
			return err
		}
	}
	return batch.WriteSync()
}

// Discard drops all staged mutations and releases the store.
func (tx *Tx) Discard() {
	if tx.done {
		return
	}
	tx.done = true
	tx.overlay = nil
	tx.store.writeM.Unlock()
}

// ---- table accessors ----

// GetCompany returns the company or nil.
func (tx *Tx) GetCompany(ticker string) (*types.Company, error) {
	var c types.Company
	ok, err := tx.getJSON(companyKey(ticker), &c)
	if !ok || err != nil {
		return nil, err
	}
	return &c, nil
}

// PutCompany stages a company row.
func (tx *Tx) PutCompany(c *types.Company) error {
	return tx.putJSON(companyKey(c.Ticker), c)
}

// GetAccount returns the account or nil.
func (tx *Tx) GetAccount(id string) (*types.Account, error) {
	var a types.Account
	ok, err := tx.getJSON(accountKey(id), &a)
	if !ok || err != nil {
		return nil, err
	}
	return &a, nil
}

// PutAccount stages an account row.
func (tx *Tx) PutAccount(a *types.Account) error {
	return tx.putJSON(accountKey(a.ID), a)
}

// PutAPIKeyIndex stages the api-key-hash -> account index entry.
func (tx *Tx) PutAPIKeyIndex(hash, accountID string) {
	tx.stage(apiKeyKey(hash), []byte(accountID))
}

// GetHolding returns the holding row or nil.
func (tx *Tx) GetHolding(accountID, ticker string) (*types.Holding, error) {
	var h types.Holding
	ok, err := tx.getJSON(holdingKey(accountID, ticker), &h)
	if !ok || err != nil {
		return nil, err
	}
	return &h, nil
}

// PutHolding stages a holding row.
func (tx *Tx) PutHolding(h *types.Holding) error {
	return tx.putJSON(holdingKey(h.AccountID, h.Ticker), h)
}

// DeleteHolding stages removal of a holding row (quantity reached zero).
func (tx *Tx) DeleteHolding(accountID, ticker string) {
	tx.stage(holdingKey(accountID, ticker), nil)
}

// GetOrder returns the order or nil.
func (tx *Tx) GetOrder(id string) (*types.Order, error) {
	var o types.Order
	ok, err := tx.getJSON(orderKey(id), &o)
	if !ok || err != nil {
		return nil, err
	}
	return &o, nil
}

// PutOrder stages the order row, the per-account index, and keeps the
// open-order index in sync with the order's status.
func (tx *Tx) PutOrder(o *types.Order) error {
	if err := tx.putJSON(orderKey(o.ID), o); err != nil {
		return err
	}
	tx.stage(accountOrderKey(o.AccountID, o.ID), []byte{1})
	if o.IsActive() {
		tx.stage(openOrderKey(o.Ticker, o.ID), []byte{1})
	} else {
		tx.stage(openOrderKey(o.Ticker, o.ID), nil)
	}
	return nil
}

// AppendTrade stages an append-only trade row keyed by per-ticker sequence.
func (tx *Tx) AppendTrade(t *types.Trade) error {
	return tx.putJSON(tradeKey(t.Ticker, t.Seq), t)
}
