// Package store persists agent definitions in a cosmos-db key-value
// database, one JSON row per agent.
package store

import (
	"encoding/json"
	"fmt"

	"cosmossdk.io/log"
	dbm "github.com/cosmos/cosmos-db"

	"github.com/openalpha/stockex/agent/types"
)

const prefixAgent = "agent/"

// Store wraps the underlying database.
type Store struct {
	db     dbm.DB
	logger log.Logger
}

// New creates a Store on top of an existing database (tests use MemDB).
func New(db dbm.DB, logger log.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Open opens (or creates) the on-disk database under dir.
func Open(dir string, logger log.Logger) (*Store, error) {
	db, err := dbm.NewDB("agents", dbm.GoLevelDBBackend, dir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return New(db, logger), nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func agentKey(id string) []byte { return []byte(prefixAgent + id) }

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

// Put writes an agent row.
func (s *Store) Put(agent *types.Agent) error {
	raw, err := json.Marshal(agent)
	if err != nil {
		return err
	}
	return s.db.SetSync(agentKey(agent.ID), raw)
}

// Get returns the agent or nil if unknown.
func (s *Store) Get(id string) (*types.Agent, error) {
	raw, err := s.db.Get(agentKey(id))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var agent types.Agent
	if err := json.Unmarshal(raw, &agent); err != nil {
		return nil, fmt.Errorf("decode agent %s: %w", id, err)
	}
	return &agent, nil
}

// List returns all agents ordered by id.
func (s *Store) List() ([]*types.Agent, error) {
	prefix := []byte(prefixAgent)
	it, err := s.db.Iterator(prefix, prefixEnd(prefix))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var agents []*types.Agent
	for ; it.Valid(); it.Next() {
		var agent types.Agent
		if err := json.Unmarshal(it.Value(), &agent); err != nil {
			return nil, fmt.Errorf("decode %s: %w", it.Key(), err)
		}
		agents = append(agents, &agent)
	}
	return agents, it.Error()
}

// Delete removes an agent row. Deleting an unknown id is a no-op.
func (s *Store) Delete(id string) error {
	return s.db.DeleteSync(agentKey(id))
}
