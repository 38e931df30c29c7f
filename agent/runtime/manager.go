// Package runtime runs agents: a manager owning their persisted lifecycle
// and one goroutine per running agent evaluating its strategy on a fixed
// interval.
package runtime

import (
	"strings"
	"sync"
	"time"

	"cosmossdk.io/log"
	"github.com/google/uuid"

	"github.com/openalpha/stockex/agent/client"
	"github.com/openalpha/stockex/agent/store"
	"github.com/openalpha/stockex/agent/strategy"
	"github.com/openalpha/stockex/agent/types"
	"github.com/openalpha/stockex/metrics"
)

const (
	minIntervalSeconds     = 1
	maxIntervalSeconds     = 3600
	defaultIntervalSeconds = 10
)

// Manager owns every agent: persisted definitions in the store and one
// runner per RUNNING agent. All lifecycle transitions go through it.
type Manager struct {
	store    *store.Store
	registry *strategy.Registry
	logger   log.Logger

	// newClient is swapped in tests to point runners at a fake exchange.
	newClient func(baseURL, apiKey string) exchangeClient

	mu       sync.Mutex
	runners  map[string]*runner
	failures map[string]int
}

// NewManager creates a manager. No agents run until Resume or StartAgent.
func NewManager(st *store.Store, registry *strategy.Registry, logger log.Logger) *Manager {
	return &Manager{
		store:    st,
		registry: registry,
		logger:   logger,
		newClient: func(baseURL, apiKey string) exchangeClient {
			return client.New(baseURL, apiKey)
		},
		runners:  make(map[string]*runner),
		failures: make(map[string]int),
	}
}

// Registry exposes the strategy catalog for the HTTP layer.
func (m *Manager) Registry() *strategy.Registry { return m.registry }

// CreateParams describes a new agent.
type CreateParams struct {
	Name            string
	ExchangeURL     string
	APIKey          string
	StrategyID      string
	Parameters      map[string]any
	StrategyDoc     string
	IntervalSeconds int
}

// CreateAgent validates the definition (including compiling the strategy)
// and persists it in CREATED state.
func (m *Manager) CreateAgent(p CreateParams) (*types.Agent, error) {
	if strings.TrimSpace(p.Name) == "" {
		return nil, types.ErrInvalidParameters.Wrap("name is required")
	}
	if strings.TrimSpace(p.ExchangeURL) == "" {
		return nil, types.ErrInvalidParameters.Wrap("exchange_url is required")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return nil, types.ErrInvalidParameters.Wrap("api_key is required")
	}
	if p.IntervalSeconds == 0 {
		p.IntervalSeconds = defaultIntervalSeconds
	}
	if p.IntervalSeconds < minIntervalSeconds || p.IntervalSeconds > maxIntervalSeconds {
		return nil, types.ErrInvalidParameters.Wrapf(
			"interval_seconds must be in [%d, %d]", minIntervalSeconds, maxIntervalSeconds)
	}
	// Compile once up front so a broken definition is rejected at creation,
	// not at the first start.
	if _, err := m.registry.New(p.StrategyID, p.Parameters, p.StrategyDoc); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	agent := &types.Agent{
		ID:              uuid.NewString(),
		Name:            p.Name,
		ExchangeURL:     p.ExchangeURL,
		APIKey:          p.APIKey,
		StrategyID:      p.StrategyID,
		Parameters:      p.Parameters,
		StrategyDoc:     p.StrategyDoc,
		IntervalSeconds: p.IntervalSeconds,
		Status:          types.StatusCreated,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := m.store.Put(agent); err != nil {
		return nil, types.ErrInternal.Wrapf("persist agent: %v", err)
	}
	m.logger.Info("agent created", "agent", agent.ID, "strategy", agent.StrategyID)
	return agent, nil
}

// GetAgent returns an agent by id.
func (m *Manager) GetAgent(id string) (*types.Agent, error) {
	agent, err := m.store.Get(id)
	if err != nil {
		return nil, types.ErrInternal.Wrapf("load agent: %v", err)
	}
	if agent == nil {
		return nil, types.ErrNotFound.Wrapf("agent %s", id)
	}
	return agent, nil
}

// ListAgents returns all agents ordered by id.
func (m *Manager) ListAgents() ([]*types.Agent, error) {
	agents, err := m.store.List()
	if err != nil {
		return nil, types.ErrInternal.Wrapf("list agents: %v", err)
	}
	return agents, nil
}

// UpdateParams carries the editable fields; nil pointers leave a field
// untouched.
type UpdateParams struct {
	Name            *string
	Parameters      map[string]any
	StrategyDoc     *string
	IntervalSeconds *int
}

// UpdateAgent edits a stopped, paused or created agent. A running agent
// must be paused first so the edit and the in-flight tick cannot race.
func (m *Manager) UpdateAgent(id string, p UpdateParams) (*types.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	agent, err := m.GetAgent(id)
	if err != nil {
		return nil, err
	}
	if agent.Status == types.StatusRunning {
		return nil, types.ErrConflict.Wrap("agent is running; pause it before editing")
	}

	if p.Name != nil {
		if strings.TrimSpace(*p.Name) == "" {
			return nil, types.ErrInvalidParameters.Wrap("name must not be empty")
		}
		agent.Name = *p.Name
	}
	if p.IntervalSeconds != nil {
		if *p.IntervalSeconds < minIntervalSeconds || *p.IntervalSeconds > maxIntervalSeconds {
			return nil, types.ErrInvalidParameters.Wrapf(
				"interval_seconds must be in [%d, %d]", minIntervalSeconds, maxIntervalSeconds)
		}
		agent.IntervalSeconds = *p.IntervalSeconds
	}
	if p.Parameters != nil {
		agent.Parameters = p.Parameters
	}
	if p.StrategyDoc != nil {
		agent.StrategyDoc = *p.StrategyDoc
	}
	if _, err := m.registry.New(agent.StrategyID, agent.Parameters, agent.StrategyDoc); err != nil {
		return nil, err
	}

	agent.UpdatedAt = time.Now().UTC()
	if err := m.store.Put(agent); err != nil {
		return nil, types.ErrInternal.Wrapf("persist agent: %v", err)
	}
	return agent, nil
}

// DeleteAgent removes an agent, stopping it first if it is running.
func (m *Manager) DeleteAgent(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	agent, err := m.GetAgent(id)
	if err != nil {
		return err
	}
	if r := m.detachRunnerLocked(agent.ID); r != nil {
		m.mu.Unlock()
		r.stop()
		m.mu.Lock()
	}
	if err := m.store.Delete(id); err != nil {
		return types.ErrInternal.Wrapf("delete agent: %v", err)
	}
	m.logger.Info("agent deleted", "agent", id)
	return nil
}

// StartAgent transitions an agent to RUNNING and launches its runner. The
// strategy is built fresh on every start, so cooldown state never survives
// a stop.
func (m *Manager) StartAgent(id string) (*types.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	agent, err := m.GetAgent(id)
	if err != nil {
		return nil, err
	}
	if !types.CanTransition(agent.Status, types.StatusRunning) {
		return nil, types.ErrConflict.Wrapf("cannot start agent in state %s", agent.Status)
	}

	strat, err := m.registry.New(agent.StrategyID, agent.Parameters, agent.StrategyDoc)
	if err != nil {
		return nil, err
	}

	agent.Status = types.StatusRunning
	agent.LastError = ""
	agent.UpdatedAt = time.Now().UTC()
	if err := m.store.Put(agent); err != nil {
		return nil, types.ErrInternal.Wrapf("persist agent: %v", err)
	}

	m.failures[agent.ID] = 0
	r := newRunner(agent, strat, m.newClient(agent.ExchangeURL, agent.APIKey), m.logger, m.onTick)
	m.runners[agent.ID] = r
	r.start()
	metrics.GetCollector().AgentsRunning.Inc()
	m.logger.Info("agent started", "agent", agent.ID, "interval_s", agent.IntervalSeconds)
	return agent, nil
}

// PauseAgent suspends a running agent.
func (m *Manager) PauseAgent(id string) (*types.Agent, error) {
	return m.transitionDown(id, types.StatusPaused)
}

// StopAgent stops a running or paused agent.
func (m *Manager) StopAgent(id string) (*types.Agent, error) {
	return m.transitionDown(id, types.StatusStopped)
}

func (m *Manager) transitionDown(id string, to types.AgentStatus) (*types.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	agent, err := m.GetAgent(id)
	if err != nil {
		return nil, err
	}
	if !types.CanTransition(agent.Status, to) {
		return nil, types.ErrConflict.Wrapf("cannot move agent from %s to %s", agent.Status, to)
	}

	if r := m.detachRunnerLocked(agent.ID); r != nil {
		m.mu.Unlock()
		r.stop()
		m.mu.Lock()
	}
	agent.Status = to
	agent.UpdatedAt = time.Now().UTC()
	if err := m.store.Put(agent); err != nil {
		return nil, types.ErrInternal.Wrapf("persist agent: %v", err)
	}
	m.logger.Info("agent transitioned", "agent", agent.ID, "status", to)
	return agent, nil
}

// Resume restarts every agent the store says was RUNNING. Called once at
// process startup.
func (m *Manager) Resume() error {
	agents, err := m.store.List()
	if err != nil {
		return err
	}
	for _, agent := range agents {
		if agent.Status != types.StatusRunning {
			continue
		}
		// Drop back to PAUSED first so StartAgent's transition check
		// passes; a failed rebuild leaves the agent paused with the
		// reason recorded.
		agent.Status = types.StatusPaused
		if err := m.store.Put(agent); err != nil {
			return err
		}
		if _, err := m.StartAgent(agent.ID); err != nil {
			m.logger.Error("resume failed", "agent", agent.ID, "err", err)
			agent.LastError = err.Error()
			if err := m.store.Put(agent); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close stops every runner. Agent rows keep their RUNNING status so Resume
// picks them back up after a restart.
func (m *Manager) Close() {
	m.mu.Lock()
	var stopped []*runner
	for id := range m.runners {
		if r := m.detachRunnerLocked(id); r != nil {
			stopped = append(stopped, r)
		}
	}
	m.mu.Unlock()
	for _, r := range stopped {
		r.stop()
	}
}

// detachRunnerLocked removes a runner from the table without waiting for
// it. Caller holds m.mu and decides whether to wait on r.stop().
func (m *Manager) detachRunnerLocked(id string) *runner {
	r, ok := m.runners[id]
	if !ok {
		return nil
	}
	delete(m.runners, id)
	metrics.GetCollector().AgentsRunning.Dec()
	return r
}

// onTick folds one tick's outcome into the persisted counters and trips the
// error budget: ten consecutive failed ticks park the agent in ERROR.
func (m *Manager) onTick(id string, res tickResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	agent, err := m.store.Get(id)
	if err != nil || agent == nil {
		return
	}
	agent.TotalTicks++
	agent.TotalTrades += res.trades
	if res.err == nil {
		m.failures[id] = 0
		agent.LastError = ""
	} else {
		m.failures[id]++
		agent.LastError = res.err.Error()
		if m.failures[id] >= maxConsecutiveErrs {
			m.logger.Error("agent exceeded error budget", "agent", id, "failures", m.failures[id])
			// Called from the runner's own goroutine, so cancel without
			// waiting; the loop exits once this callback returns.
			if r := m.detachRunnerLocked(id); r != nil {
				r.cancel()
			}
			agent.Status = types.StatusError
			agent.UpdatedAt = time.Now().UTC()
		}
	}
	if err := m.store.Put(agent); err != nil {
		m.logger.Error("persist tick counters", "agent", id, "err", err)
	}
}
