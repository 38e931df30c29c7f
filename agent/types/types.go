// Package types defines the agent platform's domain model: agents, their
// lifecycle states and the platform's registered errors.
package types

import (
	"fmt"
	"strings"
	"time"
)

// AgentStatus is the lifecycle state of an agent.
type AgentStatus string

const (
	StatusCreated AgentStatus = "CREATED"
	StatusRunning AgentStatus = "RUNNING"
	StatusPaused  AgentStatus = "PAUSED"
	StatusStopped AgentStatus = "STOPPED"
	StatusError   AgentStatus = "ERROR"
)

// ParseAgentStatus parses a wire-format status literal.
func ParseAgentStatus(s string) (AgentStatus, error) {
	switch AgentStatus(strings.ToUpper(s)) {
	case StatusCreated, StatusRunning, StatusPaused, StatusStopped, StatusError:
		return AgentStatus(strings.ToUpper(s)), nil
	default:
		return "", fmt.Errorf("invalid agent status %q", s)
	}
}

// CanTransition reports whether the user-driven transition from -> to is
// legal. ERROR is entered only by the runtime; leaving it requires an
// explicit start.
func CanTransition(from, to AgentStatus) bool {
	switch to {
	case StatusRunning:
		return from == StatusCreated || from == StatusPaused || from == StatusError || from == StatusStopped
	case StatusPaused:
		return from == StatusRunning
	case StatusStopped:
		return from == StatusRunning || from == StatusPaused
	default:
		return false
	}
}

// Agent is a persisted trading agent. StrategyDoc carries the YAML source
// for rule-based agents; Parameters configures built-in strategies.
type Agent struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	ExchangeURL     string         `json:"exchange_url"`
	APIKey          string         `json:"api_key"`
	StrategyID      string         `json:"strategy_id"`
	Parameters      map[string]any `json:"parameters,omitempty"`
	StrategyDoc     string         `json:"strategy_doc,omitempty"`
	IntervalSeconds int            `json:"interval_seconds"`
	Status          AgentStatus    `json:"status"`
	LastError       string         `json:"last_error,omitempty"`
	TotalTicks      int64          `json:"total_ticks"`
	TotalTrades     int64          `json:"total_trades"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}
