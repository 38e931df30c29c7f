package strategy

import (
	"sort"

	"github.com/openalpha/stockex/agent/types"
)

// ParameterSchema documents one tunable of a built-in strategy.
type ParameterSchema struct {
	Name        string  `json:"name"`
	Type        string  `json:"type"` // "int", "float"
	Default     any     `json:"default"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Description string  `json:"description"`
}

// Definition describes an available strategy.
type Definition struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Parameters  []ParameterSchema `json:"parameters,omitempty"`
	IsDSL       bool              `json:"is_dsl"`
}

// Factory builds a strategy instance for an agent. doc is the YAML source
// for DSL strategies, empty otherwise.
type Factory func(params map[string]any, doc string) (Strategy, error)

type registration struct {
	def     Definition
	factory Factory
}

// Registry holds the available strategies.
type Registry struct {
	entries map[string]registration
}

// NewRegistry returns a registry with the built-in strategies installed.
// The rule_based factory is registered by the dsl package wiring to avoid
// an import cycle; callers use Register.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[string]registration)}
	r.Register(randomDefinition(), newRandomStrategy)
	return r
}

// Register installs a strategy definition and its factory.
func (r *Registry) Register(def Definition, factory Factory) {
	r.entries[def.ID] = registration{def: def, factory: factory}
}

// Definitions lists all strategies ordered by id.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Definition returns one strategy definition.
func (r *Registry) Definition(id string) (Definition, error) {
	e, ok := r.entries[id]
	if !ok {
		return Definition{}, types.ErrNotFound.Wrapf("unknown strategy %s", id)
	}
	return e.def, nil
}

// New instantiates a strategy for an agent.
func (r *Registry) New(id string, params map[string]any, doc string) (Strategy, error) {
	e, ok := r.entries[id]
	if !ok {
		return nil, types.ErrNotFound.Wrapf("unknown strategy %s", id)
	}
	return e.factory(params, doc)
}
