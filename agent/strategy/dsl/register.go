package dsl

import (
	"strings"

	"github.com/openalpha/stockex/agent/strategy"
	"github.com/openalpha/stockex/agent/types"
)

// InstallInto registers the rule_based strategy in a registry. Kept here so
// the strategy package does not import its own compiler.
func InstallInto(r *strategy.Registry) {
	r.Register(strategy.Definition{
		ID:          "rule_based",
		Name:        "Rule Based",
		Description: "Executes a YAML rule document: prioritized condition/action rules with cooldowns and budget clamping.",
		IsDSL:       true,
	}, func(_ map[string]any, doc string) (strategy.Strategy, error) {
		if strings.TrimSpace(doc) == "" {
			return nil, types.ErrStrategyInvalid.Wrap("strategy document is required")
		}
		return Compile([]byte(doc))
	})
}
