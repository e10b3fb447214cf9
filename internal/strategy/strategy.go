// Package strategy contains the trade-signal producers. Strategies are
// polymorphic: the engine only cares that each one maps quotes to order
// intents. Sizing and permission are the risk manager's job, not theirs.
package strategy

import (
	"fmt"

	"github.com/jfenwick/microtrader/internal/models"
)

// Strategy is implemented by every signal producer.
type Strategy interface {
	// Name identifies the strategy instance in fills and stats.
	Name() string
	// OnQuote is called once per quote and returns zero or more intents.
	OnQuote(quote models.Quote) []models.OrderIntent
	// SetPosition syncs the strategy's view of its inventory. Called by the
	// engine after fills change the ledger.
	SetPosition(quantity float64)
	// Tunables exposes the numeric parameters the AI tuner may adjust.
	Tunables() map[string]float64
	// ApplyPatch applies clamped numeric updates to tunable parameters.
	ApplyPatch(patch map[string]float64)
}

// strategyPatchClampRatio bounds a single tuning change relative to the
// current parameter value.
const strategyPatchClampRatio = 3.0

func clampChange(old, proposed float64) float64 {
	if old == 0 {
		return proposed
	}
	ratio := proposed / old
	if ratio < 0 {
		ratio = -ratio
	}
	if ratio > strategyPatchClampRatio {
		if proposed > 0 {
			return old * strategyPatchClampRatio
		}
		return old * -strategyPatchClampRatio
	}
	return proposed
}

// Spec describes one strategy instance in the config file.
type Spec struct {
	Type   string             `yaml:"type"`
	Name   string             `yaml:"name"`
	Config map[string]float64 `yaml:"config"`
	Symbol string             `yaml:"symbol"`
}

// Build constructs a strategy from its config spec. Unknown types and
// invalid parameters are construction-time failures.
func Build(spec Spec) (Strategy, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("strategy spec requires a name")
	}
	if spec.Symbol == "" {
		return nil, fmt.Errorf("strategy %s requires a symbol", spec.Name)
	}
	switch spec.Type {
	case "market_maker":
		return NewMarketMaker(spec.Name, spec.Symbol, spec.Config)
	case "trend_scalper":
		return NewTrendScalper(spec.Name, spec.Symbol, spec.Config)
	default:
		return nil, fmt.Errorf("unknown strategy type %q", spec.Type)
	}
}

// cfgValue reads an optional numeric parameter with a default.
func cfgValue(cfg map[string]float64, key string, def float64) float64 {
	if cfg == nil {
		return def
	}
	if v, ok := cfg[key]; ok {
		return v
	}
	return def
}
