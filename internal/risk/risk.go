// Package risk implements stateless per-order risk checks.
package risk

import (
	"log"
	"os"

	"github.com/jfenwick/microtrader/internal/models"
	"github.com/jfenwick/microtrader/internal/util"
)

// Config holds the per-order risk limits. It is owned by the caller and may
// be adjusted between polling cycles (e.g. by the AI tuner); the manager
// reads the current values on every Approve call and never mutates them.
type Config struct {
	// MaxNotionalPerOrder is an absolute cap per order (100.0 = $100).
	MaxNotionalPerOrder float64 `yaml:"max_notional_per_order"`
	// MaxCashUtilization is the fraction of available cash a single BUY may
	// consume (0.1 = 10%).
	MaxCashUtilization float64 `yaml:"max_cash_utilization"`
	// AllowShortSelling permits SELL quantity to exceed the current long
	// position. When false, no new shorts can be opened.
	AllowShortSelling bool `yaml:"allow_short_selling"`
}

// DefaultConfig mirrors the conservative paper-trading defaults.
var DefaultConfig = Config{
	MaxNotionalPerOrder: 100.0,
	MaxCashUtilization:  0.1,
	AllowShortSelling:   false,
}

// riskPatchClampRatio bounds how far a single tuning patch may move a limit
// relative to its current value.
const riskPatchClampRatio = 2.0

// Tunables returns the numeric fields the external tuner may adjust.
func (c *Config) Tunables() map[string]float64 {
	return map[string]float64{
		"max_notional_per_order": c.MaxNotionalPerOrder,
		"max_cash_utilization":   c.MaxCashUtilization,
	}
}

// ApplyPatch applies numeric updates through the declared tunable set.
// Changes exceeding 2x the current value are clamped, unknown keys are
// ignored, and short selling can never be enabled through a patch.
func (c *Config) ApplyPatch(patch map[string]float64) {
	for key, val := range patch {
		switch key {
		case "max_notional_per_order":
			c.MaxNotionalPerOrder = clampChange(c.MaxNotionalPerOrder, val)
		case "max_cash_utilization":
			c.MaxCashUtilization = clampChange(c.MaxCashUtilization, val)
		}
	}
}

func clampChange(old, proposed float64) float64 {
	if old == 0 {
		return proposed
	}
	ratio := proposed / old
	if ratio < 0 {
		ratio = -ratio
	}
	if ratio > riskPatchClampRatio {
		if proposed > 0 {
			return old * riskPatchClampRatio
		}
		return old * -riskPatchClampRatio
	}
	return proposed
}

// Manager evaluates order intents against the risk config. It holds no
// mutable state of its own: Approve is a pure predicate over its inputs and
// the config's current values.
type Manager struct {
	config *Config
	logger *log.Logger
}

// NewManager creates a risk manager reading limits from config. The config
// pointer is shared with the tuner on purpose; see Config.
func NewManager(config *Config, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "risk: ", log.LstdFlags)
	}
	return &Manager{config: config, logger: logger}
}

// Approve decides whether an order intent may proceed, short-circuiting on
// the first failing check:
//
//  1. deny when no price can be inferred;
//  2. deny when notional exceeds the per-order cap;
//  3. for buys, deny when notional exceeds the allowed cash fraction;
//  4. for sells with shorting disallowed, deny when the held quantity is
//     not positive or smaller than the requested quantity.
//
// Denial is an expected outcome, logged but never an error.
func (m *Manager) Approve(
	oi models.OrderIntent,
	quote models.Quote,
	snapshot models.AccountSnapshot,
	holdings map[string]models.Holding,
) bool {
	price, ok := util.InferPrice(oi, quote)
	if !ok {
		m.logger.Printf("rejecting %s (no usable price)", oi)
		return false
	}

	notional := price * oi.Quantity
	if notional > m.config.MaxNotionalPerOrder {
		m.logger.Printf("rejecting %s (notional %.2f > max_notional_per_order %.2f)",
			oi, notional, m.config.MaxNotionalPerOrder)
		return false
	}

	if oi.Side == models.SideBuy {
		maxAllowed := snapshot.CashAvailable * m.config.MaxCashUtilization
		if notional > maxAllowed {
			m.logger.Printf("rejecting %s (notional %.2f > cash_allowed %.2f)",
				oi, notional, maxAllowed)
			return false
		}
	}

	if oi.Side == models.SideSell && !m.config.AllowShortSelling {
		held := heldQuantity(oi.Symbol, holdings)
		if held <= 0 || oi.Quantity > held {
			m.logger.Printf("rejecting %s (sell qty %.2f > holdings %.2f)",
				oi, oi.Quantity, held)
			return false
		}
	}

	return true
}

// heldQuantity looks up the currently held quantity for a symbol, treating
// absent entries as zero.
func heldQuantity(symbol string, holdings map[string]models.Holding) float64 {
	h, ok := holdings[models.NormalizeSymbol(symbol)]
	if !ok {
		return 0
	}
	return h.Quantity
}
