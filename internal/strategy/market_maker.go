package strategy

import (
	"fmt"
	"math"

	"github.com/jfenwick/microtrader/internal/models"
	"github.com/jfenwick/microtrader/internal/util"
)

// MarketMaker posts a bid and an ask around the current mid price, widening
// the quoted spread as recent realized volatility rises and keeping its
// inventory within +/- maxInventory as seen through SetPosition.
type MarketMaker struct {
	name   string
	symbol string

	baseSpread    float64
	minSpread     float64
	maxSpread     float64
	orderQuantity float64
	maxInventory  float64
	volWindow     int
	volToSpread   float64

	position   float64
	spread     float64 // current effective spread, visible to the tuner
	midHistory []float64
}

// NewMarketMaker validates the config and returns a ready strategy.
func NewMarketMaker(name, symbol string, cfg map[string]float64) (*MarketMaker, error) {
	base := cfgValue(cfg, "spread", 0.05)
	m := &MarketMaker{
		name:          name,
		symbol:        models.NormalizeSymbol(symbol),
		baseSpread:    base,
		minSpread:     cfgValue(cfg, "min_spread", base/2),
		maxSpread:     cfgValue(cfg, "max_spread", base*2),
		orderQuantity: cfgValue(cfg, "order_quantity", 1),
		maxInventory:  cfgValue(cfg, "max_inventory", 5),
		volWindow:     int(cfgValue(cfg, "vol_window", 50)),
		volToSpread:   cfgValue(cfg, "vol_to_spread", 1),
		spread:        base,
	}

	if m.baseSpread <= 0 {
		return nil, fmt.Errorf("market maker %s: spread must be > 0", name)
	}
	if m.minSpread <= 0 || m.maxSpread < m.minSpread {
		return nil, fmt.Errorf("market maker %s: need 0 < min_spread <= max_spread", name)
	}
	if m.orderQuantity <= 0 {
		return nil, fmt.Errorf("market maker %s: order_quantity must be > 0", name)
	}
	if m.maxInventory <= 0 {
		return nil, fmt.Errorf("market maker %s: max_inventory must be > 0", name)
	}
	return m, nil
}

// Name implements Strategy.
func (m *MarketMaker) Name() string { return m.name }

// SetPosition syncs inventory from the execution layer.
func (m *MarketMaker) SetPosition(quantity float64) { m.position = quantity }

// Tunables implements the tuning contract.
func (m *MarketMaker) Tunables() map[string]float64 {
	return map[string]float64{
		"spread":         m.baseSpread,
		"max_inventory":  m.maxInventory,
		"order_quantity": m.orderQuantity,
		"vol_to_spread":  m.volToSpread,
	}
}

// ApplyPatch applies clamped updates to tunable parameters.
func (m *MarketMaker) ApplyPatch(patch map[string]float64) {
	for key, val := range patch {
		switch key {
		case "spread":
			if v := clampChange(m.baseSpread, val); v > 0 {
				m.baseSpread = v
			}
		case "max_inventory":
			if v := clampChange(m.maxInventory, val); v > 0 {
				m.maxInventory = v
			}
		case "order_quantity":
			if v := clampChange(m.orderQuantity, val); v > 0 {
				m.orderQuantity = v
			}
		case "vol_to_spread":
			if v := clampChange(m.volToSpread, val); v >= 0 {
				m.volToSpread = v
			}
		}
	}
}

// updateSpreadFromVol folds the latest mid into the volatility window and
// returns the effective spread, clamped to [minSpread, maxSpread].
func (m *MarketMaker) updateSpreadFromVol(mid float64) float64 {
	if mid <= 0 {
		m.spread = m.baseSpread
		return m.spread
	}

	m.midHistory = append(m.midHistory, mid)
	if m.volWindow > 1 && len(m.midHistory) > m.volWindow {
		m.midHistory = m.midHistory[len(m.midHistory)-m.volWindow:]
	}

	eff := m.baseSpread
	if len(m.midHistory) >= 2 && m.volWindow > 1 {
		n := float64(len(m.midHistory))
		avg := 0.0
		for _, v := range m.midHistory {
			avg += v
		}
		avg /= n
		if avg > 0 {
			variance := 0.0
			for _, v := range m.midHistory {
				variance += (v - avg) * (v - avg)
			}
			variance /= n
			relVol := math.Sqrt(variance) / avg
			eff = m.baseSpread * (1 + m.volToSpread*relVol)
		}
	}

	eff = math.Max(m.minSpread, math.Min(m.maxSpread, eff))
	m.spread = eff
	return eff
}

// OnQuote quotes both sides when inventory allows.
func (m *MarketMaker) OnQuote(quote models.Quote) []models.OrderIntent {
	if models.NormalizeSymbol(quote.Symbol) != m.symbol {
		return nil
	}
	if quote.Bid == nil || quote.Ask == nil {
		return nil
	}

	mid := (*quote.Bid + *quote.Ask) / 2
	eff := m.updateSpreadFromVol(mid)

	bidPrice := math.Max(0.01, util.RoundToTick(mid-eff, 0.01))
	askPrice := math.Max(0.01, util.RoundToTick(mid+eff, 0.01))

	var intents []models.OrderIntent
	if m.position < m.maxInventory {
		intents = append(intents, models.OrderIntent{
			Symbol:       m.symbol,
			Side:         models.SideBuy,
			Quantity:     m.orderQuantity,
			OrderType:    models.OrderTypeLimit,
			LimitPrice:   models.Float(bidPrice),
			StrategyName: m.name,
		})
	}
	if m.position > -m.maxInventory {
		intents = append(intents, models.OrderIntent{
			Symbol:       m.symbol,
			Side:         models.SideSell,
			Quantity:     m.orderQuantity,
			OrderType:    models.OrderTypeLimit,
			LimitPrice:   models.Float(askPrice),
			StrategyName: m.name,
		})
	}
	return intents
}
