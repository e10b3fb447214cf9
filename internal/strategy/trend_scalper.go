package strategy

import (
	"fmt"

	"github.com/jfenwick/microtrader/internal/models"
)

type scalperSignal int

const (
	signalNone scalperSignal = iota
	signalUp
	signalDown
)

// TrendScalper is a short-horizon trend follower. It keeps short and long
// moving averages of the mid price and emits a buy when the short average
// pulls ahead of the long by more than the threshold, a sell when it falls
// behind. Orders are emitted only when the signal flips, so a persistent
// trend produces one intent, not one per quote.
type TrendScalper struct {
	name   string
	symbol string

	orderQuantity  float64
	shortWindow    int
	longWindow     int
	trendThreshold float64
	maxPosition    float64

	position    float64
	priceBuffer []float64
	lastSignal  scalperSignal
}

// NewTrendScalper validates window parameters at construction time.
func NewTrendScalper(name, symbol string, cfg map[string]float64) (*TrendScalper, error) {
	t := &TrendScalper{
		name:           name,
		symbol:         models.NormalizeSymbol(symbol),
		orderQuantity:  cfgValue(cfg, "order_quantity", 1),
		shortWindow:    int(cfgValue(cfg, "short_window", 5)),
		longWindow:     int(cfgValue(cfg, "long_window", 20)),
		trendThreshold: cfgValue(cfg, "trend_threshold", 0.0005),
		maxPosition:    cfgValue(cfg, "max_position", 5),
	}

	if t.shortWindow <= 0 || t.longWindow <= 0 {
		return nil, fmt.Errorf("trend scalper %s: short_window and long_window must be > 0", name)
	}
	if t.shortWindow >= t.longWindow {
		return nil, fmt.Errorf("trend scalper %s: short_window must be < long_window", name)
	}
	if t.orderQuantity <= 0 {
		return nil, fmt.Errorf("trend scalper %s: order_quantity must be > 0", name)
	}
	if t.trendThreshold <= 0 {
		return nil, fmt.Errorf("trend scalper %s: trend_threshold must be > 0", name)
	}
	return t, nil
}

// Name implements Strategy.
func (t *TrendScalper) Name() string { return t.name }

// SetPosition syncs inventory from the execution layer.
func (t *TrendScalper) SetPosition(quantity float64) { t.position = quantity }

// Tunables implements the tuning contract. Window lengths are deliberately
// not tunable at runtime; resizing them mid-stream would corrupt the buffer.
func (t *TrendScalper) Tunables() map[string]float64 {
	return map[string]float64{
		"order_quantity":  t.orderQuantity,
		"trend_threshold": t.trendThreshold,
		"max_position":    t.maxPosition,
	}
}

// ApplyPatch applies clamped updates to tunable parameters.
func (t *TrendScalper) ApplyPatch(patch map[string]float64) {
	for key, val := range patch {
		switch key {
		case "order_quantity":
			if v := clampChange(t.orderQuantity, val); v > 0 {
				t.orderQuantity = v
			}
		case "trend_threshold":
			if v := clampChange(t.trendThreshold, val); v > 0 {
				t.trendThreshold = v
			}
		case "max_position":
			if v := clampChange(t.maxPosition, val); v > 0 {
				t.maxPosition = v
			}
		}
	}
}

// OnQuote updates the moving averages and emits on signal flips.
func (t *TrendScalper) OnQuote(quote models.Quote) []models.OrderIntent {
	if models.NormalizeSymbol(quote.Symbol) != t.symbol {
		return nil
	}
	mid, ok := quote.Mid()
	if !ok {
		return nil
	}

	t.priceBuffer = append(t.priceBuffer, mid)
	if len(t.priceBuffer) > t.longWindow {
		t.priceBuffer = t.priceBuffer[len(t.priceBuffer)-t.longWindow:]
	}
	if len(t.priceBuffer) < t.longWindow {
		return nil
	}

	short := 0.0
	for _, p := range t.priceBuffer[len(t.priceBuffer)-t.shortWindow:] {
		short += p
	}
	short /= float64(t.shortWindow)

	long := 0.0
	for _, p := range t.priceBuffer {
		long += p
	}
	long /= float64(len(t.priceBuffer))
	if long == 0 {
		return nil
	}

	rel := (short - long) / long
	signal := signalNone
	switch {
	case rel > t.trendThreshold:
		signal = signalUp
	case rel < -t.trendThreshold:
		signal = signalDown
	}

	if signal == signalNone || signal == t.lastSignal {
		t.lastSignal = signal
		return nil
	}
	t.lastSignal = signal

	qty := t.orderQuantity
	if signal == signalUp && qty > t.maxPosition {
		qty = t.maxPosition
	}

	side := models.SideBuy
	tag := "trend_up"
	if signal == signalDown {
		side = models.SideSell
		tag = "trend_down"
	}

	return []models.OrderIntent{{
		Symbol:       t.symbol,
		Side:         side,
		Quantity:     qty,
		OrderType:    models.OrderTypeLimit,
		LimitPrice:   models.Float(mid),
		StrategyName: t.name,
		Meta:         map[string]string{"signal": tag},
	}}
}
