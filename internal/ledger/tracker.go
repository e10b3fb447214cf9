// Package ledger tracks fills, per-symbol positions, realized PnL, and
// per-strategy/per-symbol statistics. It is the accounting core of the bot:
// the same Tracker backs paper trading, live trading (with approximate
// fill prices), and the backtest engine.
package ledger

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jfenwick/microtrader/internal/models"
)

// Position is the mutable per-symbol ledger state. Quantity is signed:
// positive is long, negative is short. AvgPrice is the cost basis of the
// currently open side only and is meaningless while Quantity is zero.
// RealizedPnL is a running total that is never reset.
type Position struct {
	Quantity    float64 `json:"quantity"`
	AvgPrice    float64 `json:"avg_price"`
	RealizedPnL float64 `json:"realized_pnl"`
}

// Fill is an immutable record of an accepted trade. Fills are appended to an
// ordered log that is never mutated; both the incremental ledger and the
// backtest's independent trade reconstruction derive from it.
type Fill struct {
	Symbol       string    `json:"symbol"`
	Side         models.Side `json:"side"`
	Quantity     float64   `json:"quantity"`
	Price        float64   `json:"price"`
	Timestamp    time.Time `json:"timestamp"`
	StrategyName string    `json:"strategy_name,omitempty"`
}

// StrategySymbolStats aggregates fills per (strategy, symbol).
type StrategySymbolStats struct {
	StrategyName string  `json:"strategy_name"`
	Symbol       string  `json:"symbol"`
	TradeCount   int     `json:"trade_count"`
	RealizedPnL  float64 `json:"realized_pnl"`
}

// AvgPnLPerTrade returns realized PnL divided by trade count, 0 when empty.
func (s StrategySymbolStats) AvgPnLPerTrade() float64 {
	if s.TradeCount <= 0 {
		return 0
	}
	return s.RealizedPnL / float64(s.TradeCount)
}

// Tracker owns the position map and the fill log. It is not safe for
// concurrent writers; the caller (one polling loop or one backtest run)
// must serialize access.
type Tracker struct {
	positions map[string]*Position
	fills     []Fill
	stats     map[string]map[string]*StrategySymbolStats

	logger      *log.Logger
	loopCounter int
	seeded      bool
}

// NewTracker creates an empty execution tracker.
func NewTracker(logger *log.Logger) *Tracker {
	if logger == nil {
		logger = log.New(os.Stderr, "ledger: ", log.LstdFlags)
	}
	return &Tracker{
		positions: make(map[string]*Position),
		stats:     make(map[string]map[string]*StrategySymbolStats),
		logger:    logger,
	}
}

// SeedFromHoldings initializes positions from broker-reported holdings.
// Only the first call has any effect; later calls are ignored so a
// long-running poll loop can call it unconditionally each cycle.
func (t *Tracker) SeedFromHoldings(holdings map[string]models.Holding) {
	if t.seeded {
		return
	}
	for sym, h := range holdings {
		if h.Quantity == 0 {
			continue
		}
		symbol := models.NormalizeSymbol(sym)
		t.positions[symbol] = &Position{
			Quantity: h.Quantity,
			AvgPrice: h.AvgPrice,
		}
	}
	t.seeded = true
}

// RecordFill appends a fill and applies it to the symbol's position.
// When the intent carries a strategy name, the realized-PnL delta produced
// by this specific fill (not the running total) is attributed to that
// (strategy, symbol) aggregate.
func (t *Tracker) RecordFill(oi models.OrderIntent, price float64, timestamp time.Time) {
	symbol := models.NormalizeSymbol(oi.Symbol)

	t.fills = append(t.fills, Fill{
		Symbol:       symbol,
		Side:         oi.Side,
		Quantity:     oi.Quantity,
		Price:        price,
		Timestamp:    timestamp,
		StrategyName: oi.StrategyName,
	})

	pos := t.positions[symbol]
	if pos == nil {
		pos = &Position{}
		t.positions[symbol] = pos
	}

	prevRealized := pos.RealizedPnL
	t.applyFill(pos, oi.Side, oi.Quantity, price)
	realizedDelta := pos.RealizedPnL - prevRealized

	if oi.StrategyName != "" {
		symStats := t.stats[oi.StrategyName]
		if symStats == nil {
			symStats = make(map[string]*StrategySymbolStats)
			t.stats[oi.StrategyName] = symStats
		}
		stats := symStats[symbol]
		if stats == nil {
			stats = &StrategySymbolStats{StrategyName: oi.StrategyName, Symbol: symbol}
			symStats[symbol] = stats
		}
		stats.TradeCount++
		stats.RealizedPnL += realizedDelta
	}
}

// applyFill updates quantity, average price, and realized PnL for one fill,
// including direction flips within a single fill. Realized PnL only changes
// on fills that reduce the absolute position, by closed quantity times the
// signed difference against the average price.
func (t *Tracker) applyFill(pos *Position, side models.Side, qty, price float64) {
	switch side {
	case models.SideBuy:
		if pos.Quantity >= 0 {
			// Opening or adding to a long.
			newQty := pos.Quantity + qty
			if newQty > 0 {
				pos.AvgPrice = (pos.AvgPrice*pos.Quantity + price*qty) / newQty
			}
			pos.Quantity = newQty
			return
		}
		// Covering a short; shorts profit when price falls.
		closing := min(qty, -pos.Quantity)
		pos.RealizedPnL += (pos.AvgPrice - price) * closing
		pos.Quantity += closing

		if remaining := qty - closing; remaining > 0 {
			// Flip: the remainder opens a fresh long at the fill price.
			pos.Quantity = remaining
			pos.AvgPrice = price
		} else if pos.Quantity == 0 {
			pos.AvgPrice = 0
		}

	case models.SideSell:
		if pos.Quantity <= 0 {
			// Opening or adding to a short.
			absOld := -pos.Quantity
			absNew := absOld + qty
			if absNew > 0 {
				pos.AvgPrice = (pos.AvgPrice*absOld + price*qty) / absNew
			}
			pos.Quantity -= qty
			return
		}
		// Reducing a long.
		closing := min(qty, pos.Quantity)
		pos.RealizedPnL += (price - pos.AvgPrice) * closing
		pos.Quantity -= closing

		if remaining := qty - closing; remaining > 0 {
			// Flip to short with the remainder.
			pos.Quantity = -remaining
			pos.AvgPrice = price
		} else if pos.Quantity == 0 {
			// Must never be read while flat, but keep it from leaking into
			// the next opening average.
			pos.AvgPrice = 0
		}

	default:
		t.logger.Printf("unknown side in applyFill: %q", side)
	}
}

// Summary returns a copy of the position map keyed by normalized symbol.
func (t *Tracker) Summary() map[string]Position {
	out := make(map[string]Position, len(t.positions))
	for sym, pos := range t.positions {
		out[sym] = *pos
	}
	return out
}

// Holdings renders the ledger as broker-style holdings. Paper mode uses this
// in place of live broker positions when gating sells.
func (t *Tracker) Holdings() map[string]models.Holding {
	out := make(map[string]models.Holding, len(t.positions))
	for sym, pos := range t.positions {
		out[sym] = models.Holding{Symbol: sym, Quantity: pos.Quantity, AvgPrice: pos.AvgPrice}
	}
	return out
}

// Fills returns the append-only fill log in arrival order.
func (t *Tracker) Fills() []Fill {
	out := make([]Fill, len(t.fills))
	copy(out, t.fills)
	return out
}

// TotalRealizedPnL sums realized PnL across all symbols.
func (t *Tracker) TotalRealizedPnL() float64 {
	total := 0.0
	for _, pos := range t.positions {
		total += pos.RealizedPnL
	}
	return total
}

// PerStrategySymbolSummary returns a nested read-only view:
// strategy -> symbol -> stats. Consumed by the AI tuner and symbol selector.
func (t *Tracker) PerStrategySymbolSummary() map[string]map[string]StrategySymbolStats {
	out := make(map[string]map[string]StrategySymbolStats, len(t.stats))
	for strat, symMap := range t.stats {
		inner := make(map[string]StrategySymbolStats, len(symMap))
		for sym, stats := range symMap {
			inner[sym] = *stats
		}
		out[strat] = inner
	}
	return out
}

// LogSummary emits a compact position/PnL digest every everyN calls.
// With a 5s poll interval and everyN=12, that is roughly once a minute.
func (t *Tracker) LogSummary(everyN int) {
	t.loopCounter++
	if everyN <= 0 || t.loopCounter%everyN != 0 {
		return
	}

	if len(t.positions) == 0 {
		t.logger.Printf("PnL summary: no positions yet")
		return
	}

	symbols := make([]string, 0, len(t.positions))
	for sym := range t.positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	parts := make([]string, 0, len(symbols))
	total := 0.0
	for _, sym := range symbols {
		pos := t.positions[sym]
		parts = append(parts, fmt.Sprintf("%s: pos=%.2f, avg=%.2f, realized=%.2f",
			sym, pos.Quantity, pos.AvgPrice, pos.RealizedPnL))
		total += pos.RealizedPnL
	}
	t.logger.Printf("PnL summary: %s | total_realized=%.2f", strings.Join(parts, " | "), total)
}
