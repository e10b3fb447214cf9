package backtest

import (
	"github.com/jfenwick/microtrader/internal/ledger"
	"github.com/jfenwick/microtrader/internal/models"
)

// ReconstructTradePnLs derives per-trade realized PnL directly from the fill
// log, independently of the ledger's incremental accounting. The two paths
// must agree (the regression suite asserts it); keeping both is deliberate,
// since a bug in either shows up as a divergence.
//
// The reconstruction tracks a single net position: a fill that reduces the
// absolute position emits one realized-PnL observation for the closed
// quantity, and any remainder after a flip opens a new position at the fill
// price. Single-symbol assumption; group fills per symbol before calling if
// a run ever spans more.
func ReconstructTradePnLs(fills []ledger.Fill) []float64 {
	if len(fills) == 0 {
		return nil
	}

	var tradePnLs []float64
	position := 0.0
	avgPrice := 0.0

	for _, f := range fills {
		qty := f.Quantity
		price := f.Price
		if qty <= 0 {
			continue
		}

		direction := 1.0
		if f.Side == models.SideSell {
			direction = -1.0
		}

		// Flat: this fill opens a new position.
		if position == 0 {
			position = direction * qty
			avgPrice = price
			continue
		}

		// Same direction: average in.
		if (position > 0) == (direction > 0) {
			totalQty := abs(position) + qty
			avgPrice = (avgPrice*abs(position) + price*qty) / totalQty
			position += direction * qty
			continue
		}

		// Opposite direction: close, possibly flip.
		remaining := qty
		for remaining > 0 && position != 0 {
			openQty := abs(position)
			closing := min(openQty, remaining)

			var pnl float64
			if position > 0 {
				pnl = closing * (price - avgPrice)
			} else {
				pnl = closing * (avgPrice - price)
			}
			tradePnLs = append(tradePnLs, pnl)

			if closing == openQty {
				position = 0
				avgPrice = 0
			} else if position > 0 {
				position -= closing
			} else {
				position += closing
			}
			remaining -= closing
		}

		// Leftover quantity becomes (or extends) a new position.
		if remaining > 0 {
			if position == 0 {
				position = direction * remaining
				avgPrice = price
			} else {
				totalQty := abs(position) + remaining
				avgPrice = (avgPrice*abs(position) + price*remaining) / totalQty
				position += direction * remaining
			}
		}
	}

	return tradePnLs
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
