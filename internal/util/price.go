// Package util provides common utility functions for price calculations.
package util

import (
	"math"

	"github.com/jfenwick/microtrader/internal/models"
)

// RoundToTick rounds x to the nearest tick increment.
// For example, with tick=0.01, 1.2345 becomes 1.23 or 1.24 depending on rounding.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Round(x/tick) * tick
}

// InferPrice derives a usable execution price for an order intent from a
// quote. Both the risk manager and the order manager use this single
// implementation so their views of a proposal's price can never diverge.
//
// Policy, in order:
//  1. the intent's own limit price, if set;
//  2. the quote's last trade price, if present;
//  3. the ask for buys, the bid for sells.
//
// Returns false when none resolve; callers must then deny (risk) or skip
// ledger tracking (execution).
func InferPrice(oi models.OrderIntent, quote models.Quote) (float64, bool) {
	if oi.LimitPrice != nil {
		return *oi.LimitPrice, true
	}
	if quote.Last != nil {
		return *quote.Last, true
	}
	switch oi.Side {
	case models.SideBuy:
		if quote.Ask != nil {
			return *quote.Ask, true
		}
	case models.SideSell:
		if quote.Bid != nil {
			return *quote.Bid, true
		}
	}
	return 0, false
}
