package backtest

import (
	"math"
	"math/rand"
	"time"

	"github.com/jfenwick/microtrader/internal/models"
	"github.com/jfenwick/microtrader/internal/util"
)

const secondsPerYear = 365.0 * 24.0 * 3600.0

// GenerateRandomWalkQuotes produces a driftless geometric-Brownian-motion
// quote sequence:
//
//	S <- S * exp(sigma * sqrt(dt) * z),  z ~ N(0,1)
//
// spaced stepSeconds apart from startTime, with bid/ask built around the mid
// at a fixed spread. The floor guarantees bid >= 0.01 and ask > bid even at
// degenerate prices.
func GenerateRandomWalkQuotes(
	symbol string,
	startingPrice float64,
	steps int,
	stepSeconds int,
	volatilityAnnual float64,
	spreadCents float64,
	startTime time.Time,
	rng *rand.Rand,
) []models.Quote {
	if steps <= 0 {
		return nil
	}
	if startTime.IsZero() {
		startTime = time.Now().UTC()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	dtYears := float64(stepSeconds) / secondsPerYear
	sigma := volatilityAnnual
	scale := sigma * math.Sqrt(dtYears)

	price := startingPrice
	quotes := make([]models.Quote, 0, steps)

	for i := 0; i < steps; i++ {
		price *= math.Exp(scale * rng.NormFloat64())

		mid := math.Max(price, 0.01)
		halfSpread := spreadCents / 2
		bid := mid - halfSpread
		ask := mid + halfSpread

		if bid < 0.01 {
			bid = 0.01
		}
		if ask <= bid {
			ask = bid + spreadCents
		}
		if ask <= bid {
			// spreadCents == 0 with a floored bid
			ask = bid + 0.01
		}

		ts := startTime.Add(time.Duration(i*stepSeconds) * time.Second)
		quotes = append(quotes, models.Quote{
			Symbol:    models.NormalizeSymbol(symbol),
			Bid:       models.Float(util.RoundToTick(bid, 0.0001)),
			Ask:       models.Float(util.RoundToTick(ask, 0.0001)),
			Last:      models.Float(util.RoundToTick(mid, 0.0001)),
			Timestamp: ts,
		})
	}
	return quotes
}
