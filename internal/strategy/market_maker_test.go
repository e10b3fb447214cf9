package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfenwick/microtrader/internal/models"
)

func mmQuote(bid, ask float64) models.Quote {
	return models.Quote{Symbol: "AAPL", Bid: models.Float(bid), Ask: models.Float(ask)}
}

func TestMarketMakerQuotesBothSides(t *testing.T) {
	mm, err := NewMarketMaker("mm", "aapl", map[string]float64{
		"spread":         0.05,
		"order_quantity": 2,
		"max_inventory":  5,
		"vol_to_spread":  0, // fixed spread for a deterministic test
	})
	require.NoError(t, err)

	intents := mm.OnQuote(mmQuote(9.95, 10.05))
	require.Len(t, intents, 2)

	buy, sell := intents[0], intents[1]
	assert.Equal(t, models.SideBuy, buy.Side)
	assert.Equal(t, models.SideSell, sell.Side)
	assert.Equal(t, "AAPL", buy.Symbol)
	assert.InDelta(t, 2.0, buy.Quantity, 1e-9)

	require.NotNil(t, buy.LimitPrice)
	require.NotNil(t, sell.LimitPrice)
	// mid = 10.00, spread 0.05 each side
	assert.InDelta(t, 9.95, *buy.LimitPrice, 1e-9)
	assert.InDelta(t, 10.05, *sell.LimitPrice, 1e-9)
}

func TestMarketMakerInventoryGating(t *testing.T) {
	mm, err := NewMarketMaker("mm", "AAPL", map[string]float64{"max_inventory": 5, "vol_to_spread": 0})
	require.NoError(t, err)

	mm.SetPosition(5)
	intents := mm.OnQuote(mmQuote(9.95, 10.05))
	require.Len(t, intents, 1)
	assert.Equal(t, models.SideSell, intents[0].Side)

	mm.SetPosition(-5)
	intents = mm.OnQuote(mmQuote(9.95, 10.05))
	require.Len(t, intents, 1)
	assert.Equal(t, models.SideBuy, intents[0].Side)
}

func TestMarketMakerIgnoresOtherSymbolsAndPartialQuotes(t *testing.T) {
	mm, err := NewMarketMaker("mm", "AAPL", nil)
	require.NoError(t, err)

	other := models.Quote{Symbol: "MSFT", Bid: models.Float(9.95), Ask: models.Float(10.05)}
	assert.Empty(t, mm.OnQuote(other))

	partial := models.Quote{Symbol: "AAPL", Last: models.Float(10.0)}
	assert.Empty(t, mm.OnQuote(partial))
}

func TestMarketMakerSpreadWidensWithVolatility(t *testing.T) {
	mm, err := NewMarketMaker("mm", "AAPL", map[string]float64{
		"spread":        0.05,
		"min_spread":    0.01,
		"max_spread":    1.0,
		"vol_window":    10,
		"vol_to_spread": 50,
	})
	require.NoError(t, err)

	// Flat prices: effective spread stays at base.
	for i := 0; i < 10; i++ {
		mm.OnQuote(mmQuote(9.95, 10.05))
	}
	calm := mm.spread
	assert.InDelta(t, 0.05, calm, 1e-9)

	// Choppy prices: spread widens.
	prices := []float64{10, 11, 9, 12, 8, 13, 7, 14, 6, 15}
	for _, p := range prices {
		mm.OnQuote(mmQuote(p-0.05, p+0.05))
	}
	assert.Greater(t, mm.spread, calm)
}

func TestMarketMakerApplyPatch(t *testing.T) {
	mm, err := NewMarketMaker("mm", "AAPL", map[string]float64{"spread": 0.05})
	require.NoError(t, err)

	mm.ApplyPatch(map[string]float64{
		"spread":        10.0, // way over 3x, clamps to 0.15
		"max_inventory": -1,   // non-positive result ignored
	})

	assert.InDelta(t, 0.15, mm.Tunables()["spread"], 1e-9)
	assert.InDelta(t, 5.0, mm.Tunables()["max_inventory"], 1e-9)
}
