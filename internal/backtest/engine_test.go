package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfenwick/microtrader/internal/models"
	"github.com/jfenwick/microtrader/internal/risk"
	"github.com/jfenwick/microtrader/internal/strategy"
)

// scriptedStrategy emits one predetermined intent per step.
type scriptedStrategy struct {
	name  string
	steps []*models.OrderIntent
	i     int
}

func (s *scriptedStrategy) Name() string { return s.name }
func (s *scriptedStrategy) OnQuote(models.Quote) []models.OrderIntent {
	if s.i >= len(s.steps) {
		return nil
	}
	oi := s.steps[s.i]
	s.i++
	if oi == nil {
		return nil
	}
	out := *oi
	out.StrategyName = s.name
	return []models.OrderIntent{out}
}
func (s *scriptedStrategy) SetPosition(float64)           {}
func (s *scriptedStrategy) Tunables() map[string]float64  { return nil }
func (s *scriptedStrategy) ApplyPatch(map[string]float64) {}

var _ strategy.Strategy = (*scriptedStrategy)(nil)

func intent(side models.Side, qty, limit float64) *models.OrderIntent {
	return &models.OrderIntent{
		Symbol:     "AAPL",
		Side:       side,
		Quantity:   qty,
		OrderType:  models.OrderTypeLimit,
		LimitPrice: models.Float(limit),
	}
}

func quoteSeq(mids ...float64) []models.Quote {
	start := time.Date(2025, 3, 1, 14, 30, 0, 0, time.UTC)
	out := make([]models.Quote, 0, len(mids))
	for i, mid := range mids {
		out = append(out, models.Quote{
			Symbol:    "AAPL",
			Bid:       models.Float(mid - 0.05),
			Ask:       models.Float(mid + 0.05),
			Last:      models.Float(mid),
			Timestamp: start.Add(time.Duration(i) * time.Second),
		})
	}
	return out
}

func openRiskConfig() risk.Config {
	return risk.Config{MaxNotionalPerOrder: 1_000_000, MaxCashUtilization: 1.0, AllowShortSelling: false}
}

func TestRunBuyAndHoldFlatMarket(t *testing.T) {
	cfg := Config{
		Symbol:           "AAPL",
		StartingPrice:    40.0,
		StartingCash:     100_000.0,
		Steps:            50,
		StepSeconds:      5,
		VolatilityAnnual: 0, // flat walk
		SpreadCents:      0.10,
		Seed:             1,
		Risk:             openRiskConfig(),
	}
	strat := &scriptedStrategy{name: "buyonce", steps: []*models.OrderIntent{
		intent(models.SideBuy, 1, 40.0),
	}}

	result, err := NewEngine([]strategy.Strategy{strat}, cfg, nil, nil).Run()
	require.NoError(t, err)

	// Buying at the mid of a flat market moves cash into stock at par:
	// equity never changes, nothing is realized, nothing draws down.
	assert.InDelta(t, 100_000.0-40.0, result.FinalCash, 1e-9)
	assert.InDelta(t, 100_000.0, result.FinalEquity, 1e-9)
	assert.InDelta(t, 0.0, result.RealizedPnL, 1e-9)
	assert.InDelta(t, 0.0, result.MaxDrawdown, 1e-9)
	assert.Equal(t, 0, result.NumTrades)
	assert.InDelta(t, 0.0, result.SharpeLike, 1e-9)
	assert.Len(t, result.EquityCurve, 50)

	pos := result.Positions["AAPL"]
	assert.InDelta(t, 1.0, pos.Quantity, 1e-9)
	assert.InDelta(t, 40.0, pos.AvgPrice, 1e-9)
}

func TestRunRoundTripTrade(t *testing.T) {
	quotes := quoteSeq(10.0, 12.0)
	cfg := Config{
		Symbol:        "AAPL",
		StartingPrice: 10.0,
		StartingCash:  100_000.0,
		Steps:         len(quotes),
		StepSeconds:   1,
		Risk:          openRiskConfig(),
	}
	strat := &scriptedStrategy{name: "roundtrip", steps: []*models.OrderIntent{
		intent(models.SideBuy, 10, 10.0),
		intent(models.SideSell, 10, 12.0),
	}}

	result, err := NewEngine([]strategy.Strategy{strat}, cfg, quotes, nil).Run()
	require.NoError(t, err)

	assert.Equal(t, 1, result.NumTrades)
	assert.Equal(t, 1, result.NumWinningTrades)
	assert.Equal(t, 0, result.NumLosingTrades)
	assert.InDelta(t, 20.0, result.BestTradePnL, 1e-9)
	assert.InDelta(t, 20.0, result.AvgTradePnL, 1e-9)
	assert.InDelta(t, 20.0, result.RealizedPnL, 1e-9)
	assert.InDelta(t, 100_020.0, result.FinalCash, 1e-9)
	assert.InDelta(t, 100_020.0, result.FinalEquity, 1e-9)

	pos := result.Positions["AAPL"]
	assert.InDelta(t, 0.0, pos.Quantity, 1e-9)
	assert.InDelta(t, 0.0, pos.AvgPrice, 1e-9)
}

// The sell is denied without holdings when shorting is off, so a sell-first
// script produces no fills at all.
func TestRunShortDeniedByDefault(t *testing.T) {
	quotes := quoteSeq(10.0, 10.0)
	cfg := Config{
		Symbol:        "AAPL",
		StartingPrice: 10.0,
		StartingCash:  100_000.0,
		Steps:         len(quotes),
		StepSeconds:   1,
		Risk:          openRiskConfig(),
	}
	strat := &scriptedStrategy{name: "shorter", steps: []*models.OrderIntent{
		intent(models.SideSell, 10, 10.0),
	}}

	engine := NewEngine([]strategy.Strategy{strat}, cfg, quotes, nil)
	result, err := engine.Run()
	require.NoError(t, err)

	assert.Empty(t, engine.Tracker().Fills())
	assert.InDelta(t, 100_000.0, result.FinalEquity, 1e-9)
}

// Ledger realized PnL and the independent trade reconstruction must agree
// on every run, including runs with flips.
func TestRunLedgerMatchesReconstruction(t *testing.T) {
	mm, err := strategy.Build(strategy.Spec{
		Type: "market_maker", Name: "mm", Symbol: "AAPL",
		Config: map[string]float64{"spread": 0.02, "order_quantity": 1, "max_inventory": 3},
	})
	require.NoError(t, err)

	cfg := Config{
		Symbol:           "AAPL",
		StartingPrice:    40.0,
		StartingCash:     100_000.0,
		Steps:            2_000,
		StepSeconds:      5,
		VolatilityAnnual: 0.6,
		SpreadCents:      0.10,
		Seed:             42,
		Risk:             risk.Config{MaxNotionalPerOrder: 1_000, MaxCashUtilization: 1.0, AllowShortSelling: true},
	}

	engine := NewEngine([]strategy.Strategy{mm}, cfg, nil, nil)
	result, err := engine.Run()
	require.NoError(t, err)

	reconstructed := 0.0
	for _, pnl := range ReconstructTradePnLs(engine.Tracker().Fills()) {
		reconstructed += pnl
	}
	assert.InDelta(t, result.RealizedPnL, reconstructed, 1e-6)
	assert.NotEmpty(t, engine.Tracker().Fills(), "a two-sided maker in a random walk should trade")
}

func TestRunIsDeterministicPerSeed(t *testing.T) {
	build := func() *Engine {
		mm, err := strategy.Build(strategy.Spec{
			Type: "market_maker", Name: "mm", Symbol: "AAPL",
			Config: map[string]float64{"spread": 0.02},
		})
		require.NoError(t, err)
		cfg := DefaultConfig
		cfg.Seed = 99
		cfg.Risk = risk.Config{MaxNotionalPerOrder: 1_000, MaxCashUtilization: 1.0, AllowShortSelling: true}
		return NewEngine([]strategy.Strategy{mm}, cfg, nil, nil)
	}

	a, err := build().Run()
	require.NoError(t, err)
	b, err := build().Run()
	require.NoError(t, err)

	assert.Equal(t, a.FinalEquity, b.FinalEquity)
	assert.Equal(t, a.NumTrades, b.NumTrades)
	assert.Equal(t, a.SharpeLike, b.SharpeLike)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig
	cfg.Steps = 0
	_, err := NewEngine([]strategy.Strategy{&scriptedStrategy{name: "s"}}, cfg, nil, nil).Run()
	assert.Error(t, err)

	_, err = NewEngine(nil, DefaultConfig, nil, nil).Run()
	assert.Error(t, err)
}

func TestSharpeLike(t *testing.T) {
	tests := []struct {
		name   string
		curve  []float64
		expect func(t *testing.T, got float64)
	}{
		{
			name:  "too short",
			curve: []float64{100},
			expect: func(t *testing.T, got float64) {
				assert.InDelta(t, 0.0, got, 1e-12)
			},
		},
		{
			name:  "constant curve has zero deviation",
			curve: []float64{100, 100, 100, 100},
			expect: func(t *testing.T, got float64) {
				assert.InDelta(t, 0.0, got, 1e-12)
			},
		},
		{
			name:  "rising curve is positive",
			curve: []float64{100, 101, 103, 104, 106},
			expect: func(t *testing.T, got float64) {
				assert.Greater(t, got, 0.0)
			},
		},
		{
			name:  "falling curve is negative",
			curve: []float64{106, 104, 103, 101, 100},
			expect: func(t *testing.T, got float64) {
				assert.Less(t, got, 0.0)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sharpeLike(tt.curve)
			require.False(t, math.IsNaN(got))
			tt.expect(t, got)
		})
	}
}
