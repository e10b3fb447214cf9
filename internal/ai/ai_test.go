package ai

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewControllerDisabled(t *testing.T) {
	c, err := NewController(ControllerConfig{Enabled: false}, "key", nil)
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestNewControllerWithoutKeyDegradesToNil(t *testing.T) {
	c, err := NewController(ControllerConfig{Enabled: true, Model: "gpt-4o-mini"}, "", nil)
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestNewControllerRequiresModel(t *testing.T) {
	_, err := NewController(ControllerConfig{Enabled: true}, "key", nil)
	assert.Error(t, err)
}

func TestNewControllerDefaults(t *testing.T) {
	c, err := NewController(ControllerConfig{Enabled: true, Model: "gpt-4o-mini"}, "key", nil)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, 12, c.cfg.IntervalLoops)
	assert.Equal(t, 512, c.cfg.MaxOutputTokens)
}

func TestNewSelectorModes(t *testing.T) {
	s, err := NewSelector(SelectorConfig{}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "heuristic", s.cfg.Mode)
	assert.Equal(t, 5, s.cfg.MaxSymbols)

	// gpt without a key degrades instead of failing.
	s, err = NewSelector(SelectorConfig{Mode: "gpt", Model: "gpt-4o-mini"}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "heuristic", s.cfg.Mode)
	assert.Nil(t, s.client)

	_, err = NewSelector(SelectorConfig{Mode: "gpt"}, "key", nil)
	assert.Error(t, err, "gpt mode with a key still needs a model")

	_, err = NewSelector(SelectorConfig{Mode: "oracle"}, "", nil)
	assert.Error(t, err)
}

func TestSelectHeuristicRanking(t *testing.T) {
	s, err := NewSelector(SelectorConfig{MaxSymbols: 2}, "", nil)
	require.NoError(t, err)

	candidates := []candidate{
		// Liquid but untraded: scores on liquidity alone.
		{Symbol: "SPY", AvgDollarVolume: 1e9},
		// Thin but a proven winner: realized edge dominates.
		{Symbol: "WIN", AvgDollarVolume: 1e6, TradeCount: 20, RealizedPnL: 10, AvgPnLPerTrade: 0.5},
		// Thin and a proven loser: ranks below everything.
		{Symbol: "LOSE", AvgDollarVolume: 1e6, TradeCount: 20, RealizedPnL: -20, AvgPnLPerTrade: -1},
	}

	got := s.selectHeuristic(candidates)
	assert.Equal(t, []string{"WIN", "SPY"}, got)
}

func TestSelectHeuristicShortHistoryIsDiscounted(t *testing.T) {
	s, err := NewSelector(SelectorConfig{MaxSymbols: 3}, "", nil)
	require.NoError(t, err)

	// One lucky trade should not outrank deep liquidity: weight is
	// trade_count/20, so a single +0.5 trade adds only 0.25 to the score.
	candidates := []candidate{
		{Symbol: "SPY", AvgDollarVolume: 1e9},
		{Symbol: "LUCK", AvgDollarVolume: 1e6, TradeCount: 1, RealizedPnL: 0.5, AvgPnLPerTrade: 0.5},
	}

	got := s.selectHeuristic(candidates)
	require.Len(t, got, 2)
	assert.Equal(t, "SPY", got[0])
}

func TestNilControllerMaybeRunIsSafe(t *testing.T) {
	var c *Controller
	c.MaybeRun(context.Background(), nil, nil, nil)
}
