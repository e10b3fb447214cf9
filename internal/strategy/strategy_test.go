package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildValidation(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{
			name: "market maker with defaults",
			spec: Spec{Type: "market_maker", Name: "mm", Symbol: "AAPL"},
		},
		{
			name: "trend scalper with defaults",
			spec: Spec{Type: "trend_scalper", Name: "ts", Symbol: "AAPL"},
		},
		{
			name:    "unknown type",
			spec:    Spec{Type: "arbitrage", Name: "a", Symbol: "AAPL"},
			wantErr: true,
		},
		{
			name:    "missing name",
			spec:    Spec{Type: "market_maker", Symbol: "AAPL"},
			wantErr: true,
		},
		{
			name:    "missing symbol",
			spec:    Spec{Type: "market_maker", Name: "mm"},
			wantErr: true,
		},
		{
			name:    "market maker rejects non-positive spread",
			spec:    Spec{Type: "market_maker", Name: "mm", Symbol: "AAPL", Config: map[string]float64{"spread": -0.01}},
			wantErr: true,
		},
		{
			name:    "scalper rejects short >= long window",
			spec:    Spec{Type: "trend_scalper", Name: "ts", Symbol: "AAPL", Config: map[string]float64{"short_window": 20, "long_window": 20}},
			wantErr: true,
		},
		{
			name:    "scalper rejects non-positive threshold",
			spec:    Spec{Type: "trend_scalper", Name: "ts", Symbol: "AAPL", Config: map[string]float64{"trend_threshold": 0}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			strat, err := Build(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.spec.Name, strat.Name())
		})
	}
}

func TestClampChange(t *testing.T) {
	tests := []struct {
		name     string
		old      float64
		proposed float64
		want     float64
	}{
		{"within bound passes through", 10, 25, 25},
		{"above 3x clamps", 10, 100, 30},
		{"zero old passes through", 0, 5, 5},
		{"shrinking passes through", 10, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, clampChange(tt.old, tt.proposed), 1e-9)
		})
	}
}
