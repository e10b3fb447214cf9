package backtest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfenwick/microtrader/internal/ledger"
	"github.com/jfenwick/microtrader/internal/models"
)

func writeQuotesFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quotes.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadQuotesCSV(t *testing.T) {
	path := writeQuotesFile(t, strings.Join([]string{
		"timestamp,bid,ask,last",
		"2025-03-01T14:30:00Z,9.95,10.05,10.00",
		"2025-03-01T14:30:05Z,,,10.10",  // bid/ask synthesized around last
		"2025-03-01T14:30:10Z,9.90,10.10,", // last inferred as mid
		"2025-03-01T14:30:15Z,,,",       // unusable, skipped
		"bad-timestamp,9.80,9.90,9.85",  // kept, zero timestamp
	}, "\n") + "\n")

	quotes, err := LoadQuotesCSV(path, "aapl")
	require.NoError(t, err)
	require.Len(t, quotes, 4)

	q := quotes[0]
	assert.Equal(t, "AAPL", q.Symbol)
	assert.InDelta(t, 9.95, *q.Bid, 1e-9)
	assert.InDelta(t, 10.05, *q.Ask, 1e-9)
	assert.InDelta(t, 10.00, *q.Last, 1e-9)
	assert.Equal(t, time.Date(2025, 3, 1, 14, 30, 0, 0, time.UTC), q.Timestamp.UTC())

	// Last-only row gets a one-cent half-spread.
	assert.InDelta(t, 10.09, *quotes[1].Bid, 1e-9)
	assert.InDelta(t, 10.11, *quotes[1].Ask, 1e-9)

	// Bid/ask-only row infers last at the mid.
	assert.InDelta(t, 10.00, *quotes[2].Last, 1e-9)

	assert.True(t, quotes[3].Timestamp.IsZero())
}

func TestLoadQuotesCSVAlternateColumnNames(t *testing.T) {
	path := writeQuotesFile(t, "time,close\n2025-03-01T14:30:00,25.50\n")

	quotes, err := LoadQuotesCSV(path, "MSFT")
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.InDelta(t, 25.50, *quotes[0].Last, 1e-9)
	assert.InDelta(t, 25.49, *quotes[0].Bid, 1e-9)
	assert.Equal(t, time.Date(2025, 3, 1, 14, 30, 0, 0, time.UTC), quotes[0].Timestamp)
}

func TestLoadQuotesCSVMissingFile(t *testing.T) {
	_, err := LoadQuotesCSV(filepath.Join(t.TempDir(), "nope.csv"), "AAPL")
	assert.Error(t, err)
}

func TestExportEquityCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "equity.csv")
	result := &Result{
		EquityCurve: []float64{100_000, 100_010.5},
		Timestamps: []time.Time{
			time.Date(2025, 3, 1, 14, 30, 0, 0, time.UTC),
			time.Date(2025, 3, 1, 14, 30, 5, 0, time.UTC),
		},
	}

	require.NoError(t, ExportEquityCSV(path, result))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "timestamp,equity", lines[0])
	assert.Equal(t, "2025-03-01T14:30:00Z,100000.0000", lines[1])
	assert.Equal(t, "2025-03-01T14:30:05Z,100010.5000", lines[2])
}

func TestExportFillsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fills.csv")
	fills := []ledger.Fill{
		{
			Symbol:    "AAPL",
			Side:      models.SideBuy,
			Quantity:  10,
			Price:     40.25,
			Timestamp: time.Date(2025, 3, 1, 14, 30, 0, 0, time.UTC),
		},
	}

	require.NoError(t, ExportFillsCSV(path, fills))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "symbol,side,quantity,price,timestamp", lines[0])
	assert.Equal(t, "AAPL,buy,10.0000,40.2500,2025-03-01T14:30:00Z", lines[1])
}
