package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfenwick/microtrader/internal/ledger"
	"github.com/jfenwick/microtrader/internal/models"
)

func openTestJournal(t *testing.T) *SQLiteJournal {
	t.Helper()
	j, err := NewSQLite(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func sampleFill(symbol string, qty float64) ledger.Fill {
	return ledger.Fill{
		Symbol:       symbol,
		Side:         models.SideBuy,
		Quantity:     qty,
		Price:        40.25,
		StrategyName: "mm",
		Timestamp:    time.Date(2025, 3, 1, 14, 30, 0, 0, time.UTC),
	}
}

func TestRecordFill(t *testing.T) {
	j := openTestJournal(t)

	require.NoError(t, j.RecordFill(sampleFill("AAPL", 10)))
	require.NoError(t, j.RecordFill(sampleFill("MSFT", 5)))

	n, err := j.FillCount()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRecordFillsBatch(t *testing.T) {
	j := openTestJournal(t)

	fills := []ledger.Fill{
		sampleFill("AAPL", 10),
		sampleFill("AAPL", 5),
		sampleFill("AAPL", 7),
	}
	require.NoError(t, j.RecordFills(fills))

	n, err := j.FillCount()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRecordEquity(t *testing.T) {
	j := openTestJournal(t)

	ts := time.Date(2025, 3, 1, 14, 30, 0, 0, time.UTC)
	require.NoError(t, j.RecordEquity(ts, 100_000))
	require.NoError(t, j.RecordEquity(ts.Add(5*time.Second), 100_012.5))

	var n int
	err := j.db.QueryRow(`SELECT COUNT(*) FROM equity WHERE run_id = ?`, j.runID).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

// Each journal session gets its own run ID so a shared database file keeps
// runs separable.
func TestRunIDsAreDistinct(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	a, err := NewSQLite(path)
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	b, err := NewSQLite(path)
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	assert.NotEmpty(t, a.RunID())
	assert.NotEqual(t, a.RunID(), b.RunID())

	// FillCount scopes to the session's run.
	require.NoError(t, a.RecordFill(sampleFill("AAPL", 1)))
	n, err := b.FillCount()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
