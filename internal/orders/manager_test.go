package orders

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfenwick/microtrader/internal/ledger"
	"github.com/jfenwick/microtrader/internal/mock"
	"github.com/jfenwick/microtrader/internal/models"
	"github.com/jfenwick/microtrader/internal/risk"
)

func testQuote(last float64) models.Quote {
	return models.Quote{
		Symbol:    "AAPL",
		Last:      models.Float(last),
		Timestamp: time.Date(2025, 3, 1, 15, 0, 0, 0, time.UTC),
	}
}

func testSnapshot() models.AccountSnapshot {
	return models.AccountSnapshot{AccountID: "TEST", Currency: "USD", CashAvailable: 100_000, NetWorth: 100_000}
}

func openRisk() *risk.Manager {
	cfg := risk.Config{MaxNotionalPerOrder: 1_000_000, MaxCashUtilization: 1.0, AllowShortSelling: true}
	return risk.NewManager(&cfg, nil)
}

func TestProcessOrderPaperModeRecordsFillWithoutBroker(t *testing.T) {
	tracker := ledger.NewTracker(nil)
	m := NewManager(nil, openRisk(), tracker, nil, false)

	oi := models.OrderIntent{Symbol: "AAPL", Side: models.SideBuy, Quantity: 2, StrategyName: "mm"}
	require.NoError(t, m.ProcessOrder(oi, testQuote(10.0), testSnapshot(), tracker.Holdings()))

	fills := tracker.Fills()
	require.Len(t, fills, 1)
	assert.InDelta(t, 10.0, fills[0].Price, 1e-9)
	assert.Equal(t, "mm", fills[0].StrategyName)
	assert.Equal(t, time.Date(2025, 3, 1, 15, 0, 0, 0, time.UTC), fills[0].Timestamp)

	pos := tracker.Summary()["AAPL"]
	assert.InDelta(t, 2.0, pos.Quantity, 1e-9)
}

func TestProcessOrderRiskDenialIsNotAnError(t *testing.T) {
	tracker := ledger.NewTracker(nil)
	cfg := risk.Config{MaxNotionalPerOrder: 1.0, MaxCashUtilization: 1.0}
	m := NewManager(nil, risk.NewManager(&cfg, nil), tracker, nil, false)

	oi := models.OrderIntent{Symbol: "AAPL", Side: models.SideBuy, Quantity: 100}
	require.NoError(t, m.ProcessOrder(oi, testQuote(10.0), testSnapshot(), tracker.Holdings()))

	assert.Empty(t, tracker.Fills(), "denied orders must not reach the ledger")
}

func TestProcessOrderLiveModeSubmitsToBroker(t *testing.T) {
	tracker := ledger.NewTracker(nil)
	brk := mock.NewBroker(100_000, map[string]float64{"AAPL": 10.0})
	m := NewManager(brk, openRisk(), tracker, nil, true)

	oi := models.OrderIntent{Symbol: "AAPL", Side: models.SideBuy, Quantity: 1, StrategyName: "mm"}
	require.NoError(t, m.ProcessOrder(oi, testQuote(10.0), testSnapshot(), tracker.Holdings()))

	require.Len(t, brk.PlacedOrders, 1)
	assert.Equal(t, models.SideBuy, brk.PlacedOrders[0].Side)
	assert.Len(t, tracker.Fills(), 1)
}

func TestProcessOrderLiveSubmissionErrorAfterLedgerWrite(t *testing.T) {
	tracker := ledger.NewTracker(nil)
	brk := mock.NewBroker(100_000, map[string]float64{"AAPL": 10.0})
	brk.PlaceOrderErr = errors.New("boom")
	m := NewManager(brk, openRisk(), tracker, nil, true)

	oi := models.OrderIntent{Symbol: "AAPL", Side: models.SideBuy, Quantity: 1}
	err := m.ProcessOrder(oi, testQuote(10.0), testSnapshot(), tracker.Holdings())
	require.Error(t, err)
	assert.ErrorIs(t, err, brk.PlaceOrderErr)

	// The ledger write happens before submission and survives the failure.
	assert.Len(t, tracker.Fills(), 1)
	// No retry: exactly one submission attempt.
	assert.Empty(t, brk.PlacedOrders)
}

func TestProcessOrderZeroTimestampFallsBackToNow(t *testing.T) {
	tracker := ledger.NewTracker(nil)
	m := NewManager(nil, openRisk(), tracker, nil, false)

	q := models.Quote{Symbol: "AAPL", Last: models.Float(10.0)}
	before := time.Now().UTC()
	require.NoError(t, m.ProcessOrder(
		models.OrderIntent{Symbol: "AAPL", Side: models.SideBuy, Quantity: 1},
		q, testSnapshot(), tracker.Holdings()))

	fills := tracker.Fills()
	require.Len(t, fills, 1)
	assert.False(t, fills[0].Timestamp.Before(before))
}

func TestNewManagerPanicsOnMissingDeps(t *testing.T) {
	tracker := ledger.NewTracker(nil)

	assert.Panics(t, func() { NewManager(nil, nil, tracker, nil, false) })
	assert.Panics(t, func() { NewManager(nil, openRisk(), nil, nil, false) })
	assert.Panics(t, func() { NewManager(nil, openRisk(), tracker, nil, true) })
}
