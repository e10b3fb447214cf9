// Package orders sequences order intents through the risk gate, the
// execution ledger, and (in live mode) broker submission.
package orders

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jfenwick/microtrader/internal/broker"
	"github.com/jfenwick/microtrader/internal/ledger"
	"github.com/jfenwick/microtrader/internal/models"
	"github.com/jfenwick/microtrader/internal/risk"
	"github.com/jfenwick/microtrader/internal/util"
)

// Manager is the central place that receives OrderIntents from strategies,
// asks the risk manager if they are allowed, records fills in the ledger,
// and submits to the broker when live.
type Manager struct {
	broker  broker.Broker
	risk    *risk.Manager
	tracker *ledger.Tracker
	logger  *log.Logger
	live    bool
}

// NewManager creates an order manager. broker may be nil when live is false;
// the risk manager and tracker are required.
func NewManager(
	b broker.Broker,
	riskManager *risk.Manager,
	tracker *ledger.Tracker,
	logger *log.Logger,
	live bool,
) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "orders: ", log.LstdFlags)
	}
	if riskManager == nil {
		panic("orders.NewManager: risk manager must not be nil")
	}
	if tracker == nil {
		panic("orders.NewManager: tracker must not be nil")
	}
	if live && b == nil {
		panic("orders.NewManager: live mode requires a broker")
	}

	return &Manager{
		broker:  b,
		risk:    riskManager,
		tracker: tracker,
		logger:  logger,
		live:    live,
	}
}

// Live reports whether submissions reach the broker.
func (m *Manager) Live() bool { return m.live }

// ProcessOrder runs one intent through the pipeline. A risk denial is a
// normal outcome and returns nil. When approved, the fill is recorded at the
// inferred price in both paper and live modes: the ledger reflects intent,
// not the broker's confirmed fill price. Live submission failures propagate
// to the caller after the ledger write; this component never retries.
func (m *Manager) ProcessOrder(
	oi models.OrderIntent,
	quote models.Quote,
	snapshot models.AccountSnapshot,
	holdings map[string]models.Holding,
) error {
	if !m.risk.Approve(oi, quote, snapshot, holdings) {
		m.logger.Printf("Order blocked by risk: %s", oi)
		return nil
	}

	m.logger.Printf("Order approved: %s (live=%v)", oi, m.live)

	price, ok := util.InferPrice(oi, quote)
	if !ok {
		// Approval implies a price existed, but the shared inference is the
		// sole authority; without one there is nothing to track.
		m.logger.Printf("Skipping PnL tracking for %s (no usable price)", oi)
	} else {
		ts := quote.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		m.tracker.RecordFill(oi, price, ts)
	}

	if !m.live {
		return nil
	}

	resp, err := m.broker.PlaceEquityOrder(oi)
	if err != nil {
		return fmt.Errorf("submitting %s: %w", oi, err)
	}
	m.logger.Printf("Order submitted: %s -> broker order %s (%s)", oi, resp.OrderID, resp.Status)
	return nil
}
