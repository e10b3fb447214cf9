// Package mock provides an in-memory broker for tests and offline runs.
package mock

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/jfenwick/microtrader/internal/broker"
	"github.com/jfenwick/microtrader/internal/models"
)

// secureFloat64 generates a cryptographically secure random float64 between 0 and 1.
func secureFloat64() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		// Fallback to a reasonable default if crypto/rand fails
		return 0.5
	}
	return float64(n.Int64()) / (1 << 53)
}

// Broker is a configurable in-memory broker.Broker. Quotes drift a little on
// each fetch so loops see changing prices.
type Broker struct {
	mu sync.Mutex

	Snapshot    models.AccountSnapshot
	HoldingsMap map[string]models.Holding
	prices      map[string]float64
	spread      float64

	// PlaceOrderErr, when set, is returned by every PlaceEquityOrder call.
	PlaceOrderErr error
	// PlacedOrders records every submission in order.
	PlacedOrders []models.OrderIntent

	orderSeq int
}

// NewBroker creates a mock broker with the given cash balance and starting
// prices per symbol.
func NewBroker(cash float64, prices map[string]float64) *Broker {
	p := make(map[string]float64, len(prices))
	for sym, price := range prices {
		p[models.NormalizeSymbol(sym)] = price
	}
	return &Broker{
		Snapshot: models.AccountSnapshot{
			AccountID:     "MOCK",
			Currency:      "USD",
			NetWorth:      cash,
			CashAvailable: cash,
		},
		HoldingsMap: make(map[string]models.Holding),
		prices:      p,
		spread:      0.02,
	}
}

func (m *Broker) GetAccountSnapshot() (models.AccountSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Snapshot, nil
}

func (m *Broker) GetHoldings() (map[string]models.Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]models.Holding, len(m.HoldingsMap))
	for sym, h := range m.HoldingsMap {
		out[sym] = h
	}
	return out, nil
}

func (m *Broker) GetQuote(symbol string) (models.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sym := models.NormalizeSymbol(symbol)
	price, ok := m.prices[sym]
	if !ok {
		return models.Quote{}, fmt.Errorf("mock: no quote for %s", sym)
	}

	// Simulate small price movements
	price += (secureFloat64() - 0.5) * 0.1
	if price < m.spread {
		price = m.spread
	}
	m.prices[sym] = price

	bid := price - m.spread/2
	ask := price + m.spread/2
	return models.Quote{
		Symbol:    sym,
		Bid:       &bid,
		Ask:       &ask,
		Last:      &price,
		Timestamp: time.Now().UTC(),
	}, nil
}

func (m *Broker) PlaceEquityOrder(oi models.OrderIntent) (*broker.OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PlaceOrderErr != nil {
		return nil, m.PlaceOrderErr
	}
	m.PlacedOrders = append(m.PlacedOrders, oi)
	m.orderSeq++
	return &broker.OrderResponse{
		OrderID: fmt.Sprintf("mock-%d", m.orderSeq),
		Status:  "filled",
	}, nil
}

// SetHolding sets a holding directly, bypassing order flow.
func (m *Broker) SetHolding(symbol string, quantity, avgPrice float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sym := models.NormalizeSymbol(symbol)
	m.HoldingsMap[sym] = models.Holding{Symbol: sym, Quantity: quantity, AvgPrice: avgPrice}
}

var _ broker.Broker = (*Broker)(nil)
