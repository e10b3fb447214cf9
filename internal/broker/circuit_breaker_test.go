package broker

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/jfenwick/microtrader/internal/models"
)

// flakyBroker fails every call until healed.
type flakyBroker struct {
	calls  int
	healed bool
}

var errBrokerDown = errors.New("broker down")

func (f *flakyBroker) GetAccountSnapshot() (models.AccountSnapshot, error) {
	f.calls++
	if !f.healed {
		return models.AccountSnapshot{}, errBrokerDown
	}
	return models.AccountSnapshot{AccountID: "ACCT-1", CashAvailable: 1000}, nil
}

func (f *flakyBroker) GetHoldings() (map[string]models.Holding, error) {
	f.calls++
	if !f.healed {
		return nil, errBrokerDown
	}
	return map[string]models.Holding{}, nil
}

func (f *flakyBroker) GetQuote(string) (models.Quote, error) {
	f.calls++
	if !f.healed {
		return models.Quote{}, errBrokerDown
	}
	return models.Quote{Symbol: "AAPL"}, nil
}

func (f *flakyBroker) PlaceEquityOrder(models.OrderIntent) (*OrderResponse, error) {
	f.calls++
	if !f.healed {
		return nil, errBrokerDown
	}
	return &OrderResponse{OrderID: "ORD-1"}, nil
}

func TestCircuitBreakerPassesThroughWhenHealthy(t *testing.T) {
	inner := &flakyBroker{healed: true}
	cb := NewCircuitBreakerBroker(inner)

	snapshot, err := cb.GetAccountSnapshot()
	if err != nil {
		t.Fatalf("GetAccountSnapshot() error = %v", err)
	}
	if snapshot.CashAvailable != 1000 {
		t.Errorf("CashAvailable = %v, want 1000", snapshot.CashAvailable)
	}

	resp, err := cb.PlaceEquityOrder(models.OrderIntent{Symbol: "AAPL", Side: models.SideBuy, Quantity: 1})
	if err != nil {
		t.Fatalf("PlaceEquityOrder() error = %v", err)
	}
	if resp.OrderID != "ORD-1" {
		t.Errorf("OrderID = %q", resp.OrderID)
	}
}

func TestCircuitBreakerOpensAfterRepeatedFailures(t *testing.T) {
	inner := &flakyBroker{}
	cb := NewCircuitBreakerBrokerWithSettings(inner, CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  3,
		FailureRatio: 0.6,
	})

	// The first MinRequests calls reach the broker and fail.
	for i := 0; i < 3; i++ {
		if _, err := cb.GetQuote("AAPL"); !errors.Is(err, errBrokerDown) {
			t.Fatalf("call %d: err = %v, want broker error", i, err)
		}
	}

	// Now the breaker is open; calls short-circuit without touching the broker.
	callsBefore := inner.calls
	_, err := cb.GetQuote("AAPL")
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("err = %v, want ErrOpenState", err)
	}
	if inner.calls != callsBefore {
		t.Errorf("open breaker still reached the broker (%d calls)", inner.calls-callsBefore)
	}

	// Healing the broker does not help until the timeout elapses.
	inner.healed = true
	if _, err := cb.GetHoldings(); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("err = %v, want ErrOpenState while open", err)
	}
}
