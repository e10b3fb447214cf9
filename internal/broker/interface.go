// Package broker wraps the brokerage HTTP API behind a narrow interface the
// trading core consumes. The core never talks HTTP directly; in backtests the
// broker is absent entirely.
package broker

import (
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"

	"github.com/jfenwick/microtrader/internal/models"
)

// Broker defines the capabilities the engine needs from a brokerage.
type Broker interface {
	// Account state
	GetAccountSnapshot() (models.AccountSnapshot, error)
	GetHoldings() (map[string]models.Holding, error)

	// Market data
	GetQuote(symbol string) (models.Quote, error)

	// Order submission, used only in live mode.
	PlaceEquityOrder(oi models.OrderIntent) (*OrderResponse, error)
}

// OrderResponse is the broker-assigned result of a submission.
type OrderResponse struct {
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
	ClientTag string `json:"client_tag"`
}

// Ensure implementations satisfy Broker at compile time.
var (
	_ Broker = (*Client)(nil)
	_ Broker = (*CircuitBreakerBroker)(nil)
)

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality so a
// flapping brokerage API stops being hammered mid-outage.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerBroker creates a CircuitBreakerBroker with sensible defaults.
func NewCircuitBreakerBroker(broker Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with custom settings.
func NewCircuitBreakerBrokerWithSettings(broker Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods.
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// GetAccountSnapshot wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetAccountSnapshot() (models.AccountSnapshot, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (models.AccountSnapshot, error) {
		return b.GetAccountSnapshot()
	})
}

// GetHoldings wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetHoldings() (map[string]models.Holding, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (map[string]models.Holding, error) {
		return b.GetHoldings()
	})
}

// GetQuote wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetQuote(symbol string) (models.Quote, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (models.Quote, error) {
		return b.GetQuote(symbol)
	})
}

// PlaceEquityOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) PlaceEquityOrder(oi models.OrderIntent) (*OrderResponse, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*OrderResponse, error) {
		return b.PlaceEquityOrder(oi)
	})
}
