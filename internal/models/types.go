// Package models defines the value types shared by the trading core:
// order intents produced by strategies, market quotes, account snapshots,
// and broker-reported holdings.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Side is the direction of an order.
type Side string

const (
	// SideBuy buys shares (opens/extends a long or covers a short).
	SideBuy Side = "buy"
	// SideSell sells shares (closes/reduces a long or opens a short).
	SideSell Side = "sell"
)

// Valid returns true if the Side is one of the defined constants.
func (s Side) Valid() bool {
	switch s {
	case SideBuy, SideSell:
		return true
	default:
		return false
	}
}

// OrderType describes how an order should be priced at the broker.
type OrderType string

const (
	// OrderTypeLimit executes at the limit price or better.
	OrderTypeLimit OrderType = "limit"
	// OrderTypeMarket executes at the prevailing market price.
	OrderTypeMarket OrderType = "market"
)

// NormalizeSymbol upper-cases and trims a ticker symbol. All maps keyed by
// symbol in this codebase use the normalized form.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// OrderIntent is an immutable trade proposal emitted by a strategy.
// It is consumed exactly once by the order manager and never mutated.
type OrderIntent struct {
	Symbol       string
	Side         Side
	Quantity     float64
	OrderType    OrderType
	LimitPrice   *float64 // nil for market orders
	StrategyName string   // empty when the producer is anonymous
	Meta         map[string]string
}

// String renders a compact human-readable form used in risk/order logs.
func (oi OrderIntent) String() string {
	limit := "mkt"
	if oi.LimitPrice != nil {
		limit = fmt.Sprintf("%.4f", *oi.LimitPrice)
	}
	return fmt.Sprintf("%s %s %.2f %s @ %s", oi.Side, oi.Symbol, oi.Quantity, oi.OrderType, limit)
}

// Quote is a read-only market snapshot for one symbol. Any of bid/ask/last
// may be absent; consumers must cope with partial quotes.
type Quote struct {
	Symbol    string
	Bid       *float64
	Ask       *float64
	Last      *float64
	BidSize   *float64
	AskSize   *float64
	Timestamp time.Time // zero when the provider reported no timestamp
}

// Mid returns the bid/ask midpoint, falling back to last when one side is
// missing. The second return is false when no usable price exists.
func (q Quote) Mid() (float64, bool) {
	if q.Bid != nil && q.Ask != nil {
		return (*q.Bid + *q.Ask) / 2.0, true
	}
	if q.Last != nil {
		return *q.Last, true
	}
	return 0, false
}

// AccountSnapshot is a per-cycle view of the account supplied by the broker
// (or synthesized by the backtest engine).
type AccountSnapshot struct {
	AccountID     string
	Currency      string
	NetWorth      float64
	CashAvailable float64
}

// Holding is a broker-reported position used to seed the ledger and to bound
// sell quantity when short selling is disallowed.
type Holding struct {
	Symbol   string
	Quantity float64
	AvgPrice float64
}

// Float is a convenience constructor for optional price fields.
func Float(v float64) *float64 { return &v }
