// Package quotes supplies per-cycle market snapshots to the engine.
// Providers return a complete mapping before the engine proceeds; symbols
// that failed to fetch are simply omitted, and the engine skips them for
// that cycle.
package quotes

import (
	"context"
	"log"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jfenwick/microtrader/internal/broker"
	"github.com/jfenwick/microtrader/internal/models"
)

// Provider fetches quotes for a set of symbols. Implementations may omit
// symbols that could not be fetched; they must never return partial errors.
type Provider interface {
	GetQuotes(ctx context.Context, symbols []string) map[string]models.Quote
}

// BrokerProvider wraps broker.GetQuote with bounded parallel fetch.
type BrokerProvider struct {
	broker     broker.Broker
	maxWorkers int
	logger     *log.Logger
}

// NewBrokerProvider creates a provider fanning out over at most maxWorkers
// concurrent broker calls.
func NewBrokerProvider(b broker.Broker, maxWorkers int, logger *log.Logger) *BrokerProvider {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if logger == nil {
		logger = log.New(os.Stderr, "quotes: ", log.LstdFlags)
	}
	return &BrokerProvider{broker: b, maxWorkers: maxWorkers, logger: logger}
}

// GetQuotes fetches all symbols, in parallel when more than one worker is
// configured. Failed symbols are logged and omitted.
func (p *BrokerProvider) GetQuotes(ctx context.Context, symbols []string) map[string]models.Quote {
	out := make(map[string]models.Quote, len(symbols))
	if len(symbols) == 0 {
		return out
	}

	// Single-threaded fast path
	if len(symbols) == 1 || p.maxWorkers <= 1 {
		for _, sym := range symbols {
			symbol := models.NormalizeSymbol(sym)
			q, err := p.broker.GetQuote(symbol)
			if err != nil {
				p.logger.Printf("failed to fetch quote for %s: %v", symbol, err)
				continue
			}
			out[symbol] = q
		}
		return out
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxWorkers)

	for _, sym := range symbols {
		symbol := models.NormalizeSymbol(sym)
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			q, err := p.broker.GetQuote(symbol)
			if err != nil {
				// A missing quote means "skip this symbol this cycle",
				// never a failed cycle.
				p.logger.Printf("failed to fetch quote for %s: %v", symbol, err)
				return nil
			}
			mu.Lock()
			out[symbol] = q
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return out
}
