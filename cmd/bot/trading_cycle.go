package main

import (
	"context"
	"sort"
	"time"

	"github.com/jfenwick/microtrader/internal/models"
)

// summaryLogInterval is how many poll cycles pass between position summaries.
const summaryLogInterval = 12

// paperCashFallback is the cash balance assumed when running paper mode
// without any broker account behind it.
const paperCashFallback = 100_000.0

// runCycle executes one poll: refresh account state, fetch quotes, run every
// strategy over every quote, and push the resulting intents through the
// order pipeline. Individual failures skip the affected piece, never the
// whole cycle.
func (b *Bot) runCycle(ctx context.Context) {
	snapshot := b.accountSnapshot()

	if !b.seeded && b.broker != nil {
		holdings, err := b.broker.GetHoldings()
		if err != nil {
			b.logger.Printf("Failed to fetch holdings, will retry next cycle: %v", err)
		} else {
			b.tracker.SeedFromHoldings(holdings)
			b.seeded = true
		}
	}

	b.maybeRefreshUniverse(ctx)

	symbols := b.symbols
	if len(symbols) == 0 {
		b.logger.Println("No symbols to trade this cycle")
		return
	}

	quoteMap := b.provider.GetQuotes(ctx, symbols)
	if len(quoteMap) == 0 {
		return
	}

	// Stable iteration keeps logs and fill ordering deterministic per cycle.
	quoted := make([]string, 0, len(quoteMap))
	for sym := range quoteMap {
		quoted = append(quoted, sym)
	}
	sort.Strings(quoted)

	for _, strat := range b.strategies {
		for _, sym := range quoted {
			q := quoteMap[sym]
			proposals := strat.OnQuote(q)
			if len(proposals) == 0 {
				continue
			}
			for _, oi := range proposals {
				// Holdings are re-read per intent so a sell in the same
				// cycle can close a buy that just filled.
				if err := b.orders.ProcessOrder(oi, q, snapshot, b.tracker.Holdings()); err != nil {
					b.logger.Printf("Order submission failed: %v", err)
				}
			}
			if pos, ok := b.tracker.Summary()[models.NormalizeSymbol(sym)]; ok {
				strat.SetPosition(pos.Quantity)
			}
		}
	}

	b.journalCycle(snapshot, quoteMap)
	b.tracker.LogSummary(summaryLogInterval)

	if b.tuner != nil {
		b.tuner.MaybeRun(ctx, &b.config.Risk, b.strategies, b.tracker)
	}
}

// accountSnapshot fetches live account state, falling back to a synthetic
// paper account when no broker is configured or the fetch fails.
func (b *Bot) accountSnapshot() models.AccountSnapshot {
	if b.broker != nil {
		snapshot, err := b.broker.GetAccountSnapshot()
		if err == nil {
			return snapshot
		}
		b.logger.Printf("Failed to fetch account snapshot, using paper fallback: %v", err)
	}
	return models.AccountSnapshot{
		AccountID:     "PAPER",
		Currency:      "USD",
		NetWorth:      paperCashFallback,
		CashAvailable: paperCashFallback,
	}
}

// maybeRefreshUniverse re-pulls the symbol universe on its own cadence and
// re-selects the tradable subset.
func (b *Bot) maybeRefreshUniverse(ctx context.Context) {
	if b.universe == nil {
		return
	}
	if time.Since(b.lastUniversePull) < b.config.GetUniverseRefreshInterval() {
		return
	}
	b.refreshUniverse(ctx)
}

func (b *Bot) refreshUniverse(ctx context.Context) {
	b.lastUniversePull = time.Now()
	if err := b.universe.Refresh(ctx); err != nil {
		b.logger.Printf("Universe refresh failed: %v", err)
		return
	}
	selected := b.selector.Select(ctx, b.universe, b.tracker)
	if len(selected) == 0 {
		b.logger.Println("Universe refresh selected no symbols; keeping current set")
		return
	}
	b.symbols = selected
	b.logger.Printf("Trading symbols updated: %v", selected)
}

// journalCycle persists any fills recorded since the last cycle plus one
// equity sample. Journal failures are logged and skipped.
func (b *Bot) journalCycle(snapshot models.AccountSnapshot, quoteMap map[string]models.Quote) {
	if b.journal == nil {
		return
	}

	fills := b.tracker.Fills()
	if len(fills) > b.journaledFills {
		if err := b.journal.RecordFills(fills[b.journaledFills:]); err != nil {
			b.logger.Printf("Failed to journal fills: %v", err)
		} else {
			b.journaledFills = len(fills)
		}
	}

	// Equity marks only the symbols quoted this cycle; unquoted positions
	// keep their cash contribution but drop out of the mark.
	equity := snapshot.CashAvailable
	for sym, pos := range b.tracker.Summary() {
		q, ok := quoteMap[sym]
		if !ok {
			continue
		}
		if mid, ok := q.Mid(); ok {
			equity += pos.Quantity * mid
		}
	}
	if err := b.journal.RecordEquity(time.Now().UTC(), equity); err != nil {
		b.logger.Printf("Failed to journal equity: %v", err)
	}
}
