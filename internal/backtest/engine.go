package backtest

import (
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/jfenwick/microtrader/internal/ledger"
	"github.com/jfenwick/microtrader/internal/models"
	"github.com/jfenwick/microtrader/internal/orders"
	"github.com/jfenwick/microtrader/internal/risk"
	"github.com/jfenwick/microtrader/internal/strategy"
)

// Engine drives strategies over a finite quote sequence using the live
// order pipeline with submission disabled. One Engine serves one run.
type Engine struct {
	config     Config
	strategies []strategy.Strategy
	quotes     []models.Quote // nil means generate synthetically

	tracker      *ledger.Tracker
	riskConfig   risk.Config
	orderManager *orders.Manager
	logger       *log.Logger
}

// NewEngine builds an engine around fresh ledger/risk/order instances.
// quotes may be nil, in which case the run generates a random walk from the
// config. The config must already be validated.
func NewEngine(strategies []strategy.Strategy, config Config, quotes []models.Quote, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "backtest: ", log.LstdFlags)
	}

	tracker := ledger.NewTracker(logger)
	riskConfig := config.Risk
	riskManager := risk.NewManager(&riskConfig, logger)

	return &Engine{
		config:       config,
		strategies:   strategies,
		quotes:       quotes,
		tracker:      tracker,
		riskConfig:   riskConfig,
		orderManager: orders.NewManager(nil, riskManager, tracker, logger, false),
		logger:       logger,
	}
}

// Tracker exposes the run's ledger, mainly for exports after Run returns.
func (e *Engine) Tracker() *ledger.Tracker { return e.tracker }

// recomputeCash folds the fill log into a cash balance:
// starting cash minus buy notionals plus sell notionals.
func (e *Engine) recomputeCash() float64 {
	cash := e.config.StartingCash
	for _, f := range e.tracker.Fills() {
		notional := f.Price * f.Quantity
		switch f.Side {
		case models.SideBuy:
			cash -= notional
		case models.SideSell:
			cash += notional
		}
	}
	return cash
}

// equity marks every open position at midPrice and adds cash. The run is
// single-symbol today but the sum is written to survive more.
func (e *Engine) equity(midPrice, cash float64) float64 {
	value := 0.0
	for _, pos := range e.tracker.Summary() {
		value += pos.Quantity * midPrice
	}
	return cash + value
}

func (e *Engine) makeSnapshot(equity, cash float64) models.AccountSnapshot {
	return models.AccountSnapshot{
		AccountID:     "BACKTEST",
		Currency:      "SIM",
		NetWorth:      equity,
		CashAvailable: cash,
	}
}

// Run replays the quote sequence to completion and computes the result
// metrics. It is not reentrant.
func (e *Engine) Run() (*Result, error) {
	cfg := e.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(e.strategies) == 0 {
		return nil, fmt.Errorf("backtest: at least one strategy is required")
	}

	qs := e.quotes
	if qs == nil {
		seed := cfg.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		qs = GenerateRandomWalkQuotes(
			cfg.Symbol,
			cfg.StartingPrice,
			cfg.Steps,
			cfg.StepSeconds,
			cfg.VolatilityAnnual,
			cfg.SpreadCents,
			time.Time{},
			rand.New(rand.NewSource(seed)),
		)
	}

	var (
		equityCurve []float64
		timestamps  []time.Time
		maxEquity   = cfg.StartingCash
		maxDrawdown = 0.0
	)

	for _, q := range qs {
		mid, ok := q.Mid()
		if !ok {
			// No usable price this step.
			continue
		}

		cashBefore := e.recomputeCash()
		equityBefore := e.equity(mid, cashBefore)
		snapshot := e.makeSnapshot(equityBefore, cashBefore)

		for _, strat := range e.strategies {
			for _, oi := range strat.OnQuote(q) {
				// Holdings are re-read per proposal so a sell in the same
				// step can close a buy that just filled.
				if err := e.orderManager.ProcessOrder(oi, q, snapshot, e.tracker.Holdings()); err != nil {
					// Paper mode never submits, so this is unreachable today,
					// but a pipeline error should still stop the run.
					return nil, fmt.Errorf("backtest step failed: %w", err)
				}
			}
			if pos, ok := e.tracker.Summary()[models.NormalizeSymbol(q.Symbol)]; ok {
				strat.SetPosition(pos.Quantity)
			}
		}

		cashAfter := e.recomputeCash()
		equityAfter := e.equity(mid, cashAfter)

		equityCurve = append(equityCurve, equityAfter)
		ts := q.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		timestamps = append(timestamps, ts)

		if equityAfter > maxEquity {
			maxEquity = equityAfter
		}
		if maxEquity > 0 {
			if dd := (maxEquity - equityAfter) / maxEquity; dd > maxDrawdown {
				maxDrawdown = dd
			}
		}
	}

	finalCash := e.recomputeCash()
	finalEquity := cfg.StartingCash
	if len(equityCurve) > 0 {
		finalEquity = equityCurve[len(equityCurve)-1]
	}

	tradePnLs := ReconstructTradePnLs(e.tracker.Fills())
	numTrades := len(tradePnLs)
	wins, losses := 0, 0
	best, worst, sum := 0.0, 0.0, 0.0
	for i, pnl := range tradePnLs {
		sum += pnl
		if pnl > 0 {
			wins++
		} else if pnl < 0 {
			losses++
		}
		if i == 0 || pnl > best {
			best = pnl
		}
		if i == 0 || pnl < worst {
			worst = pnl
		}
	}
	avg := 0.0
	if numTrades > 0 {
		avg = sum / float64(numTrades)
	}

	return &Result{
		Symbol:           models.NormalizeSymbol(cfg.Symbol),
		StartingCash:     cfg.StartingCash,
		FinalCash:        finalCash,
		FinalEquity:      finalEquity,
		RealizedPnL:      e.tracker.TotalRealizedPnL(),
		MaxDrawdown:      maxDrawdown,
		EquityCurve:      equityCurve,
		Timestamps:       timestamps,
		Positions:        e.tracker.Summary(),
		NumTrades:        numTrades,
		NumWinningTrades: wins,
		NumLosingTrades:  losses,
		BestTradePnL:     best,
		WorstTradePnL:    worst,
		AvgTradePnL:      avg,
		SharpeLike:       sharpeLike(equityCurve),
	}, nil
}

// sharpeLike computes mean(returns)/stdev(returns) * sqrt(N) over per-step
// equity returns, with the unbiased (N-1) variance estimator. Not annualized;
// just comparable across runs. Zero when fewer than two returns exist or the
// deviation vanishes.
func sharpeLike(equityCurve []float64) float64 {
	if len(equityCurve) < 2 {
		return 0
	}
	var returns []float64
	for i := 1; i < len(equityCurve); i++ {
		prev := equityCurve[i-1]
		if prev > 0 {
			returns = append(returns, equityCurve[i]/prev-1)
		}
	}
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	if variance <= 0 {
		return 0
	}

	return mean / math.Sqrt(variance) * math.Sqrt(float64(len(returns)))
}
