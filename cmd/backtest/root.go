package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jfenwick/microtrader/internal/backtest"
	"github.com/jfenwick/microtrader/internal/journal"
	"github.com/jfenwick/microtrader/internal/strategy"
)

var rootCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay synthetic or historical quotes through the trading pipeline",
	Long: `Backtest runs the same strategies, risk gate, and ledger used by the live
engine against a quote sequence and reports equity-curve and trade metrics.

Quote sources:
  synthetic: a seeded geometric random walk
  csv:       historical quotes from a CSV file

Example:
  backtest synthetic --strategy market_maker --steps 5000 --seed 42`,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

var (
	flagStrategy  string
	flagName      string
	flagSymbol    string
	flagCash      float64
	flagParams    []string
	flagDBPath    string
	flagEquityCSV string
	flagFillsCSV  string

	flagMaxNotional float64
	flagCashFrac    float64
	flagAllowShort  bool
)

func addCommonFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flagStrategy, "strategy", "s", "market_maker", "strategy type (market_maker, trend_scalper)")
	cmd.Flags().StringVar(&flagName, "name", "", "strategy instance name (defaults to the type)")
	cmd.Flags().StringVarP(&flagSymbol, "symbol", "i", "AAPL", "symbol to trade")
	cmd.Flags().Float64VarP(&flagCash, "cash", "b", 100_000, "starting cash")
	cmd.Flags().StringArrayVar(&flagParams, "set", nil, "strategy parameter override key=value (repeatable)")
	cmd.Flags().StringVarP(&flagDBPath, "db", "d", "", "path to SQLite journal DB (omit to skip journaling)")
	cmd.Flags().StringVar(&flagEquityCSV, "equity-csv", "", "write the equity curve to this CSV file")
	cmd.Flags().StringVar(&flagFillsCSV, "fills-csv", "", "write the fill log to this CSV file")

	cmd.Flags().Float64Var(&flagMaxNotional, "max-notional", 100, "risk: max notional per order")
	cmd.Flags().Float64Var(&flagCashFrac, "cash-frac", 0.1, "risk: max fraction of cash per buy")
	cmd.Flags().BoolVar(&flagAllowShort, "allow-short", false, "risk: allow short selling")
}

func buildStrategies() ([]strategy.Strategy, error) {
	params, err := parseParams(flagParams)
	if err != nil {
		return nil, err
	}
	name := flagName
	if name == "" {
		name = flagStrategy
	}
	strat, err := strategy.Build(strategy.Spec{
		Type:   flagStrategy,
		Name:   name,
		Symbol: flagSymbol,
		Config: params,
	})
	if err != nil {
		return nil, err
	}
	return []strategy.Strategy{strat}, nil
}

func parseParams(pairs []string) (map[string]float64, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("invalid --set %q (want key=value)", pair)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid --set %q: %w", pair, err)
		}
		out[strings.TrimSpace(key)] = v
	}
	return out, nil
}

func printResult(result *backtest.Result) {
	fmt.Printf("\nBacktest Complete!\n")
	fmt.Printf("  Symbol: %s\n", result.Symbol)
	fmt.Printf("  Starting Cash: $%.2f\n", result.StartingCash)
	fmt.Printf("  Final Cash: $%.2f\n", result.FinalCash)
	fmt.Printf("  Final Equity: $%.2f\n", result.FinalEquity)
	fmt.Printf("  Realized PnL: $%.2f\n", result.RealizedPnL)
	fmt.Printf("  Max Drawdown: %.2f%%\n", result.MaxDrawdown*100)
	fmt.Printf("  Trades: %d (%d wins, %d losses)\n",
		result.NumTrades, result.NumWinningTrades, result.NumLosingTrades)
	if result.NumTrades > 0 {
		fmt.Printf("  Best / Worst / Avg Trade: $%.2f / $%.2f / $%.2f\n",
			result.BestTradePnL, result.WorstTradePnL, result.AvgTradePnL)
	}
	fmt.Printf("  Sharpe-like: %.3f\n", result.SharpeLike)
	for sym, pos := range result.Positions {
		fmt.Printf("  Ending Position: %s qty=%.2f avg=%.4f realized=%.2f\n",
			sym, pos.Quantity, pos.AvgPrice, pos.RealizedPnL)
	}
}

// persistResult handles the optional journal and CSV outputs shared by both
// quote sources.
func persistResult(engine *backtest.Engine, result *backtest.Result) error {
	if flagDBPath != "" {
		j, err := journal.NewSQLite(flagDBPath)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer func() { _ = j.Close() }()
		if err := j.RecordFills(engine.Tracker().Fills()); err != nil {
			return fmt.Errorf("journal fills: %w", err)
		}
		for i, equity := range result.EquityCurve {
			if err := j.RecordEquity(result.Timestamps[i], equity); err != nil {
				return fmt.Errorf("journal equity: %w", err)
			}
		}
		fmt.Printf("  Journal: %s (run %s)\n", flagDBPath, j.RunID())
	}
	if flagEquityCSV != "" {
		if err := backtest.ExportEquityCSV(flagEquityCSV, result); err != nil {
			return fmt.Errorf("export equity: %w", err)
		}
		fmt.Printf("  Equity CSV: %s\n", flagEquityCSV)
	}
	if flagFillsCSV != "" {
		if err := backtest.ExportFillsCSV(flagFillsCSV, engine.Tracker().Fills()); err != nil {
			return fmt.Errorf("export fills: %w", err)
		}
		fmt.Printf("  Fills CSV: %s\n", flagFillsCSV)
	}
	return nil
}
