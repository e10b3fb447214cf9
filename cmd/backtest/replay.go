package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jfenwick/microtrader/internal/backtest"
	"github.com/jfenwick/microtrader/internal/risk"
)

var csvCmd = &cobra.Command{
	Use:   "csv",
	Short: "Run a backtest against historical quotes from a CSV file",
	Long: `Csv replays quote rows (timestamp plus bid/ask and/or last) through the
trading pipeline. Rows missing bid/ask get a synthetic one-cent half-spread
around the last price.

Example:
  backtest csv --quotes data/aapl.csv --symbol AAPL --strategy trend_scalper`,
	RunE: runCSV,
}

var flagQuotesPath string

func init() {
	rootCmd.AddCommand(csvCmd)
	addCommonFlags(csvCmd)

	csvCmd.Flags().StringVarP(&flagQuotesPath, "quotes", "t", "", "path to quote CSV (required)")
	_ = csvCmd.MarkFlagRequired("quotes")
}

func runCSV(_ *cobra.Command, _ []string) error {
	strategies, err := buildStrategies()
	if err != nil {
		return fmt.Errorf("strategy: %w", err)
	}

	quoteSeq, err := backtest.LoadQuotesCSV(flagQuotesPath, flagSymbol)
	if err != nil {
		return fmt.Errorf("load quotes: %w", err)
	}
	if len(quoteSeq) == 0 {
		return fmt.Errorf("no quotes loaded from %s", flagQuotesPath)
	}

	cfg := backtest.Config{
		Symbol:       flagSymbol,
		StartingCash: flagCash,
		// Not used when quotes are supplied, but Validate requires them.
		StartingPrice:    1,
		Steps:            len(quoteSeq),
		StepSeconds:      1,
		VolatilityAnnual: 0,
		SpreadCents:      0,
		Risk: risk.Config{
			MaxNotionalPerOrder: flagMaxNotional,
			MaxCashUtilization:  flagCashFrac,
			AllowShortSelling:   flagAllowShort,
		},
	}

	fmt.Printf("Running CSV backtest: %s strategy on %s (%d quotes from %s)\n",
		flagStrategy, flagSymbol, len(quoteSeq), flagQuotesPath)

	engine := backtest.NewEngine(strategies, cfg, quoteSeq, nil)
	result, err := engine.Run()
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	printResult(result)
	return persistResult(engine, result)
}
