// Package main provides a liquidation utility for closing all open holdings
// via market orders through the brokerage API.
//
// Usage:
//
//	# Option A: use env vars, no config file required
//	export BROKER_API_KEY="your_key_here"
//	export BROKER_ACCOUNT_ID="your_account_here"
//	go run ./scripts/liquidate_positions
//
//	# Option B: point it at a config file
//	go run ./scripts/liquidate_positions -config config.yaml
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"

	"github.com/joho/godotenv"

	"github.com/jfenwick/microtrader/internal/broker"
	"github.com/jfenwick/microtrader/internal/config"
	"github.com/jfenwick/microtrader/internal/models"
)

func main() {
	cfgPath := flag.String("config", "./config.yaml", "Path to config.yaml")
	flag.Parse()

	_ = godotenv.Load()

	var cfg *config.Config
	if *cfgPath != "" {
		if c, err := config.Load(*cfgPath); err == nil {
			cfg = c
		} else if os.Getenv("BROKER_API_KEY") == "" || os.Getenv("BROKER_ACCOUNT_ID") == "" {
			log.Fatalf("Failed to load config and env vars missing: %v", err)
		}
	}

	fmt.Println("Loading credentials (env overrides config)...")
	apiKey, endpoint, accountID, currency := "", "", "", ""
	if cfg != nil {
		apiKey = cfg.Broker.APIKey
		endpoint = cfg.Broker.APIEndpoint
		accountID = cfg.Broker.AccountID
		currency = cfg.Broker.Currency
	}
	if v := os.Getenv("BROKER_API_KEY"); v != "" {
		apiKey = v
	}
	if v := os.Getenv("BROKER_API_ENDPOINT"); v != "" {
		endpoint = v
	}
	if v := os.Getenv("BROKER_ACCOUNT_ID"); v != "" {
		accountID = v
	}

	if apiKey == "" || accountID == "" {
		log.Fatalf("Missing broker credentials: BROKER_API_KEY and BROKER_ACCOUNT_ID must be set via config or env")
	}
	client := broker.NewClient(apiKey, endpoint, accountID, currency)

	fmt.Println("LIQUIDATE ALL HOLDINGS - MARKET ORDERS")
	fmt.Println("WARNING: This will close ALL holdings using market orders")

	holdings, err := client.GetHoldings()
	if err != nil {
		log.Fatalf("Failed to get holdings: %v", err)
	}

	fmt.Printf("Found %d holdings to close:\n", len(holdings))
	closed, failed := 0, 0
	for sym, h := range holdings {
		if h.Quantity == 0 {
			continue
		}
		side := models.SideSell
		if h.Quantity < 0 {
			side = models.SideBuy
		}
		qty := math.Abs(h.Quantity)
		fmt.Printf("  %s: qty=%.2f avg=%.4f -> %s %.2f @ market\n", sym, h.Quantity, h.AvgPrice, side, qty)

		resp, err := client.PlaceEquityOrder(models.OrderIntent{
			Symbol:    sym,
			Side:      side,
			Quantity:  qty,
			OrderType: models.OrderTypeMarket,
		})
		if err != nil {
			fmt.Printf("  FAILED to close %s: %v\n", sym, err)
			failed++
			continue
		}
		fmt.Printf("  Close order placed for %s: %s (%s)\n", sym, resp.OrderID, resp.Status)
		closed++
	}

	fmt.Printf("Done: %d close orders placed, %d failed\n", closed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}
