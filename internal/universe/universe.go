// Package universe builds a dynamic set of liquid US symbols from Polygon's
// grouped-daily aggregates. The engine trades whatever the universe reports;
// refresh cadence is the caller's concern.
package universe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"sort"
	"time"

	"github.com/jfenwick/microtrader/internal/models"
)

const polygonBaseURL = "https://api.polygon.io/v2/aggs/grouped/locale/us/market/stocks"

// Config bounds the universe by size, price band, and liquidity.
type Config struct {
	MaxSymbols      int     `yaml:"max_symbols"`
	MinPrice        float64 `yaml:"min_price"`
	MaxPrice        float64 `yaml:"max_price"`
	MinDollarVolume float64 `yaml:"min_dollar_volume"`
	// LookbackDays is the number of past sessions (ending yesterday) whose
	// dollar volume is aggregated.
	LookbackDays int `yaml:"lookback_days"`
}

// DefaultConfig matches a small account's liquid-midcap universe.
var DefaultConfig = Config{
	MaxSymbols:      50,
	MinPrice:        5.0,
	MaxPrice:        500.0,
	MinDollarVolume: 20_000_000.0,
	LookbackDays:    3,
}

// Metrics holds the liquidity measures kept per selected symbol.
type Metrics struct {
	AvgDollarVolume   float64
	TotalDollarVolume float64
	TotalVolume       float64
	LastClose         float64
}

// Universe fetches and caches the current symbol set.
type Universe struct {
	cfg     Config
	apiKey  string
	client  *http.Client
	logger  *log.Logger
	baseURL string

	symbols []string
	metrics map[string]Metrics
}

// New creates a universe builder. The API key is required.
func New(cfg Config, apiKey string, logger *log.Logger) (*Universe, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("universe: polygon API key is required")
	}
	if cfg.MaxSymbols <= 0 {
		cfg.MaxSymbols = DefaultConfig.MaxSymbols
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = DefaultConfig.LookbackDays
	}
	if logger == nil {
		logger = log.New(os.Stderr, "universe: ", log.LstdFlags)
	}
	return &Universe{
		cfg:     cfg,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
		baseURL: polygonBaseURL,
		metrics: make(map[string]Metrics),
	}, nil
}

// Symbols returns the most recently built universe.
func (u *Universe) Symbols() []string {
	out := make([]string, len(u.symbols))
	copy(out, u.symbols)
	return out
}

// MetricsFor returns the liquidity metrics for a selected symbol.
func (u *Universe) MetricsFor(symbol string) (Metrics, bool) {
	m, ok := u.metrics[models.NormalizeSymbol(symbol)]
	return m, ok
}

type groupedDailyResponse struct {
	Results []struct {
		Ticker string  `json:"T"`
		Close  float64 `json:"c"`
		Volume float64 `json:"v"`
	} `json:"results"`
}

type accumulator struct {
	dollarVolume float64
	volume       float64
	lastClose    float64
	haveClose    bool
}

// Refresh rebuilds the universe from the last LookbackDays sessions ending
// yesterday (today's grouped aggregates are incomplete or gated).
func (u *Universe) Refresh(ctx context.Context) error {
	end := time.Now().UTC().AddDate(0, 0, -1)

	agg := make(map[string]*accumulator)
	for i := 0; i < u.cfg.LookbackDays; i++ {
		day := end.AddDate(0, 0, -i)
		if err := u.accumulateDay(ctx, day, agg); err != nil {
			u.logger.Printf("skipping %s: %v", day.Format("2006-01-02"), err)
		}
	}

	if len(agg) == 0 {
		u.symbols = nil
		u.metrics = make(map[string]Metrics)
		return fmt.Errorf("universe: no aggregate data accumulated")
	}

	type scored struct {
		symbol string
		m      Metrics
	}
	candidates := make([]scored, 0, len(agg))
	for sym, a := range agg {
		if !a.haveClose || a.lastClose <= 0 {
			continue
		}
		if a.lastClose < u.cfg.MinPrice || a.lastClose > u.cfg.MaxPrice {
			continue
		}
		if a.dollarVolume < u.cfg.MinDollarVolume {
			continue
		}
		candidates = append(candidates, scored{
			symbol: sym,
			m: Metrics{
				AvgDollarVolume:   a.dollarVolume / float64(u.cfg.LookbackDays),
				TotalDollarVolume: a.dollarVolume,
				TotalVolume:       a.volume,
				LastClose:         a.lastClose,
			},
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].m.TotalDollarVolume > candidates[j].m.TotalDollarVolume
	})
	if len(candidates) > u.cfg.MaxSymbols {
		candidates = candidates[:u.cfg.MaxSymbols]
	}

	symbols := make([]string, 0, len(candidates))
	metrics := make(map[string]Metrics, len(candidates))
	for _, c := range candidates {
		symbols = append(symbols, c.symbol)
		metrics[c.symbol] = c.m
	}
	u.symbols = symbols
	u.metrics = metrics

	u.logger.Printf("universe refreshed: %d symbols (from %d candidates)", len(symbols), len(agg))
	return nil
}

func (u *Universe) accumulateDay(ctx context.Context, day time.Time, agg map[string]*accumulator) error {
	params := url.Values{}
	params.Set("adjusted", "true")
	params.Set("apiKey", u.apiKey)
	endpoint := fmt.Sprintf("%s/%s?%s", u.baseURL, day.Format("2006-01-02"), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("grouped daily request returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed groupedDailyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decoding grouped daily response: %w", err)
	}

	for _, r := range parsed.Results {
		sym := models.NormalizeSymbol(r.Ticker)
		if sym == "" || r.Close <= 0 {
			continue
		}
		a := agg[sym]
		if a == nil {
			a = &accumulator{}
			agg[sym] = a
		}
		a.dollarVolume += r.Close * r.Volume
		a.volume += r.Volume
		if !a.haveClose {
			// Days are visited newest first; keep the most recent close.
			a.lastClose = r.Close
			a.haveClose = true
		}
	}
	return nil
}
