package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jfenwick/microtrader/internal/models"
)

const finnhubBaseURL = "https://finnhub.io/api/v1"

// FinnhubConfig controls the Finnhub quote provider's rate budgeting.
type FinnhubConfig struct {
	APIKey            string
	MaxWorkers        int
	Timeout           time.Duration
	PollInterval      time.Duration
	MaxCallsPerMinute int
	RateLimitCooldown time.Duration
}

// FinnhubProvider polls Finnhub's /quote endpoint. It enforces a per-minute
// call budget derived from the engine's poll interval and backs off globally
// after a 429 so the account doesn't get banned mid-session.
type FinnhubProvider struct {
	cfg     FinnhubConfig
	client  *http.Client
	logger  *log.Logger
	baseURL string

	maxSymbolsPerLoop int

	mu               sync.Mutex
	rateLimitedUntil time.Time
	lastRateLimitLog time.Time
}

// NewFinnhubProvider validates the config and derives the per-loop symbol
// budget. A missing API key is a construction-time failure.
func NewFinnhubProvider(cfg FinnhubConfig, logger *log.Logger) (*FinnhubProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("finnhub: API key is required")
	}
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 1500 * time.Millisecond
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxCallsPerMinute <= 0 {
		cfg.MaxCallsPerMinute = 60
	}
	if cfg.RateLimitCooldown < time.Second {
		cfg.RateLimitCooldown = time.Minute
	}
	if logger == nil {
		logger = log.New(os.Stderr, "finnhub: ", log.LstdFlags)
	}

	loopsPerMinute := int(time.Minute / cfg.PollInterval)
	if loopsPerMinute < 1 {
		loopsPerMinute = 1
	}
	perLoop := cfg.MaxCallsPerMinute / loopsPerMinute
	if perLoop < 1 {
		perLoop = 1
	}
	if cfg.MaxWorkers > perLoop {
		cfg.MaxWorkers = perLoop
	}

	p := &FinnhubProvider{
		cfg:               cfg,
		client:            &http.Client{Timeout: cfg.Timeout},
		logger:            logger,
		baseURL:           finnhubBaseURL,
		maxSymbolsPerLoop: perLoop,
	}
	logger.Printf("finnhub provider: max_calls_per_minute=%d loops_per_minute=%d max_symbols_per_loop=%d max_workers=%d",
		cfg.MaxCallsPerMinute, loopsPerMinute, perLoop, cfg.MaxWorkers)
	return p, nil
}

type finnhubQuote struct {
	Current   float64 `json:"c"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Open      float64 `json:"o"`
	PrevClose float64 `json:"pc"`
}

// GetQuotes fetches up to the per-loop budget of symbols. During a rate-limit
// cooldown it returns an empty map, which the engine treats as "skip cycle".
func (p *FinnhubProvider) GetQuotes(ctx context.Context, symbols []string) map[string]models.Quote {
	out := make(map[string]models.Quote)

	p.mu.Lock()
	limited := time.Now().Before(p.rateLimitedUntil)
	p.mu.Unlock()
	if limited || len(symbols) == 0 {
		return out
	}

	if len(symbols) > p.maxSymbolsPerLoop {
		symbols = symbols[:p.maxSymbolsPerLoop]
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxWorkers)

	for _, sym := range symbols {
		symbol := models.NormalizeSymbol(sym)
		g.Go(func() error {
			q, ok := p.fetchOne(ctx, symbol)
			if !ok {
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

func (p *FinnhubProvider) fetchOne(ctx context.Context, symbol string) (models.Quote, bool) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("token", p.cfg.APIKey)
	endpoint := p.baseURL + "/quote?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return models.Quote{}, false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Printf("failed to fetch quote for %s: %v", symbol, err)
		return models.Quote{}, false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		p.handleRateLimit()
		return models.Quote{}, false
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		p.logger.Printf("quote request for %s returned %d: %s", symbol, resp.StatusCode, string(body))
		return models.Quote{}, false
	}

	var fq finnhubQuote
	if err := json.NewDecoder(resp.Body).Decode(&fq); err != nil {
		p.logger.Printf("failed to decode quote for %s: %v", symbol, err)
		return models.Quote{}, false
	}
	if fq.Current == 0 {
		// Finnhub reports 0 for unknown symbols; not a usable price.
		return models.Quote{}, false
	}

	last := fq.Current
	// Finnhub only exposes a last price; bid/ask mirror it so spread-based
	// consumers still function.
	return models.Quote{
		Symbol:    symbol,
		Bid:       &last,
		Ask:       &last,
		Last:      &last,
		Timestamp: time.Now().UTC(),
	}, true
}

func (p *FinnhubProvider) handleRateLimit() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	p.rateLimitedUntil = now.Add(p.cfg.RateLimitCooldown)
	// Log at most once every 10 seconds to avoid spam.
	if now.Sub(p.lastRateLimitLog) > 10*time.Second {
		p.lastRateLimitLog = now
		p.logger.Printf("received 429 Too Many Requests; pausing quote fetch for %s", p.cfg.RateLimitCooldown)
	}
}
