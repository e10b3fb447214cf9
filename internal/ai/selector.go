package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"sort"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/jfenwick/microtrader/internal/ledger"
	"github.com/jfenwick/microtrader/internal/models"
	"github.com/jfenwick/microtrader/internal/universe"
)

// SelectorConfig configures symbol selection over the universe.
type SelectorConfig struct {
	Mode       string `yaml:"mode"` // "heuristic" or "gpt"
	Model      string `yaml:"model"`
	MaxSymbols int    `yaml:"max_symbols"`
}

// Selector narrows the tradable universe to the handful of symbols the
// strategies actually run against. Heuristic mode ranks by realized
// per-trade edge plus liquidity; gpt mode asks a model to pick and falls
// back to the heuristic on any error.
type Selector struct {
	cfg    SelectorConfig
	client *openai.Client
	logger *log.Logger
}

// NewSelector builds a selector. gpt mode without an API key degrades to
// heuristic mode with a log line rather than failing.
func NewSelector(cfg SelectorConfig, apiKey string, logger *log.Logger) (*Selector, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "selector: ", log.LstdFlags)
	}
	if cfg.MaxSymbols <= 0 {
		cfg.MaxSymbols = 5
	}
	switch cfg.Mode {
	case "", "heuristic":
		cfg.Mode = "heuristic"
	case "gpt":
		if apiKey == "" {
			logger.Printf("selector gpt mode requested without API key; using heuristic")
			cfg.Mode = "heuristic"
		} else if cfg.Model == "" {
			return nil, fmt.Errorf("ai: selector model is required in gpt mode")
		}
	default:
		return nil, fmt.Errorf("ai: unknown selector mode %q", cfg.Mode)
	}

	s := &Selector{cfg: cfg, logger: logger}
	if cfg.Mode == "gpt" {
		clientVal := openai.NewClient(option.WithAPIKey(apiKey))
		s.client = &clientVal
	}
	return s, nil
}

type candidate struct {
	Symbol          string  `json:"symbol"`
	AvgDollarVolume float64 `json:"avg_dollar_volume"`
	LastClose       float64 `json:"last_close"`
	TradeCount      int     `json:"trade_count"`
	RealizedPnL     float64 `json:"realized_pnl"`
	AvgPnLPerTrade  float64 `json:"avg_pnl_per_trade"`
}

// Select returns at most MaxSymbols symbols from the universe. An empty
// universe yields an empty slice.
func (s *Selector) Select(ctx context.Context, u *universe.Universe, tracker *ledger.Tracker) []string {
	candidates := s.buildCandidates(u, tracker)
	if len(candidates) == 0 {
		return nil
	}

	if s.cfg.Mode == "gpt" {
		picked, err := s.selectGPT(ctx, candidates)
		if err != nil {
			s.logger.Printf("gpt selection failed, falling back to heuristic: %v", err)
		} else if len(picked) > 0 {
			return picked
		}
	}
	return s.selectHeuristic(candidates)
}

func (s *Selector) buildCandidates(u *universe.Universe, tracker *ledger.Tracker) []candidate {
	// Realized stats are tracked per (strategy, symbol); collapse to symbol.
	pnlBySymbol := make(map[string]*candidate)
	for _, symMap := range tracker.PerStrategySymbolSummary() {
		for sym, stats := range symMap {
			c := pnlBySymbol[sym]
			if c == nil {
				c = &candidate{Symbol: sym}
				pnlBySymbol[sym] = c
			}
			c.TradeCount += stats.TradeCount
			c.RealizedPnL += stats.RealizedPnL
		}
	}

	var out []candidate
	for _, sym := range u.Symbols() {
		m, ok := u.MetricsFor(sym)
		if !ok {
			continue
		}
		c := candidate{Symbol: sym, AvgDollarVolume: m.AvgDollarVolume, LastClose: m.LastClose}
		if stats := pnlBySymbol[models.NormalizeSymbol(sym)]; stats != nil {
			c.TradeCount = stats.TradeCount
			c.RealizedPnL = stats.RealizedPnL
			if stats.TradeCount > 0 {
				c.AvgPnLPerTrade = stats.RealizedPnL / float64(stats.TradeCount)
			}
		}
		out = append(out, c)
	}
	return out
}

// selectHeuristic scores realized edge first and liquidity second. Symbols
// with no trade history score on liquidity alone, so fresh universe entries
// still get a slot while losers with history rank below them.
func (s *Selector) selectHeuristic(candidates []candidate) []string {
	scored := make([]struct {
		symbol string
		score  float64
	}, 0, len(candidates))
	for _, c := range candidates {
		liquidity := math.Log10(math.Max(c.AvgDollarVolume, 1))
		score := liquidity
		if c.TradeCount > 0 {
			weight := math.Min(float64(c.TradeCount), 20) / 20
			score += c.AvgPnLPerTrade * weight * 10
		}
		scored = append(scored, struct {
			symbol string
			score  float64
		}{c.Symbol, score})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	n := min(len(scored), s.cfg.MaxSymbols)
	out := make([]string, 0, n)
	for _, sc := range scored[:n] {
		out = append(out, sc.symbol)
	}
	return out
}

const selectorUserPrompt = `You are selecting symbols for a small intraday paper-trading system.
You will receive candidate symbols with liquidity metrics and realized
per-symbol trading stats as JSON. Pick the symbols most likely to suit
tight-spread mean-reversion and short-horizon trend strategies.

Return a single JSON object: {"symbols": ["SYM1", "SYM2", ...]}`

func (s *Selector) selectGPT(ctx context.Context, candidates []candidate) ([]string, error) {
	payload, err := json.Marshal(map[string]any{
		"max_symbols": s.cfg.MaxSymbols,
		"candidates":  candidates,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling candidates: %w", err)
	}

	jsonObject := shared.NewResponseFormatJSONObjectParam()
	completion, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(s.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("You are a precise quantitative assistant."),
			openai.UserMessage(selectorUserPrompt),
			openai.UserMessage("Candidates JSON:\n" + string(payload)),
		},
		Temperature:         openai.Float(0.1),
		MaxCompletionTokens: openai.Int(256),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &jsonObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("empty model response")
	}

	var parsed struct {
		Symbols []string `json:"symbols"`
	}
	if err := json.Unmarshal([]byte(completion.Choices[0].Message.Content), &parsed); err != nil {
		return nil, fmt.Errorf("model returned non-JSON content: %w", err)
	}

	// Only accept symbols that were actually offered.
	offered := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		offered[models.NormalizeSymbol(c.Symbol)] = true
	}
	var out []string
	for _, sym := range parsed.Symbols {
		norm := models.NormalizeSymbol(sym)
		if offered[norm] && len(out) < s.cfg.MaxSymbols {
			out = append(out, norm)
		}
	}
	return out, nil
}
