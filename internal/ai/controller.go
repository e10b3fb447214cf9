// Package ai drives the optional GPT-based parameter tuner and symbol
// selector. Both observe the ledger read views and apply changes only
// through the typed patch contracts, never by reaching into components.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/jfenwick/microtrader/internal/ledger"
	"github.com/jfenwick/microtrader/internal/risk"
	"github.com/jfenwick/microtrader/internal/strategy"
)

// ControllerConfig configures the tuning controller.
type ControllerConfig struct {
	Enabled         bool    `yaml:"enabled"`
	Model           string  `yaml:"model"`
	IntervalLoops   int     `yaml:"interval_loops"`
	Temperature     float64 `yaml:"temperature"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
}

// Controller periodically snapshots PnL, positions, and tunable parameters,
// asks a chat model for JSON suggestions, and applies the numeric ones.
// Changes pass through ApplyPatch on each target, so the clamping and the
// short-selling lockout live with the components, not here.
type Controller struct {
	cfg    ControllerConfig
	client *openai.Client
	logger *log.Logger

	loopCounter int
}

// NewController builds a controller. A nil return with nil error means the
// controller is disabled (by config or missing API key) and calls to
// MaybeRun are no-ops.
func NewController(cfg ControllerConfig, apiKey string, logger *log.Logger) (*Controller, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "ai: ", log.LstdFlags)
	}
	if !cfg.Enabled {
		return nil, nil
	}
	if apiKey == "" {
		logger.Printf("tuning controller disabled: no API key configured")
		return nil, nil
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("ai: model is required when the controller is enabled")
	}
	if cfg.IntervalLoops < 1 {
		cfg.IntervalLoops = 12
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 512
	}

	clientVal := openai.NewClient(option.WithAPIKey(apiKey))
	logger.Printf("tuning controller initialized: model=%s interval_loops=%d", cfg.Model, cfg.IntervalLoops)
	return &Controller{cfg: cfg, client: &clientVal, logger: logger}, nil
}

// state is the JSON snapshot sent to the model.
type state struct {
	RealizedPnLTotal float64                       `json:"realized_pnl_total"`
	Positions        map[string]ledger.Position    `json:"positions"`
	Risk             map[string]float64            `json:"risk"`
	Strategies       []strategyState               `json:"strategies"`
	StrategyStats    map[string]map[string]float64 `json:"strategy_stats"`
}

type strategyState struct {
	Name   string             `json:"name"`
	Params map[string]float64 `json:"params"`
}

// suggestion is the JSON shape the model is asked to return.
type suggestion struct {
	StrategyUpdates []struct {
		Name   string             `json:"name"`
		Params map[string]float64 `json:"params"`
	} `json:"strategy_updates"`
	RiskUpdates     map[string]float64 `json:"risk_updates"`
	CodeChangeIdeas string             `json:"code_change_ideas"`
}

// MaybeRun is called once per engine loop; every interval_loops calls it
// performs one tune cycle. Model errors are logged and swallowed — a failed
// tune must never take down the trading loop.
func (c *Controller) MaybeRun(
	ctx context.Context,
	riskConfig *risk.Config,
	strategies []strategy.Strategy,
	tracker *ledger.Tracker,
) {
	if c == nil {
		return
	}
	c.loopCounter++
	if c.loopCounter%c.cfg.IntervalLoops != 0 {
		return
	}

	stateJSON, err := c.buildState(riskConfig, strategies, tracker)
	if err != nil {
		c.logger.Printf("tune cycle skipped: %v", err)
		return
	}

	sugg, err := c.callModel(ctx, stateJSON)
	if err != nil {
		c.logger.Printf("tune cycle failed: %v", err)
		return
	}

	c.apply(sugg, riskConfig, strategies)
}

func (c *Controller) buildState(
	riskConfig *risk.Config,
	strategies []strategy.Strategy,
	tracker *ledger.Tracker,
) (string, error) {
	s := state{
		RealizedPnLTotal: tracker.TotalRealizedPnL(),
		Positions:        tracker.Summary(),
		Risk:             riskConfig.Tunables(),
		StrategyStats:    make(map[string]map[string]float64),
	}
	for _, strat := range strategies {
		s.Strategies = append(s.Strategies, strategyState{
			Name:   strat.Name(),
			Params: strat.Tunables(),
		})
	}
	for stratName, symMap := range tracker.PerStrategySymbolSummary() {
		for sym, stats := range symMap {
			key := stratName + "/" + sym
			s.StrategyStats[key] = map[string]float64{
				"trade_count":       float64(stats.TradeCount),
				"realized_pnl":      stats.RealizedPnL,
				"avg_pnl_per_trade": stats.AvgPnLPerTrade(),
			}
		}
	}

	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshaling tuner state: %w", err)
	}
	return string(data), nil
}

const tunerSystemPrompt = "You are a cautious trading-parameter assistant."

const tunerUserPrompt = `You are a parameter tuner for a small automated trading system running in paper mode.
You will receive the current state (PnL, positions, risk config, strategy parameters) as JSON.

Goals:
1) Improve expected risk-adjusted returns while keeping risk reasonable.
2) Only propose small, incremental changes to numeric parameters.
3) NEVER enable short selling.
4) If you have ideas beyond parameter tweaks, describe them in text.

Return a single JSON object with keys:
- strategy_updates: list of {name, params} with numeric values.
- risk_updates: object with optional numeric fields.
- code_change_ideas: short markdown text with any deeper ideas.`

func (c *Controller) callModel(ctx context.Context, stateJSON string) (*suggestion, error) {
	jsonObject := shared.NewResponseFormatJSONObjectParam()
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(tunerSystemPrompt),
			openai.UserMessage(tunerUserPrompt),
			openai.UserMessage("Current state JSON:\n" + stateJSON),
		},
		Temperature:         openai.Float(c.cfg.Temperature),
		MaxCompletionTokens: openai.Int(int64(c.cfg.MaxOutputTokens)),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &jsonObject,
		},
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("empty content in model response")
	}

	var sugg suggestion
	if err := json.Unmarshal([]byte(completion.Choices[0].Message.Content), &sugg); err != nil {
		return nil, fmt.Errorf("model returned non-JSON content: %w", err)
	}
	return &sugg, nil
}

func (c *Controller) apply(sugg *suggestion, riskConfig *risk.Config, strategies []strategy.Strategy) {
	if sugg.CodeChangeIdeas != "" {
		c.logger.Printf("model suggested code/logic ideas:\n%s", sugg.CodeChangeIdeas)
	}

	byName := make(map[string]strategy.Strategy, len(strategies))
	for _, strat := range strategies {
		byName[strat.Name()] = strat
	}

	for _, upd := range sugg.StrategyUpdates {
		strat, ok := byName[upd.Name]
		if !ok {
			c.logger.Printf("no strategy named %q; skipping update", upd.Name)
			continue
		}
		before := strat.Tunables()
		strat.ApplyPatch(upd.Params)
		for key, after := range strat.Tunables() {
			if old, ok := before[key]; ok && old != after {
				c.logger.Printf("tuned strategy %s: %s %.4f -> %.4f", upd.Name, key, old, after)
			}
		}
	}

	if len(sugg.RiskUpdates) > 0 {
		before := riskConfig.Tunables()
		riskConfig.ApplyPatch(sugg.RiskUpdates)
		for key, after := range riskConfig.Tunables() {
			if old, ok := before[key]; ok && old != after {
				c.logger.Printf("tuned risk: %s %.4f -> %.4f", key, old, after)
			}
		}
	}
}
