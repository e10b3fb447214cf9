// Package config provides configuration management for the trading engine.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/jfenwick/microtrader/internal/ai"
	"github.com/jfenwick/microtrader/internal/backtest"
	"github.com/jfenwick/microtrader/internal/dashboard"
	"github.com/jfenwick/microtrader/internal/risk"
	"github.com/jfenwick/microtrader/internal/strategy"
	"github.com/jfenwick/microtrader/internal/universe"
)

const (
	// defaultPollInterval is used when quotes.poll_interval is unset.
	defaultPollInterval = 5 * time.Second
	// defaultUniverseRefreshInterval is used when universe.refresh_interval is unset.
	defaultUniverseRefreshInterval = 6 * time.Hour
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Quotes      QuotesConfig      `yaml:"quotes"`
	Risk        risk.Config       `yaml:"risk"`
	Strategies  []strategy.Spec   `yaml:"strategies"`
	AI          AIConfig          `yaml:"ai"`
	Universe    UniverseConfig    `yaml:"universe"`
	Dashboard   dashboard.Config  `yaml:"dashboard"`
	Journal     JournalConfig     `yaml:"journal"`
	Backtest    backtest.Config   `yaml:"backtest"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines broker API settings.
type BrokerConfig struct {
	Provider    string `yaml:"provider"`
	APIKey      string `yaml:"api_key"`
	APIEndpoint string `yaml:"api_endpoint"`
	AccountID   string `yaml:"account_id"`
	Currency    string `yaml:"currency"`
	// UseCircuitBreaker wraps the broker client so a flapping API stops
	// being hammered mid-outage.
	UseCircuitBreaker bool `yaml:"use_circuit_breaker"`
}

// QuotesConfig defines the market data source and its polling budget.
type QuotesConfig struct {
	Provider          string   `yaml:"provider"` // broker | finnhub
	APIKey            string   `yaml:"api_key"`
	Symbols           []string `yaml:"symbols"`
	PollInterval      string   `yaml:"poll_interval"`
	MaxWorkers        int      `yaml:"max_workers"`
	MaxCallsPerMinute int      `yaml:"max_calls_per_minute"`
}

// AIConfig groups the optional GPT tuner and symbol selector.
type AIConfig struct {
	APIKey   string              `yaml:"api_key"`
	Tuner    ai.ControllerConfig `yaml:"tuner"`
	Selector ai.SelectorConfig   `yaml:"selector"`
}

// UniverseConfig defines dynamic symbol-universe settings.
type UniverseConfig struct {
	Enabled         bool            `yaml:"enabled"`
	APIKey          string          `yaml:"api_key"`
	RefreshInterval string          `yaml:"refresh_interval"`
	Filter          universe.Config `yaml:"filter"`
}

// JournalConfig defines fill/equity persistence settings.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	c.normalize()

	// Environment validation
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	// Broker validation. Paper mode can run quote-only off Finnhub, so the
	// broker section is mandatory only when something depends on it.
	brokerRequired := c.Environment.Mode == "live" || c.Quotes.Provider == "broker"
	if brokerRequired {
		if c.Broker.APIKey == "" {
			return fmt.Errorf("broker.api_key is required")
		}
		if c.Broker.AccountID == "" {
			return fmt.Errorf("broker.account_id is required")
		}
	}

	// Quotes validation
	switch c.Quotes.Provider {
	case "broker":
	case "finnhub":
		if c.Quotes.APIKey == "" {
			return fmt.Errorf("quotes.api_key is required for the finnhub provider")
		}
	default:
		return fmt.Errorf("quotes.provider must be 'broker' or 'finnhub'")
	}
	if len(c.Quotes.Symbols) == 0 && !c.Universe.Enabled {
		return fmt.Errorf("quotes.symbols is required when universe is disabled")
	}
	if _, err := time.ParseDuration(c.Quotes.PollInterval); err != nil {
		return fmt.Errorf("quotes.poll_interval invalid: %w", err)
	}

	// Risk validation
	if c.Risk.MaxNotionalPerOrder <= 0 {
		return fmt.Errorf("risk.max_notional_per_order must be > 0")
	}
	if c.Risk.MaxCashUtilization <= 0 || c.Risk.MaxCashUtilization > 1.0 {
		return fmt.Errorf("risk.max_cash_utilization must be in (0, 1.0]")
	}

	// Strategy validation: construction catches bad types and parameters.
	if len(c.Strategies) == 0 {
		return fmt.Errorf("at least one strategy is required")
	}
	seen := make(map[string]bool, len(c.Strategies))
	for i, spec := range c.Strategies {
		if seen[spec.Name] {
			return fmt.Errorf("strategies[%d]: duplicate name %q", i, spec.Name)
		}
		seen[spec.Name] = true
		if _, err := strategy.Build(spec); err != nil {
			return fmt.Errorf("strategies[%d]: %w", i, err)
		}
	}

	// Universe validation
	if c.Universe.Enabled {
		if c.Universe.APIKey == "" {
			return fmt.Errorf("universe.api_key is required when universe is enabled")
		}
		if _, err := time.ParseDuration(c.Universe.RefreshInterval); err != nil {
			return fmt.Errorf("universe.refresh_interval invalid: %w", err)
		}
	}

	// AI validation
	if c.AI.Tuner.Enabled && c.AI.APIKey == "" {
		return fmt.Errorf("ai.api_key is required when ai.tuner is enabled")
	}

	// Dashboard validation
	if c.Dashboard.Enabled && (c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port must be in (0, 65535]")
	}

	// Journal validation
	if c.Journal.Enabled && c.Journal.Path == "" {
		return fmt.Errorf("journal.path is required when journal is enabled")
	}

	return nil
}

// normalize fills defaults for optional sections before validation.
func (c *Config) normalize() {
	if c.Quotes.Provider == "" {
		c.Quotes.Provider = "broker"
	}
	if c.Quotes.PollInterval == "" {
		c.Quotes.PollInterval = defaultPollInterval.String()
	}
	if c.Risk.MaxNotionalPerOrder == 0 && c.Risk.MaxCashUtilization == 0 {
		allowShort := c.Risk.AllowShortSelling
		c.Risk = risk.DefaultConfig
		c.Risk.AllowShortSelling = allowShort
	}
	if c.Universe.Enabled && c.Universe.RefreshInterval == "" {
		c.Universe.RefreshInterval = defaultUniverseRefreshInterval.String()
	}
	if c.Backtest.Symbol == "" {
		bt := backtest.DefaultConfig
		bt.Risk = c.Risk
		c.Backtest = bt
	}
}

// IsPaperTrading returns true if the engine is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// GetPollInterval returns the configured quote polling interval.
func (c *Config) GetPollInterval() time.Duration {
	d, err := time.ParseDuration(c.Quotes.PollInterval)
	if err != nil {
		return defaultPollInterval
	}
	return d
}

// GetUniverseRefreshInterval returns the configured universe refresh cadence.
func (c *Config) GetUniverseRefreshInterval() time.Duration {
	d, err := time.ParseDuration(c.Universe.RefreshInterval)
	if err != nil {
		return defaultUniverseRefreshInterval
	}
	return d
}

// BuildStrategies constructs all configured strategy instances.
func (c *Config) BuildStrategies() ([]strategy.Strategy, error) {
	out := make([]strategy.Strategy, 0, len(c.Strategies))
	for i, spec := range c.Strategies {
		strat, err := strategy.Build(spec)
		if err != nil {
			return nil, fmt.Errorf("strategies[%d]: %w", i, err)
		}
		out = append(out, strat)
	}
	return out, nil
}
