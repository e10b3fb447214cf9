package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/jfenwick/microtrader/internal/ai"
	"github.com/jfenwick/microtrader/internal/broker"
	"github.com/jfenwick/microtrader/internal/config"
	"github.com/jfenwick/microtrader/internal/dashboard"
	"github.com/jfenwick/microtrader/internal/journal"
	"github.com/jfenwick/microtrader/internal/ledger"
	"github.com/jfenwick/microtrader/internal/orders"
	"github.com/jfenwick/microtrader/internal/quotes"
	"github.com/jfenwick/microtrader/internal/risk"
	"github.com/jfenwick/microtrader/internal/strategy"
	"github.com/jfenwick/microtrader/internal/universe"
)

// Bot wires the quote provider, strategies, risk gate, ledger, and the
// optional AI/universe/journal/dashboard services into one polling engine.
type Bot struct {
	config     *config.Config
	logger     *log.Logger
	broker     broker.Broker
	provider   quotes.Provider
	tracker    *ledger.Tracker
	orders     *orders.Manager
	strategies []strategy.Strategy
	tuner      *ai.Controller
	selector   *ai.Selector
	universe   *universe.Universe
	journal    *journal.SQLiteJournal
	stop       chan struct{}

	symbols          []string
	seeded           bool
	journaledFills   int
	lastUniversePull time.Time
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load .env first so ${VAR} expansion in the config file sees it.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "[BOT] ", log.LstdFlags|log.Lshortfile)

	logger.Printf("Starting microtrader in %s mode", cfg.Environment.Mode)
	if cfg.IsPaperTrading() {
		logger.Println("PAPER TRADING MODE - No real money at risk")
	} else {
		logger.Println("LIVE TRADING MODE - Real money at risk!")
		logger.Println("Waiting 10 seconds to confirm...")
		time.Sleep(10 * time.Second)
	}

	bot, err := newBot(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to initialize bot: %v", err)
	}
	defer bot.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Println("Shutdown signal received, stopping bot...")
		close(bot.stop)
		cancel()
	}()

	if err := bot.Run(ctx); err != nil {
		logger.Fatalf("Bot error: %v", err)
	}

	logger.Println("Bot stopped successfully")
}

func newBot(cfg *config.Config, logger *log.Logger) (*Bot, error) {
	bot := &Bot{
		config:  cfg,
		logger:  logger,
		tracker: ledger.NewTracker(logger),
		stop:    make(chan struct{}),
		symbols: cfg.Quotes.Symbols,
	}

	if cfg.Broker.APIKey != "" {
		client := broker.NewClient(
			cfg.Broker.APIKey,
			cfg.Broker.APIEndpoint,
			cfg.Broker.AccountID,
			cfg.Broker.Currency,
		)
		if cfg.Broker.UseCircuitBreaker {
			bot.broker = broker.NewCircuitBreakerBroker(client)
		} else {
			bot.broker = client
		}
	}

	switch cfg.Quotes.Provider {
	case "finnhub":
		provider, err := quotes.NewFinnhubProvider(quotes.FinnhubConfig{
			APIKey:            cfg.Quotes.APIKey,
			MaxWorkers:        cfg.Quotes.MaxWorkers,
			PollInterval:      cfg.GetPollInterval(),
			MaxCallsPerMinute: cfg.Quotes.MaxCallsPerMinute,
		}, logger)
		if err != nil {
			return nil, err
		}
		bot.provider = provider
	default:
		bot.provider = quotes.NewBrokerProvider(bot.broker, cfg.Quotes.MaxWorkers, logger)
	}

	riskManager := risk.NewManager(&cfg.Risk, logger)
	bot.orders = orders.NewManager(bot.broker, riskManager, bot.tracker, logger, !cfg.IsPaperTrading())

	strategies, err := cfg.BuildStrategies()
	if err != nil {
		return nil, err
	}
	bot.strategies = strategies

	tuner, err := ai.NewController(cfg.AI.Tuner, cfg.AI.APIKey, logger)
	if err != nil {
		return nil, err
	}
	bot.tuner = tuner

	selector, err := ai.NewSelector(cfg.AI.Selector, cfg.AI.APIKey, logger)
	if err != nil {
		return nil, err
	}
	bot.selector = selector

	if cfg.Universe.Enabled {
		u, err := universe.New(cfg.Universe.Filter, cfg.Universe.APIKey, logger)
		if err != nil {
			return nil, err
		}
		bot.universe = u
	}

	if cfg.Journal.Enabled {
		j, err := journal.NewSQLite(cfg.Journal.Path)
		if err != nil {
			return nil, err
		}
		bot.journal = j
		logger.Printf("Journaling to %s (run %s)", cfg.Journal.Path, j.RunID())
	}

	if cfg.Dashboard.Enabled {
		dashLogger := logrus.New()
		server := dashboard.NewServer(cfg.Dashboard, bot.tracker, bot.broker, dashLogger)
		go func() {
			if err := server.Start(); err != nil {
				logger.Printf("Dashboard server stopped: %v", err)
			}
		}()
	}

	return bot, nil
}

func (b *Bot) close() {
	if b.journal != nil {
		if err := b.journal.Close(); err != nil {
			b.logger.Printf("Failed to close journal: %v", err)
		}
	}
}

// Run drives the polling loop until the context is canceled.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Println("Bot starting main loop...")

	if b.broker != nil {
		b.logger.Println("Verifying broker connection...")
		snapshot, err := b.broker.GetAccountSnapshot()
		if err != nil {
			return err
		}
		b.logger.Printf("Connected to broker. Net worth: %.2f %s, cash available: %.2f",
			snapshot.NetWorth, snapshot.Currency, snapshot.CashAvailable)
	}

	if b.universe != nil {
		b.refreshUniverse(ctx)
	}

	ticker := time.NewTicker(b.config.GetPollInterval())
	defer ticker.Stop()

	b.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.stop:
			return nil
		case <-ticker.C:
			b.runCycle(ctx)
		}
	}
}
