// Package dashboard serves a small read-only JSON API over the live ledger
// so positions and realized PnL can be checked without grepping logs.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/jfenwick/microtrader/internal/broker"
	"github.com/jfenwick/microtrader/internal/ledger"
	"github.com/jfenwick/microtrader/internal/models"
)

type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

type Server struct {
	router    *chi.Mux
	server    *http.Server
	tracker   *ledger.Tracker
	broker    broker.Broker
	logger    *logrus.Logger
	port      int
	authToken string
}

// PositionView is the JSON shape served for one open position.
type PositionView struct {
	Symbol      string  `json:"symbol"`
	Quantity    float64 `json:"quantity"`
	AvgPrice    float64 `json:"avg_price"`
	RealizedPnL float64 `json:"realized_pnl"`
}

// StrategyStatView is the per (strategy, symbol) stats row.
type StrategyStatView struct {
	Strategy       string  `json:"strategy"`
	Symbol         string  `json:"symbol"`
	TradeCount     int     `json:"trade_count"`
	RealizedPnL    float64 `json:"realized_pnl"`
	AvgPnLPerTrade float64 `json:"avg_pnl_per_trade"`
}

type Statistics struct {
	TotalRealizedPnL float64            `json:"total_realized_pnl"`
	OpenPositions    int                `json:"open_positions"`
	FillCount        int                `json:"fill_count"`
	PerStrategy      []StrategyStatView `json:"per_strategy"`
}

type FillView struct {
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Strategy  string    `json:"strategy"`
	Timestamp time.Time `json:"timestamp"`
}

func NewServer(cfg Config, tracker *ledger.Tracker, brk broker.Broker, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		router:    chi.NewRouter(),
		tracker:   tracker,
		broker:    brk,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/positions", s.handleGetPositions)
	s.router.Get("/api/stats", s.handleGetStats)
	s.router.Get("/api/fills", s.handleGetFills)
	s.router.Get("/api/account", s.handleGetAccount)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting dashboard server on port %d", s.port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleGetPositions(w http.ResponseWriter, _ *http.Request) {
	summary := s.tracker.Summary()

	views := make([]PositionView, 0, len(summary))
	for sym, pos := range summary {
		views = append(views, PositionView{
			Symbol:      sym,
			Quantity:    pos.Quantity,
			AvgPrice:    pos.AvgPrice,
			RealizedPnL: pos.RealizedPnL,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Symbol < views[j].Symbol })

	s.writeJSON(w, views)
}

func (s *Server) handleGetStats(w http.ResponseWriter, _ *http.Request) {
	stats := Statistics{
		TotalRealizedPnL: s.tracker.TotalRealizedPnL(),
		FillCount:        len(s.tracker.Fills()),
		PerStrategy:      []StrategyStatView{},
	}
	for _, pos := range s.tracker.Summary() {
		if pos.Quantity != 0 {
			stats.OpenPositions++
		}
	}
	for stratName, symMap := range s.tracker.PerStrategySymbolSummary() {
		for sym, st := range symMap {
			stats.PerStrategy = append(stats.PerStrategy, StrategyStatView{
				Strategy:       stratName,
				Symbol:         sym,
				TradeCount:     st.TradeCount,
				RealizedPnL:    st.RealizedPnL,
				AvgPnLPerTrade: st.AvgPnLPerTrade(),
			})
		}
	}
	sort.Slice(stats.PerStrategy, func(i, j int) bool {
		a, b := stats.PerStrategy[i], stats.PerStrategy[j]
		if a.Strategy != b.Strategy {
			return a.Strategy < b.Strategy
		}
		return a.Symbol < b.Symbol
	})

	s.writeJSON(w, stats)
}

const maxFillsServed = 200

func (s *Server) handleGetFills(w http.ResponseWriter, _ *http.Request) {
	fills := s.tracker.Fills()
	if len(fills) > maxFillsServed {
		fills = fills[len(fills)-maxFillsServed:]
	}

	views := make([]FillView, 0, len(fills))
	for _, f := range fills {
		views = append(views, FillView{
			Symbol:    f.Symbol,
			Side:      string(f.Side),
			Quantity:  f.Quantity,
			Price:     f.Price,
			Strategy:  f.StrategyName,
			Timestamp: f.Timestamp,
		})
	}

	s.writeJSON(w, views)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, _ *http.Request) {
	if s.broker == nil {
		s.writeJSON(w, models.AccountSnapshot{})
		return
	}
	snapshot, err := s.broker.GetAccountSnapshot()
	if err != nil {
		s.logger.WithError(err).Error("Failed to fetch account snapshot")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, snapshot)
}
