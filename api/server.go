// Package api assembles the exchange's HTTP surface: public market data,
// authenticated trading, token-gated admin operations, the websocket feed
// and the Prometheus scrape endpoint.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cosmossdk.io/log"

	"github.com/openalpha/stockex/api/handlers"
	"github.com/openalpha/stockex/api/middleware"
	"github.com/openalpha/stockex/api/websocket"
	"github.com/openalpha/stockex/exchange"
	"github.com/openalpha/stockex/exchange/auth"
	"github.com/openalpha/stockex/metrics"
)

// Config contains server configuration.
type Config struct {
	Host             string
	Port             int
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	AdminToken       string
	DisableRateLimit bool // for tests
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Server is the exchange HTTP server.
type Server struct {
	config     *Config
	logger     log.Logger
	httpServer *http.Server
	hub        *websocket.Hub

	svc         *auth.Authenticator
	rateLimiter *middleware.RateLimiter

	marketHandler  *handlers.MarketHandler
	tradingHandler *handlers.TradingHandler
	adminHandler   *handlers.AdminHandler
}

// NewServer wires the service into the HTTP surface. The hub must be the
// one backing the service's trade sink.
func NewServer(config *Config, svc *exchange.Service, authn *auth.Authenticator, hub *websocket.Hub, logger log.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	return &Server{
		config:         config,
		logger:         logger.With("module", "api"),
		hub:            hub,
		svc:            authn,
		rateLimiter:    middleware.NewRateLimiter(middleware.DefaultRateLimitConfig()),
		marketHandler:  handlers.NewMarketHandler(svc),
		tradingHandler: handlers.NewTradingHandler(svc),
		adminHandler:   handlers.NewAdminHandler(svc, authn),
	}
}

// routes builds the full middleware-wrapped routing table.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	authn := middleware.Auth(s.svc)
	adminAuth := middleware.AdminAuth(s.svc)
	accountLimit := middleware.AccountRateLimit(s.rateLimiter)

	// authed composes auth then the per-account budget.
	authed := func(route string, h http.HandlerFunc) http.Handler {
		return middleware.Instrument(route, authn(accountLimit(h)))
	}
	public := func(route string, h http.HandlerFunc) http.Handler {
		return middleware.Instrument(route, h)
	}
	admin := func(route string, h http.HandlerFunc) http.Handler {
		return middleware.Instrument(route, adminAuth(h))
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	// Public market data.
	mux.Handle("/companies", public("/companies", s.marketHandler.HandleCompanies))
	mux.Handle("/companies/", public("/companies/{ticker}", s.marketHandler.HandleCompany))
	mux.Handle("/orderbook/", public("/orderbook/{ticker}", s.marketHandler.HandleOrderBook))
	mux.Handle("/trades/", public("/trades/{ticker}", s.marketHandler.HandleTrades))
	mux.Handle("/market-data", public("/market-data", s.marketHandler.HandleMarketData))
	mux.Handle("/market-data/", public("/market-data/{ticker}", s.marketHandler.HandleMarketData))

	// Authenticated trading.
	mux.Handle("/orders", authed("/orders", s.tradingHandler.HandleOrders))
	mux.Handle("/orders/", authed("/orders/{id}", s.tradingHandler.HandleOrder))
	mux.Handle("/account", authed("/account", s.tradingHandler.HandleAccount))
	mux.Handle("/holdings", authed("/holdings", s.tradingHandler.HandleHoldings))

	// Admin.
	mux.Handle("/admin/companies", admin("/admin/companies", s.adminHandler.HandleCompanies))
	mux.Handle("/admin/accounts", admin("/admin/accounts", s.adminHandler.HandleAccounts))
	mux.Handle("/admin/accounts/", admin("/admin/accounts/{id}", s.adminHandler.HandleAccountDetail))
	mux.Handle("/admin/stats", admin("/admin/stats", s.adminHandler.HandleStats))
	mux.Handle("/admin/orderbook/", admin("/admin/orderbook/{ticker}", s.adminHandler.HandleBook))

	// Feed.
	mux.HandleFunc("/ws", s.hub.ServeWS)

	var handler http.Handler = mux
	if !s.config.DisableRateLimit {
		handler = middleware.RateLimit(s.rateLimiter)(handler)
	}
	return corsMiddleware(handler)
}

// Handler returns the routing table without binding a listener.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

// Start serves until the listener fails or the server is stopped.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.routes(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	go s.hub.Run()

	s.logger.Info("API server starting", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Stop drains in-flight requests and shuts down.
func (s *Server) Stop(ctx context.Context) error {
	s.rateLimiter.Stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	handlers.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, X-Admin-Token")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
