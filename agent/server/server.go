// Package server exposes the agent platform over HTTP: the strategy
// catalog, document validation and agent lifecycle management.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cosmossdk.io/log"

	"github.com/openalpha/stockex/agent/runtime"
	"github.com/openalpha/stockex/metrics"
)

// Config contains server configuration.
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Host:         "0.0.0.0",
		Port:         8081,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Server is the agent platform HTTP server.
type Server struct {
	config     *Config
	logger     log.Logger
	manager    *runtime.Manager
	httpServer *http.Server
}

// NewServer wires the manager into the HTTP surface.
func NewServer(config *Config, manager *runtime.Manager, logger log.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	return &Server{
		config:  config,
		logger:  logger.With("module", "agent-api"),
		manager: manager,
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("/strategies", s.handleStrategies)
	mux.HandleFunc("/strategies/validate", s.handleValidate)
	mux.HandleFunc("/strategies/", s.handleStrategies)

	mux.HandleFunc("/agents", s.handleAgents)
	mux.HandleFunc("/agents/", s.handleAgent)

	return corsMiddleware(mux)
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
	s.logger.Info("agent API server starting", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Stop drains in-flight requests and shuts down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
