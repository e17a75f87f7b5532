// Package server exposes the bot's state and operator controls over HTTP
// and relays live events over WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/fusionbot/internal/domain"
	"github.com/alanyoungcy/fusionbot/internal/server/handler"
	"github.com/alanyoungcy/fusionbot/internal/server/middleware"
	"github.com/alanyoungcy/fusionbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// RateLimit is the per-client request budget per minute. Zero disables
	// it, as does a nil Limiter.
	RateLimit int
	Limiter   domain.RateLimiter
}

// Handlers aggregates the HTTP handlers the server registers. Nil entries
// leave their routes unregistered.
type Handlers struct {
	Health     *handler.HealthHandler
	Matrices   *handler.MatrixHandler
	Arb        *handler.ArbHandler
	Executions *handler.ExecutionHandler
	Status     *handler.StatusHandler
	Wallet     *handler.WalletHandler
	Metrics    http.Handler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with every route registered and the middleware
// chain applied.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewHandler(cfg, handlers, wsHub, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	if h := handlers.Health; h != nil {
		mux.HandleFunc("GET /api/health", h.HealthCheck)
	}
	if h := handlers.Matrices; h != nil {
		mux.HandleFunc("GET /api/matrices", h.ListMatrices)
		mux.HandleFunc("GET /api/matrices/{id}", h.GetMatrix)
	}
	if h := handlers.Arb; h != nil {
		mux.HandleFunc("GET /api/scanning", h.Scanning)
		mux.HandleFunc("GET /api/marginal_optimizer", h.GetMarginalOptimizer)
		mux.HandleFunc("POST /api/marginal_optimizer", h.SetMarginalOptimizer)
		mux.HandleFunc("GET /api/liquidity", h.GetLiquidity)
		mux.HandleFunc("POST /api/liquidity", h.SetLiquidity)
	}
	if h := handlers.Executions; h != nil {
		mux.HandleFunc("GET /api/completed_transactions", h.CompletedTransactions)
		mux.HandleFunc("GET /api/executions/profit", h.Profit)
		mux.HandleFunc("GET /api/executions/{id}", h.GetExecution)
	}
	if h := handlers.Status; h != nil {
		mux.HandleFunc("GET /api/tunables", h.GetTunables)
		mux.HandleFunc("GET /api/providers", h.GetProviders)
	}
	if h := handlers.Wallet; h != nil {
		mux.HandleFunc("GET /api/wallet/status", h.GetStatus)
		mux.HandleFunc("POST /api/wallet/transfer", h.Transfer)
	}
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	if cfg.Limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(cfg.Limiter, cfg.RateLimit, time.Minute)(h)
	}
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
