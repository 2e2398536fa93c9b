// Package server assembles the HTTP API: routes, middleware chain, and the
// WebSocket event stream.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/betmatch/betmatch/internal/domain"
	"github.com/betmatch/betmatch/internal/server/handler"
	"github.com/betmatch/betmatch/internal/server/middleware"
	"github.com/betmatch/betmatch/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string

	// Rate limiting applies per wallet (or client IP for anonymous calls)
	// when a limiter is provided.
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Markets *handler.MarketHandler
	Users   *handler.UserHandler
	Admin   *handler.AdminHandler
}

// Server is the HTTP + WebSocket API server for the betting platform.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux and
// the middleware chain wired: CORS outermost, then request logging, identity
// resolution, and rate limiting closest to the handlers.
func NewServer(
	cfg Config,
	handlers Handlers,
	resolver middleware.UserResolver,
	limiter domain.RateLimiter,
	wsHub *ws.Hub,
	logger *slog.Logger,
) *Server {
	mux := http.NewServeMux()

	// Health check (no identity required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Identity.
	mux.HandleFunc("GET /api/auth/user", handlers.Users.CurrentUser)

	// Market lifecycle.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/transactions", handlers.Markets.MarketTransactions)
	mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	mux.HandleFunc("POST /api/markets/{id}/join", handlers.Markets.JoinMarket)
	mux.HandleFunc("POST /api/markets/{id}/cancel", handlers.Markets.CancelMarket)

	// Admin settlement and oversight.
	mux.HandleFunc("POST /api/admin/markets/{id}/settle", handlers.Admin.SettleMarket)
	mux.HandleFunc("GET /api/admin/markets", handlers.Admin.ListMarkets)

	// Per-user history.
	mux.HandleFunc("GET /api/user/markets", handlers.Users.UserMarkets)
	mux.HandleFunc("GET /api/user/transactions", handlers.Users.UserTransactions)

	// WebSocket event stream.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain inside-out.
	var h http.Handler = mux

	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Minute
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}

	h = middleware.Identity(resolver)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
