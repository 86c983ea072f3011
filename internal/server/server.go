package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/chainpulse/walletmon/internal/domain"
	"github.com/chainpulse/walletmon/internal/server/handler"
	"github.com/chainpulse/walletmon/internal/server/middleware"
	"github.com/chainpulse/walletmon/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port         int
	CORSOrigins  []string
	APIKey       string // if empty, authentication is disabled
	RateLimitRPM int    // per-client requests per minute; 0 disables limiting
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Archives is optional and its routes are skipped when nil.
type Handlers struct {
	Health   *handler.HealthHandler
	Wallets  *handler.WalletHandler
	Gas      *handler.GasHandler
	Status   *handler.StatusHandler
	Archives *handler.ArchiveHandler
}

// Server is the headless HTTP + WebSocket API for the wallet monitor.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (rate limiting, logging, CORS, auth) and attaches
// the WebSocket hub. limiter may be nil to disable API rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Wallet registry.
	mux.HandleFunc("GET /api/wallets", handlers.Wallets.ListWallets)
	mux.HandleFunc("POST /api/wallets", handlers.Wallets.AddWallet)
	mux.HandleFunc("DELETE /api/wallets/{address}", handlers.Wallets.RemoveWallet)

	// Wallet-scoped queries.
	mux.HandleFunc("GET /api/wallets/{address}/transactions", handlers.Wallets.ListTransactions)
	mux.HandleFunc("GET /api/wallets/{address}/buys", handlers.Wallets.ListBuys)
	mux.HandleFunc("GET /api/wallets/{address}/sells", handlers.Wallets.ListSells)
	mux.HandleFunc("GET /api/wallets/{address}/info", handlers.Wallets.GetInfo)
	mux.HandleFunc("GET /api/wallets/{address}/pnl", handlers.Wallets.GetPnL)
	mux.HandleFunc("GET /api/wallets/{address}/toptokens", handlers.Wallets.ListTopTokens)

	// Gas and system status.
	mux.HandleFunc("GET /api/gas", handlers.Gas.ListGas)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Cold-storage archive listing (only when blob storage is configured).
	if handlers.Archives != nil {
		mux.HandleFunc("GET /api/archives", handlers.Archives.ListArchives)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply per-client rate limiting when a limiter is available.
	if limiter != nil && cfg.RateLimitRPM > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimitRPM, time.Minute)(h)
	}

	// Apply CORS middleware.
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
