package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
	"github.com/alanyoungcy/fantasymarket/internal/metrics"
	"github.com/alanyoungcy/fantasymarket/internal/server/handler"
	"github.com/alanyoungcy/fantasymarket/internal/server/middleware"
	"github.com/alanyoungcy/fantasymarket/internal/server/ws"
)

// Paths served without the API key. The webhook authenticates with the
// provider's secret; health is polled by orchestrators.
const (
	webhookPath = "/api/bridge/webhook"
	healthPath  = "/api/health"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RateLimit   int    // requests per RateWindow per client; 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	League  *handler.LeagueHandler
	Bridge  *handler.BridgeHandler
	Metrics http.Handler
}

// Deps are the optional collaborators of the server.
type Deps struct {
	Hub     *ws.Hub
	Limiter domain.RateLimiter
	Metrics *metrics.Metrics
}

// Server is the HTTP + WebSocket API of the settlement engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with every route registered and the
// middleware chain applied.
func NewServer(cfg Config, handlers Handlers, deps Deps, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewHandler(cfg, handlers, deps, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 5 * time.Minute, // finalize runs synchronously
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, deps Deps, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+healthPath, handlers.Health.HealthCheck)
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}

	// League endpoints.
	mux.HandleFunc("POST /api/leagues/{id}/picks", handlers.League.CreatePick)
	mux.HandleFunc("POST /api/leagues/{id}/picks/{pickId}/swap", handlers.League.SwapPick)
	mux.HandleFunc("POST /api/leagues/{id}/scores", handlers.League.ComputeScores)
	mux.HandleFunc("GET /api/leagues/{id}/scores", handlers.League.ListScores)
	mux.HandleFunc("GET /api/leagues/{id}/snapshots", handlers.League.ListSnapshots)
	mux.HandleFunc("POST /api/leagues/{id}/finalize", handlers.League.Finalize)
	mux.HandleFunc("GET /api/leagues/{id}/settlements", handlers.League.ListSettlementReports)
	mux.HandleFunc("GET /api/leagues/{id}/settlements/report", handlers.League.GetSettlementReport)

	// Bridge endpoints.
	mux.HandleFunc("POST /api/bridge/transfers", handlers.Bridge.Initiate)
	mux.HandleFunc("GET /api/bridge/transfers", handlers.Bridge.ListTransfers)
	mux.HandleFunc("GET /api/bridge/transfers/{id}", handlers.Bridge.GetTransfer)
	mux.HandleFunc("POST "+webhookPath, handlers.Bridge.Webhook)
	mux.HandleFunc("GET /api/bridge/readiness", handlers.Bridge.Readiness)

	if deps.Hub != nil {
		mux.HandleFunc("GET /ws", deps.Hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, webhookPath, healthPath)(h)
	if deps.Limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(deps.Limiter, cfg.RateLimit, cfg.RateWindow, deps.Metrics)(h)
	}
	h = middleware.Logging(logger, deps.Metrics)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
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
