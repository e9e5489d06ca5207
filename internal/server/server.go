// Package server is the HTTP + websocket API of polytrend.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polytrend/internal/domain"
	"github.com/alanyoungcy/polytrend/internal/server/handler"
	"github.com/alanyoungcy/polytrend/internal/server/middleware"
	"github.com/alanyoungcy/polytrend/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// TriggerSecret guards POST /api/cron/run. Empty disables the trigger.
	TriggerSecret string
	// TriggerRateLimit is the per-client limit on trigger calls per minute;
	// 0 disables rate limiting.
	TriggerRateLimit int
	MetricsPath      string
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	TopK    *handler.TopKHandler
	Trigger *handler.TriggerHandler
	// Archive is nil when object storage is disabled.
	Archive *handler.ArchiveHandler
}

// Metrics is what the server needs from the metrics registry.
type Metrics interface {
	middleware.Observer
	Handler() http.Handler
}

// Options carries the optional collaborators. Any field may be nil.
type Options struct {
	Hub     *ws.Hub
	Limiter domain.RateLimiter
	Metrics Metrics
}

// Server is the HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer registers all routes and wraps them in CORS and request logging.
func NewServer(cfg Config, handlers Handlers, opts Options, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/top", handlers.TopK.Top)
	mux.HandleFunc("GET /api/markets", handlers.TopK.Markets)
	mux.HandleFunc("GET /api/markets/{id}/history", handlers.TopK.History)
	mux.HandleFunc("GET /api/trending-events", handlers.TopK.Events)
	mux.HandleFunc("GET /api/stats", handlers.TopK.Stats)
	mux.HandleFunc("GET /api/runs", handlers.TopK.Runs)
	if handlers.Archive != nil {
		mux.HandleFunc("GET /api/archives", handlers.Archive.List)
	}

	var trigger http.Handler = http.HandlerFunc(handlers.Trigger.Trigger)
	if opts.Limiter != nil && cfg.TriggerRateLimit > 0 {
		trigger = middleware.RateLimit(opts.Limiter, "trigger", cfg.TriggerRateLimit, time.Minute, logger)(trigger)
	}
	trigger = middleware.RequireSecret(cfg.TriggerSecret)(trigger)
	mux.Handle("POST /api/cron/run", trigger)

	if opts.Hub != nil {
		mux.HandleFunc("GET /ws", opts.Hub.HandleWS)
	}

	var obs middleware.Observer
	if opts.Metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, opts.Metrics.Handler())
		obs = opts.Metrics
	}

	var h http.Handler = mux
	h = middleware.Logging(logger, obs)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			// a triggered run is synchronous and may take minutes
			WriteTimeout: 6 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		handler: h,
		logger:  logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
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
