package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"trade_sim/internal/domain"
	"trade_sim/internal/infra"
)

// Simulator is the facade the HTTP layer drives.
type Simulator interface {
	Simulate(ctx context.Context, req domain.SimulationRequest) (domain.SimulationResult, error)
	SimulateWithDefaults(ctx context.Context) (domain.SimulationResult, error)
	Defaults() domain.SimulationRequest
	Status() domain.FeedStatus
	LatencyStats() domain.LatencyStats
	Book() *domain.BookSnapshot
	RecentBooks(n int) []*domain.BookSnapshot
}

// MetricsSource exposes a point-in-time metrics view.
type MetricsSource interface {
	Snapshot() infra.MetricsSnapshot
}

// Config holds the HTTP server configuration.
type Config struct {
	Addr string
}

// Server is a thin JSON API over the simulator.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and wraps them in request logging.
func NewServer(cfg Config, sim Simulator, metrics MetricsSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")

	h := &handlers{sim: sim, metrics: metrics, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", h.health)
	mux.HandleFunc("GET /api/status", h.status)
	mux.HandleFunc("GET /api/book", h.book)
	mux.HandleFunc("GET /api/book/history", h.bookHistory)
	mux.HandleFunc("GET /api/latency", h.latency)
	mux.HandleFunc("GET /api/metrics", h.metricsSnapshot)
	mux.HandleFunc("GET /api/simulate", h.simulateDefaults)
	mux.HandleFunc("POST /api/simulate", h.simulate)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      Logging(logger)(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv, logger: logger}
}

// Handler returns the root handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Run serves until ctx is cancelled, then shuts down with a 5s grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	}
}
