// Package core provides the API chassis for VibeResume.
// It builds a chi router that serves both a plain HTTP listener (local dev)
// and AWS Lambda behind API Gateway (via httpadapter). Cross-cutting concerns
// run here before requests reach the domain handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"viberesume/internal/config"
	"viberesume/internal/ratelimit"
)

// MetricsCollector defines the interface for recording API telemetry.
type MetricsCollector interface {
	// RecordRequest records request latency and count. endpoint is the chi
	// route pattern, not the raw path, to keep cardinality bounded.
	RecordRequest(method, endpoint, status string, duration time.Duration)

	// RecordGateDecision counts one entitlement decision for a resource kind.
	RecordGateDecision(kind string, blocked bool)
}

// RouteRegistrar mounts a group of handler routes onto a router.
type RouteRegistrar func(r chi.Router)

// Server encapsulates all dependencies for the HTTP API.
type Server struct {
	Config         *config.Config
	Logger         *slog.Logger
	Validator      *Validator
	Metrics        MetricsCollector
	Authenticator  Authenticator
	RateLimitStore ratelimit.Store
	HealthProbes   []HealthProbe

	// V1RouteRegistrars are mounted under /v1 behind authentication and
	// rate limiting. PublicRouteRegistrars are mounted at the root without
	// either.
	V1RouteRegistrars     []RouteRegistrar
	PublicRouteRegistrars []RouteRegistrar

	// now is the clock used by the rate limiter.
	now func() time.Time

	router *chi.Mux
}

// NewServer initializes the server and its router. The caller mounts routes
// with MountRoutes after setting the optional collaborators.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		now:       time.Now,
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler for the router.
// Used by http.Server (local) and httpadapter.NewV2 (Lambda).
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown flushes buffered metrics. Connection pools are owned and closed
// by main.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	if f, ok := s.Metrics.(interface{ Flush(context.Context) error }); ok {
		if err := f.Flush(ctx); err != nil {
			s.Logger.Error("error flushing metrics", "error", err)
			return fmt.Errorf("flushing metrics: %w", err)
		}
	}

	s.Logger.Info("server shutdown complete")
	return nil
}
