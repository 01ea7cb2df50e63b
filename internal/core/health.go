package core

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// healthCheckTimeout bounds the whole health check. Probes still running at
// the deadline are reported as timed out.
const healthCheckTimeout = 2 * time.Second

// HealthProbe is one dependency the service cannot work without.
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseProbe reports whether the connection pool can reach PostgreSQL.
type DatabaseProbe struct {
	Pool Pinger
}

// Name implements HealthProbe.
func (p DatabaseProbe) Name() string { return "database" }

// Check implements HealthProbe.
func (p DatabaseProbe) Check(ctx context.Context) error {
	if p.Pool == nil {
		return fmt.Errorf("no connection pool configured")
	}
	return p.Pool.Ping(ctx)
}

type checkStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status string                 `json:"status"`
	Checks map[string]checkStatus `json:"checks,omitempty"`
}

type probeResult struct {
	name string
	err  error
}

// HandleHealth runs every probe concurrently under a 2s deadline and answers
// 200 when all pass, 503 otherwise. Public; mounted at GET /health.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	probes := s.HealthProbes
	if len(probes) == 0 {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy"})
		return
	}

	// Buffered so late probes never block after the handler returns.
	results := make(chan probeResult, len(probes))
	for _, probe := range probes {
		go func(p HealthProbe) {
			results <- probeResult{name: p.Name(), err: runProbe(ctx, p)}
		}(probe)
	}

	checks := make(map[string]checkStatus, len(probes))
	for _, p := range probes {
		checks[p.Name()] = checkStatus{Status: "unhealthy", Message: "health check timed out"}
	}

	healthy := true
collect:
	for range probes {
		select {
		case res := <-results:
			if res.err != nil {
				healthy = false
				checks[res.name] = checkStatus{Status: "unhealthy", Message: res.err.Error()}
				continue
			}
			checks[res.name] = checkStatus{Status: "healthy"}
		case <-ctx.Done():
			healthy = false
			break collect
		}
	}

	if !healthy {
		JSON(w, r, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Checks: checks})
		return
	}
	JSON(w, r, http.StatusOK, healthResponse{Status: "healthy", Checks: checks})
}

// runProbe converts a probe panic into an error.
func runProbe(ctx context.Context, p HealthProbe) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("probe panicked: %v", rec)
		}
	}()
	return p.Check(ctx)
}
