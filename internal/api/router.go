package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/homie-core/internal/auth"
)

// healthCheckTimeout bounds each dependency check on /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	// Prometheus scrape endpoint (no auth, scraped by the local collector)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Get("/nodes/{nodeID}", s.handleGetNode)
					r.Get("/nodes/{nodeID}/properties/{propertyID}", s.handleGetProperty)
				})
			})

			r.With(s.requireRole(auth.RoleAdmin)).Get("/discoveries", s.handleListDiscoveries)

			// WebSocket (token via Authorization header or ?token=)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth reports server status plus the state of each dependency.
// Any failing dependency turns the response into a 503 "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	checks := make(map[string]string, len(s.checks))

	for name, checker := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := checker.HealthCheck(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	body := map[string]any{
		"status":          status,
		"version":         s.version,
		"checks":          checks,
		"devices":         s.registry.DeviceCount(),
		"pending_devices": s.registry.PendingCount(),
		"ws_clients":      s.hub.ClientCount(),
	}
	if s.feeds != nil {
		body["subscriptions"] = s.feeds.Subscriptions()
	}

	writeJSON(w, code, body)
}
