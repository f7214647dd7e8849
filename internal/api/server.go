package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/homie-core/internal/homie"
	"github.com/nerrad567/homie-core/internal/infrastructure/config"
	"github.com/nerrad567/homie-core/internal/infrastructure/logging"
	"github.com/nerrad567/homie-core/internal/infrastructure/metrics"
	"github.com/nerrad567/homie-core/internal/journal"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is a dependency whose liveness is reported by /health.
// *mqtt.Client and *database.DB satisfy it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// FeedLister reports the MQTT topic filters being followed.
// *mqtt.Client satisfies it.
type FeedLister interface {
	Subscriptions() []string
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Registry *homie.Registry

	// Journal is optional; without it /discoveries returns 503.
	Journal journal.Repository

	// Metrics is optional; without it /metrics is not mounted.
	Metrics *metrics.Registry

	// Checks are reported by name on /health.
	Checks map[string]HealthChecker

	// Feeds is optional; when set /health lists the followed filters.
	Feeds FeedLister

	Version string
}

// Server is the HTTP API server for Homie Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	secCfg   config.SecurityConfig
	logger   *logging.Logger
	registry *homie.Registry
	journal  journal.Repository
	metrics  *metrics.Registry
	checks   map[string]HealthChecker
	feeds    FeedLister
	version  string
	server   *http.Server
	hub      *Hub
	cancel   context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The WebSocket hub is created here and subscribed to the registry, so
// events flow to clients as soon as ingestion starts, even before Start.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("homie registry is required")
	}

	s := &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		secCfg:   deps.Security,
		logger:   deps.Logger,
		registry: deps.Registry,
		journal:  deps.Journal,
		metrics:  deps.Metrics,
		checks:   deps.Checks,
		feeds:    deps.Feeds,
		version:  deps.Version,
	}

	s.hub = NewHub(s.wsCfg, s.logger)
	if s.metrics != nil {
		s.hub.SetClientGauge(s.metrics.WebSocketClients)
	}
	s.registry.Subscribe(s.hub)

	return s, nil
}

// Hub returns the server's WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Parent of the hub's lifetime (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It unsubscribes the hub from the registry, disconnects WebSocket clients
// and waits up to 10 seconds for in-flight requests to complete.
func (s *Server) Close() error {
	s.registry.Unsubscribe(s.hub)

	if s.cancel != nil {
		s.cancel()
	}

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
