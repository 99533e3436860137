package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/edgewatch/edgewatch-core/internal/bus"
	"github.com/edgewatch/edgewatch-core/internal/infrastructure/config"
	"github.com/edgewatch/edgewatch-core/internal/infrastructure/database"
	"github.com/edgewatch/edgewatch-core/internal/infrastructure/logging"
	"github.com/edgewatch/edgewatch-core/internal/session"
	"github.com/edgewatch/edgewatch-core/internal/worker"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// and device sessions to finish during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Media    config.MediaConfig
	Logger   *logging.Logger
	Gateway  *session.Gateway
	Bus      bus.Bus
	DB       *database.DB       // optional, enables the database health check
	Pool     *worker.Pool       // optional, reported in /api/v1/metrics
	Gatherer prometheus.Gatherer // optional, serves /metrics
	Version  string
}

// Server is the HTTP server for edgewatch.
//
// It manages the HTTP listener, routes, middleware, and the observer hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	mediaCfg  config.MediaConfig
	logger    *logging.Logger
	gateway   *session.Gateway
	bus       bus.Bus
	db        *database.DB
	pool      *worker.Pool
	gatherer  prometheus.Gatherer
	version   string
	startTime time.Time
	server    *http.Server
	hub       *Hub
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("session gateway is required")
	}
	if deps.Bus == nil {
		return nil, fmt.Errorf("bus is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		mediaCfg:  deps.Media,
		logger:    deps.Logger,
		gateway:   deps.Gateway,
		bus:       deps.Bus,
		db:        deps.DB,
		pool:      deps.Pool,
		gatherer:  deps.Gatherer,
		version:   deps.Version,
		startTime: time.Now(),
	}
	s.hub = NewHub(s.wsCfg, s.bus, s.logger)
	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the observer hub and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
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
// Device sessions are closed first so each runs its offline transition,
// then observers are disconnected and the listener is shut down.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down", "sessions", s.gateway.Manager().Count())
	if err := s.gateway.Manager().Shutdown(ctx); err != nil {
		s.logger.Warn("device sessions did not close in time", "error", err)
	}

	if s.cancel != nil {
		s.cancel()
	}

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
