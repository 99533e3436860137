package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edgewatch/edgewatch-core/internal/infrastructure/config"
	"github.com/edgewatch/edgewatch-core/internal/session"
)

// healthCheckTimeout bounds the database ping in the health endpoint.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Device and observer sockets
	r.Get(s.wsCfg.DevicePath+"/{api_key}", s.handleDeviceSocket)
	r.Get(s.wsCfg.ObserverPath, s.handleObserverSocket)

	// Detection media stored on local disk
	if s.mediaCfg.Driver == config.MediaDriverFile && s.mediaCfg.URLPrefix != "" {
		prefix := "/" + strings.Trim(s.mediaCfg.URLPrefix, "/")
		r.Handle(prefix+"/*", http.StripPrefix(prefix, mediaHandler(s.mediaCfg.Root)))
	}

	// Prometheus scrape endpoint
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
	})

	return r
}

// mediaHandler serves files under root without directory listings.
func mediaHandler(root string) http.Handler {
	files := http.FileServer(http.Dir(root))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			writeNotFound(w, "not found")
			return
		}
		files.ServeHTTP(w, r)
	})
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{
		"status":    "ok",
		"version":   s.version,
		"sessions":  s.gateway.Manager().Count(),
		"observers": s.hub.ClientCount(),
	}

	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := s.db.HealthCheck(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["database"] = err.Error()
		} else {
			body["database"] = "ok"
		}
	}

	writeJSON(w, status, body)
}

// handleDeviceSocket upgrades a device connection and runs its session
// until it ends. Admission happens after the upgrade so a rejected device
// sees the policy-violation close code.
func (s *Server) handleDeviceSocket(w http.ResponseWriter, r *http.Request) {
	apiKey := chi.URLParam(r, "api_key")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("device websocket upgrade failed", "error", err)
		return
	}

	err = s.gateway.Serve(r.Context(), conn, apiKey)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrAdmission), errors.Is(err, session.ErrProtocol):
		s.logger.Info("device session refused or terminated", "error", err)
	default:
		s.logger.Warn("device session ended with error", "error", err)
	}
}
