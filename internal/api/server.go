package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/beacon-relay/brc/internal/audit"
	"github.com/beacon-relay/brc/internal/auth"
)

// Server represents the HTTP API server.
type Server struct {
	httpServer     *http.Server
	relay          RelayPort
	observations   ObservationPort
	telemetryHub   TelemetryPort
	authMiddleware *auth.Middleware
	auditor        *audit.Logger
	metricsHandler http.Handler
	startTime      time.Time
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration
}

// NewServer creates a new API server. The auth middleware, auditor and
// metrics handler are optional; passing nil disables the corresponding
// behavior.
func NewServer(relay RelayPort, observations ObservationPort, telemetryHub TelemetryPort,
	authMiddleware *auth.Middleware, auditor *audit.Logger, metricsHandler http.Handler,
	readTimeout, writeTimeout, idleTimeout time.Duration) *Server {
	return &Server{
		relay:          relay,
		observations:   observations,
		telemetryHub:   telemetryHub,
		authMiddleware: authMiddleware,
		auditor:        auditor,
		metricsHandler: metricsHandler,
		startTime:      time.Now(),
		readTimeout:    readTimeout,
		writeTimeout:   writeTimeout,
		idleTimeout:    idleTimeout,
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}
