package api

import (
	"net/http"
	"time"

	"github.com/beacon-relay/brc/internal/auth"
)

// RegisterRoutes registers all v1 endpoints.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	apiV1 := "/api/v1"

	// Health endpoint (no auth required)
	mux.HandleFunc(apiV1+"/health", s.handleHealth)

	mux.HandleFunc(apiV1+"/status", s.protect(auth.ScopeRead, s.handleStatus))
	mux.HandleFunc(apiV1+"/observations", s.protect(auth.ScopeRead, s.handleObservations))
	mux.HandleFunc(apiV1+"/relay/reset", s.protect(auth.ScopeControl, s.handleReset))
	mux.HandleFunc(apiV1+"/telemetry", s.protect(auth.ScopeTelemetry, s.handleTelemetry))

	if s.metricsHandler != nil {
		mux.Handle("/metrics", s.metricsHandler)
	}
}

// protect wraps a handler with authentication and scope checks when an auth
// middleware is configured.
func (s *Server) protect(scope string, next http.HandlerFunc) http.HandlerFunc {
	if s.authMiddleware == nil {
		return next
	}
	return s.authMiddleware.RequireAuth(s.authMiddleware.RequireScope(scope)(next))
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only GET method is allowed", nil)
		return
	}

	uptime := 0.0
	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime).Seconds()
	}

	subsystems := map[string]bool{
		"relay":        s.relay != nil,
		"observations": s.observations != nil,
		"telemetry":    s.telemetryHub != nil,
	}

	overallStatus := "ok"
	for _, up := range subsystems {
		if !up {
			overallStatus = "degraded"
		}
	}

	health := map[string]any{
		"status":     overallStatus,
		"uptimeSec":  uptime,
		"version":    "1.0.0",
		"subsystems": subsystems,
	}

	if overallStatus == "ok" {
		WriteSuccess(w, health)
		return
	}
	WriteError(w, http.StatusServiceUnavailable, "SERVICE_DEGRADED",
		"One or more subsystems are unavailable", health)
}

// handleStatus handles GET /status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only GET method is allowed", nil)
		return
	}
	if s.relay == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Relay engine not available", nil)
		return
	}

	WriteSuccess(w, s.relay.Status())
}

// handleObservations handles GET /observations
func (s *Server) handleObservations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only GET method is allowed", nil)
		return
	}
	if s.observations == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Observation store not available", nil)
		return
	}

	entries := s.observations.Snapshot()
	items := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		items = append(items, map[string]any{
			"addr":        e.Addr.String(),
			"rssi":        e.RSSI,
			"hopBudget":   e.HopBudget,
			"lastSeen":    e.LastSeen.UTC().Format(time.RFC3339Nano),
			"temperature": e.Temperature,
			"voltage":     e.Voltage,
		})
	}

	WriteSuccess(w, map[string]any{
		"observations": items,
		"live":         s.observations.Len(),
		"capacity":     s.observations.Capacity(),
	})
}

// handleReset handles POST /relay/reset
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only POST method is allowed", nil)
		return
	}
	if s.relay == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Relay engine not available", nil)
		return
	}

	err := s.relay.RequestReset(r.Context())
	if s.auditor != nil {
		s.auditor.LogAction(r.Context(), "relayReset", nil, err)
	}
	if err != nil {
		WriteActionError(w, err)
		return
	}

	WriteSuccess(w, map[string]string{"state": "reset"})
}

// handleTelemetry handles GET /telemetry (SSE)
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only GET method is allowed", nil)
		return
	}
	if s.telemetryHub == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Telemetry service not available", nil)
		return
	}

	if err := s.telemetryHub.Subscribe(r.Context(), w, r); err != nil {
		WriteError(w, http.StatusInternalServerError, "INTERNAL",
			"Failed to subscribe to telemetry stream", nil)
	}
}
