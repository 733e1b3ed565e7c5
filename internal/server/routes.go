package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Call ingestion (telephony webhook)
	mux.HandleFunc("/api/calls", s.app.CallHandler.CallEndedHandler) // POST - call-ended event

	// Pipeline control
	mux.HandleFunc("/api/reconcile/trigger", s.app.ReconcileHandler.TriggerHandler) // POST - manual pipeline run

	// Dead-letter triage
	mux.HandleFunc("/api/deadletters", s.app.DeadLetterHandler.ListHandler) // GET - list dead letters
	mux.HandleFunc("/api/deadletters/", s.handleDeadLetterRoutes)           // POST /{id}/requeue

	// System
	mux.HandleFunc("/api/status", s.app.StatusHandler.GetStatusHandler) // GET - queue and scheduler status
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleDeadLetterRoutes routes dead-letter subpaths to the appropriate handler
func (s *Server) handleDeadLetterRoutes(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/requeue") {
		s.app.DeadLetterHandler.RequeueHandler(w, r)
		return
	}

	http.Error(w, "Not found", http.StatusNotFound)
}
