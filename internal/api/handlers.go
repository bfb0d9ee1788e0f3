// Package api provides HTTP handlers for PushRelay endpoints.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/PushRelay/internal/models"
)

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	counts := s.guard.Counts()
	healthData := map[string]interface{}{
		"status":         "healthy",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"conversations":  counts.Conversations,
		"seen_messages":  counts.SeenMessages,
		"forwarded_jobs": counts.ForwardedJobs,
	}

	writeJSONResponse(w, http.StatusOK, healthData)
}

// statusHandler reports monitor loop progress and snapshot sizes (GET /status).
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.statusHandler: processing status request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.statusHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	status := map[string]interface{}{
		"monitor":  s.mon.Status(),
		"target":   s.mon.Target(),
		"snapshot": s.guard.Counts(),
	}
	writeJSONResponse(w, http.StatusOK, models.Success(status))
}

// patternsHandler lists detection patterns (GET /patterns) and adds new ones
// at runtime (POST /patterns).
func (s *Server) patternsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.patternsHandler: processing patterns request", "method", r.Method, "path", r.URL.Path)
	if s.patterns == nil {
		slog.Warn("Server.patternsHandler: no pattern detector configured")
		writeJSONResponse(w, http.StatusNotFound, models.Error("Pattern detector not configured"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		patterns := s.patterns.Patterns()
		slog.Debug("Server.patternsHandler: patterns fetched", "count", len(patterns))
		writeJSONResponse(w, http.StatusOK, models.Success(patterns))
	case http.MethodPost:
		var req models.PatternRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			slog.Warn("Server.patternsHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		if err := req.Validate(); err != nil {
			slog.Warn("Server.patternsHandler: validation failed", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		if err := s.patterns.AddPattern(req.Pattern); err != nil {
			slog.Warn("Server.patternsHandler: pattern rejected", "error", err, "pattern", req.Pattern)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Info("Server.patternsHandler: pattern added", "pattern", req.Pattern)
		writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Pattern added successfully", s.patterns.Patterns()))
	default:
		w.Header().Set("Allow", "GET, POST")
		slog.Warn("Server.patternsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// forwardedHandler returns the forward history, newest first (GET /forwarded).
func (s *Server) forwardedHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.forwardedHandler: processing forwarded request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.forwardedHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	records := s.guard.Records()
	slog.Debug("Server.forwardedHandler: records fetched", "count", len(records))
	writeJSONResponse(w, http.StatusOK, models.Success(records))
}
