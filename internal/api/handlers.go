package api

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-edge/internal/controller"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	healthCheckTimeout  = 3 * time.Second
)

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Components    map[string]string `json:"components,omitempty"`
}

// handleHealth reports "ok" when every component is healthy and "degraded"
// otherwise. Loops keep running without their brokers, so a degraded
// component does not fail the request.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:        "ok",
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}

	if len(s.checks) > 0 {
		resp.Components = make(map[string]string, len(s.checks))
		for name, check := range s.checks {
			if err := check.HealthCheck(ctx); err != nil {
				resp.Components[name] = err.Error()
				resp.Status = "degraded"
				continue
			}
			resp.Components[name] = "ok"
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleListLoops returns the status of every loop, sorted by name.
func (s *Server) handleListLoops(w http.ResponseWriter, _ *http.Request) {
	statuses := make([]controller.Status, 0, len(s.loops))
	for _, loop := range s.loops {
		statuses = append(statuses, loop.Status())
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Loop < statuses[j].Loop })

	writeJSON(w, http.StatusOK, map[string]any{
		"loops": statuses,
		"count": len(statuses),
	})
}

// handleGetLoop returns one loop.
func (s *Server) handleGetLoop(w http.ResponseWriter, r *http.Request) {
	loop, ok := s.findLoop(chi.URLParam(r, "name"))
	if !ok {
		writeNotFound(w, "loop not found")
		return
	}
	writeJSON(w, http.StatusOK, loop.Status())
}

// handleLoopHistory returns recent transitions of one loop, newest first.
func (s *Server) handleLoopHistory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := s.findLoop(name); !ok {
		writeNotFound(w, "loop not found")
		return
	}
	if s.history == nil {
		writeUnavailable(w, "history is disabled")
		return
	}

	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	entries, err := s.history.Transitions(r.Context(), name, limit)
	if err != nil {
		s.logger.Error("failed to read transition history", "loop", name, "error", err)
		writeInternalError(w, "failed to read history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"loop":    name,
		"entries": entries,
		"count":   len(entries),
	})
}

// handleListCommands returns recent remote commands, newest first.
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "history is disabled")
		return
	}

	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	entries, err := s.history.Commands(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to read command log", "error", err)
		writeInternalError(w, "failed to read command log")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) findLoop(name string) (Loop, bool) {
	for _, loop := range s.loops {
		if loop.Name() == name {
			return loop, true
		}
	}
	return nil, false
}

// parseHistoryLimit parses the limit query parameter. Empty means the
// default; values above the maximum are capped.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit, nil
}
