package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/joescharf/timetick/internal/models"
	"github.com/joescharf/timetick/internal/report"
	"github.com/joescharf/timetick/internal/store"
	"github.com/joescharf/timetick/internal/tracker"
)

// Server provides the REST API handlers.
type Server struct {
	tracker *tracker.Tracker
	store   store.Store
	report  report.Options
	log     *slog.Logger
}

// NewServer creates a new API server around a running tracker.
func NewServer(t *tracker.Tracker, s store.Store, opts report.Options) *Server {
	return &Server{
		tracker: t,
		store:   s,
		report:  opts,
		log:     slog.Default(),
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/status", s.status)
	mux.HandleFunc("POST /api/v1/session/start", s.startSession)
	mux.HandleFunc("POST /api/v1/session/stop", s.stopSession)
	mux.HandleFunc("POST /api/v1/input", s.input)

	mux.HandleFunc("GET /api/v1/sessions", s.listSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.getSession)

	mux.HandleFunc("POST /api/v1/export", s.export)
	mux.HandleFunc("GET /api/v1/exports", s.listExports)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// --- Engine ---

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.Status())
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Task string `json:"task"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
	}

	if err := s.tracker.Start(r.Context(), body.Task); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.tracker.Status())
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	if err := s.tracker.Stop(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.tracker.Status())
}

func (s *Server) input(w http.ResponseWriter, r *http.Request) {
	s.tracker.Input()
	writeJSON(w, http.StatusOK, s.tracker.Status())
}

// --- Sessions ---

// sessionFilter reads from, to (RFC 3339 or YYYY-MM-DD), reason, archived and
// limit query parameters.
func sessionFilter(r *http.Request) (store.SessionFilter, error) {
	q := r.URL.Query()
	var f store.SessionFilter

	for key, target := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		t, err := parseTime(v)
		if err != nil {
			return f, fmt.Errorf("invalid %s: %w", key, err)
		}
		*target = &t
	}

	if v := q.Get("reason"); v != "" {
		reason := models.EndReason(v)
		if !reason.Valid() {
			return f, fmt.Errorf("invalid reason: %s", v)
		}
		f.Reason = reason
	}

	f.IncludeArchived = q.Get("archived") == "true"

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid limit: %s", v)
		}
		f.Limit = n
	}
	return f, nil
}

func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02", v, time.Local)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	filter, err := sessionFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessions, err := s.store.ListSessions(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []*models.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// --- Exports ---

func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	filter, err := sessionFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now()
	opts := s.report
	opts.GeneratedAt = now
	name := report.DefaultFilename(now)

	// Render into memory so an error can still be reported as JSON.
	var buf bytes.Buffer
	e, err := report.NewGenerator(opts).Export(r.Context(), s.store, &buf, report.ExportRequest{
		Filter:  filter,
		Archive: r.URL.Query().Get("archive") == "true",
		Path:    name,
	})
	if err != nil {
		if errors.Is(err, report.ErrNoSessions) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		if e == nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.log.Warn("export written but archiving failed", "export_id", e.ID, "error", err)
	}

	s.log.Info("export generated", "export_id", e.ID, "sessions", e.SessionCount, "total_seconds", e.TotalSeconds)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("X-Export-Id", e.ID)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) listExports(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit: "+v)
			return
		}
		limit = n
	}

	exports, err := s.store.ListExports(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if exports == nil {
		exports = []*models.Export{}
	}
	writeJSON(w, http.StatusOK, exports)
}
