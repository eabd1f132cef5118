package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/metrics"
)

// readinessTimeout bounds the dependency checks behind /readyz.
const readinessTimeout = 3 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", metrics.Handler(s.gatherer))

	return r
}

// handleHealth reports liveness. It never touches dependencies.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}

// componentStatus is one entry of the readiness report.
type componentStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// readiness is the /readyz response body.
type readiness struct {
	Status     string            `json:"status"`
	Components []componentStatus `json:"components"`
}

// handleReady pings the database and reports optional dependencies.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	report := readiness{Status: "ok"}
	code := http.StatusOK

	db := componentStatus{Name: "database", Status: "ok"}
	if err := s.database.HealthCheck(ctx); err != nil {
		db.Status = "down"
		db.Error = err.Error()
		report.Status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	report.Components = append(report.Components, db)

	names := make([]string, 0, len(s.optional))
	for name := range s.optional {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cs := componentStatus{Name: name, Status: "ok"}
		if err := s.optional[name].HealthCheck(ctx); err != nil {
			cs.Status = "degraded"
			cs.Error = err.Error()
			if report.Status == "ok" {
				report.Status = "degraded"
			}
		}
		report.Components = append(report.Components, cs)
	}

	writeJSON(w, code, report)
}
