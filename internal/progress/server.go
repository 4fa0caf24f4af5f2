package progress

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/superdoc-dev/docx-corpus/internal/metastore"
)

// HealthChecker reports whether a dependency is reachable. Modeled on the
// teacher's health-check contract: a nil error means healthy.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// errorResponse is the 503 body shape: {"error":{"code":...,"message":...}}.
type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Server exposes GET /healthz (liveness + dependency checks) and
// GET /status (current scrape counters and extraction stats) over HTTP.
type Server struct {
	tracker *Tracker
	meta    *metastore.Store
	checker HealthChecker
}

// NewServer builds a Server. checker may be nil, in which case /healthz
// always reports healthy.
func NewServer(tracker *Tracker, meta *metastore.Store, checker HealthChecker) *Server {
	return &Server{tracker: tracker, meta: meta, checker: checker}
}

// Handler builds the chi router for this Server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.healthHandler)
	r.Get("/status", s.statusHandler)
	return r
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		return
	}
	if err := s.checker.CheckHealth(r.Context()); err != nil {
		resp := errorResponse{}
		resp.Error.Code = "SERVICE_UNAVAILABLE"
		resp.Error.Message = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// statusBody is the /status response shape.
type statusBody struct {
	Snapshot
	Extraction *metastore.ExtractionCounts `json:"extraction,omitempty"`
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var body statusBody
	if s.tracker != nil {
		body.Snapshot = s.tracker.Snapshot()
	}

	if s.meta != nil {
		if stats, err := s.meta.ExtractionStats(r.Context()); err == nil {
			body.Extraction = &stats
		}
	}

	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
