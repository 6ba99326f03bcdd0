// Package api exposes the triage engine over HTTP: an incident-report intake
// endpoint, audit trail reads, and a health probe.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/oncallstack/triage-engine/internal/models"
)

// Engine is the orchestration surface the API serves.
type Engine interface {
	HandleIncidentReport(ctx context.Context, raw string, hint models.SourceSystem) (models.Outcome, error)
	History(ctx context.Context, incidentID string, fromSeq int64) ([]models.AuditRecord, error)
}

// Server hosts the REST endpoints.
type Server struct {
	logger *slog.Logger
	engine Engine
	srv    *http.Server
}

// NewServer builds the HTTP server on the given listen address.
func NewServer(logger *slog.Logger, engine Engine, address string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{logger: logger, engine: engine}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/incidents", s.handleReportIncident)
		r.Get("/incidents/{id}/audit", s.handleAuditTrail)
	})

	s.srv = &http.Server{
		Addr:              address,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until the listener closes. Always returns a non-nil error;
// http.ErrServerClosed after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server listening", slog.String("address", s.srv.Addr))
	return s.srv.ListenAndServe()
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// incidentReport is the intake payload. Description and logs are concatenated
// into the raw evidence handed to the normalizer; source_system is an
// optional extraction hint.
type incidentReport struct {
	SourceSystem string `json:"source_system"`
	Description  string `json:"description"`
	Logs         string `json:"logs"`
}

func (s *Server) handleReportIncident(w http.ResponseWriter, r *http.Request) {
	var report incidentReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	raw := strings.TrimSpace(report.Description)
	if logs := strings.TrimSpace(report.Logs); logs != "" {
		if raw != "" {
			raw += "\n"
		}
		raw += logs
	}

	hint := models.SourceSystem(strings.ToLower(strings.TrimSpace(report.SourceSystem)))
	if report.SourceSystem != "" && !hint.Valid() {
		writeError(w, http.StatusBadRequest, "unknown source_system "+strconv.Quote(report.SourceSystem))
		return
	}

	outcome, err := s.engine.HandleIncidentReport(r.Context(), raw, hint)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrMalformedEvidence):
			writeJSON(w, http.StatusUnprocessableEntity, outcome)
		case errors.Is(err, models.ErrAuditWriteFailed):
			writeJSON(w, http.StatusInternalServerError, outcome)
		default:
			s.logger.Error("incident report failed", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	incidentID := chi.URLParam(r, "id")

	var fromSeq int64
	if v := r.URL.Query().Get("from_seq"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "from_seq must be a non-negative integer")
			return
		}
		fromSeq = n
	}

	records, err := s.engine.History(r.Context(), incidentID, fromSeq)
	if err != nil {
		s.logger.Error("audit trail read failed",
			slog.String("incident_id", incidentID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "audit store unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"incident_id": incidentID,
		"records":     records,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
