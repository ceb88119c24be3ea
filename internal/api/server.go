package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"jobtracker/internal/jobstore"
	"jobtracker/internal/models"
	"jobtracker/internal/telemetry"
	"jobtracker/internal/worker"
)

// Launcher starts the workload of a freshly created job.
type Launcher interface {
	Launch(ctx context.Context, jobID, jobType string, params models.CreateParams, payload map[string]any) error
}

// Limiter rate-limits job creation per tenant.
type Limiter interface {
	Allow(ctx context.Context, tenant string) (bool, float64, error)
}

// Server wires HTTP handlers for the controller API.
type Server struct {
	store    jobstore.Store
	launcher Launcher
	limiter  Limiter
	logger   *slog.Logger
}

// New constructs the API server. limiter may be nil.
func New(st jobstore.Store, launcher Launcher, limiter Limiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:    st,
		launcher: launcher,
		limiter:  limiter,
		logger:   logger,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/jobs", s.handleCreate)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Post("/jobs/{id}/pause", s.handlePause)
	r.Post("/jobs/{id}/resume", s.handleResume)
	return r
}

type createRequest struct {
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata"`
	Payload     map[string]any `json:"payload"`
}

type createResponse struct {
	JobID  string        `json:"job_id"`
	Status models.Status `json:"status"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}

	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), tenantFromRequest(r))
		if err != nil {
			s.logger.Error("rate limiter failed", "error", err)
			writeError(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
	}

	jobID := uuid.NewString()
	params := models.CreateParams{Description: req.Description, Metadata: req.Metadata}
	if err := s.store.CreateJob(r.Context(), jobID, params); err != nil {
		s.logger.Error("create job failed", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not create job")
		return
	}
	if err := s.launcher.Launch(r.Context(), jobID, req.Type, params, req.Payload); err != nil {
		msg := err.Error()
		_ = s.store.SetStatus(r.Context(), jobID, models.StatusFailed, &msg)
		if errors.Is(err, worker.ErrUnknownType) {
			writeError(w, http.StatusBadRequest, msg)
			return
		}
		s.logger.Error("launch failed", "job_id", jobID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "could not start job")
		return
	}
	writeJSON(w, http.StatusAccepted, createResponse{JobID: jobID, Status: models.StatusQueued})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	snap, ok, err := s.store.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.logger.Error("get status failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not read job")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "unknown job id")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	ok, err := s.store.Pause(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.logger.Error("pause failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not pause job")
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, "job is unknown or already finished")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	ok, err := s.store.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.logger.Error("resume failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not resume job")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "unknown job id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func tenantFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Tenant-ID"); v != "" {
		return v
	}
	return "default"
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
