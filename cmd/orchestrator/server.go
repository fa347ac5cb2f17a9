package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/liamcoop/loanorchestrator/decision"
	"github.com/liamcoop/loanorchestrator/internal/logger"
	"github.com/liamcoop/loanorchestrator/queue"
)

// Server is the HTTP dispatcher in front of the executor and the worker pool.
type Server struct {
	store    decision.Store
	executor *decision.Executor
	pool     *queue.WorkerPool
	router   *chi.Mux
}

// NewServer wires the routes. pool may be nil, in which case async requests are refused.
func NewServer(store decision.Store, executor *decision.Executor, pool *queue.WorkerPool) *Server {
	s := &Server{
		store:    store,
		executor: executor,
		pool:     pool,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)

	r.Post("/api/v1/runs", s.handleCreateRun)
	r.Get("/api/v1/jobs/{jobId}", s.handleGetJob)

	r.Route("/api/v1/applications/{applicationId}", func(r chi.Router) {
		r.Get("/", s.handleGetApplication)
		r.Get("/runs", s.handleListRuns)
	})
	r.Get("/api/v1/pipelines/{pipelineId}", s.handleGetPipeline)

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	response := map[string]any{
		"status":   "healthy",
		"counters": logger.Counters(),
	}
	if s.pool != nil {
		response["jobs"] = s.pool.Counts()
	}
	respondJSON(w, http.StatusOK, response)
}

type runRequest struct {
	ApplicationID string `json:"applicationId"`
	PipelineID    string `json:"pipelineId"`
	Async         bool   `json:"async"`
}

// Run dispatch handler. Synchronous requests return the completed run; async ones are
// queued after both ids have been checked.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	req.ApplicationID = strings.TrimSpace(req.ApplicationID)
	req.PipelineID = strings.TrimSpace(req.PipelineID)
	if req.ApplicationID == "" || req.PipelineID == "" {
		respondError(w, http.StatusBadRequest, "applicationId and pipelineId are required", nil)
		return
	}
	if v := r.URL.Query().Get("async"); v != "" {
		async, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "async must be a boolean", err)
			return
		}
		req.Async = async
	}

	if !req.Async {
		run, err := s.executor.Run(r.Context(), req.ApplicationID, req.PipelineID)
		if err != nil {
			respondRunError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, run)
		return
	}

	if s.pool == nil {
		respondError(w, http.StatusServiceUnavailable, "async dispatch is not enabled", nil)
		return
	}
	if _, err := s.store.GetApplication(r.Context(), req.ApplicationID); err != nil {
		respondRunError(w, err)
		return
	}
	if _, err := s.store.GetPipeline(r.Context(), req.PipelineID); err != nil {
		respondRunError(w, err)
		return
	}

	job, err := s.pool.Submit(r.Context(), req.ApplicationID, req.PipelineID)
	if err != nil {
		if errors.Is(err, queue.ErrQueueFull) || errors.Is(err, queue.ErrQueueClosed) {
			respondError(w, http.StatusServiceUnavailable, "work queue unavailable", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to enqueue run", err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]any{
		"jobId":     job.ID,
		"status":    job.State,
		"statusUrl": fmt.Sprintf("/api/v1/jobs/%s", job.ID),
	})
}

// Job status handler
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		respondError(w, http.StatusNotFound, "job not found", nil)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "jobId"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid job id", err)
		return
	}
	job, ok := s.pool.Status(id)
	if !ok {
		respondError(w, http.StatusNotFound, "job not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// Get application handler
func (s *Server) handleGetApplication(w http.ResponseWriter, r *http.Request) {
	app, err := s.store.GetApplication(r.Context(), chi.URLParam(r, "applicationId"))
	if err != nil {
		respondRunError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, app)
}

// Run history handler
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	applicationID := chi.URLParam(r, "applicationId")
	if _, err := s.store.GetApplication(r.Context(), applicationID); err != nil {
		respondRunError(w, err)
		return
	}
	runs, err := s.store.ListRuns(r.Context(), applicationID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list runs", err)
		return
	}
	if runs == nil {
		runs = []decision.Run{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"runs": runs,
	})
}

// Get pipeline handler
func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetPipeline(r.Context(), chi.URLParam(r, "pipelineId"))
	if err != nil {
		respondRunError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{
		"error": message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}

// respondRunError maps engine errors onto HTTP statuses.
func respondRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, decision.ErrApplicationNotFound):
		respondError(w, http.StatusNotFound, "application not found", err)
	case errors.Is(err, decision.ErrPipelineNotFound):
		respondError(w, http.StatusNotFound, "pipeline not found", err)
	case errors.Is(err, decision.ErrLockUnavailable):
		respondError(w, http.StatusConflict, "application is busy", err)
	default:
		respondError(w, http.StatusInternalServerError, "pipeline run failed", err)
	}
}
