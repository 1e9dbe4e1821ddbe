// Package api exposes the classification service over HTTP: submission,
// task polling, per-document progress, health and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/proyecto-sentinel/sentinel/internal/task"
)

// HealthChecker reports the reachability of one backing component.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// ClassifyRequest is the submission body. All fields are optional.
type ClassifyRequest struct {
	Strategy      string `json:"strategy"`
	BatchSize     int    `json:"batch_size"`
	MaxBatches    int    `json:"max_batches"`
	GenerateFinal bool   `json:"generate_final"`
}

// ClassifyResponse acknowledges an enqueued run.
type ClassifyResponse struct {
	DocumentID    string `json:"document_id"`
	TaskID        string `json:"task_id"`
	Status        string `json:"status"`
	Strategy      string `json:"strategy"`
	BatchSize     int    `json:"batch_size"`
	MaxBatches    int    `json:"max_batches,omitempty"`
	GenerateFinal bool   `json:"generate_final"`
}

// StatusResponse is the polling view of one task.
type StatusResponse struct {
	TaskID         string  `json:"task_id"`
	DocumentID     string  `json:"document_id"`
	Status         string  `json:"status"`
	Progress       float64 `json:"progress"`
	CurrentBatch   int     `json:"current_batch,omitempty"`
	TotalProcessed int     `json:"total_processed"`
	Result         any     `json:"result,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// Server is the classification service HTTP server.
type Server struct {
	runner *task.Runner
	checks map[string]HealthChecker
	server *http.Server
}

// NewServer creates the API server. checks maps component names (db, redis,
// gateway) to their health probes; nil entries are skipped.
func NewServer(runner *task.Runner, checks map[string]HealthChecker, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		runner: runner,
		checks: checks,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /classify/{document_id}", s.handleClassify)
	mux.HandleFunc("GET /task/{task_id}/status", s.handleTaskStatus)
	mux.HandleFunc("GET /document/{document_id}/progress", s.handleDocumentProgress)

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	components := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if check == nil {
			continue
		}
		if err := check.Health(r.Context()); err != nil {
			slog.Warn("Health check failed", "component", name, "error", err)
			components[name] = "unreachable"
			status = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	body := map[string]any{"status": "ok", "components": components}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	documentID := r.PathValue("document_id")

	var req ClassifyRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	t, err := s.runner.Submit(r.Context(), task.SubmitRequest{
		DocumentID:    documentID,
		Strategy:      req.Strategy,
		BatchSize:     req.BatchSize,
		MaxBatches:    req.MaxBatches,
		GenerateFinal: req.GenerateFinal,
	})
	if err != nil {
		var verr *task.ValidationError
		switch {
		case errors.As(err, &verr):
			writeError(w, http.StatusUnprocessableEntity, verr.Error())
		case errors.Is(err, task.ErrQueueFull):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			slog.Error("Failed to submit task", "document_id", documentID, "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, ClassifyResponse{
		DocumentID:    t.DocumentID,
		TaskID:        t.ID,
		Status:        "enqueued",
		Strategy:      string(t.Strategy),
		BatchSize:     t.BatchSize,
		MaxBatches:    t.MaxBatches,
		GenerateFinal: t.GenerateFinal,
	})
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")

	t, err := s.runner.Status(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		slog.Error("Failed to load task", "task_id", taskID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := StatusResponse{
		TaskID:         t.ID,
		DocumentID:     t.DocumentID,
		Status:         t.State.External(),
		Progress:       t.Progress,
		CurrentBatch:   t.CurrentBatch,
		TotalProcessed: t.TotalProcessed,
		Error:          t.Error,
	}
	if t.Result != nil {
		resp.Result = t.Result
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDocumentProgress(w http.ResponseWriter, r *http.Request) {
	documentID := r.PathValue("document_id")

	dp, err := s.runner.DocumentProgress(r.Context(), documentID)
	if err != nil {
		slog.Error("Failed to load document progress", "document_id", documentID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, dp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
