package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/proyecto-sentinel/sentinel/internal/infra/storage"
	"github.com/proyecto-sentinel/sentinel/internal/ingest"
)

const (
	maxChunkLimit = 1000

	// maxUploadBytes bounds in-memory buffering of uploaded sheets.
	maxUploadBytes = 32 << 20
)

// Server exposes the storage gateway over HTTP.
type Server struct {
	repo     storage.IncidentRepository
	exporter *ingest.Exporter
	server   *http.Server
}

// NewServer creates the gateway HTTP server.
func NewServer(repo storage.IncidentRepository, exporter *ingest.Exporter, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		repo:     repo,
		exporter: exporter,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /sheet/prepare", s.handlePrepare)
	mux.HandleFunc("POST /sheet/prepare-upload", s.handlePrepareUpload)
	mux.HandleFunc("GET /data/chunk/{document_id}", s.handleChunk)
	mux.HandleFunc("POST /data/save_classified_chunk", s.handleSaveChunk)
	mux.HandleFunc("POST /sheet/generate_final/{document_id}", s.handleGenerateFinal)
	mux.HandleFunc("GET /sheet/final/{document_id}", s.handleDownloadFinal)

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
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePrepare(w http.ResponseWriter, r *http.Request) {
	var req PrepareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FilePath == "" {
		writeError(w, http.StatusBadRequest, "file_path is required")
		return
	}

	documentID, imported, err := ingest.IngestFile(r.Context(), s.repo, req.FilePath)
	if err != nil {
		slog.Error("Failed to prepare sheet", "path", req.FilePath, "error", err)
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusBadRequest, "source file does not exist")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, PrepareResponse{DocumentID: documentID, RowsImported: imported})
}

// handlePrepareUpload ingests a CSV sent as multipart form data, for callers
// without access to the gateway's filesystem.
func (s *Server) handlePrepareUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	documentID, imported, err := ingest.IngestReader(r.Context(), s.repo, file, header.Filename)
	if err != nil {
		slog.Error("Failed to prepare uploaded sheet", "filename", header.Filename, "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, PrepareResponse{DocumentID: documentID, RowsImported: imported})
}

func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	documentID := r.PathValue("document_id")

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxChunkLimit {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be in [1,%d]", maxChunkLimit))
			return
		}
		limit = n
	}

	rows, err := s.repo.FetchUnclassifiedChunk(r.Context(), documentID, limit)
	if err != nil {
		slog.Error("Failed to fetch chunk", "document_id", documentID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := ChunkResponse{DocumentID: documentID, Items: make([]ChunkItem, 0, len(rows))}
	for i := range rows {
		resp.Items = append(resp.Items, chunkItemFromDomain(&rows[i]))
	}
	slog.Debug("Chunk served", "document_id", documentID, "rows", len(resp.Items))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSaveChunk(w http.ResponseWriter, r *http.Request) {
	var req SaveChunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DocumentID == "" || len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "document_id and items are required")
		return
	}
	if len(req.Items) > maxChunkLimit {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("batch exceeds %d items", maxChunkLimit))
		return
	}

	items := make([]storage.ClassifiedItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, storage.ClassifiedItem{
			RawIncidentID: it.RawIncidentID,
			Categoria:     it.Categoria,
			Subtipo:       it.Subtipo,
			Observaciones: it.Observaciones,
		})
	}

	saved, err := s.repo.InsertClassifiedBatch(r.Context(), req.DocumentID, items)
	if err != nil {
		slog.Error("Failed to save classified chunk", "document_id", req.DocumentID,
			"items", len(items), "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	slog.Info("Classified chunk saved", "document_id", req.DocumentID, "saved", saved)
	writeJSON(w, http.StatusOK, SaveChunkResponse{DocumentID: req.DocumentID, Saved: saved})
}

func (s *Server) handleGenerateFinal(w http.ResponseWriter, r *http.Request) {
	documentID := r.PathValue("document_id")

	path, rows, err := s.exporter.GenerateFinal(r.Context(), documentID)
	if err != nil {
		if errors.Is(err, storage.ErrDocumentNotFound) {
			writeError(w, http.StatusNotFound, "no rows for the given document_id")
			return
		}
		slog.Error("Failed to generate final export", "document_id", documentID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, GenerateFinalResponse{DocumentID: documentID, FilePath: path, Rows: rows})
}

func (s *Server) handleDownloadFinal(w http.ResponseWriter, r *http.Request) {
	documentID := r.PathValue("document_id")
	path := s.exporter.FinalPath(documentID)

	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "final export not found")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=final_%s.csv", documentID))
	http.ServeFile(w, r, path)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
