// Package gateway exposes the storage service over HTTP and provides the
// retrying client the pipeline uses to reach it. Both ends share the wire
// types below.
package gateway

import (
	"context"

	"github.com/proyecto-sentinel/sentinel/internal/core/domain"
	"github.com/proyecto-sentinel/sentinel/internal/infra/storage"
)

// Gateway is the persistence boundary the batch orchestrator consumes. Remote
// (HTTP) and local (in-process) implementations exist; the orchestrator never
// knows which one it talks to.
type Gateway interface {
	FetchUnclassifiedChunk(ctx context.Context, documentID string, limit int) ([]domain.RawIncident, error)
	SaveClassifiedBatch(ctx context.Context, documentID string, items []storage.ClassifiedItem) (int, error)
	GenerateFinal(ctx context.Context, documentID string) error
}

// PrepareRequest asks the gateway to ingest a source file by path.
type PrepareRequest struct {
	FilePath string `json:"file_path"`
}

// PrepareResponse reports the ingested dataset.
type PrepareResponse struct {
	DocumentID   string `json:"document_id"`
	RowsImported int    `json:"rows_imported"`
}

// ChunkItem is one raw row on the wire.
type ChunkItem struct {
	ID       int64    `json:"id"`
	RowIndex int      `json:"row_index"`
	Fields   []string `json:"fields"`
}

// ChunkResponse carries one unclassified chunk.
type ChunkResponse struct {
	DocumentID string      `json:"document_id"`
	Items      []ChunkItem `json:"items"`
}

// ClassifiedItem is one classified row on the wire.
type ClassifiedItem struct {
	RawIncidentID int64  `json:"raw_incident_id"`
	Categoria     string `json:"categoria,omitempty"`
	Subtipo       string `json:"subtipo,omitempty"`
	Observaciones string `json:"observaciones"`
}

// SaveChunkRequest persists one classified chunk atomically.
type SaveChunkRequest struct {
	DocumentID string           `json:"document_id"`
	Items      []ClassifiedItem `json:"items"`
}

// SaveChunkResponse reports how many items were newly saved. Re-submitted
// items count as zero.
type SaveChunkResponse struct {
	DocumentID string `json:"document_id"`
	Saved      int    `json:"saved"`
}

// GenerateFinalResponse reports a completed export.
type GenerateFinalResponse struct {
	DocumentID string `json:"document_id"`
	FilePath   string `json:"file_path"`
	Rows       int    `json:"rows"`
}

func chunkItemFromDomain(r *domain.RawIncident) ChunkItem {
	return ChunkItem{
		ID:       r.ID,
		RowIndex: r.RowIndex,
		Fields:   append([]string(nil), r.Fields[:]...),
	}
}

func (it *ChunkItem) toDomain(documentID string) domain.RawIncident {
	out := domain.RawIncident{
		ID:         it.ID,
		DocumentID: documentID,
		RowIndex:   it.RowIndex,
	}
	for i := 0; i < domain.NumRawColumns && i < len(it.Fields); i++ {
		out.Fields[i] = it.Fields[i]
	}
	return out
}
