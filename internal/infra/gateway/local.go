package gateway

import (
	"context"

	"github.com/proyecto-sentinel/sentinel/internal/core/domain"
	"github.com/proyecto-sentinel/sentinel/internal/infra/storage"
	"github.com/proyecto-sentinel/sentinel/internal/ingest"
)

// Local runs the gateway operations in-process, skipping the HTTP hop. Used
// when classifier and storage share a deployment, and by tests.
type Local struct {
	repo     storage.IncidentRepository
	exporter *ingest.Exporter
}

// NewLocal creates an in-process gateway.
func NewLocal(repo storage.IncidentRepository, exporter *ingest.Exporter) *Local {
	return &Local{repo: repo, exporter: exporter}
}

// FetchUnclassifiedChunk returns the next unclassified chunk.
func (l *Local) FetchUnclassifiedChunk(ctx context.Context, documentID string, limit int) ([]domain.RawIncident, error) {
	return l.repo.FetchUnclassifiedChunk(ctx, documentID, limit)
}

// SaveClassifiedBatch persists one classified chunk atomically.
func (l *Local) SaveClassifiedBatch(ctx context.Context, documentID string, items []storage.ClassifiedItem) (int, error) {
	return l.repo.InsertClassifiedBatch(ctx, documentID, items)
}

// GenerateFinal writes the merged export.
func (l *Local) GenerateFinal(ctx context.Context, documentID string) error {
	_, _, err := l.exporter.GenerateFinal(ctx, documentID)
	return err
}
