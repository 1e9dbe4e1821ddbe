package storage

import (
	"context"
	"errors"

	"github.com/proyecto-sentinel/sentinel/internal/core/domain"
)

var (
	// ErrDocumentNotFound is returned when a document has no stored rows.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrBatchRolledBack wraps any failure inside an atomic classified
	// batch insert: zero items of the batch were committed.
	ErrBatchRolledBack = errors.New("classified batch rolled back")
)

// CategoryCount is one bucket of a document's classification breakdown.
// Categoria is empty for rows that stayed below the scoring threshold.
type CategoryCount struct {
	Categoria string
	Count     int
}

// ClassifiedItem is one classifier output being persisted for a raw row.
type ClassifiedItem struct {
	RawIncidentID int64
	Categoria     string
	Subtipo       string
	Observaciones string
}

// IncidentRepository is the storage gateway contract. The combination of
// idempotent raw insert, idempotent-per-item classified insert and atomic
// batch commit is what makes chunk-level retries safe.
type IncidentRepository interface {
	// InsertRaw stores one raw row. If (document_id, row_index) already
	// exists the call is a no-op, not an error.
	InsertRaw(ctx context.Context, row *domain.RawIncident) error

	// FetchUnclassifiedChunk returns up to limit raw rows of the document
	// that have no classified counterpart, ascending row_index. The chunk
	// is recomputed from current state on every call, which is what makes
	// a run resumable.
	FetchUnclassifiedChunk(ctx context.Context, documentID string, limit int) ([]domain.RawIncident, error)

	// InsertClassifiedBatch commits all items in one transaction: either
	// every item is durable or none are. Items whose raw row is already
	// classified count as 0 saved. On failure the whole batch rolls back
	// and the error wraps ErrBatchRolledBack with the attempted size.
	InsertClassifiedBatch(ctx context.Context, documentID string, items []ClassifiedItem) (int, error)

	// FetchRaws returns every raw row of the document ascending row_index.
	// Used only by export, never by the chunk loop.
	FetchRaws(ctx context.Context, documentID string) ([]domain.RawIncident, error)

	// FetchClassifiedMap returns the document's classified rows keyed by
	// raw incident id. Used only by export.
	FetchClassifiedMap(ctx context.Context, documentID string) (map[int64]domain.ClassifiedIncident, error)

	// CountRaws and CountClassified back the document progress view.
	CountRaws(ctx context.Context, documentID string) (int, error)
	CountClassified(ctx context.Context, documentID string) (int, error)

	// CategoryBreakdown returns per-category row counts for a document,
	// largest bucket first. Rows persisted without a category (score below
	// threshold) form their own bucket with an empty Categoria.
	CategoryBreakdown(ctx context.Context, documentID string) ([]CategoryCount, error)
}
