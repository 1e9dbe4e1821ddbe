package domain

import "time"

// NumRawColumns is the fixed arity of a raw incident row (columns A..Q of the
// source sheet).
const NumRawColumns = 17

// Document identifies one ingested dataset. Raw rows are appended at ingest
// time and never mutated afterwards.
type Document struct {
	ID         string
	SourcePath string
	CreatedAt  time.Time
}

// RawIncident is one immutable row of an ingested document.
// (DocumentID, RowIndex) is unique: re-ingesting the same row is a no-op.
type RawIncident struct {
	ID         int64
	DocumentID string
	RowIndex   int
	SourcePath string
	Fields     [NumRawColumns]string
	CreatedAt  time.Time
}

// ClassifiedIncident is the classifier output for exactly one raw row.
// RawIncidentID is unique: re-classifying an already classified row is a
// no-op, which is what makes chunk retries idempotent.
type ClassifiedIncident struct {
	ID            int64
	DocumentID    string
	RawIncidentID int64
	Categoria     string
	Subtipo       string
	Observaciones string
	CreatedAt     time.Time
}

// Classified reports whether the row received a category.
func (c *ClassifiedIncident) Classified() bool {
	return c.Categoria != ""
}
