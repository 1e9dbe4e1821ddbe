package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/proyecto-sentinel/sentinel/internal/infra/storage"
)

var finalHeader = []string{
	"A", "B", "C", "D", "E", "F", "G", "H", "I", "J", "K", "L", "M", "N", "O", "P", "Q",
	"CATEGORIA", "SUBTIPO", "OBSERVACIONES",
}

// Exporter writes the merged original+classified dataset. Export runs only
// after a classification run finishes; its failure never flips a successful
// run.
type Exporter struct {
	repo     storage.IncidentRepository
	finalDir string
}

// NewExporter creates an exporter writing to finalDir.
func NewExporter(repo storage.IncidentRepository, finalDir string) *Exporter {
	return &Exporter{repo: repo, finalDir: finalDir}
}

// FinalPath returns the output path for a document.
func (e *Exporter) FinalPath(documentID string) string {
	return filepath.Join(e.finalDir, fmt.Sprintf("final_%s.csv", documentID))
}

// GenerateFinal writes the merged dataset for a document, raw order
// preserved, classification columns empty for unclassified rows.
func (e *Exporter) GenerateFinal(ctx context.Context, documentID string) (string, int, error) {
	raws, err := e.repo.FetchRaws(ctx, documentID)
	if err != nil {
		return "", 0, fmt.Errorf("failed to fetch rows for export: %w", err)
	}
	if len(raws) == 0 {
		return "", 0, storage.ErrDocumentNotFound
	}

	classified, err := e.repo.FetchClassifiedMap(ctx, documentID)
	if err != nil {
		return "", 0, fmt.Errorf("failed to fetch classified rows for export: %w", err)
	}

	if err := os.MkdirAll(e.finalDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to create final dir: %w", err)
	}

	path := e.FinalPath(documentID)
	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create final file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(finalHeader); err != nil {
		return "", 0, fmt.Errorf("failed to write header: %w", err)
	}

	for i := range raws {
		raw := &raws[i]
		record := make([]string, 0, len(finalHeader))
		record = append(record, raw.Fields[:]...)

		if c, ok := classified[raw.ID]; ok {
			record = append(record, c.Categoria, c.Subtipo, c.Observaciones)
		} else {
			record = append(record, "", "", "")
		}
		if err := w.Write(record); err != nil {
			return "", 0, fmt.Errorf("failed to write row %d: %w", raw.RowIndex, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", 0, fmt.Errorf("failed to flush final file: %w", err)
	}

	slog.Info("Final export generated", "document_id", documentID, "path", path, "rows", len(raws))
	return path, len(raws), nil
}
