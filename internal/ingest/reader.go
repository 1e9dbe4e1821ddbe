// Package ingest feeds source files into the storage gateway and re-exports
// the merged dataset. Row order and row indexes always follow the source
// file, so re-ingesting a file is idempotent at the row level.
package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/proyecto-sentinel/sentinel/internal/core/domain"
	"github.com/proyecto-sentinel/sentinel/internal/infra/storage"
)

// IngestFile reads a CSV file and persists its rows as raw incidents under a
// fresh document id. The first line is treated as the header; rows keep
// their original line numbers as row_index.
func IngestFile(ctx context.Context, repo storage.IncidentRepository, path string) (string, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open source file: %w", err)
	}
	defer f.Close()

	return IngestReader(ctx, repo, f, path)
}

// IngestReader persists the rows of r. sourcePath is recorded on every row
// for audit purposes only.
func IngestReader(ctx context.Context, repo storage.IncidentRepository, r io.Reader, sourcePath string) (string, int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return "", 0, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) < domain.NumRawColumns {
		return "", 0, fmt.Errorf("source file has %d columns, need at least %d", len(header), domain.NumRawColumns)
	}

	documentID := uuid.NewString()
	imported := 0
	line := 1

	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", 0, fmt.Errorf("failed to read row %d: %w", line+1, err)
		}
		line++

		if emptyRecord(record) {
			continue
		}

		row := domain.RawIncident{
			DocumentID: documentID,
			RowIndex:   line,
			SourcePath: sourcePath,
		}
		for i := 0; i < domain.NumRawColumns && i < len(record); i++ {
			row.Fields[i] = strings.TrimSpace(record[i])
		}

		if err := repo.InsertRaw(ctx, &row); err != nil {
			return "", 0, fmt.Errorf("failed to store row %d: %w", line, err)
		}
		imported++
	}

	slog.Info("Document ingested", "document_id", documentID, "rows_imported", imported, "source", sourcePath)
	return documentID, imported, nil
}

func emptyRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
