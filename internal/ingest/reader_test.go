package ingest

import (
	"context"
	"strings"
	"testing"

	"github.com/proyecto-sentinel/sentinel/internal/infra/storage/memory"
)

const csvHeader = "a,b,c,d,e,f,g,h,i,j,k,l,m,n,o,p,q\n"

func TestIngestReader(t *testing.T) {
	store := memory.NewStore()
	src := csvHeader +
		"1,2,3,4,5,6,7,8,9,10,11,12,13,14,15,16,17\n" +
		",,,,,,,,,,,,,,,,\n" + // blank row is skipped
		"x, padded ,z,,,,,,,,,,,,,,\n"

	documentID, imported, err := IngestReader(context.Background(), store, strings.NewReader(src), "source.csv")
	if err != nil {
		t.Fatalf("IngestReader failed: %v", err)
	}
	if imported != 2 {
		t.Fatalf("Expected 2 imported rows, got %d", imported)
	}

	rows, err := store.FetchRaws(context.Background(), documentID)
	if err != nil {
		t.Fatalf("FetchRaws failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 stored rows, got %d", len(rows))
	}

	// Row indexes follow source line numbers; data starts on line 2 and the
	// blank line still advances the counter.
	if rows[0].RowIndex != 2 || rows[1].RowIndex != 4 {
		t.Errorf("Expected row indexes 2 and 4, got %d and %d", rows[0].RowIndex, rows[1].RowIndex)
	}
	if rows[1].Fields[1] != "padded" {
		t.Errorf("Expected trimmed field, got %q", rows[1].Fields[1])
	}
	if rows[0].SourcePath != "source.csv" {
		t.Errorf("Expected source path recorded, got %q", rows[0].SourcePath)
	}
}

func TestIngestReader_TooFewColumns(t *testing.T) {
	store := memory.NewStore()
	src := "a,b,c\n1,2,3\n"

	_, _, err := IngestReader(context.Background(), store, strings.NewReader(src), "source.csv")
	if err == nil {
		t.Fatal("Expected error for narrow header")
	}
	if !strings.Contains(err.Error(), "columns") {
		t.Errorf("Error should mention columns: %v", err)
	}
}

func TestIngestReader_ExtraColumnsIgnored(t *testing.T) {
	store := memory.NewStore()
	src := csvHeader[:len(csvHeader)-1] + ",extra\n" +
		"1,2,3,4,5,6,7,8,9,10,11,12,13,14,15,16,17,18\n"

	documentID, imported, err := IngestReader(context.Background(), store, strings.NewReader(src), "source.csv")
	if err != nil {
		t.Fatalf("IngestReader failed: %v", err)
	}
	if imported != 1 {
		t.Fatalf("Expected 1 imported row, got %d", imported)
	}

	rows, _ := store.FetchRaws(context.Background(), documentID)
	if rows[0].Fields[16] != "17" {
		t.Errorf("Expected last kept column 17, got %q", rows[0].Fields[16])
	}
}
