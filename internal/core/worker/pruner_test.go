package worker

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPrune_RemovesOnlyOldExports(t *testing.T) {
	dir := t.TempDir()

	old := filepath.Join(dir, "final_old.csv")
	fresh := filepath.Join(dir, "final_fresh.csv")
	other := filepath.Join(dir, "notes.txt")
	for _, p := range []string{old, fresh, other} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", p, err)
		}
	}
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatalf("Failed to age file: %v", err)
	}
	if err := os.Chtimes(other, past, past); err != nil {
		t.Fatalf("Failed to age file: %v", err)
	}

	p := NewPruner(dir, time.Hour)
	p.prune()

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("Expected old export removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("Expected fresh export kept")
	}
	if _, err := os.Stat(other); err != nil {
		t.Error("Expected non-export file kept")
	}
}
