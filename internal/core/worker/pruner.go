// Package worker holds background maintenance loops.
package worker

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Pruner deletes old final export files based on retention policy.
type Pruner struct {
	dir       string
	retention time.Duration
}

// NewPruner creates a new Pruner worker. retention <= 0 disables it.
func NewPruner(dir string, retention time.Duration) *Pruner {
	return &Pruner{dir: dir, retention: retention}
}

// Start runs the pruner loop.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	// Check interval: 10% of retention period, clamped to [1m, 1h]
	interval := min(p.retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial prune
	p.prune()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune()
		}
	}
}

func (p *Pruner) prune() {
	threshold := time.Now().Add(-p.retention)

	entries, err := os.ReadDir(p.dir)
	if err != nil {
		slog.Error("Failed to read export directory", "dir", p.dir, "error", err)
		return
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "final_") || !strings.HasSuffix(e.Name(), ".csv") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(threshold) {
			continue
		}
		if err := os.Remove(filepath.Join(p.dir, e.Name())); err != nil {
			slog.Error("Failed to prune export", "file", e.Name(), "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("Pruned old exports", "dir", p.dir, "removed", removed)
	}
}
