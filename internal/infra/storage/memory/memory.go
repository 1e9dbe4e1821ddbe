// Package memory provides an in-memory IncidentRepository. It backs db-less
// runs and tests, and mirrors the transactional semantics of the postgres
// implementation: idempotent inserts and all-or-nothing classified batches.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/proyecto-sentinel/sentinel/internal/core/domain"
	"github.com/proyecto-sentinel/sentinel/internal/infra/storage"
)

type rawKey struct {
	documentID string
	rowIndex   int
}

// Store is an in-memory incident store.
type Store struct {
	mu         sync.RWMutex
	nextRawID  int64
	nextClsID  int64
	raws       map[int64]*domain.RawIncident
	rawByKey   map[rawKey]int64
	classified map[int64]*domain.ClassifiedIncident // keyed by raw incident id
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		raws:       make(map[int64]*domain.RawIncident),
		rawByKey:   make(map[rawKey]int64),
		classified: make(map[int64]*domain.ClassifiedIncident),
	}
}

// InsertRaw stores a raw row, ignoring duplicates of (document_id, row_index).
func (s *Store) InsertRaw(ctx context.Context, row *domain.RawIncident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rawKey{documentID: row.DocumentID, rowIndex: row.RowIndex}
	if _, ok := s.rawByKey[key]; ok {
		return nil
	}

	s.nextRawID++
	stored := *row
	stored.ID = s.nextRawID
	stored.CreatedAt = time.Now()
	s.raws[stored.ID] = &stored
	s.rawByKey[key] = stored.ID
	return nil
}

// FetchUnclassifiedChunk returns up to limit unclassified rows, row_index asc.
func (s *Store) FetchUnclassifiedChunk(ctx context.Context, documentID string, limit int) ([]domain.RawIncident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []domain.RawIncident
	for _, r := range s.raws {
		if r.DocumentID != documentID {
			continue
		}
		if _, done := s.classified[r.ID]; done {
			continue
		}
		rows = append(rows, *r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].RowIndex < rows[j].RowIndex })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// InsertClassifiedBatch commits all items or none. An item referencing a
// missing raw row fails the whole batch; an item whose raw row is already
// classified counts as 0 saved.
func (s *Store) InsertClassifiedBatch(ctx context.Context, documentID string, items []storage.ClassifiedItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate the whole batch before touching state so a failure commits
	// nothing.
	for _, it := range items {
		raw, ok := s.raws[it.RawIncidentID]
		if !ok || raw.DocumentID != documentID {
			return 0, fmt.Errorf("%w: raw incident %d not found, batch of %d items",
				storage.ErrBatchRolledBack, it.RawIncidentID, len(items))
		}
	}

	saved := 0
	for _, it := range items {
		if _, dup := s.classified[it.RawIncidentID]; dup {
			continue
		}
		s.nextClsID++
		s.classified[it.RawIncidentID] = &domain.ClassifiedIncident{
			ID:            s.nextClsID,
			DocumentID:    documentID,
			RawIncidentID: it.RawIncidentID,
			Categoria:     it.Categoria,
			Subtipo:       it.Subtipo,
			Observaciones: it.Observaciones,
			CreatedAt:     time.Now(),
		}
		saved++
	}
	return saved, nil
}

// FetchRaws returns all rows of a document, row_index asc.
func (s *Store) FetchRaws(ctx context.Context, documentID string) ([]domain.RawIncident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []domain.RawIncident
	for _, r := range s.raws {
		if r.DocumentID == documentID {
			rows = append(rows, *r)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].RowIndex < rows[j].RowIndex })
	return rows, nil
}

// FetchClassifiedMap returns classified rows keyed by raw incident id.
func (s *Store) FetchClassifiedMap(ctx context.Context, documentID string) (map[int64]domain.ClassifiedIncident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int64]domain.ClassifiedIncident)
	for rawID, c := range s.classified {
		if c.DocumentID == documentID {
			out[rawID] = *c
		}
	}
	return out, nil
}

// CategoryBreakdown returns per-category counts, largest bucket first.
// Below-threshold rows keep their own bucket with an empty Categoria.
func (s *Store) CategoryBreakdown(ctx context.Context, documentID string) ([]storage.CategoryCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, c := range s.classified {
		if c.DocumentID == documentID {
			counts[c.Categoria]++
		}
	}

	out := make([]storage.CategoryCount, 0, len(counts))
	for cat, n := range counts {
		out = append(out, storage.CategoryCount{Categoria: cat, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Categoria < out[j].Categoria
	})
	return out, nil
}

// CountRaws returns the number of stored raw rows for a document.
func (s *Store) CountRaws(ctx context.Context, documentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, r := range s.raws {
		if r.DocumentID == documentID {
			n++
		}
	}
	return n, nil
}

// CountClassified returns the number of classified rows for a document.
func (s *Store) CountClassified(ctx context.Context, documentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, c := range s.classified {
		if c.DocumentID == documentID {
			n++
		}
	}
	return n, nil
}
