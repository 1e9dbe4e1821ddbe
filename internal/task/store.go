package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/proyecto-sentinel/sentinel/internal/core/domain"
)

// ErrTaskNotFound is returned when a task id is unknown or expired.
var ErrTaskNotFound = errors.New("task not found")

// StateStore persists polling state for submitted runs. Implementations must
// tolerate concurrent Save calls for distinct tasks.
type StateStore interface {
	Save(ctx context.Context, t *domain.ClassificationTask) error
	Get(ctx context.Context, taskID string) (*domain.ClassificationTask, error)
	// TasksForDocument returns the ids of all retained tasks for a document,
	// most recent first.
	TasksForDocument(ctx context.Context, documentID string) ([]string, error)
}

// MemoryStore is the in-process StateStore used for single-node deployments
// and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]domain.ClassificationTask
	byDoc map[string][]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]domain.ClassificationTask),
		byDoc: make(map[string][]string),
	}
}

// Save upserts a task snapshot.
func (s *MemoryStore) Save(_ context.Context, t *domain.ClassificationTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.tasks[t.ID]
	cp := *t
	cp.UpdatedAt = time.Now().UTC()
	s.tasks[t.ID] = cp
	if !existed {
		s.byDoc[t.DocumentID] = append([]string{t.ID}, s.byDoc[t.DocumentID]...)
	}
	return nil
}

// Get returns a copy of the task snapshot.
func (s *MemoryStore) Get(_ context.Context, taskID string) (*domain.ClassificationTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	cp := t
	return &cp, nil
}

// TasksForDocument lists retained task ids for a document, newest first.
func (s *MemoryStore) TasksForDocument(_ context.Context, documentID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byDoc[documentID]
	out := make([]string, len(ids))
	copy(out, ids)
	return out, nil
}
