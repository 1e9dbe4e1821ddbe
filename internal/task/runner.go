// Package task accepts classification submissions, validates them, and runs
// them asynchronously on a fixed worker pool, exposing polling state through a
// pluggable StateStore.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/proyecto-sentinel/sentinel/internal/core/domain"
	"github.com/proyecto-sentinel/sentinel/internal/metrics"
	"github.com/proyecto-sentinel/sentinel/internal/pipeline"
)

const (
	// DefaultWorkers is the worker pool size when unconfigured.
	DefaultWorkers = 4

	// MaxRequestedBatches caps max_batches at the submission surface. The
	// pipeline's own derivation may go higher when the field is omitted.
	MaxRequestedBatches = 100

	queueDepth = 64
)

// ErrQueueFull is returned when the submission queue is saturated.
var ErrQueueFull = errors.New("task queue full")

// ValidationError rejects a malformed submission. It maps to 400/422 at the
// HTTP surface.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// SubmitRequest is one classification submission. Zero values take defaults.
type SubmitRequest struct {
	DocumentID    string
	Strategy      string
	BatchSize     int
	MaxBatches    int // 0 = derive in the pipeline
	GenerateFinal bool
}

func (r *SubmitRequest) validate() (domain.Strategy, error) {
	if r.DocumentID == "" {
		return "", &ValidationError{Field: "document_id", Reason: "must not be empty"}
	}
	strategy, err := domain.ParseStrategy(r.Strategy)
	if err != nil {
		return "", &ValidationError{Field: "strategy", Reason: err.Error()}
	}
	if r.BatchSize == 0 {
		r.BatchSize = pipeline.DefaultBatchSize
	}
	if r.BatchSize < 1 || r.BatchSize > pipeline.MaxBatchSize {
		return "", &ValidationError{
			Field:  "batch_size",
			Reason: fmt.Sprintf("must be between 1 and %d", pipeline.MaxBatchSize),
		}
	}
	if r.MaxBatches != 0 {
		if r.MaxBatches < 1 || r.MaxBatches > MaxRequestedBatches {
			return "", &ValidationError{
				Field:  "max_batches",
				Reason: fmt.Sprintf("must be between 1 and %d", MaxRequestedBatches),
			}
		}
		if r.BatchSize*r.MaxBatches > pipeline.MaxTotalRows {
			return "", &ValidationError{
				Field:  "max_batches",
				Reason: fmt.Sprintf("batch_size*max_batches exceeds the %d row limit", pipeline.MaxTotalRows),
			}
		}
	}
	return strategy, nil
}

// Counter exposes stored row counts for the document progress view. Optional:
// nil when the runner has no storage access of its own.
type Counter interface {
	CountRaws(ctx context.Context, documentID string) (int, error)
	CountClassified(ctx context.Context, documentID string) (int, error)
}

// DocumentProgress aggregates every retained task of one document.
type DocumentProgress struct {
	DocumentID     string                       `json:"document_id"`
	ActiveTasks    int                          `json:"active_tasks"`
	TotalRows      int                          `json:"total_rows,omitempty"`
	ClassifiedRows int                          `json:"classified_rows,omitempty"`
	Tasks          []*domain.ClassificationTask `json:"tasks"`
}

// Runner owns the worker pool and the task state store.
type Runner struct {
	orch    *pipeline.Orchestrator
	store   StateStore
	counter Counter

	jobs chan *domain.ClassificationTask
	wg   sync.WaitGroup

	mu       sync.Mutex
	started  bool
	docLocks map[string]*sync.Mutex
}

// NewRunner creates a runner. counter may be nil.
func NewRunner(orch *pipeline.Orchestrator, store StateStore, counter Counter) *Runner {
	return &Runner{
		orch:     orch,
		store:    store,
		counter:  counter,
		jobs:     make(chan *domain.ClassificationTask, queueDepth),
		docLocks: make(map[string]*sync.Mutex),
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled and the
// queue drains, or immediately on Stop.
func (r *Runner) Start(ctx context.Context, workers int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	if workers <= 0 {
		workers = DefaultWorkers
	}
	slog.Info("Task runner starting", "workers", workers)
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
}

// Stop closes the queue and waits for in-flight runs to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	r.mu.Unlock()

	close(r.jobs)
	r.wg.Wait()
	slog.Info("Task runner stopped")
}

// Submit validates the request, persists the task in its initial state, and
// enqueues it. The returned task is an immediate polling handle; the run
// itself happens on a worker.
func (r *Runner) Submit(ctx context.Context, req SubmitRequest) (*domain.ClassificationTask, error) {
	strategy, err := req.validate()
	if err != nil {
		return nil, err
	}

	t := &domain.ClassificationTask{
		ID:            uuid.NewString(),
		DocumentID:    req.DocumentID,
		Strategy:      strategy,
		BatchSize:     req.BatchSize,
		MaxBatches:    req.MaxBatches,
		GenerateFinal: req.GenerateFinal,
		State:         domain.TaskStateInit,
		CreatedAt:     time.Now().UTC(),
	}
	if err := r.store.Save(ctx, t); err != nil {
		return nil, fmt.Errorf("save task: %w", err)
	}

	select {
	case r.jobs <- t:
	default:
		t.State = domain.TaskStateFailure
		t.Error = ErrQueueFull.Error()
		if saveErr := r.store.Save(ctx, t); saveErr != nil {
			slog.Error("Failed to record rejected task", "task_id", t.ID, "error", saveErr)
		}
		return nil, ErrQueueFull
	}

	slog.Info("Task enqueued", "task_id", t.ID, "document_id", t.DocumentID,
		"strategy", t.Strategy, "batch_size", t.BatchSize)

	// The worker goroutine keeps mutating t through the progress sink; hand
	// the caller a snapshot so polling the handle never races with the run.
	handle := *t
	return &handle, nil
}

// Status returns the current task snapshot.
func (r *Runner) Status(ctx context.Context, taskID string) (*domain.ClassificationTask, error) {
	return r.store.Get(ctx, taskID)
}

// DocumentProgress aggregates all retained tasks of a document, newest first,
// plus stored counts when a Counter is wired.
func (r *Runner) DocumentProgress(ctx context.Context, documentID string) (*DocumentProgress, error) {
	ids, err := r.store.TasksForDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	dp := &DocumentProgress{DocumentID: documentID, Tasks: make([]*domain.ClassificationTask, 0, len(ids))}
	for _, id := range ids {
		t, err := r.store.Get(ctx, id)
		if errors.Is(err, ErrTaskNotFound) {
			continue // expired between listing and lookup
		}
		if err != nil {
			return nil, err
		}
		dp.Tasks = append(dp.Tasks, t)
		if !t.State.Terminal() {
			dp.ActiveTasks++
		}
	}

	if r.counter != nil {
		if dp.TotalRows, err = r.counter.CountRaws(ctx, documentID); err != nil {
			return nil, fmt.Errorf("count raws: %w", err)
		}
		if dp.ClassifiedRows, err = r.counter.CountClassified(ctx, documentID); err != nil {
			return nil, fmt.Errorf("count classified: %w", err)
		}
	}
	return dp, nil
}

func (r *Runner) worker(ctx context.Context) {
	defer r.wg.Done()
	for t := range r.jobs {
		if ctx.Err() != nil {
			t.State = domain.TaskStateFailure
			t.Error = "shutdown before run started"
			r.save(t)
			continue
		}
		lock := r.docLock(t.DocumentID)
		lock.Lock()
		r.run(ctx, t)
		lock.Unlock()
	}
}

// docLock serializes runs that target the same document. Persistence is
// idempotent either way, but concurrent runs would fetch and classify the
// same chunks twice.
func (r *Runner) docLock(documentID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.docLocks[documentID]
	if !ok {
		l = &sync.Mutex{}
		r.docLocks[documentID] = l
	}
	return l
}

func (r *Runner) run(ctx context.Context, t *domain.ClassificationTask) {
	metrics.TasksActive.Inc()
	defer metrics.TasksActive.Dec()

	log := slog.With("task_id", t.ID, "document_id", t.DocumentID)
	log.Info("Task starting")

	sink := func(u pipeline.Update) {
		t.State = u.State
		t.Progress = u.Progress
		t.CurrentBatch = u.CurrentBatch
		t.TotalProcessed = u.TotalProcessed
		r.save(t)
	}

	result, err := r.orch.Run(ctx, pipeline.Request{
		DocumentID:    t.DocumentID,
		Strategy:      t.Strategy,
		BatchSize:     t.BatchSize,
		MaxBatches:    t.MaxBatches,
		GenerateFinal: t.GenerateFinal,
	}, sink)
	if err != nil {
		t.State = domain.TaskStateFailure
		t.Error = err.Error()
		r.save(t)
		metrics.TasksFinished.WithLabelValues(string(domain.TaskStateFailure)).Inc()
		log.Error("Task failed", "error", err)
		return
	}

	t.State = domain.TaskStateSuccess
	t.Progress = 100
	t.TotalProcessed = result.TotalProcessed
	t.Result = result
	r.save(t)
	metrics.TasksFinished.WithLabelValues(string(domain.TaskStateSuccess)).Inc()
	log.Info("Task completed", "total_processed", result.TotalProcessed, "total_batches", result.TotalBatches)
}

// save persists a snapshot outside the request path; failures are logged, not
// fatal, so a flaky state store cannot kill a healthy run.
func (r *Runner) save(t *domain.ClassificationTask) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.Save(ctx, t); err != nil {
		slog.Error("Failed to persist task state", "task_id", t.ID, "error", err)
	}
}
