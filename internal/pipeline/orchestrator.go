// Package pipeline drives one document-classification run: a resumable,
// retrying chunk loop that pulls unclassified rows in bounded chunks, scores
// them against the rule set and persists the results atomically through the
// storage gateway.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/proyecto-sentinel/sentinel/internal/classify"
	"github.com/proyecto-sentinel/sentinel/internal/core/domain"
	"github.com/proyecto-sentinel/sentinel/internal/core/rules"
	"github.com/proyecto-sentinel/sentinel/internal/infra/gateway"
	"github.com/proyecto-sentinel/sentinel/internal/infra/storage"
	"github.com/proyecto-sentinel/sentinel/internal/metrics"
)

const (
	// MaxBatchSize bounds the per-call payload; larger requested batch
	// sizes are clamped, not rejected, inside the pipeline.
	MaxBatchSize = 1000

	// MaxTotalRows is the global safety ceiling per run, enforced by the
	// orchestrator itself so a run stays bounded even if storage never
	// signals exhaustion.
	MaxTotalRows = 100000

	// MaxBatchesHardCap bounds the batch count regardless of request.
	MaxBatchesHardCap = 500

	// DefaultBatchSize applies when a submission omits batch_size.
	DefaultBatchSize = 200

	maxChunkAttempts = 3
)

// Request describes one classification run.
type Request struct {
	DocumentID    string
	Strategy      domain.Strategy
	BatchSize     int
	MaxBatches    int // 0 derives from MaxTotalRows
	GenerateFinal bool
}

// Update is the progress snapshot emitted after every state change.
type Update struct {
	State          domain.TaskState
	Progress       float64
	CurrentBatch   int
	TotalProcessed int
}

// Sink receives progress updates. May be nil.
type Sink func(Update)

// ChunkError is the terminal error of a run whose chunk exhausted all retry
// attempts. Partial progress is informational only: a failed run must be
// re-submitted and will resume from true storage state.
type ChunkError struct {
	Batch     int
	Processed int
	Err       error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("batch %d failed after %d attempts (%d rows processed): %v",
		e.Batch, maxChunkAttempts, e.Processed, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// Config wires an orchestrator.
type Config struct {
	Gateway gateway.Gateway
	Rules   *rules.RuleSet

	// RetryBaseDelay is the first inter-attempt wait for a failed chunk;
	// it doubles per attempt (2s, 4s, 8s by default).
	RetryBaseDelay time.Duration
}

// Orchestrator is the pipeline driver. One orchestrator value is safe for
// concurrent runs; each run is strictly sequential internally.
type Orchestrator struct {
	cfg Config
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 2 * time.Second
	}
	return &Orchestrator{cfg: cfg}
}

// ClampBatchSize normalizes a requested batch size into [1, MaxBatchSize].
func ClampBatchSize(batchSize int) int {
	if batchSize <= 0 {
		return DefaultBatchSize
	}
	if batchSize > MaxBatchSize {
		slog.Warn("batch_size exceeds maximum, clamping", "requested", batchSize, "max", MaxBatchSize)
		return MaxBatchSize
	}
	return batchSize
}

// DeriveMaxBatches fills in a missing batch cap so an unconfigured run can
// never pass the global row ceiling: min(hard cap, MaxTotalRows/batch_size).
func DeriveMaxBatches(batchSize, maxBatches int) int {
	if maxBatches > MaxBatchesHardCap {
		slog.Warn("max_batches exceeds maximum, clamping", "requested", maxBatches, "max", MaxBatchesHardCap)
		return MaxBatchesHardCap
	}
	if maxBatches > 0 {
		return maxBatches
	}
	derived := MaxTotalRows / batchSize
	if derived > MaxBatchesHardCap {
		derived = MaxBatchesHardCap
	}
	slog.Info("max_batches derived from row ceiling", "max_batches", derived, "batch_size", batchSize)
	return derived
}

// Run executes the chunk loop until exhaustion, a cap, or a fatal chunk
// failure. Chunk failures return a *ChunkError; cancellation returns a plain
// error wrapping the context error, since no attempts were exhausted.
func (o *Orchestrator) Run(ctx context.Context, req Request, sink Sink) (*domain.RunResult, error) {
	batchSize := ClampBatchSize(req.BatchSize)
	maxBatches := DeriveMaxBatches(batchSize, req.MaxBatches)
	if req.Strategy == "" {
		req.Strategy = domain.StrategyRules
	}

	emit := func(u Update) {
		if sink != nil {
			sink(u)
		}
	}

	log := slog.With("document_id", req.DocumentID, "strategy", req.Strategy)
	log.Info("Classification run starting", "batch_size", batchSize, "max_batches", maxBatches)

	totalProcessed := 0
	batchCount := 0
	emit(Update{State: domain.TaskStateRunning})

	for {
		if err := ctx.Err(); err != nil {
			log.Warn("Run cancelled", "batch", batchCount+1, "total_processed", totalProcessed)
			return nil, fmt.Errorf("run cancelled before batch %d (%d rows processed): %w",
				batchCount+1, totalProcessed, err)
		}
		if batchCount >= maxBatches {
			log.Info("Batch cap reached", "max_batches", maxBatches)
			break
		}
		if totalProcessed >= MaxTotalRows {
			log.Warn("Row ceiling reached", "max_total_rows", MaxTotalRows)
			break
		}

		emit(Update{
			State:          domain.TaskStateRunning,
			Progress:       progressPercent(batchCount, maxBatches),
			CurrentBatch:   batchCount + 1,
			TotalProcessed: totalProcessed,
		})

		processed, err := o.processChunk(ctx, req, batchSize, batchCount+1)
		if err != nil {
			// Cancellation inside a chunk or its backoff is not a retry
			// exhaustion; report it as such.
			if ctx.Err() != nil {
				log.Warn("Run cancelled", "batch", batchCount+1, "total_processed", totalProcessed)
				return nil, fmt.Errorf("run cancelled during batch %d (%d rows processed): %w",
					batchCount+1, totalProcessed, ctx.Err())
			}
			chunkErr := &ChunkError{Batch: batchCount + 1, Processed: totalProcessed, Err: err}
			log.Error("Run failed", "batch", chunkErr.Batch, "total_processed", totalProcessed, "error", err)
			emit(Update{
				State:          domain.TaskStateFailure,
				Progress:       progressPercent(batchCount, maxBatches),
				CurrentBatch:   batchCount + 1,
				TotalProcessed: totalProcessed,
			})
			return nil, chunkErr
		}
		if processed == 0 {
			log.Info("Document exhausted", "total_processed", totalProcessed)
			break
		}

		totalProcessed += processed
		batchCount++
		metrics.ChunksProcessed.Inc()
		log.Info("Batch committed", "batch", batchCount, "rows", processed, "total_processed", totalProcessed)
	}

	// Export is best effort: classification already succeeded, so its
	// failure is logged and swallowed.
	if req.GenerateFinal {
		if err := o.cfg.Gateway.GenerateFinal(ctx, req.DocumentID); err != nil {
			log.Error("Final export failed", "error", err)
		} else {
			log.Info("Final export generated")
		}
	}

	result := &domain.RunResult{
		DocumentID:     req.DocumentID,
		TotalProcessed: totalProcessed,
		TotalBatches:   batchCount,
		Strategy:       string(req.Strategy),
		GenerateFinal:  req.GenerateFinal,
		Status:         "completed",
	}
	emit(Update{
		State:          domain.TaskStateSuccess,
		Progress:       100,
		CurrentBatch:   batchCount,
		TotalProcessed: totalProcessed,
	})
	log.Info("Classification run completed", "total_processed", totalProcessed, "total_batches", batchCount)
	return result, nil
}

// processChunk runs fetch -> classify -> persist for one chunk, retrying the
// whole sequence up to maxChunkAttempts with doubling backoff. Returns the
// number of rows committed, 0 when the document is exhausted.
func (o *Orchestrator) processChunk(ctx context.Context, req Request, batchSize, batch int) (int, error) {
	var lastErr error

	for attempt := 0; attempt < maxChunkAttempts; attempt++ {
		if attempt > 0 {
			metrics.ChunkRetries.Inc()
			delay := o.cfg.RetryBaseDelay << (attempt - 1)
			slog.Info("Retrying batch", "document_id", req.DocumentID, "batch", batch,
				"attempt", attempt+1, "backoff", delay)
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(delay):
			}
		}

		rows, err := o.cfg.Gateway.FetchUnclassifiedChunk(ctx, req.DocumentID, batchSize)
		if err != nil {
			lastErr = fmt.Errorf("fetch chunk: %w", err)
			continue
		}
		if len(rows) == 0 {
			return 0, nil
		}

		results := classify.Classify(rows, o.cfg.Rules, req.Strategy)
		items := make([]storage.ClassifiedItem, 0, len(results))
		for _, res := range results {
			items = append(items, storage.ClassifiedItem{
				RawIncidentID: res.RawIncidentID,
				Categoria:     res.Categoria,
				Subtipo:       res.Subtipo,
				Observaciones: res.Observaciones,
			})
		}

		if _, err := o.cfg.Gateway.SaveClassifiedBatch(ctx, req.DocumentID, items); err != nil {
			lastErr = fmt.Errorf("persist chunk of %d rows: %w", len(items), err)
			continue
		}

		metrics.RowsClassified.WithLabelValues(string(req.Strategy)).Add(float64(len(rows)))
		return len(rows), nil
	}

	return 0, lastErr
}

// progressPercent reserves the final 5% for completion so progress never
// reads 100 before the loop truly ends.
func progressPercent(batchCount, maxBatches int) float64 {
	div := maxBatches
	if div < 10 {
		div = 10
	}
	p := float64(batchCount) / float64(div) * 100
	if p > 95 {
		p = 95
	}
	return p
}
