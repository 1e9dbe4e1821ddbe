package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/proyecto-sentinel/sentinel/internal/core/domain"
	"github.com/proyecto-sentinel/sentinel/internal/core/rules"
	"github.com/proyecto-sentinel/sentinel/internal/infra/storage"
)

// fakeGateway serves rows from a slice and records calls, with injectable
// failures per operation.
type fakeGateway struct {
	unclassified []domain.RawIncident
	saved        int

	fetchCalls  int
	saveCalls   int
	failSaves   int // fail this many save calls before succeeding
	failFetches int
	finalCalls  int
	finalErr    error
}

func (f *fakeGateway) FetchUnclassifiedChunk(_ context.Context, _ string, limit int) ([]domain.RawIncident, error) {
	f.fetchCalls++
	if f.failFetches > 0 {
		f.failFetches--
		return nil, errors.New("storage unavailable")
	}
	if limit > len(f.unclassified) {
		limit = len(f.unclassified)
	}
	chunk := make([]domain.RawIncident, limit)
	copy(chunk, f.unclassified[:limit])
	return chunk, nil
}

func (f *fakeGateway) SaveClassifiedBatch(_ context.Context, _ string, items []storage.ClassifiedItem) (int, error) {
	f.saveCalls++
	if f.failSaves > 0 {
		f.failSaves--
		return 0, errors.New("batch rolled back")
	}
	f.unclassified = f.unclassified[len(items):]
	f.saved += len(items)
	return len(items), nil
}

func (f *fakeGateway) GenerateFinal(context.Context, string) error {
	f.finalCalls++
	return f.finalErr
}

func makeRows(n int) []domain.RawIncident {
	rows := make([]domain.RawIncident, n)
	for i := range rows {
		rows[i].ID = int64(i + 1)
		rows[i].RowIndex = i + 2
		rows[i].Fields[0] = fmt.Sprintf("acta %d robo", i)
	}
	return rows
}

func testOrchestrator(t *testing.T, gw *fakeGateway) *Orchestrator {
	t.Helper()
	rs, err := rules.Parse([]byte(`{"delitos": [{"calificacion": "ROBO"}]}`))
	if err != nil {
		t.Fatalf("Failed to parse rules: %v", err)
	}
	return New(Config{Gateway: gw, Rules: rs, RetryBaseDelay: time.Millisecond})
}

func TestRun_ProcessesAllChunks(t *testing.T) {
	gw := &fakeGateway{unclassified: makeRows(250)}
	o := testOrchestrator(t, gw)

	var updates []Update
	result, err := o.Run(context.Background(), Request{
		DocumentID: "doc-1",
		BatchSize:  100,
	}, func(u Update) { updates = append(updates, u) })
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.TotalProcessed != 250 {
		t.Errorf("Expected 250 processed, got %d", result.TotalProcessed)
	}
	if result.TotalBatches != 3 {
		t.Errorf("Expected 3 batches, got %d", result.TotalBatches)
	}
	if result.Status != "completed" {
		t.Errorf("Expected completed, got %q", result.Status)
	}
	if gw.saved != 250 {
		t.Errorf("Expected 250 saved rows, got %d", gw.saved)
	}

	last := updates[len(updates)-1]
	if last.State != domain.TaskStateSuccess || last.Progress != 100 {
		t.Errorf("Expected terminal success at 100%%, got %s at %v", last.State, last.Progress)
	}
	for _, u := range updates[:len(updates)-1] {
		if u.Progress > 95 {
			t.Errorf("Non-terminal progress exceeded 95: %v", u.Progress)
		}
	}
}

func TestRun_MaxBatchesCap(t *testing.T) {
	gw := &fakeGateway{unclassified: makeRows(10)}
	o := testOrchestrator(t, gw)

	result, err := o.Run(context.Background(), Request{
		DocumentID: "doc-1",
		BatchSize:  3,
		MaxBatches: 2,
	}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.TotalBatches != 2 {
		t.Errorf("Expected 2 batches, got %d", result.TotalBatches)
	}
	if result.TotalProcessed != 6 {
		t.Errorf("Expected 6 processed, got %d", result.TotalProcessed)
	}
	if len(gw.unclassified) != 4 {
		t.Errorf("Expected 4 rows left unclassified, got %d", len(gw.unclassified))
	}
}

func TestRun_RetriesThenRecovers(t *testing.T) {
	gw := &fakeGateway{unclassified: makeRows(5), failSaves: 2}
	o := testOrchestrator(t, gw)

	result, err := o.Run(context.Background(), Request{DocumentID: "doc-1", BatchSize: 5}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.TotalProcessed != 5 {
		t.Errorf("Expected 5 processed, got %d", result.TotalProcessed)
	}
	// Two failed attempts plus the successful third.
	if gw.saveCalls != 3 {
		t.Errorf("Expected 3 save attempts, got %d", gw.saveCalls)
	}
}

func TestRun_FetchRetry(t *testing.T) {
	gw := &fakeGateway{unclassified: makeRows(2), failFetches: 1}
	o := testOrchestrator(t, gw)

	result, err := o.Run(context.Background(), Request{DocumentID: "doc-1", BatchSize: 5}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.TotalProcessed != 2 {
		t.Errorf("Expected 2 processed, got %d", result.TotalProcessed)
	}
	// Failed fetch, successful refetch, then the exhaustion probe.
	if gw.fetchCalls != 3 {
		t.Errorf("Expected 3 fetch calls, got %d", gw.fetchCalls)
	}
}

func TestRun_FailsAfterExhaustedRetries(t *testing.T) {
	gw := &fakeGateway{unclassified: makeRows(5), failSaves: 100}
	o := testOrchestrator(t, gw)

	var last Update
	_, err := o.Run(context.Background(), Request{DocumentID: "doc-1", BatchSize: 5},
		func(u Update) { last = u })
	if err == nil {
		t.Fatal("Expected run failure")
	}

	var chunkErr *ChunkError
	if !errors.As(err, &chunkErr) {
		t.Fatalf("Expected ChunkError, got %T: %v", err, err)
	}
	if chunkErr.Batch != 1 {
		t.Errorf("Expected failure on batch 1, got %d", chunkErr.Batch)
	}
	if gw.saveCalls != 3 {
		t.Errorf("Expected exactly 3 save attempts, got %d", gw.saveCalls)
	}
	if last.State != domain.TaskStateFailure {
		t.Errorf("Expected terminal failure state, got %s", last.State)
	}
	if gw.finalCalls != 0 {
		t.Error("Export must not run after a failed run")
	}
}

func TestRun_GenerateFinalBestEffort(t *testing.T) {
	gw := &fakeGateway{unclassified: makeRows(3), finalErr: errors.New("disk full")}
	o := testOrchestrator(t, gw)

	result, err := o.Run(context.Background(), Request{
		DocumentID:    "doc-1",
		BatchSize:     10,
		GenerateFinal: true,
	}, nil)
	if err != nil {
		t.Fatalf("Run failed despite best-effort export: %v", err)
	}
	if gw.finalCalls != 1 {
		t.Errorf("Expected 1 export call, got %d", gw.finalCalls)
	}
	if result.Status != "completed" {
		t.Errorf("Expected completed, got %q", result.Status)
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	gw := &fakeGateway{unclassified: makeRows(5)}
	o := testOrchestrator(t, gw)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Run(ctx, Request{DocumentID: "doc-1", BatchSize: 5}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	// No attempts ran, so the error must not read as exhausted retries.
	var chunkErr *ChunkError
	if errors.As(err, &chunkErr) {
		t.Errorf("Cancellation reported as chunk failure: %v", err)
	}
	if gw.fetchCalls != 0 {
		t.Errorf("Expected 0 fetch calls, got %d", gw.fetchCalls)
	}
}

func TestRun_CancelDuringRetryBackoff(t *testing.T) {
	gw := &fakeGateway{unclassified: makeRows(5), failFetches: 100}
	rs, err := rules.Parse([]byte(`{"delitos": [{"calificacion": "ROBO"}]}`))
	if err != nil {
		t.Fatalf("Failed to parse rules: %v", err)
	}
	o := New(Config{Gateway: gw, Rules: rs, RetryBaseDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = o.Run(ctx, Request{DocumentID: "doc-1", BatchSize: 5}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	var chunkErr *ChunkError
	if errors.As(err, &chunkErr) {
		t.Errorf("Cancellation reported as chunk failure: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Cancellation did not interrupt backoff, took %v", elapsed)
	}
}

func TestClampBatchSize(t *testing.T) {
	if got := ClampBatchSize(0); got != DefaultBatchSize {
		t.Errorf("Expected default %d, got %d", DefaultBatchSize, got)
	}
	if got := ClampBatchSize(2000); got != MaxBatchSize {
		t.Errorf("Expected clamp to %d, got %d", MaxBatchSize, got)
	}
	if got := ClampBatchSize(50); got != 50 {
		t.Errorf("Expected 50, got %d", got)
	}
}

func TestDeriveMaxBatches(t *testing.T) {
	// Explicit value passes through.
	if got := DeriveMaxBatches(200, 7); got != 7 {
		t.Errorf("Expected 7, got %d", got)
	}
	// Derived from the row ceiling.
	if got := DeriveMaxBatches(1000, 0); got != 100 {
		t.Errorf("Expected 100, got %d", got)
	}
	// Derivation clamps to the hard cap.
	if got := DeriveMaxBatches(100, 0); got != MaxBatchesHardCap {
		t.Errorf("Expected %d, got %d", MaxBatchesHardCap, got)
	}
	// Explicit values clamp too.
	if got := DeriveMaxBatches(10, 600); got != MaxBatchesHardCap {
		t.Errorf("Expected %d, got %d", MaxBatchesHardCap, got)
	}
}
