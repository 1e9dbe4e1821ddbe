package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/proyecto-sentinel/sentinel/internal/core/domain"
	"github.com/proyecto-sentinel/sentinel/internal/core/rules"
	"github.com/proyecto-sentinel/sentinel/internal/infra/gateway"
	"github.com/proyecto-sentinel/sentinel/internal/infra/storage/memory"
	"github.com/proyecto-sentinel/sentinel/internal/ingest"
	"github.com/proyecto-sentinel/sentinel/internal/pipeline"
)

func testRunner(t *testing.T, store *memory.Store) *Runner {
	t.Helper()

	rs, err := rules.Parse([]byte(`{"delitos": [{"calificacion": "ROBO"}]}`))
	if err != nil {
		t.Fatalf("Failed to parse rules: %v", err)
	}

	orch := pipeline.New(pipeline.Config{
		Gateway:        gateway.NewLocal(store, ingest.NewExporter(store, t.TempDir())),
		Rules:          rs,
		RetryBaseDelay: time.Millisecond,
	})

	r := NewRunner(orch, NewMemoryStore(), store)
	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx, 2)
	t.Cleanup(func() {
		r.Stop()
		cancel()
	})
	return r
}

func seedDocument(t *testing.T, store *memory.Store, documentID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		row := domain.RawIncident{DocumentID: documentID, RowIndex: i + 2}
		row.Fields[0] = "denuncia por robo"
		if err := store.InsertRaw(context.Background(), &row); err != nil {
			t.Fatalf("InsertRaw failed: %v", err)
		}
	}
}

func waitForTerminal(t *testing.T, r *Runner, taskID string) *domain.ClassificationTask {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := r.Status(context.Background(), taskID)
		if err != nil {
			t.Fatalf("Status failed: %v", err)
		}
		if got.State.Terminal() {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Task never reached a terminal state")
	return nil
}

func TestSubmit_RunsToCompletion(t *testing.T) {
	store := memory.NewStore()
	seedDocument(t, store, "doc-1", 25)
	r := testRunner(t, store)

	handle, err := r.Submit(context.Background(), SubmitRequest{
		DocumentID: "doc-1",
		BatchSize:  10,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if handle.ID == "" {
		t.Fatal("Expected a task id")
	}
	if handle.State.Terminal() {
		t.Errorf("Handle should not be terminal at submission, got %s", handle.State)
	}

	final := waitForTerminal(t, r, handle.ID)
	if final.State != domain.TaskStateSuccess {
		t.Fatalf("Expected success, got %s (%s)", final.State, final.Error)
	}
	if final.Progress != 100 {
		t.Errorf("Expected progress 100, got %v", final.Progress)
	}
	if final.Result == nil || final.Result.TotalProcessed != 25 {
		t.Errorf("Unexpected result %+v", final.Result)
	}
	if final.State.External() != "completed" {
		t.Errorf("Expected external state completed, got %q", final.State.External())
	}

	n, _ := store.CountClassified(context.Background(), "doc-1")
	if n != 25 {
		t.Errorf("Expected 25 classified rows, got %d", n)
	}
}

func TestSubmit_HandleIsSnapshot(t *testing.T) {
	store := memory.NewStore()
	seedDocument(t, store, "doc-1", 200)
	r := testRunner(t, store)

	handle, err := r.Submit(context.Background(), SubmitRequest{
		DocumentID: "doc-1",
		BatchSize:  10,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// Read the handle continuously while the worker runs; the worker must
	// only ever touch its own copy.
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				if handle.State.Terminal() || handle.Progress != 0 {
					return
				}
			}
		}
	}()

	waitForTerminal(t, r, handle.ID)
	close(stop)
	<-done

	if handle.State != domain.TaskStateInit {
		t.Errorf("Handle mutated after submission, state %s", handle.State)
	}
	if handle.Progress != 0 || handle.TotalProcessed != 0 {
		t.Errorf("Handle mutated after submission: progress %v, processed %d",
			handle.Progress, handle.TotalProcessed)
	}
}

func TestSubmit_Validation(t *testing.T) {
	r := testRunner(t, memory.NewStore())

	cases := []struct {
		name string
		req  SubmitRequest
	}{
		{"empty document", SubmitRequest{}},
		{"unknown strategy", SubmitRequest{DocumentID: "d", Strategy: "ml"}},
		{"batch too large", SubmitRequest{DocumentID: "d", BatchSize: 1001}},
		{"negative batch", SubmitRequest{DocumentID: "d", BatchSize: -1}},
		{"too many batches", SubmitRequest{DocumentID: "d", MaxBatches: 101}},
		{"negative batches", SubmitRequest{DocumentID: "d", MaxBatches: -5}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Submit(context.Background(), tc.req)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("Expected ValidationError, got %v", err)
			}
		})
	}

	// Boundary values pass validation.
	if _, err := r.Submit(context.Background(), SubmitRequest{
		DocumentID: "doc-empty",
		Strategy:   "hybrid",
		BatchSize:  1000,
		MaxBatches: 100,
	}); err != nil {
		t.Errorf("Boundary submission rejected: %v", err)
	}
}

func TestStatus_UnknownTask(t *testing.T) {
	r := testRunner(t, memory.NewStore())

	_, err := r.Status(context.Background(), "nope")
	if !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound, got %v", err)
	}
}

func TestDocumentProgress(t *testing.T) {
	store := memory.NewStore()
	seedDocument(t, store, "doc-1", 8)
	r := testRunner(t, store)

	handle, err := r.Submit(context.Background(), SubmitRequest{DocumentID: "doc-1", BatchSize: 4})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitForTerminal(t, r, handle.ID)

	dp, err := r.DocumentProgress(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("DocumentProgress failed: %v", err)
	}
	if dp.ActiveTasks != 0 {
		t.Errorf("Expected 0 active tasks, got %d", dp.ActiveTasks)
	}
	if len(dp.Tasks) != 1 || dp.Tasks[0].ID != handle.ID {
		t.Errorf("Expected the finished task listed, got %+v", dp.Tasks)
	}
	if dp.TotalRows != 8 || dp.ClassifiedRows != 8 {
		t.Errorf("Expected 8/8 counts, got %d/%d", dp.TotalRows, dp.ClassifiedRows)
	}
}

func TestMemoryStore_NewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"t1", "t2", "t3"} {
		err := s.Save(ctx, &domain.ClassificationTask{ID: id, DocumentID: "doc-1"})
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	ids, err := s.TasksForDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("TasksForDocument failed: %v", err)
	}
	if len(ids) != 3 || ids[0] != "t3" || ids[2] != "t1" {
		t.Errorf("Expected newest first [t3 t2 t1], got %v", ids)
	}
}
