package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testClient(url string) *Client {
	return NewClient(url, time.Second, RetryConfig{
		MaxAttempts:     3,
		InitialDelay:    time.Millisecond,
		MaxDelay:        5 * time.Millisecond,
		BackoffMultiple: 2.0,
	})
}

func TestClient_RetriesServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"document_id": "doc-1", "items": [{"id": 1, "row_index": 2, "fields": ["a"]}]}`))
	}))
	defer srv.Close()

	rows, err := testClient(srv.URL).FetchUnclassifiedChunk(context.Background(), "doc-1", 10)
	if err != nil {
		t.Fatalf("Expected recovery after retries, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
	if len(rows) != 1 || rows[0].ID != 1 || rows[0].Fields[0] != "a" {
		t.Errorf("Unexpected rows %+v", rows)
	}
	if rows[0].DocumentID != "doc-1" {
		t.Errorf("Expected document id stamped on rows, got %q", rows[0].DocumentID)
	}
}

func TestClient_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := testClient(srv.URL).GenerateFinal(context.Background(), "doc-1")
	if err == nil {
		t.Fatal("Expected error after exhausted retries")
	}
	if calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
	if !strings.Contains(err.Error(), "failed after 3 attempts") {
		t.Errorf("Error should name the attempt count: %v", err)
	}
}

func TestClient_ClientErrorsAreFatal(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail": "no rows for the given document_id"}`))
	}))
	defer srv.Close()

	err := testClient(srv.URL).GenerateFinal(context.Background(), "missing")
	if err == nil {
		t.Fatal("Expected error")
	}
	// 4xx never retries: the request will not get better.
	if calls != 1 {
		t.Errorf("Expected a single attempt for 404, got %d", calls)
	}
	if !strings.Contains(err.Error(), "no rows for the given document_id") {
		t.Errorf("Error should carry the server detail: %v", err)
	}
}

func TestClient_SaveClassifiedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/save_classified_chunk" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"document_id": "doc-1", "saved": 2}`))
	}))
	defer srv.Close()

	saved, err := testClient(srv.URL).SaveClassifiedBatch(context.Background(), "doc-1", nil)
	if err != nil {
		t.Fatalf("SaveClassifiedBatch failed: %v", err)
	}
	if saved != 2 {
		t.Errorf("Expected 2 saved, got %d", saved)
	}
}

func TestClient_PrepareUploadRoundtrip(t *testing.T) {
	srv, store := testServer(t)

	header := strings.Repeat("col,", 16) + "col\n"
	content := header + strings.Repeat("x,", 16) + "x\n"

	documentID, imported, err := testClient(srv.URL).PrepareUpload(
		context.Background(), "source.csv", strings.NewReader(content))
	if err != nil {
		t.Fatalf("PrepareUpload failed: %v", err)
	}
	if imported != 1 {
		t.Errorf("Expected 1 row imported, got %d", imported)
	}

	n, _ := store.CountRaws(context.Background(), documentID)
	if n != 1 {
		t.Errorf("Expected 1 stored row, got %d", n)
	}
}

func TestClient_PrepareUploadBadSheet(t *testing.T) {
	srv, _ := testServer(t)

	// Too few columns: the gateway rejects the upload outright.
	_, _, err := testClient(srv.URL).PrepareUpload(
		context.Background(), "narrow.csv", strings.NewReader("a,b,c\n1,2,3\n"))
	if err == nil {
		t.Fatal("Expected error for a narrow sheet")
	}
	var se *statusError
	if !errors.As(err, &se) || se.status != http.StatusBadRequest {
		t.Errorf("Expected 400 statusError, got %v", err)
	}
}

func TestClient_ContextCancelStopsBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, RetryConfig{
		MaxAttempts:     5,
		InitialDelay:    time.Hour, // only a cancelled context can end this
		MaxDelay:        time.Hour,
		BackoffMultiple: 2.0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := client.Health(ctx)
	if err == nil {
		t.Fatal("Expected error")
	}
	if time.Since(start) > time.Second {
		t.Error("Backoff did not honor context cancellation")
	}
}
