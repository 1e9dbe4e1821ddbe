package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/proyecto-sentinel/sentinel/internal/core/domain"
	"github.com/proyecto-sentinel/sentinel/internal/infra/storage"
	"github.com/proyecto-sentinel/sentinel/internal/metrics"
)

// RetryConfig defines per-call retry behavior of the client.
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffMultiple float64
}

// DefaultRetryConfig matches the gateway's observed transient-failure
// profile: three attempts, exponential backoff capped at 4s.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     3,
	InitialDelay:    500 * time.Millisecond,
	MaxDelay:        4 * time.Second,
	BackoffMultiple: 2.0,
}

// statusError carries the HTTP status of a failed gateway call so the retry
// loop can tell client mistakes from transient storage trouble.
type statusError struct {
	status int
	detail string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.status, e.detail)
}

// retriable reports whether a call may succeed on a later attempt. 4xx means
// the request itself is wrong and will never succeed; everything else
// (network errors, 5xx, timeouts) is treated as transient.
func retriable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status >= 500
	}
	return true
}

// Client is the network-facing wrapper around the storage gateway. Every
// call is retried with exponential backoff before the error surfaces, so the
// orchestrator only ever sees "this call ultimately failed".
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      RetryConfig
}

// NewClient creates a gateway client. timeout bounds each individual HTTP
// call, independent of the retry schedule.
func NewClient(baseURL string, timeout time.Duration, retry RetryConfig) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: retry,
	}
}

// Health checks gateway reachability.
func (c *Client) Health(ctx context.Context) error {
	var resp map[string]string
	return c.call(ctx, "health", http.MethodGet, "/health", nil, &resp)
}

// Prepare asks the gateway to ingest a source file it can reach and returns
// the new document id and imported row count.
func (c *Client) Prepare(ctx context.Context, filePath string) (string, int, error) {
	var resp PrepareResponse
	err := c.call(ctx, "prepare", http.MethodPost, "/sheet/prepare", PrepareRequest{FilePath: filePath}, &resp)
	if err != nil {
		return "", 0, err
	}
	return resp.DocumentID, resp.RowsImported, nil
}

// PrepareUpload sends a local source file to the gateway as multipart form
// data, for deployments where the gateway cannot read the caller's
// filesystem. Uploads are not retried: a failed attempt may have been
// partially ingested, and re-running the command is safe anyway because raw
// inserts are idempotent per document.
func (c *Client) PrepareUpload(ctx context.Context, name string, src io.Reader) (string, int, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", 0, fmt.Errorf("build upload: %w", err)
	}
	if _, err := io.Copy(fw, src); err != nil {
		return "", 0, fmt.Errorf("read source: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", 0, fmt.Errorf("build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sheet/prepare-upload", &buf)
	if err != nil {
		return "", 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.GatewayCalls.WithLabelValues("prepare_upload", "error").Inc()
		return "", 0, fmt.Errorf("gateway call: %w", err)
	}
	defer resp.Body.Close()

	var pr PrepareResponse
	if err := decodeResponse(resp, &pr); err != nil {
		metrics.GatewayCalls.WithLabelValues("prepare_upload", "error").Inc()
		return "", 0, err
	}
	metrics.GatewayCalls.WithLabelValues("prepare_upload", "success").Inc()
	return pr.DocumentID, pr.RowsImported, nil
}

// FetchUnclassifiedChunk fetches the next chunk of unclassified rows.
func (c *Client) FetchUnclassifiedChunk(ctx context.Context, documentID string, limit int) ([]domain.RawIncident, error) {
	path := fmt.Sprintf("/data/chunk/%s?limit=%d", url.PathEscape(documentID), limit)

	var resp ChunkResponse
	if err := c.call(ctx, "fetch_chunk", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	rows := make([]domain.RawIncident, 0, len(resp.Items))
	for i := range resp.Items {
		rows = append(rows, resp.Items[i].toDomain(documentID))
	}
	return rows, nil
}

// SaveClassifiedBatch persists one classified chunk atomically and returns
// the number of newly saved items.
func (c *Client) SaveClassifiedBatch(ctx context.Context, documentID string, items []storage.ClassifiedItem) (int, error) {
	req := SaveChunkRequest{DocumentID: documentID, Items: make([]ClassifiedItem, 0, len(items))}
	for _, it := range items {
		req.Items = append(req.Items, ClassifiedItem{
			RawIncidentID: it.RawIncidentID,
			Categoria:     it.Categoria,
			Subtipo:       it.Subtipo,
			Observaciones: it.Observaciones,
		})
	}

	var resp SaveChunkResponse
	if err := c.call(ctx, "save_chunk", http.MethodPost, "/data/save_classified_chunk", req, &resp); err != nil {
		return 0, err
	}
	return resp.Saved, nil
}

// GenerateFinal asks the gateway to write the merged export.
func (c *Client) GenerateFinal(ctx context.Context, documentID string) error {
	path := fmt.Sprintf("/sheet/generate_final/%s", url.PathEscape(documentID))
	var resp GenerateFinalResponse
	return c.call(ctx, "generate_final", http.MethodPost, path, nil, &resp)
}

// call executes one logical gateway operation with bounded retry.
func (c *Client) call(ctx context.Context, op, method, path string, body, out any) error {
	var lastErr error

	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		start := time.Now()
		err := c.doOnce(ctx, method, path, body, out)
		metrics.GatewayLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())

		if err == nil {
			metrics.GatewayCalls.WithLabelValues(op, "success").Inc()
			return nil
		}
		lastErr = err
		metrics.GatewayCalls.WithLabelValues(op, "error").Inc()

		if !retriable(err) {
			return err
		}
		if attempt == c.retry.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff(attempt)):
		}
	}

	return fmt.Errorf("gateway %s failed after %d attempts: %w", op, c.retry.MaxAttempts, lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway call: %w", err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

// decodeResponse reads a gateway response, turning non-200 statuses into a
// statusError carrying the body's detail field.
func decodeResponse(resp *http.Response, out any) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		detail := strings.TrimSpace(string(data))
		var errBody struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(data, &errBody) == nil && errBody.Detail != "" {
			detail = errBody.Detail
		}
		return &statusError{status: resp.StatusCode, detail: detail}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}

func (c *Client) backoff(attempt int) time.Duration {
	delay := float64(c.retry.InitialDelay) * math.Pow(c.retry.BackoffMultiple, float64(attempt))
	if delay > float64(c.retry.MaxDelay) {
		delay = float64(c.retry.MaxDelay)
	}
	return time.Duration(delay)
}
