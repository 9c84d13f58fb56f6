package crmapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/salesfunnel/syncbox/internal/syncbox"
)

func fastClient(baseURL string) *Client {
	c := NewClient(baseURL, "secret", nil)
	c.baseDelay = time.Millisecond
	c.maxDelay = 5 * time.Millisecond
	return c
}

func leadItem() syncbox.QueueItem {
	return syncbox.QueueItem{
		ID:       "mut_1_abc",
		Kind:     syncbox.KindLeadUpdate,
		Payload:  json.RawMessage(`{"status":"WON"}`),
		Endpoint: "/api/v1/leads/1",
		Method:   http.MethodPut,
		Version:  "3",
	}
}

func TestSubmitSendsMutationHeadersAndParsesResult(t *testing.T) {
	var gotHeaders http.Header
	var gotMethod, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"version":"4","data":{"id":1,"status":"WON"}}`))
	}))
	defer server.Close()

	result, err := fastClient(server.URL).Submit(context.Background(), leadItem())
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if gotMethod != http.MethodPut || gotPath != "/api/v1/leads/1" {
		t.Fatalf("unexpected request %s %s", gotMethod, gotPath)
	}
	if gotHeaders.Get("X-API-Key") != "secret" {
		t.Fatalf("missing api key header")
	}
	if gotHeaders.Get("X-Mutation-Id") != "mut_1_abc" {
		t.Fatalf("missing mutation id header, got %q", gotHeaders.Get("X-Mutation-Id"))
	}
	if gotHeaders.Get("If-Match") != "3" {
		t.Fatalf("expected If-Match 3, got %q", gotHeaders.Get("If-Match"))
	}
	if gotHeaders.Get("X-Correlation-Id") == "" {
		t.Fatalf("missing correlation id header")
	}
	if result.NewVersion != "4" {
		t.Fatalf("expected version 4, got %q", result.NewVersion)
	}
	if string(result.Entity) != `{"id":1,"status":"WON"}` {
		t.Fatalf("unexpected entity: %s", result.Entity)
	}
}

func TestSubmitFallsBackToETagVersion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"7"`)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	result, err := fastClient(server.URL).Submit(context.Background(), leadItem())
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if result.NewVersion != "7" {
		t.Fatalf("expected ETag version 7, got %q", result.NewVersion)
	}
}

func TestSubmitRetriesServerErrorsWithStableMutationID(t *testing.T) {
	var attempts int
	mutationIDs := map[string]struct{}{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		mutationIDs[r.Header.Get("X-Mutation-Id")] = struct{}{}
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"version":"4"}`))
	}))
	defer server.Close()

	result, err := fastClient(server.URL).Submit(context.Background(), leadItem())
	if err != nil {
		t.Fatalf("submit failed after retries: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if len(mutationIDs) != 1 {
		t.Fatalf("mutation id must be stable across retries, saw %v", mutationIDs)
	}
	if result.NewVersion != "4" {
		t.Fatalf("expected version 4, got %q", result.NewVersion)
	}
}

func TestSubmitGivesUpAfterRetryBudget(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := fastClient(server.URL).Submit(context.Background(), leadItem())
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected HTTPError 502, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected initial attempt plus 2 retries, got %d", attempts)
	}
}

func TestSubmitMapsConflictToVersionConflictError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"serverEntity":{"id":1,"status":"LOST"},"serverVersion":"9"}`))
	}))
	defer server.Close()

	_, err := fastClient(server.URL).Submit(context.Background(), leadItem())
	if !errors.Is(err, syncbox.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	var conflict *syncbox.VersionConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected VersionConflictError, got %T", err)
	}
	if conflict.Version != "9" {
		t.Fatalf("expected server version 9, got %q", conflict.Version)
	}
	if string(conflict.Entity) != `{"id":1,"status":"LOST"}` {
		t.Fatalf("unexpected server entity: %s", conflict.Entity)
	}
}

func TestSubmitDoesNotRetryClientErrors(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":{"code":"VALIDATION","message":"status is invalid"}}`))
	}))
	defer server.Close()

	_, err := fastClient(server.URL).Submit(context.Background(), leadItem())
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.Code != "VALIDATION" || httpErr.Message != "status is invalid" {
		t.Fatalf("expected decoded error body, got %+v", httpErr)
	}
	if attempts != 1 {
		t.Fatalf("client errors must not be retried, got %d attempts", attempts)
	}
}

func TestSubmitStreamsPayloadRefAsOctetStream(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "contract.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.7 stub"), 0o644); err != nil {
		t.Fatalf("write upload file failed: %v", err)
	}

	var gotContentType string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"version":"1"}`))
	}))
	defer server.Close()

	item := syncbox.QueueItem{
		ID:         "mut_2_def",
		Kind:       syncbox.KindDocumentUpload,
		PayloadRef: path,
		Endpoint:   "/api/v1/documents",
		Method:     http.MethodPost,
	}
	if _, err := fastClient(server.URL).Submit(context.Background(), item); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if gotContentType != "application/octet-stream" {
		t.Fatalf("expected octet-stream upload, got %q", gotContentType)
	}
	if string(gotBody) != "%PDF-1.7 stub" {
		t.Fatalf("unexpected upload body: %q", gotBody)
	}
}

func TestSubmitFailsWhenPayloadRefMissing(t *testing.T) {
	item := syncbox.QueueItem{
		ID:         "mut_3_ghi",
		Kind:       syncbox.KindDocumentUpload,
		PayloadRef: filepath.Join(t.TempDir(), "gone.pdf"),
		Endpoint:   "/api/v1/documents",
		Method:     http.MethodPost,
	}
	if _, err := fastClient("http://127.0.0.1:1").Submit(context.Background(), item); err == nil {
		t.Fatalf("expected missing upload file to fail before any request")
	}
}

func TestPing(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected probe path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer healthy.Close()
	if err := fastClient(healthy.URL).Ping(context.Background()); err != nil {
		t.Fatalf("expected healthy probe to succeed: %v", err)
	}

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()
	if err := fastClient(broken.URL).Ping(context.Background()); err == nil {
		t.Fatalf("expected 500 probe to fail")
	}
}

func TestRetryDelayHonorsRetryAfterHeader(t *testing.T) {
	c := fastClient("http://example.invalid")
	c.maxDelay = 10 * time.Second
	if got := c.retryDelay(1, "3"); got != 3*time.Second {
		t.Fatalf("expected Retry-After to win, got %v", got)
	}
	c.maxDelay = time.Second
	if got := c.retryDelay(1, "30"); got != time.Second {
		t.Fatalf("expected Retry-After capped at max delay, got %v", got)
	}
}
