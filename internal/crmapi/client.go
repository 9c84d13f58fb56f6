// Package crmapi is the HTTP client for the CRM server of record. It
// submits queued mutations with optimistic-concurrency headers and maps
// response statuses onto the engine's outcome taxonomy.
package crmapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/salesfunnel/syncbox/internal/syncbox"
)

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:3000"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: httpClient,
		maxRetries: 2,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

// Submit performs one network submission of a queue item.
//
// The item ID rides along as X-Mutation-Id so the server can deduplicate a
// replay of a mutation it already applied; the engine's retry policy
// depends on that idempotency contract. A known entity version is sent as
// If-Match and a 409 comes back as a *syncbox.VersionConflictError carrying
// the server's current entity.
func (c *Client) Submit(ctx context.Context, item syncbox.QueueItem) (syncbox.SubmitResult, error) {
	body, contentType, err := requestBody(item)
	if err != nil {
		return syncbox.SubmitResult{}, err
	}
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, item.Method, c.baseURL+item.Endpoint, bytes.NewReader(body))
		if err != nil {
			return syncbox.SubmitResult{}, err
		}
		req.Header.Set("X-API-Key", c.apiKey)
		req.Header.Set("X-Mutation-Id", item.ID)
		req.Header.Set("X-Correlation-Id", correlationID())
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if item.Version != "" {
			req.Header.Set("If-Match", item.Version)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return syncbox.SubmitResult{}, waitErr
				}
				continue
			}
			return syncbox.SubmitResult{}, err
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return syncbox.SubmitResult{}, readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return parseSubmitResult(resp, payload), nil
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return syncbox.SubmitResult{}, waitErr
			}
			continue
		}

		if resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusPreconditionFailed {
			return syncbox.SubmitResult{}, parseConflict(payload)
		}

		var errPayload struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		return syncbox.SubmitResult{}, &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Error.Code,
			Message:    errPayload.Error.Message,
		}
	}
}

// Ping reports reachability of the CRM server; the connectivity trigger
// uses it as its probe.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode >= 500 {
		return &HTTPError{StatusCode: resp.StatusCode, Message: "health probe failed"}
	}
	return nil
}

func requestBody(item syncbox.QueueItem) ([]byte, string, error) {
	if item.PayloadRef != "" {
		data, err := os.ReadFile(item.PayloadRef)
		if err != nil {
			return nil, "", fmt.Errorf("read upload payload %s: %w", item.PayloadRef, err)
		}
		return data, "application/octet-stream", nil
	}
	if len(item.Payload) == 0 {
		return nil, "", nil
	}
	return item.Payload, "application/json", nil
}

func parseSubmitResult(resp *http.Response, payload []byte) syncbox.SubmitResult {
	var decoded struct {
		Version string          `json:"version"`
		Data    json.RawMessage `json:"data"`
	}
	_ = json.Unmarshal(payload, &decoded)
	result := syncbox.SubmitResult{
		NewVersion: decoded.Version,
		Entity:     decoded.Data,
	}
	if result.NewVersion == "" {
		result.NewVersion = strings.Trim(resp.Header.Get("ETag"), `"`)
	}
	return result
}

func parseConflict(payload []byte) error {
	var decoded struct {
		ServerEntity  json.RawMessage `json:"serverEntity"`
		ServerVersion string          `json:"serverVersion"`
	}
	_ = json.Unmarshal(payload, &decoded)
	return &syncbox.VersionConflictError{
		Entity:  decoded.ServerEntity,
		Version: decoded.ServerVersion,
	}
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		delta := time.Until(ts)
		if delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func correlationID() string {
	return fmt.Sprintf("sync_%d", time.Now().UnixNano())
}
