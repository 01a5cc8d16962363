// Package inference proxies capture photos to the upstream analysis model and
// resolves deferred jobs in the background.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// UpstreamError describes a rejected analysis request.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream analysis failed: status=%d body=%s", e.Status, e.Body)
}

// Retryable reports whether the upstream failure is worth another attempt.
func (e *UpstreamError) Retryable() bool {
	switch e.Status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return e.Status >= http.StatusInternalServerError
}

// Result is one upstream analysis outcome.
type Result struct {
	// Raw carries the verbatim model response for completed analyses.
	Raw json.RawMessage
	// Queued reports that the upstream deferred the work.
	Queued bool
	// RetryAfter suggests when a deferred job may resolve, zero when unknown.
	RetryAfter time.Duration
}

// Client talks to the upstream analysis service.
type Client struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
}

// NewClient builds an upstream client. An empty base URL yields a disabled
// client; callers check Enabled before use.
func NewClient(baseURL, apiToken string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiToken:   strings.TrimSpace(apiToken),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Enabled reports whether the upstream is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.baseURL != ""
}

type analyzeRequest struct {
	ImageURL string            `json:"imageUrl"`
	UserData map[string]string `json:"userData,omitempty"`
}

// Analyze submits one image URL plus the caller's profile metadata for
// analysis.
func (c *Client) Analyze(ctx context.Context, imageURL string, userData map[string]string) (Result, error) {
	if !c.Enabled() {
		return Result{}, fmt.Errorf("inference upstream not configured")
	}
	imageURL = strings.TrimSpace(imageURL)
	if imageURL == "" {
		return Result{}, fmt.Errorf("image url is required")
	}

	raw, err := json.Marshal(analyzeRequest{ImageURL: imageURL, UserData: userData})
	if err != nil {
		return Result{}, fmt.Errorf("encode analyze request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/analyze", bytes.NewReader(raw))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode == http.StatusAccepted:
		return Result{Queued: true, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}, nil
	case resp.StatusCode >= http.StatusMultipleChoices:
		return Result{}, &UpstreamError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if !json.Valid(body) {
		return Result{}, fmt.Errorf("upstream returned invalid JSON")
	}
	return Result{Raw: json.RawMessage(body)}, nil
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	var seconds int
	if _, err := fmt.Sscanf(header, "%d", &seconds); err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
