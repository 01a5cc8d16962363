package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultMaxAttempts bounds one retry chain.
	DefaultMaxAttempts = 3
	// DefaultBaseDelay seeds the exponential backoff.
	DefaultBaseDelay = 1000 * time.Millisecond
	// DefaultRateLimitWait applies when the reset header is absent.
	DefaultRateLimitWait = 60 * time.Second

	rateLimitResetHeader = "X-RateLimit-Reset"
	maxErrorBodyBytes    = 64 << 10
)

// Client wraps outbound HTTP calls with identity attachment, failure
// classification and exponential backoff.
type Client struct {
	BaseURL     string
	Identity    string
	MaxAttempts int
	BaseDelay   time.Duration
	HTTPClient  *http.Client

	// OnRetry is notified with the upcoming attempt number before the
	// backoff sleep, so a UI can show retry progress.
	OnRetry func(attempt int, err error)

	sleep func(context.Context, time.Duration) error
	now   func() time.Time
}

// New builds a client for the given API base URL and caller identity.
func New(baseURL, identity string) *Client {
	return &Client{
		BaseURL:     strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Identity:    strings.TrimSpace(identity),
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		HTTPClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Response is the classified outcome of a successful call.
type Response struct {
	Status int
	Body   []byte
	Header http.Header
}

// Decode unmarshals the response body into out.
func (r *Response) Decode(out any) error {
	if out == nil || len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// PostJSON issues a JSON POST against path under the base URL.
func (c *Client) PostJSON(ctx context.Context, path string, body any) (*Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return c.Call(ctx, http.MethodPost, c.BaseURL+path, "application/json", raw)
}

// Get issues a GET against path under the base URL.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Call(ctx, http.MethodGet, c.BaseURL+path, "", nil)
}

// PutBlob uploads raw bytes to an absolute URL, typically a presigned upload
// ticket target. Success is judged by status only.
func (c *Client) PutBlob(ctx context.Context, url, contentType string, blob []byte) (*Response, error) {
	return c.Call(ctx, http.MethodPut, url, contentType, blob)
}

// Call executes one request with the client retry policy. The body is held in
// memory so each attempt replays identical bytes.
func (c *Client) Call(ctx context.Context, method, url, contentType string, body []byte) (*Response, error) {
	maxAttempts := c.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := c.attempt(ctx, method, url, contentType, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !Retryable(err) {
			return nil, err
		}
		if attempt == maxAttempts {
			break
		}
		if c.OnRetry != nil {
			c.OnRetry(attempt+1, err)
		}
		if err := c.backoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
	return nil, &ExhaustedError{Attempts: maxAttempts, Last: lastErr}
}

func (c *Client) attempt(ctx context.Context, method, url, contentType string, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.Identity != "" {
		req.Header.Set(IdentityHeader, c.Identity)
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &Response{Status: resp.StatusCode, Body: payload, Header: resp.Header}, nil
	}
	return nil, c.classify(resp, payload)
}

func (c *Client) classify(resp *http.Response, payload []byte) error {
	message := serverMessage(payload)
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return &RateLimitedError{
			Message:   message,
			RetryWait: c.rateLimitWait(resp.Header.Get(rateLimitResetHeader)),
		}
	case http.StatusBadRequest:
		return &ValidationError{Status: resp.StatusCode, Message: message}
	case http.StatusUnauthorized:
		return &AuthError{Status: resp.StatusCode, Message: message}
	default:
		return &ServerError{Status: resp.StatusCode, Message: message}
	}
}

// rateLimitWait derives the wait from an absolute reset timestamp in unix
// seconds, falling back to a fixed default when the header is absent.
func (c *Client) rateLimitWait(resetHeader string) time.Duration {
	resetHeader = strings.TrimSpace(resetHeader)
	if resetHeader == "" {
		return DefaultRateLimitWait
	}
	reset, err := strconv.ParseInt(resetHeader, 10, 64)
	if err != nil {
		return DefaultRateLimitWait
	}
	wait := time.Unix(reset, 0).Sub(c.timeNow())
	if wait <= 0 {
		return DefaultRateLimitWait
	}
	return wait
}

func (c *Client) backoff(ctx context.Context, attempt int) error {
	delay := c.BaseDelay
	if delay <= 0 {
		delay = DefaultBaseDelay
	}
	delay <<= attempt - 1

	sleep := c.sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return sleep(ctx, delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) timeNow() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

func serverMessage(payload []byte) string {
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if len(payload) > maxErrorBodyBytes {
		payload = payload[:maxErrorBodyBytes]
	}
	if err := json.Unmarshal(payload, &parsed); err == nil {
		if strings.TrimSpace(parsed.Error) != "" {
			return strings.TrimSpace(parsed.Error)
		}
		if strings.TrimSpace(parsed.Message) != "" {
			return strings.TrimSpace(parsed.Message)
		}
	}
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return "request failed"
	}
	return text
}
