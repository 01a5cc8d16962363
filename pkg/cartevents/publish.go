package cartevents

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SignatureHeader carries the HMAC over the event body.
const SignatureHeader = "X-Facet-Signature"

// Publisher delivers cart-updated events to one HTTP sink.
type Publisher struct {
	Endpoint   string
	Secret     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Publish sends one update to the sink as a structured-mode CloudEvent,
// signed over the encoded body.
func (p Publisher) Publish(ctx context.Context, update Update) error {
	ev, err := BuildEvent(update)
	if err != nil {
		return err
	}
	body, err := ev.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return p.publishBody(ctx, body)
}

func (p Publisher) publishBody(ctx context.Context, body []byte) error {
	endpoint := strings.TrimSpace(p.Endpoint)
	secret := strings.TrimSpace(p.Secret)
	if endpoint == "" || secret == "" {
		return fmt.Errorf("endpoint/secret are required")
	}

	httpClient := p.HTTPClient
	if httpClient == nil {
		timeout := p.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/cloudevents+json")
	req.Header.Set(SignatureHeader, Sign(body, secret))

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("sink rejected event: status=%s body=%s", resp.Status, strings.TrimSpace(string(payload)))
	}
	return nil
}

// Sign computes the base64 HMAC-SHA256 of body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
