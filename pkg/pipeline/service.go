package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/helioma/facet/pkg/apiclient"
)

// Service implements API against the facet backend through the resilient
// client, inheriting its identity attachment and retry policy.
type Service struct {
	client *apiclient.Client
}

// NewService wraps a configured resilient client.
func NewService(client *apiclient.Client) *Service {
	return &Service{client: client}
}

type uploadURLRequest struct {
	MimeType string            `json:"mimeType"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (s *Service) RequestUploadTicket(ctx context.Context, mimeType string) (Ticket, error) {
	resp, err := s.client.PostJSON(ctx, "/api/upload-url", uploadURLRequest{MimeType: mimeType})
	if err != nil {
		return Ticket{}, err
	}
	var ticket Ticket
	if err := resp.Decode(&ticket); err != nil {
		return Ticket{}, err
	}
	if ticket.UploadURL == "" || ticket.PublicURL == "" {
		return Ticket{}, fmt.Errorf("incomplete upload ticket from server")
	}
	return ticket, nil
}

func (s *Service) UploadBlob(ctx context.Context, ticket Ticket, blob []byte) error {
	// Success is judged by status alone; storage backends return empty or
	// opaque bodies on PUT.
	_, err := s.client.PutBlob(ctx, ticket.UploadURL, ticket.MimeType, blob)
	return err
}

type inferRequest struct {
	ImageURL string            `json:"imageUrl"`
	UserData map[string]string `json:"userData,omitempty"`
}

type inferQueuedResponse struct {
	JobID      string `json:"jobId"`
	RetryAfter int    `json:"retryAfter"`
}

func (s *Service) Infer(ctx context.Context, imageURL string, metadata map[string]string) (InferenceOutcome, error) {
	resp, err := s.client.PostJSON(ctx, "/api/infer", inferRequest{ImageURL: imageURL, UserData: metadata})
	if err != nil {
		return InferenceOutcome{}, err
	}
	if resp.Status == http.StatusAccepted {
		var queued inferQueuedResponse
		// A queued response body may be absent or partial.
		_ = resp.Decode(&queued)
		return InferenceOutcome{
			JobID:          queued.JobID,
			RetryAfterHint: time.Duration(queued.RetryAfter) * time.Second,
		}, nil
	}
	return InferenceOutcome{Ready: true, Payload: resp.Body}, nil
}
