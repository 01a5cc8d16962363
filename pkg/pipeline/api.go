package pipeline

import (
	"context"
	"encoding/json"
	"time"
)

// Ticket is a one-time writable upload target plus its eventual public read
// URL. A ticket is never reused across capture sessions; a second PUT against
// the same ticket is only issued when the first one failed.
type Ticket struct {
	UploadURL string    `json:"uploadUrl"`
	PublicURL string    `json:"publicUrl"`
	MimeType  string    `json:"mimeType"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// InferenceOutcome is the discriminated result of an inference call.
type InferenceOutcome struct {
	// Ready reports a synchronous analysis payload.
	Ready bool
	// Payload holds the analysis body when Ready.
	Payload json.RawMessage
	// JobID identifies a queued asynchronous job when not Ready.
	JobID string
	// RetryAfterHint suggests when a queued result may be available. The
	// pipeline exposes it to the caller but never polls on its own.
	RetryAfterHint time.Duration
}

// API is the remote surface the pipeline drives. The production
// implementation sits on the resilient client; tests substitute fakes.
type API interface {
	RequestUploadTicket(ctx context.Context, mimeType string) (Ticket, error)
	UploadBlob(ctx context.Context, ticket Ticket, blob []byte) error
	Infer(ctx context.Context, imageURL string, metadata map[string]string) (InferenceOutcome, error)
}
