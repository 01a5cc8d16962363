// Package pipeline drives a capture session from raw blob to inference
// result through an explicit state machine. One pipeline instance serves one
// embedded widget; starting a new run supersedes the previous one's
// UI-visible progress without cancelling its in-flight network calls.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/helioma/facet/pkg/apiclient"
	"github.com/helioma/facet/pkg/capture"
	"github.com/helioma/facet/pkg/imaging"
)

// State is one step of the upload pipeline.
type State string

const (
	StateIdle                   State = "idle"
	StateValidating             State = "validating"
	StateDownscaling            State = "downscaling"
	StateRequestingUploadTarget State = "requesting_upload_target"
	StateUploading              State = "uploading"
	StatePreviewing             State = "previewing"
	StateInferring              State = "inferring"
	StateCompleted              State = "completed"
	StateQueued                 State = "queued"
	StateFailed                 State = "failed"
)

// Terminal reports whether the state ends a pipeline run. Queued is terminal
// for the run; the caller decides whether to retry manually.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateQueued || s == StateFailed
}

// FailureKind buckets terminal errors into user-facing message categories.
// Raw transport errors never reach the UI.
type FailureKind string

const (
	FailureNone        FailureKind = ""
	FailureValidation  FailureKind = "validation"
	FailureDecode      FailureKind = "decode"
	FailureNetwork     FailureKind = "network"
	FailureRateLimited FailureKind = "rate-limited"
	FailureServer      FailureKind = "server"
	FailureUnknown     FailureKind = "unknown"
)

// Status is one UI-facing progress update.
type Status struct {
	SessionID string
	State     State
	// RetryAttempt is non-zero while the client is backing off before the
	// given attempt number.
	RetryAttempt int
	Failure      FailureKind
	Err          error
}

// Outcome is the terminal result of one run.
type Outcome struct {
	State    State
	Analysis json.RawMessage
	// JobID and RetryAfterHint are set for queued outcomes.
	JobID          string
	RetryAfterHint time.Duration
	Failure        FailureKind
	Err            error
	// WaitMinutes carries the user-facing countdown for rate limited
	// failures, rounded up to whole minutes.
	WaitMinutes int
}

// ControlGate disables capture controls for the duration of a run so a user
// cannot double-submit.
type ControlGate interface {
	Disable()
	Enable()
}

type nopGate struct{}

func (nopGate) Disable() {}
func (nopGate) Enable()  {}

// Config tunes a pipeline.
type Config struct {
	// MaxSizeBytes is the client-side soft ceiling. The server enforces its
	// own, intentionally larger, hard limit.
	MaxSizeBytes int64
	MaxDimension int
	Quality      int
	// Preview is invoked with the public image URL once the upload PUT
	// succeeded, before inference starts. The UI must swap the live view
	// for a static preview at that point.
	Preview func(publicURL string)
	// OnStatus receives every state transition of the current run. Updates
	// from superseded runs are dropped before reaching it.
	OnStatus func(Status)
	Controls ControlGate
}

// DefaultMaxSizeBytes is the 5 MB client-side pre-filter.
const DefaultMaxSizeBytes = 5 << 20

// AcceptedMimeTypes is the set of source formats the pipeline validates
// against before any network cost.
var AcceptedMimeTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
}

// Pipeline runs capture sessions to a terminal state.
type Pipeline struct {
	api        API
	cfg        Config
	recompress func(blob []byte, maxDimension, quality int) ([]byte, error)
	generation atomic.Int64
}

// New builds a pipeline over the given API surface.
func New(api API, cfg Config) *Pipeline {
	if cfg.MaxSizeBytes <= 0 {
		cfg.MaxSizeBytes = DefaultMaxSizeBytes
	}
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = imaging.DefaultMaxDimension
	}
	if cfg.Quality <= 0 {
		cfg.Quality = imaging.DefaultQuality
	}
	if cfg.Controls == nil {
		cfg.Controls = nopGate{}
	}
	return &Pipeline{api: api, cfg: cfg, recompress: imaging.Recompress}
}

// Run executes the state machine for one session. A concurrent or later Run
// supersedes this one: its remaining status updates are discarded, though
// network calls already issued are left to resolve and be ignored.
func (p *Pipeline) Run(ctx context.Context, session *capture.Session, metadata map[string]string) Outcome {
	gen := p.generation.Add(1)

	p.cfg.Controls.Disable()
	// Controls come back unconditionally on any terminal path.
	defer p.cfg.Controls.Enable()

	emit := func(s Status) {
		if p.generation.Load() != gen {
			return
		}
		s.SessionID = session.ID
		if p.cfg.OnStatus != nil {
			p.cfg.OnStatus(s)
		}
	}

	emit(Status{State: StateValidating})
	if err := p.validate(session); err != nil {
		return p.fail(emit, FailureValidation, err)
	}

	emit(Status{State: StateDownscaling})
	compressed, err := p.recompress(session.Blob, p.cfg.MaxDimension, p.cfg.Quality)
	if err != nil {
		var decode *imaging.DecodeError
		if errors.As(err, &decode) {
			return p.fail(emit, FailureDecode, err)
		}
		return p.fail(emit, FailureUnknown, err)
	}

	emit(Status{State: StateRequestingUploadTarget})
	ticket, err := p.api.RequestUploadTicket(ctx, "image/jpeg")
	if err != nil {
		return p.failClassified(emit, err)
	}

	emit(Status{State: StateUploading})
	if err := p.api.UploadBlob(ctx, ticket, compressed); err != nil {
		return p.failClassified(emit, err)
	}

	emit(Status{State: StatePreviewing})
	if p.cfg.Preview != nil && p.generation.Load() == gen {
		p.cfg.Preview(ticket.PublicURL)
	}

	emit(Status{State: StateInferring})
	outcome, err := p.api.Infer(ctx, ticket.PublicURL, metadata)
	if err != nil {
		return p.failClassified(emit, err)
	}

	if !outcome.Ready {
		emit(Status{State: StateQueued})
		return Outcome{
			State:          StateQueued,
			JobID:          outcome.JobID,
			RetryAfterHint: outcome.RetryAfterHint,
		}
	}

	emit(Status{State: StateCompleted})
	return Outcome{State: StateCompleted, Analysis: outcome.Payload}
}

// Supersede invalidates the currently running pipeline's remaining UI
// updates. Called when a new capture starts before the old run finished.
func (p *Pipeline) Supersede() {
	p.generation.Add(1)
}

func (p *Pipeline) validate(session *capture.Session) error {
	if session == nil || len(session.Blob) == 0 {
		return errors.New("empty capture")
	}
	if _, ok := AcceptedMimeTypes[session.MimeType]; !ok {
		return errors.New("unsupported image type: " + session.MimeType)
	}
	if session.SizeBytes > p.cfg.MaxSizeBytes {
		return errors.New("image exceeds the 5 MB limit")
	}
	return nil
}

func (p *Pipeline) fail(emit func(Status), kind FailureKind, err error) Outcome {
	emit(Status{State: StateFailed, Failure: kind, Err: err})
	return Outcome{State: StateFailed, Failure: kind, Err: err}
}

func (p *Pipeline) failClassified(emit func(Status), err error) Outcome {
	kind := classify(err)
	out := p.fail(emit, kind, err)
	var limited *apiclient.RateLimitedError
	if errors.As(err, &limited) {
		out.WaitMinutes = limited.WaitMinutes()
	}
	return out
}

func classify(err error) FailureKind {
	var validation *apiclient.ValidationError
	var limited *apiclient.RateLimitedError
	var auth *apiclient.AuthError
	var transient *apiclient.TransientError
	var server *apiclient.ServerError
	switch {
	case errors.As(err, &validation):
		return FailureValidation
	case errors.As(err, &limited):
		return FailureRateLimited
	case errors.As(err, &auth):
		return FailureValidation
	case errors.As(err, &transient):
		return FailureNetwork
	case errors.As(err, &server):
		return FailureServer
	default:
		return FailureUnknown
	}
}
