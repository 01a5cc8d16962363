// Package capture owns the live camera stream and turns shutter presses and
// picked files into capture sessions. The controller is the only component
// allowed to start or stop device streams, so at most one hardware stream is
// held at any time.
package capture

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Facing selects which camera the stream should come from.
type Facing string

const (
	// FacingUser is the front camera.
	FacingUser Facing = "user"
	// FacingEnvironment is the rear camera.
	FacingEnvironment Facing = "environment"
)

// SourceKind records where a session's bytes came from.
type SourceKind string

const (
	SourceCamera SourceKind = "camera"
	SourceFile   SourceKind = "file"
)

var (
	// ErrNoCamera reports that no video input exists on the platform.
	ErrNoCamera = errors.New("no camera available")
	// ErrAccessDenied reports that the platform refused camera access.
	ErrAccessDenied = errors.New("camera access denied")
	// ErrNotStarted reports an operation that needs a live stream.
	ErrNotStarted = errors.New("camera not started")
)

// Frame is one still image produced by a stream.
type Frame struct {
	Blob     []byte
	MimeType string
}

// Stream is a live camera feed. Stop must release the underlying hardware
// tracks; a stopped stream cannot capture again.
type Stream interface {
	Capture(ctx context.Context) (Frame, error)
	Stop()
}

// InputInfo describes one enumerable video input.
type InputInfo struct {
	ID     string
	Label  string
	Facing Facing
}

// Device abstracts platform camera access.
type Device interface {
	Open(ctx context.Context, facing Facing) (Stream, error)
	Inputs(ctx context.Context) ([]InputInfo, error)
}

// Session is one user-initiated photo moving through the pipeline. Sessions
// are identified so superseded pipeline results can be discarded.
type Session struct {
	ID        string
	Source    SourceKind
	Blob      []byte
	MimeType  string
	SizeBytes int64
	CreatedAt time.Time
}

// NewSessionFromBlob builds a file-picker session from raw bytes.
func NewSessionFromBlob(blob []byte, mimeType string) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Source:    SourceFile,
		Blob:      blob,
		MimeType:  mimeType,
		SizeBytes: int64(len(blob)),
		CreatedAt: time.Now(),
	}
}
