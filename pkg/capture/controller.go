package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Controller serializes all camera lifecycle operations. It never holds more
// than one open stream: switching facing stops the previous stream's tracks
// before acquiring the new one.
type Controller struct {
	mu sync.Mutex

	device      Device
	stream      Stream
	facing      Facing
	multiCamera bool
}

// NewController wraps a platform device.
func NewController(device Device) *Controller {
	return &Controller{device: device}
}

// Start acquires a stream for the preferred facing. Failure is reported, not
// fatal; the caller is expected to fall back to file-picker-only mode. After
// a successful start the available inputs are enumerated to decide whether a
// facing-switch control should be offered.
func (c *Controller) Start(ctx context.Context, preferred Facing) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		c.stream.Stop()
		c.stream = nil
	}

	stream, err := c.device.Open(ctx, preferred)
	if err != nil {
		return fmt.Errorf("open camera: %w", err)
	}
	c.stream = stream
	c.facing = preferred

	inputs, err := c.device.Inputs(ctx)
	if err != nil {
		// Enumeration failing only hides the switch control.
		c.multiCamera = false
		return nil
	}
	c.multiCamera = len(inputs) > 1
	return nil
}

// CanSwitchFacing reports whether more than one camera was enumerated after
// the last successful start.
func (c *Controller) CanSwitchFacing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.multiCamera
}

// Facing returns the facing of the active stream.
func (c *Controller) Facing() Facing {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.facing
}

// SwitchFacing re-acquires the device stream for the opposite facing. The
// previous stream's tracks are stopped first so two hardware locks are never
// held at once. If reacquisition fails the controller is left stopped.
func (c *Controller) SwitchFacing(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return ErrNotStarted
	}

	next := FacingEnvironment
	if c.facing == FacingEnvironment {
		next = FacingUser
	}

	c.stream.Stop()
	c.stream = nil

	stream, err := c.device.Open(ctx, next)
	if err != nil {
		return fmt.Errorf("reacquire camera: %w", err)
	}
	c.stream = stream
	c.facing = next
	return nil
}

// Capture takes one frame from the live stream and wraps it in a session.
func (c *Controller) Capture(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return nil, ErrNotStarted
	}
	frame, err := c.stream.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture frame: %w", err)
	}
	return &Session{
		ID:        uuid.NewString(),
		Source:    SourceCamera,
		Blob:      frame.Blob,
		MimeType:  frame.MimeType,
		SizeBytes: int64(len(frame.Blob)),
		CreatedAt: time.Now(),
	}, nil
}

// Stop releases the active stream, if any.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		c.stream.Stop()
		c.stream = nil
	}
}

// Active reports whether a stream is currently held.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream != nil
}
