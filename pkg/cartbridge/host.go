package cartbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// NativeCart is the host storefront's own cart surface. Quantities are
// cumulative across calls; setting quantity zero removes a line.
type NativeCart interface {
	GetCart(ctx context.Context) (CartSnapshot, error)
	AddItem(ctx context.Context, variantID int64, quantity int) (CartSnapshot, error)
	ChangeItem(ctx context.Context, variantID int64, quantity int) (CartSnapshot, error)
}

// Host is the storefront side of the bridge. It executes envelope requests
// against the native cart and broadcasts state to every attached frame; a
// page may embed more than one widget, so receivers must tolerate duplicate
// broadcasts.
type Host struct {
	cart NativeCart
	log  *slog.Logger

	mu     sync.Mutex
	frames []Transport
}

// NewHost wraps the storefront's native cart API.
func NewHost(cart NativeCart, log *slog.Logger) *Host {
	if log == nil {
		log = slog.Default()
	}
	return &Host{cart: cart, log: log}
}

// Attach registers one embedded frame and starts serving its requests.
// Returns a stop function detaching the frame.
func (h *Host) Attach(ctx context.Context, frame Transport) func() {
	h.mu.Lock()
	h.frames = append(h.frames, frame)
	h.mu.Unlock()

	frameCtx, cancel := context.WithCancel(ctx)
	go h.serve(frameCtx, frame)

	return func() {
		cancel()
		h.mu.Lock()
		for i, f := range h.frames {
			if f == frame {
				h.frames = append(h.frames[:i], h.frames[i+1:]...)
				break
			}
		}
		h.mu.Unlock()
	}
}

// AnnounceInitialState broadcasts a full CART_INITIAL_STATE to every frame.
// The host re-sends this shortly after its own initialization: an embedded
// frame may have sent requests before the host listener existed, and dropped
// messages cannot be detected, so catch-up is at-least-once by design.
func (h *Host) AnnounceInitialState(ctx context.Context) error {
	snapshot, err := h.cart.GetCart(ctx)
	if err != nil {
		return fmt.Errorf("read native cart: %w", err)
	}
	h.broadcast(Envelope{Type: TypeCartInitialState, Payload: mustMarshal(snapshot)})
	return nil
}

func (h *Host) broadcast(env Envelope) {
	h.mu.Lock()
	frames := make([]Transport, len(h.frames))
	copy(frames, h.frames)
	h.mu.Unlock()
	for _, frame := range frames {
		frame.Send(env)
	}
}

func (h *Host) serve(ctx context.Context, frame Transport) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-frame.Receive():
			if !ok {
				return
			}
			h.handle(ctx, frame, env)
		}
	}
}

func (h *Host) handle(ctx context.Context, frame Transport, env Envelope) {
	switch env.Type {
	case TypeGetCart:
		snapshot, err := h.cart.GetCart(ctx)
		if err != nil {
			h.replyError(frame, env, err, "")
			return
		}
		frame.Send(Envelope{Type: TypeCartData, Payload: mustMarshal(snapshot), CorrelationID: env.CorrelationID})

	case TypeAddToCart:
		h.handleAdd(ctx, frame, env, false)

	case TypeRemoveFromCart:
		h.handleAdd(ctx, frame, env, true)

	case TypeAddRoutineToCart:
		h.handleRoutine(ctx, frame, env)

	default:
		// Malformed or unsolicited message kinds are dropped, logged, and
		// never surfaced to the user.
		h.log.Debug("dropping unknown envelope", "type", env.Type, "origin", env.Origin)
	}
}

func (h *Host) handleAdd(ctx context.Context, frame Transport, env Envelope, remove bool) {
	var req AddRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		h.replyError(frame, env, fmt.Errorf("malformed payload: %w", err), "")
		return
	}
	variantID, err := NormalizeVariantID(req.ID)
	if err != nil {
		h.replyError(frame, env, err, "")
		return
	}

	var snapshot CartSnapshot
	if remove {
		snapshot, err = h.cart.ChangeItem(ctx, variantID, 0)
	} else {
		quantity := req.Quantity
		if quantity <= 0 {
			quantity = 1
		}
		snapshot, err = h.cart.AddItem(ctx, variantID, quantity)
	}
	if err != nil {
		h.replyError(frame, env, err, fmt.Sprintf("variant %d", variantID))
		return
	}
	frame.Send(Envelope{Type: TypeCartUpdateOK, Payload: mustMarshal(snapshot), CorrelationID: env.CorrelationID})
	h.broadcast(Envelope{Type: TypeCartInitialState, Payload: mustMarshal(snapshot)})
}

// handleRoutine applies a bulk add as a sequence of individual adds. A
// failing item stops the sequence and is reported with the count of already
// applied items; earlier adds are not rolled back.
func (h *Host) handleRoutine(ctx context.Context, frame Transport, env Envelope) {
	var payload RoutinePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		h.replyError(frame, env, fmt.Errorf("malformed payload: %w", err), "")
		return
	}
	if len(payload.Items) == 0 {
		h.replyError(frame, env, fmt.Errorf("empty routine"), "")
		return
	}

	var snapshot CartSnapshot
	applied := 0
	for _, item := range payload.Items {
		variantID, err := NormalizeVariantID(item.ID)
		if err != nil {
			h.replyErrorApplied(frame, env, err, fmt.Sprintf("item %d of %d", applied+1, len(payload.Items)), applied)
			return
		}
		quantity := item.Quantity
		if quantity <= 0 {
			quantity = 1
		}
		snapshot, err = h.cart.AddItem(ctx, variantID, quantity)
		if err != nil {
			h.replyErrorApplied(frame, env, err, fmt.Sprintf("variant %d (item %d of %d)", variantID, applied+1, len(payload.Items)), applied)
			return
		}
		applied++
	}

	frame.Send(Envelope{Type: TypeCartUpdateOK, Payload: mustMarshal(snapshot), CorrelationID: env.CorrelationID})
	h.broadcast(Envelope{Type: TypeCartInitialState, Payload: mustMarshal(snapshot)})
}

func (h *Host) replyError(frame Transport, env Envelope, err error, context string) {
	h.replyErrorApplied(frame, env, err, context, 0)
}

func (h *Host) replyErrorApplied(frame Transport, env Envelope, err error, context string, applied int) {
	h.log.Warn("cart request failed", "type", env.Type, "error", err, "context", context)
	frame.Send(Envelope{
		Type: TypeCartUpdateError,
		Payload: mustMarshal(UpdateErrorPayload{
			Error:   err.Error(),
			Context: context,
			Applied: applied,
		}),
		CorrelationID: env.CorrelationID,
	})
}
