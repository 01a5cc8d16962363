package cartbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNoResponse reports that the host never answered within the correlation
// timeout. The host may simply not be listening yet; callers rely on the
// catch-up CART_INITIAL_STATE broadcast for eventual state.
var ErrNoResponse = errors.New("no response from host")

// ErrCartUpdate carries a host-side cart failure back to the caller.
type ErrCartUpdate struct {
	Payload UpdateErrorPayload
}

func (e *ErrCartUpdate) Error() string {
	if e.Payload.Context != "" {
		return fmt.Sprintf("cart update failed: %s (%s)", e.Payload.Error, e.Payload.Context)
	}
	return "cart update failed: " + e.Payload.Error
}

// DefaultRequestTimeout bounds how long a correlated request waits.
const DefaultRequestTimeout = 10 * time.Second

// Embedded is the widget side of the bridge. It turns in-app cart actions
// into correlated envelope requests and normalizes host responses into the
// app's cart model.
type Embedded struct {
	transport Transport
	timeout   time.Duration
	log       *slog.Logger

	mu       sync.Mutex
	pending  map[string]chan Envelope
	snapshot CartSnapshot
	haveSnap bool

	// OnSnapshot is invoked for every accepted snapshot, including repeated
	// broadcasts; it must therefore be idempotent.
	OnSnapshot func(CartSnapshot)
}

// NewEmbedded builds the embedded side over a frame transport.
func NewEmbedded(transport Transport, log *slog.Logger) *Embedded {
	if log == nil {
		log = slog.Default()
	}
	return &Embedded{
		transport: transport,
		timeout:   DefaultRequestTimeout,
		log:       log,
		pending:   make(map[string]chan Envelope),
	}
}

// Run dispatches incoming envelopes until the context ends or the transport
// closes. Replies with no matching outstanding request are dropped.
func (e *Embedded) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-e.transport.Receive():
			if !ok {
				return
			}
			e.dispatch(env)
		}
	}
}

func (e *Embedded) dispatch(env Envelope) {
	switch env.Type {
	case TypeCartInitialState:
		// Catch-up broadcast; no correlation. May arrive more than once
		// when several widgets share the page.
		e.acceptSnapshot(env)
	case TypeCartData, TypeCartUpdateOK, TypeCartUpdateError:
		if env.CorrelationID == "" {
			// Correlated reply types are only valid as answers to an
			// outstanding request; CART_INITIAL_STATE is the sole
			// uncorrelated broadcast.
			e.log.Debug("dropping reply without correlation id", "type", env.Type)
			return
		}
		e.mu.Lock()
		waiter, ok := e.pending[env.CorrelationID]
		if ok {
			delete(e.pending, env.CorrelationID)
		}
		e.mu.Unlock()
		if !ok {
			// Unsolicited reply; protocol noise, not a user-facing error.
			e.log.Debug("dropping uncorrelated reply", "type", env.Type, "correlation_id", env.CorrelationID)
			return
		}
		waiter <- env
	default:
		e.log.Debug("dropping unexpected envelope", "type", env.Type)
	}
}

func (e *Embedded) acceptSnapshot(env Envelope) {
	if env.Type == TypeCartUpdateError {
		return
	}
	var snapshot CartSnapshot
	if err := json.Unmarshal(env.Payload, &snapshot); err != nil {
		e.log.Debug("dropping malformed snapshot", "type", env.Type, "error", err)
		return
	}
	e.mu.Lock()
	e.snapshot = snapshot
	e.haveSnap = true
	callback := e.OnSnapshot
	e.mu.Unlock()
	if callback != nil {
		callback(snapshot)
	}
}

// Snapshot returns the last cart state received from the host.
func (e *Embedded) Snapshot() (CartSnapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot, e.haveSnap
}

// GetCart requests the current host cart.
func (e *Embedded) GetCart(ctx context.Context) (CartSnapshot, error) {
	return e.request(ctx, TypeGetCart, nil)
}

// AddToCart requests one variant add. The id may be native numeric or a
// structured global identifier; the host normalizes either shape.
func (e *Embedded) AddToCart(ctx context.Context, variantID json.RawMessage, quantity int) (CartSnapshot, error) {
	if quantity <= 0 {
		quantity = 1
	}
	return e.request(ctx, TypeAddToCart, mustMarshal(AddRequest{ID: variantID, Quantity: quantity}))
}

// RemoveFromCart requests removal of one variant.
func (e *Embedded) RemoveFromCart(ctx context.Context, variantID json.RawMessage) (CartSnapshot, error) {
	return e.request(ctx, TypeRemoveFromCart, mustMarshal(AddRequest{ID: variantID}))
}

// AddRoutine requests a bulk add. Items are applied in sequence by the host;
// when one fails, earlier adds stay applied and the failure names the item.
func (e *Embedded) AddRoutine(ctx context.Context, items []AddRequest) (CartSnapshot, error) {
	return e.request(ctx, TypeAddRoutineToCart, mustMarshal(RoutinePayload{Items: items}))
}

func (e *Embedded) request(ctx context.Context, msgType MessageType, payload json.RawMessage) (CartSnapshot, error) {
	correlationID := uuid.NewString()
	waiter := make(chan Envelope, 1)

	e.mu.Lock()
	e.pending[correlationID] = waiter
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.pending, correlationID)
		e.mu.Unlock()
	}()

	e.transport.Send(Envelope{Type: msgType, Payload: payload, CorrelationID: correlationID})

	timeout := e.timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return CartSnapshot{}, ctx.Err()
	case <-timer.C:
		return CartSnapshot{}, ErrNoResponse
	case env := <-waiter:
		return e.resolve(env)
	}
}

func (e *Embedded) resolve(env Envelope) (CartSnapshot, error) {
	if env.Type == TypeCartUpdateError {
		var payload UpdateErrorPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			payload = UpdateErrorPayload{Error: "unparseable host error"}
		}
		return CartSnapshot{}, &ErrCartUpdate{Payload: payload}
	}

	var snapshot CartSnapshot
	if err := json.Unmarshal(env.Payload, &snapshot); err != nil {
		return CartSnapshot{}, fmt.Errorf("malformed cart payload: %w", err)
	}
	e.mu.Lock()
	e.snapshot = snapshot
	e.haveSnap = true
	callback := e.OnSnapshot
	e.mu.Unlock()
	if callback != nil {
		callback(snapshot)
	}
	return snapshot, nil
}
