// Package cartbridge relays cart mutations between the embedded widget and
// the storefront page hosting it. The two sides never share a call stack;
// everything crosses the frame boundary as JSON envelopes.
package cartbridge

import "encoding/json"

// MessageType is the fixed vocabulary exchanged across the frame boundary.
type MessageType string

const (
	TypeGetCart          MessageType = "GET_CART"
	TypeAddToCart        MessageType = "ADD_TO_CART"
	TypeRemoveFromCart   MessageType = "REMOVE_FROM_CART"
	TypeAddRoutineToCart MessageType = "ADD_ROUTINE_TO_CART"

	TypeCartInitialState MessageType = "CART_INITIAL_STATE"
	TypeCartUpdateOK     MessageType = "CART_UPDATE_SUCCESS"
	TypeCartUpdateError  MessageType = "CART_UPDATE_ERROR"
	TypeCartData         MessageType = "CART_DATA"
)

// Envelope is the structured message crossing the frame boundary. Requests
// expecting a reply always carry a correlation id; replies without a matching
// outstanding request are dropped.
type Envelope struct {
	Type          MessageType     `json:"type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	// Origin is carried for logging. It is not cryptographically verified;
	// broadcasts use a wildcard target so the widget can be embedded across
	// storefront domains.
	Origin string `json:"origin,omitempty"`
}

// CartItem is one line in the normalized cart model.
type CartItem struct {
	VariantID int64  `json:"variantId"`
	Quantity  int    `json:"quantity"`
	Title     string `json:"title,omitempty"`
	LinePrice int64  `json:"linePrice,omitempty"`
}

// CartSnapshot is the read-mostly cart model shared with the embedded app.
// The app never mutates it directly; it requests a mutation and waits for an
// updated snapshot.
type CartSnapshot struct {
	ItemCount  int        `json:"itemCount"`
	TotalPrice int64      `json:"totalPrice"`
	Currency   string     `json:"currency"`
	Items      []CartItem `json:"items"`
}

// AddRequest is the payload of ADD_TO_CART and REMOVE_FROM_CART envelopes.
// ID may be a platform-native number or a structured global identifier.
type AddRequest struct {
	ID       json.RawMessage `json:"id"`
	Quantity int             `json:"quantity"`
}

// RoutinePayload is the payload of ADD_ROUTINE_TO_CART.
type RoutinePayload struct {
	Items []AddRequest `json:"items"`
}

// UpdateErrorPayload is the payload of CART_UPDATE_ERROR envelopes. Context
// carries per-item detail for bulk adds; earlier successful adds in the
// sequence stay applied.
type UpdateErrorPayload struct {
	Error   string `json:"error"`
	Context string `json:"context,omitempty"`
	Applied int    `json:"applied,omitempty"`
}

func mustMarshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
