// Package cartevents publishes cart-update notifications as CloudEvents to
// downstream HTTP sinks (analytics, audit). Events are emitted after webhook
// verification, so consumers can trust the snapshot they carry.
package cartevents

import (
	"fmt"
	"strings"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	ceevent "github.com/cloudevents/sdk-go/v2/event"
	"github.com/google/uuid"
)

const (
	// TypeCartUpdated is the CloudEvents type for relay notifications.
	TypeCartUpdated = "com.helioma.facet.cart.updated"
	// defaultSource identifies the relay as event producer.
	defaultSource = "facet/cart-relay"
)

// Update is the payload carried in a cart-updated event.
type Update struct {
	Shop       string `json:"shop"`
	ItemCount  int    `json:"itemCount"`
	TotalPrice int64  `json:"totalPrice"`
	Currency   string `json:"currency"`
	ReceivedAt string `json:"receivedAt"`
}

// BuildEvent wraps an update in a CloudEvent envelope.
func BuildEvent(update Update) (ceevent.Event, error) {
	shop := strings.TrimSpace(update.Shop)
	if shop == "" {
		return ceevent.Event{}, fmt.Errorf("shop is required")
	}
	if update.ReceivedAt == "" {
		update.ReceivedAt = time.Now().UTC().Format(time.RFC3339)
	}

	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetType(TypeCartUpdated)
	event.SetSource(defaultSource)
	event.SetSubject("shop/" + shop)
	event.SetTime(time.Now().UTC())
	if err := event.SetData(cloudevents.ApplicationJSON, update); err != nil {
		return ceevent.Event{}, fmt.Errorf("set event data: %w", err)
	}
	return event, nil
}
