package routes

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/helioma/facet/internal/cartrelay"
)

const sseKeepAliveInterval = 25 * time.Second

// CartEventRoutes registers the cart-update delivery endpoints: a server-sent
// event stream for live widgets and a pull fallback for everyone else.
type CartEventRoutes struct {
	relay *cartrelay.Relay
}

// NewCartEventRoutes constructs cart event routes.
func NewCartEventRoutes(relay *cartrelay.Relay) *CartEventRoutes {
	return &CartEventRoutes{relay: relay}
}

// RegisterRoutes registers cart delivery endpoints.
func (e *CartEventRoutes) RegisterRoutes(s *echo.Echo) {
	s.GET("/api/cart/events", e.handleStream)
	s.GET("/api/cart/pending", e.handlePending)
}

type cartUpdateEvent struct {
	Type       string `json:"type"`
	Shop       string `json:"shop"`
	ItemCount  int    `json:"itemCount"`
	TotalPrice int64  `json:"totalPrice"`
	Currency   string `json:"currency"`
	ReceivedAt string `json:"receivedAt"`
}

func (e *CartEventRoutes) handleStream(c echo.Context) error {
	shop, err := requireShop(c)
	if err != nil {
		return err
	}

	response := c.Response()
	response.Header().Set(echo.HeaderContentType, "text/event-stream")
	response.Header().Set("Cache-Control", "no-cache")
	response.Header().Set("Connection", "keep-alive")
	response.WriteHeader(http.StatusOK)

	connected, err := json.Marshal(struct {
		Type string `json:"type"`
		Shop string `json:"shop"`
	}{Type: "connected", Shop: shop})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(response, "data: %s\n\n", connected); err != nil {
		return nil
	}
	response.Flush()

	updates, cancel := e.relay.Subscribe(shop)
	defer cancel()

	// A snapshot that arrived before the stream opened is delivered as
	// catch-up so reconnecting widgets never miss the latest state.
	if snapshot, ok, err := e.relay.Pull(c.Request().Context(), shop); err == nil && ok {
		if err := writeSnapshotEvent(response, snapshot); err != nil {
			return nil
		}
	}

	keepAlive := time.NewTicker(sseKeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case snapshot := <-updates:
			if err := writeSnapshotEvent(response, snapshot); err != nil {
				return nil
			}
			// The push superseded any pending entry, drop it.
			_, _, _ = e.relay.Pull(c.Request().Context(), shop)
		case <-keepAlive.C:
			if _, err := fmt.Fprint(response, ": keep-alive\n\n"); err != nil {
				return nil
			}
			response.Flush()
		}
	}
}

func writeSnapshotEvent(response *echo.Response, snapshot cartrelay.Snapshot) error {
	payload, err := json.Marshal(cartUpdateEvent{
		Type:       "cart-updated",
		Shop:       snapshot.Shop,
		ItemCount:  snapshot.ItemCount,
		TotalPrice: snapshot.TotalPrice,
		Currency:   snapshot.Currency,
		ReceivedAt: snapshot.ReceivedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(response, "data: %s\n\n", payload); err != nil {
		return err
	}
	response.Flush()
	return nil
}

func (e *CartEventRoutes) handlePending(c echo.Context) error {
	shop, err := requireShop(c)
	if err != nil {
		return err
	}

	snapshot, ok, err := e.relay.Pull(c.Request().Context(), shop)
	if err != nil {
		return err
	}
	if !ok {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, cartUpdateEvent{
		Type:       "cart-updated",
		Shop:       snapshot.Shop,
		ItemCount:  snapshot.ItemCount,
		TotalPrice: snapshot.TotalPrice,
		Currency:   snapshot.Currency,
		ReceivedAt: snapshot.ReceivedAt.UTC().Format(time.RFC3339),
	})
}

func requireShop(c echo.Context) (string, error) {
	shop := strings.TrimSpace(c.QueryParam("shop"))
	if shop == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "missing shop parameter")
	}
	return shop, nil
}
