package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/helioma/facet/internal/cartrelay"
	cartwebhook "github.com/helioma/facet/internal/webhooks/cart"
)

// WebhookRoutes registers webhook endpoints.
type WebhookRoutes struct {
	cart *cartwebhook.Handler
}

// NewWebhookRoutes constructs webhook routes.
func NewWebhookRoutes(secret string, relay *cartrelay.Relay) *WebhookRoutes {
	return &WebhookRoutes{
		cart: cartwebhook.NewHandler(secret, relay),
	}
}

// RegisterRoutes registers webhook endpoints.
func (w *WebhookRoutes) RegisterRoutes(s *echo.Echo) {
	s.POST("/webhooks/cart", w.handleCartWebhook)
}

func (w *WebhookRoutes) handleCartWebhook(c echo.Context) error {
	return w.cart.Handle(c.Response(), c.Request())
}
