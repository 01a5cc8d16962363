package routes

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/helioma/facet/internal/blobstore"
	"github.com/helioma/facet/internal/db"
	"github.com/helioma/facet/internal/observability"
)

// ClientIdentityHeader carries the per-install widget identity.
const ClientIdentityHeader = "X-Client-Identity"

// TicketIssuer presigns upload targets.
type TicketIssuer interface {
	IssueTicket(ctx context.Context, contentType string) (blobstore.Ticket, error)
}

// TicketRecorder persists issued tickets.
type TicketRecorder interface {
	CreateUploadTicket(ctx context.Context, ticket db.UploadTicket) error
}

// UploadRoutes registers the presigned-upload endpoint.
type UploadRoutes struct {
	issuer   TicketIssuer
	recorder TicketRecorder
}

// NewUploadRoutes constructs upload routes.
func NewUploadRoutes(issuer TicketIssuer, recorder TicketRecorder) *UploadRoutes {
	return &UploadRoutes{issuer: issuer, recorder: recorder}
}

// RegisterRoutes registers upload endpoints.
func (u *UploadRoutes) RegisterRoutes(s *echo.Echo) {
	s.POST("/api/upload-url", u.handleUploadURL)
}

type uploadURLRequest struct {
	MimeType string            `json:"mimeType"`
	Metadata map[string]string `json:"metadata"`
}

type uploadURLResponse struct {
	TicketID  string `json:"ticketId"`
	UploadURL string `json:"uploadUrl"`
	PublicURL string `json:"publicUrl"`
	ObjectKey string `json:"objectKey"`
	MimeType  string `json:"mimeType"`
	ExpiresAt string `json:"expiresAt"`
}

func (u *UploadRoutes) handleUploadURL(c echo.Context) error {
	clientID, err := requireClientIdentity(c)
	if err != nil {
		return err
	}

	var request uploadURLRequest
	if err := c.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := observability.WithRequestIdentity(c.Request().Context(), clientID, "")

	ticket, err := u.issuer.IssueTicket(ctx, request.MimeType)
	if errors.Is(err, blobstore.ErrInvalidContentType) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return err
	}

	if err := u.recorder.CreateUploadTicket(ctx, db.UploadTicket{
		ID:          ticket.ID,
		ClientID:    clientID,
		ObjectKey:   ticket.ObjectKey,
		ContentType: ticket.ContentType,
		PublicURL:   ticket.PublicURL,
		ExpiresAt:   ticket.ExpiresAt,
	}); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, uploadURLResponse{
		TicketID:  ticket.ID,
		UploadURL: ticket.UploadURL,
		PublicURL: ticket.PublicURL,
		ObjectKey: ticket.ObjectKey,
		MimeType:  ticket.ContentType,
		ExpiresAt: ticket.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func requireClientIdentity(c echo.Context) (string, error) {
	clientID := c.Request().Header.Get(ClientIdentityHeader)
	if clientID == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "missing client identity")
	}
	return clientID, nil
}
