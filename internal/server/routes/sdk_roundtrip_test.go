package routes

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/helioma/facet/internal/blobstore"
	"github.com/helioma/facet/pkg/apiclient"
	"github.com/helioma/facet/pkg/pipeline"
)

// Drives the real SDK service through the resilient client against the real
// upload route backed by real ticket validation, so a field drift between the
// two sides cannot hide behind per-side fakes.
func TestUploadURLServesSDKService(t *testing.T) {
	t.Parallel()

	store, err := blobstore.New(blobstore.Options{
		Endpoint:  "storage.local:9000",
		AccessKey: "facet-access",
		SecretKey: "facet-secret",
		Bucket:    "captures",
		Region:    "us-east-1",
		PublicURL: "https://cdn.example.com",
	})
	if err != nil {
		t.Fatalf("create blob store: %v", err)
	}

	recorder := &fakeRecorder{}
	e := newEcho()
	NewUploadRoutes(store, recorder).RegisterRoutes(e)
	srv := httptest.NewServer(e)
	defer srv.Close()

	service := pipeline.NewService(apiclient.New(srv.URL, "client-sdk"))

	ticket, err := service.RequestUploadTicket(context.Background(), "image/jpeg")
	if err != nil {
		t.Fatalf("request upload ticket: %v", err)
	}
	if ticket.UploadURL == "" || ticket.PublicURL == "" {
		t.Fatalf("incomplete ticket %+v", ticket)
	}
	if ticket.MimeType != "image/jpeg" {
		t.Fatalf("expected accepted mime type on ticket, got %+v", ticket)
	}
	if len(recorder.tickets) != 1 || recorder.tickets[0].ClientID != "client-sdk" {
		t.Fatalf("expected recorded ticket for SDK identity, got %+v", recorder.tickets)
	}

	var validationErr *apiclient.ValidationError
	if _, err := service.RequestUploadTicket(context.Background(), "image/gif"); !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error for rejected mime type, got %v", err)
	}
}
