package blobstore

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T, publicURL string) *Store {
	t.Helper()
	store, err := New(Options{
		Endpoint:  "localhost:9000",
		AccessKey: "test-access",
		SecretKey: "test-secret",
		Bucket:    "facet-captures",
		Region:    "us-east-1",
		PublicURL: publicURL,
		TicketTTL: 10 * time.Minute,
	})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return store
}

func TestIssueTicketPresignsWithoutDialing(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, "https://cdn.example.com")
	ticket, err := store.IssueTicket(context.Background(), "image/jpeg")
	if err != nil {
		t.Fatalf("issue ticket: %v", err)
	}

	if !strings.HasPrefix(ticket.ObjectKey, "captures/") || !strings.HasSuffix(ticket.ObjectKey, ".jpg") {
		t.Fatalf("unexpected object key %q", ticket.ObjectKey)
	}
	if ticket.PublicURL != "https://cdn.example.com/"+ticket.ObjectKey {
		t.Fatalf("unexpected public url %q", ticket.PublicURL)
	}

	parsed, err := url.Parse(ticket.UploadURL)
	if err != nil {
		t.Fatalf("parse upload url: %v", err)
	}
	if !strings.Contains(parsed.Path, ticket.ObjectKey) {
		t.Fatalf("upload url %q does not target object key", ticket.UploadURL)
	}
	if parsed.Query().Get("X-Amz-Signature") == "" {
		t.Fatalf("upload url %q is not presigned", ticket.UploadURL)
	}
	if remaining := time.Until(ticket.ExpiresAt); remaining <= 0 || remaining > 10*time.Minute {
		t.Fatalf("unexpected expiry window %v", remaining)
	}
}

func TestIssueTicketRejectsUnsupportedTypes(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, "")
	for _, contentType := range []string{"image/gif", "application/pdf", "", "text/html"} {
		if _, err := store.IssueTicket(context.Background(), contentType); !errors.Is(err, ErrInvalidContentType) {
			t.Fatalf("content type %q: expected ErrInvalidContentType, got %v", contentType, err)
		}
	}
}

func TestIssueTicketNormalizesContentType(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, "")
	ticket, err := store.IssueTicket(context.Background(), "  IMAGE/WEBP ")
	if err != nil {
		t.Fatalf("issue ticket: %v", err)
	}
	if ticket.ContentType != "image/webp" || !strings.HasSuffix(ticket.ObjectKey, ".webp") {
		t.Fatalf("unexpected ticket: %+v", ticket)
	}
}

func TestPublicURLFallsBackToEndpoint(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, "")
	ticket, err := store.IssueTicket(context.Background(), "image/png")
	if err != nil {
		t.Fatalf("issue ticket: %v", err)
	}
	if !strings.Contains(ticket.PublicURL, "facet-captures/"+ticket.ObjectKey) {
		t.Fatalf("unexpected fallback public url %q", ticket.PublicURL)
	}
}
