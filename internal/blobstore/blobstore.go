// Package blobstore issues presigned upload targets for capture photos on
// S3-compatible storage. Widgets never receive credentials, only a short-lived
// PUT URL scoped to one object key.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	capturePathPrefix = "captures"
	defaultTicketTTL  = 15 * time.Minute
	maxTicketTTL      = time.Hour
)

var (
	// ErrInvalidContentType rejects anything but the capture image formats.
	ErrInvalidContentType = errors.New("invalid content type, only JPEG, PNG and WebP images are allowed")
	// ErrBucketUnavailable signals bucket setup failure.
	ErrBucketUnavailable = errors.New("storage bucket unavailable")

	allowedContentTypes = map[string]string{
		"image/jpeg": ".jpg",
		"image/png":  ".png",
		"image/webp": ".webp",
	}
)

// Ticket is a presigned upload grant handed to the widget.
type Ticket struct {
	ID          string
	ObjectKey   string
	UploadURL   string
	PublicURL   string
	ContentType string
	ExpiresAt   time.Time
}

// Store issues tickets against one bucket.
type Store struct {
	client    *minio.Client
	bucket    string
	publicURL string
	ttl       time.Duration
}

// Options configures a Store.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
	PublicURL string
	TicketTTL time.Duration
}

// New creates a ticket store. Bucket existence is checked lazily via
// EnsureBucket so construction stays dial-free.
func New(opts Options) (*Store, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	ttl := opts.TicketTTL
	if ttl <= 0 {
		ttl = defaultTicketTTL
	}
	if ttl > maxTicketTTL {
		ttl = maxTicketTTL
	}

	return &Store{
		client:    client,
		bucket:    opts.Bucket,
		publicURL: strings.TrimRight(strings.TrimSpace(opts.PublicURL), "/"),
		ttl:       ttl,
	}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("%w: check bucket: %v", ErrBucketUnavailable, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("%w: create bucket: %v", ErrBucketUnavailable, err)
		}
	}
	return nil
}

// IssueTicket presigns a PUT for one new capture object.
func (s *Store) IssueTicket(ctx context.Context, contentType string) (Ticket, error) {
	normalized := strings.ToLower(strings.TrimSpace(contentType))
	ext, ok := allowedContentTypes[normalized]
	if !ok {
		return Ticket{}, ErrInvalidContentType
	}

	id := uuid.NewString()
	objectKey := fmt.Sprintf("%s/%s%s", capturePathPrefix, id, ext)

	uploadURL, err := s.client.PresignedPutObject(ctx, s.bucket, objectKey, s.ttl)
	if err != nil {
		return Ticket{}, fmt.Errorf("presign upload: %w", err)
	}

	return Ticket{
		ID:          id,
		ObjectKey:   objectKey,
		UploadURL:   uploadURL.String(),
		PublicURL:   s.objectPublicURL(objectKey),
		ContentType: normalized,
		ExpiresAt:   time.Now().Add(s.ttl),
	}, nil
}

// TicketTTL reports how long issued tickets stay valid.
func (s *Store) TicketTTL() time.Duration {
	return s.ttl
}

func (s *Store) objectPublicURL(objectKey string) string {
	if s.publicURL != "" {
		return s.publicURL + "/" + objectKey
	}
	return strings.TrimRight(s.client.EndpointURL().String(), "/") + "/" + s.bucket + "/" + objectKey
}
