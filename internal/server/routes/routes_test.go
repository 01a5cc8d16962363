package routes

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/helioma/facet/internal/blobstore"
	"github.com/helioma/facet/internal/cartrelay"
	"github.com/helioma/facet/internal/db"
	"github.com/helioma/facet/internal/inference"
)

type fakeIssuer struct {
	ticket blobstore.Ticket
	err    error
}

func (f *fakeIssuer) IssueTicket(_ context.Context, contentType string) (blobstore.Ticket, error) {
	if f.err != nil {
		return blobstore.Ticket{}, f.err
	}
	ticket := f.ticket
	ticket.ContentType = contentType
	return ticket, nil
}

type fakeRecorder struct {
	tickets []db.UploadTicket
}

func (f *fakeRecorder) CreateUploadTicket(_ context.Context, ticket db.UploadTicket) error {
	f.tickets = append(f.tickets, ticket)
	return nil
}

func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

func TestUploadURLIssuesTicket(t *testing.T) {
	t.Parallel()

	issuer := &fakeIssuer{ticket: blobstore.Ticket{
		ID:        "t-1",
		ObjectKey: "captures/t-1.jpg",
		UploadURL: "https://storage/captures/t-1.jpg?sig=x",
		PublicURL: "https://cdn/captures/t-1.jpg",
		ExpiresAt: time.Now().Add(15 * time.Minute),
	}}
	recorder := &fakeRecorder{}
	e := newEcho()
	NewUploadRoutes(issuer, recorder).RegisterRoutes(e)

	req := httptest.NewRequest(http.MethodPost, "/api/upload-url", strings.NewReader(`{"mimeType":"image/jpeg"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(ClientIdentityHeader, "client-a")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var response uploadURLResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.TicketID != "t-1" || response.UploadURL == "" {
		t.Fatalf("unexpected response %+v", response)
	}
	if response.MimeType != "image/jpeg" {
		t.Fatalf("expected accepted mime type echoed back, got %+v", response)
	}
	if len(recorder.tickets) != 1 || recorder.tickets[0].ClientID != "client-a" {
		t.Fatalf("expected recorded ticket for client, got %+v", recorder.tickets)
	}
}

func TestUploadURLRequiresIdentity(t *testing.T) {
	t.Parallel()

	e := newEcho()
	NewUploadRoutes(&fakeIssuer{}, &fakeRecorder{}).RegisterRoutes(e)

	req := httptest.NewRequest(http.MethodPost, "/api/upload-url", strings.NewReader(`{"mimeType":"image/jpeg"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUploadURLRejectsBadContentType(t *testing.T) {
	t.Parallel()

	e := newEcho()
	NewUploadRoutes(&fakeIssuer{err: blobstore.ErrInvalidContentType}, &fakeRecorder{}).RegisterRoutes(e)

	req := httptest.NewRequest(http.MethodPost, "/api/upload-url", strings.NewReader(`{"mimeType":"image/gif"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(ClientIdentityHeader, "client-a")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

type fakeAnalyzer struct {
	result   inference.Result
	err      error
	userData map[string]string
}

func (f *fakeAnalyzer) Enabled() bool { return true }

func (f *fakeAnalyzer) Analyze(_ context.Context, _ string, userData map[string]string) (inference.Result, error) {
	f.userData = userData
	return f.result, f.err
}

type fakeJobStore struct {
	jobs map[string]db.InferenceJob
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]db.InferenceJob)}
}

func (f *fakeJobStore) CreateInferenceJob(_ context.Context, job db.InferenceJob) error {
	if job.Status == "" {
		job.Status = db.JobStatusQueued
	}
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeJobStore) GetInferenceJob(_ context.Context, id string) (db.InferenceJob, error) {
	job, ok := f.jobs[id]
	if !ok {
		return db.InferenceJob{}, db.ErrNotFound
	}
	return job, nil
}

func inferRequestFor(t *testing.T, e *echo.Echo, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/infer", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(ClientIdentityHeader, "client-a")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestInferReturnsResult(t *testing.T) {
	t.Parallel()

	e := newEcho()
	analyzer := &fakeAnalyzer{result: inference.Result{Raw: json.RawMessage(`{"skinType":"dry"}`)}}
	NewInferRoutes(analyzer, newFakeJobStore()).RegisterRoutes(e)

	rec := inferRequestFor(t, e, `{"imageUrl":"https://cdn/x.jpg"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "skinType") {
		t.Fatalf("expected model payload, got %s", rec.Body.String())
	}
}

func TestInferQueuesDeferredWork(t *testing.T) {
	t.Parallel()

	e := newEcho()
	analyzer := &fakeAnalyzer{result: inference.Result{Queued: true, RetryAfter: 90 * time.Second}}
	jobs := newFakeJobStore()
	NewInferRoutes(analyzer, jobs).RegisterRoutes(e)

	rec := inferRequestFor(t, e, `{"imageUrl":"https://cdn/x.jpg"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var response inferQueuedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.JobID == "" || response.RetryAfter != 90 {
		t.Fatalf("unexpected response %+v", response)
	}
	if _, ok := jobs.jobs[response.JobID]; !ok {
		t.Fatal("expected job to be persisted")
	}
}

func TestInferForwardsUserData(t *testing.T) {
	t.Parallel()

	e := newEcho()
	analyzer := &fakeAnalyzer{result: inference.Result{Queued: true}}
	jobs := newFakeJobStore()
	NewInferRoutes(analyzer, jobs).RegisterRoutes(e)

	rec := inferRequestFor(t, e, `{"imageUrl":"https://cdn/x.jpg","userData":{"age":"31","skinGoal":"hydration"}}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if analyzer.userData["skinGoal"] != "hydration" {
		t.Fatalf("expected user data forwarded upstream, got %+v", analyzer.userData)
	}

	var response inferQueuedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	job, ok := jobs.jobs[response.JobID]
	if !ok {
		t.Fatal("expected job to be persisted")
	}
	if !strings.Contains(job.UserDataJSON, `"skinGoal":"hydration"`) {
		t.Fatalf("expected user data on the job row, got %q", job.UserDataJSON)
	}
}

func TestInferQueuesOnRetryableUpstreamFailure(t *testing.T) {
	t.Parallel()

	e := newEcho()
	analyzer := &fakeAnalyzer{err: &inference.UpstreamError{Status: http.StatusServiceUnavailable, Body: "overloaded"}}
	jobs := newFakeJobStore()
	NewInferRoutes(analyzer, jobs).RegisterRoutes(e)

	rec := inferRequestFor(t, e, `{"imageUrl":"https://cdn/x.jpg"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(jobs.jobs) != 1 {
		t.Fatalf("expected one queued job, got %d", len(jobs.jobs))
	}
}

func TestInferSurfacesRejection(t *testing.T) {
	t.Parallel()

	e := newEcho()
	analyzer := &fakeAnalyzer{err: &inference.UpstreamError{Status: http.StatusUnprocessableEntity, Body: "no face detected"}}
	NewInferRoutes(analyzer, newFakeJobStore()).RegisterRoutes(e)

	rec := inferRequestFor(t, e, `{"imageUrl":"https://cdn/x.jpg"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestInferResultLookup(t *testing.T) {
	t.Parallel()

	e := newEcho()
	jobs := newFakeJobStore()
	jobs.jobs["job-1"] = db.InferenceJob{ID: "job-1", Status: db.JobStatusCompleted, ResultJSON: `{"skinType":"oily"}`}
	NewInferRoutes(&fakeAnalyzer{}, jobs).RegisterRoutes(e)

	req := httptest.NewRequest(http.MethodGet, "/api/infer/results/job-1", nil)
	req.Header.Set(ClientIdentityHeader, "client-a")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var response resultResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.Status != db.JobStatusCompleted || len(response.Result) == 0 {
		t.Fatalf("unexpected response %+v", response)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/infer/results/missing", nil)
	req.Header.Set(ClientIdentityHeader, "client-a")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func newRelay(t *testing.T) *cartrelay.Relay {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return cartrelay.New(cartrelay.NewMemoryStore(), nil, log, time.Minute)
}

func TestPendingPullFallback(t *testing.T) {
	t.Parallel()

	relay := newRelay(t)
	e := newEcho()
	NewCartEventRoutes(relay).RegisterRoutes(e)

	if err := relay.Accept(context.Background(), cartrelay.Snapshot{Shop: "s1", ItemCount: 4, Currency: "USD"}); err != nil {
		t.Fatalf("accept: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/cart/pending?shop=s1", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var event cartUpdateEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.Type != "cart-updated" || event.ItemCount != 4 {
		t.Fatalf("unexpected event %+v", event)
	}

	// Delivered entries are removed.
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cart/pending?shop=s1", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 after delivery, got %d", rec.Code)
	}
}

func TestPendingRequiresShop(t *testing.T) {
	t.Parallel()

	e := newEcho()
	NewCartEventRoutes(newRelay(t)).RegisterRoutes(e)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cart/pending", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStreamDeliversCatchUpSnapshot(t *testing.T) {
	t.Parallel()

	relay := newRelay(t)
	e := newEcho()
	NewCartEventRoutes(relay).RegisterRoutes(e)

	if err := relay.Accept(context.Background(), cartrelay.Snapshot{Shop: "s1", ItemCount: 2, Currency: "EUR"}); err != nil {
		t.Fatalf("accept: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/cart/events?shop=s1", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, `{"type":"connected","shop":"s1"}`) {
		t.Fatalf("missing connected event naming the shop in %q", body)
	}
	if !strings.Contains(body, `"type":"cart-updated"`) || !strings.Contains(body, `"itemCount":2`) {
		t.Fatalf("missing catch-up snapshot in %q", body)
	}
	if got := rec.Header().Get(echo.HeaderContentType); got != "text/event-stream" {
		t.Fatalf("unexpected content type %q", got)
	}
}

func TestRateLimiterEnforcesBudget(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	e := newEcho()
	e.Use(NewRateLimiter(client, 2, time.Minute).Middleware())
	e.GET("/api/ping", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	doRequest := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
		req.Header.Set(ClientIdentityHeader, "client-a")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := doRequest(); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}

	rec := doRequest()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Reset") == "" || rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected rate limit headers, got %+v", rec.Header())
	}
}

func TestRateLimiterSkipsWebhooksAndAnonymous(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	e := newEcho()
	e.Use(NewRateLimiter(client, 1, time.Minute).Middleware())
	e.POST("/webhooks/cart", func(c echo.Context) error { return c.NoContent(http.StatusAccepted) })
	e.GET("/api/ping", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/cart", nil))
		if rec.Code != http.StatusAccepted {
			t.Fatalf("webhook request %d limited: %d", i, rec.Code)
		}

		rec = httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ping", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("anonymous request %d limited: %d", i, rec.Code)
		}
	}
}
