package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/helioma/facet/internal/db"
	"github.com/helioma/facet/internal/inference"
	"github.com/helioma/facet/internal/observability"
)

// Analyzer submits images to the upstream model.
type Analyzer interface {
	Enabled() bool
	Analyze(ctx context.Context, imageURL string, userData map[string]string) (inference.Result, error)
}

// JobStore persists deferred analysis jobs.
type JobStore interface {
	CreateInferenceJob(ctx context.Context, job db.InferenceJob) error
	GetInferenceJob(ctx context.Context, id string) (db.InferenceJob, error)
}

// InferRoutes registers the analysis proxy endpoints.
type InferRoutes struct {
	analyzer Analyzer
	jobs     JobStore
}

// NewInferRoutes constructs inference routes.
func NewInferRoutes(analyzer Analyzer, jobs JobStore) *InferRoutes {
	return &InferRoutes{analyzer: analyzer, jobs: jobs}
}

// RegisterRoutes registers inference endpoints.
func (i *InferRoutes) RegisterRoutes(s *echo.Echo) {
	s.POST("/api/infer", i.handleInfer)
	s.GET("/api/infer/results/:id", i.handleResult)
}

type inferRequest struct {
	ImageURL string            `json:"imageUrl"`
	UserData map[string]string `json:"userData"`
	Metadata map[string]string `json:"metadata"`
}

type inferQueuedResponse struct {
	JobID      string `json:"jobId"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

func (i *InferRoutes) handleInfer(c echo.Context) error {
	clientID, err := requireClientIdentity(c)
	if err != nil {
		return err
	}

	var request inferRequest
	if err := c.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	request.ImageURL = strings.TrimSpace(request.ImageURL)
	if request.ImageURL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "imageUrl is required")
	}
	if !i.analyzer.Enabled() {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "analysis upstream not configured")
	}

	ctx := observability.WithRequestIdentity(c.Request().Context(), clientID, "")

	result, err := i.analyzer.Analyze(ctx, request.ImageURL, request.UserData)
	if err != nil {
		var upstreamErr *inference.UpstreamError
		if errors.As(err, &upstreamErr) {
			if upstreamErr.Retryable() {
				// Upstream is struggling, hand the work to the background runner.
				return i.enqueue(c, ctx, clientID, request, 0)
			}
			return echo.NewHTTPError(http.StatusUnprocessableEntity, upstreamErr.Body)
		}
		return err
	}

	if result.Queued {
		return i.enqueue(c, ctx, clientID, request, int(result.RetryAfter.Seconds()))
	}

	return c.JSONBlob(http.StatusOK, result.Raw)
}

func (i *InferRoutes) enqueue(c echo.Context, ctx context.Context, clientID string, request inferRequest, retryAfter int) error {
	job := db.InferenceJob{
		ID:           uuid.NewString(),
		ClientID:     clientID,
		ImageURL:     request.ImageURL,
		UserDataJSON: encodeUserData(request.UserData),
	}
	if err := i.jobs.CreateInferenceJob(ctx, job); err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, inferQueuedResponse{JobID: job.ID, RetryAfter: retryAfter})
}

func encodeUserData(userData map[string]string) string {
	if len(userData) == 0 {
		return ""
	}
	raw, err := json.Marshal(userData)
	if err != nil {
		return ""
	}
	return string(raw)
}

type resultResponse struct {
	JobID  string          `json:"jobId"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func (i *InferRoutes) handleResult(c echo.Context) error {
	if _, err := requireClientIdentity(c); err != nil {
		return err
	}

	job, err := i.jobs.GetInferenceJob(c.Request().Context(), c.Param("id"))
	if errors.Is(err, db.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown job")
	}
	if err != nil {
		return err
	}

	response := resultResponse{JobID: job.ID, Status: job.Status}
	switch job.Status {
	case db.JobStatusCompleted:
		response.Result = json.RawMessage(job.ResultJSON)
	case db.JobStatusFailed:
		response.Error = job.LastError
	}
	return c.JSON(http.StatusOK, response)
}
