package inference

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/helioma/facet/internal/db"
)

const (
	defaultPollInterval = 15 * time.Second
	defaultMaxAttempts  = 5
	jobBatchSize        = 25
)

// Runner resolves queued analysis jobs against the upstream in the background.
type Runner struct {
	store       *db.Database
	client      *Client
	log         *slog.Logger
	interval    time.Duration
	maxAttempts int64
}

// NewRunner builds a job runner.
func NewRunner(store *db.Database, client *Client, log *slog.Logger, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Runner{
		store:       store,
		client:      client,
		log:         log,
		interval:    interval,
		maxAttempts: defaultMaxAttempts,
	}
}

// Run polls for queued jobs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) {
	if !r.client.Enabled() {
		r.log.Warn("inference upstream not configured, queued jobs will not resolve")
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.ProcessOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.log.Error("inference poll cycle failed", "error", err)
			}
		}
	}
}

// ProcessOnce drains one batch of queued jobs.
func (r *Runner) ProcessOnce(ctx context.Context) error {
	jobs, err := r.store.ListQueuedInferenceJobs(ctx, jobBatchSize)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.resolve(ctx, job)
	}
	return nil
}

func (r *Runner) resolve(ctx context.Context, job db.InferenceJob) {
	if err := r.store.MarkInferenceJobRunning(ctx, job.ID); err != nil {
		r.log.Warn("skip job", "job_id", job.ID, "error", err)
		return
	}

	result, err := r.client.Analyze(ctx, job.ImageURL, decodeUserData(job.UserDataJSON))
	if err != nil {
		retryable := false
		var upstreamErr *UpstreamError
		if errors.As(err, &upstreamErr) {
			retryable = upstreamErr.Retryable()
		}
		if retryable && job.Attempts+1 >= r.maxAttempts {
			retryable = false
		}
		if failErr := r.store.FailInferenceJob(ctx, job.ID, err.Error(), retryable); failErr != nil {
			r.log.Error("record job failure", "job_id", job.ID, "error", failErr)
		}
		r.log.Warn("analysis attempt failed", "job_id", job.ID, "retryable", retryable, "error", err)
		return
	}

	if result.Queued {
		// Upstream still busy, push back to queued for the next cycle.
		if failErr := r.store.FailInferenceJob(ctx, job.ID, "upstream still processing", true); failErr != nil {
			r.log.Error("requeue job", "job_id", job.ID, "error", failErr)
		}
		return
	}

	if err := r.store.CompleteInferenceJob(ctx, job.ID, string(result.Raw)); err != nil {
		r.log.Error("record job result", "job_id", job.ID, "error", err)
		return
	}
	r.log.Info("analysis job completed", "job_id", job.ID, "attempts", job.Attempts+1)
}

// decodeUserData tolerates rows without metadata; an unreadable blob is
// treated as absent rather than blocking the job.
func decodeUserData(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	var userData map[string]string
	if err := json.Unmarshal([]byte(raw), &userData); err != nil {
		return nil
	}
	return userData
}
