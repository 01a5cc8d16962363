package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Inference job statuses.
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// UploadTicket is one issued presigned-upload grant.
type UploadTicket struct {
	ID          string
	ClientID    string
	ObjectKey   string
	ContentType string
	PublicURL   string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// InferenceJob is one queued or resolved analysis request.
type InferenceJob struct {
	ID       string
	ClientID string
	ImageURL string
	// UserDataJSON carries the caller's profile metadata as a JSON object,
	// forwarded verbatim to the upstream model on every attempt.
	UserDataJSON string
	Status       string
	ResultJSON   string
	LastError    string
	Attempts     int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const createUploadTicketQuery = `-- name: facet CreateUploadTicket :exec
INSERT INTO upload_tickets (id, client_id, object_key, content_type, public_url, expires_at)
VALUES (?, ?, ?, ?, ?, ?)`

// CreateUploadTicket records an issued upload ticket.
func (c *Database) CreateUploadTicket(ctx context.Context, ticket UploadTicket) error {
	_, err := c.q.ExecContext(ctx, createUploadTicketQuery,
		ticket.ID, ticket.ClientID, ticket.ObjectKey, ticket.ContentType, ticket.PublicURL, ticket.ExpiresAt.Unix())
	if err != nil {
		return fmt.Errorf("create upload ticket: %w", err)
	}
	return nil
}

const getUploadTicketQuery = `-- name: facet GetUploadTicket :one
SELECT id, client_id, object_key, content_type, public_url, expires_at, created_at
FROM upload_tickets WHERE id = ?`

// GetUploadTicket fetches one ticket by id.
func (c *Database) GetUploadTicket(ctx context.Context, id string) (UploadTicket, error) {
	var (
		ticket    UploadTicket
		expiresAt int64
		createdAt int64
	)
	err := c.q.QueryRowContext(ctx, getUploadTicketQuery, id).Scan(
		&ticket.ID, &ticket.ClientID, &ticket.ObjectKey, &ticket.ContentType, &ticket.PublicURL, &expiresAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return UploadTicket{}, ErrNotFound
	}
	if err != nil {
		return UploadTicket{}, fmt.Errorf("get upload ticket: %w", err)
	}
	ticket.ExpiresAt = time.Unix(expiresAt, 0)
	ticket.CreatedAt = time.Unix(createdAt, 0)
	return ticket, nil
}

const deleteExpiredTicketsQuery = `-- name: facet DeleteExpiredUploadTickets :exec
DELETE FROM upload_tickets WHERE expires_at < ?`

// DeleteExpiredUploadTickets removes tickets past their expiry. Returns the
// number of removed rows.
func (c *Database) DeleteExpiredUploadTickets(ctx context.Context, now time.Time) (int64, error) {
	result, err := c.q.ExecContext(ctx, deleteExpiredTicketsQuery, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("delete expired tickets: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return removed, nil
}

const createInferenceJobQuery = `-- name: facet CreateInferenceJob :exec
INSERT INTO inference_jobs (id, client_id, image_url, user_data, status)
VALUES (?, ?, ?, ?, ?)`

// CreateInferenceJob records a job accepted for deferred processing.
func (c *Database) CreateInferenceJob(ctx context.Context, job InferenceJob) error {
	status := job.Status
	if status == "" {
		status = JobStatusQueued
	}
	_, err := c.q.ExecContext(ctx, createInferenceJobQuery, job.ID, job.ClientID, job.ImageURL, job.UserDataJSON, status)
	if err != nil {
		return fmt.Errorf("create inference job: %w", err)
	}
	return nil
}

const getInferenceJobQuery = `-- name: facet GetInferenceJob :one
SELECT id, client_id, image_url, user_data, status, result_json, last_error, attempts, created_at, updated_at
FROM inference_jobs WHERE id = ?`

// GetInferenceJob fetches one job by id.
func (c *Database) GetInferenceJob(ctx context.Context, id string) (InferenceJob, error) {
	var (
		job       InferenceJob
		createdAt int64
		updatedAt int64
	)
	err := c.q.QueryRowContext(ctx, getInferenceJobQuery, id).Scan(
		&job.ID, &job.ClientID, &job.ImageURL, &job.UserDataJSON, &job.Status, &job.ResultJSON, &job.LastError, &job.Attempts, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return InferenceJob{}, ErrNotFound
	}
	if err != nil {
		return InferenceJob{}, fmt.Errorf("get inference job: %w", err)
	}
	job.CreatedAt = time.Unix(createdAt, 0)
	job.UpdatedAt = time.Unix(updatedAt, 0)
	return job, nil
}

const listQueuedJobsQuery = `-- name: facet ListQueuedInferenceJobs :many
SELECT id, client_id, image_url, user_data, status, result_json, last_error, attempts, created_at, updated_at
FROM inference_jobs WHERE status = 'queued' ORDER BY created_at ASC LIMIT ?`

// ListQueuedInferenceJobs returns jobs waiting on the upstream model, oldest first.
func (c *Database) ListQueuedInferenceJobs(ctx context.Context, limit int64) ([]InferenceJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := c.q.QueryContext(ctx, listQueuedJobsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("list queued jobs: %w", err)
	}
	defer rows.Close()

	var jobs []InferenceJob
	for rows.Next() {
		var (
			job       InferenceJob
			createdAt int64
			updatedAt int64
		)
		if err := rows.Scan(&job.ID, &job.ClientID, &job.ImageURL, &job.UserDataJSON, &job.Status, &job.ResultJSON, &job.LastError, &job.Attempts, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan queued job: %w", err)
		}
		job.CreatedAt = time.Unix(createdAt, 0)
		job.UpdatedAt = time.Unix(updatedAt, 0)
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

const markJobRunningQuery = `-- name: facet MarkInferenceJobRunning :exec
UPDATE inference_jobs
SET status = 'running', attempts = attempts + 1, updated_at = unixepoch()
WHERE id = ? AND status IN ('queued', 'running')`

// MarkInferenceJobRunning transitions a job to running and counts the attempt.
func (c *Database) MarkInferenceJobRunning(ctx context.Context, id string) error {
	result, err := c.q.ExecContext(ctx, markJobRunningQuery, id)
	if err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

const completeJobQuery = `-- name: facet CompleteInferenceJob :exec
UPDATE inference_jobs
SET status = 'completed', result_json = ?, last_error = '', updated_at = unixepoch()
WHERE id = ?`

// CompleteInferenceJob stores the upstream result and finishes the job.
func (c *Database) CompleteInferenceJob(ctx context.Context, id, resultJSON string) error {
	_, err := c.q.ExecContext(ctx, completeJobQuery, resultJSON, id)
	if err != nil {
		return fmt.Errorf("complete inference job: %w", err)
	}
	return nil
}

const failJobQuery = `-- name: facet FailInferenceJob :exec
UPDATE inference_jobs
SET status = ?, last_error = ?, updated_at = unixepoch()
WHERE id = ?`

// FailInferenceJob records a failed attempt. Jobs under the attempt budget go
// back to queued for the next poll cycle.
func (c *Database) FailInferenceJob(ctx context.Context, id, lastError string, retryable bool) error {
	status := JobStatusFailed
	if retryable {
		status = JobStatusQueued
	}
	_, err := c.q.ExecContext(ctx, failJobQuery, status, lastError, id)
	if err != nil {
		return fmt.Errorf("fail inference job: %w", err)
	}
	return nil
}
