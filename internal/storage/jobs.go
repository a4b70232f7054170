// Package storage persists job records and platform credentials in PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/fanout-publisher/internal/domain"
)

const jobColumns = `
	id, submission_id, video_hash, storage_key, file_size, duration, platform,
	title, description, tags, options, status, platform_job_id, public_url, error_message,
	retry_count, telegram_user_id, telegram_message_id, created_at, updated_at, published_at`

// JobStore handles publish_jobs persistence
type JobStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewJobStore creates a new JobStore
func NewJobStore(db *sqlx.DB, logger *slog.Logger) *JobStore {
	return &JobStore{
		db:     db,
		logger: logger,
	}
}

// CreateOrGetActive inserts job unless a PENDING, PROCESSING or COMPLETED job with the
// same (video_hash, platform) exists, in which case that job is returned and created is false.
// Concurrent callers with the same key are serialized by a transaction scoped advisory lock.
func (s *JobStore) CreateOrGetActive(ctx context.Context, job *domain.Job) (*domain.Job, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	lockKey := job.VideoHash + ":" + string(job.Platform)
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
		return nil, false, fmt.Errorf("failed to acquire idempotency lock: %w", err)
	}

	var existing domain.Job
	err = tx.GetContext(ctx, &existing, `
		SELECT `+jobColumns+`
		FROM publish_jobs
		WHERE video_hash = $1
		  AND platform = $2
		  AND status IN ($3, $4, $5)
		ORDER BY created_at DESC
		LIMIT 1
	`, job.VideoHash, job.Platform, domain.JobStatusPending, domain.JobStatusProcessing, domain.JobStatusCompleted)
	switch {
	case err == nil:
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
		}
		s.logger.Info("Active job exists for idempotency key",
			slog.String("submission_id", existing.SubmissionID),
			slog.String("video_hash", job.VideoHash),
			slog.String("platform", string(job.Platform)),
			slog.String("status", existing.Status),
		)
		return &existing, false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, false, fmt.Errorf("failed to check existing job: %w", err)
	}

	var created domain.Job
	err = tx.GetContext(ctx, &created, `
		INSERT INTO publish_jobs (
			id, submission_id, video_hash, storage_key, file_size, duration, platform,
			title, description, tags, options, status, retry_count,
			telegram_user_id, telegram_message_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, 0,
			$13, $14, $15, $15
		)
		RETURNING `+jobColumns,
		job.ID, job.SubmissionID, job.VideoHash, job.StorageKey, job.FileSize, job.Duration, job.Platform,
		job.Title, job.Description, job.Tags, job.Options, domain.JobStatusPending,
		job.TelegramUserID, job.TelegramMessageID, time.Now().UTC(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("Job created",
		slog.String("submission_id", created.SubmissionID),
		slog.String("platform", string(created.Platform)),
	)
	return &created, true, nil
}

// GetBySubmissionID retrieves a job by its external id
func (s *JobStore) GetBySubmissionID(ctx context.Context, submissionID string) (*domain.Job, error) {
	var job domain.Job
	err := s.db.GetContext(ctx, &job, `SELECT `+jobColumns+` FROM publish_jobs WHERE submission_id = $1`, submissionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// MarkProcessing claims a PENDING job and clears its error message
func (s *JobStore) MarkProcessing(ctx context.Context, submissionID string) (*domain.Job, error) {
	var job domain.Job
	err := s.db.GetContext(ctx, &job, `
		UPDATE publish_jobs
		SET status = $1,
		    error_message = NULL,
		    updated_at = NOW()
		WHERE submission_id = $2
		  AND status = $3
		RETURNING `+jobColumns,
		domain.JobStatusProcessing, submissionID, domain.JobStatusPending,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.stateConflict(ctx, submissionID, domain.JobStatusPending)
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	s.logger.Info("Job claimed",
		slog.String("submission_id", submissionID),
		slog.Int("retry_count", job.RetryCount),
	)
	return &job, nil
}

// MarkCompleted records a successful publish on a PROCESSING job
func (s *JobStore) MarkCompleted(ctx context.Context, submissionID, platformJobID, publicURL string) (*domain.Job, error) {
	var job domain.Job
	err := s.db.GetContext(ctx, &job, `
		UPDATE publish_jobs
		SET status = $1,
		    platform_job_id = $2,
		    public_url = $3,
		    error_message = NULL,
		    published_at = NOW(),
		    updated_at = NOW()
		WHERE submission_id = $4
		  AND status = $5
		RETURNING `+jobColumns,
		domain.JobStatusCompleted, platformJobID, publicURL, submissionID, domain.JobStatusProcessing,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.stateConflict(ctx, submissionID, domain.JobStatusProcessing)
		}
		return nil, fmt.Errorf("failed to complete job: %w", err)
	}

	s.logger.Info("Job completed",
		slog.String("submission_id", submissionID),
		slog.String("platform_job_id", platformJobID),
	)
	return &job, nil
}

// MarkRetrying records a failed attempt on a PROCESSING job that has a retry
// scheduled. The job goes back to PENDING, so it keeps blocking submissions with
// the same key, and error_message stays visible until the next claim.
func (s *JobStore) MarkRetrying(ctx context.Context, submissionID, errorMessage string) (*domain.Job, error) {
	var job domain.Job
	err := s.db.GetContext(ctx, &job, `
		UPDATE publish_jobs
		SET status = $1,
		    error_message = $2,
		    retry_count = retry_count + 1,
		    updated_at = NOW()
		WHERE submission_id = $3
		  AND status = $4
		RETURNING `+jobColumns,
		domain.JobStatusPending, errorMessage, submissionID, domain.JobStatusProcessing,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.stateConflict(ctx, submissionID, domain.JobStatusProcessing)
		}
		return nil, fmt.Errorf("failed to mark job for retry: %w", err)
	}

	s.logger.Warn("Job attempt failed, retry pending",
		slog.String("submission_id", submissionID),
		slog.Int("retry_count", job.RetryCount),
		slog.String("error", errorMessage),
	)
	return &job, nil
}

// MarkFailed records a terminal failure on a PROCESSING job and increments retry_count
func (s *JobStore) MarkFailed(ctx context.Context, submissionID, errorMessage string) (*domain.Job, error) {
	var job domain.Job
	err := s.db.GetContext(ctx, &job, `
		UPDATE publish_jobs
		SET status = $1,
		    error_message = $2,
		    retry_count = retry_count + 1,
		    updated_at = NOW()
		WHERE submission_id = $3
		  AND status = $4
		RETURNING `+jobColumns,
		domain.JobStatusFailed, errorMessage, submissionID, domain.JobStatusProcessing,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.stateConflict(ctx, submissionID, domain.JobStatusProcessing)
		}
		return nil, fmt.Errorf("failed to mark job failed: %w", err)
	}

	s.logger.Warn("Job attempt failed",
		slog.String("submission_id", submissionID),
		slog.Int("retry_count", job.RetryCount),
		slog.String("error", errorMessage),
	)
	return &job, nil
}

// FailPending fails a PENDING job that never reached a worker. retry_count is
// unchanged since no attempt ran.
func (s *JobStore) FailPending(ctx context.Context, submissionID, errorMessage string) (*domain.Job, error) {
	var job domain.Job
	err := s.db.GetContext(ctx, &job, `
		UPDATE publish_jobs
		SET status = $1,
		    error_message = $2,
		    updated_at = NOW()
		WHERE submission_id = $3
		  AND status = $4
		RETURNING `+jobColumns,
		domain.JobStatusFailed, errorMessage, submissionID, domain.JobStatusPending,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.stateConflict(ctx, submissionID, domain.JobStatusPending)
		}
		return nil, fmt.Errorf("failed to fail pending job: %w", err)
	}

	s.logger.Warn("Pending job failed before dispatch",
		slog.String("submission_id", submissionID),
		slog.String("error", errorMessage),
	)
	return &job, nil
}

// ResetForRetry moves a FAILED job back to PENDING with a cleared error message
func (s *JobStore) ResetForRetry(ctx context.Context, submissionID string) (*domain.Job, error) {
	var job domain.Job
	err := s.db.GetContext(ctx, &job, `
		UPDATE publish_jobs
		SET status = $1,
		    error_message = NULL,
		    updated_at = NOW()
		WHERE submission_id = $2
		  AND status = $3
		RETURNING `+jobColumns,
		domain.JobStatusPending, submissionID, domain.JobStatusFailed,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.stateConflict(ctx, submissionID, domain.JobStatusFailed)
		}
		return nil, fmt.Errorf("failed to reset job: %w", err)
	}

	s.logger.Info("Job reset for retry", slog.String("submission_id", submissionID))
	return &job, nil
}

// stateConflict explains why a conditional update matched no rows
func (s *JobStore) stateConflict(ctx context.Context, submissionID, want string) error {
	current, err := s.GetBySubmissionID(ctx, submissionID)
	if err != nil {
		return err
	}
	return &domain.InvalidStateError{
		SubmissionID: submissionID,
		Current:      current.Status,
		Want:         want,
	}
}
