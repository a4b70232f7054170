// Package submission implements the ingestion side of the job lifecycle:
// creating jobs idempotently, reporting their state and operator retries.
package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/fanout-publisher/internal/domain"
	"github.com/cuongbtq/fanout-publisher/internal/metrics"
	"github.com/cuongbtq/fanout-publisher/internal/platform"
	"github.com/cuongbtq/fanout-publisher/internal/storage"
)

// Listing page size bounds
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ErrStatusUnavailable is returned when the service has no adapters to query
var ErrStatusUnavailable = errors.New("platform status unavailable")

// JobStore is the record store used at ingestion
type JobStore interface {
	CreateOrGetActive(ctx context.Context, job *domain.Job) (*domain.Job, bool, error)
	GetBySubmissionID(ctx context.Context, submissionID string) (*domain.Job, error)
	ResetForRetry(ctx context.Context, submissionID string) (*domain.Job, error)
	FailPending(ctx context.Context, submissionID, errorMessage string) (*domain.Job, error)
	List(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error)
}

// Queue schedules publish attempts
type Queue interface {
	Enqueue(ctx context.Context, msg domain.JobMessage) error
}

// AdapterLookup resolves the adapter for a platform
type AdapterLookup interface {
	Lookup(p domain.Platform) (platform.Adapter, error)
}

// Service coordinates the job store and the queue for callers
type Service struct {
	jobs     JobStore
	queue    Queue
	adapters AdapterLookup
	logger   *slog.Logger
}

// NewService creates a Service. adapters may be nil, in which case
// PlatformStatus returns ErrStatusUnavailable.
func NewService(jobs JobStore, queue Queue, adapters AdapterLookup, logger *slog.Logger) *Service {
	return &Service{
		jobs:     jobs,
		queue:    queue,
		adapters: adapters,
		logger:   logger,
	}
}

// Request is the caller supplied description of a video to publish
type Request struct {
	VideoHash         string
	StorageKey        string
	FileSize          int64
	Duration          *int64
	Platform          string
	Title             string
	Description       *string
	Tags              []string
	Options           domain.PublishOptions
	TelegramUserID    *string
	TelegramMessageID *string
}

// SubmitResult reports the job a submission resolved to
type SubmitResult struct {
	Job *domain.Job
	// Created is false when an active job with the same key already existed
	Created bool
}

// Submit creates a PENDING job and enqueues its first attempt. A submission
// whose (video_hash, platform) matches a PENDING, PROCESSING or COMPLETED job
// returns that job instead.
func (s *Service) Submit(ctx context.Context, req Request) (*SubmitResult, error) {
	params, err := validate(req)
	if err != nil {
		metrics.Submissions.WithLabelValues(platformLabel(req.Platform), "invalid").Inc()
		return nil, err
	}

	job := &domain.Job{
		ID:                uuid.New().String(),
		SubmissionID:      uuid.New().String(),
		VideoHash:         params.VideoHash,
		StorageKey:        params.StorageKey,
		FileSize:          params.FileSize,
		Duration:          params.Duration,
		Platform:          params.Platform,
		Title:             params.Title,
		Description:       params.Description,
		Tags:              domain.Tags(params.Tags),
		Options:           params.Options,
		Status:            domain.JobStatusPending,
		TelegramUserID:    params.TelegramUserID,
		TelegramMessageID: params.TelegramMessageID,
	}

	stored, created, err := s.jobs.CreateOrGetActive(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	if !created {
		metrics.Submissions.WithLabelValues(string(params.Platform), "duplicate").Inc()
		s.logger.Info("Duplicate submission, returning existing job",
			slog.String("submission_id", stored.SubmissionID),
			slog.String("status", stored.Status),
		)
		return &SubmitResult{Job: stored, Created: false}, nil
	}

	msg := domain.JobMessage{SubmissionID: stored.SubmissionID, Attempt: 0, RetryCount: stored.RetryCount}
	if err := s.queue.Enqueue(ctx, msg); err != nil {
		s.logger.Error("Failed to enqueue new job",
			slog.String("submission_id", stored.SubmissionID),
			slog.String("error", err.Error()),
		)
		// FAILED keeps the job reachable through Retry
		if _, failErr := s.jobs.FailPending(ctx, stored.SubmissionID, "enqueue failed: "+err.Error()); failErr != nil {
			s.logger.Error("Failed to mark unqueued job failed",
				slog.String("submission_id", stored.SubmissionID),
				slog.String("error", failErr.Error()),
			)
		}
		metrics.Submissions.WithLabelValues(string(params.Platform), "enqueue_failed").Inc()
		return nil, fmt.Errorf("job %s created but not enqueued: %w", stored.SubmissionID, err)
	}

	metrics.Submissions.WithLabelValues(string(params.Platform), "created").Inc()
	s.logger.Info("Job queued for processing",
		slog.String("submission_id", stored.SubmissionID),
		slog.String("platform", string(stored.Platform)),
	)
	return &SubmitResult{Job: stored, Created: true}, nil
}

// platformLabel keeps metric cardinality bounded for unknown platform names
func platformLabel(name string) string {
	p, err := domain.ParsePlatform(name)
	if err != nil {
		return "unknown"
	}
	return string(p)
}

func validate(req Request) (*domain.NewJobParams, error) {
	p, err := domain.ParsePlatform(req.Platform)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	var problems []string
	if strings.TrimSpace(req.VideoHash) == "" {
		problems = append(problems, "video_hash is required")
	}
	if strings.TrimSpace(req.StorageKey) == "" {
		problems = append(problems, "storage_key is required")
	}
	if req.FileSize <= 0 {
		problems = append(problems, "file_size must be positive")
	}
	if req.Duration != nil && *req.Duration < 0 {
		problems = append(problems, "duration must not be negative")
	}
	if strings.TrimSpace(req.Title) == "" {
		problems = append(problems, "title is required")
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(problems, "; "))
	}

	tags := make([]string, 0, len(req.Tags))
	for _, t := range req.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}

	options := req.Options
	options.Privacy = strings.TrimSpace(options.Privacy)

	return &domain.NewJobParams{
		VideoHash:         strings.TrimSpace(req.VideoHash),
		StorageKey:        strings.TrimSpace(req.StorageKey),
		FileSize:          req.FileSize,
		Duration:          req.Duration,
		Platform:          p,
		Title:             req.Title,
		Description:       req.Description,
		Tags:              tags,
		Options:           options,
		TelegramUserID:    req.TelegramUserID,
		TelegramMessageID: req.TelegramMessageID,
	}, nil
}

// GetStatus returns the last committed state of a job
func (s *Service) GetStatus(ctx context.Context, submissionID string) (*domain.Job, error) {
	return s.jobs.GetBySubmissionID(ctx, submissionID)
}

// Retry moves a FAILED job back to PENDING and enqueues a fresh attempt.
// Any other status yields *domain.InvalidStateError with the record unchanged.
func (s *Service) Retry(ctx context.Context, submissionID string) (*domain.Job, error) {
	job, err := s.jobs.ResetForRetry(ctx, submissionID)
	if err != nil {
		return nil, err
	}

	msg := domain.JobMessage{SubmissionID: job.SubmissionID, Attempt: 0, RetryCount: job.RetryCount}
	if err := s.queue.Enqueue(ctx, msg); err != nil {
		if _, failErr := s.jobs.FailPending(ctx, submissionID, "enqueue failed: "+err.Error()); failErr != nil {
			s.logger.Error("Failed to mark unqueued job failed",
				slog.String("submission_id", submissionID),
				slog.String("error", failErr.Error()),
			)
		}
		return nil, fmt.Errorf("job %s reset but not enqueued: %w", submissionID, err)
	}

	s.logger.Info("Retrying failed job",
		slog.String("submission_id", submissionID),
		slog.Int("retry_count", job.RetryCount),
	)
	return job, nil
}

// PlatformStatus asks the platform about a COMPLETED job's upload
func (s *Service) PlatformStatus(ctx context.Context, submissionID string) (*domain.Job, *platform.Status, error) {
	job, err := s.jobs.GetBySubmissionID(ctx, submissionID)
	if err != nil {
		return nil, nil, err
	}

	if job.Status != domain.JobStatusCompleted || job.PlatformJobID == nil {
		return nil, nil, &domain.InvalidStateError{
			SubmissionID: submissionID,
			Current:      job.Status,
			Want:         domain.JobStatusCompleted,
		}
	}

	if s.adapters == nil {
		return nil, nil, ErrStatusUnavailable
	}

	adapter, err := s.adapters.Lookup(job.Platform)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrStatusUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	status, err := adapter.GetStatus(ctx, *job.PlatformJobID)
	if err != nil {
		return nil, nil, err
	}
	return job, status, nil
}

// ListParams filters and pages a job listing
type ListParams struct {
	VideoHash string
	Platform  string
	Status    string
	PageSize  int
	Cursor    *storage.JobCursor
}

// ListResult is one page of jobs
type ListResult struct {
	Jobs []domain.Job
	// Next is the cursor of the following page, nil on the last page
	Next *storage.JobCursor
}

// List returns jobs newest first
func (s *Service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	filter := storage.JobFilter{
		VideoHash: params.VideoHash,
		Status:    strings.ToUpper(params.Status),
		PageSize:  params.PageSize,
		Cursor:    params.Cursor,
	}

	if params.Platform != "" {
		p, err := domain.ParsePlatform(params.Platform)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
		}
		filter.Platform = p
	}

	switch filter.Status {
	case "", domain.JobStatusPending, domain.JobStatusProcessing, domain.JobStatusCompleted, domain.JobStatusFailed:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, params.Status)
	}

	if filter.PageSize <= 0 {
		filter.PageSize = DefaultPageSize
	}
	if filter.PageSize > MaxPageSize {
		filter.PageSize = MaxPageSize
	}

	jobs, err := s.jobs.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	result := &ListResult{Jobs: jobs}
	if len(jobs) > filter.PageSize {
		result.Jobs = jobs[:filter.PageSize]
		last := result.Jobs[len(result.Jobs)-1]
		result.Next = &storage.JobCursor{CreatedAt: last.CreatedAt, SubmissionID: last.SubmissionID}
	}
	return result, nil
}
