package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/cuongbtq/fanout-publisher/internal/domain"
	"github.com/cuongbtq/fanout-publisher/internal/metrics"
	"github.com/cuongbtq/fanout-publisher/internal/platform"
	"github.com/cuongbtq/fanout-publisher/shared/minio"
)

// storeTimeout bounds record writes made after the attempt context may have expired
const storeTimeout = 10 * time.Second

// JobStore is the record store used by the orchestrator
type JobStore interface {
	GetBySubmissionID(ctx context.Context, submissionID string) (*domain.Job, error)
	MarkProcessing(ctx context.Context, submissionID string) (*domain.Job, error)
	MarkCompleted(ctx context.Context, submissionID, platformJobID, publicURL string) (*domain.Job, error)
	MarkRetrying(ctx context.Context, submissionID, errorMessage string) (*domain.Job, error)
	MarkFailed(ctx context.Context, submissionID, errorMessage string) (*domain.Job, error)
}

// BlobStore fetches source video bytes
type BlobStore interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// AdapterLookup resolves the adapter for a platform
type AdapterLookup interface {
	Lookup(p domain.Platform) (platform.Adapter, error)
}

// OutcomeKind tells the consumer how to settle a delivery
type OutcomeKind int

const (
	OutcomeCompleted OutcomeKind = iota + 1
	OutcomeRetryAfter
	OutcomeFailed
	OutcomeSkipped
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCompleted:
		return "completed"
	case OutcomeRetryAfter:
		return "retry"
	case OutcomeFailed:
		return "failed"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Outcome is the result of one attempt
type Outcome struct {
	Kind OutcomeKind
	// Delay and Next are set for OutcomeRetryAfter
	Delay time.Duration
	Next  domain.JobMessage
	Err   error
}

// Delivery is a decoded queue message
type Delivery struct {
	Message domain.JobMessage
	// Redelivered is set by the broker when a previous consumer did not settle the message
	Redelivered bool
}

// RetryPolicy controls backoff between attempts
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// Backoff returns BaseDelay * 2^attempt
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(1<<attempt)
}

// OrchestratorConfig holds the orchestrator's collaborators
type OrchestratorConfig struct {
	Logger   *slog.Logger
	Jobs     JobStore
	Blobs    BlobStore
	Adapters AdapterLookup
	Policy   RetryPolicy
	TempDir  string
}

// Orchestrator runs publish attempts against the job record
type Orchestrator struct {
	logger   *slog.Logger
	jobs     JobStore
	blobs    BlobStore
	adapters AdapterLookup
	policy   RetryPolicy
	tempDir  string
}

// NewOrchestrator creates an Orchestrator
func NewOrchestrator(cfg *OrchestratorConfig) *Orchestrator {
	return &Orchestrator{
		logger:   cfg.Logger,
		jobs:     cfg.Jobs,
		blobs:    cfg.Blobs,
		adapters: cfg.Adapters,
		policy:   cfg.Policy,
		tempDir:  cfg.TempDir,
	}
}

// Attempt runs one publish attempt for the delivered message
func (o *Orchestrator) Attempt(ctx context.Context, d Delivery) Outcome {
	start := time.Now()
	msg := d.Message
	logger := o.logger.With(
		slog.String("submission_id", msg.SubmissionID),
		slog.Int("attempt", msg.Attempt),
	)

	job, err := o.jobs.GetBySubmissionID(ctx, msg.SubmissionID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			logger.Error("Job not found, dropping message")
			return Outcome{Kind: OutcomeFailed, Err: err}
		}
		// transient store error, same message again later
		logger.Error("Failed to load job", slog.String("error", err.Error()))
		return Outcome{Kind: OutcomeRetryAfter, Delay: o.policy.BaseDelay, Next: msg, Err: NewRetryableError(err)}
	}

	out := o.attempt(ctx, logger, d, job)

	metrics.Attempts.WithLabelValues(string(job.Platform), out.Kind.String()).Inc()
	if out.Kind != OutcomeSkipped {
		metrics.AttemptDuration.WithLabelValues(string(job.Platform)).Observe(time.Since(start).Seconds())
	}
	return out
}

func (o *Orchestrator) attempt(ctx context.Context, logger *slog.Logger, d Delivery, job *domain.Job) Outcome {
	msg := d.Message
	logger = logger.With(slog.String("platform", string(job.Platform)))

	if job.Status == domain.JobStatusCompleted {
		logger.Info("Job already completed, skipping")
		return Outcome{Kind: OutcomeSkipped, Err: ErrAlreadyCompleted}
	}

	if msg.RetryCount != job.RetryCount {
		if next, ok := o.unscheduledRetry(d, job); ok {
			delay := o.policy.Backoff(msg.Attempt)
			logger.Warn("Redelivered message resumes scheduled retry",
				slog.Int("retry_count", job.RetryCount),
				slog.Duration("delay", delay),
			)
			return Outcome{Kind: OutcomeRetryAfter, Delay: delay, Next: next}
		}
		logger.Info("Stale message, skipping",
			slog.Int("message_retry_count", msg.RetryCount),
			slog.Int("retry_count", job.RetryCount),
		)
		return Outcome{Kind: OutcomeSkipped, Err: ErrStaleMessage}
	}

	if job.Status == domain.JobStatusProcessing {
		if !d.Redelivered {
			logger.Info("Job attempt in progress elsewhere, skipping")
			return Outcome{Kind: OutcomeSkipped, Err: ErrAttemptInFlight}
		}
		logger.Warn("Redelivered job found in PROCESSING, counting abandoned attempt")
		return o.fail(ctx, logger, msg, NewRetryableError(ErrAttemptAbandoned))
	}

	if _, err := o.jobs.MarkProcessing(ctx, msg.SubmissionID); err != nil {
		var stateErr *domain.InvalidStateError
		if errors.As(err, &stateErr) {
			logger.Info("Job claimed by another consumer, skipping", slog.String("status", stateErr.Current))
			return Outcome{Kind: OutcomeSkipped, Err: err}
		}
		logger.Error("Failed to claim job", slog.String("error", err.Error()))
		return Outcome{Kind: OutcomeRetryAfter, Delay: o.policy.BaseDelay, Next: msg, Err: NewRetryableError(err)}
	}

	adapter, err := o.adapters.Lookup(job.Platform)
	if err != nil {
		return o.fail(ctx, logger, msg, err)
	}

	result, err := o.publish(ctx, logger, adapter, job)
	if err != nil {
		if isRetryable(err) {
			err = NewRetryableError(err)
		}
		return o.fail(ctx, logger, msg, err)
	}

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	if _, err := o.jobs.MarkCompleted(storeCtx, msg.SubmissionID, result.PlatformJobID, result.PublicURL); err != nil {
		// the upload succeeded, so this is never retried
		logger.Error("Failed to record completed publish",
			slog.String("platform_job_id", result.PlatformJobID),
			slog.String("error", err.Error()),
		)
		return Outcome{Kind: OutcomeFailed, Err: fmt.Errorf("failed to record publish %s: %w", result.PlatformJobID, err)}
	}

	logger.Info("Job published",
		slog.String("platform_job_id", result.PlatformJobID),
		slog.String("public_url", result.PublicURL),
		slog.Bool("provisional", result.Provisional),
	)
	return Outcome{Kind: OutcomeCompleted}
}

// publish downloads the source to a temp file owned by this attempt and hands it to the adapter
func (o *Orchestrator) publish(ctx context.Context, logger *slog.Logger, adapter platform.Adapter, job *domain.Job) (*platform.Result, error) {
	videoPath, err := o.fetch(ctx, job.StorageKey)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.Remove(videoPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("Failed to remove temp file",
				slog.String("path", videoPath),
				slog.String("error", err.Error()),
			)
		}
	}()

	logger.Info("Publishing video",
		slog.String("storage_key", job.StorageKey),
		slog.Int64("file_size", job.FileSize),
	)

	return adapter.Publish(ctx, platform.PublishRequest{
		VideoPath:   videoPath,
		Title:       job.Title,
		Description: job.DescriptionOrEmpty(),
		Tags:        []string(job.Tags),
		Options: platform.Options{
			Privacy:        job.Options.Privacy,
			AsClip:         job.Options.AsClip,
			DisableDuet:    job.Options.DisableDuet,
			DisableComment: job.Options.DisableComment,
			DisableStitch:  job.Options.DisableStitch,
		},
	})
}

// fetch copies the object to a new temp file and returns its path.
// The file is removed before returning on error.
func (o *Orchestrator) fetch(ctx context.Context, key string) (string, error) {
	body, err := o.blobs.Get(ctx, key)
	if err != nil {
		if errors.Is(err, minio.ErrObjectNotFound) {
			return "", fmt.Errorf("source video missing: %w", err)
		}
		return "", fmt.Errorf("failed to fetch source video: %w", err)
	}
	defer body.Close()

	f, err := os.CreateTemp(o.tempDir, "fanout-*"+path.Ext(key))
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	_, copyErr := io.Copy(f, body)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to download source video: %w", errors.Join(copyErr, closeErr))
	}
	return f.Name(), nil
}

// isRetryable reports whether a later attempt may succeed. A missing source
// object is permanent. Other errors follow the adapter taxonomy.
func isRetryable(err error) bool {
	if errors.Is(err, minio.ErrObjectNotFound) {
		return false
	}
	return platform.IsRetryable(err)
}

// unscheduledRetry handles a requeued delivery whose attempt already failed and
// moved the record to PENDING, but whose delayed retry was never published. It
// returns the retry message that delivery would have scheduled.
func (o *Orchestrator) unscheduledRetry(d Delivery, job *domain.Job) (domain.JobMessage, bool) {
	msg := d.Message
	if !d.Redelivered || job.Status != domain.JobStatusPending {
		return domain.JobMessage{}, false
	}
	if msg.RetryCount+1 != job.RetryCount || msg.Attempt >= o.policy.MaxRetries {
		return domain.JobMessage{}, false
	}
	return domain.JobMessage{
		SubmissionID: msg.SubmissionID,
		Attempt:      msg.Attempt + 1,
		RetryCount:   job.RetryCount,
	}, true
}

// fail records the failed attempt and applies the retry policy. A job with a
// retry ahead returns to PENDING, anything else ends FAILED.
func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, msg domain.JobMessage, cause error) Outcome {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	errMsg := cause.Error()
	var retryable *RetryableError
	transient := errors.As(cause, &retryable)
	if transient {
		errMsg = retryable.Err.Error()
	}
	willRetry := transient && msg.Attempt < o.policy.MaxRetries

	var job *domain.Job
	var err error
	if willRetry {
		job, err = o.jobs.MarkRetrying(storeCtx, msg.SubmissionID, errMsg)
	} else {
		job, err = o.jobs.MarkFailed(storeCtx, msg.SubmissionID, errMsg)
	}
	if err != nil {
		logger.Error("Failed to record failed attempt", slog.String("error", err.Error()))
		return Outcome{Kind: OutcomeFailed, Err: errors.Join(cause, err)}
	}

	if !transient {
		logger.Error("Job failed permanently",
			slog.Int("retry_count", job.RetryCount),
			slog.String("error", errMsg),
		)
		return Outcome{Kind: OutcomeFailed, Err: cause}
	}

	if !willRetry {
		logger.Error("Job exceeded max retries",
			slog.Int("retry_count", job.RetryCount),
			slog.Int("max_retries", o.policy.MaxRetries),
			slog.String("error", errMsg),
		)
		return Outcome{Kind: OutcomeFailed, Err: fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, retryable.Err)}
	}

	delay := o.policy.Backoff(msg.Attempt)
	logger.Warn("Job will be retried",
		slog.Int("retry_count", job.RetryCount),
		slog.Duration("delay", delay),
		slog.String("error", errMsg),
	)
	return Outcome{
		Kind:  OutcomeRetryAfter,
		Delay: delay,
		Next: domain.JobMessage{
			SubmissionID: msg.SubmissionID,
			Attempt:      msg.Attempt + 1,
			RetryCount:   job.RetryCount,
		},
		Err: cause,
	}
}
