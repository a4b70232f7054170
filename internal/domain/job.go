package domain

import "time"

// Job status constants
const (
	JobStatusPending    = "PENDING"
	JobStatusProcessing = "PROCESSING"
	JobStatusCompleted  = "COMPLETED"
	JobStatusFailed     = "FAILED"
)

// Job is the durable record of one (video, platform) publish attempt
type Job struct {
	ID                string         `db:"id"`
	SubmissionID      string         `db:"submission_id"`
	VideoHash         string         `db:"video_hash"`
	StorageKey        string         `db:"storage_key"`
	FileSize          int64          `db:"file_size"`
	Duration          *int64         `db:"duration"`
	Platform          Platform       `db:"platform"`
	Title             string         `db:"title"`
	Description       *string        `db:"description"`
	Tags              Tags           `db:"tags"`
	Options           PublishOptions `db:"options"`
	Status            string         `db:"status"`
	PlatformJobID     *string        `db:"platform_job_id"`
	PublicURL         *string        `db:"public_url"`
	ErrorMessage      *string        `db:"error_message"`
	RetryCount        int            `db:"retry_count"`
	TelegramUserID    *string        `db:"telegram_user_id"`
	TelegramMessageID *string        `db:"telegram_message_id"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
	PublishedAt       *time.Time     `db:"published_at"`
}

// IsActive reports whether the job blocks a new submission with the same idempotency key
func (j *Job) IsActive() bool {
	return IsActiveStatus(j.Status)
}

// IsActiveStatus reports whether status counts towards the idempotency check
func IsActiveStatus(status string) bool {
	switch status {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted:
		return true
	default:
		return false
	}
}

// ActiveStatuses lists the statuses that count towards the idempotency check
func ActiveStatuses() []string {
	return []string{JobStatusPending, JobStatusProcessing, JobStatusCompleted}
}

// DescriptionOrEmpty returns the description or an empty string
func (j *Job) DescriptionOrEmpty() string {
	if j.Description == nil {
		return ""
	}
	return *j.Description
}

// PublicURLProvisional reports whether PublicURL was synthesized before the
// platform confirmed publication. TikTok URLs are built from the publish id.
func (j *Job) PublicURLProvisional() bool {
	return j.Platform == PlatformTikTok && j.PublicURL != nil
}

// JobMessage is the queue payload that asks a worker to run one attempt
type JobMessage struct {
	SubmissionID string `json:"submission_id"`
	Attempt      int    `json:"attempt"`
	RetryCount   int    `json:"retry_count"`
}

// NewJobParams holds the caller supplied fields of a submission
type NewJobParams struct {
	VideoHash         string
	StorageKey        string
	FileSize          int64
	Duration          *int64
	Platform          Platform
	Title             string
	Description       *string
	Tags              []string
	Options           PublishOptions
	TelegramUserID    *string
	TelegramMessageID *string
}
