package dto

import (
	"time"

	"github.com/cuongbtq/fanout-publisher/internal/domain"
	"github.com/cuongbtq/fanout-publisher/internal/platform"
)

// SubmitRequest is the body of POST /api/v1/submissions and POST /ingest.
// S3Key is accepted as an alias of StorageKey.
type SubmitRequest struct {
	VideoHash         string                `json:"video_hash" binding:"required"`
	StorageKey        string                `json:"storage_key"`
	S3Key             string                `json:"s3_key"`
	FileSize          int64                 `json:"file_size" binding:"required"`
	Duration          *int64                `json:"duration"`
	Platform          string                `json:"platform" binding:"required"`
	Title             string                `json:"title" binding:"required"`
	Description       *string               `json:"description"`
	Tags              []string              `json:"tags"`
	Options           domain.PublishOptions `json:"options"`
	TelegramUserID    *string               `json:"telegram_user_id"`
	TelegramMessageID *string               `json:"telegram_message_id"`
}

// Key returns the storage key, falling back to the s3_key alias
func (r *SubmitRequest) Key() string {
	if r.StorageKey != "" {
		return r.StorageKey
	}
	return r.S3Key
}

type SubmitResponse struct {
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status"`
	JobStatus    string `json:"job_status"`
	Duplicate    bool   `json:"duplicate"`
}

type RetryResponse struct {
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status"`
	Message      string `json:"message"`
}

type ListJobsRequest struct {
	VideoHash string `form:"video_hash"`
	Platform  string `form:"platform"`
	Status    string `form:"status"`
	PageSize  int    `form:"page_size"`
	Cursor    string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	SubmissionID         string                `json:"submission_id"`
	Status               string                `json:"status"`
	Platform             string                `json:"platform"`
	VideoHash            string                `json:"video_hash"`
	Title                string                `json:"title"`
	Tags                 []string              `json:"tags"`
	Options              domain.PublishOptions `json:"options"`
	PlatformJobID        *string               `json:"platform_job_id"`
	PublicURL            *string               `json:"public_url"`
	PublicURLProvisional bool                  `json:"public_url_provisional"`
	ErrorMessage         *string               `json:"error_message"`
	RetryCount           int                   `json:"retry_count"`
	TelegramUserID       *string               `json:"telegram_user_id,omitempty"`
	TelegramMessageID    *string               `json:"telegram_message_id,omitempty"`
	CreatedAt            string                `json:"created_at"`
	UpdatedAt            string                `json:"updated_at"`
	PublishedAt          *string               `json:"published_at"`
}

type PlatformStatusResponse struct {
	SubmissionID  string         `json:"submission_id"`
	Platform      string         `json:"platform"`
	PlatformJobID string         `json:"platform_job_id"`
	State         string         `json:"state"`
	Detail        map[string]any `json:"detail,omitempty"`
}

// NewJobDTO maps a job record to its wire form
func NewJobDTO(job *domain.Job) JobDTO {
	out := JobDTO{
		SubmissionID:         job.SubmissionID,
		Status:               job.Status,
		Platform:             string(job.Platform),
		VideoHash:            job.VideoHash,
		Title:                job.Title,
		Tags:                 []string(job.Tags),
		Options:              job.Options,
		PlatformJobID:        job.PlatformJobID,
		PublicURL:            job.PublicURL,
		PublicURLProvisional: job.PublicURLProvisional(),
		ErrorMessage:         job.ErrorMessage,
		RetryCount:           job.RetryCount,
		TelegramUserID:       job.TelegramUserID,
		TelegramMessageID:    job.TelegramMessageID,
		CreatedAt:            job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:            job.UpdatedAt.Format(time.RFC3339),
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	if job.PublishedAt != nil {
		published := job.PublishedAt.Format(time.RFC3339)
		out.PublishedAt = &published
	}
	return out
}

// NewPlatformStatusResponse maps an adapter status report to its wire form
func NewPlatformStatusResponse(job *domain.Job, status *platform.Status) PlatformStatusResponse {
	return PlatformStatusResponse{
		SubmissionID:  job.SubmissionID,
		Platform:      string(job.Platform),
		PlatformJobID: status.PlatformJobID,
		State:         status.State,
		Detail:        status.Detail,
	}
}
