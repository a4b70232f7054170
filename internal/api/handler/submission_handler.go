package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/fanout-publisher/internal/api/dto"
	"github.com/cuongbtq/fanout-publisher/internal/domain"
	"github.com/cuongbtq/fanout-publisher/internal/platform"
	"github.com/cuongbtq/fanout-publisher/internal/submission"
)

// queuedStatus is reported to callers for every accepted or re-queued submission
const queuedStatus = "QUEUED"

// Submit handles POST /api/v1/submissions
// Registers a publish job and enqueues its first attempt
func (h *SubmissionHandler) Submit(c *gin.Context) {
	var req dto.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	result, err := h.service.Submit(c.Request.Context(), submission.Request{
		VideoHash:         req.VideoHash,
		StorageKey:        req.Key(),
		FileSize:          req.FileSize,
		Duration:          req.Duration,
		Platform:          req.Platform,
		Title:             req.Title,
		Description:       req.Description,
		Tags:              req.Tags,
		Options:           req.Options,
		TelegramUserID:    req.TelegramUserID,
		TelegramMessageID: req.TelegramMessageID,
	})
	if err != nil {
		h.writeError(c, "Failed to submit video", err)
		return
	}

	status := http.StatusAccepted
	if !result.Created {
		status = http.StatusOK
	}

	h.logger.Info("Submission accepted",
		slog.String("submission_id", result.Job.SubmissionID),
		slog.String("platform", string(result.Job.Platform)),
		slog.Bool("duplicate", !result.Created),
	)

	c.JSON(status, dto.SubmitResponse{
		SubmissionID: result.Job.SubmissionID,
		Status:       queuedStatus,
		JobStatus:    result.Job.Status,
		Duplicate:    !result.Created,
	})
}

// GetStatus handles GET /api/v1/submissions/:submission_id
func (h *SubmissionHandler) GetStatus(c *gin.Context) {
	submissionID, ok := h.submissionID(c)
	if !ok {
		return
	}

	job, err := h.service.GetStatus(c.Request.Context(), submissionID)
	if err != nil {
		h.writeError(c, "Failed to get submission", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// Retry handles POST /api/v1/submissions/:submission_id/retry
// Only FAILED jobs are re-queued
func (h *SubmissionHandler) Retry(c *gin.Context) {
	submissionID, ok := h.submissionID(c)
	if !ok {
		return
	}

	job, err := h.service.Retry(c.Request.Context(), submissionID)
	if err != nil {
		h.writeError(c, "Failed to retry submission", err)
		return
	}

	h.logger.Info("Submission re-queued",
		slog.String("submission_id", job.SubmissionID),
		slog.Int("retry_count", job.RetryCount),
	)

	c.JSON(http.StatusOK, dto.RetryResponse{
		SubmissionID: job.SubmissionID,
		Status:       queuedStatus,
		Message:      "Job re-queued for processing",
	})
}

// PlatformStatus handles GET /api/v1/submissions/:submission_id/platform-status
// Asks the platform for the processing state of a published video
func (h *SubmissionHandler) PlatformStatus(c *gin.Context) {
	submissionID, ok := h.submissionID(c)
	if !ok {
		return
	}

	job, status, err := h.service.PlatformStatus(c.Request.Context(), submissionID)
	if err != nil {
		h.writeError(c, "Failed to get platform status", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewPlatformStatusResponse(job, status))
}

// List handles GET /api/v1/submissions
// Lists jobs with optional filtering and cursor pagination
func (h *SubmissionHandler) List(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid query parameters",
			"details": err.Error(),
		})
		return
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	result, err := h.service.List(c.Request.Context(), submission.ListParams{
		VideoHash: req.VideoHash,
		Platform:  req.Platform,
		Status:    req.Status,
		PageSize:  req.PageSize,
		Cursor:    cursor,
	})
	if err != nil {
		h.writeError(c, "Failed to list submissions", err)
		return
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobDTO, 0, len(result.Jobs))}
	for i := range result.Jobs {
		resp.Jobs = append(resp.Jobs, dto.NewJobDTO(&result.Jobs[i]))
	}
	if result.Next != nil {
		resp.NextCursor = EncodeJobCursor(result.Next)
	}

	c.JSON(http.StatusOK, resp)
}

func (h *SubmissionHandler) submissionID(c *gin.Context) (string, bool) {
	submissionID := c.Param("submission_id")
	if _, err := uuid.Parse(submissionID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "submission_id must be a valid UUID",
		})
		return "", false
	}
	return submissionID, true
}

// writeError maps service errors to HTTP responses
func (h *SubmissionHandler) writeError(c *gin.Context, msg string, err error) {
	var stateErr *domain.InvalidStateError
	var platformErr *platform.Error

	switch {
	case errors.Is(err, domain.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid submission",
			"details": err.Error(),
		})
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Submission not found",
		})
	case errors.As(err, &stateErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":   err.Error(),
			"status":  stateErr.Current,
			"allowed": stateErr.Want,
		})
	case errors.Is(err, submission.ErrStatusUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": err.Error(),
		})
	case errors.As(err, &platformErr):
		code := http.StatusBadGateway
		if platformErr.Kind == platform.KindNotFound {
			code = http.StatusNotFound
		}
		h.logger.Warn(msg, slog.String("error", err.Error()))
		c.JSON(code, gin.H{
			"error": err.Error(),
			"kind":  platformErr.Kind.String(),
		})
	default:
		h.logger.Error(msg, slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": msg,
		})
	}
}
