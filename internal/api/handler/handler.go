// Package handler implements the submission HTTP endpoints.
package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/fanout-publisher/internal/domain"
	"github.com/cuongbtq/fanout-publisher/internal/platform"
	"github.com/cuongbtq/fanout-publisher/internal/submission"
)

// SubmissionService is the use-case layer behind the handlers
type SubmissionService interface {
	Submit(ctx context.Context, req submission.Request) (*submission.SubmitResult, error)
	GetStatus(ctx context.Context, submissionID string) (*domain.Job, error)
	Retry(ctx context.Context, submissionID string) (*domain.Job, error)
	PlatformStatus(ctx context.Context, submissionID string) (*domain.Job, *platform.Status, error)
	List(ctx context.Context, params submission.ListParams) (*submission.ListResult, error)
}

// HealthChecker is implemented by backend clients
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Service      SubmissionService
	ServiceName  string
	ServiceToken string
	HealthChecks map[string]HealthChecker
}

// SubmissionHandler handles submission-related HTTP requests
type SubmissionHandler struct {
	logger  *slog.Logger
	service SubmissionService
}

// NewSubmissionHandler creates a new SubmissionHandler instance
func NewSubmissionHandler(deps *Dependencies) *SubmissionHandler {
	return &SubmissionHandler{
		logger:  deps.Logger,
		service: deps.Service,
	}
}
