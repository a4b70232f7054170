package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cuongbtq/fanout-publisher/internal/domain"
)

// JobFilter narrows a job listing. Zero fields are ignored.
type JobFilter struct {
	VideoHash string
	Platform  domain.Platform
	Status    string
	PageSize  int
	Cursor    *JobCursor
}

// JobCursor is the keyset position of the last job on the previous page
type JobCursor struct {
	CreatedAt    time.Time
	SubmissionID string
}

// List returns up to PageSize+1 jobs, newest first. The extra row tells the
// caller whether another page exists.
func (s *JobStore) List(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM publish_jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.VideoHash != "" {
		query += fmt.Sprintf(" AND video_hash = $%d", argIdx)
		args = append(args, filter.VideoHash)
		argIdx++
	}

	if filter.Platform != "" {
		query += fmt.Sprintf(" AND platform = $%d", argIdx)
		args = append(args, filter.Platform)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, submission_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.SubmissionID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, submission_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}
