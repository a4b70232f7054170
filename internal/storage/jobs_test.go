package storage

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/fanout-publisher/internal/domain"
)

var jobColumnNames = []string{
	"id", "submission_id", "video_hash", "storage_key", "file_size", "duration", "platform",
	"title", "description", "tags", "options", "status", "platform_job_id", "public_url", "error_message",
	"retry_count", "telegram_user_id", "telegram_message_id", "created_at", "updated_at", "published_at",
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

func newMockJobStore(t *testing.T) (*JobStore, sqlmock.Sqlmock) {
	db, mock := newMockDB(t)
	return NewJobStore(db, testLogger()), mock
}

type rowOpts struct {
	status     string
	retryCount int
	errMsg     interface{}
	options    string
}

func jobRow(submissionID string, o rowOpts) *sqlmock.Rows {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if o.options == "" {
		o.options = "{}"
	}
	return sqlmock.NewRows(jobColumnNames).AddRow(
		"11111111-1111-1111-1111-111111111111", submissionID, "hash-1", "videos/a.mp4", int64(1024), nil, "youtube",
		"Title", nil, []byte(`["go"]`), []byte(o.options), o.status, nil, nil, o.errMsg,
		o.retryCount, nil, nil, now, now, nil,
	)
}

func newJob() *domain.Job {
	return &domain.Job{
		ID:           "11111111-1111-1111-1111-111111111111",
		SubmissionID: "sub-1",
		VideoHash:    "hash-1",
		StorageKey:   "videos/a.mp4",
		FileSize:     1024,
		Platform:     domain.PlatformYouTube,
		Title:        "Title",
		Tags:         domain.Tags{"go"},
	}
}

func TestCreateOrGetActive_Creates(t *testing.T) {
	store, mock := newMockJobStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WithArgs("hash-1:youtube").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM publish_jobs\s+WHERE video_hash = \$1`).
		WithArgs("hash-1", domain.PlatformYouTube, domain.JobStatusPending, domain.JobStatusProcessing, domain.JobStatusCompleted).
		WillReturnRows(sqlmock.NewRows(jobColumnNames))
	anyArg := sqlmock.AnyArg()
	mock.ExpectQuery(`INSERT INTO publish_jobs`).
		WithArgs(anyArg, anyArg, anyArg, anyArg, anyArg, anyArg, anyArg, anyArg, anyArg, `["go"]`, `{"as_clip":true}`,
			domain.JobStatusPending, anyArg, anyArg, anyArg).
		WillReturnRows(jobRow("sub-1", rowOpts{status: domain.JobStatusPending, options: `{"as_clip":true}`}))
	mock.ExpectCommit()

	clip := true
	input := newJob()
	input.Options = domain.PublishOptions{AsClip: &clip}
	job, created, err := store.CreateOrGetActive(context.Background(), input)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "sub-1", job.SubmissionID)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	require.NotNil(t, job.Options.AsClip)
	assert.True(t, *job.Options.AsClip)
	assert.Equal(t, domain.PlatformYouTube, job.Platform)
	assert.Equal(t, domain.Tags{"go"}, job.Tags)
	assert.Nil(t, job.Description)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrGetActive_ReturnsExisting(t *testing.T) {
	store, mock := newMockJobStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM publish_jobs\s+WHERE video_hash = \$1`).
		WillReturnRows(jobRow("sub-existing", rowOpts{status: domain.JobStatusCompleted}))
	mock.ExpectCommit()

	job, created, err := store.CreateOrGetActive(context.Background(), newJob())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "sub-existing", job.SubmissionID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrGetActive_LockFails(t *testing.T) {
	store, mock := newMockJobStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, _, err := store.CreateOrGetActive(context.Background(), newJob())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "idempotency lock")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrGetActive_InsertFails(t *testing.T) {
	store, mock := newMockJobStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM publish_jobs\s+WHERE video_hash = \$1`).WillReturnRows(sqlmock.NewRows(jobColumnNames))
	mock.ExpectQuery(`INSERT INTO publish_jobs`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, _, err := store.CreateOrGetActive(context.Background(), newJob())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create job")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBySubmissionID(t *testing.T) {
	tests := []struct {
		name    string
		rows    *sqlmock.Rows
		err     error
		wantErr error
	}{
		{name: "found", rows: jobRow("sub-1", rowOpts{status: domain.JobStatusFailed, retryCount: 2, errMsg: "boom"})},
		{name: "not found", rows: sqlmock.NewRows(jobColumnNames), wantErr: domain.ErrJobNotFound},
		{name: "db error", err: sql.ErrConnDone, wantErr: sql.ErrConnDone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockJobStore(t)

			q := mock.ExpectQuery(`FROM publish_jobs WHERE submission_id = \$1`).WithArgs("sub-1")
			if tt.err != nil {
				q.WillReturnError(tt.err)
			} else {
				q.WillReturnRows(tt.rows)
			}

			job, err := store.GetBySubmissionID(context.Background(), "sub-1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 2, job.RetryCount)
			require.NotNil(t, job.ErrorMessage)
			assert.Equal(t, "boom", *job.ErrorMessage)
		})
	}
}

func TestMarkProcessing(t *testing.T) {
	store, mock := newMockJobStore(t)

	mock.ExpectQuery(`UPDATE publish_jobs\s+SET status = \$1,\s+error_message = NULL`).
		WithArgs(domain.JobStatusProcessing, "sub-1", domain.JobStatusPending).
		WillReturnRows(jobRow("sub-1", rowOpts{status: domain.JobStatusProcessing, retryCount: 1}))

	job, err := store.MarkProcessing(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, job.Status)
	assert.Nil(t, job.ErrorMessage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkProcessing_Conflict(t *testing.T) {
	store, mock := newMockJobStore(t)

	mock.ExpectQuery(`UPDATE publish_jobs`).WillReturnRows(sqlmock.NewRows(jobColumnNames))
	mock.ExpectQuery(`FROM publish_jobs WHERE submission_id`).
		WillReturnRows(jobRow("sub-1", rowOpts{status: domain.JobStatusCompleted}))

	_, err := store.MarkProcessing(context.Background(), "sub-1")

	var stateErr *domain.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, domain.JobStatusCompleted, stateErr.Current)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkCompleted(t *testing.T) {
	store, mock := newMockJobStore(t)

	mock.ExpectQuery(`UPDATE publish_jobs\s+SET status = \$1,\s+platform_job_id = \$2`).
		WithArgs(domain.JobStatusCompleted, "vid", "https://www.youtube.com/watch?v=vid", "sub-1", domain.JobStatusProcessing).
		WillReturnRows(jobRow("sub-1", rowOpts{status: domain.JobStatusCompleted}))

	job, err := store.MarkCompleted(context.Background(), "sub-1", "vid", "https://www.youtube.com/watch?v=vid")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRetrying(t *testing.T) {
	store, mock := newMockJobStore(t)

	mock.ExpectQuery(`retry_count = retry_count \+ 1`).
		WithArgs(domain.JobStatusPending, "youtube upload: timeout", "sub-1", domain.JobStatusProcessing).
		WillReturnRows(jobRow("sub-1", rowOpts{status: domain.JobStatusPending, retryCount: 1, errMsg: "youtube upload: timeout"}))

	job, err := store.MarkRetrying(context.Background(), "sub-1", "youtube upload: timeout")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, "youtube upload: timeout", *job.ErrorMessage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailed(t *testing.T) {
	store, mock := newMockJobStore(t)

	mock.ExpectQuery(`retry_count = retry_count \+ 1`).
		WithArgs(domain.JobStatusFailed, "youtube upload: timeout", "sub-1", domain.JobStatusProcessing).
		WillReturnRows(jobRow("sub-1", rowOpts{status: domain.JobStatusFailed, retryCount: 3, errMsg: "youtube upload: timeout"}))

	job, err := store.MarkFailed(context.Background(), "sub-1", "youtube upload: timeout")
	require.NoError(t, err)
	assert.Equal(t, 3, job.RetryCount)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailPending(t *testing.T) {
	store, mock := newMockJobStore(t)

	mock.ExpectQuery(`UPDATE publish_jobs\s+SET status = \$1,\s+error_message = \$2,\s+updated_at = NOW\(\)`).
		WithArgs(domain.JobStatusFailed, "enqueue failed", "sub-1", domain.JobStatusPending).
		WillReturnRows(jobRow("sub-1", rowOpts{status: domain.JobStatusFailed, errMsg: "enqueue failed"}))

	job, err := store.FailPending(context.Background(), "sub-1", "enqueue failed")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Zero(t, job.RetryCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetForRetry(t *testing.T) {
	tests := []struct {
		name      string
		updated   *sqlmock.Rows
		current   *sqlmock.Rows
		wantErr   error
		wantState bool
	}{
		{
			name:    "failed job reset",
			updated: jobRow("sub-1", rowOpts{status: domain.JobStatusPending, retryCount: 4}),
		},
		{
			name:      "not failed",
			updated:   sqlmock.NewRows(jobColumnNames),
			current:   jobRow("sub-1", rowOpts{status: domain.JobStatusProcessing}),
			wantState: true,
		},
		{
			name:    "unknown",
			updated: sqlmock.NewRows(jobColumnNames),
			current: sqlmock.NewRows(jobColumnNames),
			wantErr: domain.ErrJobNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockJobStore(t)

			mock.ExpectQuery(`UPDATE publish_jobs`).
				WithArgs(domain.JobStatusPending, "sub-1", domain.JobStatusFailed).
				WillReturnRows(tt.updated)
			if tt.current != nil {
				mock.ExpectQuery(`FROM publish_jobs WHERE submission_id`).WillReturnRows(tt.current)
			}

			job, err := store.ResetForRetry(context.Background(), "sub-1")
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.wantState:
				var stateErr *domain.InvalidStateError
				require.ErrorAs(t, err, &stateErr)
				assert.Equal(t, domain.JobStatusFailed, stateErr.Want)
			default:
				require.NoError(t, err)
				assert.Equal(t, domain.JobStatusPending, job.Status)
				assert.Equal(t, 4, job.RetryCount)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestList(t *testing.T) {
	store, mock := newMockJobStore(t)
	cursorAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`AND platform = \$1 AND status = \$2 AND \(created_at, submission_id\) < \(\$3, \$4\) ORDER BY created_at DESC, submission_id DESC LIMIT \$5`).
		WithArgs(domain.PlatformTikTok, domain.JobStatusFailed, cursorAt, "sub-9", 11).
		WillReturnRows(jobRow("sub-1", rowOpts{status: domain.JobStatusFailed}))

	jobs, err := store.List(context.Background(), JobFilter{
		Platform: domain.PlatformTikTok,
		Status:   domain.JobStatusFailed,
		PageSize: 10,
		Cursor:   &JobCursor{CreatedAt: cursorAt, SubmissionID: "sub-9"},
	})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}
