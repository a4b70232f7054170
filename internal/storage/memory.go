package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuongbtq/fanout-publisher/internal/domain"
)

// MemoryJobStore is an in-process JobStore with the same transition rules as
// the PostgreSQL store. Used by tests and local runs.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
	now  func() time.Time
}

// NewMemoryJobStore creates an empty MemoryJobStore
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]*domain.Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryJobStore) CreateOrGetActive(ctx context.Context, job *domain.Job) (*domain.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing *domain.Job
	for _, j := range s.jobs {
		if j.VideoHash == job.VideoHash && j.Platform == job.Platform && j.IsActive() {
			if existing == nil || j.CreatedAt.After(existing.CreatedAt) {
				existing = j
			}
		}
	}
	if existing != nil {
		cp := *existing
		return &cp, false, nil
	}

	created := *job
	created.Status = domain.JobStatusPending
	created.RetryCount = 0
	created.CreatedAt = s.now()
	created.UpdatedAt = created.CreatedAt
	if created.Tags == nil {
		created.Tags = domain.Tags{}
	}
	s.jobs[created.SubmissionID] = &created

	cp := created
	return &cp, true, nil
}

func (s *MemoryJobStore) GetBySubmissionID(ctx context.Context, submissionID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[submissionID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// transition applies fn to the job when its status is one of from
func (s *MemoryJobStore) transition(submissionID string, from []string, fn func(j *domain.Job)) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[submissionID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}

	allowed := false
	for _, st := range from {
		if j.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, &domain.InvalidStateError{
			SubmissionID: submissionID,
			Current:      j.Status,
			Want:         strings.Join(from, "|"),
		}
	}

	fn(j)
	j.UpdatedAt = s.now()
	cp := *j
	return &cp, nil
}

func (s *MemoryJobStore) MarkProcessing(ctx context.Context, submissionID string) (*domain.Job, error) {
	return s.transition(submissionID, []string{domain.JobStatusPending}, func(j *domain.Job) {
		j.Status = domain.JobStatusProcessing
		j.ErrorMessage = nil
	})
}

func (s *MemoryJobStore) MarkCompleted(ctx context.Context, submissionID, platformJobID, publicURL string) (*domain.Job, error) {
	return s.transition(submissionID, []string{domain.JobStatusProcessing}, func(j *domain.Job) {
		now := s.now()
		j.Status = domain.JobStatusCompleted
		j.PlatformJobID = &platformJobID
		j.PublicURL = &publicURL
		j.ErrorMessage = nil
		j.PublishedAt = &now
	})
}

func (s *MemoryJobStore) MarkRetrying(ctx context.Context, submissionID, errorMessage string) (*domain.Job, error) {
	return s.transition(submissionID, []string{domain.JobStatusProcessing}, func(j *domain.Job) {
		j.Status = domain.JobStatusPending
		j.ErrorMessage = &errorMessage
		j.RetryCount++
	})
}

func (s *MemoryJobStore) MarkFailed(ctx context.Context, submissionID, errorMessage string) (*domain.Job, error) {
	return s.transition(submissionID, []string{domain.JobStatusProcessing}, func(j *domain.Job) {
		j.Status = domain.JobStatusFailed
		j.ErrorMessage = &errorMessage
		j.RetryCount++
	})
}

func (s *MemoryJobStore) FailPending(ctx context.Context, submissionID, errorMessage string) (*domain.Job, error) {
	return s.transition(submissionID, []string{domain.JobStatusPending}, func(j *domain.Job) {
		j.Status = domain.JobStatusFailed
		j.ErrorMessage = &errorMessage
	})
}

func (s *MemoryJobStore) ResetForRetry(ctx context.Context, submissionID string) (*domain.Job, error) {
	return s.transition(submissionID, []string{domain.JobStatusFailed}, func(j *domain.Job) {
		j.Status = domain.JobStatusPending
		j.ErrorMessage = nil
	})
}

func (s *MemoryJobStore) List(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Job
	for _, j := range s.jobs {
		if filter.VideoHash != "" && j.VideoHash != filter.VideoHash {
			continue
		}
		if filter.Platform != "" && j.Platform != filter.Platform {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if c := filter.Cursor; c != nil {
			if j.CreatedAt.After(c.CreatedAt) || (j.CreatedAt.Equal(c.CreatedAt) && j.SubmissionID >= c.SubmissionID) {
				continue
			}
		}
		out = append(out, *j)
	}

	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return out[a].SubmissionID > out[b].SubmissionID
	})

	if filter.PageSize > 0 && len(out) > filter.PageSize+1 {
		out = out[:filter.PageSize+1]
	}
	return out, nil
}
