package worker

import "errors"

var (
	// ErrInvalidMessage is returned for deliveries whose body cannot be decoded
	ErrInvalidMessage = errors.New("invalid job message")

	// ErrAlreadyCompleted is returned for deliveries of a job that already published
	ErrAlreadyCompleted = errors.New("job already completed")

	// ErrStaleMessage is returned when the message's retry_count no longer matches the record
	ErrStaleMessage = errors.New("stale job message")

	// ErrAttemptInFlight is returned when another consumer holds the job in PROCESSING
	ErrAttemptInFlight = errors.New("job attempt already in progress")

	// ErrAttemptAbandoned is recorded when a redelivered job is found in PROCESSING
	ErrAttemptAbandoned = errors.New("attempt abandoned")

	// ErrMaxRetriesExceeded is returned when a retryable failure has no attempts left
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// RetryableError wraps failures that may succeed on a later attempt
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
