package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidPlatform is returned for platform names that have no adapter
	ErrInvalidPlatform = errors.New("invalid platform")

	// ErrValidation is returned when a submission is malformed
	ErrValidation = errors.New("validation failed")

	// ErrCredentialNotFound is returned when no credential is stored for an account
	ErrCredentialNotFound = errors.New("credential not found")
)

// InvalidStateError is returned when an operation is not allowed in the job's current status
type InvalidStateError struct {
	SubmissionID string
	Current      string
	Want         string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("job %s is not in %s status (current: %s)", e.SubmissionID, e.Want, e.Current)
}
