package platform

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/cuongbtq/fanout-publisher/internal/domain"
)

// Kind classifies adapter failures
type Kind int

const (
	KindValidation Kind = iota + 1
	KindAuth
	KindTransient
	KindPlatform
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindTransient:
		return "transient"
	case KindPlatform:
		return "platform"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// ErrUnsupportedPlatform is returned when no adapter is registered for a platform
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// Error is a classified adapter failure
type Error struct {
	Kind       Kind
	Platform   domain.Platform
	Op         string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Platform, e.Op, e.Message)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s %s (%d): %s", e.Platform, e.Op, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, p domain.Platform, op, msg string, err error) *Error {
	return &Error{Kind: kind, Platform: p, Op: op, Message: msg, Err: err}
}

// Validation reports bad input. Never retried.
func Validation(p domain.Platform, op, msg string, err error) *Error {
	return newError(KindValidation, p, op, msg, err)
}

// Auth reports an invalid or expired credential
func Auth(p domain.Platform, op, msg string, err error) *Error {
	return newError(KindAuth, p, op, msg, err)
}

// Transient reports network failures, 5xx and 429 responses
func Transient(p domain.Platform, op, msg string, err error) *Error {
	return newError(KindTransient, p, op, msg, err)
}

// Rejected reports a business-rule rejection by the platform
func Rejected(p domain.Platform, op, msg string, err error) *Error {
	return newError(KindPlatform, p, op, msg, err)
}

// NotFound reports a status query for an unknown platform id
func NotFound(p domain.Platform, op, msg string) *Error {
	return newError(KindNotFound, p, op, msg, nil)
}

// FromHTTPStatus classifies an unexpected HTTP status code
func FromHTTPStatus(p domain.Platform, op string, status int, body string) *Error {
	var e *Error
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		e = Transient(p, op, body, nil)
	case status == http.StatusUnauthorized:
		e = Auth(p, op, body, nil)
	case status == http.StatusNotFound:
		e = NotFound(p, op, body)
	default:
		e = Rejected(p, op, body, nil)
	}
	e.StatusCode = status
	return e
}

// KindOf returns the Kind of a classified error, or 0 for unclassified errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsRetryable reports whether the orchestrator may retry the job after err.
// Unclassified errors come from outside adapters (network, blob store) and are retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnsupportedPlatform) {
		return false
	}
	switch KindOf(err) {
	case KindValidation, KindAuth, KindPlatform, KindNotFound:
		return false
	default:
		return true
	}
}
