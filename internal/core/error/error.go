package errx

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure by how the pipeline reacts to it.
type Kind int

const (
	// KindUnknown is any error that was not produced through this package.
	KindUnknown Kind = iota
	// KindCapture is a page rendering failure (network, timeout, browser crash). Retried.
	KindCapture
	// KindOracle is an inference request failure (transport, timeout). Retried.
	KindOracle
	// KindValidation means the oracle answered but the content is unusable. Never retried.
	KindValidation
	// KindPersistence means durable state could not be read or written. Fatal to the run.
	KindPersistence
	// KindRejected means the provider refused the request itself (bad key, bad model, bad input). Never retried.
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindCapture:
		return "capture"
	case KindOracle:
		return "oracle"
	case KindValidation:
		return "validation"
	case KindPersistence:
		return "persistence"
	case KindRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"

	CaptureErrorMessage     = "page capture failed"
	OracleErrorMessage      = "price extraction request failed"
	ValidationErrorMessage  = "oracle response rejected"
	PersistenceErrorMessage = "price history persistence failed"
	RejectedErrorMessage    = "price extraction request rejected"

	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"

	// PostgresErrorMessage describes Postgres related failures.
	PostgresErrorMessage = "postgres operation failed"
)

// Error wraps an underlying error with its kind, an HTTP status and a safe message.
type Error struct {
	Err     error
	Kind    Kind
	Status  int
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the target matches the underlying error.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// As allows casting to Error or the wrapped error in a chain.
func (e *Error) As(target any) bool {
	if t, ok := target.(**Error); ok {
		*t = e
		return true
	}
	return errors.As(e.Err, target)
}

// New creates a new Error with the provided information.
func New(err error, kind Kind, status int, message string) *Error {
	return &Error{
		Err:     err,
		Kind:    kind,
		Status:  status,
		Message: message,
	}
}

// Capture wraps a page rendering failure.
func Capture(err error) *Error {
	return New(err, KindCapture, http.StatusBadGateway, CaptureErrorMessage)
}

// Oracle wraps an inference request failure.
func Oracle(err error) *Error {
	return New(err, KindOracle, http.StatusBadGateway, OracleErrorMessage)
}

// Validation wraps a rejected oracle response.
func Validation(err error) *Error {
	return New(err, KindValidation, http.StatusUnprocessableEntity, ValidationErrorMessage)
}

// Persistence wraps a durable state failure.
func Persistence(err error) *Error {
	return New(err, KindPersistence, http.StatusInternalServerError, PersistenceErrorMessage)
}

// Rejected wraps a request the oracle provider will refuse however often it is sent.
func Rejected(err error) *Error {
	return New(err, KindRejected, http.StatusBadGateway, RejectedErrorMessage)
}

// KindOf returns the kind of the outermost *Error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsTransient reports whether err is worth another attempt.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindCapture, KindOracle:
		return true
	default:
		return false
	}
}

// IsPersistence reports whether err must abort the run.
func IsPersistence(err error) bool {
	return KindOf(err) == KindPersistence
}
