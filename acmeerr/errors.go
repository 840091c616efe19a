// Package acmeerr defines the error taxonomy shared by the ACME client and
// the renewal orchestrator. Callers classify failures with Is rather than
// matching error strings.
package acmeerr

import (
	"errors"
	"fmt"
)

// ErrorType provides a coarse category for renewal errors.
type ErrorType int

const (
	// Protocol indicates a malformed or unexpected ACME server response.
	// Not retryable.
	Protocol ErrorType = iota
	// RateLimited indicates the server signaled throttling. Retryable with
	// backoff.
	RateLimited
	// ServerError indicates a 5xx response. Retryable with backoff.
	ServerError
	// Registration indicates the server rejected account creation.
	Registration
	// Timeout indicates a polling loop exceeded its deadline.
	Timeout
	// IssuanceFailed indicates the order reached the "invalid" status.
	IssuanceFailed
	// Finalization indicates the server rejected the CSR.
	Finalization
	// Download indicates the issued certificate could not be retrieved.
	Download
)

func (t ErrorType) String() string {
	switch t {
	case Protocol:
		return "protocol"
	case RateLimited:
		return "rateLimited"
	case ServerError:
		return "serverError"
	case Registration:
		return "registration"
	case Timeout:
		return "timeout"
	case IssuanceFailed:
		return "issuanceFailed"
	case Finalization:
		return "finalization"
	case Download:
		return "download"
	}
	return "unknown"
}

// Error is a typed renewal error.
type Error struct {
	Type   ErrorType
	Detail string
}

func (e *Error) Error() string {
	return e.Detail
}

// New creates a new Error of the given type.
func New(errType ErrorType, msg string, args ...any) error {
	return &Error{
		Type:   errType,
		Detail: fmt.Sprintf(msg, args...),
	}
}

// Is tests the internal type of an Error, unwrapping as needed. It returns
// false for errors with no *Error in their chain.
func Is(err error, errType ErrorType) bool {
	var aErr *Error
	if !errors.As(err, &aErr) {
		return false
	}
	return aErr.Type == errType
}

// Retryable reports whether the error may succeed on a retry after backoff.
func Retryable(err error) bool {
	return Is(err, RateLimited) || Is(err, ServerError)
}
