// Package apperr holds the error taxonomy shared by every service package.
// Packages wrap these sentinels with fmt.Errorf("%w: ...") and transports map
// them to status codes with Status.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInternal        = errors.New("internal error")
	// ErrRetryable marks a failure the caller may safely retry, such as a
	// metadata write that failed after the blob upload succeeded.
	ErrRetryable = errors.New("temporarily unavailable")
)

// Code returns the stable machine-readable code for err.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrUnauthenticated):
		return "UNAUTHENTICATED"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrRetryable):
		return "RETRYABLE"
	default:
		return "INTERNAL"
	}
}

// Status maps err to an HTTP status code. Unknown errors are 500.
func Status(err error) int {
	switch Code(err) {
	case "":
		return http.StatusOK
	case "VALIDATION_ERROR":
		return http.StatusBadRequest
	case "UNAUTHENTICATED":
		return http.StatusUnauthorized
	case "FORBIDDEN":
		return http.StatusForbidden
	case "NOT_FOUND":
		return http.StatusNotFound
	case "CONFLICT":
		return http.StatusConflict
	case "RETRYABLE":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsInternal reports whether err does not belong to any caller-facing kind.
func IsInternal(err error) bool {
	return err != nil && Code(err) == "INTERNAL"
}

// Public returns the message safe to show a caller. Internal errors are
// replaced with a generic message so store details never leak.
func Public(err error) string {
	if err == nil {
		return ""
	}
	if IsInternal(err) {
		return "internal error"
	}
	return err.Error()
}
