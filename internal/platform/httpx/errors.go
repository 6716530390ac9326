// Package httpx provides HTTP response utilities.
package httpx

import (
	"context"
	"errors"
	"net/http"
)

// StatusClientClosedRequest is reported when the caller went away before the
// operation finished.
const StatusClientClosedRequest = 499

// Sentinel errors for domain layer.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUnavailable  = errors.New("temporarily unavailable")
	ErrRateLimited  = errors.New("rate limit exceeded")
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicate):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, ErrRateLimited):
		w.Header().Set("Retry-After", "60")
		Problem(w, http.StatusTooManyRequests, "Too Many Requests", err.Error())
	case errors.Is(err, ErrUnavailable):
		w.Header().Set("Retry-After", "5")
		Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "authorization data is temporarily unavailable, retry later")
	case errors.Is(err, context.DeadlineExceeded):
		Problem(w, http.StatusGatewayTimeout, "Timeout", "request deadline exceeded")
	case errors.Is(err, context.Canceled):
		Problem(w, StatusClientClosedRequest, "Request Canceled", "")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
