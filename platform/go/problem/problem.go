// Package problem classifies admission errors and renders them as RFC 7807 responses.
package problem

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

const (
	TypeValidation   = "https://tenantgate.dev/problems/validation-error"
	TypeNotFound     = "https://tenantgate.dev/problems/not-found"
	TypeConflict     = "https://tenantgate.dev/problems/conflict"
	TypeUnauthorized = "https://tenantgate.dev/problems/unauthorized"
	TypeRateLimited  = "https://tenantgate.dev/problems/rate-limited"
	TypeUnavailable  = "https://tenantgate.dev/problems/service-unavailable"
	TypeInternal     = "https://tenantgate.dev/problems/internal-error"
)

// Details is the problem+json body.
type Details struct {
	Type   string      `json:"type"`
	Title  string      `json:"title"`
	Status int         `json:"status"`
	Detail string      `json:"detail,omitempty"`
	Errors FieldErrors `json:"errors,omitempty"`
}

// From maps err onto a status code and body.
func From(err error) Details {
	var limited *RateLimitedError
	var invalid *ValidationError

	switch {
	case errors.As(err, &limited):
		return Details{Type: TypeRateLimited, Title: "Too many requests", Status: http.StatusTooManyRequests,
			Detail: "try again in " + strconv.Itoa(RetryAfterSeconds(limited)) + " seconds"}
	case errors.As(err, &invalid):
		return Details{Type: TypeValidation, Title: "Invalid request", Status: http.StatusUnprocessableEntity,
			Detail: invalid.Error(), Errors: invalid.Fields}
	case errors.Is(err, ErrValidation):
		return Details{Type: TypeValidation, Title: "Invalid request", Status: http.StatusUnprocessableEntity, Detail: err.Error()}
	case errors.Is(err, ErrNotFound):
		return Details{Type: TypeNotFound, Title: "Not found", Status: http.StatusNotFound}
	case errors.Is(err, ErrConflict):
		return Details{Type: TypeConflict, Title: "Conflict", Status: http.StatusConflict, Detail: err.Error()}
	case errors.Is(err, ErrUnauthorized):
		return Details{Type: TypeUnauthorized, Title: "Unauthorized", Status: http.StatusUnauthorized}
	case errors.Is(err, ErrServiceUnavailable):
		return Details{Type: TypeUnavailable, Title: "Service unavailable", Status: http.StatusServiceUnavailable}
	default:
		return Details{Type: TypeInternal, Title: "Internal error", Status: http.StatusInternalServerError, Detail: "internal error"}
	}
}

// Write renders err. Server-side failures are logged; client errors are not.
func Write(w http.ResponseWriter, logger *zap.Logger, err error) {
	d := From(err)
	if d.Status >= http.StatusInternalServerError && logger != nil {
		logger.Error("request failed", zap.Error(err), zap.Int("status", d.Status))
	}

	var limited *RateLimitedError
	if errors.As(err, &limited) {
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds(limited)))
	}
	WriteDetails(w, d)
}

// WriteDetails renders a prepared body.
func WriteDetails(w http.ResponseWriter, d Details) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(d.Status)
	_ = json.NewEncoder(w).Encode(d)
}

// RetryAfterSeconds rounds the wait up to whole seconds, never below one.
func RetryAfterSeconds(e *RateLimitedError) int {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
